package sim

import (
	"context"
	"testing"
	"time"

	"github.com/trafficlab/greenwave/internal/traffic"
)

// rushHour is a Monday 08:00, inside the morning rush window.
var rushHour = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestGeneratorProducesValidCounts(t *testing.T) {
	g := NewGenerator(7)
	g.now = func() time.Time { return rushHour }

	for i := 0; i < 100; i++ {
		counts, err := g.FetchCounts(context.Background(), "junction_a")
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if err := counts.Validate(); err != nil {
			t.Fatalf("fetch %d produced invalid counts: %v", i, err)
		}
		if total := counts.Total(); total < 20 || total > 60 {
			t.Errorf("fetch %d: rush-hour total %d out of range", i, total)
		}
	}
}

func TestGeneratorDeterministic(t *testing.T) {
	a := NewGenerator(42)
	b := NewGenerator(42)
	a.now = func() time.Time { return rushHour }
	b.now = func() time.Time { return rushHour }

	for i := 0; i < 20; i++ {
		ca, _ := a.FetchCounts(context.Background(), "x")
		cb, _ := b.FetchCounts(context.Background(), "x")
		for _, dir := range traffic.Directions {
			if ca.Counts[dir] != cb.Counts[dir] {
				t.Fatalf("fetch %d: same seed diverged at %s: %d vs %d",
					i, dir, ca.Counts[dir], cb.Counts[dir])
			}
		}
	}
}

func TestGeneratorHonorsContext(t *testing.T) {
	g := NewGenerator(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.FetchCounts(ctx, "x"); err == nil {
		t.Fatal("expected canceled context to fail the fetch")
	}
}

func TestGeneratorWeather(t *testing.T) {
	g := NewGenerator(1)

	if w := g.Weather(); w != traffic.WeatherNormal {
		t.Errorf("expected normal weather by default, got %s", w)
	}
	g.SetWeather(traffic.WeatherSnow)
	if w := g.Weather(); w != traffic.WeatherSnow {
		t.Errorf("expected snow, got %s", w)
	}
}

func TestLightBoardTracksPlans(t *testing.T) {
	b := NewLightBoard()

	plan := traffic.PhasePlan{
		NorthSouth: traffic.PhaseTiming{GreenSeconds: 40, YellowSeconds: 3},
		EastWest:   traffic.PhaseTiming{GreenSeconds: 20, YellowSeconds: 3},
	}

	if err := b.Apply(context.Background(), "junction_a", plan); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if err := b.Apply(context.Background(), "junction_a", plan); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}

	st, ok := b.State("junction_a")
	if !ok {
		t.Fatal("expected state for junction_a")
	}
	if st.ChangeCount != 2 {
		t.Errorf("expected 2 changes, got %d", st.ChangeCount)
	}
	if st.Plan != plan {
		t.Errorf("unexpected stored plan: %+v", st.Plan)
	}

	if _, ok := b.State("unknown"); ok {
		t.Error("expected no state for unknown intersection")
	}
}

func TestLightBoardCurrentGreen(t *testing.T) {
	b := NewLightBoard()

	applied := time.Now()
	b.now = func() time.Time { return applied }

	plan := traffic.PhasePlan{
		NorthSouth: traffic.PhaseTiming{GreenSeconds: 40, YellowSeconds: 3},
		EastWest:   traffic.PhaseTiming{GreenSeconds: 20, YellowSeconds: 3},
	}
	if err := b.Apply(context.Background(), "junction_a", plan); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	// Just after apply: NS phase, full window remaining.
	group, remaining, ok := b.CurrentGreen("junction_a")
	if !ok || group != traffic.NorthSouth || remaining != 43 {
		t.Errorf("expected NS with 43s, got %s %ds (ok=%v)", group, remaining, ok)
	}

	// 50s in: past the 43s NS window, into EW.
	b.now = func() time.Time { return applied.Add(50 * time.Second) }
	group, remaining, ok = b.CurrentGreen("junction_a")
	if !ok || group != traffic.EastWest || remaining != 16 {
		t.Errorf("expected EW with 16s, got %s %ds (ok=%v)", group, remaining, ok)
	}

	// A full cycle later the board is back at the NS phase.
	b.now = func() time.Time { return applied.Add(66 * time.Second) }
	group, _, ok = b.CurrentGreen("junction_a")
	if !ok || group != traffic.NorthSouth {
		t.Errorf("expected NS after wraparound, got %s", group)
	}

	if _, _, ok := b.CurrentGreen("unknown"); ok {
		t.Error("expected no phase for unknown intersection")
	}
}
