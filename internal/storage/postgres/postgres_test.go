package postgres

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/trafficlab/greenwave/internal/traffic"
)

// testClient connects to the database named by the PG* environment
// variables, skipping when none is configured.
func testClient(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("PGHOST") == "" {
		t.Skip("PGHOST not set, skipping postgres round-trip")
	}
	c, err := New()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCycleRoundTrip(t *testing.T) {
	c := testClient(t)

	id := fmt.Sprintf("rt_%d", time.Now().UnixNano())
	result := traffic.OptimizationResult{
		Plan: traffic.PhasePlan{
			NorthSouth: traffic.PhaseTiming{GreenSeconds: 90, YellowSeconds: 3},
			EastWest:   traffic.PhaseTiming{GreenSeconds: 36, YellowSeconds: 3},
		},
		EfficiencyScore: 1.0,
		Confidence:      0.95,
		Reasoning:       "round trip",
	}
	metrics := traffic.CycleMetrics{VehiclesProcessed: 40, PredictionsMade: 1, LightChanges: 1}

	if err := c.AppendCycle(time.Now().UTC(), id, result, metrics); err != nil {
		t.Fatalf("append cycle: %v", err)
	}

	cycles, err := c.QueryCycles(id, 10)
	if err != nil {
		t.Fatalf("query cycles: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("expected one cycle for %s, got %d", id, len(cycles))
	}

	got := cycles[0]
	if got.NSGreen != 90 || got.EWGreen != 36 || got.CycleSeconds != 132 {
		t.Errorf("unexpected plan columns: %+v", got)
	}
	if got.Efficiency != 1.0 || got.Vehicles != 40 {
		t.Errorf("unexpected telemetry columns: %+v", got)
	}
	if got.Reasoning != "round trip" {
		t.Errorf("unexpected reasoning: %q", got.Reasoning)
	}

	// An empty intersection id matches across intersections.
	all, err := c.QueryCycles("", 1)
	if err != nil {
		t.Fatalf("query all cycles: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected the limit to apply, got %d rows", len(all))
	}
}

func TestEventRoundTrip(t *testing.T) {
	c := testClient(t)

	marker := fmt.Sprintf("marker_%d", time.Now().UnixNano())
	fields := map[string]interface{}{
		"marker":          marker,
		"intersection_id": "rt_events",
	}
	if err := c.AppendEvent(time.Now().UTC(), "info", "system.startup", "round trip", fields, "rt_events"); err != nil {
		t.Fatalf("append event: %v", err)
	}

	rows, err := c.QueryEvents(200)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}

	var found *EventRow
	for i := range rows {
		if rows[i].Fields["marker"] == marker {
			found = &rows[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("appended event not returned within the last %d rows", len(rows))
	}
	if found.Event != "system.startup" || found.Level != "info" {
		t.Errorf("unexpected row: %+v", found)
	}
	if found.IntersectionID == nil || *found.IntersectionID != "rt_events" {
		t.Errorf("intersection id not persisted: %+v", found.IntersectionID)
	}
	if found.Message == nil || *found.Message != "round trip" {
		t.Errorf("message not persisted: %+v", found.Message)
	}
}
