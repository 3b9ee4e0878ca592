// Package sim provides a broker-less stand-in for the detection and
// light-control collaborators: a traffic generator shaped by time of
// day and a light board that tracks applied plans. Used by tests and
// by the daemon when MQTT is disabled.
package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/trafficlab/greenwave/internal/optimizer"
	"github.com/trafficlab/greenwave/internal/traffic"
)

// Generator produces synthetic vehicle counts. Volumes follow the
// time-of-day pattern (rush hours are busy, nights are quiet) and the
// busy axis follows the pattern's NS share.
type Generator struct {
	mu            sync.Mutex
	rng           *rand.Rand
	weather       traffic.Weather
	emergencyRate float64 // probability per fetch of an emergency vehicle

	now func() time.Time
}

// NewGenerator creates a generator from a seed, so simulations are
// reproducible.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng:           rand.New(rand.NewSource(seed)),
		weather:       traffic.WeatherNormal,
		emergencyRate: 0.02,
		now:           time.Now,
	}
}

// SetWeather sets the simulated weather condition.
func (g *Generator) SetWeather(w traffic.Weather) {
	g.mu.Lock()
	g.weather = w
	g.mu.Unlock()
}

// Weather returns the current simulated weather.
func (g *Generator) Weather() traffic.Weather {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.weather
}

// FetchCounts implements traffic.CountProvider.
func (g *Generator) FetchCounts(ctx context.Context, intersectionID string) (traffic.VehicleCounts, error) {
	if err := ctx.Err(); err != nil {
		return traffic.VehicleCounts{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	pattern := optimizer.CurrentPattern(g.now())
	volume := g.baseVolume(pattern)
	ratioNS := pattern.RatioNS()

	nsTotal := int(float64(volume) * ratioNS)
	ewTotal := volume - nsTotal

	counts := traffic.VehicleCounts{
		Counts: map[traffic.Direction]int{
			traffic.North: g.split(nsTotal),
			traffic.East:  g.split(ewTotal),
		},
	}
	counts.Counts[traffic.South] = nsTotal - counts.Counts[traffic.North]
	counts.Counts[traffic.West] = ewTotal - counts.Counts[traffic.East]

	if g.rng.Float64() < g.emergencyRate {
		dir := traffic.Directions[g.rng.Intn(len(traffic.Directions))]
		counts.Emergency = map[traffic.Direction]bool{dir: true}
	}

	return counts, nil
}

// baseVolume draws a total vehicle count appropriate for the pattern.
func (g *Generator) baseVolume(p optimizer.Pattern) int {
	var lo, hi int
	switch p {
	case optimizer.PatternMorningRush, optimizer.PatternEveningRush:
		lo, hi = 20, 60
	case optimizer.PatternNight:
		lo, hi = 0, 8
	case optimizer.PatternWeekend:
		lo, hi = 5, 25
	default:
		lo, hi = 8, 30
	}
	return lo + g.rng.Intn(hi-lo+1)
}

// split distributes an axis total between its two approaches.
func (g *Generator) split(axisTotal int) int {
	if axisTotal == 0 {
		return 0
	}
	return g.rng.Intn(axisTotal + 1)
}

// PhaseState is a light board's view of one intersection.
type PhaseState struct {
	Plan         traffic.PhasePlan `json:"plan"`
	AppliedAt    time.Time         `json:"applied_at"`
	ChangeCount  int               `json:"change_count"`
	Intersection string            `json:"intersection_id"`
}

// LightBoard implements traffic.LightSink in memory. It records the
// last applied plan per intersection and derives the current phase
// from elapsed time, mimicking a hardware controller cycling through
// green and yellow intervals.
type LightBoard struct {
	mu    sync.RWMutex
	state map[string]*PhaseState

	now func() time.Time
}

// NewLightBoard creates an empty light board.
func NewLightBoard() *LightBoard {
	return &LightBoard{
		state: make(map[string]*PhaseState),
		now:   time.Now,
	}
}

// Apply implements traffic.LightSink.
func (b *LightBoard) Apply(ctx context.Context, intersectionID string, plan traffic.PhasePlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.state[intersectionID]
	if !ok {
		st = &PhaseState{Intersection: intersectionID}
		b.state[intersectionID] = st
	}
	st.Plan = plan
	st.AppliedAt = b.now()
	st.ChangeCount++
	return nil
}

// State returns the recorded phase state for an intersection.
func (b *LightBoard) State(intersectionID string) (PhaseState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.state[intersectionID]
	if !ok {
		return PhaseState{}, false
	}
	return *st, true
}

// CurrentGreen returns which phase group holds the green right now and
// how many seconds remain before the next change, derived from the
// applied plan. The NS group leads each cycle.
func (b *LightBoard) CurrentGreen(intersectionID string) (traffic.PhaseGroup, int, bool) {
	b.mu.RLock()
	st, ok := b.state[intersectionID]
	if !ok {
		b.mu.RUnlock()
		return "", 0, false
	}
	plan := st.Plan
	appliedAt := st.AppliedAt
	b.mu.RUnlock()

	cycle := plan.CycleLength()
	if cycle == 0 {
		return "", 0, false
	}

	offset := int(b.now().Sub(appliedAt).Seconds()) % cycle
	nsWindow := plan.NorthSouth.GreenSeconds + plan.NorthSouth.YellowSeconds
	if offset < nsWindow {
		return traffic.NorthSouth, nsWindow - offset, true
	}
	return traffic.EastWest, cycle - offset, true
}
