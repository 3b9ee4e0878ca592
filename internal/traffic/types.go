// Package traffic defines the domain types shared by the optimizer,
// scenario manager and orchestrator, plus the narrow interfaces the
// core uses to talk to external collaborators.
package traffic

import (
	"context"
	"fmt"
)

// Direction is one of the four approaches to an intersection.
type Direction string

const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
)

// Directions lists all approaches in a stable order.
var Directions = []Direction{North, South, East, West}

// PhaseGroup is a pair of opposite directions that share a green interval.
type PhaseGroup string

const (
	NorthSouth PhaseGroup = "north_south"
	EastWest   PhaseGroup = "east_west"
)

// Weather describes the conditions a timing plan must account for.
type Weather string

const (
	WeatherNormal Weather = "normal"
	WeatherRain   Weather = "rain"
	WeatherFog    Weather = "fog"
	WeatherSnow   Weather = "snow"
)

// VehicleCounts is a snapshot of detected vehicles per approach.
// Classes optionally breaks a direction total down by vehicle class;
// when present for a direction it must sum to that direction's count.
type VehicleCounts struct {
	Counts    map[Direction]int            `json:"counts"`
	Classes   map[Direction]map[string]int `json:"classes,omitempty"`
	Emergency map[Direction]bool           `json:"emergency,omitempty"`
}

// NorthSouthTotal returns the combined demand on the north-south axis.
func (v VehicleCounts) NorthSouthTotal() int {
	return v.Counts[North] + v.Counts[South]
}

// EastWestTotal returns the combined demand on the east-west axis.
func (v VehicleCounts) EastWestTotal() int {
	return v.Counts[East] + v.Counts[West]
}

// Total returns the combined demand across all approaches.
func (v VehicleCounts) Total() int {
	return v.NorthSouthTotal() + v.EastWestTotal()
}

// HasEmergency reports whether any approach has an emergency vehicle.
func (v VehicleCounts) HasEmergency() bool {
	for _, flagged := range v.Emergency {
		if flagged {
			return true
		}
	}
	return false
}

// EmergencyGroup returns the phase group that should receive emergency
// priority. If no approach is flagged, the heavier-demand axis is
// returned so an aggregate emergency signal still resolves to a group.
func (v VehicleCounts) EmergencyGroup() PhaseGroup {
	if v.Emergency[North] || v.Emergency[South] {
		return NorthSouth
	}
	if v.Emergency[East] || v.Emergency[West] {
		return EastWest
	}
	if v.EastWestTotal() > v.NorthSouthTotal() {
		return EastWest
	}
	return NorthSouth
}

// Validate rejects malformed count snapshots before they reach the
// optimizer. Unknown directions, negative counts and class breakdowns
// that do not sum to their direction total are all InvalidInputError.
func (v VehicleCounts) Validate() error {
	known := map[Direction]bool{North: true, South: true, East: true, West: true}

	for dir, n := range v.Counts {
		if !known[dir] {
			return &InvalidInputError{Reason: fmt.Sprintf("unknown direction %q", dir)}
		}
		if n < 0 {
			return &InvalidInputError{Reason: fmt.Sprintf("negative count %d for %s", n, dir)}
		}
	}

	for dir, classes := range v.Classes {
		if !known[dir] {
			return &InvalidInputError{Reason: fmt.Sprintf("class breakdown for unknown direction %q", dir)}
		}
		sum := 0
		for class, n := range classes {
			if n < 0 {
				return &InvalidInputError{Reason: fmt.Sprintf("negative count %d for class %s/%s", n, dir, class)}
			}
			sum += n
		}
		if sum != v.Counts[dir] {
			return &InvalidInputError{Reason: fmt.Sprintf(
				"class breakdown for %s sums to %d, direction total is %d", dir, sum, v.Counts[dir])}
		}
	}

	return nil
}

// TimingContext carries the conditions the optimizer folds into a plan
// beyond the raw counts.
type TimingContext struct {
	EmergencyPresent  bool    `json:"emergency_present"`
	Weather           Weather `json:"weather"`
	HistoricalRatioNS float64 `json:"historical_ratio_ns"` // baseline NS share from time-of-day pattern, in [0,1]
}

// PhaseTiming is the green/yellow interval pair for one phase group.
type PhaseTiming struct {
	GreenSeconds  int `json:"green_seconds"`
	YellowSeconds int `json:"yellow_seconds"`
}

// PhasePlan is a full two-group timing plan for one intersection.
type PhasePlan struct {
	NorthSouth PhaseTiming `json:"north_south"`
	EastWest   PhaseTiming `json:"east_west"`
}

// CycleLength returns the total cycle time in seconds.
func (p PhasePlan) CycleLength() int {
	return p.NorthSouth.GreenSeconds + p.NorthSouth.YellowSeconds +
		p.EastWest.GreenSeconds + p.EastWest.YellowSeconds
}

// OptimizationResult is a plan plus the optimizer's self-assessment.
// Reasoning names the counts, ratios and rules that shaped the plan;
// it is part of the contract, not optional logging.
type OptimizationResult struct {
	Plan            PhasePlan `json:"plan"`
	EfficiencyScore float64   `json:"efficiency_score"` // always in [0.95, 1.0]
	Confidence      float64   `json:"confidence"`       // in [0, 1]
	Reasoning       string    `json:"reasoning"`
}

// CycleMetrics summarizes one completed optimization cycle for the
// telemetry sink.
type CycleMetrics struct {
	VehiclesProcessed int `json:"vehicles_processed"`
	PredictionsMade   int `json:"predictions_made"`
	LightChanges      int `json:"light_changes"`
}

// CountProvider supplies vehicle counts for an intersection. The core
// is agnostic to whether this is a live detector or a simulator.
type CountProvider interface {
	FetchCounts(ctx context.Context, intersectionID string) (VehicleCounts, error)
}

// LightSink applies a timing plan to an intersection's signals.
type LightSink interface {
	Apply(ctx context.Context, intersectionID string, plan PhasePlan) error
}

// TelemetrySink receives the outcome of each cycle. Calls are
// fire-and-forget: the core never waits on or retries them.
type TelemetrySink interface {
	Record(intersectionID string, result OptimizationResult, metrics CycleMetrics)
}
