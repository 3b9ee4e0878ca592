// Package orchestrator drives one intersection through repeated
// optimization cycles. Each tick becomes a scenario: fetch counts,
// optimize, apply the plan, record telemetry, close. A failed cycle is
// contained to its own scenario; the loop always reaches the next tick.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trafficlab/greenwave/internal/events"
	"github.com/trafficlab/greenwave/internal/optimizer"
	"github.com/trafficlab/greenwave/internal/scenario"
	"github.com/trafficlab/greenwave/internal/traffic"
)

// Config holds the per-intersection loop settings.
type Config struct {
	TickInterval time.Duration // default 2s
	CallTimeout  time.Duration // bound on each collaborator call, default 2s
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 2 * time.Second
	}
	return c
}

// Orchestrator runs the cycle loop for a single intersection. All
// orchestrators in a process share one scenario manager.
type Orchestrator struct {
	intersectionID string
	cfg            Config
	manager        *scenario.Manager
	opt            optimizer.Optimizer
	provider       traffic.CountProvider
	lights         traffic.LightSink
	telemetry      traffic.TelemetrySink // optional

	weather func() traffic.Weather
	now     func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates an orchestrator. telemetry may be nil.
func New(intersectionID string, cfg Config, manager *scenario.Manager, opt optimizer.Optimizer,
	provider traffic.CountProvider, lights traffic.LightSink, telemetry traffic.TelemetrySink) *Orchestrator {
	return &Orchestrator{
		intersectionID: intersectionID,
		cfg:            cfg.withDefaults(),
		manager:        manager,
		opt:            opt,
		provider:       provider,
		lights:         lights,
		telemetry:      telemetry,
		weather:        func() traffic.Weather { return traffic.WeatherNormal },
		now:            time.Now,
	}
}

// SetWeatherSource overrides the weather input for the timing context.
func (o *Orchestrator) SetWeatherSource(fn func() traffic.Weather) {
	if fn != nil {
		o.weather = fn
	}
}

// Start launches the tick loop on its own goroutine.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.mu.Unlock()

	o.wg.Add(1)
	go o.loop()
}

// Stop halts the tick loop and waits for the in-flight cycle to
// finish. Safe to call more than once.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	stopCh := o.stopCh
	o.mu.Unlock()

	close(stopCh)
	o.wg.Wait()
}

func (o *Orchestrator) loop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			// Errors are already attributed to their scenario and
			// emitted; the loop itself never stops on them.
			o.RunCycle()
		}
	}
}

// RunCycle executes one full optimization cycle as a scenario. A
// CapacityExceededError skips the tick; any other failure marks the
// scenario FAILED and force-closes it.
func (o *Orchestrator) RunCycle() error {
	id, err := o.manager.CreateScenario(o.intersectionID)
	if err != nil {
		events.Emit("warning", "system.error", "tick skipped", map[string]interface{}{
			"intersection_id": o.intersectionID,
			"error":           err.Error(),
		})
		return err
	}

	if err := o.manager.StartScenario(id); err != nil {
		return err
	}

	if err := o.runScenario(id); err != nil {
		o.manager.CompleteScenario(id, false, err)
		o.manager.CloseScenario(id, true)
		return err
	}

	if err := o.manager.CompleteScenario(id, true, nil); err != nil {
		return err
	}
	return o.manager.CloseScenario(id, false)
}

func (o *Orchestrator) runScenario(id string) error {
	counts, err := o.fetchCounts()
	if err != nil {
		events.Emit("error", "detector.error", "count fetch failed", map[string]interface{}{
			"intersection_id": o.intersectionID,
			"scenario_id":     id,
			"error":           err.Error(),
		})
		return err
	}

	tc := traffic.TimingContext{
		EmergencyPresent:  counts.HasEmergency(),
		Weather:           o.weather(),
		HistoricalRatioNS: optimizer.HistoricalRatioNS(o.now()),
	}

	result, err := o.opt.Optimize(counts, tc)
	if err != nil {
		events.Emit("error", "optimizer.rejected", "", map[string]interface{}{
			"intersection_id": o.intersectionID,
			"scenario_id":     id,
			"error":           err.Error(),
		})
		return fmt.Errorf("optimize %s: %w", o.intersectionID, err)
	}

	events.Emit("info", "optimizer.plan", "", map[string]interface{}{
		"intersection_id": o.intersectionID,
		"scenario_id":     id,
		"ns_green":        result.Plan.NorthSouth.GreenSeconds,
		"ew_green":        result.Plan.EastWest.GreenSeconds,
		"cycle_seconds":   result.Plan.CycleLength(),
		"efficiency":      result.EfficiencyScore,
		"reasoning":       result.Reasoning,
	})

	if err := o.manager.AddResource(id, "optimization_result", planResource{}); err != nil {
		return err
	}
	if err := o.manager.UpdateProgress(id, scenario.Metrics{
		VehiclesProcessed: counts.Total(),
		PredictionsMade:   1,
	}); err != nil {
		return err
	}

	if err := o.applyPlan(result.Plan); err != nil {
		events.Emit("error", "lights.error", "plan apply failed", map[string]interface{}{
			"intersection_id": o.intersectionID,
			"scenario_id":     id,
			"error":           err.Error(),
		})
		return err
	}
	if err := o.manager.UpdateProgress(id, scenario.Metrics{LightChanges: 1}); err != nil {
		return err
	}

	events.Emit("info", "lights.applied", "", map[string]interface{}{
		"intersection_id": o.intersectionID,
		"scenario_id":     id,
		"cycle_seconds":   result.Plan.CycleLength(),
	})

	if o.telemetry != nil {
		metrics := traffic.CycleMetrics{
			VehiclesProcessed: counts.Total(),
			PredictionsMade:   1,
			LightChanges:      1,
		}
		// Fire-and-forget: the cycle never waits on telemetry.
		go o.telemetry.Record(o.intersectionID, result, metrics)
	}

	return nil
}

func (o *Orchestrator) fetchCounts() (traffic.VehicleCounts, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CallTimeout)
	defer cancel()

	counts, err := o.provider.FetchCounts(ctx, o.intersectionID)
	if err != nil {
		return traffic.VehicleCounts{}, &traffic.CollaboratorError{
			Collaborator:   "detector",
			IntersectionID: o.intersectionID,
			Err:            err,
		}
	}
	return counts, nil
}

func (o *Orchestrator) applyPlan(plan traffic.PhasePlan) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CallTimeout)
	defer cancel()

	if err := o.lights.Apply(ctx, o.intersectionID, plan); err != nil {
		return &traffic.CollaboratorError{
			Collaborator:   "lights",
			IntersectionID: o.intersectionID,
			Err:            err,
		}
	}
	return nil
}

// planResource marks the optimization result as a scenario-owned
// resource. The result itself is plain data; releasing it is a no-op,
// but attaching it keeps ownership visible in scenario status.
type planResource struct{}

func (planResource) Release() error { return nil }
