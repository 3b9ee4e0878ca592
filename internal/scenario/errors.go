package scenario

import (
	"fmt"
	"time"
)

// CapacityExceededError indicates the manager is at its concurrency
// limit. It is recoverable: the caller skips the current tick.
type CapacityExceededError struct {
	Limit int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("scenario capacity exceeded: %d active", e.Limit)
}

// InvalidStateError indicates an operation was attempted against a
// scenario in the wrong state. It signals a caller bug; the manager
// force-closes the scenario as a containment measure.
type InvalidStateError struct {
	ScenarioID string
	State      State
	Op         string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("scenario %s: cannot %s from state %s", e.ScenarioID, e.Op, e.State)
}

// TimeoutError marks a scenario that exceeded the manager timeout and
// was reaped. It is recorded on the scenario, never raised to the
// orchestrator.
type TimeoutError struct {
	ScenarioID string
	Age        time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("scenario %s timed out after %s", e.ScenarioID, e.Age)
}

// NotFoundError indicates an operation referenced a scenario id the
// manager does not track.
type NotFoundError struct {
	ScenarioID string
}

func (e *NotFoundError) Error() string {
	return "scenario not found: " + e.ScenarioID
}
