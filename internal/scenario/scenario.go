// Package scenario tracks each optimization-and-control cycle as a
// bounded, resource-owning unit of work. A Manager owns the set of
// live scenarios, enforces the concurrency limit and runs the reaper
// that guarantees no scenario outlives its timeout.
package scenario

import "time"

// State is a scenario's position in its lifecycle.
// CREATED -> RUNNING -> {COMPLETED | FAILED} -> CLEANUP -> CLOSED.
// CLOSED is terminal.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCleanup   State = "cleanup"
	StateClosed    State = "closed"
)

// Metrics counts the work done inside one scenario. Updates are
// deltas; the manager merges them and folds the totals into its
// aggregate counters at close.
type Metrics struct {
	VehiclesProcessed int `json:"vehicles_processed"`
	PredictionsMade   int `json:"predictions_made"`
	LightChanges      int `json:"light_changes"`
}

func (m *Metrics) merge(delta Metrics) {
	m.VehiclesProcessed += delta.VehiclesProcessed
	m.PredictionsMade += delta.PredictionsMade
	m.LightChanges += delta.LightChanges
}

// Resource is a handle owned by a scenario until release.
type Resource interface {
	Release() error
}

// ResourceFunc adapts a function to the Resource interface.
type ResourceFunc func() error

func (f ResourceFunc) Release() error { return f() }

// scenario is the manager-internal record. All access goes through the
// manager's lock; nothing outside this package ever holds a pointer.
type scenario struct {
	id             string
	intersectionID string
	state          State
	createdAt      time.Time
	startedAt      time.Time
	completedAt    time.Time
	resources      map[string]Resource
	resourceOrder  []string
	metrics        Metrics
	err            error
}

// Status is a read-only snapshot of one scenario.
type Status struct {
	ID             string    `json:"id"`
	IntersectionID string    `json:"intersection_id"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	CompletedAt    time.Time `json:"completed_at,omitzero"`
	Resources      []string  `json:"resources,omitempty"`
	Metrics        Metrics   `json:"metrics"`
	Err            string    `json:"error,omitempty"`
}

func (s *scenario) snapshot() Status {
	st := Status{
		ID:             s.id,
		IntersectionID: s.intersectionID,
		State:          s.state,
		CreatedAt:      s.createdAt,
		StartedAt:      s.startedAt,
		CompletedAt:    s.completedAt,
		Resources:      append([]string{}, s.resourceOrder...),
		Metrics:        s.metrics,
	}
	if s.err != nil {
		st.Err = s.err.Error()
	}
	return st
}

// terminal reports whether the scenario has reached its final state.
func (s *scenario) terminal() bool {
	return s.state == StateClosed
}
