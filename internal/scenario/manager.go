package scenario

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trafficlab/greenwave/internal/events"
)

// Config holds the manager limits. Zero values fall back to defaults.
type Config struct {
	MaxConcurrent  int           // default 10
	Timeout        time.Duration // default 300s; age after which the reaper force-closes
	ReaperInterval time.Duration // default 30s
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = 30 * time.Second
	}
	return c
}

// Statistics is an aggregate snapshot of the manager.
type Statistics struct {
	TotalCreated   int           `json:"total_created"`
	TotalCompleted int           `json:"total_completed"`
	TotalFailed    int           `json:"total_failed"`
	TotalClosed    int           `json:"total_closed"`
	ActiveCount    int           `json:"active_count"`
	MaxConcurrent  int           `json:"max_concurrent"`
	Timeout        time.Duration `json:"timeout"`
	Totals         Metrics       `json:"totals"` // metrics folded in from closed scenarios
}

// Manager is the process-wide scenario coordinator. All mutating calls
// are serialized under one lock; a background reaper force-closes
// scenarios that outlive the timeout.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	active map[string]*scenario
	stats  Statistics

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now func() time.Time // injectable clock for tests
}

// NewManager creates a manager. Call Start to run the reaper and Stop
// to shut down; Stop force-closes anything still active.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:    cfg,
		active: make(map[string]*scenario),
		now:    time.Now,
	}
}

// Start begins the background reaper loop. A stopped manager may be
// started again.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	stopCh := make(chan struct{})
	m.stopCh = stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go m.reaperLoop(stopCh)
}

// Stop halts the reaper and force-closes all remaining scenarios.
// Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh := m.stopCh
	m.mu.Unlock()

	close(stopCh)
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.active {
		m.closeLocked(id, true)
	}
}

// CreateScenario registers a new scenario in CREATED state and returns
// its id. Fails with *CapacityExceededError at the concurrency limit.
func (m *Manager) CreateScenario(intersectionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.active) >= m.cfg.MaxConcurrent {
		return "", &CapacityExceededError{Limit: m.cfg.MaxConcurrent}
	}

	u := uuid.New()
	id := fmt.Sprintf("scenario_%s_%x", intersectionID, u[:4])

	m.active[id] = &scenario{
		id:             id,
		intersectionID: intersectionID,
		state:          StateCreated,
		createdAt:      m.now(),
		resources:      make(map[string]Resource),
	}
	m.stats.TotalCreated++

	events.Emit("info", "scenario.created", "", map[string]interface{}{
		"scenario_id":     id,
		"intersection_id": intersectionID,
	})

	return id, nil
}

// StartScenario transitions CREATED -> RUNNING.
func (m *Manager) StartScenario(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.active[id]
	if !ok {
		return &NotFoundError{ScenarioID: id}
	}
	if s.state != StateCreated {
		return m.invalidStateLocked(s, "start")
	}

	s.state = StateRunning
	s.startedAt = m.now()

	events.Emit("info", "scenario.started", "", map[string]interface{}{
		"scenario_id":     id,
		"intersection_id": s.intersectionID,
	})

	return nil
}

// AddResource attaches an owned resource to a scenario. Reattaching an
// existing name releases the prior handle first.
func (m *Manager) AddResource(id, name string, handle Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.active[id]
	if !ok {
		return &NotFoundError{ScenarioID: id}
	}
	if s.state != StateCreated && s.state != StateRunning {
		return m.invalidStateLocked(s, "attach resource to")
	}

	if prior, exists := s.resources[name]; exists {
		m.releaseLocked(s, name, prior)
	} else {
		s.resourceOrder = append(s.resourceOrder, name)
	}
	s.resources[name] = handle

	return nil
}

// UpdateProgress merges a metrics delta into a RUNNING scenario.
// Callable any number of times.
func (m *Manager) UpdateProgress(id string, delta Metrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.active[id]
	if !ok {
		return &NotFoundError{ScenarioID: id}
	}
	if s.state != StateRunning {
		return m.invalidStateLocked(s, "update progress of")
	}

	s.metrics.merge(delta)
	return nil
}

// CompleteScenario transitions RUNNING -> COMPLETED (success) or
// FAILED, recording the cause.
func (m *Manager) CompleteScenario(id string, success bool, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.active[id]
	if !ok {
		return &NotFoundError{ScenarioID: id}
	}
	if s.state != StateRunning {
		return m.invalidStateLocked(s, "complete")
	}

	s.completedAt = m.now()
	if success {
		s.state = StateCompleted
		m.stats.TotalCompleted++
		events.Emit("info", "scenario.completed", "", map[string]interface{}{
			"scenario_id":     id,
			"intersection_id": s.intersectionID,
			"duration_sec":    s.completedAt.Sub(s.startedAt).Seconds(),
		})
	} else {
		s.state = StateFailed
		s.err = cause
		m.stats.TotalFailed++
		fields := map[string]interface{}{
			"scenario_id":     id,
			"intersection_id": s.intersectionID,
		}
		if cause != nil {
			fields["error"] = cause.Error()
		}
		events.Emit("error", "scenario.failed", "", fields)
	}

	return nil
}

// CloseScenario transitions through CLEANUP to CLOSED, releasing every
// attached resource best-effort and removing the scenario from the
// active set. Closing an unknown or already-closed scenario is a
// no-op. Without force, only COMPLETED/FAILED scenarios may close;
// with force, any state closes, marked FAILED with a TimeoutError if
// it was still CREATED or RUNNING.
func (m *Manager) CloseScenario(id string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.active[id]
	if !ok {
		return nil // already closed (or never existed): idempotent no-op
	}

	if (s.state == StateCreated || s.state == StateRunning) && !force {
		return m.invalidStateLocked(s, "close")
	}

	m.closeLocked(id, force)
	return nil
}

// ScenarioStatus returns a snapshot of one scenario.
func (m *Manager) ScenarioStatus(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.active[id]
	if !ok {
		return Status{}, false
	}
	return s.snapshot(), true
}

// ActiveScenarios returns snapshots of every live scenario.
func (m *Manager) ActiveScenarios() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, s.snapshot())
	}
	return out
}

// Statistics returns the aggregate counters.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.ActiveCount = len(m.active)
	stats.MaxConcurrent = m.cfg.MaxConcurrent
	stats.Timeout = m.cfg.Timeout
	return stats
}

// invalidStateLocked builds the error for an illegal transition and
// force-closes the scenario: an out-of-order call means the owning
// worker has lost track of it, so the manager contains the damage.
func (m *Manager) invalidStateLocked(s *scenario, op string) error {
	err := &InvalidStateError{ScenarioID: s.id, State: s.state, Op: op}
	m.closeLocked(s.id, true)
	return err
}

// closeLocked runs CLEANUP -> CLOSED for a scenario. Caller holds the lock.
func (m *Manager) closeLocked(id string, force bool) {
	s, ok := m.active[id]
	if !ok || s.terminal() {
		return
	}

	if s.state == StateCreated || s.state == StateRunning {
		if !force {
			return
		}
		s.state = StateFailed
		s.completedAt = m.now()
		s.err = &TimeoutError{ScenarioID: id, Age: m.now().Sub(s.createdAt)}
		m.stats.TotalFailed++
		events.Emit("error", "scenario.failed", "forced close", map[string]interface{}{
			"scenario_id":     id,
			"intersection_id": s.intersectionID,
			"error":           s.err.Error(),
		})
	}

	s.state = StateCleanup
	for _, name := range s.resourceOrder {
		handle, ok := s.resources[name]
		if !ok {
			continue
		}
		m.releaseLocked(s, name, handle)
	}
	s.resources = make(map[string]Resource)
	s.resourceOrder = nil

	s.state = StateClosed
	m.stats.Totals.merge(s.metrics)
	m.stats.TotalClosed++
	delete(m.active, id)

	events.Emit("info", "scenario.closed", "", map[string]interface{}{
		"scenario_id":     id,
		"intersection_id": s.intersectionID,
		"forced":          force,
	})
}

// releaseLocked releases one resource handle. Failures are logged and
// swallowed; they never block releasing the rest.
func (m *Manager) releaseLocked(s *scenario, name string, handle Resource) {
	if handle == nil {
		return
	}
	if err := handle.Release(); err != nil {
		events.Emit("error", "scenario.resource_error", "resource release failed", map[string]interface{}{
			"scenario_id":     s.id,
			"intersection_id": s.intersectionID,
			"resource":        name,
			"error":           err.Error(),
		})
	}
}

func (m *Manager) reaperLoop(stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.reapExpired()
		}
	}
}

// reapExpired force-closes every scenario older than the timeout.
// This is what guarantees that no scenario stays non-terminal forever,
// even if its owning worker died.
func (m *Manager) reapExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expired []string
	for id, s := range m.active {
		if now.Sub(s.createdAt) > m.cfg.Timeout {
			expired = append(expired, id)
		}
	}

	for _, id := range expired {
		s := m.active[id]
		events.Emit("warning", "scenario.expired", "scenario exceeded timeout", map[string]interface{}{
			"scenario_id":     id,
			"intersection_id": s.intersectionID,
			"age_sec":         now.Sub(s.createdAt).Seconds(),
			"state":           string(s.state),
		})
		m.closeLocked(id, true)
	}
}
