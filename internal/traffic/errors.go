package traffic

import "fmt"

// InvalidInputError indicates a count snapshot was rejected at the
// boundary before optimization.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid vehicle counts: " + e.Reason
}

// CollaboratorError wraps a failure from an external collaborator
// (detector fetch or light-control apply). It fails the current cycle
// only; the orchestrator moves on to the next tick.
type CollaboratorError struct {
	Collaborator   string // "detector" or "lights"
	IntersectionID string
	Err            error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s collaborator failed for %s: %v", e.Collaborator, e.IntersectionID, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
