package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// scenario lifecycle
	"scenario.created":        {},
	"scenario.started":        {},
	"scenario.completed":      {},
	"scenario.failed":         {},
	"scenario.closed":         {},
	"scenario.expired":        {},
	"scenario.resource_error": {},

	// optimizer
	"optimizer.plan":     {},
	"optimizer.rejected": {},

	// detector
	"detector.counts": {},
	"detector.error":  {},

	// lights
	"lights.applied": {},
	"lights.error":   {},

	// telemetry
	"telemetry.error":   {},
	"telemetry.history": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
