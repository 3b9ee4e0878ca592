// Package events is the structured event log for the engine. Every
// emitted event carries a validated name, a level and free-form
// fields; events land in an in-memory ring buffer and, when a storage
// client is wired, in Postgres.
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/trafficlab/greenwave/internal/storage/postgres"
)

var buffer = NewRingBuffer(256)

var (
	pgClient      *postgres.Client
	pgMu          sync.RWMutex
	pgErrorLogged bool

	stdoutMu      sync.Mutex
	stdoutEnabled bool
)

// SetPostgresClient sets the Postgres client for event persistence.
func SetPostgresClient(client *postgres.Client) {
	pgMu.Lock()
	pgClient = client
	pgMu.Unlock()
}

// EnableStdout mirrors every emitted event to stdout as a JSON line.
// Used by the daemon; tests leave it off.
func EnableStdout(enabled bool) {
	stdoutMu.Lock()
	stdoutEnabled = enabled
	stdoutMu.Unlock()
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)

	// Persist to Postgres (non-blocking, error-resistant)
	pgMu.RLock()
	client := pgClient
	errorLogged := pgErrorLogged
	pgMu.RUnlock()

	if client != nil {
		if err := client.AppendEvent(ts, level, name, msg, fields, intersectionField(fields)); err != nil {
			// Log error once to avoid spam.
			// IMPORTANT: We add directly to buffer.Add() here, NOT Emit(),
			// to avoid infinite recursion if Postgres keeps failing.
			if !errorLogged {
				pgMu.Lock()
				if !pgErrorLogged {
					pgErrorLogged = true
					pgMu.Unlock()
					errEvent := Event{
						Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
						Level:     "error",
						Name:      "system.error",
						Message:   "postgres append failed",
						Fields: map[string]interface{}{
							"error": err.Error(),
						},
					}
					buffer.Add(errEvent) // Direct add, no recursion
				} else {
					pgMu.Unlock()
				}
			}
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	stdoutMu.Lock()
	if stdoutEnabled {
		fmt.Fprintln(os.Stdout, string(b))
	}
	stdoutMu.Unlock()

	return b, nil
}

// intersectionField pulls the intersection id out of the fields so the
// storage layer can index on it.
func intersectionField(fields map[string]interface{}) string {
	if fields == nil {
		return ""
	}
	if id, ok := fields["intersection_id"].(string); ok {
		return id
	}
	return ""
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
