package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/trafficlab/greenwave/internal/events"
	"github.com/trafficlab/greenwave/internal/traffic"
)

// countsPayload is the wire shape detectors publish on
// greenwave/<intersection>/counts.
type countsPayload struct {
	Counts    map[string]int            `json:"counts"`
	Classes   map[string]map[string]int `json:"classes,omitempty"`
	Emergency map[string]bool           `json:"emergency,omitempty"`
}

// CountsTopic returns the detector topic for an intersection.
func CountsTopic(intersectionID string) string {
	return "greenwave/" + intersectionID + "/counts"
}

// DetectorProvider implements traffic.CountProvider from detector
// messages. It caches the latest snapshot per intersection; a fetch
// fails if no snapshot has arrived within the staleness bound.
type DetectorProvider struct {
	client *Client
	maxAge time.Duration

	mu         sync.RWMutex
	subscribed map[string]bool
	latest     map[string]countsSnapshot

	now func() time.Time
}

type countsSnapshot struct {
	counts     traffic.VehicleCounts
	receivedAt time.Time
}

// NewDetectorProvider creates a provider over an MQTT client. maxAge
// bounds how old a cached snapshot may be before fetches fail.
func NewDetectorProvider(client *Client, maxAge time.Duration) *DetectorProvider {
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	return &DetectorProvider{
		client:     client,
		maxAge:     maxAge,
		subscribed: make(map[string]bool),
		latest:     make(map[string]countsSnapshot),
		now:        time.Now,
	}
}

// Watch subscribes to an intersection's detector topic. Idempotent.
func (p *DetectorProvider) Watch(intersectionID string) error {
	p.mu.Lock()
	if p.subscribed[intersectionID] {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	topic := CountsTopic(intersectionID)
	handler := func(_ paho.Client, msg paho.Message) {
		p.handleMessage(intersectionID, msg.Payload())
	}
	if err := p.client.Subscribe(topic, handler); err != nil {
		return err
	}

	p.mu.Lock()
	p.subscribed[intersectionID] = true
	p.mu.Unlock()
	return nil
}

// WatchAll subscribes to every given intersection's detector topic.
func (p *DetectorProvider) WatchAll(intersectionIDs []string) error {
	for _, id := range intersectionIDs {
		if err := p.Watch(id); err != nil {
			return err
		}
	}
	return nil
}

// handleMessage decodes and caches one detector payload. Malformed
// payloads are rejected at this boundary, not probed downstream.
func (p *DetectorProvider) handleMessage(intersectionID string, payload []byte) {
	counts, err := decodeCounts(payload)
	if err != nil {
		events.Emit("error", "detector.error", "bad detector payload", map[string]interface{}{
			"intersection_id": intersectionID,
			"error":           err.Error(),
		})
		return
	}

	p.mu.Lock()
	p.latest[intersectionID] = countsSnapshot{counts: counts, receivedAt: p.now()}
	p.mu.Unlock()

	events.Emit("debug", "detector.counts", "", map[string]interface{}{
		"intersection_id": intersectionID,
		"total":           counts.Total(),
	})
}

// FetchCounts implements traffic.CountProvider.
func (p *DetectorProvider) FetchCounts(ctx context.Context, intersectionID string) (traffic.VehicleCounts, error) {
	if err := ctx.Err(); err != nil {
		return traffic.VehicleCounts{}, err
	}

	p.mu.RLock()
	snap, ok := p.latest[intersectionID]
	p.mu.RUnlock()

	if !ok {
		return traffic.VehicleCounts{}, fmt.Errorf("no detector data for %s", intersectionID)
	}
	if age := p.now().Sub(snap.receivedAt); age > p.maxAge {
		return traffic.VehicleCounts{}, fmt.Errorf("detector data for %s is stale (%s old)", intersectionID, age.Round(time.Millisecond))
	}
	return snap.counts, nil
}

// decodeCounts parses a detector payload into validated VehicleCounts.
func decodeCounts(payload []byte) (traffic.VehicleCounts, error) {
	var raw countsPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return traffic.VehicleCounts{}, fmt.Errorf("decode counts: %w", err)
	}
	if raw.Counts == nil {
		return traffic.VehicleCounts{}, &traffic.InvalidInputError{Reason: "missing counts object"}
	}

	counts := traffic.VehicleCounts{Counts: make(map[traffic.Direction]int, len(raw.Counts))}
	for dir, n := range raw.Counts {
		counts.Counts[traffic.Direction(dir)] = n
	}
	if raw.Classes != nil {
		counts.Classes = make(map[traffic.Direction]map[string]int, len(raw.Classes))
		for dir, classes := range raw.Classes {
			counts.Classes[traffic.Direction(dir)] = classes
		}
	}
	if raw.Emergency != nil {
		counts.Emergency = make(map[traffic.Direction]bool, len(raw.Emergency))
		for dir, flagged := range raw.Emergency {
			counts.Emergency[traffic.Direction(dir)] = flagged
		}
	}

	if err := counts.Validate(); err != nil {
		return traffic.VehicleCounts{}, err
	}
	return counts, nil
}
