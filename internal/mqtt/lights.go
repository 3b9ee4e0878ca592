package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trafficlab/greenwave/internal/traffic"
)

// planPayload is the wire shape published to light controllers on
// greenwave/<intersection>/lights/set.
type planPayload struct {
	NSGreenSeconds int       `json:"ns_green_seconds"`
	NSYellow       int       `json:"ns_yellow_seconds"`
	EWGreenSeconds int       `json:"ew_green_seconds"`
	EWYellow       int       `json:"ew_yellow_seconds"`
	CycleSeconds   int       `json:"cycle_seconds"`
	IssuedAt       time.Time `json:"issued_at"`
}

// LightsTopic returns the light-control command topic for an intersection.
func LightsTopic(intersectionID string) string {
	return "greenwave/" + intersectionID + "/lights/set"
}

// LightPublisher implements traffic.LightSink by publishing timing
// plans to the intersection's control topic.
type LightPublisher struct {
	client *Client
}

// NewLightPublisher creates a publisher over an MQTT client.
func NewLightPublisher(client *Client) *LightPublisher {
	return &LightPublisher{client: client}
}

// Apply implements traffic.LightSink.
func (l *LightPublisher) Apply(ctx context.Context, intersectionID string, plan traffic.PhasePlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	payload, err := json.Marshal(planPayload{
		NSGreenSeconds: plan.NorthSouth.GreenSeconds,
		NSYellow:       plan.NorthSouth.YellowSeconds,
		EWGreenSeconds: plan.EastWest.GreenSeconds,
		EWYellow:       plan.EastWest.YellowSeconds,
		CycleSeconds:   plan.CycleLength(),
		IssuedAt:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	return l.client.Publish(LightsTopic(intersectionID), payload)
}
