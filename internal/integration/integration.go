// Package integration publishes provisioning events to external systems
// (e.g. a manufacturing execution system or a network-server device
// registry sync job).
package integration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
)

// EventType defines the provisioning event type.
type EventType string

// Available event types.
const (
	EventProvisioned   EventType = "provisioned"
	EventDeprovisioned EventType = "deprovisioned"
)

// ProvisioningEvent is published when a slot is provisioned or
// deprovisioned. It never contains key material.
type ProvisioningEvent struct {
	SlotLabel string          `json:"slot"`
	Type      EventType       `json:"type"`
	DevEUI    *credential.EUI `json:"dev_eui,omitempty"`
	JoinEUI   *credential.EUI `json:"join_eui,omitempty"`
	Time      time.Time       `json:"time"`
}

// NewProvisioningEvent returns the event for the given record.
func NewProvisioningEvent(t EventType, rec credential.Record) ProvisioningEvent {
	ev := ProvisioningEvent{
		SlotLabel: rec.SlotLabel,
		Type:      t,
		Time:      time.Now().UTC(),
	}
	if t == EventProvisioned {
		devEUI, joinEUI := rec.DevEUI, rec.JoinEUI
		ev.DevEUI = &devEUI
		ev.JoinEUI = &joinEUI
	}
	return ev
}

// Marshal returns the JSON representation of the event.
func (e ProvisioningEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Handler defines the interface of an integration.
type Handler interface {
	// SendProvisioningEvent publishes the given event.
	SendProvisioningEvent(ctx context.Context, ev ProvisioningEvent) error

	// Close closes the handler.
	Close() error
}

// NopHandler implements a Handler that does nothing.
type NopHandler struct{}

// SendProvisioningEvent implements Handler.
func (NopHandler) SendProvisioningEvent(ctx context.Context, ev ProvisioningEvent) error {
	return nil
}

// Close implements Handler.
func (NopHandler) Close() error {
	return nil
}

// TemplateContext is the context used when executing the topic or
// routing-key templates.
type TemplateContext struct {
	SlotLabel string
	EventType EventType
}
