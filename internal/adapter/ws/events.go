package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventTenantStatus   = "tenant.status"
	EventProvisionTable = "tenant.provision.table"
	EventTenantRouting  = "tenant.routing"
)

// TenantStatusEvent is broadcast when a tenant's provisioning status changes.
type TenantStatusEvent struct {
	Slug   string   `json:"slug"`
	Status string   `json:"status"`
	Error  string   `json:"error,omitempty"`
	Gaps   []string `json:"gaps,omitempty"` // optional tables that failed to clone
}

// ProvisionTableEvent is broadcast after each table clone of a run.
type ProvisionTableEvent struct {
	Slug  string `json:"slug"`
	Table string `json:"table"`
	Error string `json:"error,omitempty"`
}

// TenantRoutingEvent is broadcast when routing keys or activation change.
type TenantRoutingEvent struct {
	Slug   string   `json:"slug"`
	Active bool     `json:"is_active"`
	Hosts  []string `json:"hosts"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
