// Package broadcast defines the port for pushing operator events to
// connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected operator clients.
// Delivery is best effort.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
