// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for work distribution. Each published
// message is handled by exactly one subscriber across all replicas.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Broadcaster delivers each message to every subscriber on every replica.
// Delivery is best effort and nothing is persisted.
type Broadcaster interface {
	Broadcast(ctx context.Context, subject string, data []byte) error
	SubscribeBroadcast(subject string, handler Handler) (cancel func(), err error)
}

// Subject constants for NATS subjects used by realtyhub.
const (
	SubjectTenantProvision  = "tenants.provision"  // work queue: run provisioning for a tenant
	SubjectTenantInvalidate = "tenants.invalidate" // broadcast: drop cached routing state
)
