package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/realtyhub/internal/port/messagequeue"
	"github.com/Strob0t/realtyhub/internal/tenancy"
)

// Invalidator drops cached routing state for a tenant on this replica and
// tells every other replica to do the same.
type Invalidator struct {
	cache  *tenancy.DomainCache
	bus    messagequeue.Broadcaster
	origin string
}

// NewInvalidator creates an invalidator. bus may be nil for a single
// replica; origin identifies this replica so it ignores its own messages.
func NewInvalidator(cache *tenancy.DomainCache, bus messagequeue.Broadcaster, origin string) *Invalidator {
	return &Invalidator{cache: cache, bus: bus, origin: origin}
}

// Invalidate drops the snapshot of slug and the given hosts everywhere.
// version is the updated_at of the tenant row after the change.
func (i *Invalidator) Invalidate(ctx context.Context, slug string, version time.Time, hosts ...string) {
	i.cache.InvalidateTenant(ctx, slug, version, hosts...)
	if i.bus == nil {
		return
	}
	data, err := json.Marshal(messagequeue.InvalidatePayload{Slug: slug, Hosts: hosts, Version: version, Origin: i.origin})
	if err != nil {
		slog.ErrorContext(ctx, "marshal invalidation", "slug", slug, "error", err)
		return
	}
	// The snapshot TTL bounds staleness if the broadcast is lost.
	if err := i.bus.Broadcast(ctx, messagequeue.SubjectTenantInvalidate, data); err != nil {
		slog.WarnContext(ctx, "broadcast invalidation failed", "slug", slug, "error", err)
	}
}

// Start applies invalidations broadcast by other replicas until the
// returned cancel function is called.
func (i *Invalidator) Start() (func(), error) {
	if i.bus == nil {
		return func() {}, nil
	}
	return i.bus.SubscribeBroadcast(messagequeue.SubjectTenantInvalidate, i.handle)
}

func (i *Invalidator) handle(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	var p messagequeue.InvalidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Origin == i.origin {
		return nil
	}
	i.cache.InvalidateTenant(ctx, p.Slug, p.Version, p.Hosts...)
	slog.DebugContext(ctx, "applied remote invalidation", "slug", p.Slug, "origin", p.Origin)
	return nil
}
