package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/realtyhub/internal/adapter/ristretto"
	"github.com/Strob0t/realtyhub/internal/domain/tenant"
	"github.com/Strob0t/realtyhub/internal/port/messagequeue"
	"github.com/Strob0t/realtyhub/internal/tenancy"
)

// memBus is an in-process messagequeue.Broadcaster delivering to every
// subscriber synchronously.
type memBus struct {
	mu   sync.Mutex
	subs map[string][]messagequeue.Handler
}

func newMemBus() *memBus { return &memBus{subs: make(map[string][]messagequeue.Handler)} }

func (b *memBus) Broadcast(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()
	handlers := append([]messagequeue.Handler(nil), b.subs[subject]...)
	b.mu.Unlock()
	for _, h := range handlers {
		_ = h(ctx, subject, data)
	}
	return nil
}

func (b *memBus) SubscribeBroadcast(subject string, h messagequeue.Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[subject] = append(b.subs[subject], h)
	return func() {}, nil
}

func newReplicaCache(t *testing.T) *tenancy.DomainCache {
	t.Helper()
	rc, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rc.Close)
	return tenancy.NewDomainCache(rc, time.Minute, time.Minute, nil)
}

func TestInvalidator_PropagatesToOtherReplicas(t *testing.T) {
	bus := newMemBus()
	ctx := context.Background()

	cacheA, cacheB := newReplicaCache(t), newReplicaCache(t)
	a := NewInvalidator(cacheA, bus, "replica-a")
	b := NewInvalidator(cacheB, bus, "replica-b")
	for _, inv := range []*Invalidator{a, b} {
		if _, err := inv.Start(); err != nil {
			t.Fatal(err)
		}
	}

	v0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	snap := tenancy.Snapshot{Slug: "acme", Schema: "acme", Status: tenant.StatusReady, Active: true, Version: v0}
	for _, c := range []*tenancy.DomainCache{cacheA, cacheB} {
		c.StoreTenant(ctx, snap)
		c.StoreHost(ctx, "acme.example.com", snap)
	}

	a.Invalidate(ctx, "acme", v0.Add(time.Second), "acme.example.com")

	for name, c := range map[string]*tenancy.DomainCache{"a": cacheA, "b": cacheB} {
		if _, ok := c.LookupTenant(ctx, "acme"); ok {
			t.Errorf("replica %s kept the snapshot", name)
		}
		if _, ok := c.LookupHost(ctx, "acme.example.com"); ok {
			t.Errorf("replica %s kept the host", name)
		}
		// A request on either replica that read the row before the
		// change cannot put it back.
		c.StoreTenant(ctx, snap)
		if _, ok := c.LookupTenant(ctx, "acme"); ok {
			t.Errorf("replica %s re-cached a snapshot older than the invalidation", name)
		}
	}
}

func TestInvalidator_RejectsInvalidPayload(t *testing.T) {
	inv := NewInvalidator(newReplicaCache(t), newMemBus(), "replica-a")
	if err := inv.handle(context.Background(), messagequeue.SubjectTenantInvalidate, []byte(`{"hosts":["x"]}`)); err == nil {
		t.Fatal("expected validation error for a payload without slug")
	}
}

func TestInvalidator_WithoutBus(t *testing.T) {
	c := newReplicaCache(t)
	inv := NewInvalidator(c, nil, "solo")
	cancel, err := inv.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	c.StoreHost(context.Background(), "acme.example.com", tenancy.Snapshot{Slug: "acme"})
	inv.Invalidate(context.Background(), "acme", time.Time{}, "acme.example.com")
	if _, ok := c.LookupHost(context.Background(), "acme.example.com"); ok {
		t.Error("local invalidation skipped without a bus")
	}
}
