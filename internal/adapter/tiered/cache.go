// Package tiered implements a two-level (L1 + L2) cache adapter.
package tiered

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/realtyhub/internal/port/cache"
	"github.com/Strob0t/realtyhub/internal/resilience"
)

// Cache combines an L1 (in-process) and L2 (remote) cache.
// Get checks L1 first, then L2 (backfilling L1 on L2 hit).
// Set and Delete operate on both levels.
//
// L2 calls go through a circuit breaker. A failing or open L2 reads as a
// miss so lookups degrade to L1 plus the source of truth; write and delete
// errors are still returned so callers can log a missed invalidation.
//
// A key whose L2 delete failed is remembered as unsettled: Get retries the
// delete and never serves or backfills that key from L2 until the delete
// or a later Set reaches L2.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
	breaker  *resilience.Breaker

	mu        sync.Mutex
	unsettled map[string]struct{}
}

// New creates a tiered cache with the given L1 and L2 backends.
// l1Expire caps how long L2 backfill entries live in L1. breaker may be nil.
func New(l1, l2 cache.Cache, l1Expire time.Duration, breaker *resilience.Breaker) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire, breaker: breaker, unsettled: make(map[string]struct{})}
}

// Get checks L1, then L2. On L2 hit, backfills L1.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	// L1
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	if c.isUnsettled(key) {
		if err := c.l2Call(func() error { return c.l2.Delete(ctx, key) }); err == nil {
			c.settle(key)
		}
		return nil, false, nil
	}

	// L2
	err = c.l2Call(func() error {
		var l2err error
		val, found, l2err = c.l2.Get(ctx, key)
		return l2err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			slog.DebugContext(ctx, "l2 cache get failed", "key", key, "error", err)
		}
		return nil, false, nil
	}
	if found {
		// Backfill L1
		_ = c.l1.Set(ctx, key, val, c.l1Expire)
		return val, true, nil
	}

	return nil, false, nil
}

// Set writes to both L1 and L2.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := c.l2Call(func() error { return c.l2.Set(ctx, key, value, ttl) }); err != nil {
		return err
	}
	c.settle(key)
	return nil
}

// Delete removes from both L1 and L2. L1 is cleared even when L2 fails.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if err := c.l2Call(func() error { return c.l2.Delete(ctx, key) }); err != nil {
		c.mu.Lock()
		c.unsettled[key] = struct{}{}
		c.mu.Unlock()
		return err
	}
	c.settle(key)
	return nil
}

func (c *Cache) isUnsettled(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.unsettled[key]
	return ok
}

func (c *Cache) settle(key string) {
	c.mu.Lock()
	delete(c.unsettled, key)
	c.mu.Unlock()
}

func (c *Cache) l2Call(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(fn)
}
