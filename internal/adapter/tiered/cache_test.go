package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/realtyhub/internal/adapter/tiered"
	"github.com/Strob0t/realtyhub/internal/port/cache/cachetest"
	"github.com/Strob0t/realtyhub/internal/resilience"
)

// memCache is a simple in-memory cache for testing. err makes every call fail.
type memCache struct {
	data  map[string][]byte
	err   error
	calls int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	m.calls++
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

var errKVDown = errors.New("nats: no responders available")

func TestTiered_Compliance(t *testing.T) {
	cachetest.Run(t, tiered.New(newMemCache(), newMemCache(), time.Minute, nil))
}

func TestTiered_L1Hit(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute, nil)
	ctx := context.Background()

	// Set only in L1
	l1.data["host:acme.example.com"] = []byte("acme")

	val, found, err := c.Get(ctx, "host:acme.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L1 hit")
	}
	if string(val) != "acme" {
		t.Fatalf("expected acme, got %s", val)
	}
	if l2.calls != 0 {
		t.Errorf("L1 hit should not touch L2, got %d calls", l2.calls)
	}
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute, nil)
	ctx := context.Background()

	// Set only in L2, as another replica would.
	l2.data["host:beta.example.com"] = []byte("beta")

	val, found, err := c.Get(ctx, "host:beta.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L2 hit")
	}
	if string(val) != "beta" {
		t.Fatalf("expected beta, got %s", val)
	}

	l1Val, ok := l1.data["host:beta.example.com"]
	if !ok {
		t.Fatal("expected L1 backfill")
	}
	if string(l1Val) != "beta" {
		t.Fatalf("expected backfilled beta, got %s", l1Val)
	}
}

func TestTiered_SetAndDeleteBoth(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute, nil)
	ctx := context.Background()

	if err := c.Set(ctx, "tenant:acme", []byte("snap"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["tenant:acme"]; !ok {
		t.Fatal("expected tenant:acme in L1")
	}
	if _, ok := l2.data["tenant:acme"]; !ok {
		t.Fatal("expected tenant:acme in L2")
	}

	if err := c.Delete(ctx, "tenant:acme"); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["tenant:acme"]; ok {
		t.Fatal("expected tenant:acme deleted from L1")
	}
	if _, ok := l2.data["tenant:acme"]; ok {
		t.Fatal("expected tenant:acme deleted from L2")
	}
}

func TestTiered_L2FailureReadsAsMiss(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	l2.err = errKVDown
	c := tiered.New(l1, l2, time.Minute, resilience.NewBreaker("l2", 5, time.Minute))

	_, found, err := c.Get(context.Background(), "host:acme.example.com")
	if err != nil {
		t.Fatalf("L2 failure should not surface on Get: %v", err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestTiered_DeleteClearsL1WhenL2Fails(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, time.Minute, nil)
	ctx := context.Background()

	l1.data["host:acme.example.com"] = []byte("acme")
	l2.err = errKVDown

	if err := c.Delete(ctx, "host:acme.example.com"); !errors.Is(err, errKVDown) {
		t.Fatalf("expected L2 error from Delete, got %v", err)
	}
	if _, ok := l1.data["host:acme.example.com"]; ok {
		t.Error("L1 entry should be gone even though L2 failed")
	}
}

func TestTiered_OpenBreakerSkipsL2(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	l2.err = errKVDown
	c := tiered.New(l1, l2, time.Minute, resilience.NewBreaker("l2", 2, time.Hour))
	ctx := context.Background()

	for range 2 {
		_, _, _ = c.Get(ctx, "host:acme.example.com")
	}
	before := l2.calls

	for range 10 {
		if _, _, err := c.Get(ctx, "host:acme.example.com"); err != nil {
			t.Fatal(err)
		}
	}
	if l2.calls != before {
		t.Errorf("open breaker let %d calls through to L2", l2.calls-before)
	}

	if err := c.Set(ctx, "host:acme.example.com", []byte("acme"), time.Minute); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen on Set, got %v", err)
	}
	if _, ok := l1.data["host:acme.example.com"]; !ok {
		t.Error("L1 should still be written while L2 is open")
	}
}

func TestTiered_FailedDeleteIsNotResurrectedFromL2(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, time.Minute, nil)
	ctx := context.Background()
	key := "tenant:acme"

	if err := c.Set(ctx, key, []byte(`{"active":true}`), time.Minute); err != nil {
		t.Fatal(err)
	}

	l2.err = errKVDown
	if err := c.Delete(ctx, key); !errors.Is(err, errKVDown) {
		t.Fatalf("expected L2 error from Delete, got %v", err)
	}

	// L2 is back and still holds the entry the failed delete missed.
	l2.err = nil
	_, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("entry whose delete failed was served from L2")
	}
	if _, ok := l2.data[key]; ok {
		t.Error("Get should have retried the L2 delete")
	}
	if _, ok := l1.data[key]; ok {
		t.Error("L1 must not be backfilled with the deleted entry")
	}

	// Settled: a fresh write is served normally again.
	if err := c.Set(ctx, key, []byte(`{"active":false}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	delete(l1.data, key)
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || string(got) != `{"active":false}` {
		t.Errorf("Get after re-Set = %q, %v, %v", got, ok, err)
	}
}

func TestTiered_DeleteDuringOpenBreakerIsRetried(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, time.Minute, resilience.NewBreaker("l2", 1, 20*time.Millisecond))
	ctx := context.Background()
	key := "host:acme.example.com"

	l2.data[key] = []byte("acme")
	l2.err = errKVDown
	_, _, _ = c.Get(ctx, "host:other.example.com") // opens the breaker
	l2.err = nil

	if err := c.Delete(ctx, key); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen from Delete, got %v", err)
	}
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatal("entry served while its delete is pending")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatal("entry resurrected from L2 after the breaker closed")
	}
	if _, ok := l2.data[key]; ok {
		t.Error("pending delete should reach L2 once the breaker lets calls through")
	}
}
