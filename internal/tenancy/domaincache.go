package tenancy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	cfotel "github.com/Strob0t/realtyhub/internal/adapter/otel"
	"github.com/Strob0t/realtyhub/internal/domain/tenant"
	"github.com/Strob0t/realtyhub/internal/port/cache"
)

const (
	hostKeyPrefix   = "host:"
	tenantKeyPrefix = "tenant:"
	markKeyPrefix   = "inval:"
)

// Snapshot is the cached view of a tenant used for the liveness check.
type Snapshot struct {
	Slug   string        `json:"slug"`
	Schema string        `json:"schema"`
	Status tenant.Status `json:"status"`
	Active bool          `json:"active"`
	// Version is the updated_at of the registry row the snapshot was read from.
	Version time.Time `json:"version"`
}

// SnapshotOf captures the routing-relevant fields of t.
func SnapshotOf(t *tenant.Tenant) Snapshot {
	return Snapshot{Slug: t.Slug, Schema: t.SchemaName, Status: t.Status, Active: t.Active, Version: t.UpdatedAt}
}

// Routable mirrors tenant.Tenant.Routable for the cached view.
func (s Snapshot) Routable() bool {
	return s.Active && s.Status == tenant.StatusReady && s.Schema != ""
}

// entry is the stored form of every value. The expiry travels with the
// value so no entry outlives its TTL, whatever the backend does with TTLs.
type entry struct {
	Value   json.RawMessage `json:"v"`
	Expires time.Time       `json:"exp,omitzero"`
}

// DomainCache maps normalized hosts to tenant slugs and slugs to tenant
// snapshots. It is advisory: every backend error is logged and treated as
// a miss, and a host hit is never trusted without a liveness check.
//
// InvalidateTenant leaves an invalidation mark carrying the version of the
// change. Snapshots and host entries read from an older row version are
// refused while the mark lives, so a request that read the registry just
// before a change cannot re-cache the old state after the invalidation.
type DomainCache struct {
	c         cache.Cache
	hostTTL   time.Duration
	tenantTTL time.Duration
	metrics   *cfotel.Metrics
	now       func() time.Time
}

// NewDomainCache creates a domain cache over the given backend.
func NewDomainCache(c cache.Cache, hostTTL, tenantTTL time.Duration, metrics *cfotel.Metrics) *DomainCache {
	return &DomainCache{c: c, hostTTL: hostTTL, tenantTTL: tenantTTL, metrics: metrics, now: time.Now}
}

// LookupHost returns the slug cached for host.
func (d *DomainCache) LookupHost(ctx context.Context, host string) (string, bool) {
	var slug string
	ok, err := d.get(ctx, hostKeyPrefix+host, &slug)
	if err != nil {
		slog.WarnContext(ctx, "domain cache get failed", "host", host, "error", err)
		ok = false
	}
	d.metrics.RecordCacheLookup(ctx, ok)
	if !ok || slug == "" {
		return "", false
	}
	return slug, true
}

// StoreHost caches host -> snap.Slug unless snap predates the last
// invalidation of its tenant.
func (d *DomainCache) StoreHost(ctx context.Context, host string, snap Snapshot) {
	d.storeChecked(ctx, hostKeyPrefix+host, snap.Slug, d.hostTTL, snap)
}

// LookupTenant returns the cached snapshot for slug.
func (d *DomainCache) LookupTenant(ctx context.Context, slug string) (Snapshot, bool) {
	key := tenantKeyPrefix + slug
	var s Snapshot
	ok, err := d.get(ctx, key, &s)
	if err != nil {
		slog.WarnContext(ctx, "tenant cache get failed", "slug", slug, "error", err)
		return Snapshot{}, false
	}
	if !ok {
		return Snapshot{}, false
	}
	if s.Slug != slug {
		slog.WarnContext(ctx, "tenant cache entry corrupt, dropping", "slug", slug)
		_ = d.c.Delete(ctx, key)
		return Snapshot{}, false
	}
	// An entry deleted while the backend was partly down can resurface.
	if d.superseded(ctx, s) {
		_ = d.c.Delete(ctx, key)
		return Snapshot{}, false
	}
	return s, true
}

// StoreTenant caches the snapshot of a tenant unless it predates the last
// invalidation of that tenant.
func (d *DomainCache) StoreTenant(ctx context.Context, s Snapshot) {
	d.storeChecked(ctx, tenantKeyPrefix+s.Slug, s, d.tenantTTL, s)
}

// storeChecked writes v under key, then checks the invalidation mark again
// and takes the write back if an invalidation landed in between.
func (d *DomainCache) storeChecked(ctx context.Context, key string, v any, ttl time.Duration, snap Snapshot) {
	if d.superseded(ctx, snap) {
		return
	}
	if err := d.put(ctx, key, v, ttl); err != nil {
		slog.WarnContext(ctx, "domain cache set failed", "key", key, "error", err)
		return
	}
	if d.superseded(ctx, snap) {
		slog.DebugContext(ctx, "dropping entry written across an invalidation", "key", key)
		_ = d.c.Delete(ctx, key)
	}
}

// Invalidate drops the given host entries.
func (d *DomainCache) Invalidate(ctx context.Context, hosts ...string) {
	for _, h := range hosts {
		if err := d.c.Delete(ctx, hostKeyPrefix+tenant.NormalizeHost(h)); err != nil {
			slog.WarnContext(ctx, "domain cache delete failed", "host", h, "error", err)
		}
	}
}

// InvalidateTenant drops the snapshot of slug and the given host entries.
// version is the updated_at of the row after the change; a zero version
// only deletes. Call it whenever a tenant's domains, activity or status
// change.
func (d *DomainCache) InvalidateTenant(ctx context.Context, slug string, version time.Time, hosts ...string) {
	if !version.IsZero() {
		d.mark(ctx, slug, version)
	}
	if err := d.c.Delete(ctx, tenantKeyPrefix+slug); err != nil {
		slog.WarnContext(ctx, "tenant cache delete failed", "slug", slug, "error", err)
	}
	d.Invalidate(ctx, hosts...)
}

// mark records version as the latest invalidation of slug. An older mark
// arriving late never replaces a newer one.
func (d *DomainCache) mark(ctx context.Context, slug string, version time.Time) {
	key := markKeyPrefix + slug
	var prev time.Time
	if ok, err := d.get(ctx, key, &prev); err == nil && ok && !version.After(prev) {
		return
	}
	if err := d.put(ctx, key, version, d.markTTL()); err != nil {
		slog.WarnContext(ctx, "invalidation mark failed", "slug", slug, "error", err)
	}
}

// superseded reports whether snap was read before the last invalidation
// of its tenant. An unreadable mark counts as superseded.
func (d *DomainCache) superseded(ctx context.Context, snap Snapshot) bool {
	var marked time.Time
	ok, err := d.get(ctx, markKeyPrefix+snap.Slug, &marked)
	if err != nil {
		return true
	}
	return ok && snap.Version.Before(marked)
}

// markTTL outlives every entry a stale read could have produced.
func (d *DomainCache) markTTL() time.Duration {
	return max(d.hostTTL, d.tenantTTL)
}

func (d *DomainCache) put(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e := entry{Value: raw}
	if ttl > 0 {
		e.Expires = d.now().Add(ttl)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return d.c.Set(ctx, key, data, ttl)
}

// get decodes the value under key into dst. Expired and undecodable
// entries are deleted and read as misses.
func (d *DomainCache) get(ctx context.Context, key string, dst any) (bool, error) {
	data, ok, err := d.c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil || len(e.Value) == 0 || json.Unmarshal(e.Value, dst) != nil {
		slog.WarnContext(ctx, "domain cache entry corrupt, dropping", "key", key)
		_ = d.c.Delete(ctx, key)
		return false, nil
	}
	if !e.Expires.IsZero() && !d.now().Before(e.Expires) {
		_ = d.c.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}
