package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Strob0t/realtyhub/internal/domain"
	"github.com/Strob0t/realtyhub/internal/domain/tenant"
)

// memCache is an in-memory cache.Cache. failing makes every call error.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failing bool
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

var errCacheDown = errors.New("cache down")

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, false, errCacheDown
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errCacheDown
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errCacheDown
	}
	delete(m.data, key)
	return nil
}

func (m *memCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// fakeReader is a registry.Reader over a tenant map that counts queries.
// afterRead, when set, runs once a row has been copied for the caller and
// before it is returned, so a test can change the registry in between.
type fakeReader struct {
	mu        sync.Mutex
	tenants   map[string]*tenant.Tenant
	bySlug    int
	byDomain  int
	err       error
	afterRead func(slug string)
}

func newFakeReader(ts ...*tenant.Tenant) *fakeReader {
	r := &fakeReader{tenants: make(map[string]*tenant.Tenant)}
	for _, t := range ts {
		r.tenants[t.Slug] = t
	}
	return r
}

func (r *fakeReader) GetTenantBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	r.mu.Lock()
	r.bySlug++
	if r.err != nil {
		r.mu.Unlock()
		return nil, r.err
	}
	t, ok := r.tenants[slug]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("tenant %s: %w", slug, domain.ErrNotFound)
	}
	cp := *t
	r.mu.Unlock()
	r.fireAfterRead(slug)
	return &cp, nil
}

func (r *fakeReader) GetTenantByDomain(_ context.Context, host string) (*tenant.Tenant, error) {
	r.mu.Lock()
	r.byDomain++
	if r.err != nil {
		r.mu.Unlock()
		return nil, r.err
	}
	for _, t := range r.tenants {
		for _, h := range t.Domains.Hosts() {
			if h == host {
				cp := *t
				r.mu.Unlock()
				r.fireAfterRead(cp.Slug)
				return &cp, nil
			}
		}
	}
	r.mu.Unlock()
	return nil, fmt.Errorf("domain %s: %w", host, domain.ErrNotFound)
}

func (r *fakeReader) fireAfterRead(slug string) {
	r.mu.Lock()
	fn := r.afterRead
	r.afterRead = nil
	r.mu.Unlock()
	if fn != nil {
		fn(slug)
	}
}

func (r *fakeReader) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bySlug + r.byDomain
}

// update applies fn to the row and advances its version like the
// database's updated_at. It returns the new version.
func (r *fakeReader) update(slug string, fn func(*tenant.Tenant)) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tenants[slug]
	fn(t)
	t.UpdatedAt = t.UpdatedAt.Add(time.Millisecond)
	return t.UpdatedAt
}

var baseVersion = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func readyTenant(slug string, hosts ...string) *tenant.Tenant {
	t := &tenant.Tenant{
		Slug:       slug,
		SchemaName: tenant.SchemaNameFor(slug),
		Status:     tenant.StatusReady,
		Active:     true,
		UpdatedAt:  baseVersion,
	}
	if len(hosts) > 0 {
		t.Domains.Primary = hosts[0]
	}
	if len(hosts) > 1 {
		t.Domains.Backoffice = hosts[1]
	}
	if len(hosts) > 2 {
		t.Domains.APIHost = hosts[2]
	}
	return t
}
