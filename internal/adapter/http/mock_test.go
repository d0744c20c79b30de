package http_test

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/realtyhub/internal/domain"
	"github.com/Strob0t/realtyhub/internal/domain/tenant"
	"github.com/Strob0t/realtyhub/internal/domain/user"
	"github.com/Strob0t/realtyhub/internal/tenancy"
)

// memRegistry is an in-memory registry.Registry with the conditional
// lifecycle transitions of the database store.
type memRegistry struct {
	mu      sync.Mutex
	tenants map[string]*tenant.Tenant
	hosts   map[string]string
	down    bool
}

func newMemRegistry() *memRegistry {
	return &memRegistry{tenants: make(map[string]*tenant.Tenant), hosts: make(map[string]string)}
}

func (m *memRegistry) lookup(slug string) (*tenant.Tenant, error) {
	if m.down {
		return nil, fmt.Errorf("registry: connection refused")
	}
	t, ok := m.tenants[slug]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", slug, domain.ErrNotFound)
	}
	return t, nil
}

func (m *memRegistry) snapshot(slug string) (*tenant.Tenant, error) {
	t, err := m.lookup(slug)
	if err != nil {
		return nil, err
	}
	c := *t
	return &c, nil
}

// touch advances updated_at like every UPDATE in the store does.
func touch(t *tenant.Tenant) {
	now := time.Now()
	if !now.After(t.UpdatedAt) {
		now = t.UpdatedAt.Add(time.Microsecond)
	}
	t.UpdatedAt = now
}

func (m *memRegistry) GetTenantBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(slug)
}

func (m *memRegistry) GetTenantByDomain(_ context.Context, host string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, fmt.Errorf("registry: connection refused")
	}
	slug, ok := m.hosts[host]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.snapshot(slug)
}

func (m *memRegistry) CreateTenant(_ context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[req.Slug]; ok {
		return nil, fmt.Errorf("create tenant %s: %w", req.Slug, domain.ErrConflict)
	}
	for _, h := range req.Domains.Hosts() {
		if _, ok := m.hosts[h]; ok {
			return nil, fmt.Errorf("claim domain %s: %w", h, domain.ErrConflict)
		}
	}
	now := time.Now()
	m.tenants[req.Slug] = &tenant.Tenant{
		ID: "id-" + req.Slug, Slug: req.Slug, DisplayName: req.DisplayName, Domains: req.Domains,
		Status: tenant.StatusPending, Active: true, Plan: req.Plan, CreatedAt: now, UpdatedAt: now,
	}
	for _, h := range req.Domains.Hosts() {
		m.hosts[h] = req.Slug
	}
	return m.snapshot(req.Slug)
}

func (m *memRegistry) ListTenants(_ context.Context) ([]tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tenant.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b tenant.Tenant) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (m *memRegistry) SetTenantDomains(_ context.Context, slug string, d tenant.Domains) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(slug)
	if err != nil {
		return nil, err
	}
	for _, h := range d.Hosts() {
		if owner, ok := m.hosts[h]; ok && owner != slug {
			return nil, fmt.Errorf("claim domain %s: %w", h, domain.ErrConflict)
		}
	}
	previous := t.Domains.Hosts()
	for _, h := range previous {
		delete(m.hosts, h)
	}
	for _, h := range d.Hosts() {
		m.hosts[h] = slug
	}
	t.Domains = d
	touch(t)
	return previous, nil
}

func (m *memRegistry) SetTenantActive(_ context.Context, slug string, active bool) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(slug)
	if err != nil {
		return nil, err
	}
	t.Active = active
	touch(t)
	return m.snapshot(slug)
}

func (m *memRegistry) transition(slug string, from []tenant.Status, apply func(*tenant.Tenant)) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(slug)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(from, t.Status) {
		return nil, fmt.Errorf("tenant %s in %s: %w", slug, t.Status, domain.ErrInvalidTransition)
	}
	apply(t)
	touch(t)
	return m.snapshot(slug)
}

func (m *memRegistry) BeginProvisioning(_ context.Context, slug string, from ...tenant.Status) (*tenant.Tenant, error) {
	return m.transition(slug, from, func(t *tenant.Tenant) { t.Status = tenant.StatusProvisioning })
}

func (m *memRegistry) AllocateSchema(_ context.Context, slug, schema string) error {
	_, err := m.transition(slug, []tenant.Status{tenant.StatusProvisioning}, func(t *tenant.Tenant) { t.SchemaName = schema })
	return err
}

func (m *memRegistry) CompleteProvisioning(_ context.Context, slug string, r *tenant.ProvisionReport) (*tenant.Tenant, error) {
	return m.transition(slug, []tenant.Status{tenant.StatusProvisioning}, func(t *tenant.Tenant) {
		now := time.Now()
		t.Status, t.Report, t.ProvisionedAt, t.ProvisioningError = tenant.StatusReady, r, &now, ""
	})
}

func (m *memRegistry) FailProvisioning(_ context.Context, slug, reason string, r *tenant.ProvisionReport) (*tenant.Tenant, error) {
	return m.transition(slug, []tenant.Status{tenant.StatusProvisioning}, func(t *tenant.Tenant) {
		now := time.Now()
		t.Status, t.Report, t.FailedAt, t.ProvisioningError = tenant.StatusFailed, r, &now, reason
	})
}

func (m *memRegistry) RecordRepair(_ context.Context, slug string, r *tenant.ProvisionReport) (*tenant.Tenant, error) {
	return m.transition(slug, []tenant.Status{tenant.StatusReady}, func(t *tenant.Tenant) { t.Report = r })
}

func (m *memRegistry) ClaimStaleProvisioning(_ context.Context, idle time.Duration) ([]tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tenant.Tenant
	for _, t := range m.tenants {
		if t.Status == tenant.StatusProvisioning && time.Since(t.UpdatedAt) > idle {
			touch(t)
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memRegistry) setDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// memPartitions is a partition.Manager whose clones always succeed.
type memPartitions struct {
	mu      sync.Mutex
	schemas map[string][]string
}

func (p *memPartitions) CreateSchema(_ context.Context, schema string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.schemas == nil {
		p.schemas = make(map[string][]string)
	}
	if _, ok := p.schemas[schema]; !ok {
		p.schemas[schema] = []string{}
	}
	return nil
}

func (p *memPartitions) SharedTables(context.Context) ([]string, error) {
	return []string{"tenants", "tenant_domains", "platform_users", "goose_db_version", "users", "properties", "leads"}, nil
}

func (p *memPartitions) CloneTable(_ context.Context, schema, table string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schemas[schema] = append(p.schemas[schema], table)
	return nil
}

// memUsers stores users per partition. It serves both user store ports:
// the partition is read from the tenant context like the database binder
// does.
type memUsers struct {
	mu    sync.Mutex
	users map[string]map[string]*user.User // schema -> email -> user
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]map[string]*user.User)}
}

func (s *memUsers) partition(ctx context.Context, tenantOnly bool) (string, error) {
	tc, ok := tenancy.FromContext(ctx)
	if !ok {
		return "", tenancy.ErrNoTenantContext
	}
	if tenantOnly && tc.IsShared() {
		return "", tenancy.ErrSharedPartition
	}
	return tc.Schema, nil
}

func (s *memUsers) put(schema string, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[schema] == nil {
		s.users[schema] = make(map[string]*user.User)
	}
	if _, ok := s.users[schema][u.Email]; ok {
		return fmt.Errorf("create user %s: %w", u.Email, domain.ErrConflict)
	}
	c := *u
	s.users[schema][u.Email] = &c
	return nil
}

func (s *memUsers) find(schema string, match func(*user.User) bool) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users[schema] {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memUsers) CreateUser(ctx context.Context, u *user.User) error {
	schema, err := s.partition(ctx, true)
	if err != nil {
		return err
	}
	return s.put(schema, u)
}

func (s *memUsers) GetUser(ctx context.Context, id string) (*user.User, error) {
	schema, err := s.partition(ctx, true)
	if err != nil {
		return nil, err
	}
	return s.find(schema, func(u *user.User) bool { return u.ID == id })
}

func (s *memUsers) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	schema, err := s.partition(ctx, true)
	if err != nil {
		return nil, err
	}
	return s.find(schema, func(u *user.User) bool { return u.Email == email })
}

func (s *memUsers) CreatePlatformUser(_ context.Context, u *user.User) error {
	return s.put("public", u)
}

func (s *memUsers) GetPlatformUserByEmail(_ context.Context, email string) (*user.User, error) {
	return s.find("public", func(u *user.User) bool { return u.Email == email })
}
