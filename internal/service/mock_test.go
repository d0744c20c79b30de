package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/realtyhub/internal/domain"
	"github.com/Strob0t/realtyhub/internal/domain/tenant"
	"github.com/Strob0t/realtyhub/internal/domain/user"
)

// mockRegistry is an in-memory registry.Registry enforcing the same
// conditional transitions as the database.
type mockRegistry struct {
	mu      sync.Mutex
	tenants map[string]*tenant.Tenant
	hosts   map[string]string
	begins  int
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{tenants: make(map[string]*tenant.Tenant), hosts: make(map[string]string)}
}

func (m *mockRegistry) get(slug string) (*tenant.Tenant, error) {
	t, ok := m.tenants[slug]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", slug, domain.ErrNotFound)
	}
	return t, nil
}

// touch advances updated_at like every UPDATE in the store does.
func touch(t *tenant.Tenant) {
	now := time.Now()
	if !now.After(t.UpdatedAt) {
		now = t.UpdatedAt.Add(time.Microsecond)
	}
	t.UpdatedAt = now
}

func clone(t *tenant.Tenant) *tenant.Tenant {
	c := *t
	return &c
}

func (m *mockRegistry) GetTenantBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.get(slug)
	if err != nil {
		return nil, err
	}
	return clone(t), nil
}

func (m *mockRegistry) GetTenantByDomain(_ context.Context, host string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slug, ok := m.hosts[host]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(m.tenants[slug]), nil
}

func (m *mockRegistry) CreateTenant(_ context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
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
	t := &tenant.Tenant{
		ID: "id-" + req.Slug, Slug: req.Slug, DisplayName: req.DisplayName, Domains: req.Domains,
		Status: tenant.StatusPending, Active: true, Plan: req.Plan, CreatedAt: now, UpdatedAt: now,
	}
	m.tenants[req.Slug] = t
	for _, h := range req.Domains.Hosts() {
		m.hosts[h] = req.Slug
	}
	return clone(t), nil
}

func (m *mockRegistry) ListTenants(_ context.Context) ([]tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tenant.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b tenant.Tenant) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (m *mockRegistry) SetTenantDomains(_ context.Context, slug string, d tenant.Domains) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.get(slug)
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

func (m *mockRegistry) SetTenantActive(_ context.Context, slug string, active bool) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.get(slug)
	if err != nil {
		return nil, err
	}
	t.Active = active
	touch(t)
	return clone(t), nil
}

func (m *mockRegistry) BeginProvisioning(_ context.Context, slug string, from ...tenant.Status) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.get(slug)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(from, t.Status) {
		return nil, fmt.Errorf("tenant %s: %s -> provisioning: %w", slug, t.Status, domain.ErrInvalidTransition)
	}
	m.begins++
	t.Status = tenant.StatusProvisioning
	touch(t)
	return clone(t), nil
}

func (m *mockRegistry) AllocateSchema(_ context.Context, slug, schema string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.get(slug)
	if err != nil {
		return err
	}
	if t.Status != tenant.StatusProvisioning || (t.SchemaName != "" && t.SchemaName != schema) {
		return domain.ErrInvalidTransition
	}
	t.SchemaName = schema
	touch(t)
	return nil
}

func (m *mockRegistry) CompleteProvisioning(_ context.Context, slug string, r *tenant.ProvisionReport) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.get(slug)
	if err != nil {
		return nil, err
	}
	if t.Status != tenant.StatusProvisioning || t.SchemaName == "" {
		return nil, domain.ErrInvalidTransition
	}
	now := time.Now()
	t.Status, t.ProvisioningError, t.Report, t.ProvisionedAt = tenant.StatusReady, "", r, &now
	touch(t)
	return clone(t), nil
}

func (m *mockRegistry) FailProvisioning(_ context.Context, slug, reason string, r *tenant.ProvisionReport) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.get(slug)
	if err != nil {
		return nil, err
	}
	if t.Status != tenant.StatusProvisioning {
		return nil, domain.ErrInvalidTransition
	}
	now := time.Now()
	t.Status, t.ProvisioningError, t.Report, t.FailedAt = tenant.StatusFailed, reason, r, &now
	touch(t)
	return clone(t), nil
}

func (m *mockRegistry) RecordRepair(ctx context.Context, slug string, r *tenant.ProvisionReport) (*tenant.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.get(slug)
	if err != nil {
		return nil, err
	}
	if t.Status != tenant.StatusReady {
		return nil, domain.ErrInvalidTransition
	}
	t.Report = r
	touch(t)
	return clone(t), nil
}

func (m *mockRegistry) ClaimStaleProvisioning(_ context.Context, idle time.Duration) ([]tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tenant.Tenant
	cutoff := time.Now().Add(-idle)
	for _, t := range m.tenants {
		if t.Status == tenant.StatusProvisioning && t.UpdatedAt.Before(cutoff) {
			touch(t)
			out = append(out, *t)
		}
	}
	return out, nil
}

// age moves the tenant's updated_at back by d.
func (m *mockRegistry) age(slug string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[slug].UpdatedAt = m.tenants[slug].UpdatedAt.Add(-d)
}

func (m *mockRegistry) status(slug string) tenant.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tenants[slug].Status
}

// mockPartitions is an in-memory partition.Manager. Tables named in
// failTables fail to clone; failSchema fails schema creation.
type mockPartitions struct {
	mu         sync.Mutex
	shared     []string
	schemas    map[string]map[string]bool
	failTables map[string]bool
	failSchema bool
	clones     int
}

func newMockPartitions(shared ...string) *mockPartitions {
	return &mockPartitions{shared: shared, schemas: make(map[string]map[string]bool), failTables: make(map[string]bool)}
}

func (p *mockPartitions) CreateSchema(_ context.Context, schema string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSchema {
		return fmt.Errorf("permission denied for database")
	}
	if p.schemas[schema] == nil {
		p.schemas[schema] = make(map[string]bool)
	}
	return nil
}

func (p *mockPartitions) SharedTables(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.shared), nil
}

func (p *mockPartitions) CloneTable(_ context.Context, schema, table string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clones++
	if p.failTables[table] {
		return fmt.Errorf("relation %q does not exist", table)
	}
	s, ok := p.schemas[schema]
	if !ok {
		return fmt.Errorf("schema %q does not exist", schema)
	}
	s[table] = true
	return nil
}

func (p *mockPartitions) tables(schema string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for t := range p.schemas[schema] {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// recordingEvents is a broadcast.Broadcaster that keeps every event type.
type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingEvents) BroadcastEvent(_ context.Context, eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
}

func (r *recordingEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.types {
		if t == eventType {
			n++
		}
	}
	return n
}

// mockUsers implements both user store ports, keyed by partition.
type mockUsers struct {
	mu    sync.Mutex
	users map[string]map[string]*user.User // partition -> email -> user
	err   error
}

func newMockUsers() *mockUsers {
	return &mockUsers{users: make(map[string]map[string]*user.User)}
}

func (m *mockUsers) put(partition string, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.users[partition] == nil {
		m.users[partition] = make(map[string]*user.User)
	}
	if _, ok := m.users[partition][u.Email]; ok {
		return fmt.Errorf("create user %s: %w", u.Email, domain.ErrConflict)
	}
	c := *u
	m.users[partition][u.Email] = &c
	return nil
}

func (m *mockUsers) byEmail(partition, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[partition][email]
	if !ok {
		return nil, fmt.Errorf("get user %s: %w", email, domain.ErrNotFound)
	}
	c := *u
	return &c, nil
}
