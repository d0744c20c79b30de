package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Strob0t/realtyhub/internal/adapter/ws"
	"github.com/Strob0t/realtyhub/internal/domain/tenant"
	"github.com/Strob0t/realtyhub/internal/port/broadcast"
	"github.com/Strob0t/realtyhub/internal/port/registry"
)

// TenantService manages the tenant catalog: registration, routing keys and
// activation. Every change that affects routing invalidates cached state
// before it returns.
type TenantService struct {
	reg         registry.Registry
	prov        *ProvisioningService
	invalidator *Invalidator
	events      broadcast.Broadcaster
}

// NewTenantService creates a new TenantService. events may be nil.
func NewTenantService(reg registry.Registry, prov *ProvisioningService, invalidator *Invalidator, events broadcast.Broadcaster) *TenantService {
	return &TenantService{reg: reg, prov: prov, invalidator: invalidator, events: events}
}

// Create validates and registers a new tenant, then requests provisioning
// of its partition. The returned tenant is in provisioning, or pending if
// provision is false.
func (s *TenantService) Create(ctx context.Context, req tenant.CreateRequest, provision bool) (*tenant.Tenant, error) {
	req.Domains = req.Domains.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	t, err := s.reg.CreateTenant(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "tenant created", "slug", t.Slug, "hosts", t.Domains.Hosts())
	if !provision {
		return t, nil
	}
	return s.prov.Request(ctx, t.Slug)
}

// Get returns a tenant by slug.
func (s *TenantService) Get(ctx context.Context, slug string) (*tenant.Tenant, error) {
	return s.reg.GetTenantBySlug(ctx, slug)
}

// List returns all tenants.
func (s *TenantService) List(ctx context.Context) ([]tenant.Tenant, error) {
	return s.reg.ListTenants(ctx)
}

// UpdateDomains replaces the routing keys of a tenant. Hosts released by
// the change stop resolving on every replica.
func (s *TenantService) UpdateDomains(ctx context.Context, slug string, domains tenant.Domains) (*tenant.Tenant, error) {
	domains = domains.Normalize()
	if err := domains.Validate(); err != nil {
		return nil, err
	}
	previous, err := s.reg.SetTenantDomains(ctx, slug, domains)
	if err != nil {
		return nil, err
	}

	affected := append(previous, domains.Hosts()...)
	slices.Sort(affected)
	affected = slices.Compact(affected)

	t, err := s.reg.GetTenantBySlug(ctx, slug)
	if err != nil {
		// Still drop the released hosts; no version means no stale-write guard.
		s.invalidator.Invalidate(ctx, slug, time.Time{}, affected...)
		return nil, fmt.Errorf("reload tenant %s: %w", slug, err)
	}
	s.invalidator.Invalidate(ctx, slug, t.UpdatedAt, affected...)
	slog.InfoContext(ctx, "tenant domains updated", "slug", slug, "previous", previous, "hosts", domains.Hosts())
	s.emitRouting(ctx, t)
	return t, nil
}

// SetActive activates or deactivates a tenant. A deactivated tenant stops
// resolving with the next request on every replica.
func (s *TenantService) SetActive(ctx context.Context, slug string, active bool) (*tenant.Tenant, error) {
	t, err := s.reg.SetTenantActive(ctx, slug, active)
	if err != nil {
		return nil, err
	}
	s.invalidator.Invalidate(ctx, slug, t.UpdatedAt, t.Domains.Hosts()...)
	slog.InfoContext(ctx, "tenant activation changed", "slug", slug, "active", active)
	s.emitRouting(ctx, t)
	return t, nil
}

func (s *TenantService) emitRouting(ctx context.Context, t *tenant.Tenant) {
	if s.events == nil {
		return
	}
	s.events.BroadcastEvent(ctx, ws.EventTenantRouting, ws.TenantRoutingEvent{
		Slug: t.Slug, Active: t.Active, Hosts: t.Domains.Hosts(),
	})
}
