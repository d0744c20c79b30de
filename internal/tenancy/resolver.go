package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cfotel "github.com/Strob0t/realtyhub/internal/adapter/otel"
	"github.com/Strob0t/realtyhub/internal/domain"
	"github.com/Strob0t/realtyhub/internal/domain/tenant"
	"github.com/Strob0t/realtyhub/internal/port/registry"
)

// ErrUnresolved means no routable tenant matches the request. Unknown,
// deactivated and not-yet-ready tenants all produce it. Requests that end
// here are rejected; there is no fallback to the shared partition.
var ErrUnresolved = errors.New("tenancy: no routable tenant for request")

// Source records which step of the resolution produced the tenant.
type Source string

const (
	SourceExempt    Source = "exempt"
	SourceOverride  Source = "override"
	SourceCache     Source = "cache"
	SourceDomain    Source = "domain"
	SourceSubdomain Source = "subdomain"
	SourceNone      Source = "none"
)

// Request is the part of an inbound request the resolver reads.
type Request struct {
	Path     string
	Host     string
	Override string // value of the tenant override header
}

// Resolution is the outcome of a successful resolution.
type Resolution struct {
	Tenant Context
	Source Source
}

// Resolver determines the tenant partition of a request.
type Resolver struct {
	registry registry.Reader
	cache    *DomainCache
	exempt   ExemptRoutes
	shared   string
	metrics  *cfotel.Metrics
}

// NewResolver creates a resolver. sharedSchema is bound for exempt routes.
func NewResolver(reg registry.Reader, dc *DomainCache, exempt ExemptRoutes, sharedSchema string, metrics *cfotel.Metrics) *Resolver {
	return &Resolver{
		registry: reg,
		cache:    dc,
		exempt:   exempt,
		shared:   sharedSchema,
		metrics:  metrics,
	}
}

// Resolve returns the tenant context for req, trying in order: exempt
// route, override header, domain cache, exact registry domain match,
// subdomain slug. It returns ErrUnresolved when nothing routable matches
// and a wrapped registry error when the registry could not be consulted.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	if r.exempt.Match(req.Path) {
		r.metrics.RecordResolution(ctx, string(SourceExempt), "ok")
		return Resolution{Tenant: Shared(r.shared), Source: SourceExempt}, nil
	}

	ctx, span := cfotel.StartResolveSpan(ctx, req.Host)
	defer span.End()

	res, err := r.resolve(ctx, req)
	switch {
	case err == nil:
		r.metrics.RecordResolution(ctx, string(res.Source), "ok")
	case errors.Is(err, ErrUnresolved):
		r.metrics.RecordResolution(ctx, string(SourceNone), "unresolved")
	default:
		span.RecordError(err)
		r.metrics.RecordResolution(ctx, string(SourceNone), "error")
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, req Request) (Resolution, error) {
	if override := strings.TrimSpace(req.Override); override != "" {
		snap, err := r.liveTenant(ctx, strings.ToLower(override))
		if err != nil {
			return Resolution{}, err
		}
		return resolved(snap, SourceOverride), nil
	}

	host := tenant.NormalizeHost(req.Host)
	if host == "" {
		return Resolution{}, ErrUnresolved
	}

	if slug, ok := r.cache.LookupHost(ctx, host); ok {
		snap, err := r.liveTenant(ctx, slug)
		if err == nil {
			return resolved(snap, SourceCache), nil
		}
		if !errors.Is(err, ErrUnresolved) {
			return Resolution{}, err
		}
		// The cached tenant is gone or disabled; the host may have moved.
		r.cache.Invalidate(ctx, host)
	}

	t, err := r.registry.GetTenantByDomain(ctx, host)
	switch {
	case err == nil:
		snap := SnapshotOf(t)
		r.cache.StoreTenant(ctx, snap)
		if !snap.Routable() {
			return Resolution{}, ErrUnresolved
		}
		r.cache.StoreHost(ctx, host, snap)
		return resolved(snap, SourceDomain), nil
	case !errors.Is(err, domain.ErrNotFound):
		return Resolution{}, fmt.Errorf("lookup domain %s: %w", host, err)
	}

	labels := strings.Split(host, ".")
	if len(labels) >= 3 {
		snap, err := r.liveTenant(ctx, labels[0])
		if err == nil {
			r.cache.StoreHost(ctx, host, snap)
			return resolved(snap, SourceSubdomain), nil
		}
		if !errors.Is(err, ErrUnresolved) {
			return Resolution{}, err
		}
	}

	return Resolution{}, ErrUnresolved
}

// liveTenant returns the snapshot of slug if the tenant is routable. The
// cached snapshot is authoritative until invalidated or expired.
func (r *Resolver) liveTenant(ctx context.Context, slug string) (Snapshot, error) {
	if tenant.ValidateSlug(slug) != nil {
		return Snapshot{}, ErrUnresolved
	}

	if snap, ok := r.cache.LookupTenant(ctx, slug); ok {
		if !snap.Routable() {
			return Snapshot{}, ErrUnresolved
		}
		return snap, nil
	}

	t, err := r.registry.GetTenantBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Snapshot{}, ErrUnresolved
		}
		return Snapshot{}, fmt.Errorf("lookup tenant %s: %w", slug, err)
	}

	snap := SnapshotOf(t)
	r.cache.StoreTenant(ctx, snap)
	if !snap.Routable() {
		return Snapshot{}, ErrUnresolved
	}
	return snap, nil
}

func resolved(s Snapshot, src Source) Resolution {
	return Resolution{Tenant: ForTenant(s.Slug, s.Schema), Source: src}
}
