// Package registry defines the port for the durable tenant catalog.
package registry

import (
	"context"
	"time"

	"github.com/Strob0t/realtyhub/internal/domain/tenant"
)

// Reader is the lookup surface the tenant resolver needs.
// Both methods return an error wrapping domain.ErrNotFound on a miss.
type Reader interface {
	GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
	// GetTenantByDomain matches host exactly against every routing key.
	GetTenantByDomain(ctx context.Context, host string) (*tenant.Tenant, error)
}

// Registry is the full tenant catalog. Lifecycle methods are conditional
// updates: they return domain.ErrInvalidTransition when the tenant is not
// in a state the transition starts from.
type Registry interface {
	Reader

	CreateTenant(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error)
	ListTenants(ctx context.Context) ([]tenant.Tenant, error)

	// SetTenantDomains replaces all routing keys and returns the hosts the
	// tenant claimed before the change.
	SetTenantDomains(ctx context.Context, slug string, domains tenant.Domains) (previous []string, err error)
	SetTenantActive(ctx context.Context, slug string, active bool) (*tenant.Tenant, error)

	// BeginProvisioning moves the tenant to provisioning from one of the
	// given states.
	BeginProvisioning(ctx context.Context, slug string, from ...tenant.Status) (*tenant.Tenant, error)
	AllocateSchema(ctx context.Context, slug, schema string) error
	CompleteProvisioning(ctx context.Context, slug string, report *tenant.ProvisionReport) (*tenant.Tenant, error)
	FailProvisioning(ctx context.Context, slug, reason string, report *tenant.ProvisionReport) (*tenant.Tenant, error)
	// ClaimStaleProvisioning bumps updated_at on every tenant that has sat
	// in provisioning for longer than idle and returns them. A row claimed
	// by one caller is fresh again, so concurrent claimers never share it.
	ClaimStaleProvisioning(ctx context.Context, idle time.Duration) ([]tenant.Tenant, error)
	// RecordRepair stores the report of a repair run on a ready tenant
	// without changing its status.
	RecordRepair(ctx context.Context, slug string, report *tenant.ProvisionReport) (*tenant.Tenant, error)
}
