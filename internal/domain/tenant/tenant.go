// Package tenant defines the tenant registry model: identity, routing keys,
// partition reference and provisioning lifecycle.
package tenant

import "time"

// Status is the provisioning lifecycle state of a tenant partition.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProvisioning Status = "provisioning"
	StatusReady        Status = "ready"
	StatusFailed       Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProvisioning, StatusReady, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from s to next.
//
//	pending -> provisioning -> ready
//	provisioning -> failed -> provisioning
//
// ready is terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProvisioning
	case StatusProvisioning:
		return next == StatusReady || next == StatusFailed
	case StatusFailed:
		return next == StatusProvisioning
	}
	return false
}

// Domains holds the routing keys a tenant claims. Empty fields are unclaimed.
type Domains struct {
	Primary    string `json:"primary_domain,omitempty"`
	Backoffice string `json:"backoffice_domain,omitempty"`
	APIHost    string `json:"api_subdomain,omitempty"`
}

// Hosts returns the non-empty routing keys.
func (d Domains) Hosts() []string {
	hosts := make([]string, 0, 3)
	for _, h := range []string{d.Primary, d.Backoffice, d.APIHost} {
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Plan holds capacity attributes. The tenancy core records them but does
// not enforce them.
type Plan struct {
	MaxAgents   int             `json:"max_agents"`
	MaxListings int             `json:"max_listings"`
	Features    map[string]bool `json:"features,omitempty"`
}

// Tenant is one isolated customer organization in the registry.
type Tenant struct {
	ID                string           `json:"id"`
	Slug              string           `json:"slug"`
	DisplayName       string           `json:"display_name"`
	Domains           Domains          `json:"domains"`
	SchemaName        string           `json:"schema_name,omitempty"`
	Status            Status           `json:"status"`
	Active            bool             `json:"is_active"`
	ProvisioningError string           `json:"provisioning_error,omitempty"`
	Report            *ProvisionReport `json:"provisioning_report,omitempty"`
	Plan              Plan             `json:"plan"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ProvisionedAt     *time.Time       `json:"provisioned_at,omitempty"`
	FailedAt          *time.Time       `json:"failed_at,omitempty"`
}

// Routable reports whether requests may be bound to this tenant's partition.
// Only ready, active tenants with a recorded schema qualify.
func (t *Tenant) Routable() bool {
	return t != nil && t.Active && t.Status == StatusReady && t.SchemaName != ""
}

// CreateRequest holds the fields required to register a new tenant.
type CreateRequest struct {
	Slug        string  `json:"slug"`
	DisplayName string  `json:"display_name"`
	Domains     Domains `json:"domains"`
	Plan        Plan    `json:"plan"`
}
