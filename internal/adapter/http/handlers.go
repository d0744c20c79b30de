package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/realtyhub/internal/adapter/ws"
	"github.com/Strob0t/realtyhub/internal/domain/tenant"
	"github.com/Strob0t/realtyhub/internal/domain/user"
	"github.com/Strob0t/realtyhub/internal/middleware"
	"github.com/Strob0t/realtyhub/internal/service"
)

// HealthCheck checks one backing dependency for the health endpoint.
type HealthCheck struct {
	Name string
	// Required checks turn the overall status to degraded when they fail.
	Required bool
	Check    func(ctx context.Context) error
}

// Handlers holds the services the HTTP handlers dispatch to.
type Handlers struct {
	Tenants      *service.TenantService
	Provisioning *service.ProvisioningService
	Auth         *service.AuthService
	Hub          *ws.Hub
	HealthChecks []HealthCheck
	Version      string
}

// --- Health ---

type healthStatus struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services"`
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Version: h.Version, Services: make(map[string]string, len(h.HealthChecks))}
	code := http.StatusOK
	for _, c := range h.HealthChecks {
		if err := c.Check(ctx); err != nil {
			slog.WarnContext(ctx, "health check failed", "service", c.Name, "error", err)
			status.Services[c.Name] = "unavailable"
			if c.Required {
				status.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
			continue
		}
		status.Services[c.Name] = "ok"
	}
	writeJSON(w, code, status)
}

// --- Tenant-scoped auth ---

// Login handles POST /api/v1/auth/token. The tenant is the one the request
// resolved to; the credential is valid for that tenant only.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.LoginRequest](w, r, defaultBodyLimit)
	if !ok {
		return
	}
	resp, err := h.Auth.TenantLogin(r.Context(), req)
	if err != nil {
		slog.DebugContext(r.Context(), "login failed", "email", req.Email, "error", err)
		writeDomainError(w, r, err, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Me handles GET /api/v1/auth/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	u, err := h.Auth.CurrentUser(r.Context(), claims)
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// CreateUser handles POST /api/v1/users
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.CreateRequest](w, r, defaultBodyLimit)
	if !ok {
		return
	}
	// Managers may add agents only.
	if c := middleware.ClaimsFromContext(r.Context()); c != nil && c.Role == user.RoleManager && req.Role != user.RoleAgent {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	u, err := h.Auth.CreateTenantUser(r.Context(), &req)
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// --- Platform ---

// PlatformLogin handles POST /api/v1/platform/auth/token
func (h *Handlers) PlatformLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.LoginRequest](w, r, defaultBodyLimit)
	if !ok {
		return
	}
	resp, err := h.Auth.PlatformLogin(r.Context(), req)
	if err != nil {
		slog.DebugContext(r.Context(), "platform login failed", "email", req.Email, "error", err)
		writeDomainError(w, r, err, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type createTenantRequest struct {
	tenant.CreateRequest
	// Provision defaults to true when omitted.
	Provision *bool `json:"provision,omitempty"`
}

// CreateTenant handles POST /api/v1/platform/tenants
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createTenantRequest](w, r, defaultBodyLimit)
	if !ok {
		return
	}
	provision := req.Provision == nil || *req.Provision
	t, err := h.Tenants.Create(r.Context(), req.CreateRequest, provision)
	if err != nil {
		writeDomainError(w, r, err, "tenant not found")
		return
	}
	status := http.StatusCreated
	if provision {
		status = http.StatusAccepted
	}
	writeJSON(w, status, t)
}

// ListTenants handles GET /api/v1/platform/tenants
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Tenants.List(r.Context())
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	if tenants == nil {
		tenants = []tenant.Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

// GetTenant handles GET /api/v1/platform/tenants/{slug}
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tenants.Get(r.Context(), urlParam(r, "slug"))
	if err != nil {
		writeDomainError(w, r, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// UpdateTenantDomains handles PUT /api/v1/platform/tenants/{slug}/domains
func (h *Handlers) UpdateTenantDomains(w http.ResponseWriter, r *http.Request) {
	domains, ok := readJSON[tenant.Domains](w, r, defaultBodyLimit)
	if !ok {
		return
	}
	t, err := h.Tenants.UpdateDomains(r.Context(), urlParam(r, "slug"), domains)
	if err != nil {
		writeDomainError(w, r, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ActivateTenant handles POST /api/v1/platform/tenants/{slug}/activate
func (h *Handlers) ActivateTenant(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivateTenant handles POST /api/v1/platform/tenants/{slug}/deactivate
func (h *Handlers) DeactivateTenant(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	t, err := h.Tenants.SetActive(r.Context(), urlParam(r, "slug"), active)
	if err != nil {
		writeDomainError(w, r, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ProvisionTenant handles POST /api/v1/platform/tenants/{slug}/provision
func (h *Handlers) ProvisionTenant(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Provisioning.Request)
}

// RetryTenant handles POST /api/v1/platform/tenants/{slug}/retry
func (h *Handlers) RetryTenant(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Provisioning.Retry)
}

// ResumeTenant handles POST /api/v1/platform/tenants/{slug}/resume
func (h *Handlers) ResumeTenant(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Provisioning.Resume)
}

func (h *Handlers) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*tenant.Tenant, error)) {
	t, err := op(r.Context(), urlParam(r, "slug"))
	if err != nil {
		writeDomainError(w, r, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

// RepairTenant handles POST /api/v1/platform/tenants/{slug}/repair. The
// repair runs in the background; its report replaces the tenant's report.
func (h *Handlers) RepairTenant(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Provisioning.Repair)
}
