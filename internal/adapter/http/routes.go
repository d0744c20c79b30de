package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/Strob0t/realtyhub/internal/config"
	"github.com/Strob0t/realtyhub/internal/domain/user"
	"github.com/Strob0t/realtyhub/internal/middleware"
)

// RouterDeps are the cross-cutting collaborators of the router.
type RouterDeps struct {
	Resolver middleware.TenantResolver
	Verifier middleware.CredentialVerifier
	// Tracing wraps every request in a span; nil disables tracing.
	Tracing func(http.Handler) http.Handler
}

// NewRouter builds the full HTTP handler: transport middleware, tenant
// resolution and binding, then the API routes.
func NewRouter(cfg *config.Config, h *Handlers, deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(CORS(cfg.Server.CORSOrigin, cfg.Tenancy.OverrideHeader))
	if deps.Tracing != nil {
		r.Use(deps.Tracing)
	}
	// Every request is bound to a partition before routing.
	r.Use(middleware.Tenant(deps.Resolver, cfg.Tenancy.OverrideHeader))
	r.Use(TagTenant)

	r.Get("/health", h.Health)

	// The event stream is long-lived; it must stay outside the request timeout.
	r.With(middleware.Auth(deps.Verifier), middleware.RequireRole(user.RoleSuperadmin)).
		Get("/api/v1/platform/events", h.Hub.HandleWS)

	r.Group(func(r chi.Router) {
		if cfg.Server.RequestTimeout > 0 {
			r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
		}
		MountRoutes(r, h, deps.Verifier, LoginLimiter(cfg.Rate.LoginPerMinute))
	})

	return r
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, verifier middleware.CredentialVerifier, loginLimit func(http.Handler) http.Handler) {
	auth := middleware.Auth(verifier)

	// Tenant-scoped API. The partition is the resolved tenant's.
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		r.With(loginLimit).Post("/auth/token", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Get("/auth/me", h.Me)
			r.With(middleware.RequireRole(user.RoleOwner, user.RoleManager)).Post("/users", h.CreateUser)
		})
	})

	// Platform API. These paths are exempt from tenant resolution and run
	// bound to the shared partition.
	r.Route("/api/v1/platform", func(r chi.Router) {
		r.With(loginLimit).Post("/auth/token", h.PlatformLogin)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Use(middleware.RequireRole(user.RoleSuperadmin))

			r.Get("/tenants", h.ListTenants)
			r.Post("/tenants", h.CreateTenant)
			r.Get("/tenants/{slug}", h.GetTenant)
			r.Put("/tenants/{slug}/domains", h.UpdateTenantDomains)
			r.Post("/tenants/{slug}/activate", h.ActivateTenant)
			r.Post("/tenants/{slug}/deactivate", h.DeactivateTenant)
			r.Post("/tenants/{slug}/provision", h.ProvisionTenant)
			r.Post("/tenants/{slug}/retry", h.RetryTenant)
			r.Post("/tenants/{slug}/resume", h.ResumeTenant)
			r.Post("/tenants/{slug}/repair", h.RepairTenant)
		})
	})
}

// LoginLimiter limits credential requests per client IP and host. A
// non-positive limit disables it.
func LoginLimiter(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, keyByHost),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			slog.WarnContext(r.Context(), "login rate limit exceeded",
				"ip", r.RemoteAddr,
				"host", r.Host,
				"path", r.URL.Path,
			)
			writeError(w, http.StatusTooManyRequests, "too many requests")
		}),
	)
}

func keyByHost(r *http.Request) (string, error) {
	return r.Host, nil
}
