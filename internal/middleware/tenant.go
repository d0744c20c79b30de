package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Strob0t/realtyhub/internal/tenancy"
)

// UnresolvedStatus is the response status for a request whose tenant
// cannot be resolved. Unknown, deactivated and not-yet-ready tenants get
// the same status and body.
const UnresolvedStatus = http.StatusNotFound

const unresolvedMessage = "tenant not found"

// TenantResolver determines the tenant partition of a request.
type TenantResolver interface {
	Resolve(ctx context.Context, req tenancy.Request) (tenancy.Resolution, error)
}

// Tenant resolves the tenant of every request and binds its partition to
// the request context before any handler runs. Nothing downstream sees a
// request that was not bound.
func Tenant(resolver TenantResolver, overrideHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			res, err := resolver.Resolve(ctx, tenancy.Request{
				Path:     r.URL.Path,
				Host:     r.Host,
				Override: r.Header.Get(overrideHeader),
			})
			switch {
			case errors.Is(err, tenancy.ErrUnresolved):
				slog.DebugContext(ctx, "tenant unresolved", "host", r.Host, "path", r.URL.Path)
				writeError(w, UnresolvedStatus, unresolvedMessage)
				return
			case err != nil:
				slog.ErrorContext(ctx, "tenant resolution failed", "host", r.Host, "error", err)
				writeError(w, http.StatusServiceUnavailable, "tenant registry unavailable")
				return
			}

			ctx, err = tenancy.Bind(ctx, res.Tenant)
			if err != nil {
				slog.ErrorContext(ctx, "tenant bind failed", "tenant", res.Tenant.Slug, "error", err)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
