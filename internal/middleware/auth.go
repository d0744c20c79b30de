package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Strob0t/realtyhub/internal/domain/user"
	"github.com/Strob0t/realtyhub/internal/service"
)

// reauthMessage is the single response body for every credential failure:
// malformed, expired and cross-tenant credentials are indistinguishable to
// the client.
const reauthMessage = "please re-authenticate"

type claimsCtxKey struct{}

// CredentialVerifier verifies an access credential against the tenant
// bound to ctx.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (*service.Claims, error)
}

// Auth returns middleware that requires a valid bearer credential issued
// for the request's tenant. It must run after Tenant.
func Auth(verifier CredentialVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, reauthMessage)
				return
			}

			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				slog.DebugContext(r.Context(), "credential rejected", "error", err)
				writeError(w, http.StatusUnauthorized, reauthMessage)
				return
			}

			ctx := context.WithValue(r.Context(), claimsCtxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(h, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

// ClaimsFromContext returns the verified credential claims of the request.
func ClaimsFromContext(ctx context.Context) *service.Claims {
	c, _ := ctx.Value(claimsCtxKey{}).(*service.Claims)
	return c
}

// WithClaimsForTest returns ctx carrying claims. Exported only for tests
// that exercise handlers without the Auth middleware.
func WithClaimsForTest(ctx context.Context, claims *service.Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, claims)
}

// RequireRole returns middleware that restricts access to credentials
// holding one of the given roles.
func RequireRole(roles ...user.Role) func(http.Handler) http.Handler {
	allowed := make(map[user.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := ClaimsFromContext(r.Context())
			if c == nil {
				writeError(w, http.StatusUnauthorized, reauthMessage)
				return
			}
			if !allowed[c.Role] {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
