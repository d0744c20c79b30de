package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/realtyhub/internal/config"
	"github.com/Strob0t/realtyhub/internal/domain/user"
	"github.com/Strob0t/realtyhub/internal/middleware"
	"github.com/Strob0t/realtyhub/internal/service"
	"github.com/Strob0t/realtyhub/internal/tenancy"
)

func newCreds() *service.CredentialService {
	return service.NewCredentialService(&config.Auth{
		JWTSecret:         "test-secret-key-must-be-long-enough",
		Issuer:            "realtyhub",
		AccessTokenExpiry: 15 * time.Minute,
	}, nil)
}

func issue(t *testing.T, creds *service.CredentialService, slug string, role user.Role) string {
	t.Helper()
	ctx, err := tenancy.Bind(context.Background(), tenancy.ForTenant(slug, slug))
	if err != nil {
		t.Fatal(err)
	}
	token, err := creds.Issue(ctx, "user-1", role)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

// chain is the production order: resolve and bind, then authenticate.
func chain(creds *service.CredentialService, next http.Handler) http.Handler {
	return middleware.Tenant(newStubResolver(), "X-Tenant-Slug")(middleware.Auth(creds)(next))
}

func doRequest(h http.Handler, host, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", http.NoBody)
	req.Host = host
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth_AcceptsCredentialOfRequestTenant(t *testing.T) {
	creds := newCreds()
	var claims *service.Claims
	h := chain(creds, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims = middleware.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := doRequest(h, "acme.example.com", issue(t, creds, "acme", user.RoleAgent))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if claims == nil || claims.TenantSlug != "acme" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestAuth_EveryFailureLooksTheSame(t *testing.T) {
	creds := newCreds()
	h := chain(creds, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler reached with a rejected credential")
	}))

	acmeToken := issue(t, creds, "acme", user.RoleOwner)
	tests := map[string]string{
		"cross tenant": acmeToken,
		"malformed":    "garbage",
		"missing":      "",
		"truncated":    acmeToken[:len(acmeToken)-5],
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			rec := doRequest(h, "beta.example.com", token)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if body := strings.TrimSpace(rec.Body.String()); body != `{"error":"please re-authenticate"}` {
				t.Errorf("body = %s", body)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	creds := newCreds()
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := chain(creds, middleware.RequireRole(user.RoleOwner, user.RoleManager)(ok))

	if rec := doRequest(h, "acme.example.com", issue(t, creds, "acme", user.RoleOwner)); rec.Code != http.StatusOK {
		t.Errorf("owner: status = %d", rec.Code)
	}
	if rec := doRequest(h, "acme.example.com", issue(t, creds, "acme", user.RoleAgent)); rec.Code != http.StatusForbidden {
		t.Errorf("agent: status = %d, want 403", rec.Code)
	}

	// No auth middleware, so no claims in context.
	rec := httptest.NewRecorder()
	middleware.RequireRole(user.RoleOwner)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no claims: status = %d, want 401", rec.Code)
	}
}
