package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/realtyhub/internal/config"
	"github.com/Strob0t/realtyhub/internal/domain"
	"github.com/Strob0t/realtyhub/internal/domain/user"
	"github.com/Strob0t/realtyhub/internal/tenancy"
)

// tenantUsers adapts mockUsers to the partition-scoped store port.
type tenantUsers struct{ *mockUsers }

func partitionOf(ctx context.Context) (string, error) {
	tc, ok := tenancy.FromContext(ctx)
	if !ok {
		return "", tenancy.ErrNoTenantContext
	}
	if tc.IsShared() {
		return "", tenancy.ErrSharedPartition
	}
	return tc.Schema, nil
}

func (s tenantUsers) CreateUser(ctx context.Context, u *user.User) error {
	p, err := partitionOf(ctx)
	if err != nil {
		return err
	}
	return s.put(p, u)
}

func (s tenantUsers) GetUser(ctx context.Context, id string) (*user.User, error) {
	p, err := partitionOf(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users[p] {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s tenantUsers) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	p, err := partitionOf(ctx)
	if err != nil {
		return nil, err
	}
	return s.byEmail(p, email)
}

type platformUsers struct{ *mockUsers }

func (s platformUsers) CreatePlatformUser(_ context.Context, u *user.User) error {
	return s.put("platform", u)
}

func (s platformUsers) GetPlatformUserByEmail(_ context.Context, email string) (*user.User, error) {
	return s.byEmail("platform", email)
}

func newTestAuthService(store *mockUsers) *AuthService {
	cfg := config.Auth{
		JWTSecret:         "test-secret-key-must-be-long-enough",
		Issuer:            "realtyhub",
		AccessTokenExpiry: config.Defaults().Auth.AccessTokenExpiry,
		BcryptCost:        4, // low cost for fast tests
	}
	return NewAuthService(tenantUsers{store}, platformUsers{store}, NewCredentialService(&cfg, nil), &cfg)
}

func TestAuthService_TenantLoginIsPartitionScoped(t *testing.T) {
	store := newMockUsers()
	svc := newTestAuthService(store)
	acme := tenantCtx(t, "acme")

	u, err := svc.CreateTenantUser(acme, &user.CreateRequest{
		Email: "owner@acme.test", Name: "Owner", Password: "Password123", Role: user.RoleOwner,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.PasswordHash == "Password123" || u.PasswordHash == "" {
		t.Error("password not hashed")
	}

	resp, err := svc.TenantLogin(acme, user.LoginRequest{Email: "owner@acme.test", Password: "Password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.AccessToken == "" || resp.TokenType != "Bearer" || resp.ExpiresIn <= 0 {
		t.Errorf("response = %+v", resp)
	}
	claims, err := svc.creds.Verify(acme, resp.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if claims.TenantSlug != "acme" || claims.Subject != u.ID {
		t.Errorf("claims = %+v", claims)
	}
	me, err := svc.CurrentUser(acme, claims)
	if err != nil || me.Email != "owner@acme.test" {
		t.Errorf("current user = %v, %v", me, err)
	}

	// The same credentials against another tenant find nothing.
	if _, err := svc.TenantLogin(tenantCtx(t, "beta"), user.LoginRequest{Email: "owner@acme.test", Password: "Password123"}); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials on beta, got %v", err)
	}
}

func TestAuthService_LoginFailures(t *testing.T) {
	store := newMockUsers()
	svc := newTestAuthService(store)
	ctx := tenantCtx(t, "acme")

	if _, err := svc.CreateTenantUser(ctx, &user.CreateRequest{
		Email: "agent@acme.test", Name: "Agent", Password: "Password123", Role: user.RoleAgent,
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  user.LoginRequest
		want error
	}{
		{"wrong password", user.LoginRequest{Email: "agent@acme.test", Password: "nope-nope"}, domain.ErrInvalidCredentials},
		{"unknown email", user.LoginRequest{Email: "ghost@acme.test", Password: "Password123"}, domain.ErrInvalidCredentials},
		{"missing password", user.LoginRequest{Email: "agent@acme.test"}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.TenantLogin(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	store.mu.Lock()
	store.users["acme"]["agent@acme.test"].Enabled = false
	store.mu.Unlock()
	if _, err := svc.TenantLogin(ctx, user.LoginRequest{Email: "agent@acme.test", Password: "Password123"}); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("disabled user: expected ErrInvalidCredentials, got %v", err)
	}

	store.err = errors.New("connection refused")
	_, err := svc.TenantLogin(ctx, user.LoginRequest{Email: "agent@acme.test", Password: "Password123"})
	if err == nil || errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("store outage must not read as bad credentials, got %v", err)
	}
}

func TestAuthService_PlatformLoginIssuesTenantlessCredential(t *testing.T) {
	store := newMockUsers()
	svc := newTestAuthService(store)
	shared := tenantCtx(t, "")

	if _, err := svc.CreatePlatformUser(shared, &user.CreateRequest{
		Email: "root@realtyhub.test", Name: "Root", Password: "Password123", Role: user.RoleSuperadmin,
	}); err != nil {
		t.Fatal(err)
	}
	resp, err := svc.PlatformLogin(shared, user.LoginRequest{Email: "root@realtyhub.test", Password: "Password123"})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := svc.creds.Verify(shared, resp.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if claims.TenantSlug != "" || claims.Role != user.RoleSuperadmin {
		t.Errorf("claims = %+v", claims)
	}
	if _, err := svc.creds.Verify(tenantCtx(t, "acme"), resp.AccessToken); !errors.Is(err, domain.ErrCrossTenantCredential) {
		t.Errorf("platform credential accepted on a tenant route: %v", err)
	}
}

func TestAuthService_CreateUserValidation(t *testing.T) {
	svc := newTestAuthService(newMockUsers())

	if _, err := svc.CreateTenantUser(tenantCtx(t, "acme"), &user.CreateRequest{
		Email: "x@acme.test", Name: "X", Password: "Password123", Role: user.RoleSuperadmin,
	}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("tenant superadmin: expected ErrValidation, got %v", err)
	}
	if _, err := svc.CreatePlatformUser(tenantCtx(t, ""), &user.CreateRequest{
		Email: "x@realtyhub.test", Name: "X", Password: "Password123", Role: user.RoleOwner,
	}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("platform owner: expected ErrValidation, got %v", err)
	}
	if _, err := svc.CreateTenantUser(tenantCtx(t, ""), &user.CreateRequest{
		Email: "x@acme.test", Name: "X", Password: "Password123", Role: user.RoleAgent,
	}); !errors.Is(err, tenancy.ErrSharedPartition) {
		t.Errorf("tenant user on shared partition: expected ErrSharedPartition, got %v", err)
	}
}
