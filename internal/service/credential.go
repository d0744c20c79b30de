package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	cfotel "github.com/Strob0t/realtyhub/internal/adapter/otel"
	"github.com/Strob0t/realtyhub/internal/config"
	"github.com/Strob0t/realtyhub/internal/domain"
	"github.com/Strob0t/realtyhub/internal/domain/user"
	"github.com/Strob0t/realtyhub/internal/secrets"
	"github.com/Strob0t/realtyhub/internal/tenancy"
)

// Claims are the claims of an access credential. TenantSlug binds the
// credential to the tenant it was issued for; it is empty for credentials
// issued on tenant-exempt routes.
type Claims struct {
	jwt.RegisteredClaims
	Role       user.Role `json:"role"`
	TenantSlug string    `json:"tenant_slug,omitempty"`
}

// CredentialService issues and verifies tenant-bound access credentials.
type CredentialService struct {
	keys    func() (current, previous []byte)
	issuer  string
	ttl     time.Duration
	metrics *cfotel.Metrics
	now     func() time.Time
}

// NewCredentialService creates a credential service. metrics may be nil.
func NewCredentialService(cfg *config.Auth, metrics *cfotel.Metrics) *CredentialService {
	secret := []byte(cfg.JWTSecret)
	return &CredentialService{
		keys:    func() ([]byte, []byte) { return secret, nil },
		issuer:  cfg.Issuer,
		ttl:     cfg.AccessTokenExpiry,
		metrics: metrics,
		now:     time.Now,
	}
}

// UseVault makes the service read its signing secret from v under name.
// A vault reload rotates the secret without a restart; credentials signed
// with the replaced secret keep verifying until they expire.
func (s *CredentialService) UseVault(v *secrets.Vault, name string) {
	s.keys = func() ([]byte, []byte) {
		return []byte(v.Get(name)), []byte(v.Previous(name))
	}
}

// TTL returns the lifetime of issued credentials.
func (s *CredentialService) TTL() time.Duration { return s.ttl }

// Issue signs a credential for subject bound to the tenant of ctx.
func (s *CredentialService) Issue(ctx context.Context, subject string, role user.Role) (string, error) {
	tc, ok := tenancy.FromContext(ctx)
	if !ok {
		return "", tenancy.ErrNoTenantContext
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
		Role:       role,
		TenantSlug: tc.Slug,
	}
	current, _ := s.keys()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(current)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry and tenant binding of token against the
// tenant of ctx. A credential issued for another tenant, or a tenant
// credential presented on an exempt route, fails with
// domain.ErrCrossTenantCredential and is logged as a security event.
func (s *CredentialService) Verify(ctx context.Context, token string) (*Claims, error) {
	tc, ok := tenancy.FromContext(ctx)
	if !ok {
		return nil, tenancy.ErrNoTenantContext
	}

	current, previous := s.keys()
	claims, err := s.parse(token, current)
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) && len(previous) > 0 {
		claims, err = s.parse(token, previous)
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, domain.ErrCredentialExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialMalformed, err)
	}

	if claims.TenantSlug != tc.Slug {
		slog.WarnContext(ctx, "credential presented for another tenant",
			"event", "cross_tenant_access",
			"subject", claims.Subject,
			"credential_tenant", claims.TenantSlug,
			"request_tenant", tc.Slug,
			"jti", claims.ID,
		)
		s.metrics.RecordCrossTenantRejection(ctx)
		return nil, domain.ErrCrossTenantCredential
	}
	return claims, nil
}

func (s *CredentialService) parse(token string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	return claims, err
}
