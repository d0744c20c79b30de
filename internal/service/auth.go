package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/realtyhub/internal/config"
	"github.com/Strob0t/realtyhub/internal/domain"
	"github.com/Strob0t/realtyhub/internal/domain/user"
	"github.com/Strob0t/realtyhub/internal/port/database"
)

// AuthService handles password login for tenant users and platform
// operators and issues tenant-bound credentials.
type AuthService struct {
	tenantUsers   database.TenantUserStore
	platformUsers database.PlatformUserStore
	creds         *CredentialService
	cfg           *config.Auth
}

// NewAuthService creates a new authentication service.
func NewAuthService(tenantUsers database.TenantUserStore, platformUsers database.PlatformUserStore, creds *CredentialService, cfg *config.Auth) *AuthService {
	return &AuthService{
		tenantUsers:   tenantUsers,
		platformUsers: platformUsers,
		creds:         creds,
		cfg:           cfg,
	}
}

// TenantLogin authenticates a user of the tenant bound to ctx. The lookup
// runs against that tenant's partition only, so an account of another
// tenant with the same email never matches.
func (s *AuthService) TenantLogin(ctx context.Context, req user.LoginRequest) (*user.LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	u, err := s.tenantUsers.GetUserByEmail(ctx, req.Email)
	return s.login(ctx, u, err, req.Password)
}

// PlatformLogin authenticates a platform operator. ctx must be bound to
// the shared partition; the credential carries no tenant.
func (s *AuthService) PlatformLogin(ctx context.Context, req user.LoginRequest) (*user.LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	u, err := s.platformUsers.GetPlatformUserByEmail(ctx, req.Email)
	return s.login(ctx, u, err, req.Password)
}

func (s *AuthService) login(ctx context.Context, u *user.User, lookupErr error, password string) (*user.LoginResponse, error) {
	if lookupErr != nil {
		if errors.Is(lookupErr, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", lookupErr)
	}
	if !u.Enabled {
		return nil, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	token, err := s.creds.Issue(ctx, u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	return &user.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.creds.TTL().Seconds()),
		User:        *u,
	}, nil
}

// CreateTenantUser registers a user in the partition bound to ctx.
func (s *AuthService) CreateTenantUser(ctx context.Context, req *user.CreateRequest) (*user.User, error) {
	if err := req.Validate(false); err != nil {
		return nil, err
	}
	u, err := s.newUser(req)
	if err != nil {
		return nil, err
	}
	if err := s.tenantUsers.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// CreatePlatformUser registers a platform operator.
func (s *AuthService) CreatePlatformUser(ctx context.Context, req *user.CreateRequest) (*user.User, error) {
	if err := req.Validate(true); err != nil {
		return nil, err
	}
	u, err := s.newUser(req)
	if err != nil {
		return nil, err
	}
	if err := s.platformUsers.CreatePlatformUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create platform user: %w", err)
	}
	return u, nil
}

// CurrentUser returns the tenant user a verified credential was issued to.
func (s *AuthService) CurrentUser(ctx context.Context, claims *Claims) (*user.User, error) {
	return s.tenantUsers.GetUser(ctx, claims.Subject)
}

func (s *AuthService) newUser(req *user.CreateRequest) (*user.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &user.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
		Role:         req.Role,
		Enabled:      true,
	}, nil
}
