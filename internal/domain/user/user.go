// Package user defines the user domain model for authentication and authorization.
package user

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/Strob0t/realtyhub/internal/domain"
)

// Role represents the authorization level of a user.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleAgent   Role = "agent"

	// RoleSuperadmin is held only by platform operators. Its credentials
	// carry no tenant and are accepted on platform routes only.
	RoleSuperadmin Role = "superadmin"
)

// TenantRoles is the set of roles a tenant user may hold.
var TenantRoles = map[Role]bool{
	RoleOwner:   true,
	RoleManager: true,
	RoleAgent:   true,
}

// User represents a registered user, either inside one tenant partition
// or, for platform operators, in the shared schema.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"` // never serialized
	Role         Role      `json:"role"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateRequest is the input for registering a new user.
type CreateRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"` //nolint:gosec // request field, not a hardcoded secret
	Role     Role   `json:"role"`
}

// Validate checks that the CreateRequest has all required fields. Platform
// users must be superadmins; tenant users must hold a tenant role.
func (r *CreateRequest) Validate(platform bool) error {
	if r.Email == "" {
		return fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("%w: invalid email format", domain.ErrValidation)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if len(r.Password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", domain.ErrValidation)
	}
	switch {
	case platform && r.Role != RoleSuperadmin:
		return fmt.Errorf("%w: platform users must have role superadmin", domain.ErrValidation)
	case !platform && !TenantRoles[r.Role]:
		return fmt.Errorf("%w: invalid role: must be owner, manager, or agent", domain.ErrValidation)
	}
	return nil
}

// LoginRequest is the input for user authentication.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"` //nolint:gosec // request field, not a hardcoded secret
}

// Validate checks that the LoginRequest has all required fields.
func (r *LoginRequest) Validate() error {
	if r.Email == "" {
		return fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	if r.Password == "" {
		return fmt.Errorf("%w: password is required", domain.ErrValidation)
	}
	return nil
}

// LoginResponse is returned after successful authentication.
type LoginResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // response field, not a hardcoded secret
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds until access token expires
	User        User   `json:"user"`
}
