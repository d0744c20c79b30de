// Package database defines the user store ports (interfaces).
package database

import (
	"context"

	"github.com/Strob0t/realtyhub/internal/domain/user"
)

// TenantUserStore reads and writes users of the partition bound to ctx.
// Calls on an unbound context fail with tenancy.ErrNoTenantContext.
type TenantUserStore interface {
	CreateUser(ctx context.Context, u *user.User) error
	GetUser(ctx context.Context, id string) (*user.User, error)
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
}

// PlatformUserStore reads and writes platform operators in the shared schema.
type PlatformUserStore interface {
	CreatePlatformUser(ctx context.Context, u *user.User) error
	GetPlatformUserByEmail(ctx context.Context, email string) (*user.User, error)
}
