package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/realtyhub/internal/domain/user"
)

const userColumns = `id, email, name, password_hash, role, enabled, created_at`

func scanUser(row scannable) (*user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.Enabled, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Platform users (shared schema) ---

func (s *Store) CreatePlatformUser(ctx context.Context, u *user.User) error {
	u.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO platform_users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Role, u.Enabled, u.CreatedAt)
	if err != nil {
		return conflictWrap(err, "create platform user %s", u.Email)
	}
	return nil
}

func (s *Store) GetPlatformUserByEmail(ctx context.Context, email string) (*user.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM platform_users WHERE email = $1`, email))
	if err != nil {
		return nil, notFoundWrap(err, "get platform user %s", email)
	}
	return u, nil
}

// TenantUserStore reads and writes the users table of the partition bound
// to the caller's context. It has no pool of its own.
type TenantUserStore struct {
	binder *Binder
}

// NewTenantUserStore creates a tenant user store over binder.
func NewTenantUserStore(binder *Binder) *TenantUserStore {
	return &TenantUserStore{binder: binder}
}

func (s *TenantUserStore) CreateUser(ctx context.Context, u *user.User) error {
	u.CreatedAt = time.Now().UTC()
	return s.binder.RunTenant(ctx, func(q Querier) error {
		_, err := q.Exec(ctx,
			`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			u.ID, u.Email, u.Name, u.PasswordHash, u.Role, u.Enabled, u.CreatedAt)
		if err != nil {
			return conflictWrap(err, "create user %s", u.Email)
		}
		return nil
	})
}

func (s *TenantUserStore) GetUser(ctx context.Context, id string) (*user.User, error) {
	var u *user.User
	err := s.binder.RunTenant(ctx, func(q Querier) error {
		var err error
		u, err = scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
		if err != nil {
			return notFoundWrap(err, "get user %s", id)
		}
		return nil
	})
	return u, err
}

func (s *TenantUserStore) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	var u *user.User
	err := s.binder.RunTenant(ctx, func(q Querier) error {
		var err error
		u, err = scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
		if err != nil {
			return notFoundWrap(err, "get user by email %s", email)
		}
		return nil
	})
	return u, err
}

func (s *TenantUserStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.binder.RunTenant(ctx, func(q Querier) error {
		if err := q.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		return nil
	})
	return n, err
}
