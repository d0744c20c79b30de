package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/realtyhub/internal/tenancy"
)

// Querier is the statement surface of a bound connection.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pooledConn is a connection checked out of a pool.
type pooledConn interface {
	Querier
	Release()
	// Discard closes the connection instead of returning it to the pool.
	Discard()
}

type connSource interface {
	acquire(ctx context.Context) (pooledConn, error)
}

// Binder hands out connections bound to the partition of the caller's
// tenant context. It is the only path from request code to a pooled
// connection: every checkout selects the partition before the connection
// is returned, and the pool resets it on check-in (see NewPool).
type Binder struct {
	src    connSource
	shared string
}

// NewBinder creates a binder over pool. sharedSchema is appended to every
// tenant search_path so platform-only tables stay visible.
func NewBinder(pool *pgxpool.Pool, sharedSchema string) *Binder {
	return &Binder{src: poolSource{pool: pool}, shared: sharedSchema}
}

// Acquire checks out a connection and binds it to the tenant context of
// ctx. It fails with tenancy.ErrNoTenantContext if ctx was never bound.
// The caller must Release the returned connection.
func (b *Binder) Acquire(ctx context.Context) (*Conn, error) {
	tc, ok := tenancy.FromContext(ctx)
	if !ok {
		return nil, tenancy.ErrNoTenantContext
	}

	pc, err := b.src.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := pc.Exec(ctx, setSearchPath, searchPath(tc.Schema, b.shared)); err != nil {
		// The session state is unknown; never hand it to another borrower.
		pc.Discard()
		return nil, fmt.Errorf("bind partition %s: %w", tc.Schema, err)
	}

	return &Conn{pc: pc, tenant: tc}, nil
}

// Run acquires a bound connection, calls fn and releases the connection.
func (b *Binder) Run(ctx context.Context, fn func(Querier) error) error {
	conn, err := b.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(conn)
}

// RunTenant is Run for tenant-owned data. It refuses the shared partition.
func (b *Binder) RunTenant(ctx context.Context, fn func(Querier) error) error {
	tc, ok := tenancy.FromContext(ctx)
	if !ok {
		return tenancy.ErrNoTenantContext
	}
	if tc.IsShared() {
		return tenancy.ErrSharedPartition
	}
	return b.Run(ctx, fn)
}

// Conn is a pooled connection bound to one tenant partition.
type Conn struct {
	pc     pooledConn
	tenant tenancy.Context
	once   sync.Once
}

// Tenant returns the partition the connection is bound to.
func (c *Conn) Tenant() tenancy.Context { return c.tenant }

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.pc.Exec(ctx, sql, args...)
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.pc.Query(ctx, sql, args...)
}

func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.pc.QueryRow(ctx, sql, args...)
}

// Release returns the connection to the pool. It is safe to call twice.
func (c *Conn) Release() {
	c.once.Do(c.pc.Release)
}

type poolSource struct {
	pool *pgxpool.Pool
}

func (s poolSource) acquire(ctx context.Context) (pooledConn, error) {
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pgxConn{c}, nil
}

type pgxConn struct {
	*pgxpool.Conn
}

func (c pgxConn) Discard() {
	_ = c.Hijack().Close(context.Background())
}
