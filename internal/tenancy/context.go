// Package tenancy implements tenant resolution and the request-scoped
// tenant context that selects a request's database partition.
package tenancy

import (
	"context"
	"errors"

	"github.com/Strob0t/realtyhub/internal/logger"
)

var (
	// ErrNoTenantContext is returned when tenant-owned data is accessed
	// from a context the resolver never bound.
	ErrNoTenantContext = errors.New("tenancy: no tenant bound to context")
	// ErrAlreadyBound is returned when a context is bound a second time to
	// a different partition.
	ErrAlreadyBound = errors.New("tenancy: context already bound to another tenant")
	// ErrSharedPartition is returned when tenant-owned data is requested on
	// a tenant-exempt route.
	ErrSharedPartition = errors.New("tenancy: tenant data requested on the shared partition")
)

// Context is the request tenant context: the partition every statement of
// the request must run against. The zero value is invalid.
type Context struct {
	// Slug is empty for the shared partition.
	Slug string
	// Schema is the partition name.
	Schema string
}

// Shared returns the context for tenant-exempt routes.
func Shared(schema string) Context {
	return Context{Schema: schema}
}

// ForTenant returns the context for a routable tenant.
func ForTenant(slug, schema string) Context {
	return Context{Slug: slug, Schema: schema}
}

// IsShared reports whether c selects the shared partition.
func (c Context) IsShared() bool { return c.Slug == "" }

type ctxKey struct{}

// Bind stores tc in ctx. Binding is set-once: rebinding to the same
// partition is a no-op, rebinding to another fails with ErrAlreadyBound.
func Bind(ctx context.Context, tc Context) (context.Context, error) {
	if tc.Schema == "" {
		return ctx, errors.New("tenancy: bind requires a schema")
	}
	if cur, ok := FromContext(ctx); ok {
		if cur != tc {
			return ctx, ErrAlreadyBound
		}
		return ctx, nil
	}
	ctx = context.WithValue(ctx, ctxKey{}, tc)
	if tc.Slug != "" {
		ctx = logger.WithTenant(ctx, tc.Slug)
	}
	return ctx, nil
}

// FromContext returns the bound tenant context.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// Detach returns a fresh background context carrying the tenant binding and
// request id of parent but none of its deadline or cancellation. Use it
// when handing work to another goroutine that outlives the request; the
// tenant context does not cross goroutine boundaries on its own.
func Detach(parent context.Context) context.Context {
	ctx := context.Background()
	if id := logger.RequestID(parent); id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}
	if tc, ok := FromContext(parent); ok {
		ctx, _ = Bind(ctx, tc)
	}
	return ctx
}
