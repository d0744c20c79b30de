// Package cachetest provides a compliance suite for cache.Cache adapters.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/realtyhub/internal/port/cache"
)

// Run runs the standard compliance test suite against any Cache
// implementation. Adapters that apply writes asynchronously must make them
// visible before Set returns.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "host:acme.example.com", []byte("acme"), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "host:acme.example.com")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != "acme" {
			t.Fatalf("expected acme, got %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "host:nonexistent.example.com")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "tenant:beta", []byte(`{"slug":"beta"}`), time.Minute)
		if err := c.Delete(ctx, "tenant:beta"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "tenant:beta")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "tenant:never-existed"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "host:moved.example.com", []byte("acme"), time.Minute)
		_ = c.Set(ctx, "host:moved.example.com", []byte("beta"), time.Minute)
		val, found, err := c.Get(ctx, "host:moved.example.com")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "beta" {
			t.Fatalf("expected beta after overwrite, got %s", val)
		}
	})
}
