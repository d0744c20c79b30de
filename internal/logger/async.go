package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler writes records on background workers. Records below
// slog.LevelError are dropped when the buffer is full; errors (failed
// provisioning runs, cross-tenant rejections) wait for room instead.
// Context attributes must be added by an outer handler (see ContextHandler)
// because records are drained on a background context.
type AsyncHandler struct {
	inner  slog.Handler
	shared *asyncState
}

type asyncState struct {
	ch      chan queued
	wg      sync.WaitGroup
	dropped atomic.Int64
	root    slog.Handler
}

// queued pairs a record with the handler it was logged through, so
// WithAttrs/WithGroup derivatives keep their attributes.
type queued struct {
	h   slog.Handler
	rec slog.Record
}

// NewAsyncHandler creates an AsyncHandler with the given buffer capacity and worker count.
func NewAsyncHandler(inner slog.Handler, bufSize, workers int) *AsyncHandler {
	s := &asyncState{ch: make(chan queued, bufSize), root: inner}
	for range workers {
		s.wg.Add(1)
		go s.drain()
	}
	return &AsyncHandler{inner: inner, shared: s}
}

func (s *asyncState) drain() {
	defer s.wg.Done()
	for q := range s.ch {
		_ = q.h.Handle(context.Background(), q.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues a clone of the record; the record outlives this call.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	q := queued{h: h.inner, rec: rec.Clone()}
	if rec.Level >= slog.LevelError {
		h.shared.ch <- q
		return nil
	}
	select {
	case h.shared.ch <- q:
	default:
		h.shared.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), shared: h.shared}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), shared: h.shared}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.shared.dropped.Load()
}

// Close drains the buffer, stops the workers and, if anything was
// dropped, writes one synchronous warning with the total.
func (h *AsyncHandler) Close() {
	close(h.shared.ch)
	h.shared.wg.Wait()
	if n := h.shared.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async logger dropped records", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.shared.root.Handle(context.Background(), rec)
	}
}
