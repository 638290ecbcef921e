package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// Guard enforces the stop contract around any sink: Stop reaches the inner
// sink once, waits for in-flight writes, and every later call fails with
// errors.SinkStopped.
type Guard struct {
	name   string
	inner  Sink
	logger *slog.Logger

	mu      sync.RWMutex
	stopped bool
	stopErr error
}

// NewGuard wraps inner.
func NewGuard(name string, inner Sink, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{name: name, inner: inner, logger: logger}
}

// Name returns the sink name.
func (g *Guard) Name() string { return g.name }

// Unwrap returns the guarded sink.
func (g *Guard) Unwrap() Sink { return g.inner }

// Stopped reports whether Stop has been called.
func (g *Guard) Stopped() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stopped
}

func (g *Guard) enter(fn func() error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.stopped {
		return errors.SinkStopped(g.name)
	}
	return fn()
}

// Stop stops the inner sink the first time it is called and returns that
// result on every call.
func (g *Guard) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return g.stopErr
	}
	g.stopped = true
	g.stopErr = g.inner.Stop(ctx)
	if g.stopErr != nil {
		g.logger.Warn("sink stopped with error", "component", g.name, "error", g.stopErr)
	} else {
		g.logger.Debug("sink stopped", "component", g.name)
	}
	return g.stopErr
}

// Flush writes through everything the chain has buffered.
func (g *Guard) Flush(ctx context.Context) error {
	return g.enter(func() error { return Flush(ctx, g.inner) })
}

func (g *Guard) Reconnect(ctx context.Context) error {
	return g.enter(func() error { return g.inner.Reconnect(ctx) })
}

func (g *Guard) SinkRecord(ctx context.Context, rec model.SharedRecord) error {
	return g.enter(func() error { return g.inner.SinkRecord(ctx, rec) })
}

func (g *Guard) SinkRecords(ctx context.Context, recs []model.SharedRecord) error {
	return g.enter(func() error { return g.inner.SinkRecords(ctx, recs) })
}

func (g *Guard) SinkString(ctx context.Context, s string) error {
	return g.enter(func() error { return g.inner.SinkString(ctx, s) })
}

func (g *Guard) SinkBytes(ctx context.Context, b []byte) error {
	return g.enter(func() error { return g.inner.SinkBytes(ctx, b) })
}

func (g *Guard) SinkStrings(ctx context.Context, batch []string) error {
	return g.enter(func() error { return g.inner.SinkStrings(ctx, batch) })
}

func (g *Guard) SinkBytesBatch(ctx context.Context, batch [][]byte) error {
	return g.enter(func() error { return g.inner.SinkBytesBatch(ctx, batch) })
}
