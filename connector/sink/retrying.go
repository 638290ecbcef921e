package sink

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
	"github.com/wp-labs/wp-open-api/pkg/retry"
)

// Retrying retries transient write failures with backoff, reconnecting the
// inner sink between attempts. A retried batch is the same slice in the
// same order.
type Retrying struct {
	name   string
	inner  Sink
	cfg    retry.Config
	logger *slog.Logger
}

// NewRetrying wraps inner. Unless cfg sets its own predicate, only
// transient errors are retried and a stopped sink never is.
func NewRetrying(name string, inner Sink, cfg retry.Config, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retrying{name: name, inner: inner, logger: logger}
	if cfg.Retryable == nil {
		cfg.Retryable = retryableSinkError
	}
	if cfg.BeforeRetry == nil {
		cfg.BeforeRetry = r.reconnect
	}
	r.cfg = cfg
	return r
}

func retryableSinkError(err error) bool {
	if stderrors.Is(err, errors.ErrClosed) || stderrors.Is(err, context.Canceled) {
		return false
	}
	return errors.IsTransient(err)
}

func (r *Retrying) reconnect(ctx context.Context, attempt int, cause error) error {
	r.logger.Warn("sink write failed, reconnecting",
		"component", r.name,
		"attempt", attempt,
		"error", cause)

	if err := r.inner.Reconnect(ctx); err != nil {
		if !errors.IsTransient(err) {
			return errors.OweSink(err, r.name+" reconnect")
		}
		r.logger.Warn("reconnect failed, will retry", "component", r.name, "error", err)
	}
	return nil
}

func (r *Retrying) do(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, r.cfg, fn)
}

func (r *Retrying) Stop(ctx context.Context) error      { return r.inner.Stop(ctx) }
func (r *Retrying) Reconnect(ctx context.Context) error { return r.inner.Reconnect(ctx) }
func (r *Retrying) Flush(ctx context.Context) error     { return Flush(ctx, r.inner) }

func (r *Retrying) SinkRecord(ctx context.Context, rec model.SharedRecord) error {
	return r.do(ctx, func() error { return r.inner.SinkRecord(ctx, rec) })
}

func (r *Retrying) SinkRecords(ctx context.Context, recs []model.SharedRecord) error {
	return r.do(ctx, func() error { return r.inner.SinkRecords(ctx, recs) })
}

func (r *Retrying) SinkString(ctx context.Context, s string) error {
	return r.do(ctx, func() error { return r.inner.SinkString(ctx, s) })
}

func (r *Retrying) SinkBytes(ctx context.Context, b []byte) error {
	return r.do(ctx, func() error { return r.inner.SinkBytes(ctx, b) })
}

func (r *Retrying) SinkStrings(ctx context.Context, batch []string) error {
	return r.do(ctx, func() error { return r.inner.SinkStrings(ctx, batch) })
}

func (r *Retrying) SinkBytesBatch(ctx context.Context, batch [][]byte) error {
	return r.do(ctx, func() error { return r.inner.SinkBytesBatch(ctx, batch) })
}
