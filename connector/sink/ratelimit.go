package sink

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// RateLimited throttles writes to a number of items per second. A batch of
// n items consumes n tokens before it is forwarded whole.
type RateLimited struct {
	inner   Sink
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with an rps limit. A non-positive rps returns
// inner unchanged, since the build context treats zero as "no limit".
func NewRateLimited(inner Sink, rps int) Sink {
	if rps <= 0 {
		return inner
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Limit returns the configured items per second.
func (r *RateLimited) Limit() float64 { return float64(r.limiter.Limit()) }

func (r *RateLimited) wait(ctx context.Context, n int) error {
	burst := r.limiter.Burst()
	for n > 0 {
		k := min(n, burst)
		if err := r.limiter.WaitN(ctx, k); err != nil {
			return errors.SinkUvs(errors.UvsResource, "rate limit wait", err)
		}
		n -= k
	}
	return nil
}

func (r *RateLimited) Stop(ctx context.Context) error      { return r.inner.Stop(ctx) }
func (r *RateLimited) Reconnect(ctx context.Context) error { return r.inner.Reconnect(ctx) }
func (r *RateLimited) Flush(ctx context.Context) error     { return Flush(ctx, r.inner) }

func (r *RateLimited) SinkRecord(ctx context.Context, rec model.SharedRecord) error {
	if err := r.wait(ctx, 1); err != nil {
		return err
	}
	return r.inner.SinkRecord(ctx, rec)
}

func (r *RateLimited) SinkRecords(ctx context.Context, recs []model.SharedRecord) error {
	if err := r.wait(ctx, len(recs)); err != nil {
		return err
	}
	return r.inner.SinkRecords(ctx, recs)
}

func (r *RateLimited) SinkString(ctx context.Context, s string) error {
	if err := r.wait(ctx, 1); err != nil {
		return err
	}
	return r.inner.SinkString(ctx, s)
}

func (r *RateLimited) SinkBytes(ctx context.Context, b []byte) error {
	if err := r.wait(ctx, 1); err != nil {
		return err
	}
	return r.inner.SinkBytes(ctx, b)
}

func (r *RateLimited) SinkStrings(ctx context.Context, batch []string) error {
	if err := r.wait(ctx, len(batch)); err != nil {
		return err
	}
	return r.inner.SinkStrings(ctx, batch)
}

func (r *RateLimited) SinkBytesBatch(ctx context.Context, batch [][]byte) error {
	if err := r.wait(ctx, len(batch)); err != nil {
		return err
	}
	return r.inner.SinkBytesBatch(ctx, batch)
}
