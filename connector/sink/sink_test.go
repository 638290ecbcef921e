package sink

import (
	"context"
	stderrors "errors"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/metric"
	"github.com/wp-labs/wp-open-api/pkg/retry"
)

func TestCompose_NilFacetsAreNoops(t *testing.T) {
	ctx := context.Background()
	s := Nop()
	assert.NoError(t, s.Stop(ctx))
	assert.NoError(t, s.Reconnect(ctx))
	assert.NoError(t, s.SinkRecords(ctx, seqRecords(1)))
	assert.NoError(t, s.SinkBytesBatch(ctx, [][]byte{[]byte("x")}))

	rec := &recorder{}
	s = Compose(nil, rec, nil)
	require.NoError(t, s.SinkRecord(ctx, seqRecords(7)[0]))
	require.NoError(t, s.SinkString(ctx, "dropped"))
	assert.Equal(t, []string{"7"}, rec.written())
}

func TestGuard_StopOnceAndReject(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	g := NewGuard("out", rec, nil)

	require.NoError(t, g.SinkRecords(ctx, seqRecords(1, 2)))
	require.NoError(t, g.Stop(ctx))
	require.NoError(t, g.Stop(ctx))
	assert.Equal(t, 1, rec.stops)
	assert.True(t, g.Stopped())

	err := g.SinkRecord(ctx, seqRecords(3)[0])
	assert.ErrorIs(t, err, errors.ErrClosed)
	assert.ErrorIs(t, g.Reconnect(ctx), errors.ErrClosed)
	assert.Equal(t, []string{"1", "2"}, rec.written())
	assert.Same(t, rec, g.Unwrap())
}

func TestGuard_StopErrorIsSticky(t *testing.T) {
	rec := &recorder{stopErr: errors.StgCtrl("close", nil)}
	g := NewGuard("out", rec, nil)
	err := g.Stop(context.Background())
	require.Error(t, err)
	assert.Equal(t, err, g.Stop(context.Background()))
	assert.Equal(t, 1, rec.stops)
}

func TestBatcher_FlushesAtSize(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	b := NewBatcher("out", rec, BatchConfig{Size: 3}, nil)

	require.NoError(t, b.SinkRecords(ctx, seqRecords(1, 2)))
	assert.Empty(t, rec.written())
	assert.Equal(t, 2, b.Pending())

	require.NoError(t, b.SinkRecord(ctx, seqRecords(3)[0]))
	assert.Equal(t, []string{"1", "2", "3"}, rec.written())
	assert.Equal(t, []string{"records:3"}, rec.callLog())

	require.NoError(t, b.SinkRecord(ctx, seqRecords(4)[0]))
	require.NoError(t, b.Stop(ctx))
	assert.Equal(t, []string{"1", "2", "3", "4"}, rec.written())
	assert.Equal(t, 1, rec.stops)
}

func TestBatcher_MixedWritesKeepOrder(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	b := NewBatcher("out", rec, BatchConfig{Size: 100}, nil)

	require.NoError(t, b.SinkRecords(ctx, seqRecords(1, 2)))
	require.NoError(t, b.SinkStrings(ctx, []string{"a", "b"}))
	require.NoError(t, b.SinkRecord(ctx, seqRecords(3)[0]))
	require.NoError(t, b.SinkBytes(ctx, []byte("c")))
	require.NoError(t, b.Flush(ctx))

	assert.Equal(t, []string{"1", "2", "a", "b", "3", "c"}, rec.written())
	assert.Equal(t, []string{"records:2", "bytes:2", "records:1", "bytes:1"}, rec.callLog())
}

func TestBatcher_FailedFlushRequeuesInOrder(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	b := NewBatcher("out", rec, BatchConfig{Size: 100}, nil)

	require.NoError(t, b.SinkRecords(ctx, seqRecords(1, 2)))
	require.NoError(t, b.SinkString(ctx, "x"))

	// records succeed, raw run fails
	rec.fail(nil, errors.SinkUnavailable("broker", nil))
	err := b.Flush(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, []string{"1", "2"}, rec.written())
	assert.Equal(t, 1, b.Pending())

	require.NoError(t, b.SinkRecord(ctx, seqRecords(3)[0]))
	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, []string{"1", "2", "x", "3"}, rec.written())
}

func TestBatcher_IntervalFlush(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher("out", rec, BatchConfig{Size: 100, Interval: 20 * time.Millisecond}, nil)
	defer b.Stop(context.Background())

	require.NoError(t, b.SinkRecords(context.Background(), seqRecords(1, 2)))
	require.Eventually(t, func() bool { return len(rec.written()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestBatcher_StopReportsLostItems(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	b := NewBatcher("out", rec, BatchConfig{Size: 100}, nil)

	require.NoError(t, b.SinkRecords(ctx, seqRecords(1, 2)))
	rec.fail(errors.SinkUnavailable("down", nil))
	err := b.Stop(ctx)
	require.Error(t, err, "a failed final flush must not look like success")
	assert.Equal(t, err, b.Stop(ctx))

	assert.ErrorIs(t, b.SinkRecord(ctx, seqRecords(3)[0]), errors.ErrClosed)
	assert.ErrorIs(t, b.Reconnect(ctx), errors.ErrClosed)
}

func TestWrap_FlushWritesThroughChain(t *testing.T) {
	ctx := context.Background()
	a, b := &recorder{}, &recorder{}
	m := metric.NewMetrics()
	batch := BatchConfig{Size: 100, Interval: time.Hour}
	opts := WrapOptions{Batch: &batch, Retry: ptr(fastRetry()), Metrics: m}
	bctx := NewBuildCtx("").WithLimit(1000)
	ga, gb := Wrap("a", a, bctx, opts), Wrap("b", b, bctx, opts)
	f := NewFanout(ga, gb)

	require.NoError(t, f.SinkBytesBatch(ctx, [][]byte{[]byte("x"), []byte("y")}))
	assert.Empty(t, a.written(), "held by the batcher")
	require.NoError(t, Flush(ctx, f))
	assert.Equal(t, []string{"x", "y"}, a.written())
	assert.Equal(t, []string{"x", "y"}, b.written())
	require.NoError(t, Flush(ctx, f), "nothing pending")

	require.NoError(t, ga.SinkString(ctx, "z"))
	a.fail(errors.StgCtrl("disk", nil))
	err := Flush(ctx, ga)
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkErrors.WithLabelValues("a", "flush", strconv.Itoa(errors.Code(err)))))
	require.NoError(t, Flush(ctx, ga), "failed items stay buffered")
	assert.Equal(t, []string{"x", "y", "z"}, a.written())

	require.NoError(t, f.Stop(ctx))
	assert.ErrorIs(t, ga.Flush(ctx), errors.ErrClosed)
	assert.NoError(t, Flush(ctx, a), "unbuffered sinks flush as a no-op")
}

func ptr[T any](v T) *T { return &v }

func TestRateLimited(t *testing.T) {
	rec := &recorder{}
	assert.Equal(t, Sink(rec), NewRateLimited(rec, 0))

	limited := NewRateLimited(rec, 100)
	rl, ok := limited.(*RateLimited)
	require.True(t, ok)
	assert.Equal(t, 100.0, rl.Limit())

	records := seqRecords(make([]int, 150)...)
	start := time.Now()
	require.NoError(t, limited.SinkRecords(context.Background(), records))
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond, "150 items at 100/s with burst 100")
	assert.Equal(t, []string{"records:150"}, rec.callLog(), "batch forwarded whole")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := limited.SinkRecords(ctx, records)
	assert.True(t, errors.IsTransient(err))
}

func TestInstrumented(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	assert.Equal(t, Sink(rec), NewInstrumented("out", rec, nil))

	m := metric.NewMetrics()
	s := NewInstrumented("out", rec, m)

	require.NoError(t, s.SinkRecords(ctx, seqRecords(1, 2, 3)))
	require.NoError(t, s.SinkBytesBatch(ctx, [][]byte{[]byte("ab"), []byte("cde")}))
	rec.fail(errors.SinkUnavailable("down", nil))
	require.Error(t, s.SinkString(ctx, "x"))
	require.NoError(t, s.Reconnect(ctx))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.SinkItems.WithLabelValues("out", "records")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SinkItems.WithLabelValues("out", "bytes_batch")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.SinkBytes.WithLabelValues("out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkErrors.WithLabelValues("out", "string", "510")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkReconnects.WithLabelValues("out")))
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetrying_SameBatchSameOrder(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	r := NewRetrying("out", rec, fastRetry(), nil)

	rec.fail(errors.SinkUnavailable("broker", nil), errors.SinkUnavailable("broker", nil))
	require.NoError(t, r.SinkRecords(ctx, seqRecords(1, 2, 3)))

	assert.Equal(t, []string{"records:3", "records:3", "records:3"}, rec.callLog())
	assert.Equal(t, []string{"1", "2", "3"}, rec.written())
	assert.Equal(t, 2, rec.reconnects)
}

func TestRetrying_DoesNotRetryPermanentErrors(t *testing.T) {
	ctx := context.Background()
	for name, cause := range map[string]error{
		"fatal":   errors.StgCtrl("schema", nil),
		"stopped": errors.SinkStopped("out"),
		"invalid": errors.SinkUvs(errors.UvsValidation, "bad record", nil),
	} {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			r := NewRetrying("out", rec, fastRetry(), nil)
			rec.fail(cause)
			err := r.SinkBytes(ctx, []byte("x"))
			assert.ErrorIs(t, err, cause)
			assert.Len(t, rec.callLog(), 1)
			assert.Zero(t, rec.reconnects)
		})
	}
}

func TestRetrying_GivesUp(t *testing.T) {
	rec := &recorder{}
	r := NewRetrying("out", rec, fastRetry(), nil)
	down := errors.SinkUnavailable("down", nil)
	rec.fail(down, down, down, down)

	err := r.SinkString(context.Background(), "x")
	assert.ErrorIs(t, err, down)
	assert.Len(t, rec.callLog(), 4)
	assert.Empty(t, rec.written())
}

func TestFanout(t *testing.T) {
	ctx := context.Background()
	a, b := &recorder{}, &recorder{}
	f := NewFanout(a, b)
	assert.Equal(t, 2, f.Len())

	records := seqRecords(1, 2, 3)
	require.NoError(t, f.SinkRecords(ctx, records))
	assert.Equal(t, []string{"1", "2", "3"}, a.written())
	assert.Equal(t, []string{"1", "2", "3"}, b.written())

	b.fail(errors.SinkUnavailable("b down", nil))
	err := f.SinkString(ctx, "x")
	require.Error(t, err)
	var se *errors.SinkError
	assert.True(t, stderrors.As(err, &se))
	assert.Equal(t, []string{"1", "2", "3", "x"}, a.written())

	require.NoError(t, f.Stop(ctx))
	assert.Equal(t, 1, a.stops)
	assert.Equal(t, 1, b.stops)
}

func TestBuildCtx(t *testing.T) {
	bctx := NewBuildCtx("/tmp/work")
	assert.Equal(t, 0, bctx.ReplicaIdx)
	assert.Equal(t, 1, bctx.ReplicaCnt)
	assert.Zero(t, bctx.RateLimitRPS)

	bctx = bctx.WithReplica(2, 0).WithLimit(500)
	assert.Equal(t, 2, bctx.ReplicaIdx)
	assert.Equal(t, 1, bctx.ReplicaCnt, "replica count is at least one")
	assert.Equal(t, 500, bctx.RateLimitRPS)
}

func TestSpec(t *testing.T) {
	spec := Spec{Group: "alerts", Name: "file", Kind: "file"}
	assert.Equal(t, "alerts/file", spec.FullName())
	assert.Equal(t, "file", Spec{Name: "file"}.FullName())
	assert.NoError(t, spec.Validate())
	assert.ErrorIs(t, Spec{Kind: "file"}.Validate(), errors.ErrMissingConfig)
	assert.ErrorIs(t, Spec{Name: "x"}.Validate(), errors.ErrMissingConfig)
}

func TestWrapOptionsFromParams(t *testing.T) {
	tests := []struct {
		name    string
		params  connector.ParamMap
		wantErr bool
		check   func(t *testing.T, opts WrapOptions)
	}{
		{
			name:   "defaults",
			params: nil,
			check: func(t *testing.T, opts WrapOptions) {
				require.NotNil(t, opts.Batch)
				assert.Equal(t, DefaultBatchConfig(), *opts.Batch)
				require.NotNil(t, opts.Retry)
				assert.Equal(t, 3, opts.Retry.MaxAttempts)
				assert.Equal(t, 100*time.Millisecond, opts.Retry.InitialDelay)
				assert.NotNil(t, opts.Logger)
				assert.Nil(t, opts.Metrics)
			},
		},
		{
			name:   "batching and retries disabled",
			params: connector.ParamMap{ParamBatchSize: 0, ParamRetryAttempts: 1},
			check: func(t *testing.T, opts WrapOptions) {
				assert.Nil(t, opts.Batch)
				assert.Nil(t, opts.Retry)
			},
		},
		{
			name: "explicit values",
			params: connector.ParamMap{
				ParamBatchSize:     10,
				ParamBatchInterval: "250ms",
				ParamRetryAttempts: 5,
				ParamRetryDelay:    "10s",
			},
			check: func(t *testing.T, opts WrapOptions) {
				assert.Equal(t, BatchConfig{Size: 10, Interval: 250 * time.Millisecond}, *opts.Batch)
				assert.Equal(t, 5, opts.Retry.MaxAttempts)
				assert.Equal(t, 10*time.Second, opts.Retry.InitialDelay)
				assert.Equal(t, 10*time.Second, opts.Retry.MaxDelay)
			},
		},
		{name: "bad size", params: connector.ParamMap{ParamBatchSize: "lots"}, wantErr: true},
		{name: "bad delay", params: connector.ParamMap{ParamRetryDelay: "soon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := WrapOptionsFromParams(tt.params, connector.Dependencies{})
			if tt.wantErr {
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			tt.check(t, opts)
		})
	}
}
