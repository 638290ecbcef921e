//go:build integration

package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/metric"
)

func TestIntegration_Connect(t *testing.T) {
	tc := NewTestClient(t)

	assert.True(t, tc.Client.IsHealthy())
	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
	assert.Greater(t, tc.Client.GetStatus().RTT, time.Duration(0))
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		got  []string
		subj []string
	)
	_, err := tc.Client.Subscribe(ctx, "events.>", "", func(_ context.Context, msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(msg.Data))
		subj = append(subj, msg.Subject)
	})
	require.NoError(t, err)
	require.NoError(t, tc.Client.Flush(ctx))

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, tc.Client.Publish(ctx, "events."+s, []byte(s)))
	}
	require.NoError(t, tc.Client.Flush(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, []string{"events.a", "events.b", "events.c"}, subj)
}

func TestIntegration_QueueGroupSharesMessages(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()
	other := tc.NewClient(t)

	var (
		mu    sync.Mutex
		count int
	)
	handler := func(context.Context, *nats.Msg) {
		mu.Lock()
		count++
		mu.Unlock()
	}
	_, err := tc.Client.Subscribe(ctx, "work", "replicas", handler)
	require.NoError(t, err)
	_, err = other.Subscribe(ctx, "work", "replicas", handler)
	require.NoError(t, err)
	require.NoError(t, tc.Client.Flush(ctx))
	require.NoError(t, other.Flush(ctx))

	for range 20 {
		require.NoError(t, tc.Client.Publish(ctx, "work", []byte("x")))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 20
	}, 2*time.Second, 10*time.Millisecond, "each message delivered once across the group")
}

func TestIntegration_JetStreamOrderedConsumer(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	tc := NewTestClient(t, WithJetStream(), WithClientOptions(WithMetrics(registry)))
	ctx := context.Background()

	_, err := tc.Client.EnsureStream(ctx, jetstream.StreamConfig{Name: "EVENTS", Subjects: []string{"events.>"}})
	require.NoError(t, err)

	for i, s := range []string{"a", "b", "c", "d"} {
		seq, err := tc.Client.PublishToStream(ctx, "events.x", []byte(s))
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), seq)
	}

	consumer, err := tc.Client.OrderedConsumer(ctx, "EVENTS", jetstream.OrderedConsumerConfig{
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:   3,
	})
	require.NoError(t, err)

	batch, err := consumer.Fetch(2, jetstream.FetchMaxWait(2*time.Second))
	require.NoError(t, err)
	var got []string
	for msg := range batch.Messages() {
		got = append(got, string(msg.Data()))
	}
	assert.Equal(t, []string{"c", "d"}, got)

	tc.Client.jsMetrics.updateStats(ctx)
	assert.Equal(t, 4.0, testutil.ToFloat64(tc.Client.jsMetrics.streamMessages.WithLabelValues("EVENTS")))
}

func TestIntegration_Checkpoints(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx := context.Background()

	cp, err := tc.Client.NewCheckpoints(ctx, "checkpoints")
	require.NoError(t, err)

	_, ok, err := cp.Load(ctx, "src")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cp.Save(ctx, "src", 10))
	require.NoError(t, cp.Save(ctx, "src", 7), "older position is ignored")
	pos, ok, err := cp.Load(ctx, "src")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(10), pos)

	require.NoError(t, cp.Reset(ctx, "src", 3))
	pos, _, err = cp.Load(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), pos)

	// reopening uses the existing bucket
	again, err := tc.Client.NewCheckpoints(ctx, "checkpoints")
	require.NoError(t, err)
	pos, _, err = again.Load(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), pos)
}

func TestIntegration_CheckpointsConcurrentSaves(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx := context.Background()

	cp, err := tc.Client.NewCheckpoints(ctx, "checkpoints")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, cp.Save(ctx, "src", uint64(i+1)))
		}()
	}
	wg.Wait()

	pos, _, err := cp.Load(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), pos)
}
