package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/metric"
	"github.com/wp-labs/wp-open-api/pkg/retry"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Nil(t, client.Conn())
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for range 4 {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for range 5 {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.Equal(t, time.Second, client.Backoff())

	for range 5 {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for range 5 {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	for range 100 {
		client.recordFailure()
	}
	assert.Equal(t, time.Minute, client.Backoff())
}

func TestCircuitBreaker_ConnectFailsFast(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)
	client.recordFailure()
	require.Equal(t, StatusCircuitOpen, client.Status())

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.True(t, errors.IsTransient(err))
}

func TestCircuitBreaker_HalfOpensAfterBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)
	client.recordFailure()
	require.Equal(t, StatusCircuitOpen, client.Status())

	assert.Eventually(t, func() bool {
		return client.Status() == StatusDisconnected
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConcurrentSafety(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				fn()
			}
		}()
	}
	run(func() { client.setStatus(StatusConnecting) })
	run(func() { client.setStatus(StatusConnected) })
	run(func() { _ = client.Status() })
	run(client.recordFailure)
	run(client.resetCircuit)
	wg.Wait()

	assert.Contains(t, []ConnectionStatus{
		StatusDisconnected, StatusConnecting, StatusConnected, StatusReconnecting, StatusCircuitOpen,
	}, client.Status())
}

func TestIsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		status   ConnectionStatus
		expected bool
	}{
		{"connected is healthy", StatusConnected, true},
		{"disconnected is not healthy", StatusDisconnected, false},
		{"connecting is not healthy", StatusConnecting, false},
		{"reconnecting is not healthy", StatusReconnecting, false},
		{"circuit open is not healthy", StatusCircuitOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient("nats://localhost:4222")
			require.NoError(t, err)
			client.setStatus(tt.status)
			assert.Equal(t, tt.expected, client.IsHealthy())
		})
	}
}

func TestWaitForConnection(t *testing.T) {
	t.Run("times out when not connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err = client.WaitForConnection(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.True(t, errors.IsTransient(err))
	})

	t.Run("returns when becomes connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		go func() {
			time.Sleep(30 * time.Millisecond)
			client.setStatus(StatusConnected)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, client.WaitForConnection(ctx))
	})
}

func TestOperationsRequireConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"publish", func() error { return client.Publish(ctx, "a", []byte("x")) }},
		{"flush", func() error { return client.Flush(ctx) }},
		{"subscribe", func() error {
			_, err := client.Subscribe(ctx, "a", "", nil)
			return err
		}},
		{"rtt", func() error {
			_, err := client.RTT()
			return err
		}},
		{"ensure stream", func() error {
			_, err := client.EnsureStream(ctx, jetstream.StreamConfig{Name: "s"})
			return err
		}},
		{"get stream", func() error {
			_, err := client.GetStream(ctx, "s")
			return err
		}},
		{"publish to stream", func() error {
			_, err := client.PublishToStream(ctx, "a", nil)
			return err
		}},
		{"ordered consumer", func() error {
			_, err := client.OrderedConsumer(ctx, "s", jetstream.OrderedConsumerConfig{})
			return err
		}},
		{"kv bucket", func() error {
			_, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "b"})
			return err
		}},
		{"delete kv bucket", func() error { return client.DeleteKeyValueBucket(ctx, "b") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.ErrorIs(t, err, errors.ErrNoConnection)
			assert.True(t, errors.IsTransient(err))
		})
	}
}

func TestConnect_RetriesThenGivesUp(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(50*time.Millisecond),
		WithCircuitBreakerThreshold(10),
		WithConnectRetry(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	)
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, int32(3), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.NoError(t, client.Close(context.Background()))
	assert.NoError(t, client.Close(context.Background()))

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrClosed)
}

func TestConnectionOptions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithCredentials("user", "pass"),
		WithToken("tok"),
		WithTLS("cert.pem", "key.pem", "ca.pem"),
		WithName("wpipe"),
		WithCompression(true),
	)
	require.NoError(t, err)

	// 9 base options plus auth, token, cert, CA, name and compression
	assert.Len(t, client.ConnectionOptions(), 15)
}

func TestWithMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	client, err := NewClient("nats://localhost:4222", WithMetrics(registry))
	require.NoError(t, err)
	require.NotNil(t, client.jsMetrics)

	m := registry.CoreMetrics()
	client.setStatus(StatusConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))

	client.setStatus(StatusCircuitOpen)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSCircuitBreaker))

	client.handleReconnect(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSReconnects))
	assert.Equal(t, int64(1), client.GetStatus().Reconnects)

	// a second client on the same registry would duplicate the JetStream gauges
	_, err = NewClient("nats://localhost:4222", WithMetrics(registry))
	assert.True(t, errors.IsInvalid(err))
}

func TestCallbacks(t *testing.T) {
	disconnected := make(chan error, 1)
	reconnected := make(chan struct{}, 1)
	health := make(chan bool, 4)

	client, err := NewClient("nats://localhost:4222",
		WithDisconnectCallback(func(err error) { disconnected <- err }),
		WithReconnectCallback(func() { reconnected <- struct{}{} }),
		WithHealthChangeCallback(func(h bool) { health <- h }),
	)
	require.NoError(t, err)

	client.handleDisconnect(nil, assert.AnError)
	assert.Equal(t, StatusReconnecting, client.Status())
	assert.Equal(t, assert.AnError, <-disconnected)
	assert.False(t, <-health)

	client.handleReconnect(nil)
	assert.Equal(t, StatusConnected, client.Status())
	<-reconnected
	assert.True(t, <-health)
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.True(t, isAlreadyExistsError(jetstream.ErrBucketExists))
	assert.True(t, isAlreadyExistsError(assertErr("stream name already in use")))
	assert.False(t, isAlreadyExistsError(assertErr("timeout")))
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(jetstream.ErrKeyNotFound))
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.False(t, IsKVNotFoundError(nil))

	assert.True(t, IsKVConflictError(jetstream.ErrKeyExists))
	assert.True(t, IsKVConflictError(ErrKVRevisionMismatch))
	assert.True(t, IsKVConflictError(assertErr("nats: wrong last sequence: 4")))
	assert.False(t, IsKVConflictError(nil))
	assert.False(t, IsKVConflictError(ErrKVKeyNotFound))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
