// Package sourcetest provides the conformance suite every source connector
// runs in its own tests.
package sourcetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
)

// StopLatency is the longest a pending Receive may take to return after a
// Stop control event is published.
const StopLatency = time.Second

// Factory returns a fresh, unstarted source. When idle is true the source
// must have no data to deliver, so that Receive blocks.
type Factory func(t *testing.T, idle bool) source.Source

type result struct {
	batch source.Batch
	err   error
}

// StandardSourceTests runs the protocol checks against sources built by
// factory.
func StandardSourceTests(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		test func(t *testing.T, factory Factory)
	}{
		{"DoubleStart", testDoubleStart},
		{"CloseIdempotent", testCloseIdempotent},
		{"CloseWithoutStart", testCloseWithoutStart},
		{"ReceiveAfterClose", testReceiveAfterClose},
		{"StopInterruptsReceive", testStopInterruptsReceive},
		{"CapsConsistency", testCapsConsistency},
		{"TryReceiveWellDefined", testTryReceiveWellDefined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.test(t, factory)
		})
	}
}

func start(t *testing.T, src source.Source) *source.Broadcaster {
	t.Helper()
	b := source.NewBroadcaster(4)
	t.Cleanup(b.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, src.Start(ctx, b.Subscribe()), "Start should succeed on a fresh source")
	return b
}

func closeSource(t *testing.T, src source.Source) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return src.Close(ctx)
}

func receiveAsync(src source.Source) <-chan result {
	out := make(chan result, 1)
	go func() {
		batch, err := src.Receive(context.Background())
		out <- result{batch, err}
	}()
	return out
}

func testDoubleStart(t *testing.T, factory Factory) {
	src := factory(t, true)
	start(t, src)
	defer closeSource(t, src)

	err := src.Start(context.Background(), nil)
	assert.Error(t, err, "second Start should fail")
}

func testCloseIdempotent(t *testing.T, factory Factory) {
	src := factory(t, true)
	start(t, src)

	assert.NoError(t, closeSource(t, src), "first Close should succeed")
	assert.NoError(t, closeSource(t, src), "second Close should be idempotent")
}

func testCloseWithoutStart(t *testing.T, factory Factory) {
	src := factory(t, true)
	assert.NoError(t, closeSource(t, src), "Close should be safe without Start")
}

func testReceiveAfterClose(t *testing.T, factory Factory) {
	src := factory(t, true)
	start(t, src)
	require.NoError(t, closeSource(t, src))

	select {
	case res := <-receiveAsync(src):
		if res.err == nil {
			assert.Empty(t, res.batch, "Receive after Close returns an empty batch or an error")
		} else {
			assertClassified(t, res.err)
		}
	case <-time.After(StopLatency):
		t.Fatal("Receive after Close did not return")
	}
}

func testStopInterruptsReceive(t *testing.T, factory Factory) {
	src := factory(t, true)
	b := start(t, src)
	defer closeSource(t, src)

	pending := receiveAsync(src)
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Publish(ctx, source.Stop{}))

	select {
	case res := <-pending:
		if res.err != nil {
			assertClassified(t, res.err)
		}
	case <-time.After(StopLatency):
		t.Fatalf("Receive still pending %v after Stop", StopLatency)
	}
}

func testCapsConsistency(t *testing.T, factory Factory) {
	src := factory(t, true)
	start(t, src)
	defer closeSource(t, src)

	caps := src.Caps()
	ctx := context.Background()
	if !caps.Ack {
		err := src.Ack(ctx, source.Offset(0))
		require.Error(t, err, "Ack must fail when caps report no ack support")
		assert.True(t, errors.IsUnsupported(err), "Ack error should be the unsupported error, got %v", err)
	}
	if !caps.Seek {
		err := src.Seek(ctx, source.Offset(0))
		require.Error(t, err, "Seek must fail when caps report no seek support")
		assert.True(t, errors.IsUnsupported(err), "Seek error should be the unsupported error, got %v", err)
	}
}

func testTryReceiveWellDefined(t *testing.T, factory Factory) {
	src := factory(t, true)
	start(t, src)
	defer closeSource(t, src)

	done := make(chan struct{})
	go func() {
		defer close(done)
		batch, ok := source.TryReceive(src)
		if !source.SupportsTryReceive(src) {
			assert.False(t, ok)
			assert.Nil(t, batch)
		}
	}()

	select {
	case <-done:
	case <-time.After(StopLatency):
		t.Fatal("TryReceive blocked")
	}
}

func assertClassified(t *testing.T, err error) {
	t.Helper()
	if err == context.Canceled || err == context.DeadlineExceeded {
		return
	}
	var coder errors.Coder
	assert.ErrorAs(t, err, &coder, "source errors carry a reason code: %v", err)
}
