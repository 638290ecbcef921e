// Package sinktest provides the conformance suite every sink connector runs
// in its own tests.
package sinktest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/model"
)

// SeqField names the field carrying the position of each suite record.
const SeqField = "suite_seq"

// Harness is one sink under test.
type Harness struct {
	Sink sink.Sink

	// Written returns the SeqField values of the records the sink has
	// written, in output order. It is called after Stop. Nil skips the
	// ordering checks.
	Written func(t *testing.T) []string
}

// Factory returns a fresh harness.
type Factory func(t *testing.T) Harness

// Records builds n records numbered from first.
func Records(first, n int) []model.SharedRecord {
	out := make([]model.SharedRecord, n)
	for i := range n {
		seq := first + i
		out[i] = model.NewRecord(
			model.FromDigit(SeqField, int64(seq)),
			model.FromChars("msg", fmt.Sprintf("event-%d", seq)),
		).Share()
	}
	return out
}

// SeqFromKV extracts the SeqField value from a line written in kv format.
func SeqFromKV(line string) (string, bool) {
	for _, part := range strings.Fields(line) {
		if v, ok := strings.CutPrefix(part, SeqField+"="); ok {
			return v, true
		}
	}
	return "", false
}

// StandardSinkTests runs the protocol checks against sinks built by factory.
func StandardSinkTests(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		test func(t *testing.T, h Harness)
	}{
		{"OrderPreserved", testOrderPreserved},
		{"ReconnectKeepsOrder", testReconnectKeepsOrder},
		{"StopIdempotent", testStopIdempotent},
		{"RejectsWritesAfterStop", testRejectsWritesAfterStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := factory(t)
			require.NotNil(t, h.Sink, "factory returned nil sink")
			tt.test(t, h)
		})
	}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func expectedSeq(first, n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = fmt.Sprint(first + i)
	}
	return out
}

func testOrderPreserved(t *testing.T, h Harness) {
	ctx := testCtx(t)
	require.NoError(t, h.Sink.SinkRecords(ctx, Records(1, 3)))
	require.NoError(t, h.Sink.SinkRecord(ctx, Records(4, 1)[0]))
	require.NoError(t, h.Sink.SinkRecords(ctx, Records(5, 2)))
	require.NoError(t, h.Sink.Stop(ctx))

	if h.Written == nil {
		t.Skip("sink output is not observable")
	}
	assert.Equal(t, expectedSeq(1, 6), h.Written(t))
}

func testReconnectKeepsOrder(t *testing.T, h Harness) {
	ctx := testCtx(t)
	require.NoError(t, h.Sink.SinkRecords(ctx, Records(1, 2)))
	require.NoError(t, h.Sink.Reconnect(ctx))
	require.NoError(t, h.Sink.SinkRecords(ctx, Records(3, 2)))
	require.NoError(t, h.Sink.Stop(ctx))

	if h.Written == nil {
		t.Skip("sink output is not observable")
	}
	assert.Equal(t, expectedSeq(1, 4), h.Written(t))
}

func testStopIdempotent(t *testing.T, h Harness) {
	ctx := testCtx(t)
	assert.NoError(t, h.Sink.Stop(ctx), "first Stop should succeed")
	assert.NoError(t, h.Sink.Stop(ctx), "second Stop should be idempotent")
}

func testRejectsWritesAfterStop(t *testing.T, h Harness) {
	ctx := testCtx(t)
	require.NoError(t, h.Sink.Stop(ctx))

	assert.Error(t, h.Sink.SinkRecord(ctx, Records(1, 1)[0]), "SinkRecord after Stop")
	assert.Error(t, h.Sink.SinkRecords(ctx, Records(1, 2)), "SinkRecords after Stop")
	assert.Error(t, h.Sink.SinkString(ctx, "late"), "SinkString after Stop")
	assert.Error(t, h.Sink.SinkBytes(ctx, []byte("late")), "SinkBytes after Stop")
	assert.Error(t, h.Sink.SinkStrings(ctx, []string{"a"}), "SinkStrings after Stop")
	assert.Error(t, h.Sink.SinkBytesBatch(ctx, [][]byte{[]byte("a")}), "SinkBytesBatch after Stop")

	if h.Written != nil {
		assert.Empty(t, h.Written(t), "nothing may be written after Stop")
	}
}
