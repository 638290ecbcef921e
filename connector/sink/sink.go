package sink

import (
	"context"

	"github.com/wp-labs/wp-open-api/model"
)

// Ctrl is the control facet.
type Ctrl interface {
	// Stop flushes and releases the sink. Idempotent; no write is accepted
	// once it returns.
	Stop(ctx context.Context) error

	// Reconnect rebuilds connections after a transient failure without
	// changing the sink's identity or ordering guarantees.
	Reconnect(ctx context.Context) error
}

// RecordSink is the structured-record facet. Records are shared read-only
// and must not be retained in mutable form.
type RecordSink interface {
	SinkRecord(ctx context.Context, rec model.SharedRecord) error

	// SinkRecords writes recs in order. An error means the batch was not
	// fully written.
	SinkRecords(ctx context.Context, recs []model.SharedRecord) error
}

// RawSink is the raw payload facet.
type RawSink interface {
	SinkString(ctx context.Context, s string) error
	SinkBytes(ctx context.Context, b []byte) error
	SinkStrings(ctx context.Context, batch []string) error
	SinkBytesBatch(ctx context.Context, batch [][]byte) error
}

// Sink combines all three facets. The runtime treats every sink uniformly
// through it; implementations embed the Nop facets they do not need.
type Sink interface {
	Ctrl
	RecordSink
	RawSink
}

// Flusher is implemented by sinks that hold accepted writes in memory.
// Flush returns once everything accepted so far has been written through.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Flush flushes s if it buffers writes and is a no-op otherwise.
func Flush(ctx context.Context, s Sink) error {
	if f, ok := s.(Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

// NopCtrl is a control facet with nothing to stop or reconnect.
type NopCtrl struct{}

func (NopCtrl) Stop(context.Context) error      { return nil }
func (NopCtrl) Reconnect(context.Context) error { return nil }

// NopRecords discards records.
type NopRecords struct{}

func (NopRecords) SinkRecord(context.Context, model.SharedRecord) error    { return nil }
func (NopRecords) SinkRecords(context.Context, []model.SharedRecord) error { return nil }

// NopRaw discards raw payloads.
type NopRaw struct{}

func (NopRaw) SinkString(context.Context, string) error       { return nil }
func (NopRaw) SinkBytes(context.Context, []byte) error        { return nil }
func (NopRaw) SinkStrings(context.Context, []string) error    { return nil }
func (NopRaw) SinkBytesBatch(context.Context, [][]byte) error { return nil }

type composed struct {
	Ctrl
	RecordSink
	RawSink
}

// Compose assembles a Sink from facets. Nil facets become no-ops.
func Compose(ctrl Ctrl, records RecordSink, raw RawSink) Sink {
	if ctrl == nil {
		ctrl = NopCtrl{}
	}
	if records == nil {
		records = NopRecords{}
	}
	if raw == nil {
		raw = NopRaw{}
	}
	return composed{Ctrl: ctrl, RecordSink: records, RawSink: raw}
}

// Nop returns a sink that accepts and discards everything.
func Nop() Sink { return Compose(nil, nil, nil) }

func stringsToBytes(batch []string) [][]byte {
	out := make([][]byte, len(batch))
	for i, s := range batch {
		out[i] = []byte(s)
	}
	return out
}

func totalSize(batch [][]byte) int {
	n := 0
	for _, b := range batch {
		n += len(b)
	}
	return n
}
