package sink

import (
	"context"
	"strconv"
	"time"

	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/metric"
	"github.com/wp-labs/wp-open-api/model"
)

// Instrumented records sink call counts, sizes, latency and error codes.
type Instrumented struct {
	name    string
	inner   Sink
	metrics *metric.Metrics
}

// NewInstrumented wraps inner. A nil metrics set returns inner unchanged.
func NewInstrumented(name string, inner Sink, metrics *metric.Metrics) Sink {
	if metrics == nil {
		return inner
	}
	return &Instrumented{name: name, inner: inner, metrics: metrics}
}

func (m *Instrumented) observe(op string, items, size int, start time.Time, err error) error {
	if err != nil {
		m.metrics.RecordSinkError(m.name, op, strconv.Itoa(errors.Code(err)))
		return err
	}
	m.metrics.RecordSinkWrite(m.name, op, items, size, time.Since(start))
	return nil
}

func (m *Instrumented) Stop(ctx context.Context) error {
	err := m.inner.Stop(ctx)
	if err != nil {
		m.metrics.RecordSinkError(m.name, "stop", strconv.Itoa(errors.Code(err)))
	}
	return err
}

func (m *Instrumented) Flush(ctx context.Context) error {
	err := Flush(ctx, m.inner)
	if err != nil {
		m.metrics.RecordSinkError(m.name, "flush", strconv.Itoa(errors.Code(err)))
	}
	return err
}

func (m *Instrumented) Reconnect(ctx context.Context) error {
	err := m.inner.Reconnect(ctx)
	if err != nil {
		m.metrics.RecordSinkError(m.name, "reconnect", strconv.Itoa(errors.Code(err)))
		return err
	}
	m.metrics.RecordSinkReconnect(m.name)
	return nil
}

func (m *Instrumented) SinkRecord(ctx context.Context, rec model.SharedRecord) error {
	start := time.Now()
	return m.observe("record", 1, 0, start, m.inner.SinkRecord(ctx, rec))
}

func (m *Instrumented) SinkRecords(ctx context.Context, recs []model.SharedRecord) error {
	start := time.Now()
	return m.observe("records", len(recs), 0, start, m.inner.SinkRecords(ctx, recs))
}

func (m *Instrumented) SinkString(ctx context.Context, s string) error {
	start := time.Now()
	return m.observe("string", 1, len(s), start, m.inner.SinkString(ctx, s))
}

func (m *Instrumented) SinkBytes(ctx context.Context, b []byte) error {
	start := time.Now()
	return m.observe("bytes", 1, len(b), start, m.inner.SinkBytes(ctx, b))
}

func (m *Instrumented) SinkStrings(ctx context.Context, batch []string) error {
	start := time.Now()
	size := 0
	for _, s := range batch {
		size += len(s)
	}
	return m.observe("strings", len(batch), size, start, m.inner.SinkStrings(ctx, batch))
}

func (m *Instrumented) SinkBytesBatch(ctx context.Context, batch [][]byte) error {
	start := time.Now()
	return m.observe("bytes_batch", len(batch), totalSize(batch), start, m.inner.SinkBytesBatch(ctx, batch))
}
