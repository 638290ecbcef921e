package sink

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/wp-labs/wp-open-api/model"
)

// Fanout delivers every write to all of its sinks concurrently. Records are
// shared read-only, so no copy is made per sink. A call returns once every
// sink has finished; the error joins the individual failures.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a fan-out over sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Len returns the number of targets.
func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) each(fn func(s Sink) error) error {
	if len(f.sinks) == 1 {
		return fn(f.sinks[0])
	}
	errs := make([]error, len(f.sinks))
	var wg sync.WaitGroup
	for i, s := range f.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(s)
		}()
	}
	wg.Wait()
	return stderrors.Join(errs...)
}

func (f *Fanout) Stop(ctx context.Context) error {
	return f.each(func(s Sink) error { return s.Stop(ctx) })
}

func (f *Fanout) Flush(ctx context.Context) error {
	return f.each(func(s Sink) error { return Flush(ctx, s) })
}

func (f *Fanout) Reconnect(ctx context.Context) error {
	return f.each(func(s Sink) error { return s.Reconnect(ctx) })
}

func (f *Fanout) SinkRecord(ctx context.Context, rec model.SharedRecord) error {
	return f.each(func(s Sink) error { return s.SinkRecord(ctx, rec) })
}

func (f *Fanout) SinkRecords(ctx context.Context, recs []model.SharedRecord) error {
	return f.each(func(s Sink) error { return s.SinkRecords(ctx, recs) })
}

func (f *Fanout) SinkString(ctx context.Context, str string) error {
	return f.each(func(s Sink) error { return s.SinkString(ctx, str) })
}

func (f *Fanout) SinkBytes(ctx context.Context, b []byte) error {
	return f.each(func(s Sink) error { return s.SinkBytes(ctx, b) })
}

func (f *Fanout) SinkStrings(ctx context.Context, batch []string) error {
	return f.each(func(s Sink) error { return s.SinkStrings(ctx, batch) })
}

func (f *Fanout) SinkBytesBatch(ctx context.Context, batch [][]byte) error {
	return f.each(func(s Sink) error { return s.SinkBytesBatch(ctx, batch) })
}
