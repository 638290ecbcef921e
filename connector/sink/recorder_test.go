package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/wp-labs/wp-open-api/model"
)

// recorder is an in-package test double that keeps every write in order.
type recorder struct {
	mu         sync.Mutex
	seq        []string
	calls      []string
	stops      int
	reconnects int
	failures   []error
	stopErr    error
}

func (r *recorder) fail(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, errs...)
}

func (r *recorder) next(call string) error {
	r.calls = append(r.calls, call)
	if len(r.failures) == 0 {
		return nil
	}
	err := r.failures[0]
	r.failures = r.failures[1:]
	return err
}

func (r *recorder) written() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seq...)
}

func (r *recorder) callLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return r.stopErr
}

func (r *recorder) Reconnect(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnects++
	return nil
}

func (r *recorder) SinkRecord(_ context.Context, rec model.SharedRecord) error {
	return r.SinkRecords(context.Background(), []model.SharedRecord{rec})
}

func (r *recorder) SinkRecords(_ context.Context, recs []model.SharedRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.next(fmt.Sprintf("records:%d", len(recs))); err != nil {
		return err
	}
	for _, rec := range recs {
		v, _ := rec.Value("seq")
		r.seq = append(r.seq, v.String())
	}
	return nil
}

func (r *recorder) SinkString(ctx context.Context, s string) error {
	return r.SinkBytesBatch(ctx, [][]byte{[]byte(s)})
}

func (r *recorder) SinkBytes(ctx context.Context, b []byte) error {
	return r.SinkBytesBatch(ctx, [][]byte{b})
}

func (r *recorder) SinkStrings(ctx context.Context, batch []string) error {
	return r.SinkBytesBatch(ctx, stringsToBytes(batch))
}

func (r *recorder) SinkBytesBatch(_ context.Context, batch [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.next(fmt.Sprintf("bytes:%d", len(batch))); err != nil {
		return err
	}
	for _, b := range batch {
		r.seq = append(r.seq, string(b))
	}
	return nil
}

func seqRecords(seqs ...int) []model.SharedRecord {
	out := make([]model.SharedRecord, len(seqs))
	for i, s := range seqs {
		out[i] = model.NewRecord(model.FromDigit("seq", int64(s))).Share()
	}
	return out
}
