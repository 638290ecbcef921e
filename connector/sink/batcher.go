package sink

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// BatchConfig controls a Batcher.
type BatchConfig struct {
	// Size is the number of buffered items that triggers a flush.
	Size int `json:"size" yaml:"size" toml:"size"`
	// Interval is the background flush period. Zero disables it.
	Interval time.Duration `json:"interval" yaml:"interval" toml:"interval"`
}

// DefaultBatchConfig returns a 100 item, 1s batching policy.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{Size: 100, Interval: time.Second}
}

type entry struct {
	rec   model.SharedRecord
	raw   []byte
	isRaw bool
}

// Batcher buffers writes and hands them to the inner sink in caller order.
// Consecutive records reach the inner sink through SinkRecords and
// consecutive raw payloads through SinkBytesBatch. A failed flush keeps the
// unwritten items at the head of the buffer so the next flush retries them
// in the same order.
type Batcher struct {
	name     string
	inner    Sink
	size     int
	interval time.Duration
	logger   *slog.Logger

	bufferMu sync.Mutex
	pending  []entry
	flushErr error

	flushMu sync.Mutex

	stopped   atomic.Bool
	shutdown  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	stopErr   error
}

// NewBatcher wraps inner and starts the background flush loop when
// cfg.Interval is positive.
func NewBatcher(name string, inner Sink, cfg BatchConfig, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Batcher{
		name:     name,
		inner:    inner,
		size:     max(cfg.Size, 1),
		interval: cfg.Interval,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
	if b.interval > 0 {
		b.wg.Add(1)
		go b.flushLoop()
	}
	return b
}

// Pending returns the number of buffered items.
func (b *Batcher) Pending() int {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	return len(b.pending)
}

func (b *Batcher) add(ctx context.Context, items ...entry) error {
	if b.stopped.Load() {
		return errors.SinkStopped(b.name)
	}

	b.bufferMu.Lock()
	if err := b.flushErr; err != nil {
		b.flushErr = nil
		b.bufferMu.Unlock()
		return err
	}
	b.pending = append(b.pending, items...)
	shouldFlush := len(b.pending) >= b.size
	b.bufferMu.Unlock()

	if shouldFlush {
		return b.flush(ctx)
	}
	return nil
}

func (b *Batcher) SinkRecord(ctx context.Context, rec model.SharedRecord) error {
	return b.add(ctx, entry{rec: rec})
}

func (b *Batcher) SinkRecords(ctx context.Context, recs []model.SharedRecord) error {
	items := make([]entry, len(recs))
	for i, rec := range recs {
		items[i] = entry{rec: rec}
	}
	return b.add(ctx, items...)
}

func (b *Batcher) SinkString(ctx context.Context, s string) error {
	return b.add(ctx, entry{raw: []byte(s), isRaw: true})
}

func (b *Batcher) SinkBytes(ctx context.Context, p []byte) error {
	return b.add(ctx, entry{raw: p, isRaw: true})
}

func (b *Batcher) SinkStrings(ctx context.Context, batch []string) error {
	return b.SinkBytesBatch(ctx, stringsToBytes(batch))
}

func (b *Batcher) SinkBytesBatch(ctx context.Context, batch [][]byte) error {
	items := make([]entry, len(batch))
	for i, p := range batch {
		items[i] = entry{raw: p, isRaw: true}
	}
	return b.add(ctx, items...)
}

// Flush writes everything buffered so far and then flushes the inner sink.
// A background failure whose items have now been written is cleared.
func (b *Batcher) Flush(ctx context.Context) error {
	if err := b.flush(ctx); err != nil {
		return err
	}
	b.bufferMu.Lock()
	b.flushErr = nil
	b.bufferMu.Unlock()
	return Flush(ctx, b.inner)
}

func (b *Batcher) flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.bufferMu.Lock()
	items := b.pending
	b.pending = nil
	b.bufferMu.Unlock()

	if len(items) == 0 {
		return nil
	}

	for start := 0; start < len(items); {
		end := start + 1
		for end < len(items) && items[end].isRaw == items[start].isRaw {
			end++
		}
		if err := b.writeRun(ctx, items[start:end]); err != nil {
			b.requeue(items[start:])
			b.logger.Warn("batch flush failed",
				"component", b.name,
				"written", start,
				"requeued", len(items)-start,
				"error", err)
			return errors.OweSink(err, b.name+" flush")
		}
		start = end
	}

	b.logger.Debug("batch flushed", "component", b.name, "items", len(items))
	return nil
}

func (b *Batcher) writeRun(ctx context.Context, run []entry) error {
	if run[0].isRaw {
		batch := make([][]byte, len(run))
		for i, e := range run {
			batch[i] = e.raw
		}
		return b.inner.SinkBytesBatch(ctx, batch)
	}
	recs := make([]model.SharedRecord, len(run))
	for i, e := range run {
		recs[i] = e.rec
	}
	return b.inner.SinkRecords(ctx, recs)
}

func (b *Batcher) requeue(items []entry) {
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	b.pending = append(append(make([]entry, 0, len(items)+len(b.pending)), items...), b.pending...)
}

func (b *Batcher) flushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.shutdown:
			return
		case <-ticker.C:
			if err := b.flush(context.Background()); err != nil {
				b.bufferMu.Lock()
				b.flushErr = err
				b.bufferMu.Unlock()
			}
		}
	}
}

// Reconnect reconnects the inner sink. Buffered items are kept.
func (b *Batcher) Reconnect(ctx context.Context) error {
	if b.stopped.Load() {
		return errors.SinkStopped(b.name)
	}
	return b.inner.Reconnect(ctx)
}

// Stop ends the flush loop, writes what is left and stops the inner sink.
// A failed final flush is reported; the items are not silently dropped.
func (b *Batcher) Stop(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.stopped.Store(true)
		close(b.shutdown)
		b.wg.Wait()

		flushErr := b.flush(ctx)
		if flushErr != nil {
			b.logger.Error("items lost on stop",
				"component", b.name,
				"items", b.Pending(),
				"error", flushErr)
		}
		b.stopErr = stderrors.Join(flushErr, b.inner.Stop(ctx))
	})
	return b.stopErr
}
