package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// DefaultBatchSize caps the events returned by one Receive.
const DefaultBatchSize = 64

// Source delivers payloads pushed by the caller. It never blocks in
// TryReceive and reports end of data once CloseInput was called and the
// queue is empty.
type Source struct {
	*source.Base

	batchSize int
	tags      model.SharedTags

	mu       sync.Mutex
	queue    []source.Payload
	inputEOF bool
	notify   chan struct{}
}

// NewSource creates an empty source. batchSize <= 0 selects DefaultBatchSize.
func NewSource(id string, batchSize int, logger *slog.Logger) *Source {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Source{
		Base:      source.NewBase(id, logger),
		batchSize: batchSize,
		notify:    make(chan struct{}, 1),
	}
}

// WithTags attaches tags to every event.
func (s *Source) WithTags(tags model.SharedTags) *Source {
	s.tags = tags
	return s
}

func (s *Source) Caps() source.Caps { return source.Caps{Parallel: true} }

// Push queues payloads. It fails once CloseInput was called.
func (s *Source) Push(payloads ...source.Payload) error {
	s.mu.Lock()
	if s.inputEOF {
		s.mu.Unlock()
		return errors.SourceUvs(errors.UvsLogic, "push after close input", errors.ErrClosed)
	}
	s.queue = append(s.queue, payloads...)
	s.mu.Unlock()
	s.wake()
	return nil
}

// PushText queues one text payload per line.
func (s *Source) PushText(lines ...string) error {
	payloads := make([]source.Payload, len(lines))
	for i, line := range lines {
		payloads[i] = source.TextPayload(line)
	}
	return s.Push(payloads...)
}

// CloseInput marks the end of input. Receive returns EOF after the queue
// drains.
func (s *Source) CloseInput() {
	s.mu.Lock()
	s.inputEOF = true
	s.mu.Unlock()
	s.wake()
}

// Pending returns the number of queued payloads.
func (s *Source) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Source) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Source) Receive(ctx context.Context) (source.Batch, error) {
	for {
		if err := s.Gate(ctx); err != nil {
			return nil, err
		}
		if batch, eof := s.take(); len(batch) > 0 {
			return batch, nil
		} else if eof {
			return nil, errors.EOF()
		}

		select {
		case <-s.notify:
		case <-s.Done():
			return nil, errors.EOF()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// take removes up to batchSize payloads. eof is true when the queue is
// empty and no more input will arrive.
func (s *Source) take() (source.Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := min(len(s.queue), s.batchSize)
	if n == 0 {
		return nil, s.inputEOF
	}
	batch := make(source.Batch, n)
	for i, p := range s.queue[:n] {
		batch[i] = source.NewEvent(s.NextID(), s.Identifier(), p).WithTags(s.tags)
	}
	s.queue = s.queue[n:]
	return batch, false
}

func (s *Source) SupportsTryReceive() bool { return true }

// CanTryReceive is true while the source is started and neither isolated
// nor stopped.
func (s *Source) CanTryReceive() bool {
	if s.Stopped() {
		return false
	}
	st := s.State()
	return st == source.StateStarted || st == source.StateRunning
}

// TryReceive returns queued events without waiting.
func (s *Source) TryReceive() (source.Batch, bool) {
	if !s.CanTryReceive() {
		return nil, false
	}
	batch, _ := s.take()
	return batch, len(batch) > 0
}
