package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// Item is one write seen by a Sink. Exactly one of Record and Raw is set.
type Item struct {
	Record *model.SharedRecord
	Raw    []byte
}

// Sink keeps every write in arrival order. It is the test and debugging
// sink; Snapshot returns what it holds.
type Sink struct {
	mu      sync.Mutex
	items   []Item
	stopped bool
	stops   int
}

var _ sink.Sink = (*Sink)(nil)

// NewSink creates an empty sink.
func NewSink() *Sink { return &Sink{} }

func (s *Sink) push(items ...Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.SinkStopped("memory sink")
	}
	s.items = append(s.items, items...)
	return nil
}

func (s *Sink) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.stops++
	return nil
}

func (s *Sink) Reconnect(context.Context) error { return nil }

func (s *Sink) SinkRecord(_ context.Context, rec model.SharedRecord) error {
	return s.push(Item{Record: &rec})
}

func (s *Sink) SinkRecords(_ context.Context, recs []model.SharedRecord) error {
	items := make([]Item, len(recs))
	for i := range recs {
		items[i] = Item{Record: &recs[i]}
	}
	return s.push(items...)
}

func (s *Sink) SinkString(_ context.Context, data string) error {
	return s.push(Item{Raw: []byte(data)})
}

func (s *Sink) SinkBytes(_ context.Context, data []byte) error {
	return s.push(Item{Raw: slices.Clone(data)})
}

func (s *Sink) SinkStrings(_ context.Context, batch []string) error {
	items := make([]Item, len(batch))
	for i, data := range batch {
		items[i] = Item{Raw: []byte(data)}
	}
	return s.push(items...)
}

func (s *Sink) SinkBytesBatch(_ context.Context, batch [][]byte) error {
	items := make([]Item, len(batch))
	for i, data := range batch {
		items[i] = Item{Raw: slices.Clone(data)}
	}
	return s.push(items...)
}

// Snapshot returns a copy of everything written so far.
func (s *Sink) Snapshot() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Records returns the record writes in order.
func (s *Sink) Records() []model.SharedRecord {
	var out []model.SharedRecord
	for _, it := range s.Snapshot() {
		if it.Record != nil {
			out = append(out, *it.Record)
		}
	}
	return out
}

// Lines returns every write rendered as text: raw payloads verbatim and
// records in the given format.
func (s *Sink) Lines(format model.TextFmt) ([]string, error) {
	items := s.Snapshot()
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it.Record == nil {
			out = append(out, string(it.Raw))
			continue
		}
		line, err := model.Format(format, *it.Record)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

// Len returns the number of writes held.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Stops returns how many times Stop reached this sink.
func (s *Sink) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}
