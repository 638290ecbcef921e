package source

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/wp-labs/wp-open-api/errors"
)

// Caps declares the optional capabilities of a source. The zero value
// supports nothing; each flag must be opted into.
type Caps struct {
	Ack      bool `json:"ack"`
	Seek     bool `json:"seek"`
	Parallel bool `json:"parallel"`
}

func (c Caps) String() string {
	return fmt.Sprintf("ack=%t seek=%t parallel=%t", c.Ack, c.Seek, c.Parallel)
}

// AckToken identifies a delivered event (or batch) to a source that
// supports acknowledgement. Tokens are opaque to everything but the source
// that issued them.
type AckToken interface {
	fmt.Stringer
}

// Position is an opaque seek target understood by the source.
type Position interface {
	fmt.Stringer
}

// Offset is the common numeric cursor. It serves as both an AckToken and a
// Position for offset-addressed sources (files, Kafka partitions, JetStream
// sequences).
type Offset int64

func (o Offset) String() string { return strconv.FormatInt(int64(o), 10) }

// ControlEvent is an out-of-band instruction delivered to every subscribed
// source. The set is closed: Stop, Isolate and Seek.
type ControlEvent interface {
	fmt.Stringer
	isControl()
}

// Stop asks the source to stop producing data. A pending Receive returns.
type Stop struct{}

// Isolate pauses (Paused=true) or resumes (Paused=false) the data path.
type Isolate struct {
	Paused bool
}

// Seek moves the source cursor to Position.
type Seek struct {
	Position Position
}

func (Stop) isControl()    {}
func (Isolate) isControl() {}
func (Seek) isControl()    {}

func (Stop) String() string { return "stop" }

func (i Isolate) String() string {
	if i.Paused {
		return "isolate(paused)"
	}
	return "isolate(resumed)"
}

func (s Seek) String() string {
	if s.Position == nil {
		return "seek(<nil>)"
	}
	return "seek(" + s.Position.String() + ")"
}

// DefaultSubscriptionBuffer is the per-subscriber queue depth used when
// NewBroadcaster is given a non-positive size.
const DefaultSubscriptionBuffer = 16

// Broadcaster is a publish/subscribe primitive for control events. Each
// Publish is delivered to every subscription that is live at that moment, in
// publish order.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

// NewBroadcaster creates a broadcaster whose subscriptions queue up to
// buffer events each.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return &Broadcaster{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscription. Subscribing to a closed
// broadcaster returns a subscription whose channel is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		ch:    make(chan ControlEvent, b.buffer),
		done:  make(chan struct{}),
		owner: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every live subscription. It blocks while a
// subscriber queue is full, until that subscriber drains, unsubscribes or
// ctx is done.
func (b *Broadcaster) Publish(ctx context.Context, ev ControlEvent) error {
	if ev == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Broadcaster", "Publish", "nil control event")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.WrapFatal(errors.ErrClosed, "Broadcaster", "Publish", "publish "+ev.String())
	}

	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Broadcaster", "Publish", "publish "+ev.String())
		}
	}
	return nil
}

// Len reports the number of live subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription channel. Further publishes fail.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

// Subscription is one subscriber's view of a Broadcaster.
type Subscription struct {
	ch    chan ControlEvent
	done  chan struct{}
	once  sync.Once
	owner *Broadcaster
}

// C returns the event channel. It is closed when the broadcaster closes.
func (s *Subscription) C() <-chan ControlEvent { return s.ch }

// Close detaches the subscription. Events published afterwards are not
// delivered. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.owner == nil {
			return
		}
		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
	})
}
