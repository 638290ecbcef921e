package buffer

import (
	"sync"

	"github.com/wp-labs/wp-open-api/errors"
)

type ring[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	items    []T
	capacity int
	size     int
	head     int // next write
	tail     int // next read
	closed   bool

	ready chan struct{}

	writes  int64
	reads   int64
	drops   int64
	maxSize int

	opts    *bufferOptions[T]
	metrics *bufferMetrics
}

func newRing[T any](capacity int, opts *bufferOptions[T]) (*ring[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Buffer", "New", "capacity must be positive")
	}

	r := &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		opts:     opts,
	}
	r.notFull = sync.NewCond(&r.mu)

	if opts.metricsReg != nil {
		m, err := newBufferMetrics(opts.metricsReg, opts.owner)
		if err != nil {
			return nil, errors.WrapTransient(err, "Buffer", "New", "metrics registration")
		}
		r.metrics = m
	}
	return r, nil
}

func (r *ring[T]) Write(item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	var dropped T
	lost := false
	if r.size == r.capacity {
		switch r.opts.overflowPolicy {
		case DropNewest:
			r.drops++
			r.mu.Unlock()
			r.dropped(item)
			return nil
		case Block:
			for r.size == r.capacity && !r.closed {
				r.notFull.Wait()
			}
			if r.closed {
				r.mu.Unlock()
				return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed while blocked")
			}
		default:
			dropped, lost = r.pop(), true
			r.drops++
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.writes++
	if r.size > r.maxSize {
		r.maxSize = r.size
	}
	size := r.size
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.writes.Inc()
		r.metrics.fill(size, r.capacity)
	}
	if lost {
		r.dropped(dropped)
	}
	select {
	case r.ready <- struct{}{}:
	default:
	}
	return nil
}

// pop removes the tail item. Caller holds mu and size > 0.
func (r *ring[T]) pop() T {
	var zero T
	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	return item
}

func (r *ring[T]) dropped(item T) {
	if r.metrics != nil {
		r.metrics.drops.Inc()
	}
	if r.opts.dropCallback != nil {
		r.opts.dropCallback(item)
	}
}

func (r *ring[T]) Read() (T, bool) {
	batch := r.ReadBatch(1)
	if len(batch) == 0 {
		var zero T
		return zero, false
	}
	return batch[0], true
}

func (r *ring[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	r.mu.Lock()
	n := min(max, r.size)
	if n == 0 {
		r.mu.Unlock()
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = r.pop()
	}
	r.reads += int64(n)
	size := r.size
	r.notFull.Broadcast()
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.reads.Add(float64(n))
		r.metrics.fill(size, r.capacity)
	}
	return out
}

func (r *ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ring[T]) Capacity() int { return r.capacity }

func (r *ring[T]) IsEmpty() bool { return r.Size() == 0 }

func (r *ring[T]) Ready() <-chan struct{} { return r.ready }

func (r *ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Writes:  r.writes,
		Reads:   r.reads,
		Drops:   r.drops,
		Size:    r.size,
		MaxSize: r.maxSize,
	}
}

// Close rejects further writes and releases blocked writers. Buffered
// items stay readable.
func (r *ring[T]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.notFull.Broadcast()
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.unregister(r.opts.metricsReg, r.opts.owner)
	}
	return nil
}
