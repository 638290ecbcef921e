// Package buffer provides a bounded, thread-safe ring buffer with a
// configurable overflow policy. Connectors use it to decouple socket read
// loops from Receive: the read loop writes, Receive drains in batches.
//
// Counters are always kept in Stats. Prometheus export is optional via
// WithMetrics.
package buffer

// Buffer is a bounded FIFO of T.
type Buffer[T any] interface {
	// Write adds an item. On a full buffer the overflow policy decides
	// whether the oldest item, the new item, or the caller gives way.
	Write(item T) error

	// Read removes the oldest item.
	Read() (T, bool)

	// ReadBatch removes up to max items in FIFO order.
	ReadBatch(max int) []T

	Size() int
	Capacity() int
	IsEmpty() bool

	// Ready is signalled after a write into an empty buffer. It is never
	// closed; readers should also watch their own stop channel.
	Ready() <-chan struct{}

	Stats() Stats
	Close() error
}

// OverflowPolicy decides what Write does when the buffer is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the item being written.
	DropNewest
	// Block waits for a reader to make room.
	Block
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy maps a config value to a policy. Unknown values
// select DropOldest.
func ParseOverflowPolicy(s string) (OverflowPolicy, bool) {
	switch s {
	case "drop_oldest", "":
		return DropOldest, true
	case "drop_newest":
		return DropNewest, true
	case "block":
		return Block, true
	default:
		return DropOldest, false
	}
}

// DropCallback receives every item lost to the overflow policy.
type DropCallback[T any] func(item T)

// Stats is a snapshot of buffer counters.
type Stats struct {
	Writes  int64
	Reads   int64
	Drops   int64
	Size    int
	MaxSize int
}

// New creates a ring buffer holding at most capacity items.
func New[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	return newRing(capacity, applyOptions(options...))
}
