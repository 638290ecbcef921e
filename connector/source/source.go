package source

import (
	"context"
)

// Source is a pull-based producer of event batches. Data-path calls on one
// instance must not overlap; the control subscription passed to Start is
// the only concurrent input.
type Source interface {
	// Identifier returns a stable instance name.
	Identifier() string

	// Caps reports optional capabilities. It is queried once.
	Caps() Caps

	// Start prepares resources and begins observing ctrl. ctrl may be nil.
	Start(ctx context.Context, ctrl *Subscription) error

	// Receive blocks until data is available. An empty batch with a nil
	// error means nothing right now; it is safe to call again.
	Receive(ctx context.Context) (Batch, error)

	// Ack confirms durable downstream delivery up to token.
	Ack(ctx context.Context, token AckToken) error

	// Seek moves the cursor to pos.
	Seek(ctx context.Context, pos Position) error

	// Close releases all resources. Idempotent.
	Close(ctx context.Context) error
}

// TryReceiver is implemented by sources that can poll without blocking.
type TryReceiver interface {
	// SupportsTryReceive is the static capability.
	SupportsTryReceive() bool

	// CanTryReceive reports whether a poll is possible right now.
	CanTryReceive() bool

	// TryReceive returns immediately. ok is false when nothing was ready.
	TryReceive() (batch Batch, ok bool)
}

// SupportsTryReceive reports whether s can be polled without blocking.
func SupportsTryReceive(s Source) bool {
	tr, ok := s.(TryReceiver)
	return ok && tr.SupportsTryReceive()
}

// TryReceive polls s without blocking. It only calls into the source when
// both the static and the current capability hold; otherwise, and for
// sources that cannot poll at all, it returns (nil, false).
func TryReceive(s Source) (Batch, bool) {
	tr, ok := s.(TryReceiver)
	if !ok || !tr.SupportsTryReceive() || !tr.CanTryReceive() {
		return nil, false
	}
	return tr.TryReceive()
}
