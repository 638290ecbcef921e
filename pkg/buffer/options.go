package buffer

import (
	"github.com/wp-labs/wp-open-api/metric"
)

// Option configures a buffer.
type Option[T any] func(*bufferOptions[T])

type bufferOptions[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]

	metricsReg *metric.MetricsRegistry
	owner      string
}

// WithOverflowPolicy sets the overflow behavior. The default is DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.overflowPolicy = policy
	}
}

// WithMetrics exports buffer counters labelled with owner. A nil registry
// or empty owner leaves metrics off.
func WithMetrics[T any](registry *metric.MetricsRegistry, owner string) Option[T] {
	return func(opts *bufferOptions[T]) {
		if registry != nil && owner != "" {
			opts.metricsReg = registry
			opts.owner = owner
		}
	}
}

// WithDropCallback sets a callback for items lost to the overflow policy.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](options ...Option[T]) *bufferOptions[T] {
	opts := &bufferOptions[T]{overflowPolicy: DropOldest}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
