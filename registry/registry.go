// Package registry maps connector kinds to their source and sink factories.
package registry

import (
	"fmt"
	"slices"
	"sync"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
)

// Registry holds factories keyed by kind. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sources  map[string]source.Factory
	sinks    map[string]sink.Factory
	adapters map[string]connector.Adapter
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sources:  make(map[string]source.Factory),
		sinks:    make(map[string]sink.Factory),
		adapters: make(map[string]connector.Adapter),
	}
}

// RegisterSource adds a source factory. A kind can be registered once.
func (r *Registry) RegisterSource(f source.Factory) error {
	if f == nil || f.Kind() == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterSource", "factory validation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[f.Kind()]; exists {
		return errors.WrapInvalid(fmt.Errorf("source kind %q is already registered", f.Kind()),
			"Registry", "RegisterSource", "duplicate kind check")
	}
	r.sources[f.Kind()] = f
	return nil
}

// RegisterSink adds a sink factory. A kind can be registered once.
func (r *Registry) RegisterSink(f sink.Factory) error {
	if f == nil || f.Kind() == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterSink", "factory validation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[f.Kind()]; exists {
		return errors.WrapInvalid(fmt.Errorf("sink kind %q is already registered", f.Kind()),
			"Registry", "RegisterSink", "duplicate kind check")
	}
	r.sinks[f.Kind()] = f
	return nil
}

// RegisterAdapter adds a URL adapter. A kind can be registered once.
func (r *Registry) RegisterAdapter(a connector.Adapter) error {
	if a == nil || a.Kind() == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterAdapter", "adapter validation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[a.Kind()]; exists {
		return errors.WrapInvalid(fmt.Errorf("adapter kind %q is already registered", a.Kind()),
			"Registry", "RegisterAdapter", "duplicate kind check")
	}
	r.adapters[a.Kind()] = a
	return nil
}

// Source returns the source factory for kind.
func (r *Registry) Source(kind string) (source.Factory, error) {
	r.mu.RLock()
	f, ok := r.sources[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no source kind %q", errors.ErrUnsupported, kind),
			"Registry", "Source", "lookup kind")
	}
	return f, nil
}

// Sink returns the sink factory for kind.
func (r *Registry) Sink(kind string) (sink.Factory, error) {
	r.mu.RLock()
	f, ok := r.sinks[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no sink kind %q", errors.ErrUnsupported, kind),
			"Registry", "Sink", "lookup kind")
	}
	return f, nil
}

// Adapter returns the URL adapter for kind, if any.
func (r *Registry) Adapter(kind string) (connector.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	return a, ok
}

// SourceKinds lists registered source kinds in sorted order.
func (r *Registry) SourceKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sources)
}

// SinkKinds lists registered sink kinds in sorted order.
func (r *Registry) SinkKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sinks)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
