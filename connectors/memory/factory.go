package memory

import (
	"context"
	"sync"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
)

// Kind is the connector kind served by this package.
const Kind = "memory"

// SourceFactory builds memory sources. Params:
//
//	lines        list of text payloads queued at build time
//	batch_size   events per Receive (default 64)
//	close_input  end of data after the queued lines (default true)
type SourceFactory struct {
	deps connector.Dependencies
}

// NewSourceFactory creates the factory.
func NewSourceFactory(deps connector.Dependencies) *SourceFactory {
	return &SourceFactory{deps: deps}
}

func (f *SourceFactory) Kind() string { return Kind }

func (f *SourceFactory) ValidateSpec(spec source.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if _, err := spec.Params.StringSlice("lines", nil); err != nil {
		return err
	}
	if _, err := spec.Params.Int("batch_size", DefaultBatchSize); err != nil {
		return err
	}
	_, err := spec.Params.Bool("close_input", true)
	return err
}

func (f *SourceFactory) Build(_ context.Context, spec source.Spec, _ source.BuildCtx) (source.Instances, error) {
	if err := f.ValidateSpec(spec); err != nil {
		return source.Instances{}, errors.ConfigError(Kind, err)
	}
	lines, _ := spec.Params.StringSlice("lines", nil)
	batch, _ := spec.Params.Int("batch_size", DefaultBatchSize)
	closeInput, _ := spec.Params.Bool("close_input", true)

	tags := spec.TagSet()
	src := NewSource(spec.Name, int(batch), f.deps.GetLoggerWithComponent(spec.Name)).WithTags(tags)
	if err := src.PushText(lines...); err != nil {
		return source.Instances{}, errors.StartupError(Kind, err)
	}
	if closeInput {
		src.CloseInput()
	}

	var out source.Instances
	out.Add(source.Handle{Source: src, Meta: source.Meta{Name: spec.Name, Kind: Kind, Tags: tags}})
	return out, nil
}

// SinkFactory builds memory sinks and remembers them by full name so tests
// and the CLI can read what was written.
type SinkFactory struct {
	deps connector.Dependencies

	mu    sync.Mutex
	sinks map[string]*Sink
}

// NewSinkFactory creates the factory.
func NewSinkFactory(deps connector.Dependencies) *SinkFactory {
	return &SinkFactory{deps: deps, sinks: make(map[string]*Sink)}
}

func (f *SinkFactory) Kind() string { return Kind }

func (f *SinkFactory) ValidateSpec(spec sink.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	_, err := sink.WrapOptionsFromParams(spec.Params, f.deps)
	return err
}

func (f *SinkFactory) Build(_ context.Context, spec sink.Spec, bctx sink.BuildCtx) (sink.Handle, error) {
	if err := spec.Validate(); err != nil {
		return sink.Handle{}, errors.ConfigError(Kind, err)
	}
	opts, err := sink.WrapOptionsFromParams(spec.Params, f.deps)
	if err != nil {
		return sink.Handle{}, errors.ConfigError(Kind, err)
	}

	mem := NewSink()
	f.mu.Lock()
	f.sinks[spec.FullName()] = mem
	f.mu.Unlock()

	name := spec.FullName()
	return sink.Handle{Name: name, Sink: sink.Wrap(name, mem, bctx, opts)}, nil
}

// Sink returns the memory sink built under name.
func (f *SinkFactory) Sink(name string) (*Sink, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sinks[name]
	return s, ok
}
