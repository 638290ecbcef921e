package udp

import (
	"context"
	"fmt"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/pkg/buffer"
)

// Kind is the connector kind served by this package.
const Kind = "udp"

// SourceFactory builds UDP sources. Params:
//
//	addr         host:port to bind (required)
//	batch_size   events per Receive (default 256)
//	buffer_size  datagrams held between socket and Receive (default 5000)
//	overflow     drop_oldest, drop_newest or block (default drop_oldest)
type SourceFactory struct {
	deps connector.Dependencies
}

// NewSourceFactory creates the factory.
func NewSourceFactory(deps connector.Dependencies) *SourceFactory {
	return &SourceFactory{deps: deps}
}

func (f *SourceFactory) Kind() string { return Kind }

func (f *SourceFactory) ValidateSpec(spec source.Spec) error {
	_, err := configFromSpec(spec)
	return err
}

func configFromSpec(spec source.Spec) (Config, error) {
	if err := spec.Validate(); err != nil {
		return Config{}, err
	}
	p := spec.Params
	addr, err := p.RequireString("addr")
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig(addr)

	batch, err := p.Int("batch_size", int64(cfg.BatchSize))
	if err != nil {
		return Config{}, err
	}
	size, err := p.Int("buffer_size", int64(cfg.BufferSize))
	if err != nil {
		return Config{}, err
	}
	cfg.BatchSize, cfg.BufferSize = int(batch), int(size)

	overflow, err := p.String("overflow", "")
	if err != nil {
		return Config{}, err
	}
	policy, ok := buffer.ParseOverflowPolicy(overflow)
	if !ok {
		return Config{}, errors.WrapInvalid(
			fmt.Errorf("%w: overflow %q", errors.ErrInvalidConfig, overflow), "udp", "Config", "parse overflow")
	}
	cfg.Overflow = policy
	return cfg, cfg.Validate()
}

func (f *SourceFactory) Build(_ context.Context, spec source.Spec, _ source.BuildCtx) (source.Instances, error) {
	cfg, err := configFromSpec(spec)
	if err != nil {
		return source.Instances{}, errors.ConfigError(Kind, err)
	}

	tags := spec.TagSet()
	src, err := NewSource(spec.Name, cfg, f.deps.MetricsRegistry, f.deps.GetLoggerWithComponent(spec.Name))
	if err != nil {
		return source.Instances{}, errors.StartupError(Kind, err)
	}

	var out source.Instances
	out.Add(source.Handle{Source: src.WithTags(tags), Meta: source.Meta{Name: spec.Name, Kind: Kind, Tags: tags}})
	return out, nil
}
