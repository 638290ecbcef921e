package kafka

import (
	"context"
	"fmt"
	"math"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// Kind is the connector kind served by this package.
const Kind = "kafka"

// SourceFactory builds one source per partition. Params:
//
//	brokers      bootstrap servers (required)
//	topic        topic (required)
//	group        consumer group for committed offsets (default: source name)
//	partitions   partition list (default [0])
//	reset        earliest or latest (default earliest)
//	batch_size   events per Receive (default 256)
type SourceFactory struct {
	deps connector.Dependencies
}

// NewSourceFactory creates the factory.
func NewSourceFactory(deps connector.Dependencies) *SourceFactory {
	return &SourceFactory{deps: deps}
}

func (f *SourceFactory) Kind() string { return Kind }

func (f *SourceFactory) ValidateSpec(spec source.Spec) error {
	_, err := sourceConfigs(spec)
	return err
}

func sourceConfigs(spec source.Spec) ([]SourceConfig, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	p := spec.Params
	brokers, err := p.RequireString("brokers")
	if err != nil {
		return nil, err
	}
	topic, err := p.RequireString("topic")
	if err != nil {
		return nil, err
	}
	group, err := p.String("group", spec.Name)
	if err != nil {
		return nil, err
	}
	base := DefaultSourceConfig(brokers, topic, group)
	if base.Reset, err = p.String("reset", base.Reset); err != nil {
		return nil, err
	}
	batch, err := p.Int("batch_size", int64(base.BatchSize))
	if err != nil {
		return nil, err
	}
	base.BatchSize = int(batch)

	partitions, err := p.IntSlice("partitions", []int64{0})
	if err != nil {
		return nil, err
	}
	if len(partitions) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "kafka", "Config", "partitions must not be empty")
	}
	seen := make(map[int64]bool, len(partitions))
	cfgs := make([]SourceConfig, 0, len(partitions))
	for _, part := range partitions {
		if part > math.MaxInt32 || seen[part] {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: partition %d", errors.ErrInvalidConfig, part), "kafka", "Config", "check partitions")
		}
		seen[part] = true
		cfg := base
		cfg.Partition = int32(part)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func (f *SourceFactory) Build(_ context.Context, spec source.Spec, _ source.BuildCtx) (source.Instances, error) {
	cfgs, err := sourceConfigs(spec)
	if err != nil {
		return source.Instances{}, errors.ConfigError(Kind, err)
	}

	tags := spec.TagSet()
	var out source.Instances
	for _, cfg := range cfgs {
		name := spec.Name
		if len(cfgs) > 1 {
			name = fmt.Sprintf("%s-p%d", spec.Name, cfg.Partition)
		}
		src, err := NewSource(name, cfg, f.deps.GetLoggerWithComponent(name))
		if err != nil {
			return source.Instances{}, errors.ConfigError(Kind, err)
		}
		out.Add(source.Handle{Source: src.WithTags(tags), Meta: source.Meta{Name: name, Kind: Kind, Tags: tags}})
	}
	return out, nil
}

// SinkFactory builds producer sinks. Params:
//
//	brokers    bootstrap servers (required)
//	topic      topic (required)
//	format     record format (default json)
//	key_field  record field used as message key
//
// plus the common wrapper params read by sink.WrapOptionsFromParams.
type SinkFactory struct {
	deps connector.Dependencies
}

// NewSinkFactory creates the factory.
func NewSinkFactory(deps connector.Dependencies) *SinkFactory {
	return &SinkFactory{deps: deps}
}

func (f *SinkFactory) Kind() string { return Kind }

func (f *SinkFactory) ValidateSpec(spec sink.Spec) error {
	if _, err := sinkConfig(spec); err != nil {
		return err
	}
	_, err := sink.WrapOptionsFromParams(spec.Params, f.deps)
	return err
}

func sinkConfig(spec sink.Spec) (SinkConfig, error) {
	if err := spec.Validate(); err != nil {
		return SinkConfig{}, err
	}
	p := spec.Params
	var cfg SinkConfig
	var err error
	if cfg.Brokers, err = p.RequireString("brokers"); err != nil {
		return SinkConfig{}, err
	}
	if cfg.Topic, err = p.RequireString("topic"); err != nil {
		return SinkConfig{}, err
	}
	format, err := p.String("format", model.FmtJSON.String())
	if err != nil {
		return SinkConfig{}, err
	}
	cfg.Format = model.ParseTextFmt(format)
	if cfg.KeyField, err = p.String("key_field", ""); err != nil {
		return SinkConfig{}, err
	}
	return cfg, cfg.Validate()
}

func (f *SinkFactory) Build(_ context.Context, spec sink.Spec, bctx sink.BuildCtx) (sink.Handle, error) {
	cfg, err := sinkConfig(spec)
	if err != nil {
		return sink.Handle{}, errors.ConfigError(Kind, err)
	}
	opts, err := sink.WrapOptionsFromParams(spec.Params, f.deps)
	if err != nil {
		return sink.Handle{}, errors.ConfigError(Kind, err)
	}

	name := spec.FullName()
	ks, err := NewSink(name, cfg, f.deps.GetLoggerWithComponent(name))
	if err != nil {
		return sink.Handle{}, errors.StartupError(Kind, err)
	}
	return sink.Handle{Name: name, Sink: sink.Wrap(name, ks, bctx, opts)}, nil
}
