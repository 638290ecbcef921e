package amqp

import (
	"context"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// Kind is the connector kind served by this package.
const Kind = "amqp"

// SourceFactory builds queue sources. Params:
//
//	url            broker URL (required)
//	queue          queue to consume (required)
//	exchange       exchange to declare and bind the queue to
//	exchange_type  exchange type (default topic)
//	binding_key    binding key
//	prefetch       unacknowledged deliveries in flight (default 512)
//	batch_size     events per Receive (default 128)
type SourceFactory struct {
	deps connector.Dependencies
}

// NewSourceFactory creates the factory.
func NewSourceFactory(deps connector.Dependencies) *SourceFactory {
	return &SourceFactory{deps: deps}
}

func (f *SourceFactory) Kind() string { return Kind }

func (f *SourceFactory) ValidateSpec(spec source.Spec) error {
	_, err := sourceConfig(spec)
	return err
}

func sourceConfig(spec source.Spec) (SourceConfig, error) {
	if err := spec.Validate(); err != nil {
		return SourceConfig{}, err
	}
	p := spec.Params
	url, err := p.RequireString("url")
	if err != nil {
		return SourceConfig{}, err
	}
	queue, err := p.RequireString("queue")
	if err != nil {
		return SourceConfig{}, err
	}
	cfg := DefaultSourceConfig(url, queue)
	if cfg.Exchange, err = p.String("exchange", ""); err != nil {
		return SourceConfig{}, err
	}
	if cfg.ExchangeType, err = p.String("exchange_type", cfg.ExchangeType); err != nil {
		return SourceConfig{}, err
	}
	if cfg.BindingKey, err = p.String("binding_key", ""); err != nil {
		return SourceConfig{}, err
	}
	prefetch, err := p.Int("prefetch", int64(cfg.Prefetch))
	if err != nil {
		return SourceConfig{}, err
	}
	batch, err := p.Int("batch_size", int64(cfg.BatchSize))
	if err != nil {
		return SourceConfig{}, err
	}
	cfg.Prefetch, cfg.BatchSize = int(prefetch), int(batch)
	return cfg, cfg.Validate()
}

func (f *SourceFactory) Build(_ context.Context, spec source.Spec, _ source.BuildCtx) (source.Instances, error) {
	cfg, err := sourceConfig(spec)
	if err != nil {
		return source.Instances{}, errors.ConfigError(Kind, err)
	}
	src, err := NewSource(spec.Name, cfg, f.deps.GetLoggerWithComponent(spec.Name))
	if err != nil {
		return source.Instances{}, errors.ConfigError(Kind, err)
	}

	tags := spec.TagSet()
	var out source.Instances
	out.Add(source.Handle{Source: src.WithTags(tags), Meta: source.Meta{Name: spec.Name, Kind: Kind, Tags: tags}})
	return out, nil
}

// SinkFactory builds exchange publishers. Params:
//
//	url          broker URL (required)
//	exchange     target exchange (default exchange when empty)
//	routing_key  routing key
//	format       record format (default json)
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
	if cfg.URL, err = p.RequireString("url"); err != nil {
		return SinkConfig{}, err
	}
	if cfg.Exchange, err = p.String("exchange", ""); err != nil {
		return SinkConfig{}, err
	}
	if cfg.RoutingKey, err = p.String("routing_key", ""); err != nil {
		return SinkConfig{}, err
	}
	format, err := p.String("format", model.FmtJSON.String())
	if err != nil {
		return SinkConfig{}, err
	}
	cfg.Format = model.ParseTextFmt(format)
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
	as, err := NewSink(name, cfg, f.deps.GetLoggerWithComponent(name))
	if err != nil {
		return sink.Handle{}, errors.ConfigError(Kind, err)
	}
	return sink.Handle{Name: name, Sink: sink.Wrap(name, as, bctx, opts)}, nil
}
