package nats

import (
	"context"
	"fmt"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
	"github.com/wp-labs/wp-open-api/natsclient"
)

// Kind is the connector kind served by this package.
const Kind = "nats"

// SourceFactory builds NATS sources. With a stream param the source reads
// JetStream, otherwise it subscribes to a core subject. Params:
//
//	subject      subject or filter (required without stream)
//	queue        queue group for core subscriptions
//	stream       JetStream stream name
//	durable      checkpoint key (default: source name)
//	bucket       checkpoint KV bucket (default wpipe_checkpoints)
//	batch_size   events per Receive (default 128)
//	buffer_size  core subscription buffer (default 1024)
//	fetch_wait   JetStream fetch wait (default 250ms, at most 500ms)
type SourceFactory struct {
	deps connector.Dependencies
}

// NewSourceFactory creates the factory.
func NewSourceFactory(deps connector.Dependencies) *SourceFactory {
	return &SourceFactory{deps: deps}
}

func (f *SourceFactory) Kind() string { return Kind }

func (f *SourceFactory) ValidateSpec(spec source.Spec) error {
	_, _, err := sourceConfigs(spec)
	return err
}

// sourceConfigs returns exactly one non-nil config.
func sourceConfigs(spec source.Spec) (*SubjectConfig, *StreamConfig, error) {
	if err := spec.Validate(); err != nil {
		return nil, nil, err
	}
	p := spec.Params
	subject, err := p.String("subject", "")
	if err != nil {
		return nil, nil, err
	}
	stream, err := p.String("stream", "")
	if err != nil {
		return nil, nil, err
	}

	if stream == "" {
		cfg := DefaultSubjectConfig(subject)
		if cfg.Queue, err = p.String("queue", ""); err != nil {
			return nil, nil, err
		}
		batch, err := p.Int("batch_size", int64(cfg.BatchSize))
		if err != nil {
			return nil, nil, err
		}
		buffer, err := p.Int("buffer_size", int64(cfg.BufferSize))
		if err != nil {
			return nil, nil, err
		}
		cfg.BatchSize, cfg.BufferSize = int(batch), int(buffer)
		return &cfg, nil, cfg.Validate()
	}

	cfg := DefaultStreamConfig(stream)
	cfg.Subject = subject
	if cfg.Durable, err = p.String("durable", spec.Name); err != nil {
		return nil, nil, err
	}
	if cfg.Bucket, err = p.String("bucket", cfg.Bucket); err != nil {
		return nil, nil, err
	}
	batch, err := p.Int("batch_size", int64(cfg.BatchSize))
	if err != nil {
		return nil, nil, err
	}
	cfg.BatchSize = int(batch)
	if cfg.FetchWait, err = p.Duration("fetch_wait", cfg.FetchWait); err != nil {
		return nil, nil, err
	}
	return nil, &cfg, cfg.Validate()
}

func requireClient(deps connector.Dependencies) (*natsclient.Client, error) {
	if deps.NATSClient == nil {
		return nil, errors.StartupError(Kind,
			errors.WrapFatal(errors.ErrNoConnection, "nats", "Build", "NATS client required"))
	}
	return deps.NATSClient, nil
}

func (f *SourceFactory) Build(_ context.Context, spec source.Spec, _ source.BuildCtx) (source.Instances, error) {
	subjectCfg, streamCfg, err := sourceConfigs(spec)
	if err != nil {
		return source.Instances{}, errors.ConfigError(Kind, err)
	}
	client, err := requireClient(f.deps)
	if err != nil {
		return source.Instances{}, err
	}

	tags := spec.TagSet()
	logger := f.deps.GetLoggerWithComponent(spec.Name)
	var src source.Source
	if streamCfg != nil {
		s, err := NewStreamSource(spec.Name, client, *streamCfg, logger)
		if err != nil {
			return source.Instances{}, errors.ConfigError(Kind, err)
		}
		src = s.WithTags(tags)
	} else {
		s, err := NewSubjectSource(spec.Name, client, *subjectCfg, logger)
		if err != nil {
			return source.Instances{}, errors.ConfigError(Kind, err)
		}
		src = s.WithTags(tags)
	}

	var out source.Instances
	out.Add(source.Handle{Source: src, Meta: source.Meta{Name: spec.Name, Kind: Kind, Tags: tags}})
	return out, nil
}

// SinkFactory builds NATS publish sinks. Params:
//
//	subject    target subject (required)
//	format     record format (default json)
//	jetstream  publish with storage acknowledgement (default false)
//
// plus the common wrapper params read by sink.WrapOptionsFromParams.
// Replicas publish to "<subject>.<replica>" when replica_subjects is true.
type SinkFactory struct {
	deps connector.Dependencies
}

// NewSinkFactory creates the factory.
func NewSinkFactory(deps connector.Dependencies) *SinkFactory {
	return &SinkFactory{deps: deps}
}

func (f *SinkFactory) Kind() string { return Kind }

func (f *SinkFactory) ValidateSpec(spec sink.Spec) error {
	if _, err := publishConfig(spec, sink.BuildCtx{}); err != nil {
		return err
	}
	_, err := sink.WrapOptionsFromParams(spec.Params, f.deps)
	return err
}

func publishConfig(spec sink.Spec, bctx sink.BuildCtx) (PublishConfig, error) {
	if err := spec.Validate(); err != nil {
		return PublishConfig{}, err
	}
	p := spec.Params
	subject, err := p.RequireString("subject")
	if err != nil {
		return PublishConfig{}, err
	}
	format, err := p.String("format", model.FmtJSON.String())
	if err != nil {
		return PublishConfig{}, err
	}
	js, err := p.Bool("jetstream", false)
	if err != nil {
		return PublishConfig{}, err
	}
	perReplica, err := p.Bool("replica_subjects", false)
	if err != nil {
		return PublishConfig{}, err
	}
	if perReplica && bctx.ReplicaCnt > 1 {
		subject = fmt.Sprintf("%s.%d", subject, bctx.ReplicaIdx)
	}
	cfg := PublishConfig{Subject: subject, Format: model.ParseTextFmt(format), JetStream: js}
	return cfg, cfg.Validate()
}

func (f *SinkFactory) Build(_ context.Context, spec sink.Spec, bctx sink.BuildCtx) (sink.Handle, error) {
	cfg, err := publishConfig(spec, bctx)
	if err != nil {
		return sink.Handle{}, errors.ConfigError(Kind, err)
	}
	opts, err := sink.WrapOptionsFromParams(spec.Params, f.deps)
	if err != nil {
		return sink.Handle{}, errors.ConfigError(Kind, err)
	}
	client, err := requireClient(f.deps)
	if err != nil {
		return sink.Handle{}, err
	}

	name := spec.FullName()
	ps, err := NewPublishSink(name, client, cfg, f.deps.GetLoggerWithComponent(name))
	if err != nil {
		return sink.Handle{}, errors.ConfigError(Kind, err)
	}
	return sink.Handle{Name: name, Sink: sink.Wrap(name, ps, bctx, opts)}, nil
}

// ObjectSinkFactory builds object store sinks. Params:
//
//	bucket     object store bucket, created when missing (required)
//	prefix     object name prefix (default the sink's full name)
//	format     record format (default json)
//	ttl        object lifetime for a new bucket (default none)
//	max_bytes  size cap for a new bucket (default none)
//
// plus the common wrapper params read by sink.WrapOptionsFromParams.
// Replicas of a group write under "<prefix>/r<replica>".
type ObjectSinkFactory struct {
	deps connector.Dependencies
}

// NewObjectSinkFactory creates the factory.
func NewObjectSinkFactory(deps connector.Dependencies) *ObjectSinkFactory {
	return &ObjectSinkFactory{deps: deps}
}

func (f *ObjectSinkFactory) Kind() string { return ObjectKind }

func (f *ObjectSinkFactory) ValidateSpec(spec sink.Spec) error {
	if _, err := objectConfig(spec, sink.BuildCtx{}); err != nil {
		return err
	}
	_, err := sink.WrapOptionsFromParams(spec.Params, f.deps)
	return err
}

func objectConfig(spec sink.Spec, bctx sink.BuildCtx) (ObjectConfig, error) {
	if err := spec.Validate(); err != nil {
		return ObjectConfig{}, err
	}
	p := spec.Params
	bucket, err := p.RequireString("bucket")
	if err != nil {
		return ObjectConfig{}, err
	}
	prefix, err := p.String("prefix", spec.FullName())
	if err != nil {
		return ObjectConfig{}, err
	}
	format, err := p.String("format", model.FmtJSON.String())
	if err != nil {
		return ObjectConfig{}, err
	}
	ttl, err := p.Duration("ttl", 0)
	if err != nil {
		return ObjectConfig{}, err
	}
	maxBytes, err := p.Int("max_bytes", 0)
	if err != nil {
		return ObjectConfig{}, err
	}
	if bctx.ReplicaCnt > 1 {
		prefix = fmt.Sprintf("%s/r%d", prefix, bctx.ReplicaIdx)
	}
	cfg := ObjectConfig{
		Bucket:   bucket,
		Prefix:   prefix,
		Format:   model.ParseTextFmt(format),
		TTL:      ttl,
		MaxBytes: maxBytes,
	}
	return cfg, cfg.Validate()
}

func (f *ObjectSinkFactory) Build(ctx context.Context, spec sink.Spec, bctx sink.BuildCtx) (sink.Handle, error) {
	cfg, err := objectConfig(spec, bctx)
	if err != nil {
		return sink.Handle{}, errors.ConfigError(ObjectKind, err)
	}
	opts, err := sink.WrapOptionsFromParams(spec.Params, f.deps)
	if err != nil {
		return sink.Handle{}, errors.ConfigError(ObjectKind, err)
	}
	client, err := requireClient(f.deps)
	if err != nil {
		return sink.Handle{}, err
	}

	name := spec.FullName()
	obj, err := NewObjectSink(ctx, name, client, cfg, f.deps.GetLoggerWithComponent(name))
	if err != nil {
		return sink.Handle{}, errors.StartupError(ObjectKind, err)
	}
	return sink.Handle{Name: name, Sink: sink.Wrap(name, obj, bctx, opts)}, nil
}
