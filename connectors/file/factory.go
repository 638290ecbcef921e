package file

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// Kind is the connector kind served by this package.
const Kind = "file"

var formats = map[string]model.TextFmt{
	"json":       model.FmtJSON,
	"jsonl":      model.FmtJSON,
	"kv":         model.FmtKV,
	"raw":        model.FmtRaw,
	"show":       model.FmtShow,
	"csv":        model.FmtCSV,
	"proto-text": model.FmtProtoText,
}

func parseFormat(name string) (model.TextFmt, error) {
	f, ok := formats[name]
	if !ok {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: unknown format %q", errors.ErrInvalidConfig, name),
			"file", "parseFormat", "check format")
	}
	return f, nil
}

// SourceFactory builds file sources. Params:
//
//	path           file to read (required)
//	batch_size     lines per Receive (default 256)
//	tail           wait for appended lines at end of file (default false)
//	durable        keep an ack cursor (default true)
//	cursor         cursor file (default <work_root>/.cursors/<name>.pos)
//	poll_interval  tail recheck interval (default 1s)
type SourceFactory struct {
	deps connector.Dependencies
}

// NewSourceFactory creates the factory.
func NewSourceFactory(deps connector.Dependencies) *SourceFactory {
	return &SourceFactory{deps: deps}
}

func (f *SourceFactory) Kind() string { return Kind }

func (f *SourceFactory) ValidateSpec(spec source.Spec) error {
	_, err := sourceConfig(spec, source.BuildCtx{})
	return err
}

func sourceConfig(spec source.Spec, bctx source.BuildCtx) (SourceConfig, error) {
	if err := spec.Validate(); err != nil {
		return SourceConfig{}, err
	}
	path, err := spec.Params.RequireString("path")
	if err != nil {
		return SourceConfig{}, err
	}
	cfg := DefaultSourceConfig(path)

	batch, err := spec.Params.Int("batch_size", int64(cfg.BatchSize))
	if err != nil {
		return cfg, err
	}
	cfg.BatchSize = int(batch)
	if cfg.Tail, err = spec.Params.Bool("tail", false); err != nil {
		return cfg, err
	}
	if cfg.PollInterval, err = spec.Params.Duration("poll_interval", cfg.PollInterval); err != nil {
		return cfg, err
	}

	durable, err := spec.Params.Bool("durable", true)
	if err != nil {
		return cfg, err
	}
	if durable {
		if cfg.CursorPath, err = spec.Params.String("cursor", ""); err != nil {
			return cfg, err
		}
		if cfg.CursorPath == "" {
			cfg.CursorPath = defaultCursorPath(spec.Name, path, bctx.WorkRoot)
		}
	}
	return cfg, cfg.Validate()
}

func defaultCursorPath(name, path, workRoot string) string {
	if workRoot == "" {
		return path + ".cursor"
	}
	return filepath.Join(workRoot, ".cursors", name+".pos")
}

func (f *SourceFactory) Build(_ context.Context, spec source.Spec, bctx source.BuildCtx) (source.Instances, error) {
	cfg, err := sourceConfig(spec, bctx)
	if err != nil {
		return source.Instances{}, errors.ConfigError(Kind, err)
	}

	tags := spec.TagSet()
	src, err := NewSource(spec.Name, cfg, f.deps.GetLoggerWithComponent(spec.Name))
	if err != nil {
		return source.Instances{}, errors.ConfigError(Kind, err)
	}
	src.WithTags(tags)

	var out source.Instances
	out.Add(source.Handle{Source: src, Meta: source.Meta{Name: spec.Name, Kind: Kind, Tags: tags}})
	return out, nil
}

// SinkFactory builds file sinks. Params:
//
//	path            output file (required)
//	format          json|jsonl|kv|raw|show|csv|proto-text (default json)
//	append          append instead of truncating (default true)
//	buffer_size     lines buffered before a write (default 100)
//	flush_interval  periodic flush (default 1s)
//
// plus the common wrapper params read by sink.WrapOptionsFromParams. A
// relative path is resolved against the build context work root.
type SinkFactory struct {
	deps connector.Dependencies
}

// NewSinkFactory creates the factory.
func NewSinkFactory(deps connector.Dependencies) *SinkFactory {
	return &SinkFactory{deps: deps}
}

func (f *SinkFactory) Kind() string { return Kind }

func (f *SinkFactory) ValidateSpec(spec sink.Spec) error {
	if _, err := sinkConfig(spec, sink.BuildCtx{}); err != nil {
		return err
	}
	_, err := sink.WrapOptionsFromParams(spec.Params, f.deps)
	return err
}

func sinkConfig(spec sink.Spec, bctx sink.BuildCtx) (SinkConfig, error) {
	if err := spec.Validate(); err != nil {
		return SinkConfig{}, err
	}
	path, err := spec.Params.RequireString("path")
	if err != nil {
		return SinkConfig{}, err
	}
	if !filepath.IsAbs(path) && bctx.WorkRoot != "" {
		path = filepath.Join(bctx.WorkRoot, path)
	}
	cfg := DefaultSinkConfig(path)

	name, err := spec.Params.String("format", cfg.Format.String())
	if err != nil {
		return cfg, err
	}
	if cfg.Format, err = parseFormat(name); err != nil {
		return cfg, err
	}
	if cfg.Append, err = spec.Params.Bool("append", cfg.Append); err != nil {
		return cfg, err
	}
	size, err := spec.Params.Int("buffer_size", int64(cfg.BufferSize))
	if err != nil {
		return cfg, err
	}
	cfg.BufferSize = int(size)
	if cfg.FlushInterval, err = spec.Params.Duration("flush_interval", cfg.FlushInterval); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (f *SinkFactory) Build(_ context.Context, spec sink.Spec, bctx sink.BuildCtx) (sink.Handle, error) {
	cfg, err := sinkConfig(spec, bctx)
	if err != nil {
		return sink.Handle{}, errors.ConfigError(Kind, err)
	}
	opts, err := sink.WrapOptionsFromParams(spec.Params, f.deps)
	if err != nil {
		return sink.Handle{}, errors.ConfigError(Kind, err)
	}

	name := spec.FullName()
	if bctx.ReplicaCnt > 1 {
		cfg.Path = fmt.Sprintf("%s.%d", cfg.Path, bctx.ReplicaIdx)
	}
	fs, err := NewSink(name, cfg, f.deps.GetLoggerWithComponent(name))
	if err != nil {
		return sink.Handle{}, errors.StartupError(Kind, err)
	}
	return sink.Handle{Name: name, Sink: sink.Wrap(name, fs, bctx, opts)}, nil
}

// Adapter maps file URLs to params:
//
//	file:///var/log/app.log?tail=true&batch_size=100
//
// Query values are passed through as strings; the typed accessors parse
// them.
type Adapter struct{}

var _ connector.Adapter = Adapter{}

func (Adapter) Kind() string { return Kind }

func (Adapter) Defaults() connector.ParamMap {
	return connector.ParamMap{"format": "json", "append": true, "buffer_size": 100}
}

func (Adapter) URLToParams(raw string) (connector.ParamMap, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Adapter", "URLToParams", "parse url")
	}
	if u.Scheme != Kind {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: scheme %q, want %q", errors.ErrInvalidConfig, u.Scheme, Kind),
			"Adapter", "URLToParams", "check scheme")
	}
	path := u.Path
	if u.Host != "" && u.Host != "localhost" {
		path = filepath.Join(u.Host, u.Path)
	}
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Adapter", "URLToParams", "url has no path")
	}

	params := connector.ParamMap{"path": path}
	for key, values := range u.Query() {
		if len(values) > 0 {
			params[key] = values[len(values)-1]
		}
	}
	return params, nil
}
