package sqlite

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/errors"
)

// Kind is the connector kind served by this package.
const Kind = "sqlite"

// DefaultTable receives rows when no table param is given.
const DefaultTable = "events"

// SinkFactory builds SQLite sinks. Params:
//
//	path     database file, relative to the work root (required)
//	table    target table (default events)
//	columns  record fields copied into their own TEXT columns
//
// plus the common wrapper params read by sink.WrapOptionsFromParams.
// Replicas write to "<path>.<replica>".
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

func sinkConfig(spec sink.Spec, bctx sink.BuildCtx) (Config, error) {
	if err := spec.Validate(); err != nil {
		return Config{}, err
	}
	p := spec.Params
	path, err := p.RequireString("path")
	if err != nil {
		return Config{}, err
	}
	if !filepath.IsAbs(path) && bctx.WorkRoot != "" {
		path = filepath.Join(bctx.WorkRoot, path)
	}
	if bctx.ReplicaCnt > 1 {
		path = fmt.Sprintf("%s.%d", path, bctx.ReplicaIdx)
	}
	cfg := Config{Path: path}
	if cfg.Table, err = p.String("table", DefaultTable); err != nil {
		return cfg, err
	}
	if cfg.Columns, err = p.StringSlice("columns", nil); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (f *SinkFactory) Build(ctx context.Context, spec sink.Spec, bctx sink.BuildCtx) (sink.Handle, error) {
	cfg, err := sinkConfig(spec, bctx)
	if err != nil {
		return sink.Handle{}, errors.ConfigError(Kind, err)
	}
	opts, err := sink.WrapOptionsFromParams(spec.Params, f.deps)
	if err != nil {
		return sink.Handle{}, errors.ConfigError(Kind, err)
	}

	name := spec.FullName()
	s, err := NewSink(ctx, name, cfg, f.deps.GetLoggerWithComponent(name))
	if err != nil {
		return sink.Handle{}, errors.StartupError(Kind, err)
	}
	return sink.Handle{Name: name, Sink: sink.Wrap(name, s, bctx, opts)}, nil
}
