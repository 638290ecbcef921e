package httppost

import (
	"context"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
	"github.com/wp-labs/wp-open-api/pkg/tlsutil"
)

// Kind is the connector kind served by this package.
const Kind = "http"

// SinkFactory builds HTTP POST sinks. Params:
//
//	url                       endpoint (required)
//	headers                   extra request headers
//	content_type              default application/x-ndjson
//	format                    record format (default json)
//	framing                   lines or array (default lines)
//	timeout                   per request (default 30s)
//	retry_count               retries after the first attempt (default 3)
//	tls_ca_files              extra trusted CAs
//	tls_insecure_skip_verify  disable server verification
//	tls_min_version           1.2 or 1.3
//	tls_cert_file             client certificate
//	tls_key_file              client key
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

func sinkConfig(spec sink.Spec) (Config, error) {
	if err := spec.Validate(); err != nil {
		return Config{}, err
	}
	p := spec.Params
	target, err := p.RequireString("url")
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig(target)
	if cfg.Headers, err = p.StringMap("headers", cfg.Headers); err != nil {
		return cfg, err
	}
	if cfg.ContentType, err = p.String("content_type", cfg.ContentType); err != nil {
		return cfg, err
	}
	format, err := p.String("format", cfg.Format.String())
	if err != nil {
		return cfg, err
	}
	cfg.Format = model.ParseTextFmt(format)
	if cfg.Framing, err = p.String("framing", cfg.Framing); err != nil {
		return cfg, err
	}
	if cfg.Timeout, err = p.Duration("timeout", cfg.Timeout); err != nil {
		return cfg, err
	}
	retries, err := p.Int("retry_count", int64(cfg.RetryCount))
	if err != nil {
		return cfg, err
	}
	cfg.RetryCount = int(retries)
	if cfg.TLS, err = clientTLS(p); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func clientTLS(p connector.ParamMap) (tlsutil.ClientConfig, error) {
	var (
		c   tlsutil.ClientConfig
		err error
	)
	if c.CAFiles, err = p.StringSlice("tls_ca_files", nil); err != nil {
		return c, err
	}
	if c.InsecureSkipVerify, err = p.Bool("tls_insecure_skip_verify", false); err != nil {
		return c, err
	}
	if c.MinVersion, err = p.String("tls_min_version", ""); err != nil {
		return c, err
	}
	if c.CertFile, err = p.String("tls_cert_file", ""); err != nil {
		return c, err
	}
	if c.KeyFile, err = p.String("tls_key_file", ""); err != nil {
		return c, err
	}
	return c, nil
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
	s, err := NewSink(name, cfg, f.deps.GetLoggerWithComponent(name))
	if err != nil {
		return sink.Handle{}, errors.StartupError(Kind, err)
	}
	return sink.Handle{Name: name, Sink: sink.Wrap(name, s, bctx, opts)}, nil
}
