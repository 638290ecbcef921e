package websocket

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
	"github.com/wp-labs/wp-open-api/pkg/tlsutil"
)

// Kind is the connector kind served by this package.
const Kind = "websocket"

// SinkFactory builds WebSocket sinks. Params:
//
//	addr                  listen address (required)
//	path                  endpoint path (default /ws)
//	format                record format (default json)
//	client_buffer         frames queued per client (default 256)
//	write_timeout         per frame (default 10s)
//	ping_interval         keepalive (default 30s)
//	allowed_origins       accepted Origin headers (default any)
//	tls_cert_file         server certificate
//	tls_key_file          server key
//	tls_min_version       1.2 or 1.3
//	tls_client_ca_files   verify client certificates against these CAs
//	tls_require_client_cert
//	tls_allowed_client_cns
//	acme_directory_url    obtain the certificate through ACME
//	acme_email, acme_domains, acme_storage_path, acme_challenge,
//	acme_renew_before, acme_ca_bundle
//
// plus the common wrapper params read by sink.WrapOptionsFromParams.
// Replicas listen on consecutive ports starting at the configured one.
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
	addr, err := p.RequireString("addr")
	if err != nil {
		return Config{}, err
	}
	if bctx.ReplicaCnt > 1 {
		if addr, err = replicaAddr(addr, bctx.ReplicaIdx); err != nil {
			return Config{}, err
		}
	}
	cfg := DefaultConfig(addr)
	if cfg.Path, err = p.String("path", cfg.Path); err != nil {
		return cfg, err
	}
	format, err := p.String("format", cfg.Format.String())
	if err != nil {
		return cfg, err
	}
	cfg.Format = model.ParseTextFmt(format)
	size, err := p.Int("client_buffer", int64(cfg.ClientBuffer))
	if err != nil {
		return cfg, err
	}
	cfg.ClientBuffer = int(size)
	if cfg.WriteTimeout, err = p.Duration("write_timeout", cfg.WriteTimeout); err != nil {
		return cfg, err
	}
	if cfg.PingInterval, err = p.Duration("ping_interval", cfg.PingInterval); err != nil {
		return cfg, err
	}
	if cfg.AllowedOrigins, err = p.StringSlice("allowed_origins", nil); err != nil {
		return cfg, err
	}
	if cfg.TLS, err = serverTLS(p); err != nil {
		return cfg, err
	}
	if cfg.TLS.ACME != nil {
		if err := cfg.TLS.ACME.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

// replicaAddr offsets the port by idx. Port 0 stays 0.
func replicaAddr(addr string, idx int) (string, error) {
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return "", errors.WrapInvalid(err, "websocket", "replicaAddr", "split "+addr)
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port < 0 || port+idx > 65535 {
		return "", errors.WrapInvalid(fmt.Errorf("%w: port %q", errors.ErrInvalidConfig, portText),
			"websocket", "replicaAddr", "offset port")
	}
	if port == 0 {
		return addr, nil
	}
	return net.JoinHostPort(host, strconv.Itoa(port+idx)), nil
}

func serverTLS(p connector.ParamMap) (tlsutil.ServerConfig, error) {
	var (
		c   tlsutil.ServerConfig
		err error
	)
	if c.CertFile, err = p.String("tls_cert_file", ""); err != nil {
		return c, err
	}
	if c.KeyFile, err = p.String("tls_key_file", ""); err != nil {
		return c, err
	}
	if c.MinVersion, err = p.String("tls_min_version", ""); err != nil {
		return c, err
	}
	if c.ClientCAFiles, err = p.StringSlice("tls_client_ca_files", nil); err != nil {
		return c, err
	}
	if c.RequireClientCert, err = p.Bool("tls_require_client_cert", false); err != nil {
		return c, err
	}
	if c.AllowedClientCNs, err = p.StringSlice("tls_allowed_client_cns", nil); err != nil {
		return c, err
	}

	directory, err := p.String("acme_directory_url", "")
	if err != nil || directory == "" {
		return c, err
	}
	acme := tlsutil.ACMEConfig{DirectoryURL: directory}
	if acme.Email, err = p.String("acme_email", ""); err != nil {
		return c, err
	}
	if acme.Domains, err = p.StringSlice("acme_domains", nil); err != nil {
		return c, err
	}
	if acme.StoragePath, err = p.String("acme_storage_path", ""); err != nil {
		return c, err
	}
	if acme.ChallengeType, err = p.String("acme_challenge", ""); err != nil {
		return c, err
	}
	if acme.RenewBefore, err = p.Duration("acme_renew_before", 0); err != nil {
		return c, err
	}
	if acme.CABundle, err = p.String("acme_ca_bundle", ""); err != nil {
		return c, err
	}
	c.ACME = &acme
	return c, nil
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
	s, err := NewSink(ctx, name, cfg, f.deps.MetricsRegistry, f.deps.GetLoggerWithComponent(name))
	if err != nil {
		return sink.Handle{}, errors.StartupError(Kind, err)
	}
	return sink.Handle{Name: name, Sink: sink.Wrap(name, s, bctx, opts)}, nil
}
