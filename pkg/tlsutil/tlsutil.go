// Package tlsutil builds tls.Config values for connectors that talk HTTP or
// WebSocket. Client configs start from the system CA pool; server configs
// load a key pair from disk or obtain one through ACME.
package tlsutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/wp-labs/wp-open-api/errors"
)

// ClientConfig describes the TLS side of an outbound connection.
type ClientConfig struct {
	// CAFiles are trusted in addition to the system pool.
	CAFiles            []string
	InsecureSkipVerify bool
	MinVersion         string

	// CertFile and KeyFile present a client certificate when both are set.
	CertFile string
	KeyFile  string
}

// Enabled reports whether any setting departs from the defaults.
func (c ClientConfig) Enabled() bool {
	return len(c.CAFiles) > 0 || c.InsecureSkipVerify || c.MinVersion != "" || c.CertFile != ""
}

// Load builds the client tls.Config.
func (c ClientConfig) Load() (*tls.Config, error) {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "tlsutil", "ClientConfig.Load",
			"cert_file and key_file must be set together")
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if err := appendPEMFiles(pool, c.CAFiles); err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		RootCAs:            pool,
		MinVersion:         parseVersion(c.MinVersion),
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // operator opt-in
	}
	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "ClientConfig.Load", "load client certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// ServerConfig describes a listening endpoint. With ACME set the key pair is
// obtained and renewed automatically; CertFile and KeyFile then serve as
// the fallback while the ACME server is unreachable.
type ServerConfig struct {
	CertFile   string
	KeyFile    string
	MinVersion string

	// ClientCAFiles enables client certificate verification.
	ClientCAFiles     []string
	RequireClientCert bool
	AllowedClientCNs  []string

	ACME *ACMEConfig
}

// Enabled reports whether the endpoint should serve TLS.
func (c ServerConfig) Enabled() bool {
	return c.CertFile != "" || c.ACME != nil
}

// Load builds the server tls.Config. The returned stop function ends the
// ACME renewal loop and is never nil.
func (c ServerConfig) Load(ctx context.Context, logger *slog.Logger) (*tls.Config, func(), error) {
	noop := func() {}
	if !c.Enabled() {
		return nil, noop, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &tls.Config{MinVersion: parseVersion(c.MinVersion)}
	if err := c.applyClientAuth(cfg); err != nil {
		return nil, noop, err
	}

	if c.ACME == nil {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, noop, errors.WrapFatal(err, "tlsutil", "ServerConfig.Load", "load certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
		return cfg, noop, nil
	}

	certs, err := NewACMECertificates(*c.ACME, logger)
	if err == nil {
		err = certs.Ensure(ctx)
	}
	if err != nil {
		if c.CertFile == "" {
			return nil, noop, err
		}
		logger.Warn("ACME unavailable, serving manual certificate", "error", err)
		cert, lerr := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if lerr != nil {
			return nil, noop, errors.WrapFatal(lerr, "tlsutil", "ServerConfig.Load", "load fallback certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
		return cfg, noop, nil
	}

	cfg.GetCertificate = certs.GetCertificate
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		certs.Run(runCtx)
	}()
	return cfg, func() {
		cancel()
		<-done
	}, nil
}

func (c ServerConfig) applyClientAuth(cfg *tls.Config) error {
	if len(c.ClientCAFiles) == 0 {
		return nil
	}
	pool := x509.NewCertPool()
	if err := appendPEMFiles(pool, c.ClientCAFiles); err != nil {
		return err
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.VerifyClientCertIfGiven
	if c.RequireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	if len(c.AllowedClientCNs) > 0 {
		allowed := slices.Clone(c.AllowedClientCNs)
		cfg.VerifyPeerCertificate = func(_ [][]byte, chains [][]*x509.Certificate) error {
			return verifyClientCN(chains, allowed)
		}
	}
	return nil
}

func verifyClientCN(chains [][]*x509.Certificate, allowed []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		// Optional client auth without a certificate.
		return nil
	}
	cn := chains[0][0].Subject.CommonName
	if slices.Contains(allowed, cn) {
		return nil
	}
	return fmt.Errorf("client certificate CN %q not allowed", cn)
}

func appendPEMFiles(pool *x509.CertPool, files []string) error {
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return errors.WrapFatal(err, "tlsutil", "appendPEMFiles", "read CA file "+file)
		}
		if !pool.AppendCertsFromPEM(data) {
			return errors.WrapFatal(fmt.Errorf("%w: no certificates in %s", errors.ErrInvalidData, file),
				"tlsutil", "appendPEMFiles", "parse CA file")
		}
	}
	return nil
}

// parseVersion maps "1.2" and "1.3". Anything else selects TLS 1.2.
func parseVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
