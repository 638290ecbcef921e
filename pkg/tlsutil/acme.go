package tlsutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/challenge/tlsalpn01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/wp-labs/wp-open-api/errors"
)

// ACME challenge types.
const (
	ChallengeHTTP01    = "http-01"
	ChallengeTLSALPN01 = "tls-alpn-01"
)

const (
	accountFile = "account.json"
	accountKey  = "account.key"
	certFile    = "certificate.pem"
	certKey     = "certificate.key"
)

// ACMEConfig configures automatic certificates.
type ACMEConfig struct {
	DirectoryURL  string
	Email         string
	Domains       []string
	ChallengeType string

	// RenewBefore is the remaining validity that triggers a renewal.
	RenewBefore   time.Duration
	CheckInterval time.Duration

	// StoragePath keeps the account and the current certificate.
	StoragePath string

	// CABundle is trusted when talking to a private ACME directory.
	CABundle string
}

func (c ACMEConfig) withDefaults() ACMEConfig {
	if c.ChallengeType == "" {
		c.ChallengeType = ChallengeHTTP01
	}
	if c.RenewBefore <= 0 {
		c.RenewBefore = 8 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	return c
}

// Validate checks the configuration.
func (c ACMEConfig) Validate() error {
	var missing string
	switch {
	case c.DirectoryURL == "":
		missing = "directory_url"
	case c.Email == "":
		missing = "email"
	case len(c.Domains) == 0:
		missing = "domains"
	case c.StoragePath == "":
		missing = "storage_path"
	}
	if missing != "" {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrMissingConfig, missing),
			"ACMEConfig", "Validate", "check "+missing)
	}
	switch c.ChallengeType {
	case "", ChallengeHTTP01, ChallengeTLSALPN01:
		return nil
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: challenge type %q", errors.ErrInvalidConfig, c.ChallengeType),
			"ACMEConfig", "Validate", "check challenge type")
	}
}

// account is the registration.User persisted under StoragePath.
type account struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration,omitempty"`
	key          crypto.PrivateKey
}

func (a *account) GetEmail() string                        { return a.Email }
func (a *account) GetRegistration() *registration.Resource { return a.Registration }
func (a *account) GetPrivateKey() crypto.PrivateKey        { return a.key }

// ACMECertificates holds the current certificate for a set of domains and
// renews it in the background.
type ACMECertificates struct {
	cfg    ACMEConfig
	logger *slog.Logger
	now    func() time.Time

	acct *account

	mu     sync.Mutex
	client *lego.Client

	current atomic.Pointer[tls.Certificate]
}

// NewACMECertificates loads or creates the ACME account. No network call is
// made until Ensure.
func NewACMECertificates(cfg ACMEConfig, logger *slog.Logger) (*ACMECertificates, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.StoragePath, 0o700); err != nil {
		return nil, errors.WrapFatal(err, "ACMECertificates", "New", "create storage directory")
	}
	a := &ACMECertificates{cfg: cfg, logger: logger.With("component", "acme"), now: time.Now}
	acct, err := a.loadAccount()
	if err != nil {
		return nil, err
	}
	a.acct = acct
	return a, nil
}

func (a *ACMECertificates) path(name string) string {
	return filepath.Join(a.cfg.StoragePath, name)
}

func (a *ACMECertificates) loadAccount() (*account, error) {
	data, err := os.ReadFile(a.path(accountFile))
	if stderrors.Is(err, fs.ErrNotExist) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, errors.WrapFatal(err, "ACMECertificates", "loadAccount", "generate account key")
		}
		acct := &account{Email: a.cfg.Email, key: key}
		return acct, a.saveAccount(acct)
	}
	if err != nil {
		return nil, errors.WrapFatal(err, "ACMECertificates", "loadAccount", "read account")
	}

	var acct account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, errors.WrapFatal(err, "ACMECertificates", "loadAccount", "decode account")
	}
	keyPEM, err := os.ReadFile(a.path(accountKey))
	if err != nil {
		return nil, errors.WrapFatal(err, "ACMECertificates", "loadAccount", "read account key")
	}
	if acct.key, err = certcrypto.ParsePEMPrivateKey(keyPEM); err != nil {
		return nil, errors.WrapFatal(err, "ACMECertificates", "loadAccount", "parse account key")
	}
	return &acct, nil
}

func (a *ACMECertificates) saveAccount(acct *account) error {
	data, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return errors.WrapFatal(err, "ACMECertificates", "saveAccount", "encode account")
	}
	if err := os.WriteFile(a.path(accountFile), data, 0o600); err != nil {
		return errors.WrapFatal(err, "ACMECertificates", "saveAccount", "write account")
	}
	if err := os.WriteFile(a.path(accountKey), certcrypto.PEMEncode(acct.key), 0o600); err != nil {
		return errors.WrapFatal(err, "ACMECertificates", "saveAccount", "write account key")
	}
	return nil
}

// legoClient creates the client on first use and registers the account
// when it has no registration yet.
func (a *ACMECertificates) legoClient() (*lego.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}

	conf := lego.NewConfig(a.acct)
	conf.CADirURL = a.cfg.DirectoryURL
	conf.Certificate.KeyType = certcrypto.EC256
	if a.cfg.CABundle != "" {
		pool := x509.NewCertPool()
		if err := appendPEMFiles(pool, []string{a.cfg.CABundle}); err != nil {
			return nil, err
		}
		conf.HTTPClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}},
		}
	}

	client, err := lego.NewClient(conf)
	if err != nil {
		return nil, errors.WrapTransient(err, "ACMECertificates", "legoClient", "connect to directory")
	}
	switch a.cfg.ChallengeType {
	case ChallengeTLSALPN01:
		err = client.Challenge.SetTLSALPN01Provider(tlsalpn01.NewProviderServer("", "443"))
	default:
		err = client.Challenge.SetHTTP01Provider(http01.NewProviderServer("", "80"))
	}
	if err != nil {
		return nil, errors.WrapFatal(err, "ACMECertificates", "legoClient", "set up "+a.cfg.ChallengeType)
	}

	if a.acct.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, errors.WrapTransient(err, "ACMECertificates", "legoClient", "register account")
		}
		a.acct.Registration = reg
		if err := a.saveAccount(a.acct); err != nil {
			return nil, err
		}
	}
	a.client = client
	return client, nil
}

// Ensure makes a valid certificate current, reusing the stored one while
// it is outside the renewal window.
func (a *ACMECertificates) Ensure(ctx context.Context) error {
	stored, err := a.loadStored()
	if err == nil && !a.due(stored) {
		a.current.Store(stored)
		return nil
	}
	if _, err := a.refresh(ctx); err != nil {
		if stored == nil || !a.now().Before(stored.Leaf.NotAfter) {
			return err
		}
		a.logger.Warn("renewal failed, serving stored certificate", "not_after", stored.Leaf.NotAfter, "error", err)
		a.current.Store(stored)
	}
	return nil
}

// GetCertificate serves the current certificate to tls.Config.
func (a *ACMECertificates) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := a.current.Load()
	if cert == nil {
		return nil, errors.WrapTransient(errors.ErrNotStarted, "ACMECertificates", "GetCertificate", "no certificate yet")
	}
	return cert, nil
}

// Run renews the certificate whenever it enters the renewal window, until
// ctx ends. Failures are logged and retried on the next tick.
func (a *ACMECertificates) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if cert := a.current.Load(); cert != nil && !a.due(cert) {
			continue
		}
		if _, err := a.refresh(ctx); err != nil {
			a.logger.Warn("certificate renewal failed", "domains", a.cfg.Domains, "error", err)
		}
	}
}

func (a *ACMECertificates) due(cert *tls.Certificate) bool {
	if cert.Leaf == nil {
		return true
	}
	return !a.now().Before(cert.Leaf.NotAfter.Add(-a.cfg.RenewBefore))
}

// refresh renews the stored certificate or obtains a new one.
func (a *ACMECertificates) refresh(ctx context.Context) (*tls.Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := a.legoClient()
	if err != nil {
		return nil, err
	}

	var res *certificate.Resource
	certPEM, cerr := os.ReadFile(a.path(certFile))
	keyPEM, kerr := os.ReadFile(a.path(certKey))
	if cerr == nil && kerr == nil {
		res, err = client.Certificate.Renew(certificate.Resource{
			Domain:      a.cfg.Domains[0],
			Certificate: certPEM,
			PrivateKey:  keyPEM,
		}, true, false, "")
	} else {
		res, err = client.Certificate.Obtain(certificate.ObtainRequest{Domains: a.cfg.Domains, Bundle: true})
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "ACMECertificates", "refresh", "request certificate")
	}

	cert, err := a.store(res.Certificate, res.PrivateKey)
	if err != nil {
		return nil, err
	}
	a.logger.Info("certificate updated", "domains", a.cfg.Domains, "not_after", cert.Leaf.NotAfter)
	return cert, nil
}

// store persists a PEM key pair and makes it current.
func (a *ACMECertificates) store(certPEM, keyPEM []byte) (*tls.Certificate, error) {
	cert, err := parseKeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(a.path(certFile), certPEM, 0o644); err != nil {
		return nil, errors.WrapFatal(err, "ACMECertificates", "store", "write certificate")
	}
	if err := os.WriteFile(a.path(certKey), keyPEM, 0o600); err != nil {
		return nil, errors.WrapFatal(err, "ACMECertificates", "store", "write key")
	}
	a.current.Store(cert)
	return cert, nil
}

func (a *ACMECertificates) loadStored() (*tls.Certificate, error) {
	certPEM, err := os.ReadFile(a.path(certFile))
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(a.path(certKey))
	if err != nil {
		return nil, err
	}
	return parseKeyPair(certPEM, keyPEM)
}

func parseKeyPair(certPEM, keyPEM []byte) (*tls.Certificate, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, errors.WrapInvalid(err, "tlsutil", "parseKeyPair", "load key pair")
	}
	if cert.Leaf == nil {
		if cert.Leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return nil, errors.WrapInvalid(err, "tlsutil", "parseKeyPair", "parse leaf")
		}
	}
	return &cert, nil
}
