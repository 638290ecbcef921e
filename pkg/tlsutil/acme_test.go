package tlsutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/errors"
)

func testACMEConfig(t *testing.T) ACMEConfig {
	return ACMEConfig{
		DirectoryURL: "http://127.0.0.1:1/directory",
		Email:        "ops@example.com",
		Domains:      []string{"localhost"},
		StoragePath:  filepath.Join(t.TempDir(), "acme"),
	}
}

func TestACMEConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ACMEConfig)
		ok     bool
	}{
		{"valid", func(*ACMEConfig) {}, true},
		{"tls-alpn-01", func(c *ACMEConfig) { c.ChallengeType = ChallengeTLSALPN01 }, true},
		{"missing directory", func(c *ACMEConfig) { c.DirectoryURL = "" }, false},
		{"missing email", func(c *ACMEConfig) { c.Email = "" }, false},
		{"missing domains", func(c *ACMEConfig) { c.Domains = nil }, false},
		{"missing storage", func(c *ACMEConfig) { c.StoragePath = "" }, false},
		{"unknown challenge", func(c *ACMEConfig) { c.ChallengeType = "dns-01" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testACMEConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestACMEConfig_Defaults(t *testing.T) {
	cfg := ACMEConfig{}.withDefaults()
	assert.Equal(t, ChallengeHTTP01, cfg.ChallengeType)
	assert.Equal(t, 8*time.Hour, cfg.RenewBefore)
	assert.Equal(t, time.Hour, cfg.CheckInterval)
}

func TestACMECertificates_AccountPersists(t *testing.T) {
	cfg := testACMEConfig(t)
	first, err := NewACMECertificates(cfg, nil)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cfg.StoragePath, accountFile))
	assert.FileExists(t, filepath.Join(cfg.StoragePath, accountKey))

	second, err := NewACMECertificates(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, first.acct.Email, second.acct.Email)
	assert.Equal(t, certcrypto.PEMEncode(first.acct.GetPrivateKey()), certcrypto.PEMEncode(second.acct.GetPrivateKey()))
}

func TestACMECertificates_EnsureUsesStoredCertificate(t *testing.T) {
	cfg := testACMEConfig(t)
	certs, err := NewACMECertificates(cfg, nil)
	require.NoError(t, err)

	_, err = certs.GetCertificate(nil)
	require.Error(t, err, "nothing is served before Ensure")

	kp := newKeyPair(t, "localhost", time.Now().Add(30*24*time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StoragePath, certFile), kp.certPEM, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StoragePath, certKey), kp.keyPEM, 0o600))

	require.NoError(t, certs.Ensure(context.Background()))
	served, err := certs.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, "localhost", served.Leaf.Subject.CommonName)
}

func TestACMECertificates_EnsureKeepsStoredWhileValid(t *testing.T) {
	cfg := testACMEConfig(t)
	cfg.RenewBefore = 48 * time.Hour
	certs, err := NewACMECertificates(cfg, nil)
	require.NoError(t, err)

	// Inside the renewal window but not expired: the unreachable directory
	// must not take the endpoint down.
	kp := newKeyPair(t, "localhost", time.Now().Add(24*time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StoragePath, certFile), kp.certPEM, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StoragePath, certKey), kp.keyPEM, 0o600))

	require.NoError(t, certs.Ensure(context.Background()))
	_, err = certs.GetCertificate(nil)
	assert.NoError(t, err)
}

func TestACMECertificates_EnsureFailsWithoutCertificate(t *testing.T) {
	certs, err := NewACMECertificates(testACMEConfig(t), nil)
	require.NoError(t, err)
	err = certs.Ensure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestACMECertificates_Due(t *testing.T) {
	cfg := testACMEConfig(t)
	cfg.RenewBefore = time.Hour
	certs, err := NewACMECertificates(cfg, nil)
	require.NoError(t, err)

	kp := newKeyPair(t, "localhost", time.Now().Add(2*time.Hour))
	cert, err := parseKeyPair(kp.certPEM, kp.keyPEM)
	require.NoError(t, err)

	assert.False(t, certs.due(cert))
	certs.now = func() time.Time { return time.Now().Add(90 * time.Minute) }
	assert.True(t, certs.due(cert))
}
