package tlsutil

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/errors"
)

// keyPair is a self-signed certificate usable as its own CA.
type keyPair struct {
	certPEM  []byte
	keyPEM   []byte
	certFile string
	keyFile  string
}

func newKeyPair(t *testing.T, cn string, notAfter time.Time) keyPair {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	kp := keyPair{
		certPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		keyPEM:   pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
		certFile: filepath.Join(dir, "cert.pem"),
		keyFile:  filepath.Join(dir, "key.pem"),
	}
	require.NoError(t, os.WriteFile(kp.certFile, kp.certPEM, 0o644))
	require.NoError(t, os.WriteFile(kp.keyFile, kp.keyPEM, 0o600))
	return kp
}

func TestClientConfig_Load(t *testing.T) {
	ca := newKeyPair(t, "ca", time.Now().Add(24*time.Hour))
	badPEM := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(badPEM, []byte("not pem"), 0o644))

	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr bool
		check   func(t *testing.T, c *tls.Config)
	}{
		{
			name: "defaults",
			cfg:  ClientConfig{},
			check: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
				assert.NotNil(t, c.RootCAs)
				assert.Empty(t, c.Certificates)
			},
		},
		{
			name: "extra CA and client certificate",
			cfg:  ClientConfig{CAFiles: []string{ca.certFile}, CertFile: ca.certFile, KeyFile: ca.keyFile, MinVersion: "1.3"},
			check: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
				assert.Len(t, c.Certificates, 1)
			},
		},
		{
			name:  "insecure",
			cfg:   ClientConfig{InsecureSkipVerify: true},
			check: func(t *testing.T, c *tls.Config) { assert.True(t, c.InsecureSkipVerify) },
		},
		{name: "missing CA file", cfg: ClientConfig{CAFiles: []string{"/nonexistent/ca.pem"}}, wantErr: true},
		{name: "invalid CA file", cfg: ClientConfig{CAFiles: []string{badPEM}}, wantErr: true},
		{name: "cert without key", cfg: ClientConfig{CertFile: ca.certFile}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.cfg.Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestClientConfig_Enabled(t *testing.T) {
	assert.False(t, ClientConfig{}.Enabled())
	assert.True(t, ClientConfig{MinVersion: "1.3"}.Enabled())
	assert.True(t, ClientConfig{CAFiles: []string{"ca.pem"}}.Enabled())
}

func TestServerConfig_Load(t *testing.T) {
	ctx := context.Background()
	server := newKeyPair(t, "localhost", time.Now().Add(24*time.Hour))

	t.Run("disabled", func(t *testing.T) {
		c, stop, err := ServerConfig{}.Load(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, c)
		stop()
	})

	t.Run("manual", func(t *testing.T) {
		c, stop, err := ServerConfig{CertFile: server.certFile, KeyFile: server.keyFile}.Load(ctx, nil)
		require.NoError(t, err)
		defer stop()
		assert.Len(t, c.Certificates, 1)
		assert.Equal(t, tls.NoClientCert, c.ClientAuth)
	})

	t.Run("client auth", func(t *testing.T) {
		cfg := ServerConfig{
			CertFile:          server.certFile,
			KeyFile:           server.keyFile,
			ClientCAFiles:     []string{server.certFile},
			RequireClientCert: true,
			AllowedClientCNs:  []string{"agent"},
		}
		c, stop, err := cfg.Load(ctx, nil)
		require.NoError(t, err)
		defer stop()
		assert.Equal(t, tls.RequireAndVerifyClientCert, c.ClientAuth)
		assert.NotNil(t, c.VerifyPeerCertificate)
	})

	t.Run("missing key pair", func(t *testing.T) {
		_, stop, err := ServerConfig{CertFile: "/nonexistent.pem", KeyFile: "/nonexistent.key"}.Load(ctx, nil)
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
		stop()
	})

	t.Run("acme falls back to manual certificate", func(t *testing.T) {
		cfg := ServerConfig{
			CertFile: server.certFile,
			KeyFile:  server.keyFile,
			ACME: &ACMEConfig{
				DirectoryURL: "http://127.0.0.1:1/directory",
				Email:        "ops@example.com",
				Domains:      []string{"example.com"},
				StoragePath:  t.TempDir(),
			},
		}
		c, stop, err := cfg.Load(ctx, nil)
		require.NoError(t, err)
		defer stop()
		assert.Len(t, c.Certificates, 1)
		assert.Nil(t, c.GetCertificate)
	})
}

func TestVerifyClientCN(t *testing.T) {
	agent := newKeyPair(t, "agent", time.Now().Add(time.Hour))
	block, _ := pem.Decode(agent.certPEM)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	chains := [][]*x509.Certificate{{cert}}

	assert.NoError(t, verifyClientCN(chains, []string{"agent"}))
	assert.Error(t, verifyClientCN(chains, []string{"other"}))
	assert.NoError(t, verifyClientCN(nil, []string{"agent"}))
}

func TestMutualTLSHandshake(t *testing.T) {
	server := newKeyPair(t, "localhost", time.Now().Add(time.Hour))
	client := newKeyPair(t, "agent", time.Now().Add(time.Hour))

	serverTLS, stop, err := ServerConfig{
		CertFile:          server.certFile,
		KeyFile:           server.keyFile,
		ClientCAFiles:     []string{client.certFile},
		RequireClientCert: true,
		AllowedClientCNs:  []string{"agent"},
	}.Load(context.Background(), nil)
	require.NoError(t, err)
	defer stop()

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.TLS = serverTLS
	srv.StartTLS()
	defer srv.Close()

	get := func(cfg ClientConfig) error {
		c, err := cfg.Load()
		require.NoError(t, err)
		hc := &http.Client{Transport: &http.Transport{TLSClientConfig: c}, Timeout: 5 * time.Second}
		resp, err := hc.Get(srv.URL)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}

	assert.NoError(t, get(ClientConfig{CAFiles: []string{server.certFile}, CertFile: client.certFile, KeyFile: client.keyFile}))
	assert.Error(t, get(ClientConfig{CAFiles: []string{server.certFile}}), "client certificate is required")
}
