package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
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

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/pkg/security"
)

type certFiles struct {
	cert string
	key  string
}

// writeTestCert creates a self-signed certificate valid for localhost and
// 127.0.0.1, usable for both server and client authentication
func writeTestCert(t *testing.T, cn string) certFiles {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   cn,
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	dir := t.TempDir()
	files := certFiles{
		cert: filepath.Join(dir, cn+".pem"),
		key:  filepath.Join(dir, cn+"-key.pem"),
	}
	require.NoError(t, os.WriteFile(files.cert, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0644))
	require.NoError(t, os.WriteFile(files.key, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}), 0600))
	return files
}

func TestLoadServerTLSConfig(t *testing.T) {
	server := writeTestCert(t, "localhost")
	badCA := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(badCA, []byte("not a certificate"), 0644))

	tests := []struct {
		name    string
		cfg     security.ServerTLSConfig
		wantNil bool
		wantErr bool
	}{
		{
			name:    "disabled",
			cfg:     security.ServerTLSConfig{CertFile: server.cert, KeyFile: server.key},
			wantNil: true,
		},
		{
			name: "enabled with valid cert",
			cfg:  security.ServerTLSConfig{Enabled: true, CertFile: server.cert, KeyFile: server.key, MinVersion: "1.3"},
		},
		{
			name:    "missing cert file",
			cfg:     security.ServerTLSConfig{Enabled: true, CertFile: "/nonexistent/cert.pem", KeyFile: server.key},
			wantErr: true,
		},
		{
			name:    "invalid client CA",
			cfg:     security.ServerTLSConfig{Enabled: true, CertFile: server.cert, KeyFile: server.key, ClientCAFiles: []string{badCA}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tlsCfg, err := LoadServerTLSConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsFatal(err))
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, tlsCfg)
				return
			}
			require.NotNil(t, tlsCfg)
			assert.Len(t, tlsCfg.Certificates, 1)
			assert.Equal(t, uint16(tls.VersionTLS13), tlsCfg.MinVersion)
			assert.Equal(t, tls.NoClientCert, tlsCfg.ClientAuth)
		})
	}
}

func TestLoadServerTLSConfig_ClientAuth(t *testing.T) {
	server := writeTestCert(t, "localhost")
	client := writeTestCert(t, "publisher")

	required, err := LoadServerTLSConfig(security.ServerTLSConfig{
		Enabled:           true,
		CertFile:          server.cert,
		KeyFile:           server.key,
		ClientCAFiles:     []string{client.cert},
		RequireClientCert: true,
	})
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, required.ClientAuth)
	assert.NotNil(t, required.ClientCAs)
	assert.Nil(t, required.VerifyPeerCertificate)

	optional, err := LoadServerTLSConfig(security.ServerTLSConfig{
		Enabled:          true,
		CertFile:         server.cert,
		KeyFile:          server.key,
		ClientCAFiles:    []string{client.cert},
		AllowedClientCNs: []string{"publisher"},
	})
	require.NoError(t, err)
	assert.Equal(t, tls.VerifyClientCertIfGiven, optional.ClientAuth)
	assert.NotNil(t, optional.VerifyPeerCertificate)
}

func TestLoadClientTLSConfig(t *testing.T) {
	ca := writeTestCert(t, "localhost")
	client := writeTestCert(t, "publisher")

	tlsCfg, err := LoadClientTLSConfig(security.ClientTLSConfig{})
	require.NoError(t, err)
	assert.Nil(t, tlsCfg, "disabled client TLS yields no config")

	tlsCfg, err = LoadClientTLSConfig(security.ClientTLSConfig{Enabled: true, CAFiles: []string{ca.cert}})
	require.NoError(t, err)
	require.NotNil(t, tlsCfg)
	assert.NotNil(t, tlsCfg.RootCAs)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsCfg.MinVersion)
	assert.Empty(t, tlsCfg.Certificates)
	assert.False(t, tlsCfg.InsecureSkipVerify)

	tlsCfg, err = LoadClientTLSConfig(security.ClientTLSConfig{
		Enabled:            true,
		InsecureSkipVerify: true,
		CertFile:           client.cert,
		KeyFile:            client.key,
	})
	require.NoError(t, err)
	assert.Len(t, tlsCfg.Certificates, 1)
	assert.True(t, tlsCfg.InsecureSkipVerify)

	_, err = LoadClientTLSConfig(security.ClientTLSConfig{Enabled: true, CertFile: client.cert})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = LoadClientTLSConfig(security.ClientTLSConfig{Enabled: true, CAFiles: []string{"/nonexistent/ca.pem"}})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.0"))
}

func TestVerifyAllowedClientCN(t *testing.T) {
	files := writeTestCert(t, "publisher")
	data, err := os.ReadFile(files.cert)
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	chains := [][]*x509.Certificate{{cert}}
	assert.NoError(t, verifyAllowedClientCN(chains, []string{"reader", "publisher"}))

	err = verifyAllowedClientCN(chains, []string{"reader"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in allowed list")

	err = verifyAllowedClientCN(nil, []string{"publisher"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no verified certificate chains")
}

func TestHandshake(t *testing.T) {
	server := writeTestCert(t, "localhost")
	allowed := writeTestCert(t, "publisher")
	other := writeTestCert(t, "intruder")

	serverCfg, err := LoadServerTLSConfig(security.ServerTLSConfig{
		Enabled:           true,
		CertFile:          server.cert,
		KeyFile:           server.key,
		ClientCAFiles:     []string{allowed.cert, other.cert},
		RequireClientCert: true,
		AllowedClientCNs:  []string{"publisher"},
	})
	require.NoError(t, err)

	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	ts.TLS = serverCfg
	ts.StartTLS()
	defer ts.Close()

	get := func(cfg security.ClientTLSConfig) error {
		clientCfg, err := LoadClientTLSConfig(cfg)
		require.NoError(t, err)
		httpClient := &http.Client{
			Transport: &http.Transport{TLSClientConfig: clientCfg},
			Timeout:   5 * time.Second,
		}
		resp, err := httpClient.Get(ts.URL)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		return nil
	}

	t.Run("allowed client certificate", func(t *testing.T) {
		err := get(security.ClientTLSConfig{
			Enabled:  true,
			CAFiles:  []string{server.cert},
			CertFile: allowed.cert,
			KeyFile:  allowed.key,
		})
		assert.NoError(t, err)
	})

	t.Run("client certificate with other CN", func(t *testing.T) {
		err := get(security.ClientTLSConfig{
			Enabled:  true,
			CAFiles:  []string{server.cert},
			CertFile: other.cert,
			KeyFile:  other.key,
		})
		assert.Error(t, err)
	})

	t.Run("no client certificate", func(t *testing.T) {
		err := get(security.ClientTLSConfig{Enabled: true, CAFiles: []string{server.cert}})
		assert.Error(t, err)
	})
}
