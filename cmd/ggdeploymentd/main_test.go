package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengrass-lite/ggdeploymentd/internal/daemon"
	"github.com/greengrass-lite/ggdeploymentd/internal/dataplane"
	"github.com/greengrass-lite/ggdeploymentd/internal/jobslistener"
)

func TestInitializeLoggerAcceptsValidLevels(t *testing.T) {
	testViper := viper.New()
	testViper.Set("log-level", "debug")
	v = testViper

	logger, err := initializeLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestInitializeLoggerRejectsUnknownLevel(t *testing.T) {
	testViper := viper.New()
	testViper.Set("log-level", "not-a-level")
	v = testViper

	_, err := initializeLogger()
	require.Error(t, err)
}

// writeSelfSignedCert drops a self-signed certificate/key pair under dir,
// standing in for the device identity dataplane.New and jobslistener.New
// require; the same
// certificate doubles as its own CA bundle.
func writeSelfSignedCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-device"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "device.crt")
	keyFile = filepath.Join(dir, "device.key")

	certOut, err := os.Create(certFile)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyBytes, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyOut, err := os.Create(keyFile)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}))
	require.NoError(t, keyOut.Close())

	return certFile, keyFile
}

func TestSetupServerServesHealthzAndMetrics(t *testing.T) {
	root := t.TempDir()
	certFile, keyFile := writeSelfSignedCert(t, root)

	d, err := daemon.New(daemon.Config{
		Root: root,
		Dataplane: dataplane.Config{
			CertFile: certFile,
			KeyFile:  keyFile,
			CAFile:   certFile,
		},
		MQTT: jobslistener.Config{
			CertFile: certFile,
			KeyFile:  keyFile,
			CAFile:   certFile,
		},
	})
	require.NoError(t, err)

	server := setupServer(8080, d)
	require.Equal(t, ":8080", server.Addr)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	server.Handler.ServeHTTP(metricsRec, metricsReq)
	assert.Equal(t, http.StatusOK, metricsRec.Code)
}
