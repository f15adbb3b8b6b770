package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

type stubDataplane struct {
	url string
	err error
}

func (s *stubDataplane) ArtifactPresignedURL(_ context.Context, _, _ string) (string, error) {
	return s.url, s.err
}

func TestFetchGreengrassSchemeDownloadsFromPresignedURL(t *testing.T) {
	const body = "artifact-bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	root := t.TempDir()
	f := New(root, nil, &stubDataplane{url: srv.URL}, nil, logging.Discard())

	artifact := model.Artifact{URI: "greengrass://component-foo-1.0.0/artifacts/foo.bin"}
	path, err := f.Fetch(context.Background(), "foo", "1.0.0", artifact)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestFetchUnsupportedSchemeReturnsUnsupported(t *testing.T) {
	f := New(t.TempDir(), nil, nil, nil, logging.Discard())
	_, err := f.Fetch(context.Background(), "foo", "1.0.0", model.Artifact{URI: "ftp://example.com/foo"})
	require.Error(t, err)
	assert.True(t, ggerr.Is(err, ggerr.Unsupported))
}

func TestFetchGreengrassWithoutDataplaneConfiguredFails(t *testing.T) {
	f := New(t.TempDir(), nil, nil, nil, logging.Discard())
	_, err := f.Fetch(context.Background(), "foo", "1.0.0", model.Artifact{URI: "greengrass://arn/foo/artifacts/foo.bin"})
	require.Error(t, err)
	assert.True(t, ggerr.Is(err, ggerr.Unsupported))
}

func TestVerifyDigestMismatchFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	wrongDigest := base64.StdEncoding.EncodeToString(sha256.New().Sum([]byte("not-hello")))
	err := verifyDigest(path, wrongDigest, "SHA256", logging.Discard())
	assert.Error(t, err)
}

func TestVerifyDigestMatchSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")
	content := []byte("hello")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	sum := sha256.Sum256(content)
	digest := base64.StdEncoding.EncodeToString(sum[:])
	assert.NoError(t, verifyDigest(path, digest, "SHA256", logging.Discard()))
}

func TestVerifyDigestUnsupportedAlgorithm(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	err := verifyDigest(path, "deadbeef", "MD5", logging.Discard())
	require.Error(t, err)
	assert.True(t, ggerr.Is(err, ggerr.Unsupported))
}

func TestVerifyDigestAbsentIsTolerated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	assert.NoError(t, verifyDigest(path, "", "", logging.Discard()))
}

func TestUnarchiveDirNaming(t *testing.T) {
	f := New(t.TempDir(), nil, nil, nil, logging.Discard())
	dir := f.unarchiveDir("foo", "1.0.0", "bundle.zip")
	assert.Equal(t, filepath.Join(f.root, "packages", "artifacts-unarchived", "foo", "1.0.0", "bundle"), dir)
}
