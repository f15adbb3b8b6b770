// Package fetcher downloads recipe artifacts from the three URI schemes a
// component manifest can reference and verifies/unarchives them, grounded
// on pkg/zipper's unarchive helper and internal/tes's SigV4 request
// signing of TES-issued credentials.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/crane"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
	"github.com/greengrass-lite/ggdeploymentd/pkg/auth"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
	"github.com/greengrass-lite/ggdeploymentd/pkg/zipper"
)

// DataplaneClient resolves a greengrass:// artifact reference to a presigned
// download URL via GET /greengrass/v2/components/<arn>/artifacts/<path>.
// Implemented by internal/dataplane; declared here to avoid an import
// cycle.
type DataplaneClient interface {
	ArtifactPresignedURL(ctx context.Context, componentArn, path string) (string, error)
}

// ECRCredentialsProvider retrieves short-lived ECR registry credentials
// signed with TES credentials, for private docker:// pulls.
type ECRCredentialsProvider interface {
	ECRCredentials(ctx context.Context, registry string) (username, password string, err error)
}

// Fetcher downloads and verifies component artifacts into the per-component
// staging tree under root.
type Fetcher struct {
	root        string
	httpClient  *http.Client
	tes         auth.Credentials
	dataplane   DataplaneClient
	ecr         ECRCredentialsProvider
	logger      logging.Interface
}

// New constructs a Fetcher rooted at root (the device's packages directory).
// dataplane and ecr may be nil when only s3:// artifacts are exercised
// (e.g. in local-only deployments and tests).
func New(root string, tes auth.Credentials, dataplane DataplaneClient, ecr ECRCredentialsProvider, logger logging.Interface) *Fetcher {
	return &Fetcher{
		root:       root,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		tes:        tes,
		dataplane:  dataplane,
		ecr:        ecr,
		logger:     logger,
	}
}

// stagingDir returns <root>/packages/artifacts/<name>/<version>.
func (f *Fetcher) stagingDir(name, version string) string {
	return filepath.Join(f.root, "packages", "artifacts", name, version)
}

// unarchiveDir returns <root>/packages/artifacts-unarchived/<name>/<version>/<file-sans-ext>.
func (f *Fetcher) unarchiveDir(name, version, fileName string) string {
	sansExt := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	return filepath.Join(f.root, "packages", "artifacts-unarchived", name, version, sansExt)
}

// Fetch downloads one artifact, verifies its digest if present, and
// unarchives it if requested. Returns the local path to the downloaded (or,
// if unarchived, extracted) artifact.
func (f *Fetcher) Fetch(ctx context.Context, name, version string, artifact model.Artifact) (string, error) {
	u, err := url.Parse(artifact.URI)
	if err != nil {
		return "", ggerr.Wrap(ggerr.Invalid, "parse artifact uri "+artifact.URI, err)
	}

	dir := f.stagingDir(name, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ggerr.Wrap(ggerr.Failure, "create staging dir "+dir, err)
	}
	fileName := filepath.Base(u.Path)
	if fileName == "" || fileName == "." || fileName == "/" {
		fileName = name
	}
	localPath := filepath.Join(dir, fileName)

	switch u.Scheme {
	case "s3":
		err = f.fetchS3(ctx, u, localPath, artifact.Unarchive == model.ArchiveZip)
	case "greengrass":
		err = f.fetchGreengrass(ctx, u, localPath)
	case "docker":
		return f.fetchDocker(ctx, u, dir)
	default:
		return "", ggerr.New(ggerr.Unsupported, "unsupported artifact uri scheme: "+u.Scheme)
	}
	if err != nil {
		return "", err
	}

	if err := verifyDigest(localPath, artifact.Digest, artifact.Algorithm, f.logger); err != nil {
		return "", err
	}

	if artifact.Unarchive == model.ArchiveZip {
		outDir := f.unarchiveDir(name, version, fileName)
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return "", ggerr.Wrap(ggerr.Failure, "create unarchive dir "+outDir, err)
		}
		if err := zipper.Unzip(localPath, outDir); err != nil {
			return "", ggerr.Wrap(ggerr.Failure, "unarchive "+localPath, err)
		}
		return outDir, nil
	}

	return localPath, nil
}

// fetchS3 implements the s3:// scheme: https://<bucket>.s3.<region>.amazonaws.com/<path>
// signed with TES-derived SigV4 credentials, with 403 retried for at most
// 3 attempts in all with exponential backoff (base 3s, cap 64s).
func (f *Fetcher) fetchS3(ctx context.Context, u *url.URL, localPath string, willUnarchive bool) error {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)

	mode := os.FileMode(0o755)
	if willUnarchive {
		mode = 0o644
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(ggerr.Wrap(ggerr.Failure, "build s3 request", err))
		}
		if f.tes != nil {
			if err := f.tes.SignRequest(ctx, req); err != nil {
				return backoff.Permanent(ggerr.Wrap(ggerr.Remote, "sign s3 request", err))
			}
		}

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusForbidden {
			os.Remove(localPath)
			return fmt.Errorf("s3 download forbidden for %s", endpoint)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(ggerr.New(ggerr.Remote, fmt.Sprintf("s3 download of %s failed: %s", endpoint, resp.Status)))
		}

		out, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return backoff.Permanent(ggerr.Wrap(ggerr.Failure, "open "+localPath, err))
		}
		defer out.Close()

		if _, err := io.Copy(out, resp.Body); err != nil {
			return backoff.Permanent(ggerr.Wrap(ggerr.Failure, "write "+localPath, err))
		}
		return out.Sync()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 3 * time.Second
	b.MaxInterval = 64 * time.Second
	return backoff.Retry(op, backoff.WithMaxRetries(b, 2))
}

// fetchGreengrass implements the greengrass:// scheme: ask the dataplane for
// a presigned URL, then download from it directly.
func (f *Fetcher) fetchGreengrass(ctx context.Context, u *url.URL, localPath string) error {
	if f.dataplane == nil {
		return ggerr.New(ggerr.Unsupported, "greengrass:// artifact requires a dataplane client")
	}

	componentArn := u.Host
	path := strings.TrimPrefix(u.Path, "/")

	presigned, err := f.dataplane.ArtifactPresignedURL(ctx, componentArn, path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, presigned, nil)
	if err != nil {
		return ggerr.Wrap(ggerr.Failure, "build presigned request", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return ggerr.Wrap(ggerr.Remote, "download presigned artifact", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ggerr.New(ggerr.Remote, "presigned artifact download failed: "+resp.Status)
	}

	out, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return ggerr.Wrap(ggerr.Failure, "open "+localPath, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return ggerr.Wrap(ggerr.Failure, "write "+localPath, err)
	}
	return out.Sync()
}

// fetchDocker implements the docker:// scheme: pull the image (through ECR
// credentials when needed) and export its merged root filesystem into dir.
// Docker/OCI registries perform their own digest verification, so the
// recipe's Digest field is intentionally not re-checked for this scheme.
func (f *Fetcher) fetchDocker(ctx context.Context, u *url.URL, dir string) (string, error) {
	ref := strings.TrimPrefix(u.Host+u.Path, "")
	opts := []crane.Option{crane.WithContext(ctx)}

	if f.ecr != nil {
		registry := u.Host
		if strings.Contains(registry, ".ecr.") {
			username, password, err := f.ecr.ECRCredentials(ctx, registry)
			if err != nil {
				return "", ggerr.Wrap(ggerr.Remote, "fetch ecr credentials for "+registry, err)
			}
			opts = append(opts, crane.WithAuth(&basicAuthenticator{username: username, password: password}))
		}
	}

	img, err := crane.Pull(ref, opts...)
	if err != nil {
		return "", ggerr.Wrap(ggerr.Remote, "pull image "+ref, err)
	}

	tarPath := filepath.Join(dir, "image.tar")
	tarFile, err := os.Create(tarPath)
	if err != nil {
		return "", ggerr.Wrap(ggerr.Failure, "create "+tarPath, err)
	}
	defer tarFile.Close()

	if err := crane.Export(img, tarFile); err != nil {
		return "", ggerr.Wrap(ggerr.Remote, "export image filesystem for "+ref, err)
	}
	if err := tarFile.Sync(); err != nil {
		return "", ggerr.Wrap(ggerr.Failure, "sync "+tarPath, err)
	}
	return dir, nil
}

// basicAuthenticator implements authn.Authenticator with ECR-issued
// short-lived credentials.
type basicAuthenticator struct {
	username string
	password string
}

func (a *basicAuthenticator) Authorization() (*authn.AuthConfig, error) {
	return &authn.AuthConfig{Username: a.username, Password: a.password}, nil
}

// verifyDigest checks artifact.Digest (base64 SHA-256) against the
// downloaded file, when present. Absence is tolerated with a warning; any
// algorithm other than SHA-256 is unsupported.
func verifyDigest(path, digest, algorithm string, logger logging.Interface) error {
	if digest == "" {
		if logger != nil {
			logger.Warn("artifact has no digest to verify: " + path)
		}
		return nil
	}
	if algorithm != "" && !strings.EqualFold(algorithm, "SHA256") {
		return ggerr.New(ggerr.Unsupported, "unsupported digest algorithm: "+algorithm)
	}

	want, err := base64.StdEncoding.DecodeString(digest)
	if err != nil {
		return ggerr.Wrap(ggerr.Invalid, "decode digest", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return ggerr.Wrap(ggerr.Failure, "open "+path+" for digest verification", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ggerr.Wrap(ggerr.Failure, "hash "+path, err)
	}
	got := h.Sum(nil)

	if hex.EncodeToString(got) != hex.EncodeToString(want) {
		return ggerr.New(ggerr.Failure, "digest mismatch for "+path)
	}
	return nil
}
