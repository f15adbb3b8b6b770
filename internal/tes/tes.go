// Package tes retrieves short-lived AWS credentials from the local Token
// Exchange Service and exposes them as auth.Credentials for signing
// artifact-fetch requests: cache the fetched keys until they expire, then
// sign with aws-sdk-go-v2's SigV4 signer directly against the HTTP
// request being sent.
package tes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/pkg/auth"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

// Client fetches credentials from the local Token Exchange Service HTTP
// endpoint (normally served by the nucleus over a loopback address with an
// auth-token header, per Greengrass's token-exchange protocol).
type Client struct {
	endpoint   string
	authToken  string
	region     string
	httpClient *http.Client
	logger     logging.Interface
}

// NewClient constructs a TES client. endpoint and authToken are normally
// sourced from the AWS_CONTAINER_AUTHORIZATION_TOKEN /
// AWS_CONTAINER_CREDENTIALS_FULL_URI-style environment the nucleus sets for
// component processes.
func NewClient(endpoint, authToken, region string, logger logging.Interface) *Client {
	return &Client{
		endpoint:   endpoint,
		authToken:  authToken,
		region:     region,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type tesResponse struct {
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	Token           string `json:"Token"`
	Expiration      string `json:"Expiration"`
}

// fetch retrieves a fresh credential set from the TES endpoint.
func (c *Client) fetch(ctx context.Context) (awssdk.Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return awssdk.Credentials{}, ggerr.Wrap(ggerr.Failure, "build TES request", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return awssdk.Credentials{}, ggerr.Wrap(ggerr.Remote, "fetch TES credentials", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return awssdk.Credentials{}, ggerr.New(ggerr.Remote, fmt.Sprintf("TES credential fetch returned %s", resp.Status))
	}

	var parsed tesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return awssdk.Credentials{}, ggerr.Wrap(ggerr.Parse, "decode TES response", err)
	}

	creds := awssdk.Credentials{
		AccessKeyID:     parsed.AccessKeyID,
		SecretAccessKey: parsed.SecretAccessKey,
		SessionToken:    parsed.Token,
	}
	if parsed.Expiration != "" {
		if t, err := time.Parse(time.RFC3339, parsed.Expiration); err == nil {
			creds.Expires = t
			creds.CanExpire = true
		}
	}
	return creds, nil
}

// Credentials returns an auth.Credentials wrapping the TES-issued keys,
// used for SigV4 signing of artifact downloads.
func (c *Client) Credentials(ctx context.Context) (auth.Credentials, error) {
	creds, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return &Credentials{client: c, region: c.region, cached: &creds}, nil
}

// Credentials implements auth.Credentials for a TES-issued credential set,
// refreshing from the TES endpoint once cached credentials expire.
type Credentials struct {
	client *Client
	region string

	mu     sync.RWMutex
	cached *awssdk.Credentials
}

func (c *Credentials) Provider() auth.Provider { return auth.ProviderAWS }
func (c *Credentials) Type() auth.AuthType     { return auth.AWSDefault }

func (c *Credentials) Token(ctx context.Context) (string, error) {
	creds, err := c.current(ctx)
	if err != nil {
		return "", err
	}
	return creds.AccessKeyID, nil
}

// SignRequest signs req for the S3 service, satisfying auth.Credentials.
// Artifact downloads are the only caller that signs through this
// interface method.
func (c *Credentials) SignRequest(ctx context.Context, req *http.Request) error {
	return c.SignRequestForService(ctx, req, "s3")
}

// SignRequestForService signs req with SigV4 for the named AWS service.
// SignRequest calls it with service "s3".
func (c *Credentials) SignRequestForService(ctx context.Context, req *http.Request, service string) error {
	creds, err := c.current(ctx)
	if err != nil {
		return ggerr.Wrap(ggerr.Remote, "get TES credentials for signing", err)
	}

	payloadHash := "UNSIGNED-PAYLOAD"
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		payloadHash = ""
	}

	signer := v4.NewSigner()
	if err := signer.SignHTTP(ctx, *creds, req, payloadHash, service, c.region, time.Now()); err != nil {
		return ggerr.Wrap(ggerr.Remote, "sign request with TES credentials", err)
	}
	return nil
}

func (c *Credentials) Refresh(ctx context.Context) error {
	creds, err := c.client.fetch(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cached = &creds
	c.mu.Unlock()
	return nil
}

func (c *Credentials) IsExpired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cached == nil {
		return true
	}
	return c.cached.CanExpire && time.Now().After(c.cached.Expires)
}

func (c *Credentials) current(ctx context.Context) (*awssdk.Credentials, error) {
	c.mu.RLock()
	expired := c.cached == nil || (c.cached.CanExpire && time.Now().After(c.cached.Expires))
	cached := c.cached
	c.mu.RUnlock()

	if !expired {
		return cached, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached, nil
}
