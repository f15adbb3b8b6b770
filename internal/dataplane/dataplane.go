// Package dataplane is the mTLS HTTP client for the cloud Greengrass
// dataplane endpoints the resolver and fetcher fall back to when no local
// candidate exists (greengrass:// scheme, "Cloud
// dataplane HTTP"). Grounded on deployment_handler.c's
// resolve_component_with_cloud / get_device_thing_groups request shapes.
package dataplane

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/greengrass-lite/ggdeploymentd/internal/configstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
	"github.com/greengrass-lite/ggdeploymentd/internal/recipestore"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

// Config holds the device mTLS identity and dataplane endpoint.
type Config struct {
	Endpoint string // e.g. "https://xxxx.greengrass.iot.us-east-1.amazonaws.com"
	ThingName string
	CertFile  string
	KeyFile   string
	CAFile    string
}

// Client is the cloud dataplane HTTP client.
type Client struct {
	httpClient *http.Client
	endpoint   string
	thingName  string
	recipes    *recipestore.Store
	config     configstore.Store
	platform   model.PlatformAttributes
	logger     logging.Interface
}

// New builds a Client whose http.Transport presents the device certificate
// for mTLS, per "Cloud dataplane HTTP (mTLS with device cert/key/CA)".
func New(cfg Config, recipes *recipestore.Store, store configstore.Store, platform model.PlatformAttributes, logger logging.Interface) (*Client, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, ggerr.Wrap(ggerr.Failure, "load device certificate/key", err)
	}

	caPEM, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, ggerr.Wrap(ggerr.Failure, "read device CA bundle", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, ggerr.New(ggerr.Invalid, "no valid certificates found in CA bundle "+cfg.CAFile)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
			MinVersion:   tls.VersionTLS12,
		},
	}

	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		endpoint:   cfg.Endpoint,
		thingName:  cfg.ThingName,
		recipes:    recipes,
		config:     store,
		platform:   platform,
		logger:     logger,
	}, nil
}

type candidateRequirement struct {
	ComponentName      string `json:"componentName"`
	VersionRequirement string `json:"versionRequirement"`
}

type resolveCandidatesRequest struct {
	ComponentCandidates []candidateRequirement     `json:"componentCandidates"`
	Platform            model.PlatformAttributes `json:"platform"`
}

type resolvedComponentVersion struct {
	Arn    string `json:"arn"`
	Recipe string `json:"recipe"` // base64-encoded recipe document
}

type resolveCandidatesResponse struct {
	ResolvedComponentVersions []resolvedComponentVersion `json:"resolvedComponentVersions"`
}

// ResolveComponentCandidates implements internal/resolver.CloudResolver: ask
// the dataplane to resolve name against requirement, persist the returned
// recipe locally, and record the component's ARN under
// services.<name>.arn.
func (c *Client) ResolveComponentCandidates(ctx context.Context, name, requirement string) (string, error) {
	reqBody := resolveCandidatesRequest{
		ComponentCandidates: []candidateRequirement{{ComponentName: name, VersionRequirement: requirement}},
		Platform:            c.platform,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", ggerr.Wrap(ggerr.Parse, "encode resolveComponentCandidates request", err)
	}

	var parsed resolveCandidatesResponse
	if err := c.postJSON(ctx, "/greengrass/v2/resolveComponentCandidates", payload, &parsed); err != nil {
		return "", err
	}

	if len(parsed.ResolvedComponentVersions) == 0 {
		return "", ggerr.New(ggerr.Failure, "cloud version resolution failed for component "+name)
	}
	resolvedComponent := parsed.ResolvedComponentVersions[0]

	recipeJSON, err := base64.StdEncoding.DecodeString(resolvedComponent.Recipe)
	if err != nil {
		return "", ggerr.Wrap(ggerr.Parse, "decode resolved recipe for "+name, err)
	}
	var recipe model.Recipe
	if err := json.Unmarshal(recipeJSON, &recipe); err != nil {
		return "", ggerr.Wrap(ggerr.Parse, "parse resolved recipe for "+name, err)
	}
	if recipe.ComponentVersion == "" {
		return "", ggerr.New(ggerr.Invalid, "resolved recipe for "+name+" has no ComponentVersion")
	}

	if err := c.recipes.WriteFromCloud(name, recipe.ComponentVersion, resolvedComponent.Recipe); err != nil {
		return "", err
	}

	if c.config != nil {
		key := configstore.Path("services", name, "arn")
		if err := c.config.Put(ctx, key, resolvedComponent.Arn); err != nil {
			c.logger.WithError(err).Warn("failed to persist resolved component arn for " + name)
		}
	}

	return recipe.ComponentVersion, nil
}

type thingGroup struct {
	ThingGroupName string `json:"thingGroupName"`
}

type thingGroupsResponse struct {
	ThingGroups []thingGroup `json:"thingGroups"`
}

// ThingGroups lists the thing groups this device currently belongs to, via
// GET /greengrass/v2/coreDevices/<thing>/thingGroups.
func (c *Client) ThingGroups(ctx context.Context) ([]string, error) {
	var parsed thingGroupsResponse
	path := fmt.Sprintf("/greengrass/v2/coreDevices/%s/thingGroups", c.thingName)
	if err := c.getJSON(ctx, path, &parsed); err != nil {
		return nil, err
	}

	names := make([]string, len(parsed.ThingGroups))
	for i, g := range parsed.ThingGroups {
		names[i] = g.ThingGroupName
	}
	return names, nil
}

type artifactURLResponse struct {
	PreSignedURL string `json:"preSignedUrl"`
}

// ArtifactPresignedURL implements internal/fetcher.DataplaneClient: GET
// /greengrass/v2/components/<arn>/artifacts/<path>.
func (c *Client) ArtifactPresignedURL(ctx context.Context, componentArn, path string) (string, error) {
	var parsed artifactURLResponse
	reqPath := fmt.Sprintf("/greengrass/v2/components/%s/artifacts/%s", componentArn, path)
	if err := c.getJSON(ctx, reqPath, &parsed); err != nil {
		return "", err
	}
	if parsed.PreSignedURL == "" {
		return "", ggerr.New(ggerr.Remote, "artifact presigned URL response missing preSignedUrl")
	}
	return parsed.PreSignedURL, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return ggerr.Wrap(ggerr.Failure, "build dataplane request", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return ggerr.Wrap(ggerr.Failure, "build dataplane request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ggerr.Wrap(ggerr.Remote, "dataplane request to "+req.URL.Path+" failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ggerr.New(ggerr.Remote, fmt.Sprintf("dataplane request to %s returned %s", req.URL.Path, resp.Status))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ggerr.Wrap(ggerr.Parse, "decode dataplane response from "+req.URL.Path, err)
	}
	return nil
}
