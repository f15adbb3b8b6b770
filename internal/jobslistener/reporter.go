package jobslistener

import (
	"context"
	"encoding/json"

	"github.com/greengrass-lite/ggdeploymentd/internal/executor"
	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

// Client implements executor.JobsReporter: the executor's dequeue-report-
// release loop calls these after every deployment attempt. A deployment
// with no tracked job id (a LOCAL deployment, or one whose job was
// superseded) is reported on with no effect.
var _ executor.JobsReporter = (*Client)(nil)

func (c *Client) ReportInProgress(ctx context.Context, d *model.Deployment) error {
	return c.reportStatus(ctx, d, statusInProgress)
}

func (c *Client) ReportSucceeded(ctx context.Context, d *model.Deployment) error {
	return c.reportStatus(ctx, d, statusSucceeded)
}

func (c *Client) ReportFailed(ctx context.Context, d *model.Deployment) error {
	return c.reportStatus(ctx, d, statusFailed)
}

func (c *Client) reportStatus(ctx context.Context, d *model.Deployment, status string) error {
	jobID, ok := c.current.jobIDFor(d.DeploymentID)
	if !ok {
		return nil
	}
	return c.updateJob(ctx, jobID, status)
}

type fleetStatusPayload struct {
	Status string `json:"status"`
}

// PublishFleetStatus sends a minimal health snapshot to the cloud
// fleet-status channel, an external collaborator; this is the thin
// publish side of that contract.
func (c *Client) PublishFleetStatus(ctx context.Context) error {
	if c.thingName == "" {
		return nil
	}
	payload, err := json.Marshal(fleetStatusPayload{Status: "HEALTHY"})
	if err != nil {
		return ggerr.Wrap(ggerr.Parse, "encode fleet status", err)
	}
	topic := thingTopicPrefix(c.thingName) + "/greengrassv2/health/json"
	return c.transport.Publish(ctx, topic, 0, payload)
}
