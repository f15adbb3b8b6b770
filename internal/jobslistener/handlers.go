package jobslistener

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

// Job execution status strings, mirroring the IoT Jobs service's vocabulary.
const (
	statusQueued     = "QUEUED"
	statusInProgress = "IN_PROGRESS"
	statusSucceeded  = "SUCCEEDED"
	statusFailed     = "FAILED"
	statusRejected   = "REJECTED"
	statusTimedOut   = "TIMED_OUT"
	statusRemoved    = "REMOVED"
	statusCanceled   = "CANCELED"
	// statusFailure is published when the job could not even be enqueued,
	// distinct from a deployment that ran and FAILED: if enqueue ultimately
	// fails, this status is published for the job instead.
	statusFailure = "FAILURE"
)

const maxJobVersion = int64(^uint32(0) >> 1)

type jobExecution struct {
	JobID       string          `json:"jobId"`
	Status      string          `json:"status"`
	JobDocument json.RawMessage `json:"jobDocument,omitempty"`
}

type executionWrapper struct {
	Execution *jobExecution `json:"execution,omitempty"`
}

type describeRequest struct {
	JobID              string `json:"jobId"`
	ThingName          string `json:"thingName"`
	IncludeJobDocument bool   `json:"includeJobDocument"`
	ClientToken        string `json:"clientToken"`
}

type updateRequest struct {
	Status          string `json:"status"`
	ExpectedVersion int32  `json:"expectedVersion"`
	ClientToken     string `json:"clientToken"`
}

type updateRejection struct {
	ExecutionState struct {
		Status        string `json:"status"`
		VersionNumber int64  `json:"versionNumber"`
	} `json:"executionState"`
}

// onNextJobChanged handles the notify-next-namespace-aws-gg-deployment
// topic. Upon either a notification or a reconnection, it publishes a
// describe-next-job request; the notification itself carries no payload
// this listener acts on directly, it only triggers a fresh describe,
// which always returns the full job document.
func (c *Client) onNextJobChanged(_ context.Context, _ []byte) {
	c.logger.Debugf("received next-job-execution-changed notification")
	c.signalDescribe()
}

// describeNextJob requests the next queued job via DescribeNextJob and, if
// one exists, hands it to processJobExecution.
func (c *Client) describeNextJob(ctx context.Context) error {
	c.logger.Debugf("requesting next job information")
	topic := getNextJobTopic(c.thingName)
	req := describeRequest{
		JobID:              nextJobID,
		ThingName:          c.thingName,
		IncludeJobDocument: true,
		ClientToken:        clientToken,
	}

	accepted, rejected, err := c.mqttCall(ctx, topic, req)
	if err != nil {
		return err
	}
	if rejected != nil {
		return ggerr.New(ggerr.Remote, "describe-next-job rejected: "+string(rejected))
	}

	var resp executionWrapper
	if err := json.Unmarshal(accepted, &resp); err != nil {
		return ggerr.Wrap(ggerr.Parse, "decode describe-next-job response", err)
	}
	if resp.Execution == nil {
		c.logger.Debugf("no job to process")
		return nil
	}
	return c.processJobExecution(ctx, *resp.Execution)
}

// processJobExecution maps a job's status to an action.
func (c *Client) processJobExecution(ctx context.Context, exec jobExecution) error {
	if exec.Status == "" || exec.JobID == "" {
		return nil
	}

	switch exec.Status {
	case statusQueued, statusInProgress:
		if len(exec.JobDocument) == 0 {
			return ggerr.New(ggerr.Invalid, "job status is queued/in-progress but no deployment document was given")
		}
		c.enqueueJob(ctx, exec.JobID, exec.JobDocument)
	case statusTimedOut, statusRemoved, statusCanceled:
		// Best-effort: cancellation of an in-flight deployment isn't
		// implemented; a current deployment already executing runs to
		// completion.
		c.logger.Infof("job %s reached %s; no in-flight deployment to cancel", exec.JobID, exec.Status)
	case statusSucceeded, statusFailed, statusRejected:
		// Terminal from the cloud's perspective; nothing to do locally.
	default:
		return ggerr.New(ggerr.Invalid, "unrecognized job status "+exec.Status)
	}
	return nil
}

// enqueueJob dedups against the current job cell, enqueues the job
// document as a THING_GROUP deployment with BUSY-backoff retry, and
// reports FAILURE if enqueue never succeeds.
func (c *Client) enqueueJob(ctx context.Context, jobID string, jobDocument json.RawMessage) {
	if c.current.begin(jobID) {
		c.logger.Infof("duplicate job document for %s received, skipping", jobID)
		return
	}

	deploymentID, err := c.enqueueWithBackoff(ctx, jobDocument)
	if err != nil {
		c.logger.Errorf("enqueue job %s failed: %v", jobID, err)
		if uerr := c.updateJob(ctx, jobID, statusFailure); uerr != nil {
			c.logger.Warnf("report FAILURE for unenqueued job %s: %v", jobID, uerr)
		}
		return
	}
	c.current.setDeploymentID(deploymentID)
}

// enqueueWithBackoff retries Enqueue on BUSY with exponential backoff capped
// at 128 seconds.
func (c *Client) enqueueWithBackoff(ctx context.Context, jobDocument json.RawMessage) (string, error) {
	delay := 2 * time.Second
	const maxDelay = 128 * time.Second

	for {
		id, err := c.queue.Enqueue(jobDocument, model.ThingGroup)
		if err == nil {
			return id, nil
		}
		if !ggerr.Is(err, ggerr.Busy) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		if delay < maxDelay {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}
}

// updateJob publishes the status with the current optimistic-concurrency
// version, and on rejection either rebases to the remote version and
// retries, accepts if the remote already matches, or treats CANCELED as
// success.
func (c *Client) updateJob(ctx context.Context, jobID, status string) error {
	topic := updateJobTopic(c.thingName, jobID)

	for {
		version := c.current.loadVersion()
		req := updateRequest{Status: status, ExpectedVersion: version, ClientToken: clientToken}

		accepted, rejected, err := c.mqttCall(ctx, topic, req)
		if err != nil {
			return err
		}
		_ = accepted

		if rejected == nil {
			c.current.advanceVersion(version)
			return c.persistCurrentJob(ctx, jobID)
		}

		var rej updateRejection
		if err := json.Unmarshal(rejected, &rej); err != nil {
			return ggerr.Wrap(ggerr.Parse, "decode job update rejection", err)
		}

		if status == statusCanceled {
			c.logger.Debugf("job %s was canceled remotely", jobID)
			return c.persistCurrentJob(ctx, jobID)
		}
		if rej.ExecutionState.VersionNumber < 0 || rej.ExecutionState.VersionNumber > maxJobVersion {
			return ggerr.New(ggerr.Range, fmt.Sprintf("invalid remote job version %d", rej.ExecutionState.VersionNumber))
		}
		remoteVersion := int32(rej.ExecutionState.VersionNumber)
		if remoteVersion != version {
			c.logger.Debugf("rebasing job %s version %d -> %d", jobID, version, remoteVersion)
			c.current.storeVersion(remoteVersion)
		}
		if rej.ExecutionState.Status == status {
			c.logger.Debugf("job %s already in desired state %s", jobID, status)
			return c.persistCurrentJob(ctx, jobID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// persistCurrentJob saves the job id and version for reboot resumption,
// called after each successful update.
func (c *Client) persistCurrentJob(ctx context.Context, jobID string) error {
	if c.bootstrap == nil {
		return nil
	}
	if err := c.bootstrap.SaveJobsID(ctx, jobID); err != nil {
		return err
	}
	return c.bootstrap.SaveJobsVersion(ctx, int64(c.current.loadVersion()))
}

type mqttCallResult struct {
	payload  []byte
	rejected bool
}

// mqttCall publishes payload to reqTopic and blocks the calling goroutine
// for whichever of its accepted/rejected correlation topics responds
// first, or until rpcTimeout (300s) elapses.
func (c *Client) mqttCall(ctx context.Context, reqTopic string, payload interface{}) (accepted, rejected []byte, err error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, ggerr.Wrap(ggerr.Parse, "encode mqtt request", err)
	}

	results := make(chan mqttCallResult, 2)
	acceptedT := acceptedTopic(reqTopic)
	rejectedT := rejectedTopic(reqTopic)

	if err := c.transport.Subscribe(acceptedT, 1, func(_ string, p []byte) {
		select {
		case results <- mqttCallResult{payload: p}:
		default:
		}
	}); err != nil {
		return nil, nil, ggerr.Wrap(ggerr.Failure, "subscribe to "+acceptedT, err)
	}
	defer c.transport.Unsubscribe(acceptedT)

	if err := c.transport.Subscribe(rejectedT, 1, func(_ string, p []byte) {
		select {
		case results <- mqttCallResult{payload: p, rejected: true}:
		default:
		}
	}); err != nil {
		return nil, nil, ggerr.Wrap(ggerr.Failure, "subscribe to "+rejectedT, err)
	}
	defer c.transport.Unsubscribe(rejectedT)

	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	if err := c.transport.Publish(callCtx, reqTopic, 1, body); err != nil {
		return nil, nil, ggerr.Wrap(ggerr.Failure, "publish to "+reqTopic, err)
	}

	select {
	case r := <-results:
		if r.rejected {
			return nil, r.payload, nil
		}
		return r.payload, nil, nil
	case <-callCtx.Done():
		return nil, nil, ggerr.New(ggerr.Failure, "mqtt call to "+reqTopic+" timed out")
	}
}
