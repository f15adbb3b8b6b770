package jobslistener

import (
	"sync"
	"sync/atomic"
)

// currentJob is the process-wide single-slot mapping of the deployment
// currently being executed to the IoT Jobs execution that requested it,
// grounded on current_job_id_mutex protecting the current-job cell while
// current_job_version stays an atomic integer with acquire/release
// ordering. The id/deployment pair is guarded by mu; the version is
// accessed atomically so update_job's retry loop can read and rebase it
// without holding mu across a blocking MQTT round trip.
type currentJob struct {
	mu           sync.Mutex
	jobID        string
	deploymentID string
	version      int32
}

// begin claims the cell for jobID, resetting the version to 1 and clearing
// the deployment id (set separately once enqueue returns one). Reports
// duplicate=true without modifying the cell if jobID is already current:
// if the incoming job id equals the currently tracked job id, treat it as
// a duplicate and skip.
func (c *currentJob) begin(jobID string) (duplicate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.jobID != "" && c.jobID == jobID {
		return true
	}
	c.jobID = jobID
	c.deploymentID = ""
	atomic.StoreInt32(&c.version, 1)
	return false
}

// setDeploymentID records the deployment id enqueue_job obtained for the
// job currently claiming the cell.
func (c *currentJob) setDeploymentID(deploymentID string) {
	c.mu.Lock()
	c.deploymentID = deploymentID
	c.mu.Unlock()
}

// jobIDFor returns the job id tracking deploymentID, if it is the one
// currently in the cell, mirroring update_current_jobs_deployment's lookup
// of job_id by deployment_id, which reports NOENTRY if it no longer
// matches.
func (c *currentJob) jobIDFor(deploymentID string) (jobID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deploymentID == "" || c.deploymentID != deploymentID {
		return "", false
	}
	return c.jobID, true
}

// resumeForBootstrap installs a recovered (jobID, deploymentID, version)
// into the cell at startup, used to resume status reporting for a
// deployment that triggered a bootstrap reboot, mirroring
// set_jobs_deployment_for_bootstrap. Returns false if a different job
// already claims the cell, meaning the cloud superseded the recovered job
// while the device was rebooting.
func (c *currentJob) resumeForBootstrap(jobID, deploymentID string, version int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.jobID != "" && c.jobID != jobID {
		return false
	}
	c.jobID = jobID
	c.deploymentID = deploymentID
	atomic.StoreInt32(&c.version, version)
	return true
}

func (c *currentJob) loadVersion() int32 {
	return atomic.LoadInt32(&c.version)
}

func (c *currentJob) storeVersion(v int32) {
	atomic.StoreInt32(&c.version, v)
}

// advanceVersion stores the version following a successful update and
// returns it, matching update_job's atomic_fetch_add_explicit(..., 1) + 1.
func (c *currentJob) advanceVersion(from int32) int32 {
	next := from + 1
	atomic.StoreInt32(&c.version, next)
	return next
}
