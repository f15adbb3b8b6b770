package jobslistener

import "testing"

func TestCurrentJobBeginDedupAndVersionReset(t *testing.T) {
	var c currentJob
	c.storeVersion(7)

	if dup := c.begin("job-1"); dup {
		t.Fatal("first begin should not be duplicate")
	}
	if got := c.loadVersion(); got != 1 {
		t.Fatalf("version = %d, want 1 after begin", got)
	}

	if dup := c.begin("job-1"); !dup {
		t.Fatal("repeated job id should be reported duplicate")
	}

	if dup := c.begin("job-2"); dup {
		t.Fatal("a new job id should not be duplicate")
	}
}

func TestCurrentJobSetDeploymentIDAndLookup(t *testing.T) {
	var c currentJob
	c.begin("job-1")
	c.setDeploymentID("dep-1")

	jobID, ok := c.jobIDFor("dep-1")
	if !ok || jobID != "job-1" {
		t.Fatalf("jobIDFor(dep-1) = (%q, %v), want (job-1, true)", jobID, ok)
	}

	if _, ok := c.jobIDFor("dep-unknown"); ok {
		t.Fatal("unknown deployment id should not resolve")
	}
}

func TestCurrentJobResumeForBootstrapRejectsSupersededJob(t *testing.T) {
	var c currentJob
	c.begin("job-1")
	c.setDeploymentID("dep-1")

	if ok := c.resumeForBootstrap("job-2", "dep-2", 3); ok {
		t.Fatal("resume should fail when a different job already claims the cell")
	}

	var fresh currentJob
	if ok := fresh.resumeForBootstrap("job-1", "dep-1", 3); !ok {
		t.Fatal("resume should succeed on an empty cell")
	}
	if got := fresh.loadVersion(); got != 3 {
		t.Fatalf("version = %d, want 3", got)
	}
}

func TestCurrentJobAdvanceVersion(t *testing.T) {
	var c currentJob
	c.storeVersion(4)
	if got := c.advanceVersion(4); got != 5 {
		t.Fatalf("advanceVersion(4) = %d, want 5", got)
	}
	if got := c.loadVersion(); got != 5 {
		t.Fatalf("loadVersion() = %d, want 5", got)
	}
}
