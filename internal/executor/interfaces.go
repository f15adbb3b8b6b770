package executor

import (
	"context"
	"time"

	"github.com/greengrass-lite/ggdeploymentd/internal/model"
	"github.com/greengrass-lite/ggdeploymentd/pkg/auth"
)

// UnitManager wraps the service-manager commands the executor drives
// directly, invoked by exact shape. Implemented by internal/servicemanager.
type UnitManager interface {
	Link(ctx context.Context, unitPath string) error
	Start(ctx context.Context, unitName string) error
	Enable(ctx context.Context, unitName string) error
	Stop(ctx context.Context, unitName string) error
	Disable(ctx context.Context, unitName string) error
	Unlink(ctx context.Context, unitName string) error
	DaemonReload(ctx context.Context) error
	ResetFailed(ctx context.Context) error
}

// LifecycleState is a component's terminal or transient run state, as
// reported by the health service the executor polls during the install
// and run/target phases.
type LifecycleState string

const (
	StateRunning  LifecycleState = "RUNNING"
	StateFinished LifecycleState = "FINISHED"
	StateBroken   LifecycleState = "BROKEN"
)

// Terminal reports whether the state ends a phase wait, successfully or not.
func (s LifecycleState) Terminal() bool {
	return s == StateRunning || s == StateFinished || s == StateBroken
}

// HealthWaiter blocks until a component reaches a terminal lifecycle
// state or timeout elapses, mirroring wait_for_phase_status's
// per-component 300s cap. The daemon wires no implementation; the executor
// skips the phase waits when Config.Health is nil.
type HealthWaiter interface {
	WaitForState(ctx context.Context, componentName string, timeout time.Duration) (LifecycleState, error)
}

// TranslatedUnit is the recipe-to-unit translator's output contract: a set
// of unit file paths named "<prefix>.<name>.service" etc., present only
// for the phases the recipe declares.
type TranslatedUnit struct {
	ServiceUnitPath   string
	InstallUnitPath   string
	BootstrapUnitPath string
}

// Translator invokes the external recipe-to-unit tool as a subprocess,
// replacing the original's fork()/execvp() call, and verifies its output
// declares the expected component name.
type Translator interface {
	Translate(ctx context.Context, recipe *model.Recipe, stagingDir string) (TranslatedUnit, error)
}

// Rebooter requests a device reboot, used by the bootstrap phase as a form
// of deployment cancellation.
type Rebooter interface {
	Reboot(ctx context.Context) error
}

// CredentialsProvider fetches short-lived TES credentials for artifact
// fetches. Implemented by internal/tes.Client.
type CredentialsProvider interface {
	Credentials(ctx context.Context) (auth.Credentials, error)
}

// ThingGroupsClient retrieves the device's current thing-group membership
// from the cloud dataplane. Implemented by
// internal/dataplane.Client.
type ThingGroupsClient interface {
	ThingGroups(ctx context.Context) ([]string, error)
}

// JobsReporter publishes deployment-lifecycle status to the originating
// channel: IN_PROGRESS at the start of an attempt, then
// SUCCEEDED/FAILED plus a fleet-status update at the end. Implemented by
// internal/jobslistener for THING_GROUP deployments; a no-op for LOCAL ones.
type JobsReporter interface {
	ReportInProgress(ctx context.Context, d *model.Deployment) error
	ReportSucceeded(ctx context.Context, d *model.Deployment) error
	ReportFailed(ctx context.Context, d *model.Deployment) error
	PublishFleetStatus(ctx context.Context) error
}

// NopReporter is a JobsReporter that does nothing, used by New when
// Config.Reporter is nil.
type NopReporter struct{}

func (NopReporter) ReportInProgress(context.Context, *model.Deployment) error { return nil }
func (NopReporter) ReportSucceeded(context.Context, *model.Deployment) error  { return nil }
func (NopReporter) ReportFailed(context.Context, *model.Deployment) error     { return nil }
func (NopReporter) PublishFleetStatus(context.Context) error                 { return nil }
