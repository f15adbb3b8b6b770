// Package bootstrap persists and recovers in-progress deployment state
// across a component-triggered reboot or daemon crash, grounded on
// bootstrap_manager.c's
// save_component_info/save_deployment_info/retrieve_in_progress_deployment/
// delete_saved_deployment_from_config.
package bootstrap

import (
	"context"

	"github.com/greengrass-lite/ggdeploymentd/internal/configstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

const (
	serviceRoot   = "services/DeploymentService"
	stateRoot     = serviceRoot + "/deploymentState"
	componentsKey = stateRoot + "/components"
	bootstrapKey  = stateRoot + "/bootstrapComponents"
)

// Manager checkpoints deployment progress so a reboot triggered by a
// component's bootstrap step resumes the same deployment instead of losing
// it ("checkpoint persistence").
type Manager struct {
	store configstore.Store
}

// New constructs a Manager over the daemon's configuration store.
func New(store configstore.Store) *Manager {
	return &Manager{store: store}
}

// ComponentBootstrapCompleted reports whether component_name already ran
// its bootstrap steps in a prior attempt of the current deployment.
func (m *Manager) ComponentBootstrapCompleted(ctx context.Context, name string) bool {
	var version string
	return m.store.Get(ctx, configstore.Path(bootstrapKey, name), &version) == nil
}

// SaveComponentCompleted records that name@version finished installing,
// mirroring save_component_info(..., "completed").
func (m *Manager) SaveComponentCompleted(ctx context.Context, name, version string) error {
	return m.store.Put(ctx, configstore.Path(componentsKey, name), version)
}

// SaveComponentBootstrapped records that name@version has run its
// bootstrap step, so a later reboot-recovery pass skips it, mirroring
// save_component_info(..., "bootstrap").
func (m *Manager) SaveComponentBootstrapped(ctx context.Context, name, version string) error {
	return m.store.Put(ctx, configstore.Path(bootstrapKey, name), version)
}

// SaveJobsID records the IoT Jobs ID driving the current deployment, so a
// reboot can resume the correct job.
func (m *Manager) SaveJobsID(ctx context.Context, jobsID string) error {
	return m.store.Put(ctx, configstore.Path(stateRoot, "jobsID"), jobsID)
}

// SaveJobsVersion records the IoT Jobs optimistic-concurrency version for
// the current deployment.
func (m *Manager) SaveJobsVersion(ctx context.Context, jobsVersion int64) error {
	return m.store.Put(ctx, configstore.Path(stateRoot, "jobsVersion"), jobsVersion)
}

// SaveDeploymentInfo checkpoints the full deployment document, triggered
// when a component in the deployment requires a reboot to complete its
// bootstrap step.
func (m *Manager) SaveDeploymentInfo(ctx context.Context, d *model.Deployment) error {
	if err := m.store.Put(ctx, configstore.Path(stateRoot, "deploymentDoc"), d); err != nil {
		return err
	}
	return m.store.Put(ctx, configstore.Path(stateRoot, "deploymentType"), model.DeploymentTypeLabel(d.Type))
}

// RetrieveInProgressDeployment loads a checkpointed deployment left behind
// by a previous bootstrap-triggered reboot, if any, mirroring
// retrieve_in_progress_deployment.
func (m *Manager) RetrieveInProgressDeployment(ctx context.Context) (*model.Checkpoint, error) {
	var jobsID string
	if err := m.store.Get(ctx, configstore.Path(stateRoot, "jobsID"), &jobsID); err != nil {
		return nil, err
	}

	var jobsVersion int64
	if err := m.store.Get(ctx, configstore.Path(stateRoot, "jobsVersion"), &jobsVersion); err != nil {
		return nil, err
	}

	var deployment model.Deployment
	if err := m.store.Get(ctx, configstore.Path(stateRoot, "deploymentDoc"), &deployment); err != nil {
		return nil, err
	}

	var deploymentType string
	if err := m.store.Get(ctx, configstore.Path(stateRoot, "deploymentType"), &deploymentType); err != nil {
		return nil, err
	}

	bootstrapComponents := make(map[string]string)
	_ = m.store.Get(ctx, bootstrapKey, &bootstrapComponents)

	completedComponents := make(map[string]string)
	_ = m.store.Get(ctx, componentsKey, &completedComponents)

	if deployment.DeploymentID == "" {
		return nil, ggerr.New(ggerr.NoEntry, "checkpointed deployment document has no id")
	}

	return &model.Checkpoint{
		Deployment:          &deployment,
		DeploymentType:      deploymentType,
		JobsID:              jobsID,
		JobsVersion:         jobsVersion,
		BootstrapComponents: bootstrapComponents,
		CompletedComponents: completedComponents,
	}, nil
}

// Clear deletes the checkpointed deployment state. Called unconditionally
// at the end of every deployment attempt, success or failure, so the next
// deployment starts clean.
func (m *Manager) Clear(ctx context.Context) error {
	return m.store.Delete(ctx, stateRoot)
}
