package executor

import (
	"context"
	"path/filepath"
	"time"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

// bootstrapPhase implements: link and start the bootstrap
// unit of every to_deploy component that has one and hasn't already run it
// this attempt; if any were started, persist full recovery state and
// request a reboot.
func (e *Executor) bootstrapPhase(
	ctx context.Context,
	d *model.Deployment,
	toDeploy []stagedComponent,
	checkpoint *model.Checkpoint,
) (rebooted bool, err error) {
	started := false

	for _, c := range toDeploy {
		if c.Unit.BootstrapUnitPath == "" {
			continue
		}
		if checkpoint != nil && checkpoint.BootstrapComponents[c.Name] == c.Version {
			continue
		}
		if e.bootstrap.ComponentBootstrapCompleted(ctx, c.Name) {
			continue
		}

		if err := e.bootstrap.SaveComponentBootstrapped(ctx, c.Name, c.Version); err != nil {
			return false, err
		}
		if err := e.bootstrap.SaveDeploymentInfo(ctx, d); err != nil {
			return false, err
		}

		if err := e.units.Link(ctx, c.Unit.BootstrapUnitPath); err != nil {
			return false, ggerr.Wrap(ggerr.Failure, "link bootstrap unit for "+c.Name, err)
		}
		if err := e.units.Start(ctx, filepath.Base(c.Unit.BootstrapUnitPath)); err != nil {
			return false, ggerr.Wrap(ggerr.Failure, "start bootstrap unit for "+c.Name, err)
		}
		started = true
	}

	if !started {
		return false, nil
	}
	if e.rebooter == nil {
		return true, nil
	}
	if err := e.rebooter.Reboot(ctx); err != nil {
		return false, ggerr.Wrap(ggerr.Failure, "request reboot", err)
	}
	return true, nil
}

// installPhase implements: for every to_deploy component
// with an install unit, stop/disable/unlink any prior instance, link and
// start it, then wait for a terminal lifecycle state.
func (e *Executor) installPhase(ctx context.Context, toDeploy []stagedComponent) error {
	for _, c := range toDeploy {
		if c.Unit.InstallUnitPath == "" {
			continue
		}
		name := filepath.Base(c.Unit.InstallUnitPath)
		e.resetUnit(ctx, name)

		if err := e.units.Link(ctx, c.Unit.InstallUnitPath); err != nil {
			return ggerr.Wrap(ggerr.Failure, "link install unit for "+c.Name, err)
		}
		if err := e.units.Start(ctx, name); err != nil {
			return ggerr.Wrap(ggerr.Failure, "start install unit for "+c.Name, err)
		}

		if e.health == nil {
			continue
		}
		start := time.Now()
		state, err := e.health.WaitForState(ctx, c.Name, installTimeout)
		e.metrics.ObserveComponentInstall(c.Name, time.Since(start).Seconds())
		if err != nil {
			return ggerr.Wrap(ggerr.Failure, "wait for install of "+c.Name, err)
		}
		if state == StateBroken {
			return ggerr.New(ggerr.Failure, "install failed for "+c.Name)
		}
	}
	return nil
}

// runPhase implements: for every to_deploy component with
// a run unit, stop/disable/unlink any prior instance, link and enable it,
// and record it completed in the checkpoint.
func (e *Executor) runPhase(ctx context.Context, toDeploy []stagedComponent) error {
	for _, c := range toDeploy {
		if c.Unit.ServiceUnitPath == "" {
			continue
		}
		name := filepath.Base(c.Unit.ServiceUnitPath)
		e.resetUnit(ctx, name)

		if err := e.units.Link(ctx, c.Unit.ServiceUnitPath); err != nil {
			return ggerr.Wrap(ggerr.Failure, "link run unit for "+c.Name, err)
		}
		if err := e.units.Enable(ctx, name); err != nil {
			return ggerr.Wrap(ggerr.Failure, "enable run unit for "+c.Name, err)
		}
		if err := e.bootstrap.SaveComponentCompleted(ctx, c.Name, c.Version); err != nil {
			return err
		}
	}
	return nil
}

// reloadAndWait implements: reload the service manager,
// clear its failed-unit bookkeeping, start the named target, and wait for
// every resolved component to reach a terminal lifecycle state, failing on
// any BROKEN.
func (e *Executor) reloadAndWait(ctx context.Context, resolved model.ResolvedComponentSet) error {
	if e.units != nil {
		if err := e.units.DaemonReload(ctx); err != nil {
			return ggerr.Wrap(ggerr.Failure, "daemon-reload", err)
		}
		if err := e.units.ResetFailed(ctx); err != nil {
			return ggerr.Wrap(ggerr.Failure, "reset-failed", err)
		}
		if e.targetUnit != "" {
			if err := e.units.Start(ctx, e.targetUnit); err != nil {
				return ggerr.Wrap(ggerr.Failure, "start target unit", err)
			}
		}
	}

	if e.health == nil {
		return nil
	}
	for name := range resolved {
		state, err := e.health.WaitForState(ctx, name, installTimeout)
		if err != nil {
			return ggerr.Wrap(ggerr.Failure, "wait for "+name, err)
		}
		if state == StateBroken {
			return ggerr.New(ggerr.Failure, name+" reached BROKEN state")
		}
	}
	return nil
}

// resetUnit tolerates stop/disable/unlink of a unit that was never started
// (steps 6-7 "stop/disable/unlink any prior instance"); failures
// here are expected for a first-time deploy and are not propagated.
func (e *Executor) resetUnit(ctx context.Context, name string) {
	_ = e.units.Stop(ctx, name)
	_ = e.units.Disable(ctx, name)
	_ = e.units.Unlink(ctx, name)
}
