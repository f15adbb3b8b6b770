// Package servicemanager wraps the service-manager commands the deployment
// pipeline drives, grounded on deployment_handler.c's link/start/enable
// calls and stale_component.c's disable_and_unlink_service — both of
// which shell out to "sudo systemctl <verb> <arg>" and treat a non-zero
// exit as failure. This keeps that literal shape: a thin exec.Command
// wrapper, replacing fork()/execvp() with a typed subprocess call rather
// than reimplementing it against systemd's D-Bus API.
package servicemanager

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/coreos/go-systemd/v22/unit"
	"github.com/hashicorp/go-multierror"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

// Manager invokes systemctl as a subprocess. UseSudo controls whether the
// original's "sudo systemctl ..." prefix is kept; a daemon already running
// as root (the common case for a device's Greengrass runtime) should leave
// it false. Root is the daemon's root directory, where generated unit and
// script files live directly (not under /etc/systemd/system; link creates
// the symlink systemctl needs from there).
type Manager struct {
	UseSudo bool
	Root    string
	Logger  logging.Interface
}

func New(root string, useSudo bool, logger logging.Interface) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{UseSudo: useSudo, Root: root, Logger: logger}
}

func (m *Manager) Link(ctx context.Context, unitPath string) error {
	return m.run(ctx, "link", unitPath)
}

func (m *Manager) Start(ctx context.Context, unitName string) error {
	return m.run(ctx, "start", unitName)
}

func (m *Manager) Enable(ctx context.Context, unitName string) error {
	return m.run(ctx, "enable", unitName)
}

func (m *Manager) Stop(ctx context.Context, unitName string) error {
	return m.run(ctx, "stop", unitName)
}

func (m *Manager) Disable(ctx context.Context, unitName string) error {
	return m.run(ctx, "disable", unitName)
}

// Unlink removes a unit installed via Link. systemctl has no separate
// "unlink" verb for this in current systemd releases; the original source
// invokes one anyway (stale_component.c's disable_and_unlink_service), so
// this is kept literally — on the rare system where the verb is absent,
// systemctl itself reports the error and it propagates as any other
// command failure would.
func (m *Manager) Unlink(ctx context.Context, unitName string) error {
	return m.run(ctx, "unlink", unitName)
}

func (m *Manager) DaemonReload(ctx context.Context) error {
	return m.run(ctx, "daemon-reload")
}

func (m *Manager) ResetFailed(ctx context.Context) error {
	return m.run(ctx, "reset-failed")
}

// IsRunning reports whether componentName's run unit is active, letting
// the staging phase skip a redundant fetch/redeploy when nothing changed.
func (m *Manager) IsRunning(ctx context.Context, componentName string) (bool, error) {
	unitName := ServiceUnitName(componentName)
	cmd := m.command(ctx, "is-active", unitName)
	out, err := cmd.Output()
	if err != nil {
		// A non-zero exit from is-active just means "not active"
		// (inactive, failed, unknown) rather than a command failure.
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		return false, ggerr.Wrap(ggerr.Failure, "systemctl is-active "+unitName, err)
	}
	return bytes.Equal(bytes.TrimSpace(out), []byte("active")), nil
}

func (m *Manager) run(ctx context.Context, args ...string) error {
	cmd := m.command(ctx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		m.Logger.Warnf("systemctl %v failed: %v (%s)", args, err, stderr.String())
		return ggerr.Wrap(ggerr.Failure, "systemctl "+args[0], err)
	}
	return nil
}

func (m *Manager) command(ctx context.Context, args ...string) *exec.Cmd {
	if m.UseSudo {
		return exec.CommandContext(ctx, "sudo", append([]string{"systemctl"}, args...)...)
	}
	return exec.CommandContext(ctx, "systemctl", args...)
}

// StopDisableUnlinkAll implements cleanup.ServiceManager: stop, disable,
// and unlink a component's run, install, and bootstrap units (tolerating
// ones that were never started), then delete the unit and script files
// associated with it, grounded on stale_component.c's
// disable_and_unlink_service plus delete_recipe_script_and_service_files.
func (m *Manager) StopDisableUnlinkAll(ctx context.Context, componentName string) error {
	for _, unitName := range []string{
		ServiceUnitName(componentName),
		InstallUnitName(componentName),
		BootstrapUnitName(componentName),
	} {
		_ = m.run(ctx, "stop", unitName)
		_ = m.run(ctx, "disable", unitName)
		_ = m.run(ctx, "unlink", unitName)
	}

	var result *multierror.Error
	base := filepath.Join(m.Root, Prefix+"."+unit.UnitNamePathEscape(componentName))
	for _, suffix := range []string{".service", ".install.service", ".bootstrap.service", ".script.install.json", ".script.run"} {
		path := base + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, ggerr.Wrap(ggerr.Failure, "remove "+path, err))
		}
	}
	return result.ErrorOrNil()
}

// Prefix is the unit-file basename prefix used for every component service
// unit this daemon manages: "<prefix>.<name>.service".
const Prefix = "ggl"

// ServiceUnitName, InstallUnitName, and BootstrapUnitName build the
// well-known unit names for a component's three unit files, escaping the
// component name the way systemd unit names must be (UnitNamePathEscape
// handles names containing characters invalid in a unit name).
func ServiceUnitName(componentName string) string {
	return Prefix + "." + unit.UnitNamePathEscape(componentName) + ".service"
}

func InstallUnitName(componentName string) string {
	return Prefix + "." + unit.UnitNamePathEscape(componentName) + ".install.service"
}

func BootstrapUnitName(componentName string) string {
	return Prefix + "." + unit.UnitNamePathEscape(componentName) + ".bootstrap.service"
}
