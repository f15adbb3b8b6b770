package daemon

import (
	"context"
	"os/exec"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
)

// runReboot shells out to reboot(8), grounded literally on
// bootstrap_manager.c's char *reboot_args[] = { "reboot", NULL };
// ggl_exec_command_async(reboot_args, NULL). Reboot is fire-and-forget: the
// process is expected to be killed by the reboot itself, so a failure to
// even start the command is the only error worth reporting.
func runReboot(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "reboot")
	if err := cmd.Start(); err != nil {
		return ggerr.Wrap(ggerr.Failure, "start reboot", err)
	}
	return nil
}
