//go:build unix

package tools

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts cmd as a group leader and makes context
// cancellation SIGKILL the whole group.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
