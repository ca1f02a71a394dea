//go:build unix

package graphic

import (
	"os/exec"
	"syscall"
)

// isolate puts the encoder in its own process group so a terminal
// interrupt reaches only the coordinator. Cancellation kills the group.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
