//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the child in its own process group (via
// setsid) so terminateProcessGroup/killProcessGroup can signal the whole
// tree, grounded on process_manager.py's preexec_fn=os.setsid.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func terminateProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
