//go:build linux

package wrapper

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group and asks the
// kernel to SIGKILL it when the wrapper dies. That reaches the shell only;
// the guard started next to it covers whatever the shell forked.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
