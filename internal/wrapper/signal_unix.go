//go:build unix

package wrapper

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultShell runs the command string through the POSIX shell.
var DefaultShell = []string{"/bin/sh", "-c"}

var defaultSignals = []os.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGHUP}

// killGroup SIGKILLs every process in the group led by pgid.
func killGroup(pgid int) {
	_ = unix.Kill(-pgid, unix.SIGKILL)
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return 0
}
