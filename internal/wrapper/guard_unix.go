//go:build unix

package wrapper

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// guardScript blocks until stdin reaches EOF and then SIGKILLs the group
// passed as $1. Only the wrapper holds the write end of that pipe, so EOF
// means the wrapper is gone or done, however it ended.
const guardScript = `read _; kill -KILL -"$1" 2>/dev/null; exit 0`

// guard outlives a SIGKILLed wrapper and takes the child's process group
// with it. Pdeathsig alone reaches only the shell, not what it forked.
type guard struct {
	w *os.File
}

func startGuard(pgid int) *guard {
	r, w, err := os.Pipe()
	if err != nil {
		return nil
	}
	// #nosec G204 -- fixed script, pgid is numeric
	cmd := exec.Command(DefaultShell[0], "-c", guardScript, "botops-guard", strconv.Itoa(pgid))
	cmd.Stdin = r
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	err = cmd.Start()
	_ = r.Close()
	if err != nil {
		_ = w.Close()
		return nil
	}
	go func() { _ = cmd.Wait() }()
	return &guard{w: w}
}

// release lets the guard fire; the caller has already killed the group.
func (g *guard) release() {
	if g != nil {
		_ = g.w.Close()
	}
}
