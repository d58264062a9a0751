package wrapper

import (
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// child is the one command a wrapper runs. kill is safe to call any number
// of times from any goroutine; only the first call signals.
type child struct {
	cmd      *exec.Cmd
	guard    *guard
	killOnce sync.Once
}

func newChild(shell []string, command, dir string, env []string, stdout, stderr io.Writer) *child {
	argv := append(append([]string{}, shell...), command)
	// #nosec G204 -- the command is the operator-configured job
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureSysProcAttr(cmd)
	return &child{cmd: cmd}
}

func (c *child) start() error {
	if err := c.cmd.Start(); err != nil {
		return err
	}
	c.guard = startGuard(c.cmd.Process.Pid)
	return nil
}

func (c *child) pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// kill force-kills the child, everything it spawned that is still reachable
// through the process tree, and its whole process group.
func (c *child) kill() {
	c.killOnce.Do(func() {
		pid := c.pid()
		if pid <= 0 {
			return
		}
		for _, d := range descendants(pid) {
			_ = d.Kill()
		}
		killGroup(pid)
		_ = c.cmd.Process.Kill()
		c.guard.release()
	})
}

// exitCode extracts the child's status from cmd.Wait's error. A child killed
// by a signal reports 128+signal like a POSIX shell does.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return ee.ExitCode()
	}
	return -1
}

// descendants walks the process tree below pid, deepest first.
func descendants(pid int) []*gopsproc.Process {
	root, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	var out []*gopsproc.Process
	var walk func(p *gopsproc.Process, depth int)
	walk = func(p *gopsproc.Process, depth int) {
		if depth > 64 {
			return
		}
		kids, err := p.Children()
		if err != nil {
			return
		}
		for _, k := range kids {
			walk(k, depth+1)
			out = append(out, k)
		}
	}
	walk(root, 0)
	return out
}
