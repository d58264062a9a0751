package deploy

import (
	"bytes"
	"context"
	"io"
	"os/exec"
)

// Runner executes one external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) (*bytes.Buffer, error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

// Run executes name with args, feeding stdin when non-nil. Stdout and stderr
// are combined; on failure the output produced so far is returned with the
// error.
func (ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) (*bytes.Buffer, error) {
	// #nosec G204 -- rsync/ssh with operator-supplied targets
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	out, err := cmd.CombinedOutput()
	return bytes.NewBuffer(out), err
}
