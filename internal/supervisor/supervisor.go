package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	// ErrNotFound means the status report had no row for the pid.
	ErrNotFound = errors.New("supervisor: process not found")
	// ErrUnreachable means the status or stop command itself failed.
	ErrUnreachable = errors.New("supervisor: unreachable")
)

// Supervisor is the external process supervisor as seen by the wrapper.
type Supervisor interface {
	// Status returns the raw human-readable status listing.
	Status(ctx context.Context) (string, error)
	// Stop asks the supervisor to stop the entry called name.
	Stop(ctx context.Context, name string) error
}

// CommandSupervisor drives a supervisor through its CLI (pm2 by default).
type CommandSupervisor struct {
	StatusCommand []string
	// StopCommand may contain a "{name}" placeholder; otherwise the name is
	// appended as the last argument.
	StopCommand []string
	Layout      Layout
}

// NewCommandSupervisor returns a pm2-backed supervisor.
func NewCommandSupervisor() *CommandSupervisor {
	return &CommandSupervisor{
		StatusCommand: []string{"pm2", "list"},
		StopCommand:   []string{"pm2", "stop", "{name}"},
		Layout:        DefaultLayout,
	}
}

func (s *CommandSupervisor) Status(ctx context.Context) (string, error) {
	out, err := runCmd(ctx, s.StatusCommand)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (s *CommandSupervisor) Stop(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("supervisor: empty name")
	}
	_, err := runCmd(ctx, StopArgs(s.StopCommand, name))
	return err
}

// StopArgs substitutes name into the stop command template.
func StopArgs(tmpl []string, name string) []string {
	args := make([]string, 0, len(tmpl)+1)
	substituted := false
	for _, a := range tmpl {
		if strings.Contains(a, "{name}") {
			a = strings.ReplaceAll(a, "{name}", name)
			substituted = true
		}
		args = append(args, a)
	}
	if !substituted {
		args = append(args, name)
	}
	return args
}

func runCmd(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("%w: empty command", ErrUnreachable)
	}
	// #nosec G204 -- the command comes from operator configuration
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return stdout.String(), fmt.Errorf("%w: %s: %v: %s", ErrUnreachable, argv[0], err, msg)
		}
		return stdout.String(), fmt.Errorf("%w: %s: %v", ErrUnreachable, argv[0], err)
	}
	return stdout.String(), nil
}
