// Package wrapper runs one job under an external process supervisor and
// stops the job's own supervised entry once the job has succeeded, so the
// supervisor does not respawn a finished job. A failed job is left to the
// supervisor's restart policy.
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/botops/internal/history"
	"github.com/loykin/botops/internal/metrics"
	"github.com/loykin/botops/internal/supervisor"
)

// UnresolvedPolicy decides what happens when the wrapper cannot find its
// own supervised entry.
type UnresolvedPolicy string

const (
	// UnresolvedExit returns immediately with exit code 0 and runs nothing.
	UnresolvedExit UnresolvedPolicy = "exit"
	// UnresolvedRun still runs the child but never issues a stop.
	UnresolvedRun UnresolvedPolicy = "run"
)

// ParseUnresolvedPolicy accepts "exit", "run" or "" (exit).
func ParseUnresolvedPolicy(s string) (UnresolvedPolicy, error) {
	switch UnresolvedPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", UnresolvedExit:
		return UnresolvedExit, nil
	case UnresolvedRun:
		return UnresolvedRun, nil
	}
	return "", fmt.Errorf("invalid on_unresolved %q (want exit or run)", s)
}

// Outcome classifies how an invocation ended.
type Outcome string

const (
	OutcomeUnresolved  Outcome = "unresolved"   // name not found, nothing run
	OutcomeStopped     Outcome = "stopped"      // child ok, stop issued
	OutcomeStopFailed  Outcome = "stop_failed"  // child ok, stop call failed
	OutcomeCompleted   Outcome = "completed"    // child ok, no name to stop
	OutcomeChildFailed Outcome = "child_failed" // child exited non-zero
	OutcomeTimedOut    Outcome = "timed_out"    // child killed after ChildTimeout
	OutcomeInterrupted Outcome = "interrupted"  // wrapper was signalled or cancelled
	OutcomeStartFailed Outcome = "start_failed" // shell could not be started
)

const (
	DefaultStatusTimeout = 10 * time.Second
	DefaultStopTimeout   = 30 * time.Second

	exitStartFailed = 127
	exitTimedOut    = 124
)

// Options configures one wrapper run.
type Options struct {
	Command    string
	Shell      []string // defaults to DefaultShell
	WorkDir    string
	Env        []string // nil inherits the wrapper's environment
	Supervisor supervisor.Supervisor

	OnUnresolved  UnresolvedPolicy
	StatusTimeout time.Duration // defaults to DefaultStatusTimeout
	StopTimeout   time.Duration // defaults to DefaultStopTimeout
	ChildTimeout  time.Duration // zero means no limit

	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	Sink   history.Sink

	// PID overrides the pid used for the supervisor lookup; zero means os.Getpid().
	PID int
	// Signals that trigger the cleanup; defaults to SIGINT, SIGTERM, SIGHUP.
	Signals []os.Signal
}

// Invocation is the record of one wrapper run.
type Invocation struct {
	ID         string
	PID        int
	Name       string
	Command    string
	ChildPID   int
	ExitCode   int
	Outcome    Outcome
	Stopped    bool
	Signal     os.Signal
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Record converts the invocation to its history form.
func (inv Invocation) Record() history.Run {
	r := history.Run{
		ID:         inv.ID,
		PID:        inv.PID,
		Name:       inv.Name,
		Command:    inv.Command,
		ExitCode:   inv.ExitCode,
		Outcome:    string(inv.Outcome),
		Stopped:    inv.Stopped,
		StartedAt:  inv.StartedAt,
		FinishedAt: inv.FinishedAt,
	}
	if inv.Err != nil {
		r.Error = inv.Err.Error()
	}
	return r
}

// Run executes one invocation. The returned error reports invalid options
// only; every runtime failure is folded into Invocation.Outcome.
func Run(ctx context.Context, o Options) (Invocation, error) {
	if strings.TrimSpace(o.Command) == "" {
		return Invocation{}, errors.New("wrapper: empty command")
	}
	if o.Supervisor == nil {
		return Invocation{}, errors.New("wrapper: no supervisor configured")
	}
	policy, err := ParseUnresolvedPolicy(string(o.OnUnresolved))
	if err != nil {
		return Invocation{}, err
	}
	o.OnUnresolved = policy
	o.setDefaults()

	inv := Invocation{
		ID:        uuid.NewString(),
		PID:       o.PID,
		Command:   o.Command,
		StartedAt: time.Now(),
	}
	log := o.Logger.With("run_id", inv.ID, "pid", inv.PID)

	name, rerr := resolve(ctx, o, log)
	inv.Name = name
	if rerr != nil && o.OnUnresolved == UnresolvedExit {
		inv.Outcome = OutcomeUnresolved
		inv.Err = rerr
		return o.finish(ctx, inv, log), nil
	}
	if name != "" {
		log = log.With("name", name)
	}
	o.emit(ctx, history.EventStarted, inv, log)

	// Signals stay captured until the record is written: the stop call makes
	// the supervisor signal this very process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, o.Signals...)
	defer signal.Stop(sigCh)

	inv = o.runChild(ctx, inv, sigCh, log)

	if inv.Outcome == "" && inv.ExitCode == 0 {
		inv = o.stop(ctx, inv, sigCh, log)
	}
	return o.finish(ctx, inv, log), nil
}

func (o *Options) setDefaults() {
	if len(o.Shell) == 0 {
		o.Shell = DefaultShell
	}
	if o.StatusTimeout <= 0 {
		o.StatusTimeout = DefaultStatusTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Sink == nil {
		o.Sink = history.Nop{}
	}
	if o.PID == 0 {
		o.PID = os.Getpid()
	}
	if len(o.Signals) == 0 {
		o.Signals = defaultSignals
	}
}

func resolve(ctx context.Context, o Options, log *slog.Logger) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, o.StatusTimeout)
	defer cancel()
	name, err := supervisor.Resolve(sctx, o.Supervisor, o.PID)
	if err == nil {
		log.Debug("resolved supervised name", "name", name)
		return name, nil
	}
	reason := "not_found"
	if errors.Is(err, supervisor.ErrUnreachable) || sctx.Err() != nil {
		reason = "unreachable"
	}
	metrics.IncResolveFailure(reason)
	log.Warn("process name not found", "reason", reason, "error", err)
	return "", err
}

// runChild starts the command and blocks until it exits, the wrapper is
// signalled, ctx is cancelled or ChildTimeout elapses. In every case the
// deferred kill runs before returning, so nothing the child spawned outlives
// this call.
func (o *Options) runChild(ctx context.Context, inv Invocation, sigCh <-chan os.Signal, log *slog.Logger) Invocation {
	c := newChild(o.Shell, o.Command, o.WorkDir, o.Env, o.Stdout, o.Stderr)
	if err := c.start(); err != nil {
		log.Error("failed to start child", "error", err)
		inv.Outcome = OutcomeStartFailed
		inv.ExitCode = exitStartFailed
		inv.Err = err
		return inv
	}
	defer c.kill()
	inv.ChildPID = c.pid()
	log.Info("child started", "child_pid", inv.ChildPID, "command", o.Command)

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	var timeout <-chan time.Time
	if o.ChildTimeout > 0 {
		t := time.NewTimer(o.ChildTimeout)
		defer t.Stop()
		timeout = t.C
	}

	began := time.Now()
	var werr error
	select {
	case werr = <-done:
		inv.ExitCode = exitCode(werr)
	case sig := <-sigCh:
		log.Warn("wrapper signalled, killing child", "signal", sig.String())
		c.kill()
		<-done
		inv.Signal = sig
		inv.Outcome = OutcomeInterrupted
		inv.ExitCode = 128 + signalNumber(sig)
		inv.Err = fmt.Errorf("interrupted by %s", sig)
	case <-ctx.Done():
		log.Warn("wrapper cancelled, killing child", "error", ctx.Err())
		c.kill()
		<-done
		inv.Outcome = OutcomeInterrupted
		inv.ExitCode = 128 + signalNumber(os.Interrupt)
		inv.Err = ctx.Err()
	case <-timeout:
		log.Warn("child timed out, killing", "timeout", o.ChildTimeout)
		c.kill()
		<-done
		inv.Outcome = OutcomeTimedOut
		inv.ExitCode = exitTimedOut
		inv.Err = fmt.Errorf("child exceeded %s", o.ChildTimeout)
	}
	metrics.ObserveChild(metricName(inv), time.Since(began).Seconds(), inv.ExitCode)

	if inv.Outcome == "" && inv.ExitCode != 0 {
		inv.Outcome = OutcomeChildFailed
		inv.Err = werr
		log.Warn("child failed, leaving entry to the supervisor", "exit_code", inv.ExitCode)
	}
	return inv
}

// stop issues exactly one supervisor stop for inv.Name. A signal arriving
// while the call is in flight is the supervisor acting on it, so it counts
// as a successful stop.
func (o *Options) stop(ctx context.Context, inv Invocation, sigCh <-chan os.Signal, log *slog.Logger) Invocation {
	if inv.Name == "" {
		inv.Outcome = OutcomeCompleted
		log.Info("child succeeded, no supervised name to stop")
		return inv
	}
	sctx, cancel := context.WithTimeout(ctx, o.StopTimeout)
	defer cancel()
	log.Info("child succeeded, stopping supervised entry")
	res := make(chan error, 1)
	go func() { res <- o.Supervisor.Stop(sctx, inv.Name) }()
	var err error
	select {
	case err = <-res:
	case sig := <-sigCh:
		log.Info("supervisor is stopping this process", "signal", sig.String())
		inv.Signal = sig
	}
	if err != nil {
		metrics.IncStopCall(inv.Name, false)
		log.Error("supervisor stop failed", "error", err)
		inv.Outcome = OutcomeStopFailed
		inv.Err = err
		return inv
	}
	metrics.IncStopCall(inv.Name, true)
	inv.Outcome = OutcomeStopped
	inv.Stopped = true
	return inv
}

func (o *Options) finish(ctx context.Context, inv Invocation, log *slog.Logger) Invocation {
	inv.FinishedAt = time.Now()
	metrics.IncRun(metricName(inv), string(inv.Outcome))
	o.emit(ctx, history.EventFinished, inv, log)
	log.Info("wrapper finished", "outcome", inv.Outcome, "exit_code", inv.ExitCode,
		"duration", inv.FinishedAt.Sub(inv.StartedAt))
	return inv
}

// emit never fails the run; history is best effort.
func (o *Options) emit(ctx context.Context, t history.EventType, inv Invocation, log *slog.Logger) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	e := history.Event{Type: t, OccurredAt: time.Now(), Run: inv.Record()}
	if err := o.Sink.Send(hctx, e); err != nil {
		log.Warn("history send failed", "event", t, "error", err)
	}
}

func metricName(inv Invocation) string {
	if inv.Name == "" {
		return "unknown"
	}
	return inv.Name
}
