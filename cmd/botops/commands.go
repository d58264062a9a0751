package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/botops/internal/config"
	"github.com/loykin/botops/internal/deploy"
	"github.com/loykin/botops/internal/history"
	"github.com/loykin/botops/internal/history/factory"
	"github.com/loykin/botops/internal/logger"
	"github.com/loykin/botops/internal/metrics"
	"github.com/loykin/botops/internal/server"
	"github.com/loykin/botops/internal/supervisor"
	"github.com/loykin/botops/internal/wrapper"
)

type command struct {
	global *GlobalFlags
	out    io.Writer
	errOut io.Writer
}

func (c *command) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.global.ConfigPath)
	if err != nil {
		return nil, err
	}
	if c.global.LogLevel != "" {
		cfg.Log.Level = c.global.LogLevel
	}
	return cfg, nil
}

// newLogger writes the tool's own log to stderr (plus the configured file),
// keeping stdout for command output.
func (c *command) newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	lc := cfg.Log.Logger()
	if f, ok := c.errOut.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
		lc.Color = false
	}
	return logger.New(lc, c.errOut)
}

func (c *command) runResolve(ctx context.Context, f ResolveFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	pid := f.PID
	if pid <= 0 {
		pid = os.Getppid()
	}
	timeout := cfg.Wrapper.StatusTimeout
	if timeout <= 0 {
		timeout = wrapper.DefaultStatusTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	name, err := supervisor.Resolve(sctx, cfg.Supervisor.NewSupervisor(), pid)
	if err != nil {
		if errors.Is(err, supervisor.ErrUnreachable) {
			return fmt.Errorf("supervisor unreachable: %w", err)
		}
		return fmt.Errorf("process name not found for pid %d", pid)
	}
	_, _ = fmt.Fprintln(c.out, name)
	return nil
}

func (c *command) runWrap(cmd *cobra.Command, f WrapFlags, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	applyWrapFlags(cmd, cfg, f, args)
	if strings.TrimSpace(cfg.Wrapper.Command) == "" {
		return errors.New("no command: pass --command, arguments after --, or set wrapper.command")
	}

	log, closer, err := c.newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	childEnv, err := cfg.Wrapper.ChildEnv()
	if err != nil {
		return err
	}
	stdout, stderr, err := cfg.ChildLog().ProcessWriters(cfg.Wrapper.OutputName)
	if err != nil {
		return err
	}
	opts := wrapper.Options{
		Command:       cfg.Wrapper.Command,
		Shell:         cfg.Wrapper.Shell,
		WorkDir:       cfg.Wrapper.WorkDir,
		Env:           childEnv,
		Supervisor:    cfg.Supervisor.NewSupervisor(),
		OnUnresolved:  wrapper.UnresolvedPolicy(cfg.Wrapper.OnUnresolved),
		StatusTimeout: cfg.Wrapper.StatusTimeout,
		StopTimeout:   cfg.Wrapper.StopTimeout,
		ChildTimeout:  cfg.Wrapper.ChildTimeout,
		Stdout:        c.out,
		Stderr:        c.errOut,
		Logger:        log,
		Sink:          openSink(cfg.History.DSN, log),
	}
	if stdout != nil {
		defer func() { _ = stdout.Close() }()
		opts.Stdout = stdout
	}
	if stderr != nil {
		defer func() { _ = stderr.Close() }()
		opts.Stderr = stderr
	}
	if cl, ok := opts.Sink.(io.Closer); ok {
		defer func() { _ = cl.Close() }()
	}

	inv, err := wrapper.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if err := metrics.WriteTextfile(cfg.Metrics.Textfile, reg); err != nil {
		log.Warn("metrics textfile write failed", "path", cfg.Metrics.Textfile, "error", err)
	}
	if inv.ExitCode != 0 {
		return exitCodeError{code: inv.ExitCode}
	}
	return nil
}

func applyWrapFlags(cmd *cobra.Command, cfg *config.Config, f WrapFlags, args []string) {
	w := &cfg.Wrapper
	fl := cmd.Flags()
	// args after -- are argv words; quote them so the shell sees the same words
	if len(args) > 0 {
		w.Command = shellquote.Join(args...)
	}
	if fl.Changed("command") {
		w.Command = f.Command
	}
	if fl.Changed("workdir") {
		w.WorkDir = f.WorkDir
	}
	if fl.Changed("env") {
		w.Env = append(w.Env, f.Env...)
	}
	if fl.Changed("env-file") {
		w.EnvFiles = append(w.EnvFiles, f.EnvFiles...)
	}
	if fl.Changed("on-unresolved") {
		w.OnUnresolved = f.OnUnresolved
	}
	if fl.Changed("status-timeout") {
		w.StatusTimeout = f.StatusTimeout
	}
	if fl.Changed("stop-timeout") {
		w.StopTimeout = f.StopTimeout
	}
	if fl.Changed("child-timeout") {
		w.ChildTimeout = f.ChildTimeout
	}
	if fl.Changed("history-dsn") {
		cfg.History.DSN = f.HistoryDSN
	}
	if fl.Changed("metrics-textfile") {
		cfg.Metrics.Textfile = f.MetricsTextfile
	}
}

// openSink never fails the wrapper: a broken history store only loses history.
func openSink(dsn string, log *slog.Logger) history.Sink {
	if strings.TrimSpace(dsn) == "" {
		return history.Nop{}
	}
	s, err := factory.NewSinkFromDSN(dsn)
	if err != nil {
		log.Warn("history sink unavailable", "error", err)
		return history.Nop{}
	}
	return s
}

func (c *command) runDeploy(cmd *cobra.Command, f DeployFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	d := cfg.Deploy
	fl := cmd.Flags()
	if fl.Changed("server") {
		d.Server = f.Server
	}
	if fl.Changed("include") {
		d.Include = f.Include
	}
	if fl.Changed("bot-path") {
		d.BotPath = f.BotPath
	}
	if fl.Changed("model-path") {
		d.ModelPath = f.ModelPath
	}
	if fl.Changed("install-dir") {
		d.InstallDir = f.InstallDir
	}
	if fl.Changed("retries") {
		d.Retries = f.Retries
	}
	if f.NoPromote {
		d.Promote = false
	}
	groups, err := deploy.ParseGroups(d.Include)
	if err != nil {
		return err
	}

	log, closer, err := c.newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := deploy.Run(ctx, deploy.Options{
		Server:      d.Server,
		Include:     groups,
		BotPath:     d.BotPath,
		ModelPath:   d.ModelPath,
		ConfigFiles: d.ConfigFiles,
		CronFile:    d.CronFile,
		InstallDir:  d.InstallDir,
		RemoteHome:  d.RemoteHome,
		Promote:     d.Promote,
		Retries:     d.Retries,
		Logger:      log,
	}, deploy.ExecRunner{})
	if werr := metrics.WriteTextfile(cfg.Metrics.Textfile, reg); werr != nil {
		log.Warn("metrics textfile write failed", "path", cfg.Metrics.Textfile, "error", werr)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "synced %d artifact(s) to %s", len(res.Synced), d.Server)
	if res.Promoted {
		_, _ = fmt.Fprintf(c.out, ", promoted into %s", d.InstallDir)
	}
	_, _ = fmt.Fprintln(c.out)
	return nil
}

func (c *command) historyReader(cfg *config.Config, f HistoryFlags) (history.Reader, error) {
	dsn := cfg.History.DSN
	if f.DSN != "" {
		dsn = f.DSN
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("no history store: pass --dsn or set history.dsn")
	}
	return factory.NewReaderFromDSN(dsn)
}

func (c *command) runHistoryList(cmd *cobra.Command, f HistoryFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	rd, err := c.historyReader(cfg, f)
	if err != nil {
		return err
	}
	if cl, ok := rd.(io.Closer); ok {
		defer func() { _ = cl.Close() }()
	}
	runs, err := rd.List(cmd.Context(), f.Name, f.Limit)
	if err != nil {
		return err
	}
	if f.JSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	return printRuns(c.out, runs)
}

func printRuns(w io.Writer, runs []history.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "FINISHED\tNAME\tPID\tOUTCOME\tEXIT\tDURATION")
	for _, r := range runs {
		name := r.Name
		if name == "" {
			name = "-"
		}
		dur := "-"
		if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n",
			r.FinishedAt.Local().Format(time.DateTime), name, r.PID, r.Outcome, r.ExitCode, dur)
	}
	return tw.Flush()
}

func (c *command) runHistoryServe(cmd *cobra.Command, f HistoryFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	log, closer, err := c.newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	rd, err := c.historyReader(cfg, f)
	if err != nil {
		return err
	}
	if cl, ok := rd.(io.Closer); ok {
		defer func() { _ = cl.Close() }()
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	addr := cfg.Metrics.Listen
	if f.Listen != "" {
		addr = f.Listen
	}
	srv := server.NewServer(addr, "", rd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("serving history", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
