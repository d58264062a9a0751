package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		var ec exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitCodeError carries a process exit code out of a command without
// printing anything.
type exitCodeError struct{ code int }

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func buildRoot(out, errOut io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	c := &command{global: globalFlags, out: out, errOut: errOut}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.SetErr(errOut)
	root.AddCommand(
		createResolveCommand(c, &ResolveFlags{}),
		createWrapCommand(c, &WrapFlags{}),
		createDeployCommand(c, &DeployFlags{}),
		createHistoryCommand(c, &HistoryFlags{}),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "botops",
		Short: "Operations toolkit for a supervisor-managed bot",
		Long: `botops wraps one-shot jobs running under a pm2-style supervisor,
deploys bot releases to a remote host and keeps a history of wrapper runs.

Examples:
  botops wrap -- /usr/local/bot/bot --name report
  botops resolve --pid 4242
  botops deploy --server aws-ec2-4 --include bot,config
  botops history list --limit 20`,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	return root
}

func createResolveCommand(c *command, f *ResolveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the supervisor-assigned name of a pid",
		Long: `Look up a pid in the supervisor's status listing and print its name.
Without --pid the caller's pid (the parent of botops) is used.
Exits 1 when the pid is not supervised or the supervisor cannot be reached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return c.runResolve(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVar(&f.PID, "pid", 0, "pid to resolve (default: parent pid)")
	return cmd
}

func createWrapCommand(c *command, f *WrapFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wrap [flags] [-- command args...]",
		Short: "Run a job and stop its supervised entry when it succeeds",
		Long: `Run one command through the shell. When it exits 0 the supervisor entry
running this wrapper is stopped so it is not restarted; a failing command is
left to the supervisor's restart policy. botops exits with the command's exit
code. Arguments after -- keep their word boundaries; --command is handed to
the shell as written.

Examples:
  botops wrap -- /usr/local/bot/bot --name report
  botops wrap --command "bot --check" --on-unresolved run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return c.runWrap(cmd, *f, args)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.Command, "command", "", "command string run through the shell")
	fl.StringVar(&f.WorkDir, "workdir", "", "working directory of the command")
	fl.StringArrayVar(&f.Env, "env", nil, "extra KEY=VALUE for the command (repeatable)")
	fl.StringArrayVar(&f.EnvFiles, "env-file", nil, ".env file for the command (repeatable)")
	fl.StringVar(&f.OnUnresolved, "on-unresolved", "", "exit or run when the own supervised name is not found")
	fl.DurationVar(&f.StatusTimeout, "status-timeout", 0, "timeout for the supervisor status query")
	fl.DurationVar(&f.StopTimeout, "stop-timeout", 0, "timeout for the supervisor stop call")
	fl.DurationVar(&f.ChildTimeout, "child-timeout", 0, "kill the command after this long (0 = no limit)")
	fl.StringVar(&f.HistoryDSN, "history-dsn", "", "history sink DSN")
	fl.StringVar(&f.MetricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")
	return cmd
}

func createDeployCommand(c *command, f *DeployFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Sync release artifacts to a host and promote them",
		Long: `rsync the bot binary, model and config files to the remote home
directory, then move them into the install directory and install the crontab.

Examples:
  botops deploy
  botops deploy --server aws-ec2-7 --include model --model-path models/v3
  botops deploy --include config --no-promote`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return c.runDeploy(cmd, *f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.Server, "server", "aws-ec2-4", "ssh destination")
	fl.StringSliceVarP(&f.Include, "include", "i", nil, "artifact groups to sync: bot, model, config (default all)")
	fl.StringVar(&f.BotPath, "bot-path", "", "release binary to sync")
	fl.StringVarP(&f.ModelPath, "model-path", "m", "", "model path to sync")
	fl.StringVar(&f.InstallDir, "install-dir", "", "remote install directory")
	fl.IntVar(&f.Retries, "retries", 0, "retries per artifact with exponential backoff")
	fl.BoolVar(&f.NoPromote, "no-promote", false, "only sync, do not promote on the remote host")
	return cmd
}

func createHistoryCommand(c *command, f *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded wrapper runs",
	}
	cmd.PersistentFlags().StringVar(&f.DSN, "dsn", "", "history store DSN (sqlite or postgres)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent wrapper runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return c.runHistoryList(cmd, *f)
		},
	}
	list.Flags().IntVar(&f.Limit, "limit", 20, "number of runs to show")
	list.Flags().StringVar(&f.Name, "name", "", "only runs of this supervised entry")
	list.Flags().BoolVar(&f.JSON, "json", false, "print JSON instead of a table")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run history and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return c.runHistoryServe(cmd, *f)
		},
	}
	serve.Flags().StringVar(&f.Listen, "listen", "", "listen address (default from config, :9311)")

	cmd.AddCommand(list, serve)
	return cmd
}
