// Package deploy pushes release artifacts to a remote host with rsync and
// promotes them into the install directory over ssh.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loykin/botops/internal/metrics"
)

// Group is a named set of artifacts that can be included in a deploy.
type Group string

const (
	GroupBot    Group = "bot"
	GroupModel  Group = "model"
	GroupConfig Group = "config"
)

// AllGroups is the default selection, in sync order.
var AllGroups = []Group{GroupBot, GroupModel, GroupConfig}

// ParseGroups validates group names. An empty list selects AllGroups.
func ParseGroups(names []string) ([]Group, error) {
	if len(names) == 0 {
		return append([]Group(nil), AllGroups...), nil
	}
	out := make([]Group, 0, len(names))
	for _, n := range names {
		g := Group(strings.ToLower(strings.TrimSpace(n)))
		switch g {
		case GroupBot, GroupModel, GroupConfig:
			out = append(out, g)
		default:
			return nil, fmt.Errorf("unknown group %q (want bot, model or config)", n)
		}
	}
	return out, nil
}

const defaultRetryInterval = time.Second

type Options struct {
	Server      string
	Include     []Group
	BotPath     string
	ModelPath   string
	ConfigFiles []string
	CronFile    string // file name inside InstallDir handed to crontab
	InstallDir  string
	RemoteHome  string
	Promote     bool
	Retries     int
	// RetryInterval is the first backoff delay; defaults to one second.
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// Result summarises a deploy.
type Result struct {
	Synced   []string
	Skipped  []Group
	Promoted bool
}

func (o *Options) validate() error {
	if o.Server == "" {
		return errors.New("deploy: server is required")
	}
	if strings.HasPrefix(o.Server, "-") || strings.ContainsAny(o.Server, " \t\n:") {
		return fmt.Errorf("deploy: invalid server %q", o.Server)
	}
	if o.Retries < 0 {
		return errors.New("deploy: retries must not be negative")
	}
	if o.Promote && (o.InstallDir == "" || o.RemoteHome == "") {
		return errors.New("deploy: promote needs install dir and remote home")
	}
	return nil
}

// Run syncs every artifact of the included groups, in bot, model, config
// order, then promotes them unless Promote is false. The first artifact that
// still fails after its retries aborts the deploy before promotion.
func Run(ctx context.Context, o Options, r Runner) (Result, error) {
	var res Result
	if err := o.validate(); err != nil {
		return res, err
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = defaultRetryInterval
	}
	include := o.Include
	if len(include) == 0 {
		include = AllGroups
	}
	log := o.Logger.With("server", o.Server)

	for _, g := range AllGroups {
		if !contains(include, g) {
			log.Info("skip " + string(g))
			res.Skipped = append(res.Skipped, g)
			continue
		}
		for _, src := range o.artifacts(g) {
			if err := o.sync(ctx, r, g, src, log); err != nil {
				return res, err
			}
			res.Synced = append(res.Synced, src)
		}
	}

	if !o.Promote {
		log.Info("promotion skipped")
		return res, nil
	}
	if err := o.promote(ctx, r, log); err != nil {
		return res, err
	}
	res.Promoted = true
	return res, nil
}

func (o *Options) artifacts(g Group) []string {
	switch g {
	case GroupBot:
		return nonEmpty(o.BotPath)
	case GroupModel:
		return nonEmpty(o.ModelPath)
	case GroupConfig:
		return nonEmpty(o.ConfigFiles...)
	}
	return nil
}

func (o *Options) sync(ctx context.Context, r Runner, g Group, src string, log *slog.Logger) error {
	dest := o.Server + ":~/"
	attempt := 0
	op := func() error {
		attempt++
		out, err := r.Run(ctx, nil, "rsync", "-uvz", src, dest)
		if err != nil {
			log.Warn("rsync failed", "artifact", filepath.Base(src), "attempt", attempt, "error", err,
				"output", strings.TrimSpace(out.String()))
			return err
		}
		log.Info("rsync "+filepath.Base(src), "output", strings.TrimSpace(out.String()))
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.RetryInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(o.Retries)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		metrics.IncDeploySync(string(g), false)
		return fmt.Errorf("rsync %s to %s: %w", src, dest, err)
	}
	metrics.IncDeploySync(string(g), true)
	return nil
}

func (o *Options) promote(ctx context.Context, r Runner, log *slog.Logger) error {
	script := PromoteScript(o.RemoteHome, o.InstallDir, o.CronFile)
	out, err := r.Run(ctx, strings.NewReader(script), "ssh", o.Server, "sudo", "sh", "-s")
	if err != nil {
		log.Error("promote failed", "error", err, "output", strings.TrimSpace(out.String()))
		return fmt.Errorf("promote on %s: %w", o.Server, err)
	}
	log.Info("promoted", "install_dir", o.InstallDir, "output", strings.TrimSpace(out.String()))
	return nil
}

// PromoteScript is the root shell script run on the remote host: it moves
// everything synced into remoteHome into installDir and, when cronFile is
// set and present there, installs it as root's crontab.
func PromoteScript(remoteHome, installDir, cronFile string) string {
	var b strings.Builder
	b.WriteString("set -e\n")
	fmt.Fprintf(&b, "mkdir -p %s\n", quote(installDir))
	fmt.Fprintf(&b, "for f in %s/*; do\n", quote(remoteHome))
	b.WriteString("  [ -e \"$f\" ] || continue\n")
	fmt.Fprintf(&b, "  mv -f \"$f\" %s/\n", quote(installDir))
	b.WriteString("done\n")
	if cronFile != "" {
		cron := quote(strings.TrimSuffix(installDir, "/") + "/" + filepath.Base(cronFile))
		fmt.Fprintf(&b, "if [ -f %s ]; then crontab %s; fi\n", cron, cron)
	}
	return b.String()
}

// quote single-quotes s for sh.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func contains(gs []Group, g Group) bool {
	for _, x := range gs {
		if x == g {
			return true
		}
	}
	return false
}

func nonEmpty(ss ...string) []string {
	var out []string
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
