package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/botops/internal/env"
	"github.com/loykin/botops/internal/logger"
	"github.com/loykin/botops/internal/supervisor"
	"github.com/loykin/botops/internal/wrapper"
)

// EnvPrefix prefixes environment overrides, e.g. BOTOPS_HISTORY_DSN.
const EnvPrefix = "BOTOPS"

// Config represents the top-level TOML structure.
type Config struct {
	Log        LogConfig        `toml:"log" mapstructure:"log"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Wrapper    WrapperConfig    `toml:"wrapper" mapstructure:"wrapper"`
	Deploy     DeployConfig     `toml:"deploy" mapstructure:"deploy"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type SupervisorConfig struct {
	StatusCommand []string `toml:"status_command" mapstructure:"status_command"`
	StopCommand   []string `toml:"stop_command" mapstructure:"stop_command"`
	PIDColumn     int      `toml:"pid_column" mapstructure:"pid_column"`
	NameColumn    int      `toml:"name_column" mapstructure:"name_column"`
	DetectHeader  bool     `toml:"detect_header" mapstructure:"detect_header"`
}

type WrapperConfig struct {
	Command       string        `toml:"command" mapstructure:"command"`
	Shell         []string      `toml:"shell" mapstructure:"shell"`
	WorkDir       string        `toml:"workdir" mapstructure:"workdir"`
	Env           []string      `toml:"env" mapstructure:"env"`
	EnvFiles      []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv      bool          `toml:"use_os_env" mapstructure:"use_os_env"`
	OnUnresolved  string        `toml:"on_unresolved" mapstructure:"on_unresolved"`
	StatusTimeout time.Duration `toml:"status_timeout" mapstructure:"status_timeout"`
	StopTimeout   time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	ChildTimeout  time.Duration `toml:"child_timeout" mapstructure:"child_timeout"`
	// OutputName names the child's log files under log.dir.
	OutputName string     `toml:"output_name" mapstructure:"output_name"`
	Log        *LogConfig `toml:"log" mapstructure:"log"`
}

type DeployConfig struct {
	Server      string   `toml:"server" mapstructure:"server"`
	Include     []string `toml:"include" mapstructure:"include"`
	BotPath     string   `toml:"bot_path" mapstructure:"bot_path"`
	ModelPath   string   `toml:"model_path" mapstructure:"model_path"`
	ConfigFiles []string `toml:"config_files" mapstructure:"config_files"`
	CronFile    string   `toml:"cron_file" mapstructure:"cron_file"`
	InstallDir  string   `toml:"install_dir" mapstructure:"install_dir"`
	RemoteHome  string   `toml:"remote_home" mapstructure:"remote_home"`
	Promote     bool     `toml:"promote" mapstructure:"promote"`
	Retries     int      `toml:"retries" mapstructure:"retries"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	Textfile string `toml:"textfile" mapstructure:"textfile"`
	Listen   string `toml:"listen" mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.stdout", "")
	v.SetDefault("log.stderr", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("supervisor.status_command", []string{"pm2", "list"})
	v.SetDefault("supervisor.stop_command", []string{"pm2", "stop", "{name}"})
	v.SetDefault("supervisor.pid_column", supervisor.DefaultLayout.PIDColumn)
	v.SetDefault("supervisor.name_column", supervisor.DefaultLayout.NameColumn)
	v.SetDefault("supervisor.detect_header", supervisor.DefaultLayout.DetectHeader)

	v.SetDefault("wrapper.command", "")
	v.SetDefault("wrapper.shell", []string{})
	v.SetDefault("wrapper.workdir", "")
	v.SetDefault("wrapper.env", []string{})
	v.SetDefault("wrapper.env_files", []string{})
	v.SetDefault("wrapper.use_os_env", true)
	v.SetDefault("wrapper.on_unresolved", string(wrapper.UnresolvedExit))
	v.SetDefault("wrapper.status_timeout", wrapper.DefaultStatusTimeout)
	v.SetDefault("wrapper.stop_timeout", wrapper.DefaultStopTimeout)
	v.SetDefault("wrapper.child_timeout", time.Duration(0))
	v.SetDefault("wrapper.output_name", "job")

	v.SetDefault("deploy.server", "aws-ec2-4")
	v.SetDefault("deploy.include", []string{"bot", "model", "config"})
	v.SetDefault("deploy.bot_path", "target/x86_64-unknown-linux-gnu/release/bot")
	v.SetDefault("deploy.model_path", "model_path")
	v.SetDefault("deploy.config_files", []string{"config.bot.yaml", "config.yaml", "cron-settings.crontab"})
	v.SetDefault("deploy.cron_file", "cron-settings.crontab")
	v.SetDefault("deploy.install_dir", "/usr/local/bot")
	v.SetDefault("deploy.remote_home", "/home/ec2-user")
	v.SetDefault("deploy.promote", true)
	v.SetDefault("deploy.retries", 0)

	v.SetDefault("history.dsn", "")

	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.listen", ":9311")
}

// Load reads path (TOML) on top of the built-in defaults and applies
// BOTOPS_* environment overrides. An empty path yields defaults plus env.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values a zero default cannot repair.
func (c *Config) Validate() error {
	if len(c.Supervisor.StatusCommand) == 0 {
		return fmt.Errorf("supervisor.status_command must not be empty")
	}
	if len(c.Supervisor.StopCommand) == 0 {
		return fmt.Errorf("supervisor.stop_command must not be empty")
	}
	if c.Supervisor.PIDColumn < 0 || c.Supervisor.NameColumn < 0 {
		return fmt.Errorf("supervisor columns must be >= 0")
	}
	if c.Supervisor.PIDColumn == c.Supervisor.NameColumn {
		return fmt.Errorf("supervisor.pid_column and name_column must differ")
	}
	if _, err := wrapper.ParseUnresolvedPolicy(c.Wrapper.OnUnresolved); err != nil {
		return err
	}
	if c.Wrapper.StatusTimeout < 0 || c.Wrapper.StopTimeout < 0 || c.Wrapper.ChildTimeout < 0 {
		return fmt.Errorf("wrapper timeouts must not be negative")
	}
	for _, g := range c.Deploy.Include {
		if !slices.Contains([]string{"bot", "model", "config"}, g) {
			return fmt.Errorf("unknown deploy group %q (want bot, model or config)", g)
		}
	}
	if c.Deploy.Retries < 0 {
		return fmt.Errorf("deploy.retries must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Logger converts the [log] section.
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:  l.Level,
		Format: l.Format,
		Color:  l.Color,
		File: logger.FileConfig{
			Dir:        l.Dir,
			StdoutPath: l.Stdout,
			StderrPath: l.Stderr,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

// ChildLog returns the rotation settings for the child's output: the top
// level [log] rotation values overridden by [wrapper.log]. Only
// [wrapper.log] paths are used, so the child writes to the wrapper's own
// streams unless that section names a destination.
func (c *Config) ChildLog() logger.Config {
	base := c.Log.Logger()
	lc := logger.Config{File: logger.FileConfig{
		MaxSizeMB:  base.File.MaxSizeMB,
		MaxBackups: base.File.MaxBackups,
		MaxAgeDays: base.File.MaxAgeDays,
		Compress:   base.File.Compress,
	}}
	w := c.Wrapper.Log
	if w == nil {
		return lc
	}
	lc.File.Dir = w.Dir
	lc.File.StdoutPath = w.Stdout
	lc.File.StderrPath = w.Stderr
	if w.MaxSizeMB != 0 {
		lc.File.MaxSizeMB = w.MaxSizeMB
	}
	if w.MaxBackups != 0 {
		lc.File.MaxBackups = w.MaxBackups
	}
	if w.MaxAgeDays != 0 {
		lc.File.MaxAgeDays = w.MaxAgeDays
	}
	if w.Compress {
		lc.File.Compress = true
	}
	return lc
}

// NewSupervisor builds the command-backed supervisor client.
func (s SupervisorConfig) NewSupervisor() *supervisor.CommandSupervisor {
	return &supervisor.CommandSupervisor{
		StatusCommand: slices.Clone(s.StatusCommand),
		StopCommand:   slices.Clone(s.StopCommand),
		Layout: supervisor.Layout{
			PIDColumn:    s.PIDColumn,
			NameColumn:   s.NameColumn,
			DetectHeader: s.DetectHeader,
		},
	}
}

// ChildEnv composes the child's environment: the OS env when use_os_env is
// set, then env_files in order, then the env list.
func (w WrapperConfig) ChildEnv() ([]string, error) {
	e := env.New()
	if !w.UseOSEnv {
		e = e.WithoutOS()
	}
	e, err := e.WithFiles(w.EnvFiles)
	if err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}
	return e.WithPairs(w.Env).Merge(nil), nil
}
