package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// Flag structs decouple cobra from the command logic for testing.
// Zero values mean "keep the config value"; overrides are applied only for
// flags the user actually set.

type ResolveFlags struct {
	PID int
}

type WrapFlags struct {
	Command         string
	WorkDir         string
	Env             []string
	EnvFiles        []string
	OnUnresolved    string
	StatusTimeout   time.Duration
	StopTimeout     time.Duration
	ChildTimeout    time.Duration
	HistoryDSN      string
	MetricsTextfile string
}

type DeployFlags struct {
	Server     string
	Include    []string
	BotPath    string
	ModelPath  string
	InstallDir string
	Retries    int
	NoPromote  bool
}

type HistoryFlags struct {
	DSN    string
	Name   string
	Limit  int
	JSON   bool
	Listen string
}
