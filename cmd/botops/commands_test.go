package main

import (
	"bytes"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/loykin/botops/internal/config"
	"github.com/loykin/botops/internal/history"
)

func TestApplyWrapFlags(t *testing.T) {
	cmd := createWrapCommand(&command{global: &GlobalFlags{}}, &WrapFlags{})
	if err := cmd.ParseFlags([]string{"--command", "bot --check", "--child-timeout", "1m", "--env", "A=1", "--on-unresolved", "run"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	f := WrapFlags{Command: "bot --check", ChildTimeout: time.Minute, Env: []string{"A=1"}, OnUnresolved: "run"}
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Wrapper.Env = []string{"BASE=1"}
	applyWrapFlags(cmd, cfg, f, nil)

	w := cfg.Wrapper
	if w.Command != "bot --check" || w.ChildTimeout != time.Minute || w.OnUnresolved != "run" {
		t.Fatalf("flags not applied: %+v", w)
	}
	if len(w.Env) != 2 || w.Env[0] != "BASE=1" {
		t.Fatalf("env flags must extend config env: %v", w.Env)
	}
	// untouched flags keep config values
	if w.StopTimeout != 30*time.Second {
		t.Fatalf("stop timeout overwritten: %v", w.StopTimeout)
	}
}

func TestApplyWrapFlags_ArgsBecomeCommand(t *testing.T) {
	cmd := createWrapCommand(&command{global: &GlobalFlags{}}, &WrapFlags{})
	cfg, _ := config.Load("")
	cfg.Wrapper.Command = "from-config"
	applyWrapFlags(cmd, cfg, WrapFlags{}, []string{"/usr/local/bot/bot", "--name", "report"})
	if cfg.Wrapper.Command != "/usr/local/bot/bot --name report" {
		t.Fatalf("unexpected command: %q", cfg.Wrapper.Command)
	}

	args := []string{"bot", "--name", "daily report", "$HOME;x", "it's"}
	applyWrapFlags(cmd, cfg, WrapFlags{}, args)
	words, err := shellquote.Split(cfg.Wrapper.Command)
	if err != nil {
		t.Fatalf("split %q: %v", cfg.Wrapper.Command, err)
	}
	if !slices.Equal(words, args) {
		t.Fatalf("args must survive the shell unchanged: %q -> %q", cfg.Wrapper.Command, words)
	}
}

func TestPrintRuns(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	runs := []history.Run{
		{Name: "crawler_bitflyer", PID: 4242, Outcome: "stopped", StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond)},
		{PID: 7, Outcome: "unresolved", ExitCode: 0, StartedAt: start, FinishedAt: start},
	}
	var buf bytes.Buffer
	if err := printRuns(&buf, runs); err != nil {
		t.Fatalf("printRuns: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", buf.String())
	}
	if !strings.Contains(lines[1], "crawler_bitflyer") || !strings.Contains(lines[1], "1.5s") {
		t.Fatalf("unexpected row: %q", lines[1])
	}
	if !strings.Contains(lines[2], " - ") || !strings.Contains(lines[2], "unresolved") {
		t.Fatalf("missing placeholder for empty name: %q", lines[2])
	}
}

func TestOpenSink(t *testing.T) {
	log := quietLogger()
	if _, ok := openSink("", log).(history.Nop); !ok {
		t.Fatalf("empty dsn should disable history")
	}
	if _, ok := openSink("mysql://nope", log).(history.Nop); !ok {
		t.Fatalf("unsupported dsn should fall back to Nop")
	}
}
