package deploy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name  string
	args  []string
	stdin string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	// fail returns an error for a call; nil means success.
	fail func(c call, n int) error
}

func (f *fakeRunner) Run(_ context.Context, stdin io.Reader, name string, args ...string) (*bytes.Buffer, error) {
	c := call{name: name, args: append([]string(nil), args...)}
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		c.stdin = string(b)
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	n := len(f.calls)
	f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(c, n); err != nil {
			return bytes.NewBufferString("rsync: connection unexpectedly closed"), err
		}
	}
	return bytes.NewBufferString("sent 1,024 bytes"), nil
}

func testOptions() Options {
	return Options{
		Server:        "aws-ec2-4",
		BotPath:       "target/x86_64-unknown-linux-gnu/release/bot",
		ModelPath:     "model_path",
		ConfigFiles:   []string{"config.bot.yaml", "config.yaml", "cron-settings.crontab"},
		CronFile:      "cron-settings.crontab",
		InstallDir:    "/usr/local/bot",
		RemoteHome:    "/home/ec2-user",
		Promote:       true,
		RetryInterval: time.Millisecond,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestRun_AllGroupsThenPromote(t *testing.T) {
	r := &fakeRunner{}
	res, err := Run(context.Background(), testOptions(), r)
	require.NoError(t, err)

	require.Len(t, r.calls, 6)
	wantSrc := []string{
		"target/x86_64-unknown-linux-gnu/release/bot",
		"model_path",
		"config.bot.yaml",
		"config.yaml",
		"cron-settings.crontab",
	}
	for i, src := range wantSrc {
		assert.Equal(t, "rsync", r.calls[i].name)
		assert.Equal(t, []string{"-uvz", src, "aws-ec2-4:~/"}, r.calls[i].args)
	}
	promote := r.calls[5]
	assert.Equal(t, "ssh", promote.name)
	assert.Equal(t, []string{"aws-ec2-4", "sudo", "sh", "-s"}, promote.args)
	assert.Contains(t, promote.stdin, "mkdir -p '/usr/local/bot'")
	assert.Contains(t, promote.stdin, "crontab '/usr/local/bot/cron-settings.crontab'")

	assert.Equal(t, wantSrc, res.Synced)
	assert.Empty(t, res.Skipped)
	assert.True(t, res.Promoted)
}

func TestRun_IncludeSubsetSkipsOthers(t *testing.T) {
	r := &fakeRunner{}
	o := testOptions()
	o.Include = []Group{GroupConfig}
	o.Promote = false

	res, err := Run(context.Background(), o, r)
	require.NoError(t, err)

	assert.Len(t, r.calls, 3)
	for _, c := range r.calls {
		assert.Equal(t, "rsync", c.name)
	}
	assert.Equal(t, []Group{GroupBot, GroupModel}, res.Skipped)
	assert.False(t, res.Promoted)
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	r := &fakeRunner{fail: func(c call, n int) error {
		if n <= 2 {
			return errors.New("exit status 12")
		}
		return nil
	}}
	o := testOptions()
	o.Include = []Group{GroupBot}
	o.Promote = false
	o.Retries = 2

	res, err := Run(context.Background(), o, r)
	require.NoError(t, err)
	assert.Len(t, r.calls, 3)
	assert.Equal(t, []string{o.BotPath}, res.Synced)
}

func TestRun_FailureAbortsBeforePromote(t *testing.T) {
	r := &fakeRunner{fail: func(c call, _ int) error {
		if c.name == "rsync" && c.args[1] == "model_path" {
			return errors.New("exit status 23")
		}
		return nil
	}}
	o := testOptions()
	o.Retries = 1

	res, err := Run(context.Background(), o, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model_path")
	assert.False(t, res.Promoted)
	assert.Equal(t, []string{o.BotPath}, res.Synced)
	for _, c := range r.calls {
		assert.NotEqual(t, "ssh", c.name)
	}
	// bot once, model twice (one retry)
	assert.Len(t, r.calls, 3)
}

func TestRun_PromoteFailure(t *testing.T) {
	r := &fakeRunner{fail: func(c call, _ int) error {
		if c.name == "ssh" {
			return errors.New("exit status 255")
		}
		return nil
	}}
	o := testOptions()
	o.Include = []Group{GroupBot}

	res, err := Run(context.Background(), o, r)
	require.Error(t, err)
	assert.False(t, res.Promoted)
}

func TestRun_CancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeRunner{fail: func(call, int) error {
		cancel()
		return errors.New("exit status 12")
	}}
	o := testOptions()
	o.Retries = 100
	o.RetryInterval = time.Hour

	_, err := Run(ctx, o, r)
	require.Error(t, err)
	assert.Len(t, r.calls, 1)
}

func TestRun_Validation(t *testing.T) {
	for name, mut := range map[string]func(*Options){
		"no server":     func(o *Options) { o.Server = "" },
		"flag server":   func(o *Options) { o.Server = "-oProxyCommand=x" },
		"space server":  func(o *Options) { o.Server = "a b" },
		"neg retries":   func(o *Options) { o.Retries = -1 },
		"no install to": func(o *Options) { o.InstallDir = "" },
	} {
		t.Run(name, func(t *testing.T) {
			o := testOptions()
			mut(&o)
			r := &fakeRunner{}
			_, err := Run(context.Background(), o, r)
			assert.Error(t, err)
			assert.Empty(t, r.calls)
		})
	}
}

func TestParseGroups(t *testing.T) {
	gs, err := ParseGroups(nil)
	require.NoError(t, err)
	assert.Equal(t, AllGroups, gs)

	gs, err = ParseGroups([]string{"Model", " bot "})
	require.NoError(t, err)
	assert.Equal(t, []Group{GroupModel, GroupBot}, gs)

	_, err = ParseGroups([]string{"logs"})
	assert.Error(t, err)
}

func TestPromoteScript_RunsUnderSh(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	home := t.TempDir()
	install := t.TempDir() + "/it's installed"
	for _, f := range []string{"bot", "config.yaml"} {
		require.NoError(t, os.WriteFile(home+"/"+f, []byte("x"), 0o644))
	}

	script := PromoteScript(home, install, "")
	out, err := ExecRunner{}.Run(context.Background(), strings.NewReader(script), "sh", "-s")
	require.NoError(t, err, out.String())

	assert.FileExists(t, install+"/bot")
	assert.FileExists(t, install+"/config.yaml")
	assert.NoFileExists(t, home+"/bot")
}

func TestPromoteScript_EmptyHomeIsFine(t *testing.T) {
	script := PromoteScript(t.TempDir(), t.TempDir()+"/dst", "")
	out, err := ExecRunner{}.Run(context.Background(), strings.NewReader(script), "sh", "-s")
	require.NoError(t, err, out.String())
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'/usr/local/bot'`, quote("/usr/local/bot"))
	assert.Equal(t, `'it'"'"'s'`, quote("it's"))
}

func TestExecRunner_ReturnsOutputOnFailure(t *testing.T) {
	out, err := ExecRunner{}.Run(context.Background(), nil, "sh", "-c", "echo boom; exit 3")
	require.Error(t, err)
	assert.Equal(t, "boom\n", out.String())
}
