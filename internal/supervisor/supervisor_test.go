package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pm2Report = "┌──────────────────┬────┬──────┬───────┬────────┬─────────┐\n" +
	"│ App name         │ id │ mode │ pid   │ status │ restart │\n" +
	"├──────────────────┼────┼──────┼───────┼────────┼─────────┤\n" +
	"│ \x1b[1m\x1b[36mcrawler_bitflyer\x1b[39m\x1b[22m │ 0  │ fork │ 4242  │ \x1b[32m\x1b[1monline\x1b[22m\x1b[39m │ 3       │\n" +
	"│ report           │ 1  │ fork │ N/A   │ stopped │ 0      │\n" +
	"│ worker-1\x1b[32m    │ 2  │ fork │ 777   │ online │ 0       │\n" +
	"└──────────────────┴────┴──────┴───────┴────────┴─────────┘\n"

type fakeSupervisor struct {
	report string
	err    error
	stops  []string
}

func (f *fakeSupervisor) Status(context.Context) (string, error) { return f.report, f.err }
func (f *fakeSupervisor) Stop(_ context.Context, name string) error {
	f.stops = append(f.stops, name)
	return nil
}

func TestStripANSI(t *testing.T) {
	cases := map[string]string{
		"worker-1\x1b[32m":            "worker-1",
		"\x1b[1;31mred\x1b[0m":        "red",
		"\x1b[1m\x1b[36mbot\x1b[39m": "bot",
		"plain":                       "plain",
		"":                            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripANSI(in), "input %q", in)
	}
}

func TestStripANSI_Idempotent(t *testing.T) {
	for _, s := range []string{"worker-1", "crawler_bitflyer", "a b\tc", "x\x1b[32m"} {
		once := StripANSI(s)
		assert.Equal(t, once, StripANSI(once))
	}
}

func TestStripANSI_KeepsOtherEscapes(t *testing.T) {
	// three-digit parameters are not colour codes of the supported shape
	s := "a\x1b[123mb"
	if got := StripANSI(s); got != s {
		t.Fatalf("expected %q untouched, got %q", s, got)
	}
}

func TestParseReport_PM2Table(t *testing.T) {
	entries := ParseReport(pm2Report, DefaultLayout)
	require.Len(t, entries, 2)
	assert.Equal(t, 4242, entries[0].PID)
	assert.Equal(t, "crawler_bitflyer", entries[0].Name)
	assert.Equal(t, 777, entries[1].PID)
	assert.Equal(t, "worker-1", entries[1].Name)
}

func TestParseReport_HeaderReordered(t *testing.T) {
	report := "| pid | name | status |\n| 10 | alpha | online |\n| 11 | beta | online |\n"
	entries := ParseReport(report, DefaultLayout)
	require.Len(t, entries, 2)
	assert.Equal(t, "beta", entries[1].Name)
	assert.Equal(t, 11, entries[1].PID)
}

func TestParseReport_WhitespaceFixedColumns(t *testing.T) {
	report := "alpha 0 fork 1001 online\nbeta 1 fork 1002 online\n"
	entries := ParseReport(report, Layout{PIDColumn: 3, NameColumn: 0})
	require.Len(t, entries, 2)
	e, ok := FindByPID(entries, 1002)
	require.True(t, ok)
	assert.Equal(t, "beta", e.Name)
}

func TestParseReport_EmptyAndShortRows(t *testing.T) {
	assert.Empty(t, ParseReport("", DefaultLayout))
	assert.Empty(t, ParseReport("\n\n   \n", DefaultLayout))
	assert.Empty(t, ParseReport("only two\n", Layout{PIDColumn: 3}))
}

func TestResolve_Found(t *testing.T) {
	sup := &fakeSupervisor{report: pm2Report}
	name, ok := ResolveName(context.Background(), sup, 777)
	require.True(t, ok)
	assert.Equal(t, "worker-1", name)
}

func TestResolve_NoMatch(t *testing.T) {
	sup := &fakeSupervisor{report: pm2Report}
	_, ok := ResolveName(context.Background(), sup, 9999)
	assert.False(t, ok)
	_, err := Resolve(context.Background(), sup, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_EmptyReport(t *testing.T) {
	_, err := Resolve(context.Background(), &fakeSupervisor{}, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_SupervisorDownFoldsToAbsent(t *testing.T) {
	sup := &fakeSupervisor{err: errors.Join(ErrUnreachable, errors.New("pm2 not running"))}
	_, ok := ResolveName(context.Background(), sup, 1)
	assert.False(t, ok)
	_, err := Resolve(context.Background(), sup, 1)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestStopArgs(t *testing.T) {
	assert.Equal(t, []string{"pm2", "stop", "bot"}, StopArgs([]string{"pm2", "stop", "{name}"}, "bot"))
	assert.Equal(t, []string{"supervisorctl", "stop", "bot"}, StopArgs([]string{"supervisorctl", "stop"}, "bot"))
	assert.Equal(t, []string{"sh", "-c", "stop bot-1"}, StopArgs([]string{"sh", "-c", "stop {name}-1"}, "bot"))
}

func TestCommandSupervisor_StatusAndStop(t *testing.T) {
	dir := t.TempDir()
	sup := &CommandSupervisor{
		StatusCommand: []string{"/bin/sh", "-c", "printf 'alpha 0 fork 55 online\\n'"},
		StopCommand:   []string{"/bin/sh", "-c", "echo \"$0\" > " + dir + "/stopped", "{name}"},
		Layout:        Layout{PIDColumn: 3, NameColumn: 0},
	}
	name, err := Resolve(context.Background(), sup, 55)
	require.NoError(t, err)
	assert.Equal(t, "alpha", name)
	require.NoError(t, sup.Stop(context.Background(), name))
}

func TestCommandSupervisor_Unreachable(t *testing.T) {
	sup := &CommandSupervisor{StatusCommand: []string{"/bin/sh", "-c", "echo boom >&2; exit 3"}}
	_, err := sup.Status(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, strings.Contains(err.Error(), "boom"))

	_, err = (&CommandSupervisor{}).Status(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Error(t, (&CommandSupervisor{StopCommand: []string{"true"}}).Stop(context.Background(), " "))
}
