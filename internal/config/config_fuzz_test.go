package config

import (
	"os"
	"strings"
	"testing"
)

// FuzzWrapperConfigTOML feeds random-ish fields into a tiny TOML and ensures
// the loader does not panic.
func FuzzWrapperConfigTOML(f *testing.F) {
	f.Add("bot --name crawler", "exit", "10s", "aws-ec2-4")
	f.Add("", "run", "", "")
	f.Add("true", "bogus", "notaduration", "host")

	f.Fuzz(func(t *testing.T, cmd, policy, timeout, server string) {
		clean := func(s string) string {
			return strings.NewReplacer("\"", "", "\\", "", "\n", "").Replace(s)
		}
		b := strings.Builder{}
		b.WriteString("[wrapper]\n")
		b.WriteString("command = \"" + clean(cmd) + "\"\n")
		b.WriteString("on_unresolved = \"" + clean(policy) + "\"\n")
		if timeout != "" {
			b.WriteString("child_timeout = \"" + clean(timeout) + "\"\n")
		}
		b.WriteString("[deploy]\nserver = \"" + clean(server) + "\"\n")

		tmp := t.TempDir() + "/fuzz.toml"
		if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
			t.Skip()
		}
		_, _ = Load(tmp) // must not panic
	})
}
