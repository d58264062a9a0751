package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func envMap(pairs []string) map[string]string {
	m := make(map[string]string)
	for _, kv := range pairs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

func TestChildEnv_Merge(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	t.Setenv("OS_ONLY", "osv")
	if err := os.WriteFile(dotenv, []byte("FILE_ONLY=fv\nCHAIN=${OS_ONLY}-x\nTOP=file\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	p := writeTOML(t, "[wrapper]\nuse_os_env = true\nenv_files = [\""+dotenv+"\"]\nenv = [\"TOP=tv\"]\n")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	pairs, err := c.Wrapper.ChildEnv()
	if err != nil {
		t.Fatalf("ChildEnv: %v", err)
	}
	m := envMap(pairs)
	if m["OS_ONLY"] != "osv" {
		t.Fatalf("missing OS_ONLY: %v", m["OS_ONLY"])
	}
	if m["FILE_ONLY"] != "fv" {
		t.Fatalf("missing FILE_ONLY: %v", m["FILE_ONLY"])
	}
	if m["TOP"] != "tv" {
		t.Fatalf("env list must override env files: %v", m["TOP"])
	}
	if m["CHAIN"] != "osv-x" {
		t.Fatalf("expected expansion, got %q", m["CHAIN"])
	}
}

func TestChildEnv_WithoutOS(t *testing.T) {
	t.Setenv("OS_ONLY", "osv")
	w := WrapperConfig{UseOSEnv: false, Env: []string{"A=1"}}
	pairs, err := w.ChildEnv()
	if err != nil {
		t.Fatalf("ChildEnv: %v", err)
	}
	m := envMap(pairs)
	if _, ok := m["OS_ONLY"]; ok || m["A"] != "1" || len(m) != 1 {
		t.Fatalf("unexpected env: %v", m)
	}
}

func TestChildEnv_MissingFile(t *testing.T) {
	w := WrapperConfig{EnvFiles: []string{"/definitely/not/exist.env"}}
	if _, err := w.ChildEnv(); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
