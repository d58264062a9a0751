// Package env composes the environment handed to wrapped child commands.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env is an immutable environment builder: the OS environment (optional)
// as base, then variables loaded from env files, then explicit overrides.
type Env struct {
	vars   Var
	noOS   bool
	osBase Var
}

func New() *Env { return &Env{vars: make(Var)} }

// WithoutOS returns a copy that does not inherit the current process env.
func (e *Env) WithoutOS() *Env {
	c := e.clone()
	c.noOS = true
	return c
}

// WithPairs returns a copy with every "K=V" entry applied in order.
func (e *Env) WithPairs(kvs []string) *Env {
	c := e.clone()
	for _, kv := range kvs {
		if k, v, ok := splitPair(kv); ok {
			c.vars[k] = v
		}
	}
	return c
}

// WithFiles returns a copy with the contents of each .env file applied in order.
func (e *Env) WithFiles(paths []string) (*Env, error) {
	c := e.clone()
	for _, p := range paths {
		m, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			c.vars[k] = v
		}
	}
	return c, nil
}

// Merge composes the final environment: OS base, builder vars, then extra
// "K=V" overrides. ${VAR} references are expanded against the composed map
// (single pass, no recursion). The result is sorted by key.
func (e *Env) Merge(extra []string) []string {
	m := make(Var)
	if !e.noOS {
		base := e.osBase
		if base == nil {
			base = fromOS()
		}
		for k, v := range base {
			m[k] = v
		}
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for _, kv := range extra {
		if k, v, ok := splitPair(kv); ok {
			m[k] = v
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

// LoadFile parses a simple .env file with KEY=VALUE lines. Blank lines and
// lines starting with # are ignored; an "export " prefix and one pair of
// surrounding quotes are removed.
func LoadFile(path string) (Var, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	m := make(Var)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := splitPair(line)
		if !ok {
			continue
		}
		m[strings.TrimSpace(k)] = unquote(strings.TrimSpace(v))
	}
	return m, nil
}

func (e *Env) clone() *Env {
	c := &Env{vars: make(Var, len(e.vars)), noOS: e.noOS, osBase: e.osBase}
	for k, v := range e.vars {
		c.vars[k] = v
	}
	return c
}

func fromOS() Var {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := splitPair(kv); ok {
			base[k] = v
		}
	}
	return base
}

func splitPair(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func unquote(v string) string {
	if n := len(v); n >= 2 {
		if (v[0] == '"' && v[n-1] == '"') || (v[0] == '\'' && v[n-1] == '\'') {
			return v[1 : n-1]
		}
	}
	return v
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
