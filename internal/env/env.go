package env

import (
	"os"
	"sort"
	"strings"
)

// Var maps variable names to values.
type Var map[string]string

// Env composes a child environment: a base (normally the host's own
// environment) overlaid with variables the host controls.
type Env struct {
	base Var
	over Var
}

// FromOS snapshots the current process environment as the base.
func FromOS() *Env { return FromList(os.Environ()) }

// FromList builds an Env whose base is a "K=V" list. Entries without '=' or
// with an empty key are ignored.
func FromList(kvs []string) *Env {
	base := make(Var, len(kvs))
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			base[k] = v
		}
	}
	return &Env{base: base, over: make(Var)}
}

// Set overlays k=v on top of the base.
func (e *Env) Set(k, v string) *Env {
	if k != "" {
		e.over[k] = v
	}
	return e
}

// SetAll overlays every entry of vars.
func (e *Env) SetAll(vars Var) *Env {
	for k, v := range vars {
		e.Set(k, v)
	}
	return e
}

// Lookup returns the effective value of k.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.over[k]; ok {
		return expand(v, e.base), true
	}
	v, ok := e.base[k]
	return v, ok
}

// Map returns the effective variables. Overlay values may reference base
// variables as ${NAME}; expansion is single-pass and never recursive.
func (e *Env) Map() Var {
	m := make(Var, len(e.base)+len(e.over))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.over {
		m[k] = expand(v, e.base)
	}
	return m
}

// List returns the effective environment as sorted "K=V" entries, the form
// exec.Cmd.Env expects.
func (e *Env) List() []string {
	m := e.Map()
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(name string) string {
		return m[name]
	})
}
