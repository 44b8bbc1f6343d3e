package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/loykin/deskhost/internal/paths"
	"github.com/loykin/deskhost/internal/server"
	"github.com/loykin/deskhost/internal/supervisor"
	"github.com/loykin/deskhost/pkg/client"
)

func writeTOML(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return p
}

func TestHelpListsCommands(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	for _, name := range []string{"deskhost", "paths", "bootstrap", "probe", "status"} {
		if !strings.Contains(out.String(), name) {
			t.Fatalf("help output misses %q: %s", name, out.String())
		}
	}
}

func TestCmdPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(paths.EnvDataDir, filepath.Join(dir, "data"))
	t.Setenv(paths.EnvLogDir, filepath.Join(dir, "logs"))
	cfgPath := writeTOML(t, dir, "deskhost.toml", `
mode = "development"
resource_root = "`+filepath.ToSlash(filepath.Join(dir, "resources"))+`"
`)

	var out bytes.Buffer
	if err := cmdPaths(&out, PathsFlags{ConfigPath: cfgPath}); err != nil {
		t.Fatalf("cmdPaths: %v", err)
	}
	var rep pathsReport
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v out=%s", err, out.String())
	}
	if rep.Mode != paths.ModeDevelopment {
		t.Fatalf("mode = %q", rep.Mode)
	}
	if rep.Location.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("data dir = %q", rep.Location.DataDir)
	}
	if rep.Location.PortableRuntimeDir != filepath.Join(dir, "data", "python") {
		t.Fatalf("portable runtime = %q", rep.Location.PortableRuntimeDir)
	}
}

func TestCmdPaths_BadConfig(t *testing.T) {
	cfgPath := writeTOML(t, t.TempDir(), "bad.toml", `mode = "sideways"`)
	if err := cmdPaths(&bytes.Buffer{}, PathsFlags{ConfigPath: cfgPath}); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

func TestCmdBootstrap(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(paths.EnvDataDir, filepath.Join(dir, "data"))
	t.Setenv(paths.EnvLogDir, filepath.Join(dir, "logs"))
	res := filepath.Join(dir, "resources")
	if err := os.MkdirAll(filepath.Join(res, "python", "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(res, "python", "bin", "python3"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath := writeTOML(t, dir, "deskhost.toml", `resource_root = "`+filepath.ToSlash(res)+`"`)

	var out bytes.Buffer
	if err := cmdBootstrap(context.Background(), &out, BootstrapFlags{ConfigPath: cfgPath, LogLevel: "error"}); err != nil {
		t.Fatalf("cmdBootstrap: %v", err)
	}
	if !strings.Contains(out.String(), "copied 1 files") {
		t.Fatalf("unexpected output: %s", out.String())
	}

	out.Reset()
	if err := cmdBootstrap(context.Background(), &out, BootstrapFlags{ConfigPath: cfgPath, LogLevel: "error"}); err != nil {
		t.Fatalf("second cmdBootstrap: %v", err)
	}
	if !strings.Contains(out.String(), "already present") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestCmdProbe(t *testing.T) {
	ready := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin/", http.StatusFound)
	}))
	defer ready.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	var out bytes.Buffer
	if err := cmdProbe(context.Background(), &out, ProbeFlags{URL: ready.URL + "/admin/login/"}); err != nil {
		t.Fatalf("probe ready: %v", err)
	}
	if !strings.Contains(out.String(), "ready (HTTP 302)") {
		t.Fatalf("unexpected output: %s", out.String())
	}

	err := cmdProbe(context.Background(), &out, ProbeFlags{URL: broken.URL + "/admin/login/"})
	if err == nil || !strings.Contains(err.Error(), "HTTP 503") {
		t.Fatalf("expected a 503 error, got %v", err)
	}
}

type staticSource struct{ snap supervisor.Snapshot }

func (s staticSource) Snapshot() supervisor.Snapshot { return s.snap }

func TestCmdStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	src := staticSource{snap: supervisor.Snapshot{
		State:  supervisor.StateHealthy,
		PID:    777,
		Port:   8765,
		Stderr: []string{"a", "b", "c"},
	}}
	ts := httptest.NewServer(server.NewRouter(src, "http://127.0.0.1:8765/admin/", "").Handler())
	defer ts.Close()

	var out bytes.Buffer
	if err := cmdStatus(context.Background(), &out, StatusFlags{Addr: ts.URL}); err != nil {
		t.Fatalf("cmdStatus: %v", err)
	}
	var st client.BackendStatus
	if err := json.Unmarshal(out.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v out=%s", err, out.String())
	}
	if st.State != "healthy" || st.PID != 777 {
		t.Fatalf("unexpected status: %+v", st)
	}

	out.Reset()
	if err := cmdStatus(context.Background(), &out, StatusFlags{Addr: ts.URL, Output: "stderr", Lines: 2}); err != nil {
		t.Fatalf("cmdStatus output: %v", err)
	}
	if out.String() != "b\nc\n" {
		t.Fatalf("unexpected output: %q", out.String())
	}

	if err := cmdStatus(context.Background(), &out, StatusFlags{Addr: ts.URL, History: 5}); err == nil {
		t.Fatal("expected an error while history is disabled")
	}
}

func TestCmdRunConfigErrorIsReportedOnce(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTOML(t, dir, "deskhost.toml", `mode = "development"`)
	err := cmdRun(context.Background(), RunFlags{ConfigPath: cfgPath, LogLevel: "loud"})
	if !errors.Is(err, errReported) {
		t.Fatalf("expected errReported, got %v", err)
	}
	var out bytes.Buffer
	if code := exitCode(&out, err); code != 1 || out.Len() != 0 {
		t.Fatalf("reported error must exit 1 silently, got %d %q", code, out.String())
	}
}

func TestExitCode(t *testing.T) {
	var out bytes.Buffer
	if code := exitCode(&out, nil); code != 0 || out.Len() != 0 {
		t.Fatalf("nil error: got %d %q", code, out.String())
	}
	if code := exitCode(&out, errors.New("unknown command")); code != 1 || !strings.Contains(out.String(), "unknown command") {
		t.Fatalf("unreported error must be printed: got %d %q", code, out.String())
	}
}
