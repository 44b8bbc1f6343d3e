package deskhost

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/loykin/deskhost/internal/failure"
	"github.com/prometheus/client_golang/prometheus"
)

type recordingShell struct {
	mu      sync.Mutex
	reports []Report
}

func (s *recordingShell) Open(context.Context, string) error { return nil }
func (s *recordingShell) ShowError(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
}

func TestLoadConfigDefaults(t *testing.T) {
	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Readiness.MaxAttempts != 20 {
		t.Fatalf("max attempts = %d", c.Readiness.MaxAttempts)
	}
}

func TestHost_MissingBundleShowsOneDialog(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DESKHOST_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("DESKHOST_LOG_DIR", filepath.Join(dir, "logs"))

	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	c.Mode = "packaged"
	c.ResourceRoot = filepath.Join(dir, "resources")
	c.History.Enabled = false
	c.Metrics.Enabled = false

	shell := &recordingShell{}
	h := New(c, shell, nil)
	if got := h.Snapshot().State.String(); got != "idle" {
		t.Fatalf("state before run = %q", got)
	}

	err = h.Run(context.Background())
	if !failure.Is(err, failure.KindPreconditionMissing) {
		t.Fatalf("expected a precondition error, got %v", err)
	}
	if len(shell.reports) != 1 || shell.reports[0].Title != failure.TitleStartup {
		t.Fatalf("unexpected dialogs: %+v", shell.reports)
	}
	if h.Location().DataDir != filepath.Join(dir, "data") {
		t.Fatalf("data dir = %q", h.Location().DataDir)
	}
}

func TestReportFor(t *testing.T) {
	r := ReportFor(failure.ReadinessTimeout("http://127.0.0.1:8765/admin/login/", 20))
	if r.Title != failure.TitleStartup {
		t.Fatalf("title = %q", r.Title)
	}
}

func TestRegisterMetrics(t *testing.T) {
	if err := RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}
}
