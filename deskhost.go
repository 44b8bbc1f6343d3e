package deskhost

import (
	"context"
	"log/slog"

	"github.com/loykin/deskhost/internal/app"
	cfg "github.com/loykin/deskhost/internal/config"
	"github.com/loykin/deskhost/internal/failure"
	"github.com/loykin/deskhost/internal/metrics"
	"github.com/loykin/deskhost/internal/paths"
	"github.com/loykin/deskhost/internal/supervisor"
	"github.com/loykin/deskhost/internal/ui"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Location = paths.Location

type Report = failure.Report

type Shell = ui.Shell

type State = supervisor.State

type Snapshot = supervisor.Snapshot

// Host is a thin facade over internal/app.App.
type Host struct{ inner *app.App }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// New creates a host reporting through shell; a nil shell uses the system
// browser and a terminal dialog.
func New(c *Config, shell Shell, logger *slog.Logger) *Host {
	if shell == nil {
		shell = ui.NewDesktop(logger)
	}
	return &Host{inner: app.New(c, shell, app.WithLogger(logger))}
}

func (h *Host) Run(ctx context.Context) error { return h.inner.Run(ctx) }
func (h *Host) Location() Location            { return h.inner.Location() }

// Snapshot describes the backend; the zero Snapshot (idle) before launch.
func (h *Host) Snapshot() Snapshot {
	if sup := h.inner.Supervisor(); sup != nil {
		return sup.Snapshot()
	}
	return Snapshot{State: supervisor.StateIdle}
}

// ReportFor renders err the way the host's error dialog does.
func ReportFor(err error) Report { return failure.ReportFor(err) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
