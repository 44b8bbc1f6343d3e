package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/loykin/deskhost"
	"github.com/loykin/deskhost/internal/bootstrap"
	"github.com/loykin/deskhost/internal/failure"
	"github.com/loykin/deskhost/internal/paths"
	"github.com/loykin/deskhost/internal/readiness"
	"github.com/loykin/deskhost/internal/ui"
	"github.com/loykin/deskhost/pkg/client"
	"github.com/spf13/afero"
)

// errReported is returned once a fatal error has been shown to the user.
var errReported = errors.New("deskhost: fatal error already reported")

// cmdRun runs the host until the user quits or the backend dies.
func cmdRun(ctx context.Context, f RunFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(f.ConfigPath, f.LogLevel)
	if err != nil {
		ui.NewDesktop(nil).ShowError(failure.ReportFor(err))
		return errReported
	}
	loc := paths.Resolve(paths.CurrentPlatform(), cfg.AppInfo())
	log, closer := cfg.Logging(loc).NewHostLogger()
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := deskhost.New(cfg, nil, log).Run(ctx); err != nil {
		return errReported
	}
	return nil
}

type pathsReport struct {
	Mode     paths.Mode     `json:"mode"`
	Location paths.Location `json:"location"`
}

func cmdPaths(w io.Writer, f PathsFlags) error {
	cfg, err := loadConfig(f.ConfigPath, "")
	if err != nil {
		return err
	}
	loc := paths.Resolve(paths.CurrentPlatform(), cfg.AppInfo())
	printJSON(w, pathsReport{
		Mode:     paths.DetectMode(afero.NewOsFs(), cfg.LaunchMode(), loc),
		Location: loc,
	})
	return nil
}

func cmdBootstrap(ctx context.Context, w io.Writer, f BootstrapFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(f.ConfigPath, f.LogLevel)
	if err != nil {
		return err
	}
	loc := paths.Resolve(paths.CurrentPlatform(), cfg.AppInfo())
	log := cfg.Logging(loc).NewSlogger()
	res, err := bootstrap.New(afero.NewOsFs(), log).EnsureRuntime(ctx, loc.BundledRuntimeDir, loc.PortableRuntimeDir,
		bootstrap.Relocation{ConfigFile: cfg.Relocation.ConfigFile})
	if err != nil {
		return err
	}
	if res.Copied {
		_, _ = fmt.Fprintf(w, "copied %d files to %s (relocation patched: %t)\n", res.Files, loc.PortableRuntimeDir, res.Patched)
	} else {
		_, _ = fmt.Fprintf(w, "portable runtime already present at %s\n", loc.PortableRuntimeDir)
	}
	return nil
}

func cmdProbe(ctx context.Context, w io.Writer, f ProbeFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(f.ConfigPath, "")
	if err != nil {
		return err
	}
	url := f.URL
	if url == "" {
		port := cfg.Port
		if f.Port > 0 {
			port = f.Port
		}
		url = "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(port)) + cfg.Readiness.Path
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = cfg.Readiness.ProbeTimeout
	}

	a := readiness.NewHTTPProber(url, timeout).Probe(ctx)
	switch a.Outcome {
	case readiness.Success:
		_, _ = fmt.Fprintf(w, "%s: ready (HTTP %d)\n", url, a.Status)
		return nil
	case readiness.UnexpectedStatus:
		return fmt.Errorf("%s: not ready (HTTP %d)", url, a.Status)
	default:
		return fmt.Errorf("%s: not reachable: %w", url, a.Err)
	}
}

func cmdStatus(ctx context.Context, w io.Writer, f StatusFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	addr := f.Addr
	if addr == "" {
		cfg, err := loadConfig(f.ConfigPath, "")
		if err != nil {
			return err
		}
		addr = cfg.StatusAddr
	}
	if addr == "" {
		addr = client.DefaultAddr
	}
	c := client.New(client.Config{BaseURL: addr, Timeout: f.Timeout})

	switch {
	case f.Output != "":
		lines, err := c.Output(ctx, f.Output, f.Lines)
		if err != nil {
			return err
		}
		for _, l := range lines {
			_, _ = fmt.Fprintln(w, l)
		}
	case f.History > 0:
		events, err := c.History(ctx, f.History)
		if err != nil {
			return err
		}
		printJSON(w, events)
	default:
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		printJSON(w, st)
	}
	return nil
}
