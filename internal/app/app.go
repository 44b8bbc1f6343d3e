// Package app wires the host together: paths, runtime bootstrap, the
// supervised backend, the diagnostics server and the UI shell.
package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/deskhost/internal/bootstrap"
	"github.com/loykin/deskhost/internal/config"
	"github.com/loykin/deskhost/internal/failure"
	"github.com/loykin/deskhost/internal/history/sqlite"
	"github.com/loykin/deskhost/internal/metrics"
	"github.com/loykin/deskhost/internal/paths"
	"github.com/loykin/deskhost/internal/process"
	"github.com/loykin/deskhost/internal/readiness"
	"github.com/loykin/deskhost/internal/server"
	"github.com/loykin/deskhost/internal/supervisor"
	"github.com/loykin/deskhost/internal/ui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// BackendLogName names the captured child output files.
const BackendLogName = "backend"

// App is one run of the host.
type App struct {
	cfg      *config.Config
	platform paths.Platform
	fs       afero.Fs
	shell    ui.Shell
	log      *slog.Logger
	registry prometheus.Registerer
	ports    portPicker
	prober   func(url string) readiness.Prober

	mu  sync.Mutex
	sup *supervisor.Supervisor
}

// Option customizes an App.
type Option func(*App)

// WithPlatform replaces the detected platform.
func WithPlatform(p paths.Platform) Option { return func(a *App) { a.platform = p } }

// WithFs sets the filesystem used for bootstrap and precondition checks.
func WithFs(fs afero.Fs) Option { return func(a *App) { a.fs = fs } }

func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithRegistry registers metrics with r instead of the default registerer.
func WithRegistry(r prometheus.Registerer) Option { return func(a *App) { a.registry = r } }

// WithProber replaces the HTTP readiness probe.
func WithProber(f func(url string) readiness.Prober) Option { return func(a *App) { a.prober = f } }

func withPorts(p portPicker) Option { return func(a *App) { a.ports = p } }

// New creates an App that reports through shell.
func New(cfg *config.Config, shell ui.Shell, opts ...Option) *App {
	a := &App{
		cfg:      cfg,
		platform: paths.CurrentPlatform(),
		fs:       afero.NewOsFs(),
		shell:    shell,
		log:      slog.Default(),
		registry: prometheus.DefaultRegisterer,
		ports:    newPortPicker(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.prober == nil {
		timeout := cfg.Readiness.ProbeTimeout
		a.prober = func(url string) readiness.Prober { return readiness.NewHTTPProber(url, timeout) }
	}
	return a
}

// Location resolves the run's directories.
func (a *App) Location() paths.Location {
	return paths.Resolve(a.platform, a.cfg.AppInfo())
}

// Supervisor is the supervisor of the current run, nil before launch.
func (a *App) Supervisor() *supervisor.Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup
}

// Run starts the backend, opens the UI once it answers and blocks until ctx
// is done (the user quit) or the backend dies. Every fatal error is shown
// exactly once through the shell and returned; a quit returns nil. The
// backend is never left running when Run returns.
func (a *App) Run(ctx context.Context) (err error) {
	loc := a.Location()
	defer func() {
		if err != nil {
			a.shell.ShowError(failure.ReportFor(err))
		}
	}()

	if a.cfg.Metrics.Enabled {
		if rerr := metrics.Register(a.registry); rerr != nil {
			a.log.Warn("metrics registration failed", slog.Any("error", rerr))
		}
	}

	port, err := choosePort(a.ports, a.cfg.Port, a.log)
	if err != nil {
		return err
	}
	mode := paths.DetectMode(a.fs, a.cfg.LaunchMode(), loc)
	a.log.Info("resolved runtime",
		slog.String("mode", string(mode)),
		slog.String("data_dir", loc.DataDir),
		slog.String("log_dir", loc.LogDir),
		slog.Int("port", port))

	if mode == paths.ModePackaged {
		if err := a.bootstrap(ctx, loc); err != nil {
			return err
		}
	}

	plan, err := a.plan(mode, loc, port)
	if err != nil {
		return err
	}
	if err := process.CheckPreconditions(a.fs, plan); err != nil {
		return err
	}

	scfg := supervisor.Config{
		Plan:           plan,
		Prober:         a.prober(a.probeURL(port)),
		Poller:         readiness.Poller{MaxAttempts: a.cfg.Readiness.MaxAttempts, Interval: a.cfg.Readiness.Interval},
		LogFile:        loc.LogFile,
		StopTimeout:    a.cfg.StopTimeout,
		BufferCapacity: a.cfg.OutputCapacity,
	}
	if a.cfg.Log.CaptureChildOutput {
		outW, errW, werr := a.cfg.Logging(loc).ProcessWriters(BackendLogName)
		if werr != nil {
			a.log.Warn("child output capture disabled", slog.Any("error", werr))
		} else {
			defer closeAll(outW, errW)
			scfg.Stdout, scfg.Stderr = outW, errW
		}
	}

	opts := []supervisor.Option{supervisor.WithLogger(a.log)}
	var hist *sqlite.Sink
	if a.cfg.History.Enabled {
		hist = a.openHistory(loc)
		if hist != nil {
			defer func() { _ = hist.Close() }()
			opts = append(opts, supervisor.WithHistory(hist))
		}
	}

	sup := supervisor.New(scfg, opts...)
	a.mu.Lock()
	a.sup = sup
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	bgCtx, stopBackground := context.WithCancel(gctx)
	defer func() {
		stopBackground()
		if werr := g.Wait(); werr != nil {
			a.log.Warn("diagnostics stopped with error", slog.Any("error", werr))
		}
	}()
	a.startDiagnostics(bgCtx, g, sup, hist, a.uiURL(port))

	defer a.shutdown(ctx, sup)

	if err := sup.Start(ctx); err != nil {
		return err
	}
	if a.cfg.Metrics.Enabled {
		sampler := metrics.NewResourceSampler(metrics.ResourceConfig{Enabled: true, Interval: a.cfg.Metrics.ResourceInterval})
		if rerr := sampler.RegisterMetrics(a.registry); rerr != nil {
			a.log.Warn("resource metrics registration failed", slog.Any("error", rerr))
		}
		sampler.Start(bgCtx, sup.PID)
		defer sampler.Stop()
	}

	if err := sup.AwaitReady(ctx); err != nil {
		if ctx.Err() != nil && !failure.Is(err, failure.KindCrash) {
			a.log.Info("quit before the backend became ready")
			return nil
		}
		return err
	}

	url := a.uiURL(port)
	if oerr := a.shell.Open(ctx, url); oerr != nil {
		a.log.Error("could not open the backend UI", slog.String("url", url), slog.Any("error", oerr))
	}

	select {
	case <-ctx.Done():
		a.log.Info("quitting")
		return nil
	case <-sup.Failed():
		return sup.Err()
	}
}

func (a *App) bootstrap(ctx context.Context, loc paths.Location) error {
	res, err := bootstrap.New(a.fs, a.log).EnsureRuntime(ctx, loc.BundledRuntimeDir, loc.PortableRuntimeDir,
		bootstrap.Relocation{ConfigFile: a.cfg.Relocation.ConfigFile})
	switch {
	case err != nil:
		metrics.IncBootstrap("failed")
		return err
	case res.Copied:
		metrics.IncBootstrap("copied")
	default:
		metrics.IncBootstrap("present")
	}
	return nil
}

func (a *App) plan(mode paths.Mode, loc paths.Location, port int) (process.Plan, error) {
	baseEnv, err := a.cfg.ChildEnv()
	if err != nil {
		return process.Plan{}, err
	}
	return process.ResolvePlan(mode, loc, port, process.LaunchConfig{
		Python:         a.cfg.Python,
		ServerModule:   a.cfg.App.ServerModule,
		ProjectRoot:    a.cfg.ProjectRoot,
		SettingsEnvKey: a.cfg.SettingsEnvKey,
		SettingsModule: a.cfg.SettingsModule,
		DataDirEnvKey:  a.cfg.DataDirEnvKey,
		LogDirEnvKey:   a.cfg.LogDirEnvKey,
		BaseEnv:        baseEnv,
		GOOS:           a.platform.OS,
	})
}

// openHistory opens the history database; history is best effort, so a
// failure only disables it.
func (a *App) openHistory(loc paths.Location) *sqlite.Sink {
	path := a.cfg.HistoryPath(loc)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		a.log.Warn("history disabled", slog.String("path", path), slog.Any("error", err))
		return nil
	}
	sink, err := sqlite.New(path)
	if err != nil {
		a.log.Warn("history disabled", slog.String("path", path), slog.Any("error", err))
		return nil
	}
	return sink
}

func (a *App) startDiagnostics(ctx context.Context, g *errgroup.Group, sup *supervisor.Supervisor, hist *sqlite.Sink, url string) {
	if a.cfg.StatusAddr == "" {
		return
	}
	ln, err := net.Listen("tcp", a.cfg.StatusAddr)
	if err != nil {
		a.log.Warn("diagnostics server disabled", slog.String("addr", a.cfg.StatusAddr), slog.Any("error", err))
		return
	}
	r := server.NewRouter(sup, url, "")
	if hist != nil {
		r.WithHistory(hist)
	}
	a.log.Info("diagnostics server listening", slog.String("addr", ln.Addr().String()))
	g.Go(func() error { return r.Serve(ctx, ln) })
}

// shutdown stops the backend even when ctx is already cancelled.
func (a *App) shutdown(ctx context.Context, sup *supervisor.Supervisor) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.StopTimeout+2*time.Second)
	defer cancel()
	if err := sup.Shutdown(sctx); err != nil {
		a.log.Error("backend did not stop", slog.Int("pid", sup.PID()), slog.Any("error", err))
	}
}

func (a *App) probeURL(port int) string {
	return a.baseURL(port) + a.cfg.Readiness.Path
}

func (a *App) uiURL(port int) string {
	return a.baseURL(port) + a.cfg.Readiness.UIPath
}

func (a *App) baseURL(port int) string {
	return "http://" + net.JoinHostPort(a.cfg.Host, strconv.Itoa(port))
}

func closeAll(ws ...io.WriteCloser) {
	for _, w := range ws {
		if w != nil {
			_ = w.Close()
		}
	}
}
