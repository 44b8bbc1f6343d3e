// Package server exposes a read-only diagnostics API for the supervised
// backend: its lifecycle state, captured output, history and metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/deskhost/internal/history"
	"github.com/loykin/deskhost/internal/metrics"
	"github.com/loykin/deskhost/internal/output"
	"github.com/loykin/deskhost/internal/supervisor"
	"golang.org/x/sync/errgroup"
)

// Source is the supervised backend as seen by the API.
type Source interface {
	Snapshot() supervisor.Snapshot
}

// Router provides embeddable HTTP handlers.
// Endpoints:
//
//	GET {basePath}/status                 lifecycle state of the backend
//	GET {basePath}/output/:stream?lines=N captured stdout or stderr lines
//	GET {basePath}/history?limit=N        recent lifecycle events (when a reader is set)
//	GET {basePath}/metrics                Prometheus metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      Source
	url      string
	history  history.Reader
	basePath string
}

// NewRouter constructs a Router over src. url is the backend UI address
// reported by /status.
func NewRouter(src Source, url, basePath string) *Router {
	return &Router{src: src, url: url, basePath: sanitizeBase(basePath)}
}

// WithHistory enables the /history endpoint.
func (r *Router) WithHistory(h history.Reader) *Router {
	r.history = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/output/:stream", r.handleOutput)
	group.GET("/history", r.handleHistory)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// Serve runs the API on ln until ctx is done, then shuts down gracefully.
func (r *Router) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State       string     `json:"state"`
	PID         int        `json:"pid,omitempty"`
	Port        int        `json:"port"`
	URL         string     `json:"url"`
	Mode        string     `json:"mode"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ReadyAt     *time.Time `json:"ready_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	StdoutLines int        `json:"stdout_lines"`
	StderrLines int        `json:"stderr_lines"`
}

// OutputResponse is the body of GET /output/:stream.
type OutputResponse struct {
	Stream string   `json:"stream"`
	Lines  []string `json:"lines"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r *Router) handleStatus(c *gin.Context) {
	snap := r.src.Snapshot()
	writeJSON(c, http.StatusOK, StatusResponse{
		State:       snap.State.String(),
		PID:         snap.PID,
		Port:        snap.Port,
		URL:         r.url,
		Mode:        snap.Mode,
		StartedAt:   timePtr(snap.StartedAt),
		ReadyAt:     timePtr(snap.ReadyAt),
		ExitCode:    snap.ExitCode,
		StdoutLines: len(snap.Stdout),
		StderrLines: len(snap.Stderr),
	})
}

func (r *Router) handleOutput(c *gin.Context) {
	stream, ok := output.ParseStream(c.Param("stream"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown stream " + c.Param("stream") + ": want stdout or stderr"})
		return
	}
	snap := r.src.Snapshot()
	lines := snap.Stdout
	if stream == output.Stderr {
		lines = snap.Stderr
	}
	n, ok := intQuery(c, "lines", len(lines), len(lines))
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "lines must be a positive integer"})
		return
	}
	if n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(c, http.StatusOK, OutputResponse{Stream: string(stream), Lines: lines})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.history == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history is disabled"})
		return
	}
	n, ok := intQuery(c, "limit", 20, 500)
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
		return
	}
	events, err := r.history.Recent(c.Request.Context(), n)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}
