// Package readiness waits for the backend's HTTP endpoint to answer.
package readiness

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/deskhost/internal/failure"
)

// Defaults match the desktop shell's startup window: 20 probes, 500ms apart.
const (
	DefaultMaxAttempts = 20
	DefaultInterval    = 500 * time.Millisecond
)

// Poller probes until success or until MaxAttempts probes have failed.
type Poller struct {
	MaxAttempts int
	Interval    time.Duration
	Logger      *slog.Logger
	// OnAttempt observes every probe, e.g. for metrics.
	OnAttempt func(Attempt)
}

// Await returns nil on the first successful probe. Failed probes are
// retried silently after Interval; once MaxAttempts probes failed it returns
// a readiness-timeout failure. Cancelling ctx stops polling with ctx.Err().
func (p Poller) Await(ctx context.Context, pr Prober) error {
	if pr == nil {
		return ErrNoProber
	}
	limit := p.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}

	var last Attempt
	for i := 1; i <= limit; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = pr.Probe(ctx)
		last.Index = i
		if p.OnAttempt != nil {
			p.OnAttempt(last)
		}
		if last.Outcome == Success {
			log.Debug("backend ready", slog.String("url", last.URL), slog.Int("attempt", i), slog.Int("status", last.Status))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Debug("waiting for backend",
			slog.Int("attempt", i),
			slog.Int("max", limit),
			slog.String("outcome", last.Outcome.String()),
			slog.Any("error", last.Err))
		if i == limit {
			break
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return failure.ReadinessTimeout(last.URL, limit)
}
