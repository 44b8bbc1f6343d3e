package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/deskhost/internal/history"
)

const (
	historyTimeout = 2 * time.Second
	historyQueue   = 64
)

// recorder writes lifecycle events to a history sink, in order, on its own
// goroutine. Events sent after close or while the queue is full are dropped.
type recorder struct {
	sink history.Sink
	log  *slog.Logger

	mu     sync.Mutex
	queue  chan history.Event
	closed bool
	done   chan struct{}
}

func newRecorder(sink history.Sink, log *slog.Logger) *recorder {
	r := &recorder{
		sink:  sink,
		log:   log,
		queue: make(chan history.Event, historyQueue),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		if err := r.sink.Send(ctx, e); err != nil {
			r.log.Warn("history record failed", slog.String("type", string(e.Type)), slog.Any("error", err))
		}
		cancel()
	}
}

func (r *recorder) send(e history.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.log.Warn("history queue full, event dropped", slog.String("type", string(e.Type)))
	}
}

// close stops accepting events and waits until the queued ones are written.
func (r *recorder) close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}
