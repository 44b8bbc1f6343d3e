// Package supervisor runs exactly one backend process: it starts it, keeps
// its recent output, waits for it to answer, tells an intentional shutdown
// apart from a crash and terminates it on the way out.
//
// Readiness, stop requests and exit are delivered as events on one channel
// consumed by a single dispatcher goroutine, which owns the state machine.
// Output lines are appended to the buffers by the stream copiers as they
// arrive, and history is written by a separate recorder goroutine, so
// neither ever waits on the dispatcher.
package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/deskhost/internal/failure"
	"github.com/loykin/deskhost/internal/history"
	"github.com/loykin/deskhost/internal/metrics"
	"github.com/loykin/deskhost/internal/output"
	"github.com/loykin/deskhost/internal/process"
	"github.com/loykin/deskhost/internal/readiness"
)

// DefaultStopTimeout is how long a terminated backend gets before it is killed.
const DefaultStopTimeout = 5 * time.Second

// ErrExited is returned by AwaitReady when the backend was already stopped.
var ErrExited = errors.New("backend is not running")

// Config describes the supervised backend.
type Config struct {
	Plan   process.Plan
	Prober readiness.Prober
	Poller readiness.Poller
	// LogFile is shown in crash reports as the place to look for details.
	LogFile        string
	StopTimeout    time.Duration
	BufferCapacity int
	// Stdout and Stderr, when set, receive the raw child streams as well.
	Stdout io.Writer
	Stderr io.Writer
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHistory records lifecycle events in sink.
func WithHistory(sink history.Sink) Option {
	return func(s *Supervisor) { s.history = sink }
}

type eventKind int

const (
	evReady eventKind = iota
	evStop
	evExited
)

type event struct {
	kind  eventKind
	reply chan error
}

// Snapshot is a point-in-time view of the supervised backend.
type Snapshot struct {
	State     State
	PID       int
	Port      int
	Mode      string
	StartedAt time.Time
	ReadyAt   time.Time
	ExitCode  *int
	Stdout    []string
	Stderr    []string
}

// Supervisor owns the backend process and both output buffers.
type Supervisor struct {
	cfg     Config
	log     *slog.Logger
	history history.Sink
	rec     *recorder

	events chan event
	failed chan struct{} // closed on crash or launch failure
	exited chan struct{} // closed once the exit was handled, or the launch failed

	mu        sync.RWMutex
	machine   Machine
	proc      *process.Process
	stdout    *output.Buffer
	stderr    *output.Buffer
	err       error
	startedAt time.Time
	readyAt   time.Time
	exitCode  *int
	started   bool
}

// New creates an idle supervisor.
func New(cfg Config, opts ...Option) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = output.DefaultCapacity
	}
	s := &Supervisor{
		cfg:    cfg,
		log:    slog.Default(),
		events: make(chan event, 16),
		failed: make(chan struct{}),
		exited: make(chan struct{}),
		stdout: output.NewBuffer(cfg.BufferCapacity),
		stderr: output.NewBuffer(cfg.BufferCapacity),
	}
	for _, o := range opts {
		o(s)
	}
	s.machine.OnTransition = s.onTransition
	metrics.SetCurrentState(StateIdle.String(), true)
	return s
}

func (s *Supervisor) onTransition(from, to State) {
	metrics.RecordStateTransition(from.String(), to.String())
	metrics.SetCurrentState(from.String(), false)
	metrics.SetCurrentState(to.String(), true)
	s.log.Debug("backend state", slog.String("from", from.String()), slog.String("to", to.String()))
}

// Start spawns the backend and returns without waiting for readiness.
// A spawn failure moves the supervisor to launch-failed and is returned as a
// launch-failed error; the supervisor is then finished.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if err := s.machine.Launch(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.started = true
	s.mu.Unlock()

	if s.history != nil {
		s.rec = newRecorder(s.history, s.log)
	}
	outW := output.NewLineWriter(func(l string) { s.handleLine(output.Stdout, l) })
	errW := output.NewLineWriter(func(l string) { s.handleLine(output.Stderr, l) })

	plan := s.cfg.Plan
	s.log.Info("starting backend",
		slog.String("mode", string(plan.Mode)),
		slog.String("command", plan.String()),
		slog.String("dir", plan.Dir),
		slog.Int("port", plan.Port))

	proc, err := process.Execute(plan, tee(outW, s.cfg.Stdout), tee(errW, s.cfg.Stderr))
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			fe.LogFile = s.cfg.LogFile
		}
		s.mu.Lock()
		_ = s.machine.SpawnFailed()
		s.err = err
		s.mu.Unlock()

		metrics.IncLaunchFailure()
		s.record(history.Event{Type: history.EventLaunchFailed, State: StateLaunchFailed.String(), Detail: err.Error()})
		s.log.Error("backend failed to start", slog.String("executable", plan.Executable), slog.Any("error", err))
		s.closeHistory()
		close(s.failed)
		close(s.exited)
		return err
	}

	s.mu.Lock()
	s.proc = proc
	s.startedAt = time.Now()
	s.mu.Unlock()

	metrics.IncLaunch(string(plan.Mode))
	s.record(history.Event{Type: history.EventLaunch, PID: proc.PID(), State: StateStarting.String(), Detail: plan.String()})
	s.log.Info("backend started", slog.Int("pid", proc.PID()))

	go s.dispatch()
	go func() {
		<-proc.Done()
		outW.Flush()
		errW.Flush()
		s.events <- event{kind: evExited}
	}()
	return nil
}

func tee(lines io.Writer, raw io.Writer) io.Writer {
	if raw == nil {
		return lines
	}
	return rawTee{lines: lines, raw: raw}
}

// rawTee copies child output to a secondary writer whose errors are ignored,
// so a full disk never stalls the child.
type rawTee struct {
	lines io.Writer
	raw   io.Writer
}

func (t rawTee) Write(p []byte) (int, error) {
	n, err := t.lines.Write(p)
	_, _ = t.raw.Write(p)
	return n, err
}

// dispatch is the single consumer of events. It returns after the exit,
// closing exited once the recorded history is flushed.
func (s *Supervisor) dispatch() {
	defer close(s.exited)
	defer s.closeHistory()
	for ev := range s.events {
		switch ev.kind {
		case evReady:
			ev.reply <- s.handleReady()
		case evStop:
			s.handleStop()
			ev.reply <- nil
		case evExited:
			s.handleExit()
			return
		}
	}
}

func (s *Supervisor) handleLine(stream output.Stream, line string) {
	s.mu.Lock()
	if stream == output.Stderr {
		s.stderr.Append(line)
	} else {
		s.stdout.Append(line)
	}
	s.mu.Unlock()
	metrics.IncOutputLine(string(stream))
	s.log.Debug("backend output", slog.String("stream", string(stream)), slog.String("line", line))
}

func (s *Supervisor) handleReady() error {
	s.mu.Lock()
	err := s.machine.Ready()
	if err == nil {
		s.readyAt = time.Now()
	}
	startedAt, readyAt, pid := s.startedAt, s.readyAt, s.proc.PID()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	metrics.ObserveReadiness(readyAt.Sub(startedAt).Seconds())
	s.record(history.Event{Type: history.EventHealthy, PID: pid, State: StateHealthy.String()})
	s.log.Info("backend ready", slog.Int("pid", pid), slog.Duration("after", readyAt.Sub(startedAt)))
	return nil
}

func (s *Supervisor) handleStop() {
	s.mu.Lock()
	changed := s.machine.RequestStop()
	proc := s.proc
	s.mu.Unlock()
	if !changed {
		return
	}
	s.log.Info("stopping backend", slog.Int("pid", proc.PID()), slog.Duration("grace", s.cfg.StopTimeout))
	proc.Terminate(s.cfg.StopTimeout)
}

func (s *Supervisor) handleExit() {
	code := s.proc.ExitCode()
	s.mu.Lock()
	crashed, err := s.machine.Exited()
	if code >= 0 {
		c := code
		s.exitCode = &c
	}
	var crash *failure.Error
	if crashed {
		crash = failure.Crash(code, s.stdout.Tail(failure.TailLines), s.stderr.Tail(failure.TailLines))
		crash.LogFile = s.cfg.LogFile
		s.err = crash
	}
	pid := s.proc.PID()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("unexpected backend exit", slog.Any("error", err))
	}
	if !crashed {
		s.record(history.Event{Type: history.EventStop, PID: pid, State: StateStopping.String(), ExitCode: s.exitCode})
		s.log.Info("backend stopped", slog.Int("pid", pid), slog.Int("exit_code", code))
		return
	}
	metrics.IncCrash()
	s.record(history.Event{Type: history.EventCrash, PID: pid, State: StateCrashed.String(), ExitCode: s.exitCode, Detail: crash.Message})
	s.log.Error("backend exited unexpectedly", slog.Int("pid", pid), slog.Int("exit_code", code))
	close(s.failed)
}

// AwaitReady polls the backend until it answers. It runs alongside the
// dispatcher: when the backend dies while polling, the crash is returned
// instead of a timeout. Cancelling ctx abandons the wait with ctx.Err().
func (s *Supervisor) AwaitReady(ctx context.Context) error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return ErrExited
	}
	select {
	case <-s.failed:
		return s.Err()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	poller := s.cfg.Poller
	if poller.Logger == nil {
		poller.Logger = s.log
	}
	observe := poller.OnAttempt
	poller.OnAttempt = func(a readiness.Attempt) {
		metrics.IncReadinessAttempt(a.Outcome.String())
		if observe != nil {
			observe(a)
		}
	}

	result := make(chan error, 1)
	go func() { result <- poller.Await(ctx, s.cfg.Prober) }()

	select {
	case <-s.failed:
		cancel()
		<-result
		return s.Err()
	case err := <-result:
		if err == nil {
			return s.markReady()
		}
		if s.exitedNow() {
			if ferr := s.Err(); ferr != nil {
				return ferr
			}
			return ErrExited
		}
		if failure.Is(err, failure.KindReadinessTimeout) {
			s.mu.RLock()
			pid := s.proc.PID()
			s.mu.RUnlock()
			s.record(history.Event{Type: history.EventTimeout, PID: pid, State: s.State().String(), Detail: err.Error()})
			var fe *failure.Error
			if errors.As(err, &fe) {
				fe.LogFile = s.cfg.LogFile
			}
		}
		return err
	}
}

// exitedNow reports whether the backend has exited, waiting for the
// dispatcher to classify an exit that already happened.
func (s *Supervisor) exitedNow() bool {
	s.mu.RLock()
	proc := s.proc
	s.mu.RUnlock()
	if proc == nil {
		return true
	}
	select {
	case <-proc.Done():
		<-s.exited
		return true
	default:
		return false
	}
}

func (s *Supervisor) markReady() error {
	reply := make(chan error, 1)
	select {
	case s.events <- event{kind: evReady, reply: reply}:
	case <-s.exited:
		if err := s.Err(); err != nil {
			return err
		}
		return ErrExited
	}
	select {
	case err := <-reply:
		if err == nil {
			return nil
		}
		if ferr := s.Err(); ferr != nil {
			return ferr
		}
		return err
	case <-s.exited:
		if err := s.Err(); err != nil {
			return err
		}
		return ErrExited
	}
}

// Shutdown moves the supervisor to stopping, terminates the backend and
// waits for it to exit or for ctx to end. Calling it again, or after the
// backend already exited, is a no-op.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.machine.RequestStop()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	reply := make(chan error, 1)
	select {
	case s.events <- event{kind: evStop, reply: reply}:
		select {
		case <-reply:
		case <-s.exited:
		}
	case <-s.exited:
		return nil
	}

	select {
	case <-s.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failed is closed when the backend crashed or could not be launched.
func (s *Supervisor) Failed() <-chan struct{} { return s.failed }

// Exited is closed once the backend is gone and its exit was classified.
func (s *Supervisor) Exited() <-chan struct{} { return s.exited }

// Err returns the fatal error, if any.
func (s *Supervisor) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.State()
}

// Output returns the captured lines of one stream, oldest first.
func (s *Supervisor) Output(stream output.Stream) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if stream == output.Stderr {
		return s.stderr.Lines()
	}
	return s.stdout.Lines()
}

// PID of the backend, or 0 when none is running.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.proc == nil {
		return 0
	}
	select {
	case <-s.proc.Done():
		return 0
	default:
		return s.proc.PID()
	}
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		State:     s.machine.State(),
		Port:      s.cfg.Plan.Port,
		Mode:      string(s.cfg.Plan.Mode),
		StartedAt: s.startedAt,
		ReadyAt:   s.readyAt,
		ExitCode:  s.exitCode,
		Stdout:    s.stdout.Lines(),
		Stderr:    s.stderr.Lines(),
	}
	if s.proc != nil {
		snap.PID = s.proc.PID()
	}
	return snap
}

func (s *Supervisor) record(e history.Event) {
	if s.rec != nil {
		s.rec.send(e)
	}
}

func (s *Supervisor) closeHistory() {
	if s.rec != nil {
		s.rec.close()
	}
}
