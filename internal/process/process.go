package process

import (
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/deskhost/internal/failure"
)

// DefaultWaitDelay bounds how long Wait keeps draining output after the
// child exited, in case a grandchild inherited its stdout or stderr.
const DefaultWaitDelay = 2 * time.Second

// Process is a started child. Exactly one goroutine owned by the Process
// waits on it; everyone else observes Done.
type Process struct {
	plan Plan
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	status   Status
	termOnce sync.Once
}

// Execute starts p with its output sent to stdout and stderr and returns
// without waiting for anything but the spawn itself.
func Execute(p Plan, stdout, stderr io.Writer) (*Process, error) {
	cmd := p.Command()
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = DefaultWaitDelay
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, failure.LaunchFailed(p.Executable, err)
	}
	proc := &Process{
		plan: p,
		cmd:  cmd,
		done: make(chan struct{}),
		status: Status{
			PID:       cmd.Process.Pid,
			Running:   true,
			StartedAt: time.Now(),
			ExitCode:  -1,
		},
	}
	go proc.wait()
	return proc, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		// the child itself exited; only the output drain was cut short
		err = nil
	}
	p.mu.Lock()
	p.status.Running = false
	p.status.StoppedAt = time.Now()
	p.status.ExitCode = code
	p.status.ExitErr = err
	p.mu.Unlock()
	close(p.done)
}

// Plan returns the plan p was started from.
func (p *Process) Plan() Plan { return p.plan }

// PID of the child.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Done is closed once the child exited and its output was drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode is the child's exit code, or -1 while running or when it was
// terminated by a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.ExitCode
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Terminate asks the child's process group to exit and kills it if it is
// still alive after grace. Only the first call signals; terminating an
// exited process is a no-op. It does not wait; use Done for that.
func (p *Process) Terminate(grace time.Duration) {
	p.termOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		pid := p.PID()
		_ = terminateGroup(pid)
		go func() {
			t := time.NewTimer(grace)
			defer t.Stop()
			select {
			case <-p.done:
			case <-t.C:
				_ = killGroup(pid)
			}
		}()
	})
}
