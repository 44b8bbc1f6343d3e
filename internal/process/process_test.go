//go:build !windows

package process

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loykin/deskhost/internal/failure"
	"github.com/loykin/deskhost/internal/paths"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the exec copy goroutine.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func shPlan(script string) Plan {
	return Plan{
		Mode:       paths.ModeDevelopment,
		Executable: "/bin/sh",
		Args:       []string{"-c", script},
		Env:        os.Environ(),
	}
}

func waitDone(t *testing.T, p *Process, d time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(d):
		t.Fatalf("process %d did not exit within %s", p.PID(), d)
	}
}

func TestExecute_CapturesOutputAndExitCode(t *testing.T) {
	var out, errOut syncBuffer
	p, err := Execute(shPlan("echo hello; echo oops >&2; exit 3"), &out, &errOut)
	require.NoError(t, err)
	checkSysProcAttrs(t, p.cmd)

	waitDone(t, p, 5*time.Second)
	assert.Equal(t, 3, p.ExitCode())
	assert.Equal(t, "hello\n", out.String())
	assert.Equal(t, "oops\n", errOut.String())

	st := p.Snapshot()
	assert.False(t, st.Running)
	assert.False(t, st.StoppedAt.IsZero())
}

func TestExecute_PassesEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	plan := shPlan(`printf "%s|%s" "$APP_DATA_DIR" "$(pwd -P)"`)
	plan.Env = append(plan.Env, "APP_DATA_DIR=/data/app")
	plan.Dir = dir

	var out syncBuffer
	p, err := Execute(plan, &out, &out)
	require.NoError(t, err)
	waitDone(t, p, 5*time.Second)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, []string{"/data/app|" + dir, "/data/app|" + resolved}, out.String())
}

func TestExecute_MissingExecutable(t *testing.T) {
	plan := Plan{Executable: "/nonexistent/python3", Args: []string{"-m", "x"}}
	p, err := Execute(plan, &syncBuffer{}, &syncBuffer{})
	require.Error(t, err)
	assert.Nil(t, p)
	assert.True(t, failure.Is(err, failure.KindLaunchFailed))
	assert.Contains(t, err.Error(), "/nonexistent/python3")
}

func TestTerminate_Graceful(t *testing.T) {
	p, err := Execute(shPlan("exec sleep 30"), &syncBuffer{}, &syncBuffer{})
	require.NoError(t, err)
	require.True(t, processExists(p.PID()))

	p.Terminate(2 * time.Second)
	waitDone(t, p, 5*time.Second)
	assert.Equal(t, -1, p.ExitCode(), "signalled child has no exit code")

	// idempotent after exit
	p.Terminate(time.Second)
	p.Terminate(time.Second)
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	p, err := Execute(shPlan(`trap "" TERM; while :; do sleep 0.05; done`), &syncBuffer{}, &syncBuffer{})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	p.Terminate(200 * time.Millisecond)
	waitDone(t, p, 5*time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestTerminate_AfterNaturalExitIsNoop(t *testing.T) {
	p, err := Execute(shPlan("exit 0"), &syncBuffer{}, &syncBuffer{})
	require.NoError(t, err)
	waitDone(t, p, 5*time.Second)

	p.Terminate(time.Millisecond)
	assert.Equal(t, 0, p.ExitCode())
}
