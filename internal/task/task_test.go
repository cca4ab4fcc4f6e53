package task

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskmaster/taskmaster/internal/config"
	"github.com/taskmaster/taskmaster/internal/quiet"
)

// fakeClock lets tests advance time deterministically instead of sleeping,
// the seam SPEC_FULL.md's test-tooling section calls for.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestDecl(t *testing.T, cmd []string) config.Program {
	t.Helper()
	return config.Program{
		Cmd:          cmd,
		NumProcs:     1,
		Umask:        "022",
		WorkingDir:   t.TempDir(),
		AutoStart:    false,
		AutoRestart:  config.AutorestartNever,
		ExitCodes:    []int{0},
		StartRetries: 1,
		StartTime:    1,
		StopSignal:   config.SigTERM,
		StopTime:     2,
		Env:          map[string]string{"PATH": os.Getenv("PATH")},
	}
}

func newTestTask(t *testing.T, decl config.Program) (*Task, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(0, 0)}
	tsk := New("web", decl, clock, &quiet.Flag{}, zap.NewNop())
	tsk.out, _ = os.Open(os.DevNull)
	return tsk, clock
}

func TestStartTransitionsToRunningAfterStartTime(t *testing.T) {
	decl := newTestDecl(t, []string{"/bin/sh", "-c", "sleep 5"})
	tsk, clock := newTestTask(t, decl)

	result := tsk.Start()
	require.Len(t, result.Success, 1)
	assert.Equal(t, Starting, tsk.State())

	clock.advance(2 * time.Second)
	tsk.Supervise()
	assert.Equal(t, Running, tsk.State())

	tsk.Stop()
	tsk.Supervise()
}

func TestStartRejectsDoubleStart(t *testing.T) {
	decl := newTestDecl(t, []string{"/bin/sh", "-c", "sleep 5"})
	tsk, _ := newTestTask(t, decl)

	tsk.Start()
	result := tsk.Start()
	assert.Len(t, result.Errors, 1)

	tsk.Stop()
	tsk.Supervise()
}

func TestFastExitWithUnacceptableCodeGoesFatalWhenRetriesExhausted(t *testing.T) {
	decl := newTestDecl(t, []string{"/bin/sh", "-c", "exit 1"})
	decl.ExitCodes = []int{0}
	decl.StartRetries = 0
	tsk, clock := newTestTask(t, decl)

	tsk.Start()
	// Let the shell actually exit before the first poll.
	time.Sleep(50 * time.Millisecond)
	tsk.Supervise()
	assert.Equal(t, Fatal, tsk.State())
	_ = clock
}

func TestUnexpectedExitWithAutorestartAlwaysGoesBackoff(t *testing.T) {
	decl := newTestDecl(t, []string{"/bin/sh", "-c", "sleep 5"})
	decl.AutoRestart = config.AutorestartAlways
	tsk, clock := newTestTask(t, decl)

	tsk.Start()
	clock.advance(2 * time.Second)
	tsk.Supervise()
	require.Equal(t, Running, tsk.State())

	tsk.Stop()
	tsk.Supervise()
	// stopWith already transitions a promptly-exited child straight to
	// Stopped; simulate the "killed out from under us" unexpected-exit
	// path directly against superviseRunning instead.
	tsk.state = Running
	tsk.pid = 999999 // guaranteed not to exist; poll() treats as exited
	tsk.superviseRunning()
	assert.Equal(t, Backoff, tsk.State())
}

func TestStatusFormatsRunningLine(t *testing.T) {
	decl := newTestDecl(t, []string{"/bin/sh", "-c", "sleep 5"})
	tsk, clock := newTestTask(t, decl)
	tsk.Start()
	clock.advance(1 * time.Second)
	tsk.Supervise()

	line := tsk.Status()
	assert.Contains(t, line, "web")
	assert.Contains(t, line, "RUNNING")
	assert.Contains(t, line, "uptime")

	tsk.Stop()
	tsk.Supervise()
}

func TestStopEscalatesToSigkillAfterStopTime(t *testing.T) {
	decl := newTestDecl(t, []string{"/bin/sh", "-c", "trap '' TERM; sleep 30"})
	decl.StopTime = 1
	tsk, clock := newTestTask(t, decl)
	tsk.Start()
	clock.advance(2 * time.Second)
	tsk.Supervise()
	require.Equal(t, Running, tsk.State())

	tsk.Stop()
	require.Equal(t, Stopping, tsk.State())

	clock.advance(2 * time.Second)
	tsk.Supervise()
	assert.Equal(t, Stopped, tsk.State())
}

func TestOutputFileIsWritable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	decl := newTestDecl(t, []string{"/bin/echo", "hi"})
	decl.Stdout = path
	tsk, clock := newTestTask(t, decl)

	tsk.Start()
	clock.advance(1 * time.Second)
	tsk.Supervise()

	_, err := os.Stat(path)
	assert.NoError(t, err)
}
