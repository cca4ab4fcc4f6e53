package taskgroup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskmaster/taskmaster/internal/config"
	"github.com/taskmaster/taskmaster/internal/quiet"
	"github.com/taskmaster/taskmaster/internal/task"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestDecl(t *testing.T, numProcs int) config.Program {
	t.Helper()
	return config.Program{
		Cmd:          []string{"/bin/sh", "-c", "sleep 5"},
		NumProcs:     numProcs,
		Umask:        "022",
		WorkingDir:   t.TempDir(),
		AutoStart:    true,
		AutoRestart:  config.AutorestartNever,
		ExitCodes:    []int{0},
		StartRetries: 1,
		StartTime:    1,
		StopSignal:   config.SigTERM,
		StopTime:     2,
	}
}

func TestNewBuildsNamedReplicas(t *testing.T) {
	g := New("worker", newTestDecl(t, 3), &fakeClock{}, &quiet.Flag{}, zap.NewNop())
	require.Equal(t, 3, g.NumProcs())

	names := make([]string, 0, 3)
	for _, r := range g.Replicas() {
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{"worker:0", "worker:1", "worker:2"}, names)
}

func TestGetSubtaskResolvesByIndex(t *testing.T) {
	g := New("worker", newTestDecl(t, 3), &fakeClock{}, &quiet.Flag{}, zap.NewNop())
	sub := g.GetSubtask("1")
	require.NotNil(t, sub)
	assert.Equal(t, "worker:1", sub.Name())

	assert.Nil(t, g.GetSubtask("99"))
}

func TestStatusYieldsOneLinePerReplica(t *testing.T) {
	g := New("worker", newTestDecl(t, 3), &fakeClock{}, &quiet.Flag{}, zap.NewNop())
	lines := g.Status()
	assert.Len(t, lines, 3)
}

func TestStartFansOutAcrossReplicas(t *testing.T) {
	g := New("worker", newTestDecl(t, 2), &fakeClock{}, &quiet.Flag{}, zap.NewNop())
	result := g.Start()
	require.Len(t, result.Success, 2)

	for _, r := range g.Replicas() {
		assert.Equal(t, task.Starting, r.State())
	}

	g.Shutdown()
	g.Supervise()
}
