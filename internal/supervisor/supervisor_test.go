package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "taskmaster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func newTestSupervisor(t *testing.T, body string) *Supervisor {
	t.Helper()
	sup := New(&fakeClock{}, zap.NewNop())
	sup.out, _ = os.Open(os.DevNull)
	require.NoError(t, sup.LoadConfig(writeConfig(t, body)))
	return sup
}

func TestLoadConfigBuildsSingleAndGroupUnits(t *testing.T) {
	sup := newTestSupervisor(t, `
programs:
  web:
    cmd: "/bin/sh -c 'sleep 5'"
  worker:
    cmd: "/bin/sh -c 'sleep 5'"
    numprocs: 3
`)

	webUnit, ok := sup.resolve("web")
	require.True(t, ok)
	assert.Equal(t, "web", webUnit.Name())
	_, isSingle := webUnit.(*singleUnit)
	assert.True(t, isSingle)

	workerUnit, ok := sup.resolve("worker")
	require.True(t, ok)
	_, isGroup := workerUnit.(*groupUnit)
	assert.True(t, isGroup)

	replica, ok := sup.resolve("worker:1")
	require.True(t, ok)
	assert.Equal(t, "worker:1", replica.Name())
}

func TestResolveUnknownNameFails(t *testing.T) {
	sup := newTestSupervisor(t, `
programs:
  web:
    cmd: "/bin/sh -c 'sleep 5'"
`)
	_, ok := sup.resolve("missing")
	assert.False(t, ok)
}

func TestRereadDetectsAddedChangedAndRemoved(t *testing.T) {
	path := writeConfig(t, `
programs:
  web:
    cmd: "/bin/sh -c 'sleep 5'"
  api:
    cmd: "/bin/sh -c 'sleep 5'"
`)
	sup := New(&fakeClock{}, zap.NewNop())
	sup.out, _ = os.Open(os.DevNull)
	require.NoError(t, sup.LoadConfig(path))

	require.NoError(t, os.WriteFile(path, []byte(`
programs:
  web:
    cmd: "/bin/sh -c 'sleep 9'"
  queue:
    cmd: "/bin/sh -c 'sleep 5'"
`), 0644))

	added, changed, removed, err := sup.Reread()
	require.NoError(t, err)
	assert.Equal(t, []string{"queue"}, added)
	assert.Equal(t, []string{"web"}, changed)
	assert.Equal(t, []string{"api"}, removed)
}

func TestRereadTwiceWithoutUpdateIsIdempotent(t *testing.T) {
	path := writeConfig(t, `
programs:
  web:
    cmd: "/bin/sh -c 'sleep 5'"
`)
	sup := New(&fakeClock{}, zap.NewNop())
	sup.out, _ = os.Open(os.DevNull)
	require.NoError(t, sup.LoadConfig(path))

	added1, changed1, removed1, err := sup.Reread()
	require.NoError(t, err)
	assert.Empty(t, added1)
	assert.Empty(t, changed1)
	assert.Empty(t, removed1)

	added2, changed2, removed2, err := sup.Reread()
	require.NoError(t, err)
	assert.Equal(t, added1, added2)
	assert.Equal(t, changed1, changed2)
	assert.Equal(t, removed1, removed2)
}

func TestUpdateWithoutRereadIsNoop(t *testing.T) {
	sup := newTestSupervisor(t, `
programs:
  web:
    cmd: "/bin/sh -c 'sleep 5'"
`)
	before := len(sup.programs)
	sup.Update()
	assert.Equal(t, before, len(sup.programs))
}

func TestUpdateAppliesAddedAndRemoved(t *testing.T) {
	path := writeConfig(t, `
programs:
  web:
    cmd: "/bin/sh -c 'sleep 5'"
`)
	sup := New(&fakeClock{}, zap.NewNop())
	sup.out, _ = os.Open(os.DevNull)
	require.NoError(t, sup.LoadConfig(path))

	require.NoError(t, os.WriteFile(path, []byte(`
programs:
  queue:
    cmd: "/bin/sh -c 'sleep 5'"
    autostart: false
`), 0644))

	// No monitor loop runs here, so an autostarted addition would never
	// leave STARTING and Update's blocking start would not return.
	_, _, _, err := sup.Reread()
	require.NoError(t, err)
	sup.Update()

	_, ok := sup.resolve("web")
	assert.False(t, ok)
	_, ok = sup.resolve("queue")
	assert.True(t, ok)
}
