// Package taskgroup implements the replication unit of §4.2: a program
// declaring numprocs > 1 is fanned out into N independent Tasks sharing
// one logical name, addressed individually as "name:i".
package taskgroup

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/taskmaster/taskmaster/internal/config"
	"github.com/taskmaster/taskmaster/internal/quiet"
	"github.com/taskmaster/taskmaster/internal/task"
)

// Group wraps numprocs independent Tasks under one program name.
type Group struct {
	name     string
	autostart bool
	replicas []*task.Task
}

// New builds a Group of decl.NumProcs replicas, named "name:0".."name:N-1".
func New(name string, decl config.Program, clock task.Clock, q *quiet.Flag, log *zap.Logger) *Group {
	g := &Group{name: name, autostart: decl.AutoStart}
	for i := 0; i < decl.NumProcs; i++ {
		replicaName := fmt.Sprintf("%s:%d", name, i)
		g.replicas = append(g.replicas, task.New(replicaName, decl, clock, q, log))
	}
	return g
}

func (g *Group) Name() string      { return g.name }
func (g *Group) AutoStart() bool   { return g.autostart }
func (g *Group) NumProcs() int     { return len(g.replicas) }
func (g *Group) Replicas() []*task.Task { return g.replicas }

// GetSubtask resolves "name:i" addressing (§4.6) to one replica, or nil if
// idx is out of range or not a valid integer.
func (g *Group) GetSubtask(idx string) *task.Task {
	for _, t := range g.replicas {
		if t.Name() == g.name+":"+idx {
			return t
		}
	}
	return nil
}

// Start fans Start out across every replica, concatenating the results.
func (g *Group) Start() task.Result {
	var r task.Result
	for _, t := range g.replicas {
		r = r.Merge(t.Start())
	}
	return r
}

// Stop fans Stop out across every replica.
func (g *Group) Stop() task.Result {
	var r task.Result
	for _, t := range g.replicas {
		r = r.Merge(t.Stop())
	}
	return r
}

// Shutdown fans Shutdown out across every replica.
func (g *Group) Shutdown() task.Result {
	var r task.Result
	for _, t := range g.replicas {
		r = r.Merge(t.Shutdown())
	}
	return r
}

// Supervise advances every replica by one tick.
func (g *Group) Supervise() {
	for _, t := range g.replicas {
		t.Supervise()
	}
}

// Status returns one status line per replica, in replica-index order
// (P8: for numprocs=N, status yields exactly N lines).
func (g *Group) Status() []string {
	lines := make([]string, 0, len(g.replicas))
	for _, t := range g.replicas {
		lines = append(lines, t.Status())
	}
	return lines
}
