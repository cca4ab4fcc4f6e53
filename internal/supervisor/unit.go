package supervisor

import (
	"github.com/taskmaster/taskmaster/internal/config"
	"github.com/taskmaster/taskmaster/internal/task"
	"github.com/taskmaster/taskmaster/internal/taskgroup"
)

// Unit is the sum type of §4: a program is addressed and operated on
// uniformly whether it is one Task or a TaskGroup of replicas. Groups'
// operations fan out and concatenate the success/error records of their
// replicas; a single Task's operations are themselves already in that
// shape.
type Unit interface {
	Name() string
	AutoStart() bool
	Start() task.Result
	Stop() task.Result
	Shutdown() task.Result
	Supervise()
	StatusLines() []string

	// Decl is the operative declaration driving this unit's behavior.
	Decl() config.Program
	// CompareYAML is the declaration snapshot reread() diffs new config
	// against; it tracks Decl's RawYAML until a change is staged, at
	// which point reread updates it so a later unchanged reread is
	// idempotent even though the running unit keeps its old Decl until
	// update() swaps it in (§4.4).
	CompareYAML() string
	SetCompareYAML(string)
}

// singleUnit adapts a lone *task.Task (numprocs == 1) to Unit.
type singleUnit struct {
	t           *task.Task
	decl        config.Program
	compareYAML string
}

func newSingleUnit(t *task.Task, decl config.Program) *singleUnit {
	return &singleUnit{t: t, decl: decl, compareYAML: decl.RawYAML}
}

func (u *singleUnit) Name() string           { return u.t.Name() }
func (u *singleUnit) AutoStart() bool        { return u.decl.AutoStart }
func (u *singleUnit) Start() task.Result     { return u.t.Start() }
func (u *singleUnit) Stop() task.Result      { return u.t.Stop() }
func (u *singleUnit) Shutdown() task.Result  { return u.t.Shutdown() }
func (u *singleUnit) Supervise()             { u.t.Supervise() }
func (u *singleUnit) StatusLines() []string  { return []string{u.t.Status()} }
func (u *singleUnit) Decl() config.Program   { return u.decl }
func (u *singleUnit) CompareYAML() string    { return u.compareYAML }
func (u *singleUnit) SetCompareYAML(s string) { u.compareYAML = s }

// groupUnit adapts a *taskgroup.Group (numprocs > 1) to Unit.
type groupUnit struct {
	g           *taskgroup.Group
	decl        config.Program
	compareYAML string
}

func newGroupUnit(g *taskgroup.Group, decl config.Program) *groupUnit {
	return &groupUnit{g: g, decl: decl, compareYAML: decl.RawYAML}
}

func (u *groupUnit) Name() string           { return u.g.Name() }
func (u *groupUnit) AutoStart() bool        { return u.g.AutoStart() }
func (u *groupUnit) Start() task.Result     { return u.g.Start() }
func (u *groupUnit) Stop() task.Result      { return u.g.Stop() }
func (u *groupUnit) Shutdown() task.Result  { return u.g.Shutdown() }
func (u *groupUnit) Supervise()             { u.g.Supervise() }
func (u *groupUnit) StatusLines() []string  { return u.g.Status() }
func (u *groupUnit) Decl() config.Program   { return u.decl }
func (u *groupUnit) CompareYAML() string    { return u.compareYAML }
func (u *groupUnit) SetCompareYAML(s string) { u.compareYAML = s }

// getSubtask resolves "name:i" addressing against a groupUnit, wrapping
// the replica back up as a Unit so callers don't need a second type.
func (u *groupUnit) getSubtask(idx string) Unit {
	t := u.g.GetSubtask(idx)
	if t == nil {
		return nil
	}
	return &replicaUnit{t: t, parent: u}
}

// replicaUnit addresses a single replica of a group by its "name:i" form,
// e.g. for `stop w:1` (§4.6) — it must not be confused with the whole
// group, so its lifecycle operations and status act on the underlying
// replica Task only; AutoStart, Decl and CompareYAML are the parent
// group's.
type replicaUnit struct {
	t      *task.Task
	parent *groupUnit
}

func (u *replicaUnit) Name() string           { return u.t.Name() }
func (u *replicaUnit) AutoStart() bool        { return u.parent.decl.AutoStart }
func (u *replicaUnit) Start() task.Result     { return u.t.Start() }
func (u *replicaUnit) Stop() task.Result      { return u.t.Stop() }
func (u *replicaUnit) Shutdown() task.Result  { return u.t.Shutdown() }
func (u *replicaUnit) Supervise()             { u.t.Supervise() }
func (u *replicaUnit) StatusLines() []string  { return []string{u.t.Status()} }
func (u *replicaUnit) Decl() config.Program   { return u.parent.decl }
func (u *replicaUnit) CompareYAML() string    { return u.parent.compareYAML }
func (u *replicaUnit) SetCompareYAML(s string) { u.parent.SetCompareYAML(s) }
