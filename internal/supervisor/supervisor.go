// Package supervisor owns the program table, the reload staging area, and
// the single mutex guarding both (§4.3). It is the only place operator
// commands and the monitor tick meet.
package supervisor

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskmaster/taskmaster/internal/config"
	"github.com/taskmaster/taskmaster/internal/quiet"
	"github.com/taskmaster/taskmaster/internal/task"
	"github.com/taskmaster/taskmaster/internal/taskgroup"
)

// Tick is the monitor loop cadence (§5).
const Tick = 500 * time.Millisecond

// Supervisor owns the program table and serializes every operator command
// and monitor tick behind one mutex (I4).
type Supervisor struct {
	mu       sync.Mutex
	programs map[string]Unit
	order    []string // names sorted at load, later additions appended; for deterministic "status all"

	configPath string
	quiet      *quiet.Flag
	clock      task.Clock
	log        *zap.Logger
	out        *os.File

	stagingReady   bool
	stagingNew     map[string]Unit
	stagingToStart map[string]Unit
	stagingToStop  []string
}

// New builds an empty Supervisor. Call LoadConfig before Supervise/Start.
func New(clock task.Clock, log *zap.Logger) *Supervisor {
	return &Supervisor{
		programs: make(map[string]Unit),
		quiet:    &quiet.Flag{},
		clock:    clock,
		log:      log,
		out:      os.Stdout,
	}
}

func (s *Supervisor) announce(format string, args ...any) {
	if s.quiet.Enabled() {
		return
	}
	fmt.Fprintf(s.out, format+"\n", args...)
}

func (s *Supervisor) buildUnit(name string, decl config.Program) Unit {
	if decl.NumProcs > 1 {
		g := taskgroup.New(name, decl, s.clock, s.quiet, s.log)
		return newGroupUnit(g, decl)
	}
	t := task.New(name, decl, s.clock, s.quiet, s.log)
	return newSingleUnit(t, decl)
}

// LoadConfig parses and validates path (boot-time only, per §4.3): any
// error here is fatal to the process, left to the caller (main) to act on
// by exiting with status 1.
func (s *Supervisor) LoadConfig(path string) error {
	file, err := config.Load(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPath = path
	s.programs = make(map[string]Unit, len(file.Order))
	s.order = append([]string(nil), file.Order...)
	for _, name := range file.Order {
		s.programs[name] = s.buildUnit(name, file.Programs[name])
	}
	return nil
}

// resolve implements §4.6's name resolution over the current program
// table. Callers must hold s.mu.
func (s *Supervisor) resolve(target string) (Unit, bool) {
	if idx := strings.IndexByte(target, ':'); idx >= 0 {
		groupName, replicaIdx := target[:idx], target[idx+1:]
		u, ok := s.programs[groupName]
		if !ok {
			return nil, false
		}
		gu, ok := u.(*groupUnit)
		if !ok {
			return nil, false
		}
		sub := gu.getSubtask(replicaIdx)
		if sub == nil {
			return nil, false
		}
		return sub, true
	}
	u, ok := s.programs[target]
	return u, ok
}

// resolveTargets resolves each name in targets (or every program, if all
// is true), printing "{target} : ERROR (no such process)" for unknown
// names (§4.6) and skipping them.
func (s *Supervisor) resolveTargets(targets []string, all bool) []Unit {
	if all {
		units := make([]Unit, 0, len(s.order))
		for _, name := range s.order {
			units = append(units, s.programs[name])
		}
		return units
	}
	units := make([]Unit, 0, len(targets))
	for _, t := range targets {
		u, ok := s.resolve(t)
		if !ok {
			s.announce("%s : ERROR (no such process)", t)
			continue
		}
		units = append(units, u)
	}
	return units
}

// Start resolves targets and blocks until each spawned Task has reached a
// terminal observation (§4.3).
func (s *Supervisor) Start(targets []string, all bool) {
	s.mu.Lock()
	units := s.resolveTargets(targets, all)
	var waiting []*task.Task
	for _, u := range units {
		waiting = append(waiting, u.Start().Success...)
	}
	s.mu.Unlock()
	s.waitStarted(waiting)
}

func (s *Supervisor) waitStarted(waiting []*task.Task) {
	for len(waiting) > 0 {
		s.mu.Lock()
		remaining := waiting[:0]
		for _, t := range waiting {
			switch {
			case t.State() == task.Running || t.State() == task.Backoff:
				s.announce("%s : started", t.Name())
			case t.State().StoppedLike():
				s.announce("%s : ERROR (spawn error)", t.Name())
			default:
				remaining = append(remaining, t)
			}
		}
		waiting = remaining
		s.mu.Unlock()
		if len(waiting) > 0 {
			time.Sleep(Tick)
		}
	}
}

// Stop resolves targets and blocks until each reaches a STOPPED-like
// state (§4.3).
func (s *Supervisor) Stop(targets []string, all bool) {
	s.mu.Lock()
	units := s.resolveTargets(targets, all)
	var waiting []*task.Task
	for _, u := range units {
		waiting = append(waiting, u.Stop().Success...)
	}
	s.mu.Unlock()
	s.waitStopped(waiting)
}

func (s *Supervisor) waitStopped(waiting []*task.Task) {
	for len(waiting) > 0 {
		s.mu.Lock()
		remaining := waiting[:0]
		for _, t := range waiting {
			if t.State().StoppedLike() {
				s.announce("%s : stopped", t.Name())
			} else {
				remaining = append(remaining, t)
			}
		}
		waiting = remaining
		s.mu.Unlock()
		if len(waiting) > 0 {
			time.Sleep(Tick)
		}
	}
}

// Restart stops then starts the same resolved target list — resolved
// once, not re-resolved between the two phases, so a target a concurrent
// reload removes mid-restart is still reported by name rather than
// silently dropped (SPEC_FULL.md's supplement to §4.3).
func (s *Supervisor) Restart(targets []string, all bool) {
	s.mu.Lock()
	units := s.resolveTargets(targets, all)
	var stopWaiting []*task.Task
	for _, u := range units {
		stopWaiting = append(stopWaiting, u.Stop().Success...)
	}
	s.mu.Unlock()
	s.waitStopped(stopWaiting)

	s.mu.Lock()
	var startWaiting []*task.Task
	for _, u := range units {
		startWaiting = append(startWaiting, u.Start().Success...)
	}
	s.mu.Unlock()
	s.waitStarted(startWaiting)
}

// Status prints one line per resolved Task (§4.3), holding the lock for
// the whole pass so it observes a single consistent snapshot.
func (s *Supervisor) Status(targets []string, all bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	units := s.resolveTargets(targets, all)
	for _, u := range units {
		for _, line := range u.StatusLines() {
			s.announce("%s", line)
		}
	}
}

// Shutdown calls Shutdown on every program and waits for all to reach
// STOPPED-like, or returns immediately if cancel fires (operator Ctrl-C
// during shutdown, §4.3/§8 P5... scenario 5 of §8 in the spec).
func (s *Supervisor) Shutdown(cancel <-chan struct{}) {
	s.mu.Lock()
	var waiting []*task.Task
	for _, name := range s.order {
		waiting = append(waiting, s.programs[name].Shutdown().Success...)
	}
	s.mu.Unlock()

	for len(waiting) > 0 {
		select {
		case <-cancel:
			return
		default:
		}
		s.mu.Lock()
		remaining := waiting[:0]
		for _, t := range waiting {
			if !t.State().StoppedLike() {
				remaining = append(remaining, t)
			}
		}
		waiting = remaining
		s.mu.Unlock()
		if len(waiting) > 0 {
			time.Sleep(Tick)
		}
	}
}

// Supervise is the monitor entry point (§4.3): it autostarts every
// autostart program, then ticks every program forward at Tick cadence
// until stop is closed.
func (s *Supervisor) Supervise(stop <-chan struct{}) {
	s.mu.Lock()
	for _, name := range s.order {
		u := s.programs[name]
		if u.AutoStart() {
			u.Start()
		}
	}
	s.mu.Unlock()

	ticker := time.NewTicker(Tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			for _, name := range s.order {
				s.programs[name].Supervise()
			}
			s.mu.Unlock()
		}
	}
}
