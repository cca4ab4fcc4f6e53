package supervisor

import (
	"github.com/taskmaster/taskmaster/internal/config"
)

// Reread re-parses the config file and stages three sets against the
// current program table (§4.4): new_programs (names not in the table),
// to_start (in the table, declaration changed), and to_stop (in the
// table, name removed from the file). It never adds, removes or replaces
// units in the live table itself — only Update does, after an operator
// confirms the staged diff.
//
// Rereading twice without an intervening Update is idempotent: when
// Reread stages a changed declaration it also advances that unit's
// CompareYAML to the new declaration, so a second call against an
// unchanged file reports no change for it. Each call replaces the
// staging area left by the previous one.
func (s *Supervisor) Reread() ([]string, []string, []string, error) {
	file, err := config.Load(s.configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	newProgs := make(map[string]Unit)
	toStart := make(map[string]Unit)
	var toStop []string

	seen := make(map[string]bool, len(file.Order))
	for _, name := range file.Order {
		seen[name] = true
		decl := file.Programs[name]
		existing, ok := s.programs[name]
		switch {
		case !ok:
			newProgs[name] = s.buildUnit(name, decl)
		case existing.CompareYAML() != decl.RawYAML:
			toStart[name] = s.buildUnit(name, decl)
			// Advance the comparison baseline now, not at update() time, so
			// a second reread with no intervening update sees the table as
			// already caught up with the file (§4.4(d), P5).
			existing.SetCompareYAML(decl.RawYAML)
		}
	}
	for _, name := range s.order {
		if !seen[name] {
			toStop = append(toStop, name)
		}
	}

	s.stagingReady = true
	s.stagingNew = newProgs
	s.stagingToStart = toStart
	s.stagingToStop = toStop

	var added, changed []string
	for name := range newProgs {
		added = append(added, name)
	}
	for name := range toStart {
		changed = append(changed, name)
	}
	return added, changed, toStop, nil
}

// Update applies the staging area built by the last Reread (§4.4): newly
// declared programs are added and (if autostart) started; changed
// programs are stopped, swapped to their new declaration, and
// (if autostart) started again; removed programs are stopped and dropped from the table.
// Calling Update with no prior Reread, or after an empty reread, is a
// no-op — stagingReady, not map emptiness, is the guard, since a reread
// against a zero-program file is a legitimate (if unusual) non-empty
// outcome that must still be applied.
func (s *Supervisor) Update() {
	s.mu.Lock()
	if !s.stagingReady {
		s.mu.Unlock()
		return
	}
	newProgs := s.stagingNew
	toStart := s.stagingToStart
	toStop := s.stagingToStop
	s.stagingReady = false
	s.stagingNew = nil
	s.stagingToStart = nil
	s.stagingToStop = nil
	s.mu.Unlock()

	// §4.4 step 1/7: reload noise (per-target started/stopped/changed
	// acknowledgements) is suppressed for the duration of the apply, so
	// only the reread summary reaches the operator.
	s.quiet.Enable()
	s.updateRemovals(toStop)
	s.updateChanged(toStart)
	s.updateAdditions(newProgs)
	s.quiet.Disable()
}

func (s *Supervisor) updateRemovals(names []string) {
	for _, name := range names {
		s.mu.Lock()
		u, ok := s.programs[name]
		if !ok {
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		s.Stop([]string{name}, false)

		s.mu.Lock()
		delete(s.programs, name)
		s.removeFromOrder(name)
		s.mu.Unlock()
		s.announce("%s: removed", u.Name())
	}
}

func (s *Supervisor) updateChanged(units map[string]Unit) {
	for name, newUnit := range units {
		s.Stop([]string{name}, false)

		s.mu.Lock()
		s.programs[name] = newUnit
		s.mu.Unlock()

		if newUnit.AutoStart() {
			s.Start([]string{name}, false)
		}
		s.announce("%s: updated", name)
	}
}

func (s *Supervisor) updateAdditions(units map[string]Unit) {
	for name, u := range units {
		s.mu.Lock()
		s.programs[name] = u
		s.order = append(s.order, name)
		s.mu.Unlock()

		if u.AutoStart() {
			s.Start([]string{name}, false)
		}
		s.announce("%s: added", name)
	}
}

func (s *Supervisor) removeFromOrder(name string) {
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
