// Package quiet holds the single process-wide print-suppression flag
// update() flips while staging a reload, so reload noise doesn't drown
// the reread summary (§4.5 of the spec).
//
// original_source/Quiet.py implemented this as a hidden singleton object;
// here it is an explicit value the Supervisor owns and hands to every
// Task/TaskGroup it creates, since Go idiom favors a visible dependency
// over a package-level global for state one component already owns.
package quiet

import "sync/atomic"

// Flag is a process-wide, concurrency-safe on/off switch.
type Flag struct {
	enabled atomic.Bool
}

func (f *Flag) Enable()  { f.enabled.Store(true) }
func (f *Flag) Disable() { f.enabled.Store(false) }
func (f *Flag) Enabled() bool {
	if f == nil {
		return false
	}
	return f.enabled.Load()
}
