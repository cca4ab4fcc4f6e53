package task

import "time"

// Clock abstracts time.Now so the starttime/backoff/stoptime transitions
// in Supervise can be driven deterministically in tests without a real
// sleep, the seam SPEC_FULL.md's test-tooling section calls for.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
