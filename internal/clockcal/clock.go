// Package clockcal provides the Clock abstraction and business-timezone
// calendar arithmetic required by spec.md §4.6. The scheduling service reads
// the current time through a Clock; ratelimit, breaker, the outbox retry
// scheduler and the HTTP middleware and handlers call time.Now directly.
package clockcal

import "time"

// Clock returns the current UTC instant. Production code uses SystemClock;
// FixedClock returns a pinned instant for callers that need deterministic
// decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock delegates to the OS clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant; useful in tests.
type FixedClock struct{ At time.Time }

func (f FixedClock) Now() time.Time { return f.At }
