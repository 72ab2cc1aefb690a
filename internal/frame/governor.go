package frame

import "time"

// Governor gates how often an operation may run against wall-clock time.
// It is not safe for concurrent use; each consumer owns its own instance.
type Governor struct {
	min  time.Duration
	last time.Time
}

// NewGovernor returns a governor enforcing at most one Allow per min interval.
// A non-positive interval disables gating entirely.
func NewGovernor(min time.Duration) *Governor {
	return &Governor{min: min}
}

// Allow reports whether the gated operation may run now. It stamps the
// last-allowed time only when it returns true, so denied calls do not push
// the window forward.
func (g *Governor) Allow(now time.Time) bool {
	if g.min <= 0 {
		return true
	}
	if g.last.IsZero() || now.Sub(g.last) >= g.min {
		g.last = now
		return true
	}
	return false
}

// Reset clears the last-allowed time, e.g. when a new connection is
// established and stale pacing state must not carry over.
func (g *Governor) Reset() {
	g.last = time.Time{}
}
