package silence

import "time"

const (
	// DefaultThreshold is the normalised level below which audio counts as
	// silence.
	DefaultThreshold = 0.50

	// DefaultDuration is how long a contiguous quiet run must last before an
	// auto-stop fires.
	DefaultDuration = 1500 * time.Millisecond

	// DefaultPollInterval is the fixed cadence at which the watchdog samples.
	DefaultPollInterval = 100 * time.Millisecond
)

// Tracker measures contiguous runs of sub-threshold levels. It is not safe for
// concurrent use; the [Watchdog] confines one tracker to its poll goroutine.
//
// Quiet runs never accumulate across interruptions: a single level at or
// above Threshold discards the run in progress.
type Tracker struct {
	Threshold float64
	Duration  time.Duration

	tracking  bool
	startedAt time.Time
}

// NewTracker returns a tracker with the default threshold and duration.
func NewTracker() *Tracker {
	return &Tracker{Threshold: DefaultThreshold, Duration: DefaultDuration}
}

// Observe records one level reading taken at now and reports whether the
// current quiet run has just reached Duration. When it fires, the run is
// reset so the next auto-stop needs a fresh full-length run.
func (t *Tracker) Observe(level float64, now time.Time) bool {
	if level >= t.Threshold {
		t.Reset()
		return false
	}
	if !t.tracking {
		t.tracking = true
		t.startedAt = now
	}
	if now.Sub(t.startedAt) >= t.Duration {
		t.Reset()
		return true
	}
	return false
}

// SilentFor reports how long the current quiet run has lasted at now, or 0
// when no run is being tracked.
func (t *Tracker) SilentFor(now time.Time) time.Duration {
	if !t.tracking {
		return 0
	}
	return now.Sub(t.startedAt)
}

// Reset discards any quiet run in progress.
func (t *Tracker) Reset() {
	t.tracking = false
	t.startedAt = time.Time{}
}
