// Package silence auto-stops recordings after a sustained quiet interval.
//
// The [Watchdog] samples a [level.Waveform] on its own fixed-cadence ticker
// goroutine, independent of any render or display loop, so it keeps running
// while the display poller is throttled.
package silence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parlons/pkg/audio/level"
)

// Option is a functional option for configuring a [Watchdog].
type Option func(*Watchdog)

// WithThreshold overrides the silence threshold. Defaults to 0.50.
func WithThreshold(v float64) Option {
	return func(w *Watchdog) { w.threshold = v }
}

// WithDuration overrides the required quiet duration. Defaults to 1.5 s.
func WithDuration(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.duration = d
		}
	}
}

// WithPollInterval overrides the sampling cadence. Defaults to 100 ms.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger used for auto-stop diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watchdog) {
		if l != nil {
			w.log = l
		}
	}
}

// Watchdog polls a waveform while recording is active and calls its auto-stop
// callback once a quiet run reaches the configured duration.
//
// All exported methods are safe for concurrent use, including from within
// the auto-stop callback.
type Watchdog struct {
	onAutoStop func()
	threshold  float64
	duration   time.Duration
	interval   time.Duration
	log        *slog.Logger

	mu        sync.Mutex
	src       level.Waveform
	recording bool
	gen       uint64
	stop      chan struct{}
}

// New creates a watchdog that calls onAutoStop when silence is detected. The
// watchdog is idle until [Watchdog.Update] supplies a source while recording.
func New(onAutoStop func(), opts ...Option) *Watchdog {
	w := &Watchdog{
		onAutoStop: onAutoStop,
		threshold:  DefaultThreshold,
		duration:   DefaultDuration,
		interval:   DefaultPollInterval,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Update tells the watchdog what it may observe. Polling runs only while src
// is non-nil and recording is true; any other combination stops the poll and
// clears tracked state. Repeating the current inputs is a no-op.
func (w *Watchdog) Update(src level.Waveform, recording bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	active := src != nil && recording
	if active && w.stop != nil && w.src == src && w.recording {
		return
	}

	w.haltLocked()
	w.src = src
	w.recording = recording
	if !active {
		return
	}

	w.gen++
	w.stop = make(chan struct{})
	go w.poll(w.gen, src, w.stop)
}

// Running reports whether the poll goroutine is active.
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stop != nil
}

// Close stops polling. Calling Close more than once is safe.
func (w *Watchdog) Close() {
	w.Update(nil, false)
}

func (w *Watchdog) haltLocked() {
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
	w.gen++
}

// poll is the ticker goroutine. All tracker state is confined here; a
// bumped generation or closed stop channel ends it.
func (w *Watchdog) poll(gen uint64, src level.Waveform, stop <-chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	tracker := &Tracker{Threshold: w.threshold, Duration: w.duration}
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if !tracker.Observe(level.Sample(src), now) {
				continue
			}

			w.mu.Lock()
			current := w.gen == gen
			w.mu.Unlock()
			if !current {
				return
			}

			w.log.Debug("silence: auto-stop", "quiet_for", w.duration)
			if w.onAutoStop != nil {
				w.onAutoStop()
			}
		}
	}
}
