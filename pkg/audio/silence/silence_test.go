package silence_test

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parlons/pkg/audio/silence"
)

// levelSource is a waveform whose loudness can be switched at runtime. Loud
// emits a constant offset that [level.Sample] reads as 1.0.
type levelSource struct {
	loud atomic.Bool
}

func (s *levelSource) FFTSize() int { return 32 }

func (s *levelSource) ByteTimeDomainData(dst []byte) {
	v := byte(128)
	if s.loud.Load() {
		v = 255
	}
	for i := range dst {
		dst[i] = v
	}
}

func TestTracker_FiresAfterDuration(t *testing.T) {
	t.Parallel()

	tr := silence.NewTracker()
	start := time.Unix(0, 0)

	for ms := 0; ms < 1500; ms += 100 {
		if tr.Observe(0.1, start.Add(time.Duration(ms)*time.Millisecond)) {
			t.Fatalf("fired early at %dms", ms)
		}
	}
	if !tr.Observe(0.1, start.Add(1500*time.Millisecond)) {
		t.Fatal("did not fire at 1500ms")
	}
	// Fires once, then needs a fresh run.
	if tr.Observe(0.1, start.Add(1600*time.Millisecond)) {
		t.Fatal("fired twice for one run")
	}
}

func TestTracker_InterruptedRunsDoNotAccumulate(t *testing.T) {
	t.Parallel()

	tr := silence.NewTracker()
	now := time.Unix(0, 0)
	step := func(level float64, d time.Duration) bool {
		fired := tr.Observe(level, now)
		now = now.Add(d)
		return fired
	}

	// 1400ms quiet run.
	for range 15 {
		if step(0.2, 100*time.Millisecond) {
			t.Fatal("first run fired")
		}
	}
	// One loud sample.
	if step(0.9, 100*time.Millisecond) {
		t.Fatal("loud sample fired")
	}
	// Another 1400ms quiet run.
	for range 15 {
		if step(0.2, 100*time.Millisecond) {
			t.Fatal("second run fired: runs were summed")
		}
	}
}

func TestTracker_ThresholdIsExclusive(t *testing.T) {
	t.Parallel()

	tr := silence.NewTracker()
	start := time.Unix(0, 0)
	tr.Observe(silence.DefaultThreshold, start)
	if got := tr.SilentFor(start.Add(time.Second)); got != 0 {
		t.Errorf("level at threshold started a quiet run (%v)", got)
	}
	tr.Observe(math.Nextafter(silence.DefaultThreshold, 0), start)
	if got := tr.SilentFor(start.Add(time.Second)); got != time.Second {
		t.Errorf("SilentFor = %v, want 1s", got)
	}
}

func TestWatchdog_AutoStopsOnSilence(t *testing.T) {
	t.Parallel()

	fired := make(chan struct{}, 4)
	w := silence.New(func() { fired <- struct{}{} },
		silence.WithPollInterval(5*time.Millisecond),
		silence.WithDuration(40*time.Millisecond),
	)
	defer w.Close()

	src := &levelSource{}
	w.Update(src, true)
	if !w.Running() {
		t.Fatal("watchdog not running with source and recording")
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("auto-stop did not fire")
	}
}

func TestWatchdog_LoudAudioNeverFires(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	w := silence.New(func() { fired.Add(1) },
		silence.WithPollInterval(5*time.Millisecond),
		silence.WithDuration(30*time.Millisecond),
	)
	defer w.Close()

	src := &levelSource{}
	src.loud.Store(true)
	w.Update(src, true)

	time.Sleep(150 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Errorf("auto-stop fired %d times on loud audio", n)
	}
}

func TestWatchdog_IdleWithoutSourceOrRecording(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	w := silence.New(func() { fired.Add(1) },
		silence.WithPollInterval(5*time.Millisecond),
		silence.WithDuration(10*time.Millisecond),
	)
	defer w.Close()

	w.Update(nil, true)
	if w.Running() {
		t.Error("running without a source")
	}
	w.Update(&levelSource{}, false)
	if w.Running() {
		t.Error("running while not recording")
	}

	time.Sleep(60 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Errorf("idle watchdog fired %d times", n)
	}
}

func TestWatchdog_StopFromCallback(t *testing.T) {
	t.Parallel()

	var w *silence.Watchdog
	var fired atomic.Int32
	done := make(chan struct{})
	w = silence.New(func() {
		if fired.Add(1) == 1 {
			w.Update(nil, false)
			close(done)
		}
	},
		silence.WithPollInterval(5*time.Millisecond),
		silence.WithDuration(20*time.Millisecond),
	)

	w.Update(&levelSource{}, true)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("auto-stop did not fire")
	}

	time.Sleep(80 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Errorf("auto-stop fired %d times, want 1", n)
	}
	if w.Running() {
		t.Error("watchdog still running after stop from callback")
	}
}
