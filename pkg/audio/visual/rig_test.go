package visual

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/parlons/pkg/audio"
	"github.com/MrWong99/parlons/pkg/audio/level"
)

func newTestStream() *audio.LiveStream {
	return audio.NewLiveStream("mic", audio.Format{SampleRate: 16000, Channels: 1}, "test", nil)
}

func tone(n int, amp int16) []int16 {
	s := make([]int16, n)
	for i := range s {
		if i%2 == 0 {
			s[i] = amp
		} else {
			s[i] = -amp
		}
	}
	return s
}

func TestNewRig_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := NewRig(context.Background(), Platform{}, newTestStream())
	if !errors.Is(err, ErrVisualizationUnsupported) {
		t.Fatalf("err = %v, want ErrVisualizationUnsupported", err)
	}
}

func TestNewRig_FallsBackToPrefixed(t *testing.T) {
	t.Parallel()

	var used bool
	p := Platform{Prefixed: func() (AudioContext, error) {
		used = true
		return NewPCMContext(), nil
	}}

	rig, err := NewRig(context.Background(), p, newTestStream())
	if err != nil {
		t.Fatalf("NewRig: %v", err)
	}
	defer rig.Close()

	if !used {
		t.Error("prefixed factory was not used")
	}
}

func TestNewRig_ResumesSuspendedContext(t *testing.T) {
	t.Parallel()

	rig, err := NewRig(context.Background(), DefaultPlatform(), newTestStream())
	if err != nil {
		t.Fatalf("NewRig: %v", err)
	}
	defer rig.Close()

	if got := rig.Context.State(); got != StateRunning {
		t.Errorf("context state = %v, want running", got)
	}
	if rig.Analyser.FFTSize() != DefaultFFTSize {
		t.Errorf("fft size = %d, want %d", rig.Analyser.FFTSize(), DefaultFFTSize)
	}
}

func TestNewRig_InvalidFFTSize(t *testing.T) {
	t.Parallel()

	_, err := NewRig(context.Background(), DefaultPlatform(), newTestStream(), WithFFTSize(100))
	if err == nil {
		t.Fatal("expected error for non power-of-two fft size")
	}
}

func TestRig_AnalyserTracksStream(t *testing.T) {
	t.Parallel()

	s := newTestStream()
	rig, err := NewRig(context.Background(), DefaultPlatform(), s, WithFFTSize(64))
	if err != nil {
		t.Fatalf("NewRig: %v", err)
	}

	if got := level.Sample(rig.Analyser); got != 0 {
		t.Errorf("level before audio = %v, want 0", got)
	}

	s.Push(audio.Frame{Samples: tone(64, 16000)})
	if got := level.Sample(rig.Analyser); got < 0.5 {
		t.Errorf("level after loud tone = %v, want >= 0.5", got)
	}

	if err := rig.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rig.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// After close, new frames no longer reach the analyser.
	s.Push(audio.Frame{Samples: make([]int16, 64)})
	if got := level.Sample(rig.Analyser); got < 0.5 {
		t.Errorf("level changed after Close: %v", got)
	}
}

func TestPCMContext_SuspendedDropsFrames(t *testing.T) {
	t.Parallel()

	c := NewPCMContext()
	an, err := c.NewAnalyser(32, 0)
	if err != nil {
		t.Fatalf("NewAnalyser: %v", err)
	}
	s := newTestStream()
	if _, err := c.Connect(s, an); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	s.Push(audio.Frame{Samples: tone(32, 20000)})
	if got := level.Sample(an); got != 0 {
		t.Errorf("suspended context fed analyser: level = %v", got)
	}

	_ = c.Close()
	if _, err := c.Connect(s, an); !errors.Is(err, ErrContextClosed) {
		t.Errorf("Connect after Close: err = %v, want ErrContextClosed", err)
	}
}
