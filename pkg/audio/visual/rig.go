// Package visual builds the audio-analysis graph that level meters and the
// silence watchdog read from.
//
// A [Rig] pairs an [AudioContext] with an [Analyser] connected to a live
// microphone stream. The analyser is sized for fast, low-latency level
// readings rather than frequency precision.
//
// Usage:
//
//	rig, err := visual.NewRig(ctx, visual.DefaultPlatform(), stream)
//	if err != nil { ... }
//	defer rig.Close()
//	loudness := level.Sample(rig.Analyser)
package visual

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/parlons/pkg/audio"
)

// ErrVisualizationUnsupported is returned by [NewRig] when the platform
// offers no audio-context constructor at all.
var ErrVisualizationUnsupported = errors.New("visual: audio visualization is not supported on this platform")

const (
	// DefaultFFTSize keeps the analysis window small for responsive readings.
	DefaultFFTSize = 256

	// DefaultSmoothing is the short averaging constant applied to displays.
	DefaultSmoothing = 0.3
)

// Platform lists the context constructors available in the environment.
// Standard is preferred; Prefixed is the vendor fallback. Either may be nil.
type Platform struct {
	Standard ContextFactory
	Prefixed ContextFactory
}

// DefaultPlatform returns a platform backed by the in-process [PCMContext].
func DefaultPlatform() Platform {
	return Platform{Standard: PCMContextFactory}
}

// Option is a functional option for [NewRig].
type Option func(*rigConfig)

type rigConfig struct {
	fftSize   int
	smoothing float64
}

// WithFFTSize overrides the analyser window. Must be a power of two in
// [32, 32768]. Defaults to 256.
func WithFFTSize(n int) Option {
	return func(c *rigConfig) { c.fftSize = n }
}

// WithSmoothing overrides the analyser smoothing constant. Defaults to 0.3.
func WithSmoothing(s float64) Option {
	return func(c *rigConfig) { c.smoothing = s }
}

// Rig owns the context and analyser wired to one stream. The caller must
// call [Rig.Close] when visualisation is no longer needed.
type Rig struct {
	Context  AudioContext
	Analyser *Analyser

	disconnect func()
}

// NewRig creates a context from p, resumes it if suspended, creates an
// analyser and connects stream into it.
func NewRig(ctx context.Context, p Platform, stream audio.Stream, opts ...Option) (*Rig, error) {
	cfg := rigConfig{fftSize: DefaultFFTSize, smoothing: DefaultSmoothing}
	for _, o := range opts {
		o(&cfg)
	}

	factory := p.Standard
	if factory == nil {
		factory = p.Prefixed
	}
	if factory == nil {
		return nil, ErrVisualizationUnsupported
	}

	ac, err := factory()
	if err != nil {
		return nil, fmt.Errorf("visual: create context: %w", err)
	}

	if ac.State() == StateSuspended {
		if err := ac.Resume(ctx); err != nil {
			_ = ac.Close()
			return nil, fmt.Errorf("visual: resume context: %w", err)
		}
	}

	an, err := ac.NewAnalyser(cfg.fftSize, cfg.smoothing)
	if err != nil {
		_ = ac.Close()
		return nil, err
	}

	disconnect, err := ac.Connect(stream, an)
	if err != nil {
		_ = ac.Close()
		return nil, fmt.Errorf("visual: connect stream: %w", err)
	}

	return &Rig{Context: ac, Analyser: an, disconnect: disconnect}, nil
}

// Close disconnects the stream and releases the context. Calling Close more
// than once is safe.
func (r *Rig) Close() error {
	if r == nil {
		return nil
	}
	if r.disconnect != nil {
		r.disconnect()
	}
	return r.Context.Close()
}
