package visual

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/parlons/pkg/audio"
)

// ErrContextClosed is returned when a closed [AudioContext] is used.
var ErrContextClosed = errors.New("visual: audio context is closed")

// ContextState mirrors the lifecycle of an audio-processing context.
type ContextState int

const (
	// StateSuspended contexts exist but do not process audio.
	StateSuspended ContextState = iota

	// StateRunning contexts feed connected analysers.
	StateRunning

	// StateClosed contexts have released all resources.
	StateClosed
)

// String returns the human-readable name of the state.
func (s ContextState) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// AudioContext is an audio-processing graph able to host analysers.
type AudioContext interface {
	// State reports the current lifecycle state.
	State() ContextState

	// Resume starts processing on a suspended context. Resuming a running
	// context is a no-op.
	Resume(ctx context.Context) error

	// NewAnalyser creates an analysis node owned by this context.
	NewAnalyser(fftSize int, smoothing float64) (*Analyser, error)

	// Connect routes s into a. The returned function disconnects them.
	Connect(s audio.Stream, a *Analyser) (disconnect func(), err error)

	// Close disconnects every source and releases the context.
	Close() error
}

// ContextFactory constructs a new [AudioContext].
type ContextFactory func() (AudioContext, error)

// Compile-time interface assertion.
var _ AudioContext = (*PCMContext)(nil)

// PCMContext is an in-process [AudioContext] that taps PCM streams directly.
// Like browser contexts it starts suspended and only feeds analysers once
// resumed.
type PCMContext struct {
	mu       sync.Mutex
	state    ContextState
	untapFns map[int]func()
	nextID   int
}

// NewPCMContext returns a suspended [PCMContext].
func NewPCMContext() *PCMContext {
	return &PCMContext{
		state:    StateSuspended,
		untapFns: make(map[int]func()),
	}
}

// PCMContextFactory is a [ContextFactory] for [NewPCMContext].
func PCMContextFactory() (AudioContext, error) {
	return NewPCMContext(), nil
}

// State implements [AudioContext].
func (c *PCMContext) State() ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume implements [AudioContext].
func (c *PCMContext) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrContextClosed
	}
	c.state = StateRunning
	return nil
}

// NewAnalyser implements [AudioContext].
func (c *PCMContext) NewAnalyser(fftSize int, smoothing float64) (*Analyser, error) {
	if c.State() == StateClosed {
		return nil, ErrContextClosed
	}
	return newAnalyser(fftSize, smoothing)
}

// Connect implements [AudioContext].
func (c *PCMContext) Connect(s audio.Stream, a *Analyser) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil, ErrContextClosed
	}

	untap := s.Tap(func(f audio.Frame) {
		if c.State() != StateRunning {
			return
		}
		a.write(f)
	})
	id := c.nextID
	c.nextID++
	c.untapFns[id] = untap

	var once sync.Once
	return func() {
		once.Do(func() {
			untap()
			c.mu.Lock()
			delete(c.untapFns, id)
			c.mu.Unlock()
		})
	}, nil
}

// Close implements [AudioContext]. Calling Close more than once is safe.
func (c *PCMContext) Close() error {
	c.mu.Lock()
	fns := c.untapFns
	c.untapFns = make(map[int]func())
	c.state = StateClosed
	c.mu.Unlock()

	for _, untap := range fns {
		untap()
	}
	return nil
}
