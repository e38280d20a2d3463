package visual

import (
	"fmt"
	"sync"

	"github.com/MrWong99/parlons/pkg/audio"
	"github.com/MrWong99/parlons/pkg/audio/level"
)

// Compile-time interface assertion.
var _ level.Waveform = (*Analyser)(nil)

const (
	minFFTSize = 32
	maxFFTSize = 32768
)

// Analyser keeps the most recent FFTSize mono samples of a connected stream
// and exposes them as an 8-bit unsigned waveform. It is safe for concurrent
// use: the stream's delivery goroutine writes while pollers read.
type Analyser struct {
	fftSize   int
	smoothing float64

	mu   sync.Mutex
	ring []byte
	pos  int
}

// newAnalyser validates fftSize (a power of two in [32, 32768]) and smoothing
// (in [0, 1]) and returns an analyser whose buffer reads as silence.
func newAnalyser(fftSize int, smoothing float64) (*Analyser, error) {
	if fftSize < minFFTSize || fftSize > maxFFTSize || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("visual: fft size %d must be a power of two in [%d, %d]", fftSize, minFFTSize, maxFFTSize)
	}
	if smoothing < 0 || smoothing > 1 {
		return nil, fmt.Errorf("visual: smoothing %.2f is out of range [0, 1]", smoothing)
	}
	ring := make([]byte, fftSize)
	for i := range ring {
		ring[i] = 128
	}
	return &Analyser{fftSize: fftSize, smoothing: smoothing, ring: ring}, nil
}

// FFTSize implements [level.Waveform].
func (a *Analyser) FFTSize() int { return a.fftSize }

// Smoothing is the averaging constant for level displays driven from this
// analyser. 0 means no smoothing.
func (a *Analyser) Smoothing() float64 { return a.smoothing }

// ByteTimeDomainData implements [level.Waveform]. Samples are copied oldest
// first.
func (a *Analyser) ByteTimeDomainData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := copy(dst, a.ring[a.pos:])
	copy(dst[n:], a.ring[:a.pos])
}

// write downmixes f and appends its samples to the ring.
func (a *Analyser) write(f audio.Frame) {
	mono := audio.Downmix(f.Samples, f.Format.Channels)

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range mono {
		a.ring[a.pos] = byte(128 + int(s)>>8)
		a.pos = (a.pos + 1) % a.fftSize
	}
}
