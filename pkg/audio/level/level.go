// Package level turns a live waveform into a single normalised loudness
// scalar suitable for level bars and silence detection.
//
// The measure is the root-mean-square of the zero-centred waveform, scaled by
// two and clamped to [0, 1]. RMS tracks perceived loudness and is far less
// jumpy than a peak or frequency-bin reading.
package level

import "math"

// midpoint is the value an 8-bit unsigned waveform sample takes at silence.
const midpoint = 128

// gain scales the raw RMS so normal speech lands in the upper half of [0, 1].
const gain = 2

// Waveform is a source of 8-bit unsigned time-domain samples, with 128 as
// the zero line. visual.Analyser implements it.
type Waveform interface {
	// FFTSize is the number of samples ByteTimeDomainData fills.
	FFTSize() int

	// ByteTimeDomainData copies the most recent FFTSize samples into dst.
	// len(dst) is at least FFTSize.
	ByteTimeDomainData(dst []byte)
}

// Sample reads the current waveform from w and returns its loudness in
// [0, 1]. A nil or empty waveform yields 0. Sample is stateless and safe for
// concurrent use as long as w is.
func Sample(w Waveform) float64 {
	if w == nil {
		return 0
	}
	n := w.FFTSize()
	if n <= 0 {
		return 0
	}
	buf := make([]byte, n)
	w.ByteTimeDomainData(buf)
	return FromBytes(buf)
}

// FromBytes computes the loudness of an 8-bit unsigned waveform buffer.
func FromBytes(buf []byte) float64 {
	if len(buf) == 0 {
		return 0
	}
	var sum float64
	for _, b := range buf {
		v := float64(int(b)-midpoint) / midpoint
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(buf)))
	return math.Min(1, rms*gain)
}
