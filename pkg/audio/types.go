// Package audio defines the live-audio primitives shared by the capture,
// visualisation, silence and playback packages of Parlons.
//
// The central abstraction is [Stream]: a live microphone handle that fans PCM
// [Frame] values out to any number of taps (recorder, analyser) and owns one
// or more [Track] values that must be stopped to release the device.
//
// Implementations are provided by backend packages (e.g. capture/portaudio).
// [LiveStream] is a ready-made implementation backends and tests can push
// frames into.
package audio

import "time"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Frame is a single block of interleaved 16-bit PCM captured from a stream.
type Frame struct {
	// Samples holds interleaved signed 16-bit samples.
	Samples []int16

	// Format of Samples.
	Format Format

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Track is a single capture source belonging to a [Stream]. Stopping a track
// releases the underlying device; a stopped track never becomes live again.
type Track interface {
	// Label is a human-readable device description.
	Label() string

	// Live reports whether the track is still delivering audio.
	Live() bool

	// Stop releases the device. Calling Stop more than once is safe.
	Stop()
}

// Stream is a live audio input handle.
//
// All methods must be safe for concurrent use.
type Stream interface {
	// ID uniquely identifies the stream for logging.
	ID() string

	// Format reports the PCM format delivered to taps.
	Format() Format

	// Tap registers fn to receive every subsequent frame. The returned
	// function removes the tap; calling it more than once is safe. fn is
	// called from the stream's delivery goroutine and must not block.
	Tap(fn func(Frame)) (untap func())

	// Tracks returns the capture tracks backing the stream.
	Tracks() []Track
}

// StopTracks stops every track of s. A nil stream is ignored.
func StopTracks(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
