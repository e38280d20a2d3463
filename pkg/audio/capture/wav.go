package capture

import (
	"sync"

	"github.com/MrWong99/parlons/pkg/audio"
)

// WAVMIMEType is the MIME type of [WAVRecorder] output.
const WAVMIMEType = "audio/wav"

// wavFormat is the format recordings are normalised to before encoding.
var wavFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Compile-time interface assertion.
var _ Recorder = (*WAVRecorder)(nil)

// WAVRecorder buffers a stream as 16 kHz mono PCM and emits the whole
// recording as a single WAV fragment when stopped. Events are delivered on a
// separate goroutine after Stop returns.
type WAVRecorder struct {
	stream audio.Stream
	ev     RecorderEvents

	mu      sync.Mutex
	state   RecorderState
	samples []int16
	untap   func()
}

// NewWAVRecorder is the default [RecorderFactory].
func NewWAVRecorder(s audio.Stream, ev RecorderEvents) (Recorder, error) {
	return &WAVRecorder{stream: s, ev: ev}, nil
}

// Start implements [Recorder].
func (r *WAVRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RecorderRecording {
		return ErrInvalidState
	}
	r.samples = r.samples[:0]
	r.state = RecorderRecording
	r.untap = r.stream.Tap(r.onFrame)
	return nil
}

// Stop implements [Recorder].
func (r *WAVRecorder) Stop() error {
	r.mu.Lock()
	if r.state != RecorderRecording {
		r.mu.Unlock()
		return ErrInvalidState
	}
	r.state = RecorderInactive
	untap := r.untap
	r.untap = nil
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()

	untap()
	wav := audio.EncodeWAV(samples, wavFormat)

	go func() {
		if r.ev.OnDataAvailable != nil {
			r.ev.OnDataAvailable(wav)
		}
		if r.ev.OnStop != nil {
			r.ev.OnStop()
		}
	}()
	return nil
}

// State implements [Recorder].
func (r *WAVRecorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MIMEType implements [Recorder].
func (r *WAVRecorder) MIMEType() string { return WAVMIMEType }

func (r *WAVRecorder) onFrame(f audio.Frame) {
	mono := audio.Downmix(f.Samples, f.Format.Channels)
	mono = audio.ResampleMono(mono, f.Format.SampleRate, wavFormat.SampleRate)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RecorderRecording {
		r.samples = append(r.samples, mono...)
	}
}
