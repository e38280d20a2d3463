package capture

import (
	"context"
	"errors"

	"github.com/MrWong99/parlons/pkg/audio"
)

var (
	// ErrUnsupportedEnvironment means the platform exposes no media-capture
	// primitives. Recording can never start in this environment.
	ErrUnsupportedEnvironment = errors.New("capture: media capture is not supported in this environment")

	// ErrPermissionDenied means the user declined microphone access. Backends
	// wrap it so [Capture] can tell it apart from other failures.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrDeviceUnavailable covers every other acquisition failure.
	ErrDeviceUnavailable = errors.New("capture: microphone unavailable")

	// ErrInvalidState is returned by a [Recorder] asked to start twice or to
	// stop while inactive.
	ErrInvalidState = errors.New("capture: recorder is in the wrong state")
)

// Constraints describes the microphone stream requested from [MediaDevices].
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// Channels is the preferred channel count (1 or 2). 0 lets the device choose.
	Channels int

	// SampleRate is the preferred rate in Hz. 0 lets the device choose.
	SampleRate int
}

// SpeechConstraints returns constraints tuned for spoken input: echo
// cancellation, noise suppression and automatic gain, mono at 16 kHz.
func SpeechConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		Channels:         1,
		SampleRate:       16000,
	}
}

// MediaDevices acquires live microphone streams.
type MediaDevices interface {
	// GetUserMedia opens a stream satisfying c as closely as the device
	// allows. Errors wrapping [ErrPermissionDenied] are reported to the user
	// as a permission problem.
	GetUserMedia(ctx context.Context, c Constraints) (audio.Stream, error)
}

// RecorderState is the lifecycle state of a [Recorder].
type RecorderState int

const (
	// RecorderInactive recorders are not capturing.
	RecorderInactive RecorderState = iota

	// RecorderRecording recorders are capturing.
	RecorderRecording
)

// String returns the human-readable name of the state.
func (s RecorderState) String() string {
	switch s {
	case RecorderInactive:
		return "inactive"
	case RecorderRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// RecorderEvents are delivered asynchronously by a [Recorder].
type RecorderEvents struct {
	// OnDataAvailable receives each encoded fragment in order.
	OnDataAvailable func(chunk []byte)

	// OnStop fires once, after the final OnDataAvailable, when the recorder
	// has fully stopped.
	OnStop func()
}

// Recorder encodes a stream into binary fragments.
type Recorder interface {
	// Start begins capturing.
	Start() error

	// Stop requests the recorder to stop. Completion is signalled by
	// RecorderEvents.OnStop, possibly after Stop returns.
	Stop() error

	// State reports the current state.
	State() RecorderState

	// MIMEType describes the encoded fragments.
	MIMEType() string
}

// RecorderFactory binds a new [Recorder] to a stream.
type RecorderFactory func(s audio.Stream, ev RecorderEvents) (Recorder, error)

// Blob is a complete recording: every fragment concatenated in order.
type Blob struct {
	Data     []byte
	MIMEType string
}
