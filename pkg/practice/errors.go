package practice

import (
	"errors"
	"fmt"

	"github.com/MrWong99/parlons/pkg/assess"
	"github.com/MrWong99/parlons/pkg/audio/capture"
	"github.com/MrWong99/parlons/pkg/audio/sequence"
	"github.com/MrWong99/parlons/pkg/audio/visual"
)

// Messages shown for errors that need a specific corrective action.
const (
	MsgPermissionDenied    = "Microphone access was denied. Allow microphone access and try again."
	MsgUnsupported         = "Recording is not supported on this device. Try another device or browser."
	MsgVisualization       = "Audio level display is not supported on this device. Try another device or browser."
	MsgDeviceUnavailable   = "The microphone could not be opened. Check that it is connected and try again."
	MsgTimeout             = "The pronunciation check took too long. Please try again."
	MsgGeneric             = "Something went wrong. Please try again."
	msgRemoteServicePrefix = "The pronunciation check failed: "
)

// UserMessage returns the text to show a learner for err. Permission and
// capability failures get distinct messages; remote failures pass the
// server's message through; anything else gets [MsgGeneric].
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		remote   *assess.RemoteServiceError
		playback *sequence.PlaybackError
	)
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return MsgPermissionDenied
	case errors.Is(err, capture.ErrUnsupportedEnvironment):
		return MsgUnsupported
	case errors.Is(err, visual.ErrVisualizationUnsupported):
		return MsgVisualization
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return MsgDeviceUnavailable
	case errors.Is(err, assess.ErrTimeout):
		return MsgTimeout
	case errors.As(err, &remote) && remote.Message != "":
		return msgRemoteServicePrefix + remote.Message
	case errors.As(err, &playback):
		return fmt.Sprintf("The audio for %q could not be played.", playback.ItemID)
	default:
		return MsgGeneric
	}
}

// Retryable reports whether offering the learner a retry makes sense.
// Unsupported environments fail the same way every time.
func Retryable(err error) bool {
	return err != nil &&
		!errors.Is(err, capture.ErrUnsupportedEnvironment) &&
		!errors.Is(err, visual.ErrVisualizationUnsupported)
}
