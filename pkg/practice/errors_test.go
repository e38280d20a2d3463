package practice_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/parlons/pkg/assess"
	"github.com/MrWong99/parlons/pkg/audio/capture"
	"github.com/MrWong99/parlons/pkg/audio/sequence"
	"github.com/MrWong99/parlons/pkg/audio/visual"
	"github.com/MrWong99/parlons/pkg/practice"
)

func TestUserMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		want      string
		retryable bool
	}{
		{"nil", nil, "", false},
		{"permission", fmt.Errorf("open: %w", capture.ErrPermissionDenied), practice.MsgPermissionDenied, true},
		{"unsupported", capture.ErrUnsupportedEnvironment, practice.MsgUnsupported, false},
		{"visualization", visual.ErrVisualizationUnsupported, practice.MsgVisualization, false},
		{"device", fmt.Errorf("%w: busy", capture.ErrDeviceUnavailable), practice.MsgDeviceUnavailable, true},
		{"timeout", fmt.Errorf("%w: %w", assess.ErrTimeout, context.DeadlineExceeded), practice.MsgTimeout, true},
		{"remote", &assess.RemoteServiceError{Status: 500, Message: "bad audio"}, "The pronunciation check failed: bad audio", true},
		{"playback", &sequence.PlaybackError{Index: 2, ItemID: "c", Err: errors.New("decode")}, `The audio for "c" could not be played.`, true},
		{"other", errors.New("boom"), practice.MsgGeneric, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := practice.UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
			if got := practice.Retryable(tt.err); got != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}
