package resilience

import (
	"context"

	"github.com/MrWong99/parlons/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] over a [FallbackGroup] of
// transcription upstreams.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred upstream.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another transcription upstream.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Group exposes the underlying group for health reporting.
func (f *STTFallback) Group() *FallbackGroup[stt.Transcriber] { return f.group }

// Transcribe sends the recording to the first healthy upstream.
func (f *STTFallback) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, audio, filename)
	})
}
