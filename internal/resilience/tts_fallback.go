package resilience

import (
	"context"

	"github.com/MrWong99/parlons/pkg/provider/tts"
)

// TTSFallback implements [tts.Synthesizer] over a [FallbackGroup] of
// synthesis upstreams.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred upstream.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another synthesis upstream.
func (f *TTSFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Group exposes the underlying group for health reporting.
func (f *TTSFallback) Group() *FallbackGroup[tts.Synthesizer] { return f.group }

type synthResult struct {
	audio       []byte
	contentType string
}

// Synthesize renders text on the first healthy upstream.
func (f *TTSFallback) Synthesize(ctx context.Context, text, lang string) ([]byte, string, error) {
	res, err := ExecuteWithResult(f.group, func(s tts.Synthesizer) (synthResult, error) {
		audio, ct, err := s.Synthesize(ctx, text, lang)
		return synthResult{audio: audio, contentType: ct}, err
	})
	if err != nil {
		return nil, "", err
	}
	return res.audio, res.contentType, nil
}
