// Package mock provides a test double for the tts.Synthesizer interface.
//
// Example:
//
//	s := &mock.Synthesizer{Audio: []byte("ID3..."), ContentType: "audio/mpeg"}
//	audio, ct, err := s.Synthesize(ctx, "bonjour", "fr")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parlons/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text string
	Lang string
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is returned by every successful call.
	Audio []byte

	// ContentType is returned with Audio. Defaults to "audio/mpeg".
	ContentType string

	// Err, if non-nil, is returned instead of audio.
	Err error

	// Fn, if set, overrides Audio/ContentType/Err.
	Fn func(ctx context.Context, text, lang string) ([]byte, string, error)

	// Calls records every call in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns the configured result.
func (s *Synthesizer) Synthesize(ctx context.Context, text, lang string) ([]byte, string, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, SynthesizeCall{Text: text, Lang: lang})
	fn, audio, ct, err := s.Fn, s.Audio, s.ContentType, s.Err
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, lang)
	}
	if err != nil {
		return nil, "", err
	}
	if ct == "" {
		ct = "audio/mpeg"
	}
	return append([]byte(nil), audio...), ct, nil
}

// CallCount returns the number of recorded calls.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Reset clears all recorded calls.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
