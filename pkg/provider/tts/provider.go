// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A Synthesizer turns one utterance into a complete encoded audio file (WAV
// or MP3). Lessons synthesize short prompts such as single letters or
// words, so the interface is batch rather than streaming.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyText is returned when asked to synthesize blank text.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text in the given language (BCP-47, e.g. "fr") and
	// returns the encoded audio with its MIME type. An empty lang selects the
	// backend's default language.
	Synthesize(ctx context.Context, text, lang string) (audio []byte, contentType string, err error)
}

// StatusError reports a non-success response from a synthesis server.
type StatusError struct {
	// Status is the HTTP status code.
	Status int

	// Message is the server-provided reason, if any.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tts: synthesis failed with status %d", e.Status)
	}
	return fmt.Sprintf("tts: synthesis failed with status %d: %s", e.Status, e.Message)
}
