// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber receives one complete recording (an encoded audio file such
// as WAV or WebM) and returns its transcript. Pronunciation practice submits
// short, finished utterances, so no streaming interface is needed.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyAudio is returned when asked to transcribe zero bytes.
var ErrEmptyAudio = errors.New("stt: audio must not be empty")

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe uploads audio under filename (the extension hints the
	// container format to the server) and returns the raw transcript.
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// StatusError reports a non-success HTTP response from a transcription
// server.
type StatusError struct {
	// Status is the HTTP status code.
	Status int

	// Message is the server-provided reason, if any.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("stt: server returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("stt: server returned HTTP %d: %s", e.Status, e.Message)
}
