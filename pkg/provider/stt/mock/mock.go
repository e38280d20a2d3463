// Package mock provides a test double for the stt.Transcriber interface.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "le chat noir"}
//	text, err := tr.Transcribe(ctx, wav, "recording.wav")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parlons/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Audio is a copy of the uploaded bytes.
	Audio []byte

	// Filename is the upload filename.
	Filename string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by every successful call.
	Text string

	// Err, if non-nil, is returned instead of Text.
	Err error

	// Delay, if non-nil, blocks each call until it is closed or ctx is done.
	Delay chan struct{}

	// Calls records every call in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Text or Err. When Delay is set the
// call waits for it to be closed or for ctx to end.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, TranscribeCall{Audio: append([]byte(nil), audio...), Filename: filename})
	text, err, delay := t.Text, t.Err, t.Delay
	t.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of recorded calls.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Reset clears all recorded calls.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
