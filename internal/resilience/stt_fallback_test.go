package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/parlons/pkg/provider/stt"
	sttmock "github.com/MrWong99/parlons/pkg/provider/stt/mock"
)

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Transcriber{Text: "bonjour"}
	secondary := &sttmock.Transcriber{Text: "bonsoir"}
	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	text, err := fb.Transcribe(context.Background(), []byte("wav"), "recording.wav")
	if err != nil {
		t.Fatal(err)
	}
	if text != "bonjour" {
		t.Errorf("text = %q", text)
	}
	if secondary.CallCount() != 0 {
		t.Error("secondary called although primary succeeded")
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Transcriber{Err: &stt.StatusError{Status: 503}}
	secondary := &sttmock.Transcriber{Text: "merci"}
	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	text, err := fb.Transcribe(context.Background(), []byte("wav"), "recording.wav")
	if err != nil {
		t.Fatal(err)
	}
	if text != "merci" {
		t.Errorf("text = %q", text)
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary called %d times, want 1", primary.CallCount())
	}
}

func TestSTTFallback_StatusErrorSurvivesWrapping(t *testing.T) {
	t.Parallel()

	fb := NewSTTFallback(&sttmock.Transcriber{Err: &stt.StatusError{Status: 500, Message: "model not loaded"}}, "primary", FallbackConfig{})

	_, err := fb.Transcribe(context.Background(), []byte("wav"), "recording.wav")
	var se *stt.StatusError
	if !errors.As(err, &se) || se.Message != "model not loaded" {
		t.Errorf("err = %v, want wrapped *stt.StatusError", err)
	}
}
