// Package whisper provides an in-process stt.Transcriber backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.
//
// Use the "remote" provider with the /inference endpoint to talk to a
// whisper.cpp server over HTTP instead.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/parlons/pkg/provider/stt"
)

const defaultLanguage = "fr"

// Compile-time assertions.
var (
	_ stt.Transcriber = (*NativeProvider)(nil)
	_ io.Closer       = (*NativeProvider)(nil)
)

var tracer = otel.Tracer("github.com/MrWong99/parlons/pkg/provider/stt/whisper")

// NativeProvider implements stt.Transcriber using whisper.cpp Go bindings.
// The model is loaded once and shared; every call gets its own context, so
// concurrent transcriptions do not interfere.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	sem      chan struct{}
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code passed to whisper.cpp (e.g.
// "fr", "en", "auto"). Defaults to "fr".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) {
		if lang != "" {
			p.language = lang
		}
	}
}

// WithNativeConcurrency bounds how many inferences run at once. Defaults
// to 1; each inference already uses several CPU threads.
func WithNativeConcurrency(n int) NativeOption {
	return func(p *NativeProvider) {
		if n > 0 {
			p.sem = make(chan struct{}, n)
		}
	}
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// modelPath. The caller must call Close when the provider is no longer
// needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		sem:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe decodes a WAV recording and runs whisper.cpp inference on it.
// Only WAV is accepted; filename is unused. A cancelled ctx stops waiting
// for a free slot but cannot interrupt a running inference.
func (p *NativeProvider) Transcribe(ctx context.Context, audio []byte, _ string) (string, error) {
	if len(audio) == 0 {
		return "", stt.ErrEmptyAudio
	}

	ctx, span := tracer.Start(ctx, "whisper transcribe")
	defer span.End()
	span.SetAttributes(attribute.Int("stt.audio_bytes", len(audio)), attribute.String("stt.language", p.language))

	samples, err := decodeSamples(audio)
	if err != nil {
		return "", err
	}

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	text, err := p.infer(samples)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference failed")
		return "", err
	}
	return text, nil
}

// infer runs whisper.cpp on a fresh context and returns the joined segment
// text.
func (p *NativeProvider) infer(samples []float32) (string, error) {
	// Contexts are not thread-safe; the model is.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
