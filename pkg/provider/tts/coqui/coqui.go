// Package coqui provides a tts.Synthesizer backed by a standard Coqui TTS
// server (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts
// with URL query parameters and the server answers with a WAV file.
//
// Typical usage:
//
//	s, err := coqui.New("http://localhost:5002",
//	    coqui.WithLanguage("fr"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	audio, contentType, err := s.Synthesize(ctx, "bonjour", "")
package coqui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/parlons/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Provider)(nil)

const (
	defaultLanguage = "fr"
	defaultTimeout  = 30 * time.Second
	apiTTSEndpoint  = "/api/tts"

	// maxErrorBody bounds how much of a failure body is kept as the message.
	maxErrorBody = 512
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the default language_id sent to the server when the
// caller does not pass one. Defaults to "fr".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSpeaker selects a speaker_id for multi-speaker models.
func WithSpeaker(id string) Option {
	return func(p *Provider) {
		p.speaker = id
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements tts.Synthesizer against a Coqui TTS server. It is safe
// for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	speaker    string
	httpClient *http.Client
}

// New creates a Provider that targets the server at serverURL (e.g.
// "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize performs a single GET /api/tts request and returns the WAV file
// the server produced.
func (p *Provider) Synthesize(ctx context.Context, text, lang string) ([]byte, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", tts.ErrEmptyText
	}
	if lang == "" {
		lang = p.language
	}

	ctx, span := tracer.Start(ctx, "coqui synthesize")
	defer span.End()
	span.SetAttributes(attribute.String("tts.language", lang), attribute.Int("tts.text_length", len(text)))

	params := url.Values{}
	params.Set("text", text)
	if lang != "" {
		params.Set("language_id", lang)
	}
	if p.speaker != "" {
		params.Set("speaker_id", p.speaker)
	}

	reqURL := p.serverURL + apiTTSEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, "", fmt.Errorf("coqui: GET %s: %w", apiTTSEndpoint, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &tts.StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		span.RecordError(serr)
		span.SetStatus(codes.Error, "upstream status")
		logger.WarnContext(ctx, "coqui: synthesis rejected", "status", resp.StatusCode)
		return nil, "", fmt.Errorf("coqui: GET %s: %w", apiTTSEndpoint, serr)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("coqui: read WAV response: %w", err)
	}
	if err := checkWAV(wav); err != nil {
		span.RecordError(err)
		return nil, "", err
	}
	return wav, "audio/wav", nil
}

// checkWAV verifies the RIFF/WAVE container header.
func checkWAV(b []byte) error {
	if len(b) < 12 || !bytes.Equal(b[0:4], []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return errors.New("coqui: response is not a RIFF/WAVE file")
	}
	return nil
}
