// Package remote provides an stt.Transcriber that talks to an HTTP
// transcription microservice.
//
// The service accepts POST <base>/transcribe with a multipart/form-data body
// whose "file" field holds the recording, and answers with JSON {"text": ...}.
// whisper.cpp's server works too when pointed at its /inference path via
// WithEndpoint.
//
// Usage:
//
//	t, err := remote.New("http://localhost:9000", remote.WithLanguage("fr"))
//	text, err := t.Transcribe(ctx, wav, "recording.wav")
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/parlons/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Transcriber = (*Provider)(nil)

const (
	defaultEndpoint = "/transcribe"
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 4096
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithEndpoint overrides the request path. Defaults to "/transcribe".
func WithEndpoint(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.endpoint = "/" + strings.TrimLeft(path, "/")
		}
	}
}

// WithLanguage adds a "language" form field as a decoding hint.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the HTTP client timeout. Defaults to 30 s. Callers that
// need a tighter bound per request should use a context deadline instead.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements stt.Transcriber over HTTP.
type Provider struct {
	serverURL  string
	endpoint   string
	language   string
	httpClient *http.Client
}

// New creates a Provider for the service at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("remote: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		endpoint:  defaultEndpoint,
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

// Transcribe POSTs audio as the multipart "file" field and returns the text
// field of the JSON response.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", stt.ErrEmptyAudio
	}
	if filename == "" {
		filename = "audio.wav"
	}

	ctx, span := tracer.Start(ctx, "remote transcribe")
	defer span.End()
	span.SetAttributes(attribute.Int("stt.audio_bytes", len(audio)), attribute.String("stt.filename", filename))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("remote: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("remote: write audio data: %w", err)
	}
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return "", fmt.Errorf("remote: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("remote: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+p.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return "", fmt.Errorf("remote: http request: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &stt.StatusError{Status: resp.StatusCode, Message: errorMessage(raw)}
		span.RecordError(serr)
		span.SetStatus(codes.Error, "upstream status")
		logger.WarnContext(ctx, "remote: transcription rejected", "status", resp.StatusCode)
		return "", serr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("remote: read response body: %w", err)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("remote: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// errorMessage extracts {"error"} or {"detail"} from a failure body, falling
// back to the trimmed text.
func errorMessage(raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return strings.TrimSpace(string(raw))
}
