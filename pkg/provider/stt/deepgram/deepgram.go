// Package deepgram provides an stt.Transcriber backed by the Deepgram
// live-transcription WebSocket API.
//
// A finished recording is streamed as binary frames, followed by a
// CloseStream message. Deepgram then flushes its final results and closes
// the socket; the final transcripts are joined into one string. Containerized
// audio (WAV, WebM) is detected by the server, so no encoding parameters are
// sent.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/parlons/pkg/provider/stt"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	listenPath      = "/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "fr"

	// chunkSize is the size of each binary frame sent upstream.
	chunkSize = 8 << 10

	// readLimit bounds a single JSON message from the server.
	readLimit = 1 << 20
)

// Compile-time interface assertion.
var _ stt.Transcriber = (*Provider)(nil)

var tracer = otel.Tracer("github.com/MrWong99/parlons/pkg/provider/stt/deepgram")

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "fr",
// "fr-CA"). Defaults to "fr".
func WithLanguage(language string) Option {
	return func(p *Provider) {
		if language != "" {
			p.language = language
		}
	}
}

// WithBaseURL points the provider at another host. http and https URLs are
// mapped to ws and wss.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		if base != "" {
			p.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// Provider implements stt.Transcriber backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	baseURL  string
	model    string
	language string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := p.buildURL(); err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	return p, nil
}

// buildURL constructs the streaming endpoint URL.
func (p *Provider) buildURL() (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + listenPath

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "false")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Transcribe streams audio to Deepgram and returns the joined final
// transcripts. filename is unused; the container is sniffed upstream.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, _ string) (string, error) {
	if len(audio) == 0 {
		return "", stt.ErrEmptyAudio
	}

	ctx, span := tracer.Start(ctx, "deepgram transcribe")
	defer span.End()
	span.SetAttributes(attribute.Int("stt.audio_bytes", len(audio)), attribute.String("stt.model", p.model))

	text, err := p.transcribe(ctx, audio)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return "", err
	}
	return text, nil
}

func (p *Provider) transcribe(ctx context.Context, audio []byte) (string, error) {
	wsURL, err := p.buildURL()
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return "", &stt.StatusError{Status: resp.StatusCode, Message: resp.Header.Get("dg-error")}
		}
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	for off := 0; off < len(audio); off += chunkSize {
		end := min(off+chunkSize, len(audio))
		if err := conn.Write(ctx, websocket.MessageBinary, audio[off:end]); err != nil {
			return "", fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return "", fmt.Errorf("deepgram: send close stream: %w", err)
	}

	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}
		text, final, err := parseDeepgramResponse(msg)
		if err != nil {
			return "", err
		}
		if final && text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results
// or Error event.
type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	Description string `json:"description"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse extracts the transcript of a Results message.
// Metadata and other message types yield ("", false, nil).
func parseDeepgramResponse(data []byte) (text string, final bool, err error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, nil
	}
	switch resp.Type {
	case "Results":
	case "Error":
		return "", false, fmt.Errorf("deepgram: server error: %s", resp.Description)
	default:
		return "", false, nil
	}
	if len(resp.Channel.Alternatives) == 0 {
		return "", resp.IsFinal, nil
	}
	return strings.TrimSpace(resp.Channel.Alternatives[0].Transcript), resp.IsFinal, nil
}
