// Package elevenlabs provides a tts.Synthesizer backed by the ElevenLabs
// stream-input WebSocket API.
//
// One call opens a socket, sends the begin-of-input handshake, the text and
// an empty flush message, then collects the base64 audio chunks until the
// server marks the stream final. MP3 output is returned as is; raw PCM
// output formats are wrapped in a WAV header so players can decode them.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/parlons/pkg/audio"
	"github.com/MrWong99/parlons/pkg/provider/tts"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "mp3_44100_128"

	// readLimit bounds one JSON message; audio chunks are a few KiB each.
	readLimit = 4 << 20
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Provider)(nil)

var tracer = otel.Tracer("github.com/MrWong99/parlons/pkg/provider/tts/elevenlabs")

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOutputFormat sets the audio output format (e.g., "mp3_44100_128",
// "pcm_16000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		if format != "" {
			p.outputFormat = format
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

// WithLanguage sets the language code sent when the caller passes none.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// Provider implements tts.Synthesizer backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	voiceID      string
	baseURL      string
	model        string
	outputFormat string
	language     string
}

// New creates a new ElevenLabs Provider for one voice. apiKey and voiceID
// must be non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		voiceID:      voiceID,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := p.buildURL(""); err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey             string         `json:"xi_api_key,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// buildURL constructs the stream-input URL. An empty lang omits the
// language_code parameter and lets the model detect it.
func (p *Provider) buildURL(lang string) (string, error) {
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
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/text-to-speech/" + p.voiceID + "/stream-input"

	q := u.Query()
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	if lang != "" {
		q.Set("language_code", lang)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Synthesize renders text and returns the complete audio with its MIME type.
func (p *Provider) Synthesize(ctx context.Context, text, lang string) ([]byte, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, "", tts.ErrEmptyText
	}
	if lang == "" {
		lang = p.language
	}

	ctx, span := tracer.Start(ctx, "elevenlabs synthesize")
	defer span.End()
	span.SetAttributes(
		attribute.Int("tts.text_length", len(text)),
		attribute.String("tts.language", lang),
		attribute.String("tts.model", p.model),
	)

	data, err := p.synthesize(ctx, text, lang)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return nil, "", err
	}
	out, contentType := wrapOutput(data, p.outputFormat)
	span.SetAttributes(attribute.Int("tts.audio_bytes", len(out)))
	return out, contentType, nil
}

func (p *Provider) synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	wsURL, err := p.buildURL(lang)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build URL: %w", err)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &tts.StatusError{Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	// ElevenLabs requires a non-empty first text value; the trailing space on
	// the real text and the empty message flush the generation.
	for _, msg := range []textMessage{
		{Text: " ", VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}, XiAPIKey: p.apiKey},
		{Text: text + " ", TryTriggerGeneration: true},
		{Text: ""},
	} {
		b, _ := json.Marshal(msg)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return nil, fmt.Errorf("elevenlabs: send text: %w", err)
		}
	}

	var buf bytes.Buffer
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var ar audioResponse
		if err := json.Unmarshal(msg, &ar); err != nil {
			continue
		}
		if ar.Error != "" {
			return nil, fmt.Errorf("elevenlabs: server error: %s: %s", ar.Error, ar.Message)
		}
		if ar.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(ar.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			buf.Write(chunk)
		}
		if ar.IsFinal {
			conn.Close(websocket.StatusNormalClosure, "done")
			break
		}
	}
	if buf.Len() == 0 {
		return nil, errors.New("elevenlabs: server returned no audio")
	}
	return buf.Bytes(), nil
}

// wrapOutput returns data with the MIME type of format. pcm_<rate> output is
// 16-bit little-endian mono and gets a WAV header.
func wrapOutput(data []byte, format string) ([]byte, string) {
	codec, rest, _ := strings.Cut(format, "_")
	switch codec {
	case "pcm":
		rate, err := strconv.Atoi(rest)
		if err != nil || rate <= 0 {
			rate = 16000
		}
		samples := make([]int16, len(data)/2)
		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
		}
		return audio.EncodeWAV(samples, audio.Format{SampleRate: rate, Channels: 1}), "audio/wav"
	case "ulaw":
		return data, "audio/basic"
	default:
		return data, "audio/mpeg"
	}
}
