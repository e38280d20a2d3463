// Package proxy is the client for a parlons server's POST /api/tts
// endpoint. It lets terminal and other remote clients synthesize speech
// without talking to the TTS backend directly.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/parlons/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Client)(nil)

const (
	endpoint       = "/api/tts"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithTimeout sets the per-request timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.httpClient.Timeout = d }
}

// Client implements tts.Synthesizer against a parlons server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("proxy: baseURL must not be empty")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type request struct {
	Text string `json:"text"`
	Lang string `json:"lang,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Synthesize posts {text, lang} and returns the audio body. A failure body is
// surfaced as a *tts.StatusError carrying the server's {error} field or, when
// the body is not JSON, its plain text.
func (c *Client) Synthesize(ctx context.Context, text, lang string) ([]byte, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", tts.ErrEmptyText
	}
	body, err := json.Marshal(request{Text: text, Lang: lang})
	if err != nil {
		return nil, "", fmt.Errorf("proxy: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("proxy: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("proxy: POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, "", &tts.StatusError{Status: resp.StatusCode, Message: failureMessage(raw)}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("proxy: read audio: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return audio, ct, nil
}

func failureMessage(raw []byte) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error != "" {
		return eb.Error
	}
	return strings.TrimSpace(string(raw))
}
