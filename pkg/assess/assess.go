// Package assess submits a recorded utterance together with its reference
// text to a transcription endpoint and returns the scored result.
//
// Exactly one request is made per Submit call; retrying is left to the
// caller, who can tell a timeout ([ErrTimeout]) from a server failure
// ([*RemoteServiceError]).
package assess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/parlons/internal/scoring"
	"github.com/MrWong99/parlons/pkg/audio/capture"
)

// DefaultTimeout bounds a single submission.
const DefaultTimeout = 15 * time.Second

const (
	endpoint     = "/api/transcribe"
	maxErrorBody = 4096
)

// ErrTimeout is returned (wrapped) when the request exceeded its deadline.
var ErrTimeout = errors.New("assess: transcription timed out")

// RemoteServiceError reports a non-success HTTP status from the endpoint.
type RemoteServiceError struct {
	Status  int
	Message string
}

func (e *RemoteServiceError) Error() string {
	return "assess: " + e.Message
}

// Word is the assessment of one reference word.
type Word struct {
	Reference  string  `json:"reference"`
	Actual     *string `json:"actual"`
	Correct    bool    `json:"correct"`
	Similarity float64 `json:"similarity,omitempty"`
}

// Result is a scored submission.
type Result struct {
	Transcript string  `json:"transcript"`
	Score      float64 `json:"score"`
	Words      []Word  `json:"words"`
}

// Option is a functional option for configuring a [Submitter].
type Option func(*Submitter)

// WithTimeout sets the per-submission timeout. Defaults to [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Submitter) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// Submitter posts recordings for assessment. It is safe for concurrent use.
type Submitter struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Submitter for the server at baseURL.
func New(baseURL string, opts ...Option) (*Submitter, error) {
	if baseURL == "" {
		return nil, errors.New("assess: baseURL must not be empty")
	}
	s := &Submitter{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// response accepts both the scored shape and a bare {text} transcript.
type response struct {
	Transcript *string  `json:"transcript"`
	Text       *string  `json:"text"`
	Score      *float64 `json:"score"`
	Words      []Word   `json:"words"`
}

// Submit uploads blob as the multipart "file" field to
// <base>/api/transcribe?referenceText=<reference>. When the server returns a
// bare transcript the score is computed locally.
func (s *Submitter) Submit(ctx context.Context, blob capture.Blob, reference string) (*Result, error) {
	body, contentType, err := encodeForm(blob)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reqURL := s.baseURL + endpoint + "?referenceText=" + url.QueryEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("assess: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, fmt.Errorf("assess: POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RemoteServiceError{Status: resp.StatusCode, Message: serverMessage(raw, resp.StatusCode)}
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, fmt.Errorf("assess: decode response: %w", err)
	}
	return r.result(reference)
}

func (r response) result(reference string) (*Result, error) {
	var transcript string
	switch {
	case r.Transcript != nil:
		transcript = *r.Transcript
	case r.Text != nil:
		transcript = *r.Text
	default:
		return nil, errors.New("assess: response has no transcript")
	}

	if r.Score != nil && r.Words != nil {
		return &Result{Transcript: transcript, Score: *r.Score, Words: r.Words}, nil
	}

	scored := scoring.Score(reference, transcript)
	res := &Result{Transcript: transcript, Score: scored.Score, Words: make([]Word, len(scored.Words))}
	for i, w := range scored.Words {
		res.Words[i] = Word{Reference: w.Reference, Actual: w.Actual, Correct: w.Correct, Similarity: w.Similarity}
	}
	return res, nil
}

func encodeForm(blob capture.Blob) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filenameFor(blob.MIMEType))
	if err != nil {
		return nil, "", fmt.Errorf("assess: create form file: %w", err)
	}
	if _, err := fw.Write(blob.Data); err != nil {
		return nil, "", fmt.Errorf("assess: write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("assess: close multipart writer: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// filenameFor picks an upload filename whose extension matches the MIME
// type, since transcription servers sniff the container from it.
func filenameFor(mimeType string) string {
	base, _, _ := mime.ParseMediaType(mimeType)
	switch base {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "recording.wav"
	case "audio/webm":
		return "recording.webm"
	case "audio/ogg":
		return "recording.ogg"
	case "audio/mpeg":
		return "recording.mp3"
	default:
		return "recording.wav"
	}
}

func serverMessage(raw []byte, status int) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return fmt.Sprintf("transcription failed with status %d", status)
}
