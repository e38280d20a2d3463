// Package api serves the HTTP routes of the practice server:
//
//   - POST /api/transcribe?referenceText=... takes a multipart "file" upload,
//     forwards it to the transcription upstream and answers the scored
//     transcript {transcript, score, words}.
//   - POST /api/tts takes {text, lang} and answers the synthesized audio.
//
// Failures answer a JSON {error} body: 400 for bad input, 502 when the
// upstream fails or its circuit is open, 504 when it times out. Nothing is
// retried.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/parlons/internal/observe"
	"github.com/MrWong99/parlons/internal/resilience"
	"github.com/MrWong99/parlons/internal/scoring"
	"github.com/MrWong99/parlons/pkg/provider/stt"
	"github.com/MrWong99/parlons/pkg/provider/tts"
)

// Defaults for a [Handler] built without options.
const (
	DefaultTranscribeTimeout = 15 * time.Second
	DefaultSynthesizeTimeout = 20 * time.Second
	DefaultMaxUploadBytes    = 10 << 20
	DefaultLanguage          = "fr"

	maxTTSBodyBytes = 64 << 10
)

// Messages returned in the {error} body.
const (
	msgTranscribeTimeout = "transcription timed out"
	msgSynthesizeTimeout = "speech synthesis timed out"
	msgMissingFile       = "missing audio file"
	msgMissingText       = "text is required"
)

// Option is a functional option for configuring a [Handler].
type Option func(*Handler)

// WithTranscriber sets the transcription upstream.
func WithTranscriber(t stt.Transcriber) Option {
	return func(h *Handler) { h.stt = t }
}

// WithSynthesizer sets the speech synthesis upstream.
func WithSynthesizer(s tts.Synthesizer) Option {
	return func(h *Handler) { h.tts = s }
}

// WithTranscribeTimeout bounds each transcription upstream call.
func WithTranscribeTimeout(d time.Duration) Option {
	return func(h *Handler) { h.SetTranscribeTimeout(d) }
}

// WithSynthesizeTimeout bounds each synthesis upstream call.
func WithSynthesizeTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.synthTimeout = d
		}
	}
}

// WithDefaultLanguage sets the language used when a TTS request has none.
func WithDefaultLanguage(lang string) Option {
	return func(h *Handler) {
		if lang != "" {
			h.lang = lang
		}
	}
}

// WithMaxUploadBytes bounds a recording upload.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// WithMetrics sets the instruments to record to.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) {
		if m != nil {
			h.metrics = m
		}
	}
}

// Handler serves the practice routes. It is safe for concurrent use.
type Handler struct {
	stt          stt.Transcriber
	tts          tts.Synthesizer
	synthTimeout time.Duration
	lang         string
	maxUpload    int64
	metrics      *observe.Metrics

	transcribeTimeout atomic.Int64
	speech            singleflight.Group
}

// New creates a [Handler]. Routes whose upstream is not configured answer
// 502.
func New(opts ...Option) *Handler {
	h := &Handler{
		synthTimeout: DefaultSynthesizeTimeout,
		lang:         DefaultLanguage,
		maxUpload:    DefaultMaxUploadBytes,
	}
	h.transcribeTimeout.Store(int64(DefaultTranscribeTimeout))
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// SetTranscribeTimeout changes the transcription bound for subsequent
// requests. Non-positive values are ignored.
func (h *Handler) SetTranscribeTimeout(d time.Duration) {
	if d > 0 {
		h.transcribeTimeout.Store(int64(d))
	}
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/transcribe", h.Transcribe)
	mux.HandleFunc("POST /api/tts", h.TTS)
}

// Transcribe handles POST /api/transcribe.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("recording exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, msgMissingFile)
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read audio file: "+err.Error())
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, msgMissingFile)
		return
	}
	if h.stt == nil {
		writeError(w, http.StatusBadGateway, "transcription service not configured")
		return
	}

	reference := r.URL.Query().Get("referenceText")
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("parlons.audio.bytes", len(audio)),
		attribute.Int("parlons.reference.length", len(reference)),
	)

	timeout := time.Duration(h.transcribeTimeout.Load())
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	text, err := h.stt.Transcribe(callCtx, audio, hdr.Filename)
	cancel()
	h.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		status, msg, kind := classify(err, msgTranscribeTimeout)
		h.metrics.RecordUpstreamRequest(ctx, "transcription", "error")
		h.metrics.RecordUpstreamError(ctx, "transcription", kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		log.Warn("api: transcription failed", "err", err, "kind", kind, "timeout", timeout)
		writeError(w, status, msg)
		return
	}
	h.metrics.RecordUpstreamRequest(ctx, "transcription", "ok")

	res := scoring.Score(reference, text)
	h.metrics.AssessmentScore.Record(ctx, res.Score)
	log.Debug("api: assessed recording", "words", len(res.Words), "score", res.Score)
	writeJSON(w, http.StatusOK, res)
}

type ttsRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

type ttsResult struct {
	audio       []byte
	contentType string
}

// TTS handles POST /api/tts. Concurrent requests for the same text and
// language share one upstream call.
func (h *Handler) TTS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var req ttsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTTSBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, msgMissingText)
		return
	}
	lang := req.Lang
	if lang == "" {
		lang = h.lang
	}
	if h.tts == nil {
		writeError(w, http.StatusBadGateway, "speech synthesis not configured")
		return
	}

	// The shared call must outlive any single caller's cancellation.
	callCtx := context.WithoutCancel(ctx)
	v, err, shared := h.speech.Do(lang+"\x00"+text, func() (any, error) {
		cctx, cancel := context.WithTimeout(callCtx, h.synthTimeout)
		defer cancel()
		start := time.Now()
		audio, ct, err := h.tts.Synthesize(cctx, text, lang)
		h.metrics.TTSDuration.Record(callCtx, time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}
		return ttsResult{audio: audio, contentType: ct}, nil
	})
	if shared {
		h.metrics.TTSShared.Add(ctx, 1)
	}
	if err != nil {
		status, msg, kind := classify(err, msgSynthesizeTimeout)
		h.metrics.RecordUpstreamRequest(ctx, "speech", "error")
		h.metrics.RecordUpstreamError(ctx, "speech", kind)
		trace.SpanFromContext(ctx).RecordError(err)
		log.Warn("api: synthesis failed", "err", err, "kind", kind, "lang", lang)
		writeError(w, status, msg)
		return
	}
	h.metrics.RecordUpstreamRequest(ctx, "speech", "ok")

	res := v.(ttsResult)
	ct := res.contentType
	if ct == "" {
		ct = "audio/mpeg"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", fmt.Sprint(len(res.audio)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.audio)
}

// classify maps an upstream error to a status, a client message and a
// metric kind.
func classify(err error, timeoutMsg string) (status int, msg, kind string) {
	var (
		sttErr *stt.StatusError
		ttsErr *tts.StatusError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, timeoutMsg, "timeout"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusBadGateway, "upstream temporarily unavailable", "circuit_open"
	case errors.As(err, &sttErr):
		return http.StatusBadGateway, upstreamMessage(sttErr.Status, sttErr.Message), "status"
	case errors.As(err, &ttsErr):
		return http.StatusBadGateway, upstreamMessage(ttsErr.Status, ttsErr.Message), "status"
	default:
		return http.StatusBadGateway, "upstream request failed", "transport"
	}
}

func upstreamMessage(status int, message string) string {
	if message != "" {
		return message
	}
	return fmt.Sprintf("upstream failed with status %d", status)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}
