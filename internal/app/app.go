// Package app wires the parlons server subsystems into a running HTTP
// service.
//
// The App struct owns the full lifecycle: New wraps the upstream clients in
// circuit breakers and builds the route tree, Run serves until its context
// ends, and Shutdown drains in-flight requests and tears everything down in
// order.
//
// For testing, inject a listener or metrics via functional options and pass
// mock upstream clients in [Providers].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/parlons/internal/api"
	"github.com/MrWong99/parlons/internal/config"
	"github.com/MrWong99/parlons/internal/health"
	"github.com/MrWong99/parlons/internal/observe"
	"github.com/MrWong99/parlons/internal/resilience"
	"github.com/MrWong99/parlons/pkg/provider/stt"
	"github.com/MrWong99/parlons/pkg/provider/tts"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds the upstream clients built by main.go via the config
// registry, primary first. An empty slice means the upstream is not
// configured and its route answers 502.
type Providers struct {
	Transcribers []stt.Transcriber
	Synthesizers []tts.Synthesizer
}

// App owns all subsystem lifetimes of the practice server.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics  *observe.Metrics
	level    *slog.LevelVar
	listener net.Listener

	transcription *resilience.STTFallback
	speech        *resilience.TTSFallback
	api           *api.Handler
	health        *health.Handler
	handler       http.Handler
	server        *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics injects the instruments instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener serves on l instead of listening on cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithLevelVar lets [App.ApplyConfig] change the log level live.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// New creates an App by wiring upstreams, routes and probes together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Upstreams behind breakers ─────────────────────────────────────
	a.initUpstreams()

	// ── 2. Routes ────────────────────────────────────────────────────────
	a.initRoutes()

	// ── 3. HTTP server ───────────────────────────────────────────────────
	if err := a.initServer(ctx); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) breakerConfig() resilience.FallbackConfig {
	r := a.cfg.Resilience
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  r.MaxFailures,
			ResetTimeout: r.ResetTimeout,
			HalfOpenMax:  r.HalfOpenMax,
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordCircuitTransition(name, to.String())
			},
		},
	}
}

// initUpstreams wraps every configured client in a fallback group, one
// breaker per base URL.
func (a *App) initUpstreams() {
	cbCfg := a.breakerConfig()

	if ts := a.providers.Transcribers; len(ts) > 0 {
		a.transcription = resilience.NewSTTFallback(ts[0], upstreamName("transcription", 0), cbCfg)
		for i, t := range ts[1:] {
			a.transcription.AddFallback(upstreamName("transcription", i+1), t)
		}
		slog.Info("transcription upstream ready", "instances", len(ts))
	} else {
		slog.Warn("no transcription upstream configured; /api/transcribe will answer 502")
	}

	if ss := a.providers.Synthesizers; len(ss) > 0 {
		a.speech = resilience.NewTTSFallback(ss[0], upstreamName("speech", 0), cbCfg)
		for i, s := range ss[1:] {
			a.speech.AddFallback(upstreamName("speech", i+1), s)
		}
		slog.Info("speech upstream ready", "instances", len(ss))
	} else {
		slog.Warn("no speech upstream configured; /api/tts will answer 502")
	}
}

func upstreamName(kind string, i int) string {
	if i == 0 {
		return kind
	}
	return fmt.Sprintf("%s-fallback-%d", kind, i)
}

// initRoutes builds the API, the probes and /metrics behind the
// observability middleware.
func (a *App) initRoutes() {
	opts := []api.Option{
		api.WithMetrics(a.metrics),
		api.WithTranscribeTimeout(a.cfg.Transcription.Timeout),
		api.WithSynthesizeTimeout(a.cfg.Speech.Timeout),
		api.WithDefaultLanguage(a.cfg.Speech.Language),
		api.WithMaxUploadBytes(a.cfg.Server.MaxUploadBytes),
	}
	var checkers []health.Checker
	if a.transcription != nil {
		opts = append(opts, api.WithTranscriber(a.transcription))
		checkers = append(checkers, health.UpstreamChecker("transcription", a.transcription.Group()))
	}
	if a.speech != nil {
		opts = append(opts, api.WithSynthesizer(a.speech))
		checkers = append(checkers, health.UpstreamChecker("speech", a.speech.Group()))
	}
	a.api = api.New(opts...)
	a.health = health.New(checkers...)

	mux := http.NewServeMux()
	a.api.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	a.handler = observe.Middleware(a.metrics)(mux)
}

func (a *App) initServer(ctx context.Context) error {
	if a.listener == nil {
		var lc net.ListenConfig
		l, err := lc.Listen(ctx, "tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %q: %w", a.cfg.Server.ListenAddr, err)
		}
		a.listener = l
	}
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	return nil
}

// Handler returns the root HTTP handler, including middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the address the server listens on.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then returns ctx.Err(). A serve
// failure is returned immediately.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(a.listener)
		}
		errCh <- err
	}()

	slog.Info("app running", "addr", a.listener.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ApplyConfig applies the live-reloadable part of a changed config and
// logs everything that needs a restart. It is the onChange callback for
// [config.NewWatcher].
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TranscribeTimeoutChanged {
		a.api.SetTranscribeTimeout(d.NewTranscribeTimeout)
		slog.Info("transcription timeout changed", "timeout", d.NewTranscribeTimeout)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "settings", d.RestartRequired)
	}
}

// OnClose registers fn to run during Shutdown after the server has drained.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx
// ends and then runs the registered closers in order. Safe to call more
// than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}
		// Serve closes the listener itself; this covers an App that never ran.
		_ = a.listener.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
