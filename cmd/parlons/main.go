// Command parlons is the pronunciation-practice API server: it proxies
// recordings to a transcription service, scores them against the reference
// text and proxies speech synthesis for lesson audio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MrWong99/parlons/internal/app"
	"github.com/MrWong99/parlons/internal/config"
	"github.com/MrWong99/parlons/internal/observe"
	"github.com/MrWong99/parlons/pkg/provider/stt"
	"github.com/MrWong99/parlons/pkg/provider/stt/deepgram"
	"github.com/MrWong99/parlons/pkg/provider/stt/remote"
	"github.com/MrWong99/parlons/pkg/provider/stt/whisper"
	"github.com/MrWong99/parlons/pkg/provider/tts"
	"github.com/MrWong99/parlons/pkg/provider/tts/coqui"
	"github.com/MrWong99/parlons/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/parlons/pkg/provider/tts/proxy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults and environment only when empty)")
	watch := flag.Bool("watch", true, "reload log level and transcription timeout when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parlons: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parlons: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(level))

	slog.Info("parlons starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLevelVar(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	application.OnClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTelemetry(ctx)
	})
	for _, t := range providers.Transcribers {
		if c, ok := t.(io.Closer); ok {
			application.OnClose(c.Close)
		}
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch && *configPath != "" {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			application.OnClose(func() error {
				w.Stop()
				return nil
			})
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the upstream clients that ship with parlons
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTranscriber("remote", func(baseURL string, u config.UpstreamConfig) (stt.Transcriber, error) {
		opts := []remote.Option{remote.WithLanguage(u.Language)}
		if ep := u.Options["endpoint"]; ep != "" {
			opts = append(opts, remote.WithEndpoint(ep))
		}
		return remote.New(baseURL, opts...)
	})

	reg.RegisterTranscriber("deepgram", func(baseURL string, u config.UpstreamConfig) (stt.Transcriber, error) {
		return deepgram.New(u.APIKey,
			deepgram.WithBaseURL(baseURL),
			deepgram.WithLanguage(u.Language),
			deepgram.WithModel(u.Options["model"]),
		)
	})

	// whisper-native runs in-process from ModelPath; baseURL is empty.
	reg.RegisterTranscriber("whisper-native", func(_ string, u config.UpstreamConfig) (stt.Transcriber, error) {
		opts := []whisper.NativeOption{whisper.WithNativeLanguage(u.Language)}
		if n, err := strconv.Atoi(u.Options["concurrency"]); err == nil {
			opts = append(opts, whisper.WithNativeConcurrency(n))
		}
		return whisper.NewNative(u.ModelPath, opts...)
	})

	reg.RegisterSynthesizer("coqui", func(baseURL string, u config.UpstreamConfig) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if u.Language != "" {
			opts = append(opts, coqui.WithLanguage(u.Language))
		}
		if speaker := u.Options["speaker"]; speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		return coqui.New(baseURL, opts...)
	})

	// proxy chains to another parlons server's /api/tts.
	reg.RegisterSynthesizer("proxy", func(baseURL string, _ config.UpstreamConfig) (tts.Synthesizer, error) {
		return proxy.New(baseURL)
	})

	reg.RegisterSynthesizer("elevenlabs", func(baseURL string, u config.UpstreamConfig) (tts.Synthesizer, error) {
		return elevenlabs.New(u.APIKey, u.Options["voice_id"],
			elevenlabs.WithBaseURL(baseURL),
			elevenlabs.WithLanguage(u.Language),
			elevenlabs.WithModel(u.Options["model"]),
			elevenlabs.WithOutputFormat(u.Options["output_format"]),
		)
	})

	for _, kind := range []string{
		"transcription:remote", "transcription:deepgram", "transcription:whisper-native",
		"speech:coqui", "speech:proxy", "speech:elevenlabs",
	} {
		slog.Debug("registered provider", "provider", kind)
	}
}

// buildProviders instantiates the configured upstream clients, primary
// first, and returns them for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	ts, err := reg.CreateTranscribers(cfg.Transcription)
	if err != nil {
		return nil, fmt.Errorf("create transcription provider %q: %w", cfg.Transcription.Provider, err)
	}
	ps.Transcribers = ts
	if len(ts) > 0 {
		slog.Info("provider created", "kind", "transcription", "name", cfg.Transcription.Provider, "instances", len(ts))
	}

	ss, err := reg.CreateSynthesizers(cfg.Speech)
	if err != nil {
		return nil, fmt.Errorf("create speech provider %q: %w", cfg.Speech.Provider, err)
	}
	ps.Synthesizers = ss
	if len(ss) > 0 {
		slog.Info("provider created", "kind", "speech", "name", cfg.Speech.Provider, "instances", len(ss))
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Parlons — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printUpstream("Transcription", cfg.Transcription)
	printUpstream("Speech", cfg.Speech)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Printf("║  STT timeout     : %-19s ║\n", cfg.Transcription.Timeout)
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printUpstream(kind string, u config.UpstreamConfig) {
	value := "(not configured)"
	if u.BaseURL != "" || u.ModelPath != "" {
		value = u.Provider
		if n := len(u.FallbackBaseURLs); n > 0 {
			value = fmt.Sprintf("%s +%d fallback", u.Provider, n)
		}
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
