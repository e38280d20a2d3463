// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher of the parlons server and drill client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the slog level; unknown values map to Info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultTranscribeTimeout = 15 * time.Second
	DefaultSpeechTimeout     = 20 * time.Second
	DefaultSpeechLanguage    = "fr"
	DefaultMaxFailures       = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultSilenceThreshold  = 0.5
	DefaultSilenceDuration   = 1500 * time.Millisecond
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultSequenceDelay     = 1500 * time.Millisecond
	DefaultSubmitTimeout     = 15 * time.Second
)

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server        ServerConfig     `yaml:"server"`
	Transcription UpstreamConfig   `yaml:"transcription"`
	Speech        UpstreamConfig   `yaml:"speech"`
	Resilience    ResilienceConfig `yaml:"resilience"`
	Practice      PracticeConfig   `yaml:"practice"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the API (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// MaxUploadBytes bounds a recording upload. Default: 10 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM file paths for serving HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// UpstreamConfig describes one remote speech service and its optional
// fallbacks.
type UpstreamConfig struct {
	// Provider selects the client registered in the [Registry]
	// ("remote", "deepgram" or "whisper-native" for transcription;
	// "coqui", "proxy" or "elevenlabs" for speech).
	Provider string `yaml:"provider"`

	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against hosted services (deepgram, elevenlabs).
	APIKey string `yaml:"api_key"`

	// ModelPath points at a local model file for in-process providers
	// (whisper-native). Such providers need no BaseURL.
	ModelPath string `yaml:"model_path"`

	// FallbackBaseURLs are tried in order, with the same provider, when
	// BaseURL fails or its circuit is open.
	FallbackBaseURLs []string `yaml:"fallback_base_urls"`

	// Language is the default BCP-47 language passed upstream.
	Language string `yaml:"language"`

	// Timeout bounds one upstream call.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific values, e.g. "speaker" for coqui,
	// "endpoint" for remote, "model" for deepgram or "voice_id" for
	// elevenlabs.
	Options map[string]string `yaml:"options"`
}

// ResilienceConfig tunes the circuit breakers in front of each upstream.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// PracticeConfig holds the client-side practice defaults.
type PracticeConfig struct {
	// SilenceThreshold is the normalized level below which input counts as
	// silence.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SilenceDuration is the contiguous silence that stops a recording.
	SilenceDuration time.Duration `yaml:"silence_duration"`

	// PollInterval is the silence watchdog cadence.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SequenceDelay is the pause between items of a played sequence.
	SequenceDelay time.Duration `yaml:"sequence_delay"`

	// SubmitTimeout bounds one assessment submission.
	SubmitTimeout time.Duration `yaml:"submit_timeout"`

	// ServerURL is the parlons API used by the drill client.
	ServerURL string `yaml:"server_url"`
}
