package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvTranscribeBaseURL = "PARLONS_TRANSCRIBE_BASE_URL"
	EnvTranscribeTimeout = "PARLONS_TRANSCRIBE_TIMEOUT"
	EnvTTSBaseURL        = "PARLONS_TTS_BASE_URL"
	EnvTranscribeAPIKey  = "PARLONS_TRANSCRIBE_API_KEY"
	EnvTTSAPIKey         = "PARLONS_TTS_API_KEY"
	EnvListenAddr        = "PARLONS_LISTEN_ADDR"
	EnvLogLevel          = "PARLONS_LOG_LEVEL"
)

// ValidProviderNames lists known provider names per upstream.
var ValidProviderNames = map[string][]string{
	"transcription": {"remote", "deepgram", "whisper-native"},
	"speech":        {"coqui", "proxy", "elevenlabs"},
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. An empty path yields the defaults
// plus environment overrides.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
	}
	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		if path == "" {
			return nil, err
		}
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates it. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, func(string) (string, bool) { return "", false })
}

func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the PARLONS_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvTranscribeBaseURL); ok && v != "" {
		cfg.Transcription.BaseURL = v
	}
	if v, ok := lookup(EnvTranscribeTimeout); ok && v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvTranscribeTimeout, err)
		}
		cfg.Transcription.Timeout = d
	}
	if v, ok := lookup(EnvTTSBaseURL); ok && v != "" {
		cfg.Speech.BaseURL = v
	}
	if v, ok := lookup(EnvTranscribeAPIKey); ok && v != "" {
		cfg.Transcription.APIKey = v
	}
	if v, ok := lookup(EnvTTSAPIKey); ok && v != "" {
		cfg.Speech.APIKey = v
	}
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		cfg.Server.ListenAddr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	return nil
}

// parseTimeout accepts a Go duration ("15s") or a bare number of
// milliseconds ("15000").
func parseTimeout(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		cfg.Server.MaxUploadBytes = 10 << 20
	}

	if cfg.Transcription.Provider == "" {
		cfg.Transcription.Provider = "remote"
	}
	if cfg.Transcription.Timeout <= 0 {
		cfg.Transcription.Timeout = DefaultTranscribeTimeout
	}

	if cfg.Speech.Provider == "" {
		cfg.Speech.Provider = "coqui"
	}
	if cfg.Speech.Language == "" {
		cfg.Speech.Language = DefaultSpeechLanguage
	}
	if cfg.Speech.Timeout <= 0 {
		cfg.Speech.Timeout = DefaultSpeechTimeout
	}

	if cfg.Resilience.MaxFailures <= 0 {
		cfg.Resilience.MaxFailures = DefaultMaxFailures
	}
	if cfg.Resilience.ResetTimeout <= 0 {
		cfg.Resilience.ResetTimeout = DefaultResetTimeout
	}

	p := &cfg.Practice
	if p.SilenceThreshold == 0 {
		p.SilenceThreshold = DefaultSilenceThreshold
	}
	if p.SilenceDuration <= 0 {
		p.SilenceDuration = DefaultSilenceDuration
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.SequenceDelay == 0 {
		p.SequenceDelay = DefaultSequenceDelay
	}
	if p.SubmitTimeout <= 0 {
		p.SubmitTimeout = DefaultSubmitTimeout
	}
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	errs = append(errs, validateUpstream("transcription", cfg.Transcription)...)
	errs = append(errs, validateUpstream("speech", cfg.Speech)...)

	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures))
	}

	p := cfg.Practice
	if p.SilenceThreshold < 0 || p.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("practice.silence_threshold %.2f is out of range [0, 1]", p.SilenceThreshold))
	}
	if p.SequenceDelay < 0 {
		errs = append(errs, fmt.Errorf("practice.sequence_delay %v must not be negative", p.SequenceDelay))
	}
	if p.ServerURL != "" {
		if err := checkURL(p.ServerURL); err != nil {
			errs = append(errs, fmt.Errorf("practice.server_url: %w", err))
		}
	}

	return errors.Join(errs...)
}

func validateUpstream(section string, u UpstreamConfig) []error {
	var errs []error
	switch {
	case u.BaseURL == "" && u.ModelPath != "":
	case u.BaseURL == "":
		slog.Warn("upstream base_url not configured; the route will answer 502", "section", section)
	default:
		if err := checkURL(u.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("%s.base_url: %w", section, err))
		}
	}
	for i, fb := range u.FallbackBaseURLs {
		if err := checkURL(fb); err != nil {
			errs = append(errs, fmt.Errorf("%s.fallback_base_urls[%d]: %w", section, i, err))
		}
	}
	if u.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout %v must not be negative", section, u.Timeout))
	}
	if u.Provider == "whisper-native" && u.ModelPath == "" {
		errs = append(errs, fmt.Errorf("%s.model_path is required for provider whisper-native", section))
	}
	if u.ModelPath != "" && u.Provider != "whisper-native" {
		errs = append(errs, fmt.Errorf("%s.model_path is only supported by provider whisper-native", section))
	}
	if (u.Provider == "deepgram" || u.Provider == "elevenlabs") && u.BaseURL != "" && u.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s.api_key is required for provider %s", section, u.Provider))
	}
	if u.Provider != "" && !slices.Contains(ValidProviderNames[section], u.Provider) {
		errs = append(errs, fmt.Errorf("%s.provider %q is unknown; valid values: %s", section, u.Provider, strings.Join(ValidProviderNames[section], ", ")))
	}
	return errs
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http or https url", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
