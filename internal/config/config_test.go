package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parlons/internal/config"
	"github.com/MrWong99/parlons/pkg/provider/stt"
	sttmock "github.com/MrWong99/parlons/pkg/provider/stt/mock"
	"github.com/MrWong99/parlons/pkg/provider/tts"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  max_upload_bytes: 2097152

transcription:
  provider: remote
  base_url: http://whisper:9000
  fallback_base_urls:
    - http://whisper-backup:9000
  timeout: 10s
  options:
    endpoint: /asr

speech:
  provider: coqui
  base_url: http://coqui:5002
  language: fr
  options:
    speaker: p225

resilience:
  max_failures: 3
  reset_timeout: 1m

practice:
  silence_threshold: 0.4
  silence_duration: 2s
  sequence_delay: 1s
  server_url: http://localhost:9090
`

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug || cfg.Server.MaxUploadBytes != 2<<20 {
		t.Errorf("server = %+v", cfg.Server)
	}
	tr := cfg.Transcription
	if tr.BaseURL != "http://whisper:9000" || tr.Timeout != 10*time.Second || len(tr.FallbackBaseURLs) != 1 || tr.Options["endpoint"] != "/asr" {
		t.Errorf("transcription = %+v", tr)
	}
	if cfg.Speech.Options["speaker"] != "p225" || cfg.Speech.Timeout != config.DefaultSpeechTimeout {
		t.Errorf("speech = %+v", cfg.Speech)
	}
	if cfg.Resilience.MaxFailures != 3 || cfg.Resilience.ResetTimeout != time.Minute {
		t.Errorf("resilience = %+v", cfg.Resilience)
	}
	p := cfg.Practice
	if p.SilenceThreshold != 0.4 || p.SilenceDuration != 2*time.Second || p.SequenceDelay != time.Second {
		t.Errorf("practice = %+v", p)
	}
	if p.PollInterval != config.DefaultPollInterval || p.SubmitTimeout != config.DefaultSubmitTimeout {
		t.Errorf("practice defaults not applied: %+v", p)
	}
}

func TestLoadFromReader_EmptyGetsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr || cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Transcription.Provider != "remote" || cfg.Transcription.Timeout != 15*time.Second {
		t.Errorf("transcription = %+v", cfg.Transcription)
	}
	if cfg.Speech.Provider != "coqui" || cfg.Speech.Language != "fr" {
		t.Errorf("speech = %+v", cfg.Speech)
	}
	p := cfg.Practice
	if p.SilenceThreshold != 0.5 || p.SilenceDuration != 1500*time.Millisecond || p.PollInterval != 100*time.Millisecond || p.SequenceDelay != 1500*time.Millisecond {
		t.Errorf("practice = %+v", p)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  log_level: loud
  tls:
    cert_file: a.pem
transcription:
  provider: azure
  base_url: ftp://example.com
speech:
  provider: elevenlabs
  base_url: https://api.elevenlabs.io
  fallback_base_urls: ["not a url"]
practice:
  silence_threshold: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"server.log_level",
		"server.tls",
		"transcription.provider",
		"transcription.base_url",
		"speech.fallback_base_urls[0]",
		"speech.api_key",
		"practice.silence_threshold",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s:\n%v", want, err)
		}
	}
}

func TestValidate_LocalModel(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("transcription:\n  provider: whisper-native\n"))
	if err == nil || !strings.Contains(err.Error(), "transcription.model_path") {
		t.Errorf("missing model_path: err = %v", err)
	}

	cfg, err := config.LoadFromReader(strings.NewReader("transcription:\n  provider: whisper-native\n  model_path: /models/ggml-base.bin\n"))
	if err != nil {
		t.Fatalf("model_path without base_url: %v", err)
	}
	if cfg.Transcription.ModelPath != "/models/ggml-base.bin" {
		t.Errorf("model_path = %q", cfg.Transcription.ModelPath)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     map[string]string
		check   func(*config.Config) bool
		wantErr bool
	}{
		{
			name:  "base urls and listen addr",
			env:   map[string]string{config.EnvTranscribeBaseURL: "http://t", config.EnvTTSBaseURL: "http://s", config.EnvListenAddr: ":1"},
			check: func(c *config.Config) bool { return c.Transcription.BaseURL == "http://t" && c.Speech.BaseURL == "http://s" && c.Server.ListenAddr == ":1" },
		},
		{
			name:  "api keys",
			env:   map[string]string{config.EnvTranscribeAPIKey: "dg", config.EnvTTSAPIKey: "xi"},
			check: func(c *config.Config) bool { return c.Transcription.APIKey == "dg" && c.Speech.APIKey == "xi" },
		},
		{
			name:  "timeout as duration",
			env:   map[string]string{config.EnvTranscribeTimeout: "20s"},
			check: func(c *config.Config) bool { return c.Transcription.Timeout == 20*time.Second },
		},
		{
			name:  "timeout as milliseconds",
			env:   map[string]string{config.EnvTranscribeTimeout: "15000"},
			check: func(c *config.Config) bool { return c.Transcription.Timeout == 15*time.Second },
		},
		{
			name:  "log level is lower-cased",
			env:   map[string]string{config.EnvLogLevel: "WARN"},
			check: func(c *config.Config) bool { return c.Server.LogLevel == config.LogWarn },
		},
		{
			name:    "bad timeout",
			env:     map[string]string{config.EnvTranscribeTimeout: "soon"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{}
			err := config.ApplyEnv(cfg, env(tt.env))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && !tt.check(cfg) {
				t.Errorf("unexpected config %+v", cfg)
			}
		})
	}
}

func TestLoad_FileAndMissing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parlons.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Speech.BaseURL == "" {
		t.Error("speech base url empty")
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var bases []string
	reg.RegisterTranscriber("remote", func(base string, u config.UpstreamConfig) (stt.Transcriber, error) {
		bases = append(bases, base)
		return &sttmock.Transcriber{Text: u.Language}, nil
	})

	got, err := reg.CreateTranscribers(config.UpstreamConfig{
		Provider:         "remote",
		BaseURL:          "http://a",
		FallbackBaseURLs: []string{"http://b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || strings.Join(bases, ",") != "http://a,http://b" {
		t.Errorf("created %d clients for %v", len(got), bases)
	}

	none, err := reg.CreateTranscribers(config.UpstreamConfig{Provider: "remote"})
	if err != nil || len(none) != 0 {
		t.Errorf("no base url: %d clients, err %v", len(none), err)
	}

	bases = nil
	local, err := reg.CreateTranscribers(config.UpstreamConfig{Provider: "remote", ModelPath: "/models/m.bin"})
	if err != nil || len(local) != 1 || len(bases) != 1 || bases[0] != "" {
		t.Errorf("model path: %d clients for %q, err %v", len(local), bases, err)
	}

	_, err = reg.CreateSynthesizers(config.UpstreamConfig{Provider: "elevenlabs", BaseURL: "http://x"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}

	boom := errors.New("bad option")
	reg.RegisterSynthesizer("coqui", func(string, config.UpstreamConfig) (tts.Synthesizer, error) { return nil, boom })
	if _, err := reg.CreateSynthesizers(config.UpstreamConfig{Provider: "coqui", BaseURL: "http://x"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want factory error", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Transcription.Provider != "remote" || cfg.Speech.Provider != "coqui" {
		t.Errorf("providers = %q / %q", cfg.Transcription.Provider, cfg.Speech.Provider)
	}
}
