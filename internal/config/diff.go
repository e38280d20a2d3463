package config

import "time"

// ConfigDiff describes what changed between two configs. Log level and
// transcription timeout apply live; everything in RestartRequired only
// takes effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TranscribeTimeoutChanged bool
	NewTranscribeTimeout     time.Duration

	// RestartRequired names the changed settings that cannot be applied
	// live, in a stable order.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TranscribeTimeoutChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Transcription.Timeout != new.Transcription.Timeout {
		d.TranscribeTimeoutChanged = true
		d.NewTranscribeTimeout = new.Transcription.Timeout
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !upstreamEqual(old.Transcription, new.Transcription) {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if !upstreamEqual(old.Speech, new.Speech) || old.Speech.Timeout != new.Speech.Timeout {
		d.RestartRequired = append(d.RestartRequired, "speech")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	return d
}

// upstreamEqual compares everything except the timeout.
func upstreamEqual(a, b UpstreamConfig) bool {
	if a.Provider != b.Provider || a.BaseURL != b.BaseURL || a.Language != b.Language ||
		a.APIKey != b.APIKey || a.ModelPath != b.ModelPath {
		return false
	}
	if len(a.FallbackBaseURLs) != len(b.FallbackBaseURLs) || len(a.Options) != len(b.Options) {
		return false
	}
	for i := range a.FallbackBaseURLs {
		if a.FallbackBaseURLs[i] != b.FallbackBaseURLs[i] {
			return false
		}
	}
	for k, v := range a.Options {
		if bv, ok := b.Options[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
