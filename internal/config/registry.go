package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/parlons/pkg/provider/stt"
	"github.com/MrWong99/parlons/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TranscriberFactory builds a client for one transcription base URL. For
// in-process providers configured with a ModelPath, baseURL is empty.
type TranscriberFactory func(baseURL string, u UpstreamConfig) (stt.Transcriber, error)

// SynthesizerFactory builds a client for one synthesis base URL.
type SynthesizerFactory func(baseURL string, u UpstreamConfig) (tts.Synthesizer, error)

// Registry maps provider names to client constructors. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]TranscriberFactory
	tts map[string]SynthesizerFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: make(map[string]TranscriberFactory),
		tts: make(map[string]SynthesizerFactory),
	}
}

// RegisterTranscriber registers factory under name, replacing any earlier
// registration.
func (r *Registry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterSynthesizer registers factory under name.
func (r *Registry) RegisterSynthesizer(name string, factory SynthesizerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateTranscribers builds one client per configured base URL, primary
// first. An upstream with neither a base URL nor a model path yields no
// clients.
func (r *Registry) CreateTranscribers(u UpstreamConfig) ([]stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[u.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcription/%q", ErrProviderNotRegistered, u.Provider)
	}
	return create(u, factory)
}

// CreateSynthesizers builds one client per configured base URL, primary
// first.
func (r *Registry) CreateSynthesizers(u UpstreamConfig) ([]tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[u.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speech/%q", ErrProviderNotRegistered, u.Provider)
	}
	return create(u, factory)
}

func create[T any](u UpstreamConfig, factory func(string, UpstreamConfig) (T, error)) ([]T, error) {
	if u.BaseURL == "" {
		if u.ModelPath == "" {
			return nil, nil
		}
		c, err := factory("", u)
		if err != nil {
			return nil, fmt.Errorf("config: create %s client for %s: %w", u.Provider, u.ModelPath, err)
		}
		return []T{c}, nil
	}
	urls := append([]string{u.BaseURL}, u.FallbackBaseURLs...)
	out := make([]T, 0, len(urls))
	for _, base := range urls {
		c, err := factory(base, u)
		if err != nil {
			return nil, fmt.Errorf("config: create %s client for %s: %w", u.Provider, base, err)
		}
		out = append(out, c)
	}
	return out, nil
}
