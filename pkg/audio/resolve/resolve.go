// Package resolve turns lesson audio sources into playable URLs for the
// sequence player.
//
// A source is either a static file URL, used as-is, or a text to be
// synthesized. Synthesized audio lives in a [BlobStore]. Resolved URLs are
// cached per index until the source list is replaced by a different list,
// at which point every blob minted for the old list is released.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/parlons/pkg/audio/sequence"
	"github.com/MrWong99/parlons/pkg/provider/tts"
)

// DefaultConcurrency bounds parallel synthesis during [Resolver.Prefetch].
const DefaultConcurrency = 4

var (
	// ErrNoAudio is returned for a source with neither URL nor text.
	ErrNoAudio = errors.New("resolve: source has no url and no text")

	// ErrSourcesChanged is returned when the source list was replaced while
	// a resolution was in flight.
	ErrSourcesChanged = errors.New("resolve: source list changed during resolution")
)

// Source is one lesson audio item before resolution.
type Source struct {
	ID string

	// URL is a static playable URL. When set, Text is ignored.
	URL string

	// Text is synthesized when URL is empty.
	Text string

	// Lang is passed to the synthesizer. Empty selects its default.
	Lang string
}

// Option is a functional option for configuring a [Resolver].
type Option func(*Resolver)

// WithConcurrency bounds parallel synthesis during Prefetch.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger for resolution failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// Resolver resolves a list of sources. It is safe for concurrent use.
type Resolver struct {
	synth       tts.Synthesizer
	store       *BlobStore
	concurrency int
	log         *slog.Logger
	group       singleflight.Group

	mu      sync.Mutex
	sources []Source
	epoch   uint64
	cache   map[int]string
	minted  []string
}

// New creates a Resolver over sources. Synthesized audio is kept in store.
func New(synth tts.Synthesizer, store *BlobStore, sources []Source, opts ...Option) *Resolver {
	r := &Resolver{
		synth:       synth,
		store:       store,
		concurrency: DefaultConcurrency,
		log:         slog.Default(),
		sources:     sources,
		cache:       make(map[int]string),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetSources replaces the source list. Passing the same list (same backing
// array and length) keeps the cache; any other list releases every blob
// minted so far and starts over.
func (r *Resolver) SetSources(sources []Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sameList(r.sources, sources) {
		return
	}
	r.releaseLocked()
	r.sources = sources
}

// Len returns the number of sources.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// Resolve returns a playable URL for the source at index i. Concurrent calls
// for the same index share one synthesis, which is not cancelled when one of
// the callers gives up.
func (r *Resolver) Resolve(ctx context.Context, i int) (string, error) {
	r.mu.Lock()
	if i < 0 || i >= len(r.sources) {
		r.mu.Unlock()
		return "", fmt.Errorf("resolve: index %d out of range", i)
	}
	if u, ok := r.cache[i]; ok {
		r.mu.Unlock()
		return u, nil
	}
	src, epoch := r.sources[i], r.epoch
	if src.URL != "" {
		r.cache[i] = src.URL
		r.mu.Unlock()
		return src.URL, nil
	}
	r.mu.Unlock()

	if src.Text == "" {
		return "", fmt.Errorf("%w: %q", ErrNoAudio, src.ID)
	}

	// The shared synthesis outlives any one caller; each caller stops
	// waiting when its own ctx ends.
	key := strconv.FormatUint(epoch, 10) + "/" + strconv.Itoa(i)
	callCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.synthesize(callCtx, epoch, i, src)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Resolver) synthesize(ctx context.Context, epoch uint64, i int, src Source) (string, error) {
	if r.synth == nil {
		return "", fmt.Errorf("resolve: synthesize %q: no synthesizer configured", src.ID)
	}
	data, contentType, err := r.synth.Synthesize(ctx, src.Text, src.Lang)
	if err != nil {
		return "", fmt.Errorf("resolve: synthesize %q: %w", src.ID, err)
	}
	u := r.store.Put(data, contentType)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch {
		r.store.Release(u)
		return "", ErrSourcesChanged
	}
	r.cache[i] = u
	r.minted = append(r.minted, u)
	return u, nil
}

// Prefetch resolves every source in parallel and returns the player items.
// A source that fails to resolve yields an item with an empty URL, which
// the player reports as a playback error when reached. The returned error
// is non-nil only when ctx ends first.
func (r *Resolver) Prefetch(ctx context.Context) ([]sequence.Item, error) {
	r.mu.Lock()
	sources := r.sources
	r.mu.Unlock()

	items := make([]sequence.Item, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, src := range sources {
		items[i].ID = src.ID
		g.Go(func() error {
			u, err := r.Resolve(gctx, i)
			if err != nil {
				r.log.Warn("resolve: audio unavailable", "index", i, "id", src.ID, "err", err)
				return nil
			}
			items[i].URL = u
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return items, err
	}
	return items, nil
}

// Close releases every blob minted for the current list.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked()
}

func (r *Resolver) releaseLocked() {
	for _, u := range r.minted {
		r.store.Release(u)
	}
	r.minted = nil
	clear(r.cache)
	r.epoch++
}

func sameList(a, b []Source) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}
