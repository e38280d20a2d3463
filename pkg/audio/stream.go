package audio

import (
	"sync"
)

// Compile-time interface assertion.
var _ Stream = (*LiveStream)(nil)

// LiveStream is an in-process [Stream] fed by calling [LiveStream.Push].
// Capture backends wrap their device read loop around it; tests push
// synthetic frames directly.
type LiveStream struct {
	id     string
	format Format
	track  *liveTrack

	mu     sync.RWMutex
	taps   map[uint64]func(Frame)
	nextID uint64
}

// NewLiveStream creates a stream with a single track labelled label. onStop
// is invoked exactly once when the track is stopped and may be nil.
func NewLiveStream(id string, format Format, label string, onStop func()) *LiveStream {
	return &LiveStream{
		id:     id,
		format: format,
		track:  &liveTrack{label: label, onStop: onStop, live: true},
		taps:   make(map[uint64]func(Frame)),
	}
}

// ID implements [Stream].
func (s *LiveStream) ID() string { return s.id }

// Format implements [Stream].
func (s *LiveStream) Format() Format { return s.format }

// Tracks implements [Stream].
func (s *LiveStream) Tracks() []Track { return []Track{s.track} }

// Tap implements [Stream].
func (s *LiveStream) Tap(fn func(Frame)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.taps[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.taps, id)
			s.mu.Unlock()
		})
	}
}

// Push delivers f to every registered tap. Frames pushed after the track was
// stopped are dropped.
func (s *LiveStream) Push(f Frame) {
	if !s.track.Live() {
		return
	}
	if f.Format == (Format{}) {
		f.Format = s.format
	}

	s.mu.RLock()
	taps := make([]func(Frame), 0, len(s.taps))
	for _, fn := range s.taps {
		taps = append(taps, fn)
	}
	s.mu.RUnlock()

	for _, fn := range taps {
		fn(f)
	}
}

// liveTrack is the single track of a [LiveStream].
type liveTrack struct {
	label  string
	onStop func()

	mu   sync.Mutex
	live bool
}

func (t *liveTrack) Label() string { return t.label }

func (t *liveTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *liveTrack) Stop() {
	t.mu.Lock()
	if !t.live {
		t.mu.Unlock()
		return
	}
	t.live = false
	onStop := t.onStop
	t.mu.Unlock()

	if onStop != nil {
		onStop()
	}
}
