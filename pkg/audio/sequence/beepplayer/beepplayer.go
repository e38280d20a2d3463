// Package beepplayer implements [sequence.Loader] with gopxl/beep: items are
// fetched through an [Opener], decoded as MP3 or WAV and mixed into the
// system speaker.
package beepplayer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"
	"github.com/gopxl/beep/wav"

	"github.com/MrWong99/parlons/pkg/audio/sequence"
)

// DefaultSampleRate is the speaker rate every item is resampled to.
const DefaultSampleRate beep.SampleRate = 44100

// resampleQuality is passed to beep.Resample.
const resampleQuality = 4

// ErrUnsupportedFormat is returned for audio that is neither MP3 nor WAV.
var ErrUnsupportedFormat = errors.New("beepplayer: unsupported audio format")

// Output is where decoded streams are mixed. Lock and Unlock guard mutation
// of a streamer that is currently playing.
type Output interface {
	Play(s beep.Streamer) error
	Lock()
	Unlock()
}

// Speaker is the [Output] backed by the system audio device. It initialises
// the device on first use.
type Speaker struct {
	SampleRate beep.SampleRate
	BufferSize time.Duration

	once    sync.Once
	initErr error
}

// Play implements [Output].
func (s *Speaker) Play(st beep.Streamer) error {
	s.once.Do(func() {
		buf := s.BufferSize
		if buf <= 0 {
			buf = 100 * time.Millisecond
		}
		s.initErr = speaker.Init(s.SampleRate, s.SampleRate.N(buf))
	})
	if s.initErr != nil {
		return fmt.Errorf("beepplayer: init speaker: %w", s.initErr)
	}
	speaker.Play(st)
	return nil
}

// Lock implements [Output].
func (s *Speaker) Lock() { speaker.Lock() }

// Unlock implements [Output].
func (s *Speaker) Unlock() { speaker.Unlock() }

// Option is a functional option for configuring a [Loader].
type Option func(*Loader)

// WithOutput replaces the system speaker.
func WithOutput(o Output, rate beep.SampleRate) Option {
	return func(l *Loader) {
		l.out = o
		l.rate = rate
	}
}

// WithLogger sets the logger for playback diagnostics.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loader) {
		if lg != nil {
			l.log = lg
		}
	}
}

// Compile-time interface assertions.
var (
	_ sequence.Loader  = (*Loader)(nil)
	_ sequence.Element = (*element)(nil)
)

// Loader creates beep-backed elements.
type Loader struct {
	opener Opener
	out    Output
	rate   beep.SampleRate
	log    *slog.Logger
}

// New creates a Loader that fetches through opener and plays on the system
// speaker unless [WithOutput] is given.
func New(opener Opener, opts ...Option) *Loader {
	l := &Loader{
		opener: opener,
		rate:   DefaultSampleRate,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.out == nil {
		l.out = &Speaker{SampleRate: l.rate}
	}
	return l
}

// Load implements [sequence.Loader]. Fetching and decoding are deferred to
// Play.
func (l *Loader) Load(item sequence.Item, ev sequence.ElementEvents) (sequence.Element, error) {
	if l.opener == nil {
		return nil, errors.New("beepplayer: no opener configured")
	}
	return &element{loader: l, item: item, ev: ev}, nil
}

// element plays one item.
type element struct {
	loader *Loader
	item   sequence.Item
	ev     sequence.ElementEvents

	mu       sync.Mutex
	ctrl     *beep.Ctrl
	streamer beep.StreamSeekCloser
	paused   bool
	closed   bool
	finished bool
}

// Play fetches, decodes and starts the item. OnLoadedMetadata fires once the
// stream is handed to the output. A Pause that lands while the item is
// still being fetched holds the stream silent until Resume.
func (e *element) Play(ctx context.Context) error {
	body, contentType, err := e.loader.opener.Open(ctx, e.item.URL)
	if err != nil {
		return err
	}
	streamer, format, err := decode(body, contentType, e.item.URL)
	if err != nil {
		body.Close()
		return err
	}

	var src beep.Streamer = streamer
	if format.SampleRate != e.loader.rate {
		src = beep.Resample(resampleQuality, format.SampleRate, e.loader.rate, streamer)
	}
	// The callback runs on the mixer goroutine with the output locked.
	done := beep.Callback(func() { go e.finish() })
	ctrl := &beep.Ctrl{Streamer: beep.Seq(src, done)}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		streamer.Close()
		return errors.New("beepplayer: element closed before playback")
	}
	ctrl.Paused = e.paused
	e.ctrl = ctrl
	e.streamer = streamer
	e.mu.Unlock()

	if err := e.loader.out.Play(ctrl); err != nil {
		return err
	}
	e.loader.log.Debug("beepplayer: playing", "item", e.item.ID, "rate", format.SampleRate, "channels", format.NumChannels)
	if e.ev.OnLoadedMetadata != nil {
		e.ev.OnLoadedMetadata()
	}
	return nil
}

func (e *element) Pause() { e.setPaused(true) }

func (e *element) Resume(context.Context) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return errors.New("beepplayer: element closed")
	}
	e.setPaused(false)
	return nil
}

func (e *element) setPaused(v bool) {
	e.mu.Lock()
	e.paused = v
	ctrl := e.ctrl
	e.mu.Unlock()
	if ctrl == nil {
		return
	}
	e.loader.out.Lock()
	ctrl.Paused = v
	e.loader.out.Unlock()
}

// Close detaches the stream from the output and releases the body.
func (e *element) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	ctrl, streamer := e.ctrl, e.streamer
	e.mu.Unlock()

	if ctrl != nil {
		e.loader.out.Lock()
		ctrl.Streamer = nil
		e.loader.out.Unlock()
	}
	if streamer != nil {
		_ = streamer.Close()
	}
}

// finish reports the end of the stream, or the decoder error that cut it
// short.
func (e *element) finish() {
	e.mu.Lock()
	if e.closed || e.finished {
		e.mu.Unlock()
		return
	}
	e.finished = true
	streamer := e.streamer
	e.mu.Unlock()

	if err := streamer.Err(); err != nil {
		if e.ev.OnError != nil {
			e.ev.OnError(fmt.Errorf("beepplayer: decode %s: %w", e.item.ID, err))
		}
		return
	}
	if e.ev.OnEnded != nil {
		e.ev.OnEnded()
	}
}

// readCloser joins a buffered reader with the original body's Close.
type readCloser struct {
	io.Reader
	io.Closer
}

// decode picks a decoder from the content type, the URL extension or, when
// both are inconclusive, the leading bytes.
func decode(body io.ReadCloser, contentType, rawURL string) (beep.StreamSeekCloser, beep.Format, error) {
	br := bufio.NewReader(body)
	rc := readCloser{Reader: br, Closer: body}

	kind := formatOf(contentType, rawURL)
	if kind == "" {
		head, _ := br.Peek(12)
		switch {
		case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
			kind = "wav"
		case len(head) >= 3 && (bytes.Equal(head[:3], []byte("ID3")) || head[0] == 0xFF && head[1]&0xE0 == 0xE0):
			kind = "mp3"
		}
	}

	var (
		s   beep.StreamSeekCloser
		f   beep.Format
		err error
	)
	switch kind {
	case "wav":
		s, f, err = wav.Decode(rc)
	case "mp3":
		s, f, err = mp3.Decode(rc)
	default:
		return nil, beep.Format{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, contentType)
	}
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("beepplayer: decode %s: %w", kind, err)
	}
	return s, f, nil
}

func formatOf(contentType, rawURL string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "wav"):
		return "wav"
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return "mp3"
	}
	u := strings.ToLower(rawURL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	switch {
	case strings.HasSuffix(u, ".wav"):
		return "wav"
	case strings.HasSuffix(u, ".mp3"):
		return "mp3"
	}
	return ""
}
