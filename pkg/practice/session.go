// Package practice drives one pronunciation exercise: it records the
// learner, shows the live input level, stops automatically after a quiet
// interval and submits the recording for assessment.
//
// Two pollers read the same analyser. The level display runs on a display
// ticker and may skip frames when its consumer is slow; the silence
// watchdog runs on its own ticker and is never throttled by the display.
package practice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parlons/pkg/assess"
	"github.com/MrWong99/parlons/pkg/audio"
	"github.com/MrWong99/parlons/pkg/audio/capture"
	"github.com/MrWong99/parlons/pkg/audio/level"
	"github.com/MrWong99/parlons/pkg/audio/silence"
	"github.com/MrWong99/parlons/pkg/audio/visual"
)

// DefaultDisplayInterval is one frame at 60 Hz.
const DefaultDisplayInterval = time.Second / 60

// ErrClosed is returned by [Session.Start] after [Session.Close].
var ErrClosed = errors.New("practice: session closed")

// Recorder is implemented by *capture.Capture.
type Recorder interface {
	StartRecording(ctx context.Context, cb capture.Callbacks)
	StopRecording()
	IsRecording() bool
	Close()
}

// Submitter is implemented by *assess.Submitter.
type Submitter interface {
	Submit(ctx context.Context, blob capture.Blob, reference string) (*assess.Result, error)
}

// Events receive the session's progress. Every field is optional. Callbacks
// run on internal goroutines and must not block for long.
type Events struct {
	// OnRecordingChange fires when recording starts or stops.
	OnRecordingChange func(recording bool)

	// OnLevel receives the display level in [0, 1] once per display frame.
	OnLevel func(v float64)

	// OnAutoStop fires when silence ended the recording.
	OnAutoStop func()

	// OnSubmitting fires when the recording is handed to the submitter.
	OnSubmitting func()

	// OnResult receives a successful assessment.
	OnResult func(*assess.Result)

	// OnError receives every failure together with its [UserMessage].
	OnError func(msg string, err error)
}

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithEvents registers progress callbacks.
func WithEvents(ev Events) Option {
	return func(s *Session) { s.ev = ev }
}

// WithPlatform overrides the visualisation platform. Defaults to
// [visual.DefaultPlatform].
func WithPlatform(p visual.Platform) Option {
	return func(s *Session) { s.platform = p }
}

// WithDisplayInterval overrides the level display cadence.
func WithDisplayInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.displayEvery = d
		}
	}
}

// WithSilence passes options to the silence watchdog.
func WithSilence(opts ...silence.Option) Option {
	return func(s *Session) { s.silenceOpts = append(s.silenceOpts, opts...) }
}

// WithSubmitTimeout bounds a submission from the session side, on top of
// any timeout the submitter applies itself.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Session) { s.submitTimeout = d }
}

// WithLogger sets the logger for session diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// Session records and assesses attempts at one reference text. A Session
// may record any number of attempts in turn. All exported methods are safe
// for concurrent use.
type Session struct {
	rec           Recorder
	sub           Submitter
	reference     string
	ev            Events
	platform      visual.Platform
	displayEvery  time.Duration
	silenceOpts   []silence.Option
	submitTimeout time.Duration
	log           *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	watchdog *silence.Watchdog

	mu          sync.Mutex
	rig         *visual.Rig
	displayStop chan struct{}
	autoStopped bool
	closed      bool
	submits     sync.WaitGroup
}

// New creates a session for reference.
func New(rec Recorder, sub Submitter, reference string, opts ...Option) *Session {
	s := &Session{
		rec:          rec,
		sub:          sub,
		reference:    reference,
		platform:     visual.DefaultPlatform(),
		displayEvery: DefaultDisplayInterval,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.watchdog = silence.New(s.autoStop, append([]silence.Option{silence.WithLogger(s.log)}, s.silenceOpts...)...)
	return s
}

// Reference returns the text the learner is asked to say.
func (s *Session) Reference() string { return s.reference }

// IsRecording reports whether an attempt is being recorded.
func (s *Session) IsRecording() bool { return s.rec.IsRecording() }

// Start begins recording an attempt. Acquisition failures are reported
// through Events.OnError; Start itself only fails when the session is
// closed, including by a Close that lands while the microphone is being
// acquired. Starting while already recording is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.autoStopped = false
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if s.rec.IsRecording() {
		return nil
	}

	s.rec.StartRecording(ctx, capture.Callbacks{
		OnStreamReady: s.streamReady,
		OnStop:        s.recorded,
		OnError:       s.fail,
	})
	if !s.rec.IsRecording() {
		s.teardown()
		return nil
	}

	s.mu.Lock()
	if s.closed {
		// Close ran while the stream was being acquired.
		s.mu.Unlock()
		s.rec.Close()
		s.teardown()
		return ErrClosed
	}
	if s.rig != nil {
		s.watchdog.Update(s.rig.Analyser, true)
	}
	s.mu.Unlock()
	if cb := s.ev.OnRecordingChange; cb != nil {
		cb(true)
	}
	return nil
}

// Stop ends the current attempt; the recording is then submitted.
func (s *Session) Stop() {
	s.rec.StopRecording()
}

// Wait blocks until every submission started so far has reported.
func (s *Session) Wait() {
	s.submits.Wait()
}

// Close abandons any recording without submitting it, cancels pending
// submissions and releases the analyser. Calling Close more than once is
// safe.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.rec.Close()
	s.teardown()
	s.submits.Wait()
}

// streamReady builds the analyser graph and starts the display poller.
// Without visualisation the attempt still records but cannot auto-stop.
func (s *Session) streamReady(stream audio.Stream) {
	rig, err := visual.NewRig(s.ctx, s.platform, stream)
	if err != nil {
		s.log.Warn("practice: level display unavailable", "err", err)
		s.report(err)
		return
	}

	stop := make(chan struct{})
	s.mu.Lock()
	s.rig = rig
	s.displayStop = stop
	s.mu.Unlock()

	if s.ev.OnLevel != nil {
		go s.display(rig.Analyser, stop)
	}
}

// display samples the analyser once per display frame. Ticks that arrive
// while OnLevel is still busy are dropped by the ticker.
func (s *Session) display(src level.Waveform, stop <-chan struct{}) {
	t := time.NewTicker(s.displayEvery)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.ev.OnLevel(level.Sample(src))
		}
	}
}

func (s *Session) autoStop() {
	s.mu.Lock()
	s.autoStopped = true
	s.mu.Unlock()
	if cb := s.ev.OnAutoStop; cb != nil {
		cb()
	}
	s.rec.StopRecording()
}

// AutoStopped reports whether silence ended the most recent attempt.
func (s *Session) AutoStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoStopped
}

// recorded submits a finished recording.
func (s *Session) recorded(blob capture.Blob) {
	s.teardown()
	if cb := s.ev.OnRecordingChange; cb != nil {
		cb(false)
	}

	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.submits.Add(1)
	}
	s.mu.Unlock()
	if closed {
		return
	}

	go func() {
		defer s.submits.Done()
		if cb := s.ev.OnSubmitting; cb != nil {
			cb()
		}
		ctx := s.ctx
		if s.submitTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.submitTimeout)
			defer cancel()
		}
		res, err := s.sub.Submit(ctx, blob, s.reference)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, assess.ErrTimeout) {
				err = errors.Join(assess.ErrTimeout, err)
			}
			s.report(err)
			return
		}
		s.log.Debug("practice: assessed", "reference", s.reference, "score", res.Score)
		if cb := s.ev.OnResult; cb != nil {
			cb(res)
		}
	}()
}

func (s *Session) fail(err error) {
	s.teardown()
	s.report(err)
}

func (s *Session) report(err error) {
	if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
		return
	}
	if cb := s.ev.OnError; cb != nil {
		cb(UserMessage(err), err)
	}
}

// teardown stops both pollers and releases the analyser graph.
func (s *Session) teardown() {
	s.mu.Lock()
	rig, stop := s.rig, s.displayStop
	s.rig, s.displayStop = nil, nil
	s.mu.Unlock()

	// After the rig is cleared Start can no longer arm the watchdog.
	s.watchdog.Update(nil, false)

	if stop != nil {
		close(stop)
	}
	if rig != nil {
		if err := rig.Close(); err != nil {
			s.log.Debug("practice: close analyser", "err", err)
		}
	}
}
