// Package capture wraps microphone acquisition and recording into a
// start/stop lifecycle with chunk accumulation.
//
// A [Capture] owns at most one recording session at a time. Starting acquires
// a speech-tuned stream from [MediaDevices], hands it to the caller for
// visualisation, and starts a [Recorder]. Stopping is a request: the stream
// is released and the final [Blob] delivered only when the recorder confirms
// it has stopped.
//
// Errors never cross the asynchronous boundary as return values; they are
// reported through Callbacks.OnError, so register it before starting.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/parlons/pkg/audio"
)

// Callbacks receive the lifecycle events of one recording session.
type Callbacks struct {
	// OnStreamReady fires once the stream is acquired and before recording
	// begins. Use it to wire up visualisation.
	OnStreamReady func(audio.Stream)

	// OnDataAvailable fires for every recorded fragment.
	OnDataAvailable func(chunk []byte)

	// OnStop receives the concatenated recording after the recorder stops.
	OnStop func(Blob)

	// OnError receives acquisition and recorder failures.
	OnError func(error)
}

// Option is a functional option for configuring a [Capture].
type Option func(*Capture)

// WithRecorderFactory overrides the recorder. Defaults to [NewWAVRecorder].
func WithRecorderFactory(f RecorderFactory) Option {
	return func(c *Capture) { c.newRecorder = f }
}

// WithConstraints overrides the requested stream constraints. Defaults to
// [SpeechConstraints].
func WithConstraints(cs Constraints) Option {
	return func(c *Capture) { c.constraints = cs }
}

// WithLogger sets the logger used for lifecycle diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Capture) {
		if l != nil {
			c.log = l
		}
	}
}

// session is the state of one recording, created on start and dropped on
// stop completion or teardown.
type session struct {
	stream      audio.Stream
	recorder    Recorder
	chunks      [][]byte
	pendingStop bool
	cb          Callbacks
}

// Capture records microphone audio. All exported methods are safe for
// concurrent use.
type Capture struct {
	devices     MediaDevices
	newRecorder RecorderFactory
	constraints Constraints
	log         *slog.Logger

	mu   sync.Mutex
	sess *session

	// epoch is bumped by Close so an acquisition still in flight can tell
	// it was torn down.
	epoch uint64
}

// New creates a Capture backed by devices. A nil devices value models an
// environment without capture support: every start reports
// [ErrUnsupportedEnvironment].
func New(devices MediaDevices, opts ...Option) *Capture {
	c := &Capture{
		devices:     devices,
		newRecorder: NewWAVRecorder,
		constraints: SpeechConstraints(),
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsRecording reports whether a session is active.
func (c *Capture) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// StartRecording acquires a stream and starts recording it. Failures are
// reported once through cb.OnError and leave the capture idle.
func (c *Capture) StartRecording(ctx context.Context, cb Callbacks) {
	if c.devices == nil || c.newRecorder == nil {
		report(cb, ErrUnsupportedEnvironment)
		return
	}

	c.mu.Lock()
	busy := c.sess != nil
	epoch := c.epoch
	c.mu.Unlock()
	if busy {
		c.log.Warn("capture: start requested while already recording")
		return
	}

	stream, err := c.devices.GetUserMedia(ctx, c.constraints)
	if err != nil {
		report(cb, classify(err))
		return
	}
	if !c.live(epoch) {
		audio.StopTracks(stream)
		c.log.Debug("capture: closed during acquisition, stream released", "stream", stream.ID())
		return
	}
	c.log.Debug("capture: stream acquired", "stream", stream.ID(), "format", stream.Format())

	if cb.OnStreamReady != nil {
		cb.OnStreamReady(stream)
	}

	sess := &session{stream: stream, cb: cb}
	rec, err := c.newRecorder(stream, RecorderEvents{
		OnDataAvailable: func(chunk []byte) { c.handleData(sess, chunk) },
		OnStop:          func() { c.handleStop(sess) },
	})
	if err != nil {
		audio.StopTracks(stream)
		report(cb, fmt.Errorf("%w: create recorder: %w", ErrDeviceUnavailable, err))
		return
	}
	sess.recorder = rec

	c.mu.Lock()
	if c.epoch != epoch || c.sess != nil {
		c.mu.Unlock()
		audio.StopTracks(stream)
		c.log.Debug("capture: start superseded, stream released", "stream", stream.ID())
		return
	}
	c.sess = sess
	c.mu.Unlock()

	if err := rec.Start(); err != nil {
		c.mu.Lock()
		if c.sess == sess {
			c.sess = nil
		}
		c.mu.Unlock()
		audio.StopTracks(stream)
		report(cb, fmt.Errorf("%w: start recorder: %w", ErrDeviceUnavailable, err))
		return
	}

	// Close may have dropped the session between install and Start.
	c.mu.Lock()
	installed := c.sess == sess
	c.mu.Unlock()
	if !installed {
		_ = rec.Stop()
		audio.StopTracks(stream)
		return
	}
	c.log.Info("capture: recording started", "stream", stream.ID(), "mime", rec.MIMEType())
}

// StopRecording asks the recorder to stop. A repeated call while a stop is
// already pending is ignored unless the recorder still reports it is
// recording, which covers a stop request that arrived before the previous
// one landed.
func (c *Capture) StopRecording() {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return
	}
	rec := sess.recorder
	if sess.pendingStop && rec.State() != RecorderRecording {
		c.mu.Unlock()
		return
	}
	sess.pendingStop = true
	c.mu.Unlock()

	if err := rec.Stop(); err != nil && !errors.Is(err, ErrInvalidState) {
		c.log.Warn("capture: recorder stop failed, tearing down", "err", err)
		c.Close()
		report(sess.cb, fmt.Errorf("%w: stop recorder: %w", ErrDeviceUnavailable, err))
	}
}

// Close tears down any active session unconditionally: the recorder is
// force-stopped and every stream track released, even when a stop is
// already pending. No OnStop callback fires for a session torn down here.
// A start whose acquisition is still pending releases its stream when the
// acquisition returns. The Capture may be started again afterwards.
func (c *Capture) Close() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.epoch++
	c.mu.Unlock()

	if sess == nil {
		return
	}
	if sess.recorder.State() != RecorderInactive {
		_ = sess.recorder.Stop()
	}
	audio.StopTracks(sess.stream)
	c.log.Debug("capture: session torn down", "stream", sess.stream.ID())
}

// live reports whether no Close happened since epoch was read.
func (c *Capture) live(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

func (c *Capture) handleData(sess *session, chunk []byte) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	if len(chunk) > 0 {
		sess.chunks = append(sess.chunks, chunk)
	}
	c.mu.Unlock()

	if sess.cb.OnDataAvailable != nil {
		sess.cb.OnDataAvailable(chunk)
	}
}

func (c *Capture) handleStop(sess *session) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	blob := Blob{Data: bytes.Join(sess.chunks, nil), MIMEType: sess.recorder.MIMEType()}
	sess.chunks = nil
	c.mu.Unlock()

	audio.StopTracks(sess.stream)
	c.log.Info("capture: recording finished", "stream", sess.stream.ID(), "bytes", len(blob.Data))

	if sess.cb.OnStop != nil {
		sess.cb.OnStop(blob)
	}
}

// classify maps an acquisition error onto the capture taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrUnsupportedEnvironment),
		errors.Is(err, ErrDeviceUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
}

func report(cb Callbacks, err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}
