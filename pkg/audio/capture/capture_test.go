package capture_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parlons/pkg/audio"
	"github.com/MrWong99/parlons/pkg/audio/capture"
)

// fakeDevices returns Stream or Err from GetUserMedia and records the
// constraints it was asked for.
type fakeDevices struct {
	mu     sync.Mutex
	Stream *audio.LiveStream
	Err    error
	Calls  []capture.Constraints
}

func (d *fakeDevices) GetUserMedia(_ context.Context, c capture.Constraints) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, c)
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Stream, nil
}

// stuckRecorder never leaves the recording state on Stop and never fires
// OnStop by itself, modelling a stop request that has not landed yet.
type stuckRecorder struct {
	ev    capture.RecorderEvents
	stops atomic.Int32
	state atomic.Int32
}

func (r *stuckRecorder) Start() error {
	r.state.Store(int32(capture.RecorderRecording))
	return nil
}

func (r *stuckRecorder) Stop() error {
	r.stops.Add(1)
	return nil
}

func (r *stuckRecorder) State() capture.RecorderState { return capture.RecorderState(r.state.Load()) }
func (r *stuckRecorder) MIMEType() string             { return "audio/test" }

func newStream() *audio.LiveStream {
	return audio.NewLiveStream("mic", audio.Format{SampleRate: 16000, Channels: 1}, "test mic", nil)
}

// errorSink collects OnError calls.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) add(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func TestStartRecording_Unsupported(t *testing.T) {
	t.Parallel()

	c := capture.New(nil)
	var sink errorSink
	c.StartRecording(context.Background(), capture.Callbacks{OnError: sink.add})

	errs := sink.all()
	if len(errs) != 1 || !errors.Is(errs[0], capture.ErrUnsupportedEnvironment) {
		t.Fatalf("errors = %v, want one ErrUnsupportedEnvironment", errs)
	}
	if c.IsRecording() {
		t.Error("IsRecording = true after unsupported start")
	}
}

func TestStartRecording_PermissionDenied(t *testing.T) {
	t.Parallel()

	devices := &fakeDevices{Err: fmt.Errorf("backend: %w", capture.ErrPermissionDenied)}
	c := capture.New(devices)

	var sink errorSink
	var ready atomic.Bool
	c.StartRecording(context.Background(), capture.Callbacks{
		OnError:       sink.add,
		OnStreamReady: func(audio.Stream) { ready.Store(true) },
	})

	errs := sink.all()
	if len(errs) != 1 {
		t.Fatalf("OnError called %d times, want exactly 1", len(errs))
	}
	if !errors.Is(errs[0], capture.ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", errs[0])
	}
	if errors.Is(errs[0], capture.ErrDeviceUnavailable) {
		t.Errorf("permission error also classified as device unavailable")
	}
	if c.IsRecording() {
		t.Error("IsRecording = true after denied start")
	}
	if ready.Load() {
		t.Error("OnStreamReady fired without a stream")
	}
}

func TestStartRecording_OtherErrorIsDeviceUnavailable(t *testing.T) {
	t.Parallel()

	c := capture.New(&fakeDevices{Err: errors.New("no input device")})
	var sink errorSink
	c.StartRecording(context.Background(), capture.Callbacks{OnError: sink.add})

	errs := sink.all()
	if len(errs) != 1 || !errors.Is(errs[0], capture.ErrDeviceUnavailable) {
		t.Fatalf("errors = %v, want one ErrDeviceUnavailable", errs)
	}
}

func TestRecording_FullLifecycle(t *testing.T) {
	t.Parallel()

	stream := newStream()
	devices := &fakeDevices{Stream: stream}
	c := capture.New(devices)

	var readyStream audio.Stream
	var chunks atomic.Int32
	stopped := make(chan capture.Blob, 1)
	c.StartRecording(context.Background(), capture.Callbacks{
		OnStreamReady:   func(s audio.Stream) { readyStream = s },
		OnDataAvailable: func([]byte) { chunks.Add(1) },
		OnStop:          func(b capture.Blob) { stopped <- b },
		OnError:         func(err error) { t.Errorf("unexpected error: %v", err) },
	})

	if !c.IsRecording() {
		t.Fatal("IsRecording = false after start")
	}
	if readyStream != stream {
		t.Error("OnStreamReady did not receive the acquired stream")
	}
	if got := devices.Calls[0]; got != capture.SpeechConstraints() {
		t.Errorf("constraints = %+v, want speech constraints", got)
	}

	stream.Push(audio.Frame{Samples: []int16{10, 20, 30, 40}})
	c.StopRecording()

	var blob capture.Blob
	select {
	case blob = <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("OnStop not called")
	}

	if blob.MIMEType != capture.WAVMIMEType {
		t.Errorf("MIME type = %q, want %q", blob.MIMEType, capture.WAVMIMEType)
	}
	if n := binary.LittleEndian.Uint32(blob.Data[40:44]); n != 8 {
		t.Errorf("WAV data size = %d, want 8", n)
	}
	if chunks.Load() != 1 {
		t.Errorf("OnDataAvailable called %d times, want 1", chunks.Load())
	}
	if c.IsRecording() {
		t.Error("IsRecording = true after stop completed")
	}
	if stream.Tracks()[0].Live() {
		t.Error("stream track still live after stop")
	}
}

func TestStopRecording_DuplicateIsNoOp(t *testing.T) {
	t.Parallel()

	var rec *stuckRecorder
	c := capture.New(&fakeDevices{Stream: newStream()}, capture.WithRecorderFactory(
		func(_ audio.Stream, ev capture.RecorderEvents) (capture.Recorder, error) {
			rec = &stuckRecorder{ev: ev}
			return rec, nil
		}))
	c.StartRecording(context.Background(), capture.Callbacks{})

	// The first stop lands: the recorder goes inactive but has not yet
	// delivered OnStop.
	c.StopRecording()
	rec.state.Store(int32(capture.RecorderInactive))
	c.StopRecording()

	if n := rec.stops.Load(); n != 1 {
		t.Errorf("recorder Stop called %d times, want 1", n)
	}
}

func TestStopRecording_ProceedsWhileStillRecording(t *testing.T) {
	t.Parallel()

	var rec *stuckRecorder
	c := capture.New(&fakeDevices{Stream: newStream()}, capture.WithRecorderFactory(
		func(_ audio.Stream, ev capture.RecorderEvents) (capture.Recorder, error) {
			rec = &stuckRecorder{ev: ev}
			return rec, nil
		}))
	c.StartRecording(context.Background(), capture.Callbacks{})

	c.StopRecording()
	c.StopRecording()

	if n := rec.stops.Load(); n != 2 {
		t.Errorf("recorder Stop called %d times, want 2 while still recording", n)
	}
}

func TestClose_TearsDownPendingStop(t *testing.T) {
	t.Parallel()

	stream := newStream()
	var rec *stuckRecorder
	c := capture.New(&fakeDevices{Stream: stream}, capture.WithRecorderFactory(
		func(_ audio.Stream, ev capture.RecorderEvents) (capture.Recorder, error) {
			rec = &stuckRecorder{ev: ev}
			return rec, nil
		}))

	var stopCalls atomic.Int32
	c.StartRecording(context.Background(), capture.Callbacks{
		OnStop: func(capture.Blob) { stopCalls.Add(1) },
	})
	c.StopRecording()
	c.Close()

	if rec.stops.Load() != 2 {
		t.Errorf("recorder Stop called %d times, want force-stop on Close", rec.stops.Load())
	}
	if stream.Tracks()[0].Live() {
		t.Error("track still live after Close")
	}
	if c.IsRecording() {
		t.Error("IsRecording = true after Close")
	}

	// A late OnStop from the torn-down recorder is ignored.
	rec.ev.OnStop()
	if stopCalls.Load() != 0 {
		t.Error("OnStop delivered for a torn-down session")
	}
}

// gatedDevices blocks GetUserMedia until release is closed, modelling a
// permission prompt that is still open.
type gatedDevices struct {
	stream  *audio.LiveStream
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDevices) GetUserMedia(context.Context, capture.Constraints) (audio.Stream, error) {
	close(d.entered)
	<-d.release
	return d.stream, nil
}

func TestClose_DuringAcquisitionReleasesStream(t *testing.T) {
	t.Parallel()

	stream := newStream()
	devices := &gatedDevices{stream: stream, entered: make(chan struct{}), release: make(chan struct{})}
	var created atomic.Int32
	c := capture.New(devices, capture.WithRecorderFactory(
		func(_ audio.Stream, ev capture.RecorderEvents) (capture.Recorder, error) {
			created.Add(1)
			return &stuckRecorder{ev: ev}, nil
		}))

	var ready atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.StartRecording(context.Background(), capture.Callbacks{
			OnStreamReady: func(audio.Stream) { ready.Store(true) },
		})
	}()

	<-devices.entered
	c.Close()
	close(devices.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StartRecording did not return")
	}

	if c.IsRecording() {
		t.Error("IsRecording = true after Close")
	}
	if stream.Tracks()[0].Live() {
		t.Error("track still live after Close")
	}
	if ready.Load() {
		t.Error("OnStreamReady fired for a torn-down start")
	}
	if n := created.Load(); n != 0 {
		t.Errorf("recorder created %d times, want 0", n)
	}
}
