package beepplayer_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep"

	"github.com/MrWong99/parlons/pkg/audio"
	"github.com/MrWong99/parlons/pkg/audio/sequence"
	"github.com/MrWong99/parlons/pkg/audio/sequence/beepplayer"
)

// drainOutput pulls every played streamer to completion on its own
// goroutine, standing in for the speaker mixer.
type drainOutput struct {
	mu sync.Mutex
}

func (o *drainOutput) Lock()   { o.mu.Lock() }
func (o *drainOutput) Unlock() { o.mu.Unlock() }

func (o *drainOutput) Play(s beep.Streamer) error {
	go func() {
		buf := make([][2]float64, 512)
		for {
			o.mu.Lock()
			n, ok := s.Stream(buf)
			o.mu.Unlock()
			if !ok {
				return
			}
			if n == 0 {
				time.Sleep(time.Millisecond)
			}
		}
	}()
	return nil
}

func testWAV() []byte {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i % 200 * 50)
	}
	return audio.EncodeWAV(samples, audio.Format{SampleRate: 16000, Channels: 1})
}

func memOpener(data []byte, contentType string) beepplayer.Opener {
	return beepplayer.OpenerFunc(func(context.Context, string) (io.ReadCloser, string, error) {
		return io.NopCloser(bytes.NewReader(data)), contentType, nil
	})
}

type events struct {
	loaded chan struct{}
	ended  chan struct{}
	errs   chan error
}

func newEvents() (*events, sequence.ElementEvents) {
	e := &events{
		loaded: make(chan struct{}, 1),
		ended:  make(chan struct{}, 1),
		errs:   make(chan error, 1),
	}
	return e, sequence.ElementEvents{
		OnLoadedMetadata: func() { e.loaded <- struct{}{} },
		OnEnded:          func() { e.ended <- struct{}{} },
		OnError:          func(err error) { e.errs <- err },
	}
}

func TestElement_PlaysWAVToEnd(t *testing.T) {
	t.Parallel()

	l := beepplayer.New(memOpener(testWAV(), "audio/wav"), beepplayer.WithOutput(&drainOutput{}, 16000))
	ev, handlers := newEvents()

	el, err := l.Load(sequence.Item{ID: "a", URL: "blob:a"}, handlers)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := el.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}

	select {
	case <-ev.loaded:
	default:
		t.Error("OnLoadedMetadata did not fire during Play")
	}
	select {
	case <-ev.ended:
	case err := <-ev.errs:
		t.Fatalf("OnError: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnEnded did not fire")
	}
}

func TestElement_ResamplesToOutputRate(t *testing.T) {
	t.Parallel()

	l := beepplayer.New(memOpener(testWAV(), ""), beepplayer.WithOutput(&drainOutput{}, 44100))
	ev, handlers := newEvents()

	el, _ := l.Load(sequence.Item{ID: "a", URL: "blob:a"}, handlers)
	if err := el.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	select {
	case <-ev.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("OnEnded did not fire")
	}
}

// holdOutput keeps played streamers for the test to pull manually.
type holdOutput struct {
	sync.Mutex
	played []beep.Streamer
}

func (o *holdOutput) Play(s beep.Streamer) error {
	o.played = append(o.played, s)
	return nil
}

func TestElement_CloseSuppressesEvents(t *testing.T) {
	t.Parallel()

	out := &holdOutput{}
	l := beepplayer.New(memOpener(testWAV(), "audio/wav"), beepplayer.WithOutput(out, 16000))
	ev, handlers := newEvents()

	el, _ := l.Load(sequence.Item{ID: "a", URL: "blob:a"}, handlers)
	if err := el.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(out.played) != 1 {
		t.Fatalf("output received %d streamers, want 1", len(out.played))
	}
	el.Close()

	buf := make([][2]float64, 512)
	if _, ok := out.played[0].Stream(buf); ok {
		t.Error("closed element still produces audio")
	}
	select {
	case <-ev.ended:
		t.Error("OnEnded fired after Close")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestElement_PauseEmitsSilence(t *testing.T) {
	t.Parallel()

	out := &holdOutput{}
	l := beepplayer.New(memOpener(testWAV(), "audio/wav"), beepplayer.WithOutput(out, 16000))
	_, handlers := newEvents()

	el, _ := l.Load(sequence.Item{ID: "a", URL: "blob:a"}, handlers)
	if err := el.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	el.Pause()

	buf := make([][2]float64, 64)
	buf[10] = [2]float64{1, 1}
	n, ok := out.played[0].Stream(buf)
	if !ok || n != len(buf) {
		t.Fatalf("paused Stream = (%d, %v), want full silent buffer", n, ok)
	}
	if buf[10] != [2]float64{} {
		t.Error("paused element produced audio")
	}

	if err := el.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	el.Close()
	if err := el.Resume(context.Background()); err == nil {
		t.Error("Resume after Close succeeded")
	}
}

func TestElement_PauseWhileFetchingHoldsSilence(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	opener := beepplayer.OpenerFunc(func(context.Context, string) (io.ReadCloser, string, error) {
		close(entered)
		<-release
		return io.NopCloser(bytes.NewReader(testWAV())), "audio/wav", nil
	})
	out := &holdOutput{}
	l := beepplayer.New(opener, beepplayer.WithOutput(out, 16000))
	_, handlers := newEvents()
	el, _ := l.Load(sequence.Item{ID: "a", URL: "blob:a"}, handlers)

	played := make(chan error, 1)
	go func() { played <- el.Play(context.Background()) }()
	<-entered
	el.Pause()
	close(release)
	if err := <-played; err != nil {
		t.Fatalf("Play: %v", err)
	}

	buf := make([][2]float64, 64)
	buf[10] = [2]float64{1, 1}
	if _, ok := out.played[0].Stream(buf); !ok {
		t.Fatal("paused stream ended")
	}
	if buf[10] != [2]float64{} {
		t.Error("element paused before playback produced audio")
	}

	if err := el.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	clear(buf)
	out.played[0].Stream(buf)
	var audible bool
	for _, f := range buf {
		if f != [2]float64{} {
			audible = true
			break
		}
	}
	if !audible {
		t.Error("resumed element is still silent")
	}
	el.Close()
}

func TestElement_ResumeBeforePlayback(t *testing.T) {
	t.Parallel()

	l := beepplayer.New(memOpener(testWAV(), "audio/wav"), beepplayer.WithOutput(&holdOutput{}, 16000))
	_, handlers := newEvents()
	el, _ := l.Load(sequence.Item{ID: "a", URL: "blob:a"}, handlers)

	el.Pause()
	if err := el.Resume(context.Background()); err != nil {
		t.Errorf("Resume before Play: %v", err)
	}
}

func TestElement_RejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	l := beepplayer.New(memOpener([]byte("not audio at all"), "text/plain"), beepplayer.WithOutput(&drainOutput{}, 16000))
	_, handlers := newEvents()
	el, _ := l.Load(sequence.Item{ID: "x", URL: "blob:x"}, handlers)

	if err := el.Play(context.Background()); !errors.Is(err, beepplayer.ErrUnsupportedFormat) {
		t.Errorf("Play = %v, want ErrUnsupportedFormat", err)
	}
}

func TestSchemeOpener(t *testing.T) {
	t.Parallel()

	wavData := testWAV()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp3" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wavData)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "letter.wav")
	if err := os.WriteFile(path, wavData, 0o644); err != nil {
		t.Fatal(err)
	}

	o := beepplayer.DefaultOpener()
	o["blob"] = memOpener(wavData, "audio/wav")

	for _, u := range []string{srv.URL + "/a.wav", "file://" + filepath.ToSlash(path), "blob:1234"} {
		body, _, err := o.Open(context.Background(), u)
		if err != nil {
			t.Errorf("Open(%q): %v", u, err)
			continue
		}
		got, _ := io.ReadAll(body)
		body.Close()
		if !bytes.Equal(got, wavData) {
			t.Errorf("Open(%q) returned %d bytes, want %d", u, len(got), len(wavData))
		}
	}

	if _, _, err := o.Open(context.Background(), srv.URL+"/missing.mp3"); err == nil {
		t.Error("expected error for 404")
	}
	if _, _, err := o.Open(context.Background(), "ftp://example.com/a.mp3"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}
