// Package portaudio implements [capture.MediaDevices] on top of the system
// default input device through PortAudio.
//
// Echo cancellation, noise suppression and gain control are not available at
// this layer; only the channel count and sample rate of the requested
// [capture.Constraints] are honoured.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parlons/pkg/audio"
	"github.com/MrWong99/parlons/pkg/audio/capture"
)

// DefaultFramesPerBuffer is the read size of the capture loop: 64 ms at 16 kHz.
const DefaultFramesPerBuffer = 1024

// Compile-time interface assertion.
var _ capture.MediaDevices = (*Devices)(nil)

// Option is a functional option for [Devices].
type Option func(*Devices)

// WithFramesPerBuffer sets the number of frames read per loop iteration.
func WithFramesPerBuffer(n int) Option {
	return func(d *Devices) {
		if n > 0 {
			d.framesPerBuffer = n
		}
	}
}

// WithLogger sets the logger for device diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Devices) {
		if l != nil {
			d.log = l
		}
	}
}

// Devices opens microphone streams from the default input device. Call
// [Devices.Close] to release PortAudio.
type Devices struct {
	framesPerBuffer int
	log             *slog.Logger

	mu      sync.Mutex
	streams map[*portaudio.Stream]struct{}
}

// Open initialises PortAudio and returns a Devices ready for
// GetUserMedia. It fails with [capture.ErrUnsupportedEnvironment] when the
// library cannot be initialised.
func Open(opts ...Option) (*Devices, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio: %w", capture.ErrUnsupportedEnvironment, err)
	}
	d := &Devices{
		framesPerBuffer: DefaultFramesPerBuffer,
		log:             slog.Default(),
		streams:         make(map[*portaudio.Stream]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// GetUserMedia implements [capture.MediaDevices]. The returned stream keeps
// reading until its track is stopped or ctx is cancelled.
func (d *Devices) GetUserMedia(ctx context.Context, c capture.Constraints) (audio.Stream, error) {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, mapError("default input device", err)
	}
	if dev == nil || dev.MaxInputChannels < 1 {
		return nil, fmt.Errorf("%w: no input channels on default device", capture.ErrDeviceUnavailable)
	}

	channels := c.Channels
	if channels < 1 || channels > dev.MaxInputChannels {
		channels = 1
	}
	rate := c.SampleRate
	if rate <= 0 {
		rate = int(dev.DefaultSampleRate)
	}

	buf := make([]int16, d.framesPerBuffer*channels)
	pa, err := portaudio.OpenDefaultStream(channels, 0, float64(rate), d.framesPerBuffer, buf)
	if err != nil {
		return nil, mapError("open stream", err)
	}
	if err := pa.Start(); err != nil {
		_ = pa.Close()
		return nil, mapError("start stream", err)
	}

	d.mu.Lock()
	d.streams[pa] = struct{}{}
	d.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	context.AfterFunc(ctx, cancel)

	format := audio.Format{SampleRate: rate, Channels: channels}
	stream := audio.NewLiveStream(uuid.NewString(), format, dev.Name, cancel)
	d.log.Info("portaudio: microphone opened", "device", dev.Name, "rate", rate, "channels", channels)

	go d.readLoop(loopCtx, pa, buf, stream)
	return stream, nil
}

// readLoop pushes device buffers into stream until ctx is done, then closes
// the device stream.
func (d *Devices) readLoop(ctx context.Context, pa *portaudio.Stream, buf []int16, stream *audio.LiveStream) {
	defer func() {
		audio.StopTracks(stream)
		_ = pa.Stop()
		_ = pa.Close()
		d.mu.Lock()
		delete(d.streams, pa)
		d.mu.Unlock()
		d.log.Debug("portaudio: microphone closed", "stream", stream.ID())
	}()

	for ctx.Err() == nil {
		if err := pa.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			d.log.Warn("portaudio: read failed", "stream", stream.ID(), "err", err)
			return
		}
		frame := make([]int16, len(buf))
		copy(frame, buf)
		stream.Push(audio.Frame{Samples: frame})
	}
}

// Close stops every open stream and terminates PortAudio.
func (d *Devices) Close() error {
	d.mu.Lock()
	for pa := range d.streams {
		_ = pa.Abort()
	}
	d.mu.Unlock()
	return portaudio.Terminate()
}

// mapError classifies a PortAudio failure. Host APIs surface a revoked
// microphone permission as an opaque host error, so the message is inspected.
func mapError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not permitted") || strings.Contains(msg, "access denied") {
		return fmt.Errorf("%w: portaudio: %s: %w", capture.ErrPermissionDenied, op, err)
	}
	return fmt.Errorf("%w: portaudio: %s: %w", capture.ErrDeviceUnavailable, op, err)
}
