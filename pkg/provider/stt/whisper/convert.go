package whisper

import (
	"bytes"
	"fmt"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// sampleRate is the input rate whisper.cpp models expect.
const sampleRate beep.SampleRate = 16000

// resampleQuality is passed to beep.Resample.
const resampleQuality = 4

// decodeSamples decodes a WAV recording into mono float32 samples at 16 kHz
// in the range [-1.0, 1.0]. beep exposes every stream as stereo; mono input
// appears on both channels, so averaging them is exact.
func decodeSamples(audio []byte) ([]float32, error) {
	streamer, format, err := wav.Decode(bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("whisper: decode wav: %w", err)
	}
	defer streamer.Close()

	var src beep.Streamer = streamer
	if format.SampleRate != sampleRate {
		src = beep.Resample(resampleQuality, format.SampleRate, sampleRate, streamer)
	}

	out := make([]float32, 0, streamer.Len())
	buf := make([][2]float64, 4096)
	for {
		n, ok := src.Stream(buf)
		for _, s := range buf[:n] {
			out = append(out, float32((s[0]+s[1])/2))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("whisper: read wav: %w", err)
	}
	return out, nil
}
