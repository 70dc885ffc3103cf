package audio

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrInvalidWAV = errors.New("invalid wav data")

// EncodeWAV renders the clip as 16-bit mono PCM. The encoder needs a seekable
// writer to patch the header, so it goes through a temp file.
func EncodeWAV(c *Clip) ([]byte, error) {
	if c == nil || c.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: missing sample rate", ErrInvalidWAV)
	}

	tmp, err := os.CreateTemp("", "tts-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	data := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		data[i] = int(math.Round(float64(clamp(s)) * math.MaxInt16))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: c.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(tmp, c.SampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}

	return os.ReadFile(tmp.Name())
}

// DecodeWAV reads PCM wav data of any integer bit depth, downmixing to mono
func DecodeWAV(data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			v := float64(buf.Data[f*channels+ch])
			// 8-bit wav is unsigned
			if bitDepth == 8 {
				v -= 128
			}
			sum += v
		}
		samples[f] = float32(sum / float64(channels) / scale)
	}

	return &Clip{Samples: samples, SampleRate: int(dec.SampleRate)}, nil
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
