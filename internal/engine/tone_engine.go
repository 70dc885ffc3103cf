package engine

import (
	"context"
	"math"
	"time"
	"unicode/utf8"

	"github.com/voxqueue/tts/internal/audio"
	"github.com/voxqueue/tts/internal/model"
)

const (
	toneSampleRate     = 24000
	toneCharsPerSecond = 14.0
)

// ToneEngine renders a deterministic tone whose length tracks the text.
// It stands in for the model in development and tests.
type ToneEngine struct {
	// Latency is added per call to mimic inference time
	Latency time.Duration
}

func NewToneEngine() *ToneEngine {
	return &ToneEngine{}
}

func (e *ToneEngine) Load(ctx context.Context) error {
	return ctx.Err()
}

func (e *ToneEngine) Synthesize(ctx context.Context, r Request) (*audio.Clip, error) {
	if e.Latency > 0 {
		select {
		case <-time.After(e.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	speed := r.Speed
	if speed <= 0 {
		speed = 1
	}
	seconds := float64(utf8.RuneCountInString(r.Text)) / (toneCharsPerSecond * speed)
	n := int(seconds * toneSampleRate)

	freq := 180.0
	switch model.Gender(r.Voice.Gender) {
	case model.GenderMale:
		freq = 120
	case model.GenderFemale:
		freq = 220
	}

	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / toneSampleRate
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*freq*t))
	}
	return &audio.Clip{Samples: samples, SampleRate: toneSampleRate}, nil
}

func (e *ToneEngine) Close() error {
	return nil
}
