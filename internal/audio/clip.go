package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNoClips         = errors.New("no clips to stitch")
	ErrEmptyClip       = errors.New("clip has no samples")
	ErrSampleRateMatch = errors.New("clips have different sample rates")
)

// Clip is mono PCM audio with samples in [-1, 1]
type Clip struct {
	Samples    []float32
	SampleRate int
}

func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// Truncate returns a clip no longer than d
func (c *Clip) Truncate(d time.Duration) *Clip {
	n := int(d.Seconds() * float64(c.SampleRate))
	if n <= 0 || n >= len(c.Samples) {
		return c
	}
	return &Clip{Samples: c.Samples[:n], SampleRate: c.SampleRate}
}

// SilenceThreshold is the level, in dBFS, below which reference audio counts as silence
const SilenceThreshold = -40.0

const silenceWindow = 10 * time.Millisecond

// TrimSilence drops leading and trailing 10ms windows whose RMS level is below
// threshold dBFS. A clip that is silent throughout comes back empty.
func (c *Clip) TrimSilence(threshold float64) *Clip {
	win := int(silenceWindow.Seconds() * float64(c.SampleRate))
	if win < 1 {
		win = 1
	}
	n := len(c.Samples)

	start := 0
	for start < n && levelDBFS(c.Samples[start:min(start+win, n)]) < threshold {
		start += win
	}
	if start >= n {
		return &Clip{Samples: []float32{}, SampleRate: c.SampleRate}
	}

	end := n
	for end > start && levelDBFS(c.Samples[max(end-win, start):end]) < threshold {
		end = max(end-win, start)
	}
	return &Clip{Samples: c.Samples[start:end], SampleRate: c.SampleRate}
}

// levelDBFS is the RMS level of s relative to full scale
func levelDBFS(s []float32) float64 {
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(math.Sqrt(sum/float64(len(s))))
}

// Stitch joins clips with a linear cross-fade of the given length at each boundary.
// The output is len(sum) - (K-1)*N samples long when every clip is longer than N.
func Stitch(clips []*Clip, crossfade time.Duration) (*Clip, error) {
	if len(clips) == 0 {
		return nil, ErrNoClips
	}
	for i, c := range clips {
		if c == nil || len(c.Samples) == 0 {
			return nil, fmt.Errorf("clip %d: %w", i, ErrEmptyClip)
		}
		if c.SampleRate != clips[0].SampleRate {
			return nil, fmt.Errorf("clip %d at %d Hz, want %d Hz: %w", i, c.SampleRate, clips[0].SampleRate, ErrSampleRateMatch)
		}
	}
	if len(clips) == 1 {
		return clips[0], nil
	}

	rate := clips[0].SampleRate
	fade := int(math.Round(crossfade.Seconds() * float64(rate)))

	total := 0
	for _, c := range clips {
		total += len(c.Samples)
	}
	out := make([]float32, 0, total)
	out = append(out, clips[0].Samples...)

	for _, next := range clips[1:] {
		n := fade
		if n > len(out) {
			n = len(out)
		}
		if n > len(next.Samples) {
			n = len(next.Samples)
		}

		base := len(out) - n
		for i := 0; i < n; i++ {
			w := float32(i+1) / float32(n+1)
			out[base+i] = out[base+i]*(1-w) + next.Samples[i]*w
		}
		out = append(out, next.Samples[n:]...)
	}

	return &Clip{Samples: out, SampleRate: rate}, nil
}
