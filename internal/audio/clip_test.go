package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constClip(n int, v float32, rate int) *Clip {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return &Clip{Samples: s, SampleRate: rate}
}

func TestStitchSingleClipUntouched(t *testing.T) {
	c := constClip(100, 0.5, 1000)
	out, err := Stitch([]*Clip{c}, 150*time.Millisecond)
	require.NoError(t, err)
	assert.Same(t, c, out)
}

func TestStitchDurationProperty(t *testing.T) {
	const rate = 24000
	crossfade := 150 * time.Millisecond
	clips := []*Clip{
		constClip(rate*2, 0.1, rate),
		constClip(rate*3, 0.2, rate),
		constClip(rate*1, 0.3, rate),
	}

	out, err := Stitch(clips, crossfade)
	require.NoError(t, err)

	var sum time.Duration
	for _, c := range clips {
		sum += c.Duration()
	}
	want := sum - time.Duration(len(clips)-1)*crossfade
	assert.InDelta(t, want.Seconds(), out.Duration().Seconds(), 1.0/rate)
}

func TestStitchCrossfadeBlends(t *testing.T) {
	a := constClip(10, 1, 10)
	b := constClip(10, 0, 10)

	// 300ms at 10Hz is 3 samples
	out, err := Stitch([]*Clip{a, b}, 300*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, out.Samples, 17)

	assert.Equal(t, float32(1), out.Samples[6])
	assert.InDelta(t, 0.75, out.Samples[7], 1e-6)
	assert.InDelta(t, 0.5, out.Samples[8], 1e-6)
	assert.InDelta(t, 0.25, out.Samples[9], 1e-6)
	assert.Equal(t, float32(0), out.Samples[10])
}

func TestStitchRejectsEmptyClip(t *testing.T) {
	_, err := Stitch([]*Clip{constClip(10, 1, 10), {SampleRate: 10}}, 0)
	assert.ErrorIs(t, err, ErrEmptyClip)

	_, err = Stitch(nil, 0)
	assert.ErrorIs(t, err, ErrNoClips)
}

func TestStitchRejectsMixedRates(t *testing.T) {
	_, err := Stitch([]*Clip{constClip(10, 1, 10), constClip(10, 1, 20)}, 0)
	assert.ErrorIs(t, err, ErrSampleRateMatch)
}

func TestTruncate(t *testing.T) {
	c := constClip(100, 0.5, 10)
	assert.Len(t, c.Truncate(3*time.Second).Samples, 30)
	assert.Same(t, c, c.Truncate(time.Minute))
}

func concat(clips ...*Clip) *Clip {
	out := &Clip{SampleRate: clips[0].SampleRate}
	for _, c := range clips {
		out.Samples = append(out.Samples, c.Samples...)
	}
	return out
}

func TestTrimSilence(t *testing.T) {
	const rate = 8000
	// -12 dBFS speech between digital silence and -46 dBFS hiss
	padded := concat(constClip(rate/2, 0, rate), constClip(rate, 0.25, rate), constClip(rate*3/10, 0.005, rate))

	out := padded.TrimSilence(SilenceThreshold)
	assert.Equal(t, time.Second, out.Duration())
	assert.Equal(t, float32(0.25), out.Samples[0])
	assert.Equal(t, float32(0.25), out.Samples[len(out.Samples)-1])

	loud := constClip(rate, 0.25, rate)
	assert.Len(t, loud.TrimSilence(SilenceThreshold).Samples, rate)

	assert.Empty(t, constClip(rate, 0.001, rate).TrimSilence(SilenceThreshold).Samples)
	assert.Empty(t, (&Clip{SampleRate: rate}).TrimSilence(SilenceThreshold).Samples)
}
