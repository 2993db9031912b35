package audio

import (
	"fmt"
	"math"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"
)

// resampleTail is silence appended before resampling so the filter delay
// consumes padding instead of program audio.
const resampleTail = 50 * time.Millisecond

// ToChannels converts b to mono or stereo. Mono is the average of all input
// channels; stereo from mono duplicates the signal.
func ToChannels(b *Buffer, channels int) (*Buffer, error) {
	if b.Channels == channels {
		return b, nil
	}
	frames := b.Frames()
	out := &Buffer{Samples: make([]float64, frames*channels), SampleRate: b.SampleRate, Channels: channels}

	switch {
	case channels == 1:
		for f := 0; f < frames; f++ {
			var sum float64
			for c := 0; c < b.Channels; c++ {
				sum += b.Samples[f*b.Channels+c]
			}
			out.Samples[f] = sum / float64(b.Channels)
		}
	case channels == 2 && b.Channels == 1:
		for f := 0; f < frames; f++ {
			out.Samples[2*f] = b.Samples[f]
			out.Samples[2*f+1] = b.Samples[f]
		}
	case channels == 2:
		for f := 0; f < frames; f++ {
			out.Samples[2*f] = b.Samples[f*b.Channels]
			out.Samples[2*f+1] = b.Samples[f*b.Channels+1]
		}
	default:
		return nil, fmt.Errorf("cannot convert %d channels to %d", b.Channels, channels)
	}
	return out, nil
}

// Resample converts b to the target sample rate.
func Resample(b *Buffer, rate int) (*Buffer, error) {
	if b.SampleRate == rate {
		return b, nil
	}
	if b.Frames() == 0 {
		return &Buffer{SampleRate: rate, Channels: b.Channels}, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(b.SampleRate),
		OutputRate: float64(rate),
		Channels:   b.Channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("creating resampler: %w", err)
	}

	in := append(append([]float64(nil), b.Samples...), Silence(resampleTail, b.SampleRate, b.Channels).Samples...)
	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resampling %d Hz -> %d Hz: %w", b.SampleRate, rate, err)
	}

	want := int(math.Round(float64(b.Frames())*float64(rate)/float64(b.SampleRate))) * b.Channels
	if len(out) > want {
		out = out[:want]
	}
	return &Buffer{Samples: out, SampleRate: rate, Channels: b.Channels}, nil
}

// TrimSilence removes leading and trailing frames whose level stays below thresholdDB.
func TrimSilence(b *Buffer, thresholdDB float64) *Buffer {
	threshold := Linear(thresholdDB)
	frames := b.Frames()

	loud := func(f int) bool {
		for c := 0; c < b.Channels; c++ {
			if math.Abs(b.Samples[f*b.Channels+c]) > threshold {
				return true
			}
		}
		return false
	}

	start := 0
	for start < frames && !loud(start) {
		start++
	}
	end := frames
	for end > start && !loud(end-1) {
		end--
	}
	return &Buffer{
		Samples:    append([]float64(nil), b.Samples[start*b.Channels:end*b.Channels]...),
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
	}
}

// Normalize scales b so its RMS level reaches targetDB, then limits the gain
// so no sample exceeds full scale. Silent buffers are returned unchanged.
func Normalize(b *Buffer, targetDB float64) *Buffer {
	rms := b.RMS()
	if rms == 0 {
		return b
	}
	gain := Linear(targetDB) / rms
	if peak := b.Peak(); peak*gain > 0.99 {
		gain = 0.99 / peak
	}
	return Gain(b, gain)
}

// Gain multiplies every sample by g.
func Gain(b *Buffer, g float64) *Buffer {
	out := b.Clone()
	for i := range out.Samples {
		out.Samples[i] *= g
	}
	return out
}

// Compressor is a feed-forward peak compressor.
type Compressor struct {
	Threshold float64 // linear amplitude
	Ratio     float64
	Attack    time.Duration
	Release   time.Duration
}

// Apply compresses b. The envelope follows the loudest channel of each frame.
func (c Compressor) Apply(b *Buffer) *Buffer {
	if c.Ratio <= 1 || c.Threshold <= 0 {
		return b
	}
	coef := func(d time.Duration) float64 {
		if d <= 0 {
			return 0
		}
		return math.Exp(-1 / (d.Seconds() * float64(b.SampleRate)))
	}
	attack, release := coef(c.Attack), coef(c.Release)

	out := b.Clone()
	var env float64
	for f := 0; f < out.Frames(); f++ {
		var level float64
		for ch := 0; ch < out.Channels; ch++ {
			level = math.Max(level, math.Abs(out.Samples[f*out.Channels+ch]))
		}
		k := release
		if level > env {
			k = attack
		}
		env = k*env + (1-k)*level

		gain := 1.0
		if env > c.Threshold {
			gain = (c.Threshold + (env-c.Threshold)/c.Ratio) / env
		}
		for ch := 0; ch < out.Channels; ch++ {
			out.Samples[f*out.Channels+ch] *= gain
		}
	}
	return out
}

// FadeIn ramps the first d of b up from silence, in place.
func FadeIn(b *Buffer, d time.Duration) {
	n := min(b.FramesIn(d), b.Frames())
	for f := 0; f < n; f++ {
		g := float64(f) / float64(n)
		for c := 0; c < b.Channels; c++ {
			b.Samples[f*b.Channels+c] *= g
		}
	}
}

// FadeOut ramps the last d of b down to silence, in place.
func FadeOut(b *Buffer, d time.Duration) {
	frames := b.Frames()
	n := min(b.FramesIn(d), frames)
	for i := 0; i < n; i++ {
		f := frames - n + i
		g := float64(n-i-1) / float64(n)
		for c := 0; c < b.Channels; c++ {
			b.Samples[f*b.Channels+c] *= g
		}
	}
}

// Append concatenates bufs, which must share a format.
func Append(bufs ...*Buffer) *Buffer {
	out := &Buffer{}
	for _, b := range bufs {
		if b == nil {
			continue
		}
		if out.SampleRate == 0 {
			out.SampleRate, out.Channels = b.SampleRate, b.Channels
		}
		out.Samples = append(out.Samples, b.Samples...)
	}
	return out
}

// Crossfade joins a and b, overlapping the last d of a with the first d of b.
func Crossfade(a, b *Buffer, d time.Duration) *Buffer {
	n := min(a.FramesIn(d), a.Frames(), b.Frames())
	ch := a.Channels
	out := &Buffer{
		Samples:    make([]float64, 0, len(a.Samples)+len(b.Samples)-n*ch),
		SampleRate: a.SampleRate,
		Channels:   ch,
	}
	out.Samples = append(out.Samples, a.Samples[:len(a.Samples)-n*ch]...)
	tail := a.Samples[len(a.Samples)-n*ch:]
	for f := 0; f < n; f++ {
		g := float64(f) / float64(n)
		for c := 0; c < ch; c++ {
			out.Samples = append(out.Samples, tail[f*ch+c]*(1-g)+b.Samples[f*ch+c]*g)
		}
	}
	return Append(out, &Buffer{Samples: b.Samples[n*ch:], SampleRate: b.SampleRate, Channels: ch})
}

// MixLoop mixes bed under b at the given volume, looping bed to cover b.
func MixLoop(b, bed *Buffer, volume float64) *Buffer {
	out := b.Clone()
	if len(bed.Samples) == 0 {
		return out
	}
	for i := range out.Samples {
		out.Samples[i] = clamp(out.Samples[i] + bed.Samples[i%len(bed.Samples)]*volume)
	}
	return out
}

func clamp(s float64) float64 {
	return math.Max(-1, math.Min(1, s))
}
