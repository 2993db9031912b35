// Package audio decodes synthesized segments, processes them and assembles the final track.
//
// Samples are held as interleaved float64 in [-1, 1]. WAV is decoded and
// encoded in-process; every other container goes through an external encoder.
package audio

import (
	"math"
	"time"
)

// Buffer is interleaved PCM audio.
type Buffer struct {
	Samples    []float64
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playing time of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// FramesIn returns how many frames cover d at the buffer's rate.
func (b *Buffer) FramesIn(d time.Duration) int {
	return int(math.Round(d.Seconds() * float64(b.SampleRate)))
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{
		Samples:    append([]float64(nil), b.Samples...),
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
	}
}

// Silence returns d of digital silence.
func Silence(d time.Duration, sampleRate, channels int) *Buffer {
	frames := int(math.Round(d.Seconds() * float64(sampleRate)))
	return &Buffer{
		Samples:    make([]float64, frames*channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Peak returns the largest absolute sample value.
func (b *Buffer) Peak() float64 {
	var peak float64
	for _, s := range b.Samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// RMS returns the root mean square level.
func (b *Buffer) RMS() float64 {
	if len(b.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range b.Samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(b.Samples)))
}

// DB converts a linear amplitude to decibels full scale.
func DB(linear float64) float64 {
	if linear <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(linear)
}

// Linear converts decibels full scale to a linear amplitude.
func Linear(db float64) float64 {
	return math.Pow(10, db/20)
}
