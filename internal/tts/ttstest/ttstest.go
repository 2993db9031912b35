// Package ttstest provides an in-process tts.Backend for tests.
package ttstest

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/nadzzz/dialogcast/internal/audio"
	"github.com/nadzzz/dialogcast/internal/tts"
	"github.com/nadzzz/dialogcast/internal/voice"
)

// SampleRate of the audio produced by Fake.
const SampleRate = 8000

// WAV returns d of a quiet 220 Hz tone as a 16-bit mono WAV file.
func WAV(d time.Duration) []byte {
	b := audio.Silence(d, SampleRate, 1)
	for i := range b.Samples {
		b.Samples[i] = 0.3 * math.Sin(2*math.Pi*220*float64(i)/SampleRate)
	}
	data, _ := audio.EncodeWAV(b, 16)
	return data
}

// Call records one Synthesize invocation.
type Call struct {
	Text    string
	Voice   voice.Profile
	Options tts.Options
}

// Fake is a scripted backend. The zero configuration returns 200ms of tone
// for every call.
type Fake struct {
	name string

	mu       sync.Mutex
	probeErr error
	delay    time.Duration
	length   time.Duration
	respond  func(n int, text string) error
	calls    []Call
}

// New returns a fake backend with the given engine name.
func New(name string) *Fake {
	return &Fake{name: name, length: 200 * time.Millisecond}
}

// WithProbeError makes Probe fail.
func (f *Fake) WithProbeError(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeErr = err
	return f
}

// WithDelay makes every call take d, or until its context ends.
func (f *Fake) WithDelay(d time.Duration) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// WithLength sets the duration of the returned audio.
func (f *Fake) WithLength(d time.Duration) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.length = d
	return f
}

// WithResponder installs a hook called with the 1-based call number and the
// text; a non-nil error is returned instead of audio.
func (f *Fake) WithResponder(fn func(n int, text string) error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = fn
	return f
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) Probe(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr
}

func (f *Fake) Synthesize(ctx context.Context, text string, v voice.Profile, opts tts.Options) (*tts.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Text: text, Voice: v, Options: opts})
	n, delay, length, respond := len(f.calls), f.delay, f.length, f.respond
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if respond != nil {
		if err := respond(n, text); err != nil {
			return nil, err
		}
	}
	return &tts.Result{Audio: WAV(length), ContentType: "audio/wav", SampleRate: SampleRate, Channels: 1}, nil
}

func (f *Fake) Close() error { return nil }

// Calls returns a copy of every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
