// Package tts defines the contract every synthesis engine satisfies.
//
// Engines are strategies: Piper over the Wyoming protocol, a Coqui HTTP
// server, the OpenAI speech API and a platform speech command all implement
// Backend. Which engine is tried for a segment is decided by the fallback
// chain, never by the engine itself.
package tts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/nadzzz/dialogcast/internal/voice"
)

// Option keys understood by one or more backends.
const (
	OptLanguage   = "language"
	OptSpeakerWAV = "speaker_wav"
	OptVoice      = "voice"
	OptSpeed      = "speed"
	OptEmotion    = "emotion"
)

// Options is the open set of per-request engine options.
// Backends ignore keys they do not understand.
type Options map[string]string

// Get returns the value for key or def when unset.
func (o Options) Get(key, def string) string {
	if v, ok := o[key]; ok && v != "" {
		return v
	}
	return def
}

// Merge returns a copy of o overlaid with other.
func (o Options) Merge(other Options) Options {
	out := make(Options, len(o)+len(other))
	for k, v := range o {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Backend converts text to audio.
type Backend interface {
	// Name is the engine name used in config and fallback chains.
	Name() string

	// Probe reports whether the engine can currently serve requests.
	Probe(ctx context.Context) error

	// Synthesize renders text with the given voice and returns a WAV file.
	Synthesize(ctx context.Context, text string, v voice.Profile, opts Options) (*Result, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Result holds the output of one synthesis call.
type Result struct {
	// Audio is the synthesized audio as a WAV file.
	Audio []byte

	// ContentType is the MIME type of the audio (e.g., "audio/wav").
	ContentType string

	// SampleRate is the audio sample rate in Hz (e.g., 22050).
	SampleRate int

	// Channels is the number of audio channels (typically 1).
	Channels int
}

// Failure classes. Backends wrap their errors with one of these so the
// scheduler can decide between retrying and moving down the chain.
var (
	ErrTransient    = errors.New("transient backend failure")
	ErrBadInput     = errors.New("input rejected by backend")
	ErrUnsupported  = errors.New("unsupported by backend")
	ErrInvalidAudio = errors.New("backend returned invalid audio")
)

// Transient marks err as retryable.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// BadInput marks err as a rejection of the request itself.
func BadInput(err error) error {
	return fmt.Errorf("%w: %w", ErrBadInput, err)
}

// IsTransient reports whether a failure is worth retrying on the same backend.
// Timeouts and network errors are transient even when unclassified.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrBadInput) || errors.Is(err, ErrUnsupported) || errors.Is(err, ErrInvalidAudio) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ClassifyStatus maps an HTTP status code from a remote engine to a failure class.
func ClassifyStatus(code int, err error) error {
	switch {
	case code == 404 || code == 501:
		return fmt.Errorf("%w: %w", ErrUnsupported, err)
	case code == 429 || code >= 500:
		return Transient(err)
	case code >= 400:
		return BadInput(err)
	default:
		return err
	}
}

// VoiceName picks the engine-specific voice for a profile. A profile drawn
// from this engine's catalog is used as is; otherwise the engine's default
// for the profile's gender applies, then its "default" entry.
func VoiceName(engine string, p voice.Profile, defaults map[string]string) string {
	if p.EngineHint == engine && p.ID != "" {
		return p.ID
	}
	if v := defaults[p.Gender]; v != "" {
		return v
	}
	return defaults["DEFAULT"]
}
