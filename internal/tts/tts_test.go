package tts_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nadzzz/dialogcast/internal/tts"
	"github.com/nadzzz/dialogcast/internal/voice"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked transient", tts.Transient(errors.New("503")), true},
		{"deadline", fmt.Errorf("calling engine: %w", context.DeadlineExceeded), true},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"bad input", tts.BadInput(errors.New("text too long")), false},
		{"unsupported", fmt.Errorf("%w: ssml", tts.ErrUnsupported), false},
		{"invalid audio", fmt.Errorf("%w: empty", tts.ErrInvalidAudio), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tts.IsTransient(tt.err))
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	base := errors.New("status")
	assert.ErrorIs(t, tts.ClassifyStatus(503, base), tts.ErrTransient)
	assert.ErrorIs(t, tts.ClassifyStatus(429, base), tts.ErrTransient)
	assert.ErrorIs(t, tts.ClassifyStatus(501, base), tts.ErrUnsupported)
	assert.ErrorIs(t, tts.ClassifyStatus(400, base), tts.ErrBadInput)
	assert.ErrorIs(t, tts.ClassifyStatus(400, base), base)
}

func TestOptions(t *testing.T) {
	o := tts.Options{tts.OptLanguage: "pt"}
	assert.Equal(t, "pt", o.Get(tts.OptLanguage, "en"))
	assert.Equal(t, "1.0", o.Get(tts.OptSpeed, "1.0"))

	merged := o.Merge(tts.Options{tts.OptSpeed: "1.2", tts.OptLanguage: "en"})
	assert.Equal(t, "en", merged[tts.OptLanguage])
	assert.Equal(t, "1.2", merged[tts.OptSpeed])
	assert.Equal(t, "pt", o[tts.OptLanguage], "merge must not modify the receiver")
}

func TestVoiceName(t *testing.T) {
	defaults := map[string]string{"MALE": "ryan", "DEFAULT": "lessac"}

	assert.Equal(t, "amy", tts.VoiceName("piper", voice.Profile{ID: "amy", Gender: "FEMALE", EngineHint: "piper"}, defaults))
	assert.Equal(t, "ryan", tts.VoiceName("piper", voice.Profile{ID: "p225", Gender: "MALE", EngineHint: "coqui"}, defaults))
	assert.Equal(t, "lessac", tts.VoiceName("piper", voice.Profile{ID: "p226", Gender: "FEMALE", EngineHint: "coqui"}, defaults))
}
