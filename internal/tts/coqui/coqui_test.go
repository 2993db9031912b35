package coqui_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/dialogcast/internal/audio"
	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/tts"
	"github.com/nadzzz/dialogcast/internal/tts/coqui"
	"github.com/nadzzz/dialogcast/internal/voice"
)

func TestSynthesize(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tts", r.URL.Path)
		got = r.URL.Query()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.WrapPCM(make([]byte, 200), 22050, 1, 2))
	}))
	defer srv.Close()

	b := coqui.New(config.CoquiConfig{Endpoint: srv.URL + "/", Language: "en", SpeakerWAV: "/refs/host.wav"})
	res, err := b.Synthesize(context.Background(), "Olá", voice.Profile{ID: "p225", EngineHint: coqui.Name}, tts.Options{tts.OptLanguage: "pt"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Audio)

	assert.Equal(t, "Olá", got.Get("text"))
	assert.Equal(t, "p225", got.Get("speaker_id"))
	assert.Equal(t, "pt", got.Get("language_id"))
	assert.Equal(t, "/refs/host.wav", got.Get("speaker_wav"))
}

func TestSynthesize_StatusClasses(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", status)
	}))
	defer srv.Close()

	b := coqui.New(config.CoquiConfig{Endpoint: srv.URL})

	_, err := b.Synthesize(context.Background(), "hi", voice.Profile{}, nil)
	assert.True(t, tts.IsTransient(err))

	status = http.StatusBadRequest
	_, err = b.Synthesize(context.Background(), "hi", voice.Profile{}, nil)
	assert.ErrorIs(t, err, tts.ErrBadInput)
	assert.False(t, tts.IsTransient(err))
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	b := coqui.New(config.CoquiConfig{Endpoint: srv.URL})
	assert.NoError(t, b.Probe(context.Background()))

	srv.Close()
	assert.Error(t, b.Probe(context.Background()))
}
