package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/dialogcast/internal/audio"
	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/tts"
	"github.com/nadzzz/dialogcast/internal/tts/openai"
	"github.com/nadzzz/dialogcast/internal/voice"
)

func TestSynthesize(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.WrapPCM(make([]byte, 480), 24000, 1, 2))
	}))
	defer srv.Close()

	b := openai.New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "tts-1"})
	res, err := b.Synthesize(context.Background(), "Hello", voice.Profile{Gender: "FEMALE"}, tts.Options{tts.OptSpeed: "1.25"})
	require.NoError(t, err)

	_, err = audio.DecodeWAV(res.Audio)
	require.NoError(t, err)

	assert.Equal(t, "Hello", body["input"])
	assert.Equal(t, "tts-1", body["model"])
	assert.Equal(t, "nova", body["voice"])
	assert.Equal(t, "wav", body["response_format"])
	assert.Equal(t, 1.25, body["speed"])
}

func TestSynthesize_ErrorClasses(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	b := openai.New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/"})

	_, err := b.Synthesize(context.Background(), "Hello", voice.Profile{}, nil)
	assert.True(t, tts.IsTransient(err), "429 should be transient: %v", err)

	status = http.StatusBadRequest
	_, err = b.Synthesize(context.Background(), "Hello", voice.Profile{}, nil)
	assert.ErrorIs(t, err, tts.ErrBadInput)
}

func TestProbe_NoKey(t *testing.T) {
	err := openai.New(config.OpenAIConfig{}).Probe(context.Background())
	assert.ErrorIs(t, err, tts.ErrUnsupported)
}
