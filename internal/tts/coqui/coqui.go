// Package coqui implements tts.Backend against a Coqui TTS HTTP server
// (tts-server / XTTS), which renders text through GET /api/tts.
package coqui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/tts"
	"github.com/nadzzz/dialogcast/internal/voice"
)

// Name is the engine name used in config and fallback chains.
const Name = "coqui"

// Backend talks to a Coqui TTS server.
type Backend struct {
	endpoint   string
	language   string
	speakerWAV string
	client     *http.Client
}

// New creates a new Coqui backend from config.
func New(cfg config.CoquiConfig) *Backend {
	return &Backend{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		language:   cfg.Language,
		speakerWAV: cfg.SpeakerWAV,
		client:     &http.Client{},
	}
}

func (b *Backend) Name() string { return Name }

// Probe checks that the server answers on its root page.
func (b *Backend) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"/", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return tts.Transient(fmt.Errorf("coqui probe: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return tts.ClassifyStatus(resp.StatusCode, fmt.Errorf("coqui probe returned status %d", resp.StatusCode))
	}
	return nil
}

// Synthesize renders text and returns the server's WAV response.
// Supported options: language, speaker_wav (voice cloning reference), voice.
func (b *Backend) Synthesize(ctx context.Context, text string, v voice.Profile, opts tts.Options) (*tts.Result, error) {
	if text == "" {
		return nil, tts.BadInput(errors.New("empty text for synthesis"))
	}

	q := make(url.Values)
	q.Set("text", text)
	if speaker := opts.Get(tts.OptVoice, tts.VoiceName(Name, v, nil)); speaker != "" {
		q.Set("speaker_id", speaker)
	}
	if lang := opts.Get(tts.OptLanguage, b.language); lang != "" {
		q.Set("language_id", lang)
	}
	if wav := opts.Get(tts.OptSpeakerWAV, b.speakerWAV); wav != "" {
		q.Set("speaker_wav", wav)
	}
	if emotion := opts.Get(tts.OptEmotion, ""); emotion != "" {
		q.Set("emotion", emotion)
	}

	reqURL := b.endpoint + "/api/tts?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	slog.Debug("coqui synthesize", "text_length", len(text), "speaker", q.Get("speaker_id"), "language", q.Get("language_id"))

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, tts.Transient(fmt.Errorf("coqui request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, tts.ClassifyStatus(resp.StatusCode, fmt.Errorf("coqui synthesis failed (status %d): %s", resp.StatusCode, respBody))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.Transient(fmt.Errorf("reading coqui response: %w", err))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: coqui returned an empty body", tts.ErrInvalidAudio)
	}

	return &tts.Result{Audio: data, ContentType: "audio/wav"}, nil
}

// Close releases idle HTTP connections.
func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
