// Package openai implements tts.Backend using the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/tts"
	"github.com/nadzzz/dialogcast/internal/voice"
)

// Name is the engine name used in config and fallback chains.
const Name = "openai"

// defaultVoices maps a profile gender to a built-in OpenAI voice.
var defaultVoices = map[string]string{
	"MALE":    "onyx",
	"FEMALE":  "nova",
	"DEFAULT": "alloy",
}

// Backend uses the OpenAI Audio Speech API.
type Backend struct {
	client *openai.Client
	model  string
	hasKey bool
}

// New creates a new OpenAI backend from config. Retries are left to the
// scheduler so each call stays within its own timeout.
func New(cfg config.OpenAIConfig) *Backend {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini-tts"
	}
	return &Backend{client: &client, model: model, hasKey: cfg.APIKey != ""}
}

func (b *Backend) Name() string { return Name }

// Probe verifies the API key by looking up the configured model.
func (b *Backend) Probe(ctx context.Context) error {
	if !b.hasKey {
		return fmt.Errorf("%w: no openai api key configured", tts.ErrUnsupported)
	}
	if _, err := b.client.Models.Get(ctx, b.model); err != nil {
		return classify(fmt.Errorf("openai probe: %w", err))
	}
	return nil
}

// Synthesize renders text as WAV. Supported options: voice, speed.
func (b *Backend) Synthesize(ctx context.Context, text string, v voice.Profile, opts tts.Options) (*tts.Result, error) {
	if text == "" {
		return nil, tts.BadInput(errors.New("empty text for synthesis"))
	}

	name := opts.Get(tts.OptVoice, tts.VoiceName(Name, v, defaultVoices))
	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(b.model),
		Voice:          openai.AudioSpeechNewParamsVoice(name),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	}
	if s := opts.Get(tts.OptSpeed, ""); s != "" {
		if speed, err := strconv.ParseFloat(s, 64); err == nil && speed > 0 {
			params.Speed = openai.Float(speed)
		}
	}

	slog.Debug("openai synthesize", "text_length", len(text), "voice", name, "model", b.model)

	resp, err := b.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, classify(fmt.Errorf("openai speech request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, tts.ClassifyStatus(resp.StatusCode, fmt.Errorf("openai speech returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.Transient(fmt.Errorf("reading openai response: %w", err))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: openai returned an empty body", tts.ErrInvalidAudio)
	}

	return &tts.Result{Audio: data, ContentType: "audio/wav", SampleRate: 24000, Channels: 1}, nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// classify maps API errors onto failure classes. Anything without a status
// code is a transport problem and therefore transient.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return tts.ClassifyStatus(apiErr.StatusCode, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return tts.Transient(err)
}
