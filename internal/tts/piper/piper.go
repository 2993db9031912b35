// Package piper implements tts.Backend using a Piper Wyoming protocol server.
//
// Piper is a fast, local neural text-to-speech system. The linuxserver/piper
// container exposes the Wyoming protocol on TCP port 10200. This package
// implements a client for that protocol to synthesize speech.
//
// Wyoming protocol format (per event):
//
//	<json_length> <payload_length>\n
//	<json_bytes>\n
//	<payload_bytes>   (if payload_length > 0)
package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nadzzz/dialogcast/internal/audio"
	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/tts"
	"github.com/nadzzz/dialogcast/internal/voice"
)

// Name is the engine name used in config and fallback chains.
const Name = "piper"

// defaultVoices maps ISO-639-1 language codes to Piper voice model names.
var defaultVoices = map[string]string{
	"en": "en_US-lessac-medium",
	"fr": "fr_FR-siwis-medium",
	"es": "es_ES-mls_10246-low",
	"de": "de_DE-thorsten-medium",
	"it": "it_IT-riccardo-x_low",
	"pt": "pt_BR-faber-medium",
	"nl": "nl_NL-mls-medium",
	"pl": "pl_PL-darkman-medium",
	"ru": "ru_RU-ruslan-medium",
	"ja": "ja_JP-amitaro-medium",
	"ko": "ko_KR-kss-x_low",
	"zh": "zh_CN-huayan-medium",
}

// Backend implements tts.Backend using the Wyoming protocol.
type Backend struct {
	endpoint  string            // default host:port of the Piper Wyoming server
	endpoints map[string]string // language -> host:port for per-language Piper instances
	voices    map[string]string // gender -> voice name overrides
	language  string
}

// New creates a new Piper backend from config.
func New(cfg config.PiperConfig) *Backend {
	voices := make(map[string]string, len(cfg.Voices))
	for k, v := range cfg.Voices {
		voices[strings.ToUpper(k)] = v
	}

	endpoints := make(map[string]string, len(cfg.Endpoints))
	for lang, ep := range cfg.Endpoints {
		endpoints[lang] = cleanEndpoint(ep)
	}

	language := cfg.Language
	if language == "" {
		language = "en"
	}

	return &Backend{
		endpoint:  cleanEndpoint(cfg.Endpoint),
		endpoints: endpoints,
		voices:    voices,
		language:  language,
	}
}

func cleanEndpoint(ep string) string {
	ep = strings.TrimPrefix(ep, "tcp://")
	ep = strings.TrimPrefix(ep, "http://")
	return ep
}

func (b *Backend) Name() string { return Name }

// endpointFor selects the per-language endpoint if available, else the default.
func (b *Backend) endpointFor(language string) string {
	if ep := b.endpoints[language]; ep != "" {
		return ep
	}
	return b.endpoint
}

// Probe sends a describe event and waits for the server's info reply.
func (b *Backend) Probe(ctx context.Context) error {
	endpoint := b.endpointFor(b.language)
	if endpoint == "" {
		return fmt.Errorf("%w: no piper endpoint configured", tts.ErrUnsupported)
	}

	conn, err := dial(ctx, endpoint)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeEvent(conn, wyomingEvent{Type: "describe"}, nil); err != nil {
		return fmt.Errorf("sending describe event: %w", err)
	}
	for {
		evt, _, err := readEvent(conn)
		if err != nil {
			return fmt.Errorf("reading piper info: %w", err)
		}
		if evt.Type == "info" {
			return nil
		}
	}
}

// Synthesize sends text to the Piper server and returns synthesized audio as WAV.
func (b *Backend) Synthesize(ctx context.Context, text string, v voice.Profile, opts tts.Options) (*tts.Result, error) {
	if text == "" {
		return nil, tts.BadInput(errors.New("empty text for synthesis"))
	}

	language := opts.Get(tts.OptLanguage, b.language)

	name := opts.Get(tts.OptVoice, "")
	if name == "" {
		defaults := map[string]string{"DEFAULT": defaultVoices[language]}
		if defaults["DEFAULT"] == "" {
			defaults["DEFAULT"] = defaultVoices["en"]
		}
		for g, n := range b.voices {
			defaults[g] = n
		}
		name = tts.VoiceName(Name, v, defaults)
	}

	endpoint := b.endpointFor(language)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: no piper endpoint configured for language %q", tts.ErrUnsupported, language)
	}

	slog.Debug("piper synthesize", "text_length", len(text), "voice", name, "language", language, "endpoint", endpoint)

	conn, err := dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	data := map[string]any{
		"text":  text,
		"voice": map[string]any{"name": name},
	}
	if speed := opts.Get(tts.OptSpeed, ""); speed != "" {
		// Piper expresses speaking rate as length_scale, the inverse of speed.
		if f, err := strconv.ParseFloat(speed, 64); err == nil && f > 0 {
			data["synthesize_options"] = map[string]any{"length_scale": 1 / f}
		}
	}
	if err := writeEvent(conn, wyomingEvent{Type: "synthesize", Data: data}, nil); err != nil {
		return nil, tts.Transient(fmt.Errorf("sending synthesize event: %w", err))
	}

	// Read response events: audio-start → audio-chunk* → audio-stop
	var (
		pcmBuf     bytes.Buffer
		sampleRate = 22050
		channels   = 1
		width      = 2
	)

	for {
		evt, payload, err := readEvent(conn)
		if err != nil {
			return nil, tts.Transient(fmt.Errorf("reading piper event: %w", err))
		}

		switch evt.Type {
		case "audio-start":
			if rate, ok := evt.Data["rate"].(float64); ok {
				sampleRate = int(rate)
			}
			if ch, ok := evt.Data["channels"].(float64); ok {
				channels = int(ch)
			}
			if w, ok := evt.Data["width"].(float64); ok {
				width = int(w)
			}
			slog.Debug("piper audio-start", "rate", sampleRate, "channels", channels, "width", width)

		case "audio-chunk":
			if len(payload) > 0 {
				pcmBuf.Write(payload)
			}

		case "audio-stop":
			slog.Debug("piper audio-stop", "pcm_bytes", pcmBuf.Len())
			if pcmBuf.Len() == 0 {
				return nil, fmt.Errorf("%w: piper returned no audio", tts.ErrInvalidAudio)
			}
			return &tts.Result{
				Audio:       audio.WrapPCM(pcmBuf.Bytes(), sampleRate, channels, width),
				ContentType: "audio/wav",
				SampleRate:  sampleRate,
				Channels:    channels,
			}, nil

		case "error":
			msg := "unknown error"
			if text, ok := evt.Data["text"].(string); ok {
				msg = text
			}
			return nil, tts.BadInput(fmt.Errorf("piper error: %s", msg))

		default:
			slog.Debug("piper unknown event", "type", evt.Type)
		}
	}
}

// Close is a no-op; connections are per-request.
func (b *Backend) Close() error { return nil }

func dial(ctx context.Context, endpoint string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, tts.Transient(fmt.Errorf("connecting to piper: %w", err))
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}
	return conn, nil
}

// --- Wyoming protocol helpers ---

type wyomingEvent struct {
	Type          string         `json:"type"`
	Data          map[string]any `json:"data,omitempty"`
	PayloadLength int            `json:"payload_length,omitempty"`
}

// writeEvent sends a Wyoming event over the connection.
func writeEvent(w io.Writer, evt wyomingEvent, payload []byte) error {
	evt.PayloadLength = 0 // omit from JSON; length goes in the header line
	jsonBytes, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	// Header: <json_length> <payload_length>\n
	header := fmt.Sprintf("%d %d\n", len(jsonBytes), len(payload))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	if _, err := w.Write(jsonBytes); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}

	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}

	return nil
}

// readEvent reads a Wyoming event from the connection.
func readEvent(r io.Reader) (*wyomingEvent, []byte, error) {
	// Read header line: "<json_length> <payload_length>\n"
	headerBuf := make([]byte, 0, 64)
	oneByte := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, oneByte); err != nil {
			return nil, nil, fmt.Errorf("reading header: %w", err)
		}
		if oneByte[0] == '\n' {
			break
		}
		headerBuf = append(headerBuf, oneByte[0])
	}

	parts := strings.SplitN(string(headerBuf), " ", 2)
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("invalid wyoming header: %q", string(headerBuf))
	}

	jsonLen, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing json_length: %w", err)
	}
	payloadLen, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing payload_length: %w", err)
	}

	jsonBuf := make([]byte, jsonLen+1) // +1 for the \n
	if _, err := io.ReadFull(r, jsonBuf); err != nil {
		return nil, nil, fmt.Errorf("reading json: %w", err)
	}
	jsonBuf = jsonBuf[:jsonLen]

	var evt wyomingEvent
	if err := json.Unmarshal(jsonBuf, &evt); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling event: %w", err)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, fmt.Errorf("reading payload: %w", err)
		}
	}

	return &evt, payload, nil
}
