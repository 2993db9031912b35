// Package native implements tts.Backend by running a platform speech command
// (espeak-ng by default) that writes a WAV file to stdout.
package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/tts"
	"github.com/nadzzz/dialogcast/internal/voice"
)

// Name is the engine name used in config and fallback chains.
const Name = "native"

// defaultVoices are espeak-ng voice variants per gender.
var defaultVoices = map[string]string{
	"MALE":    "en+m3",
	"FEMALE":  "en+f3",
	"DEFAULT": "en",
}

// Backend runs a speech command per request.
type Backend struct {
	command string
	args    []string
}

// New creates a native backend. Args may contain {voice} and {text} placeholders.
func New(cfg config.NativeConfig) *Backend {
	command := cfg.Command
	if command == "" {
		command = "espeak-ng"
	}
	args := cfg.Args
	if len(args) == 0 {
		args = []string{"--stdout", "-v", "{voice}", "{text}"}
	}
	return &Backend{command: command, args: args}
}

func (b *Backend) Name() string { return Name }

// Probe checks that the command is installed.
func (b *Backend) Probe(context.Context) error {
	if _, err := exec.LookPath(b.command); err != nil {
		return fmt.Errorf("%w: %s not found: %w", tts.ErrUnsupported, b.command, err)
	}
	return nil
}

// Synthesize runs the command and returns its stdout. Supported options: voice.
func (b *Backend) Synthesize(ctx context.Context, text string, v voice.Profile, opts tts.Options) (*tts.Result, error) {
	if text == "" {
		return nil, tts.BadInput(errors.New("empty text for synthesis"))
	}

	name := opts.Get(tts.OptVoice, tts.VoiceName(Name, v, defaultVoices))
	replacer := strings.NewReplacer("{voice}", name, "{text}", text)
	args := make([]string, len(b.args))
	for i, a := range b.args {
		args[i] = replacer.Replace(a)
	}

	slog.Debug("native synthesize", "command", b.command, "voice", name, "text_length", len(text))

	cmd := exec.CommandContext(ctx, b.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, tts.BadInput(fmt.Errorf("%s exited with %d: %s", b.command, exitErr.ExitCode(), strings.TrimSpace(stderr.String())))
		}
		return nil, fmt.Errorf("%w: running %s: %w", tts.ErrUnsupported, b.command, err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: %s produced no output", tts.ErrInvalidAudio, b.command)
	}

	return &tts.Result{Audio: stdout.Bytes(), ContentType: "audio/wav"}, nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }
