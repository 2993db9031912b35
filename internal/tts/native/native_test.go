package native_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/dialogcast/internal/audio"
	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/tts"
	"github.com/nadzzz/dialogcast/internal/tts/native"
	"github.com/nadzzz/dialogcast/internal/voice"
)

// TestHelperProcess stands in for the speech command. It prints a short WAV
// file, or fails when the text is "fail".
func TestHelperProcess(t *testing.T) {
	if os.Getenv("DIALOGCAST_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	args = args[1:]

	if args[len(args)-1] == "fail" {
		fmt.Fprint(os.Stderr, "cannot speak")
		os.Exit(2)
	}
	_, _ = os.Stdout.Write(audio.WrapPCM(make([]byte, 100), 22050, 1, 2))
	os.Exit(0)
}

func helperBackend(t *testing.T) *native.Backend {
	t.Setenv("DIALOGCAST_HELPER_PROCESS", "1")
	return native.New(config.NativeConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--", "-v", "{voice}", "{text}"},
	})
}

func TestSynthesize(t *testing.T) {
	b := helperBackend(t)

	res, err := b.Synthesize(context.Background(), "hello world", voice.Profile{Gender: "FEMALE"}, nil)
	require.NoError(t, err)
	buf, err := audio.DecodeWAV(res.Audio)
	require.NoError(t, err)
	assert.Equal(t, 50, buf.Frames())
}

func TestSynthesize_CommandFailure(t *testing.T) {
	b := helperBackend(t)

	_, err := b.Synthesize(context.Background(), "fail", voice.Profile{}, nil)
	assert.ErrorIs(t, err, tts.ErrBadInput)
	assert.Contains(t, err.Error(), "cannot speak")
}

func TestProbe(t *testing.T) {
	assert.NoError(t, native.New(config.NativeConfig{Command: os.Args[0]}).Probe(context.Background()))

	err := native.New(config.NativeConfig{Command: "definitely-not-a-speech-command"}).Probe(context.Background())
	assert.ErrorIs(t, err, tts.ErrUnsupported)
}
