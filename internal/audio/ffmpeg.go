package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// effectFilters maps effect presets to ffmpeg audio filter graphs.
var effectFilters = map[string]string{
	"reverb": "aecho=0.8:0.88:60:0.4",
	"echo":   "aecho=0.8:0.9:500:0.3",
	"eq":     "equalizer=f=3000:t=q:w=1:g=3,highpass=f=80",
}

// FFmpeg encodes containers and applies effect presets by piping WAV
// through the ffmpeg command line tool.
type FFmpeg struct {
	Path       string
	MP3Bitrate string
}

// NewFFmpeg returns an ffmpeg wrapper; an empty path means "ffmpeg" on PATH.
func NewFFmpeg(path, mp3Bitrate string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if mp3Bitrate == "" {
		mp3Bitrate = "192k"
	}
	return &FFmpeg{Path: path, MP3Bitrate: mp3Bitrate}
}

// Available reports whether the ffmpeg binary can be found.
func (f *FFmpeg) Available() error {
	if _, err := exec.LookPath(f.Path); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}

// Encode converts a WAV file to mp3, ogg or flac.
func (f *FFmpeg) Encode(ctx context.Context, wav []byte, format string) ([]byte, error) {
	var codec []string
	switch format {
	case "mp3":
		codec = []string{"-codec:a", "libmp3lame", "-b:a", f.MP3Bitrate}
	case "ogg":
		codec = []string{"-codec:a", "libvorbis", "-q:a", "5"}
	case "flac":
		codec = []string{"-codec:a", "flac"}
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	args := append([]string{"-f", "wav", "-i", "pipe:0"}, codec...)
	args = append(args, "-f", format, "pipe:1")
	return f.run(ctx, wav, args)
}

// ApplyEffect runs a WAV file through one of the effect presets.
func (f *FFmpeg) ApplyEffect(ctx context.Context, wav []byte, preset string) ([]byte, error) {
	filter, ok := effectFilters[preset]
	if !ok {
		return nil, fmt.Errorf("unknown effect preset %q", preset)
	}
	return f.run(ctx, wav, []string{"-f", "wav", "-i", "pipe:0", "-af", filter, "-f", "wav", "pipe:1"})
}

func (f *FFmpeg) run(ctx context.Context, input []byte, args []string) ([]byte, error) {
	args = append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)
	cmd := exec.CommandContext(ctx, f.Path, args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
