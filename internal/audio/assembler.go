package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/nadzzz/dialogcast/internal/config"
)

// ErrAssembly is matched by every error the assembler returns.
var ErrAssembly = errors.New("audio assembly failed")

// LimitError reports a duration limit violation. Audio is never truncated to fit.
type LimitError struct {
	// Segment is the offending segment index, or -1 for the whole track.
	Segment  int
	Measured time.Duration
	Limit    time.Duration
}

func (e *LimitError) Error() string {
	if e.Segment < 0 {
		return fmt.Sprintf("total duration %.1fs exceeds max_total_duration %.1fs", e.Measured.Seconds(), e.Limit.Seconds())
	}
	return fmt.Sprintf("segment %d duration %.1fs exceeds max_segment_length %.1fs", e.Segment, e.Measured.Seconds(), e.Limit.Seconds())
}

func (e *LimitError) Is(target error) bool { return target == ErrAssembly }

// Segment is one synthesized segment handed to the assembler.
type Segment struct {
	Index int
	WAV   []byte

	// PauseAfter overrides the configured pause after this segment; negative means default.
	PauseAfter time.Duration

	// MaxDuration overrides the configured segment limit when positive.
	MaxDuration time.Duration
}

// Artifact is the final assembled audio file.
type Artifact struct {
	Data        []byte        `json:"-"`
	ContentType string        `json:"content_type"`
	Format      string        `json:"format"`
	Duration    time.Duration `json:"duration"`
	SampleRate  int           `json:"sample_rate"`
	Channels    int           `json:"channels"`
	Segments    int           `json:"segments"`
}

// Config controls processing, pacing, limits and post hooks.
type Config struct {
	Format     string
	SampleRate int
	Channels   int
	BitDepth   int

	NormalizeVolume    bool
	TargetLoudnessDB   float64
	ApplyCompression   bool
	Compressor         Compressor
	RemoveSilence      bool
	SilenceThresholdDB float64

	Fade  time.Duration
	Pause time.Duration

	MaxSegment time.Duration
	MaxTotal   time.Duration

	// Post hooks; an empty path or preset disables the hook.
	IntroPath   string
	OutroPath   string
	MusicPath   string
	MusicVolume float64
	Effect      string
}

// ConfigFrom maps the application config onto assembler settings.
func ConfigFrom(cfg *config.Config) Config {
	seconds := func(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
	ms := func(v float64) time.Duration { return time.Duration(v * float64(time.Millisecond)) }

	c := Config{
		Format:             cfg.Audio.Format,
		SampleRate:         cfg.Audio.SampleRate,
		Channels:           cfg.Audio.Channels,
		BitDepth:           cfg.Audio.BitDepth,
		NormalizeVolume:    cfg.Processing.NormalizeVolume,
		TargetLoudnessDB:   cfg.Processing.TargetLoudnessDB,
		ApplyCompression:   cfg.Processing.ApplyCompression,
		RemoveSilence:      cfg.Processing.RemoveSilence,
		SilenceThresholdDB: cfg.Processing.SilenceThresholdDB,
		Fade:               seconds(cfg.Processing.FadeDuration),
		Pause:              seconds(cfg.Processing.InterSegmentPause),
		MaxSegment:         seconds(cfg.Limits.MaxSegmentLength),
		MaxTotal:           seconds(cfg.Limits.MaxTotalDuration),
		Compressor: Compressor{
			Threshold: cfg.Processing.Compression.Threshold,
			Ratio:     cfg.Processing.Compression.Ratio,
			Attack:    ms(cfg.Processing.Compression.AttackMS),
			Release:   ms(cfg.Processing.Compression.ReleaseMS),
		},
	}
	if cfg.Post.Intro.Enabled {
		c.IntroPath = cfg.Post.Intro.Path
	}
	if cfg.Post.Outro.Enabled {
		c.OutroPath = cfg.Post.Outro.Path
	}
	if cfg.Post.BackgroundMusic.Enabled {
		c.MusicPath = cfg.Post.BackgroundMusic.Path
		c.MusicVolume = cfg.Post.BackgroundMusic.Volume
	}
	if cfg.Post.Effects.Enabled {
		c.Effect = cfg.Post.Effects.Preset
	}
	return c
}

// Encoder converts a WAV file to another container format.
type Encoder interface {
	Encode(ctx context.Context, wav []byte, format string) ([]byte, error)
}

// EffectProcessor applies a named effect preset to a WAV file.
type EffectProcessor interface {
	ApplyEffect(ctx context.Context, wav []byte, preset string) ([]byte, error)
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithEncoder sets the encoder used for non-WAV output.
func WithEncoder(e Encoder) Option {
	return func(a *Assembler) { a.encoder = e }
}

// WithEffects sets the effect processor.
func WithEffects(p EffectProcessor) Option {
	return func(a *Assembler) { a.effects = p }
}

// WithFileReader overrides how intro, outro and music files are read.
func WithFileReader(read func(path string) ([]byte, error)) Option {
	return func(a *Assembler) { a.readFile = read }
}

// Assembler merges ordered segment audio into one track.
type Assembler struct {
	cfg      Config
	encoder  Encoder
	effects  EffectProcessor
	readFile func(string) ([]byte, error)
}

// NewAssembler creates an assembler.
func NewAssembler(cfg Config, opts ...Option) *Assembler {
	a := &Assembler{cfg: cfg, readFile: os.ReadFile}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the final artifact. Segments may arrive in any order; the
// output always follows segment index order. All errors satisfy
// errors.Is(err, ErrAssembly).
func (a *Assembler) Assemble(ctx context.Context, segments []Segment) (*Artifact, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrAssembly)
	}

	sorted := append([]Segment(nil), segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	for i, seg := range sorted {
		if seg.Index != i {
			return nil, fmt.Errorf("%w: segment %d missing or duplicated", ErrAssembly, i)
		}
	}

	bufs := make([]*Buffer, len(sorted))
	for i, seg := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := a.prepare(seg)
		if err != nil {
			return nil, err
		}
		bufs[i] = b
	}

	track := a.join(sorted, bufs)

	if a.cfg.MaxTotal > 0 && track.Duration() > a.cfg.MaxTotal {
		return nil, &LimitError{Segment: -1, Measured: track.Duration(), Limit: a.cfg.MaxTotal}
	}

	track, err := a.postProcess(track)
	if err != nil {
		return nil, err
	}

	data, err := EncodeWAV(track, a.cfg.BitDepth)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding wav: %w", ErrAssembly, err)
	}

	if a.cfg.Effect != "" {
		if a.effects == nil {
			return nil, fmt.Errorf("%w: effect %q requested but no effect processor configured", ErrAssembly, a.cfg.Effect)
		}
		if data, err = a.effects.ApplyEffect(ctx, data, a.cfg.Effect); err != nil {
			return nil, fmt.Errorf("%w: applying effect %q: %w", ErrAssembly, a.cfg.Effect, err)
		}
	}

	format := a.cfg.Format
	if format == "" {
		format = "wav"
	}
	if format != "wav" {
		if a.encoder == nil {
			return nil, fmt.Errorf("%w: no encoder for format %q", ErrAssembly, format)
		}
		if data, err = a.encoder.Encode(ctx, data, format); err != nil {
			return nil, fmt.Errorf("%w: encoding %s: %w", ErrAssembly, format, err)
		}
	}

	slog.Debug("assembled track", "segments", len(sorted), "duration", track.Duration(), "format", format, "bytes", len(data))

	return &Artifact{
		Data:        data,
		ContentType: ContentType(format),
		Format:      format,
		Duration:    track.Duration(),
		SampleRate:  track.SampleRate,
		Channels:    track.Channels,
		Segments:    len(sorted),
	}, nil
}

// prepare decodes one segment, checks its raw length and applies per-segment processing.
func (a *Assembler) prepare(seg Segment) (*Buffer, error) {
	b, err := DecodeWAV(seg.WAV)
	if err != nil {
		return nil, fmt.Errorf("%w: segment %d: %w", ErrAssembly, seg.Index, err)
	}
	if b, err = a.conform(b); err != nil {
		return nil, fmt.Errorf("%w: segment %d: %w", ErrAssembly, seg.Index, err)
	}

	limit := a.cfg.MaxSegment
	if seg.MaxDuration > 0 {
		limit = seg.MaxDuration
	}
	if limit > 0 && b.Duration() > limit {
		return nil, &LimitError{Segment: seg.Index, Measured: b.Duration(), Limit: limit}
	}

	if a.cfg.RemoveSilence {
		b = TrimSilence(b, a.cfg.SilenceThresholdDB)
	}
	if a.cfg.NormalizeVolume {
		b = Normalize(b, a.cfg.TargetLoudnessDB)
	}
	if a.cfg.ApplyCompression {
		b = a.cfg.Compressor.Apply(b)
	}
	return b, nil
}

// conform converts b to the output channel count and sample rate.
func (a *Assembler) conform(b *Buffer) (*Buffer, error) {
	b, err := ToChannels(b, a.cfg.Channels)
	if err != nil {
		return nil, err
	}
	return Resample(b, a.cfg.SampleRate)
}

// join applies boundary processing. With a pause, the outgoing segment fades
// out and the incoming one fades in around the silence; without one, the
// segments cross-fade. A single segment is returned untouched.
func (a *Assembler) join(segs []Segment, bufs []*Buffer) *Buffer {
	if len(bufs) == 1 {
		return bufs[0]
	}

	pauses := make([]time.Duration, len(bufs)-1)
	for i := range pauses {
		pauses[i] = a.cfg.Pause
		if segs[i].PauseAfter >= 0 {
			pauses[i] = segs[i].PauseAfter
		}
		if pauses[i] > 0 && a.cfg.Fade > 0 {
			FadeOut(bufs[i], a.cfg.Fade)
			FadeIn(bufs[i+1], a.cfg.Fade)
		}
	}

	track := bufs[0]
	for i, pause := range pauses {
		if pause > 0 {
			track = Append(track, Silence(pause, a.cfg.SampleRate, a.cfg.Channels), bufs[i+1])
		} else {
			track = Crossfade(track, bufs[i+1], a.cfg.Fade)
		}
	}
	return track
}

func (a *Assembler) postProcess(track *Buffer) (*Buffer, error) {
	if a.cfg.IntroPath != "" {
		intro, err := a.load(a.cfg.IntroPath)
		if err != nil {
			return nil, err
		}
		track = Append(intro, track)
	}
	if a.cfg.OutroPath != "" {
		outro, err := a.load(a.cfg.OutroPath)
		if err != nil {
			return nil, err
		}
		track = Append(track, outro)
	}
	if a.cfg.MusicPath != "" {
		bed, err := a.load(a.cfg.MusicPath)
		if err != nil {
			return nil, err
		}
		track = MixLoop(track, bed, a.cfg.MusicVolume)
	}
	return track, nil
}

func (a *Assembler) load(path string) (*Buffer, error) {
	data, err := a.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrAssembly, path, err)
	}
	b, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAssembly, path, err)
	}
	if b, err = a.conform(b); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAssembly, path, err)
	}
	return b, nil
}

// ContentType returns the MIME type for an output format.
func ContentType(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "ogg":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	default:
		return "audio/wav"
	}
}
