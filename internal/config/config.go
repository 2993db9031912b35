// Package config handles loading and validating the dialogcast configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the dialogcast daemon and CLI.
type Config struct {
	Server      ServerConfig            `mapstructure:"server"`
	Transports  TransportsConfig        `mapstructure:"transports"`
	Audio       AudioConfig             `mapstructure:"audio"`
	Processing  ProcessingConfig        `mapstructure:"processing"`
	Post        PostConfig              `mapstructure:"post"`
	Engines     EnginesConfig           `mapstructure:"engines"`
	Voices      map[string][]VoiceEntry `mapstructure:"voices"`
	Speakers    SpeakersConfig          `mapstructure:"speakers"`
	Diversity   DiversityConfig         `mapstructure:"diversity"`
	Limits      LimitsConfig            `mapstructure:"limits"`
	Performance PerformanceConfig       `mapstructure:"performance"`
	Jobs        JobsConfig              `mapstructure:"jobs"`
	Storage     StorageConfig           `mapstructure:"storage"`
	Logging     LoggingConfig           `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	HTTP HTTPConfig `mapstructure:"http"`
	GRPC GRPCConfig `mapstructure:"grpc"`
}

// HTTPConfig configures the HTTP job API.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// GRPCConfig configures the gRPC health service.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AudioConfig describes the final output format.
type AudioConfig struct {
	Format     string `mapstructure:"format"` // wav, mp3, ogg, flac
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`
	BitDepth   int    `mapstructure:"bit_depth"` // 16, 24, 32
	MP3Bitrate string `mapstructure:"mp3_bitrate"`
	FFmpegPath string `mapstructure:"ffmpeg_path"`
}

// ProcessingConfig toggles per-segment processing and boundary pacing.
type ProcessingConfig struct {
	NormalizeVolume    bool              `mapstructure:"normalize_volume"`
	TargetLoudnessDB   float64           `mapstructure:"target_loudness_db"`
	ApplyCompression   bool              `mapstructure:"apply_compression"`
	Compression        CompressionConfig `mapstructure:"compression"`
	FadeDuration       float64           `mapstructure:"fade_duration"`       // seconds
	InterSegmentPause  float64           `mapstructure:"inter_segment_pause"` // seconds
	RemoveSilence      bool              `mapstructure:"remove_silence"`
	SilenceThresholdDB float64           `mapstructure:"silence_threshold_db"`
}

// CompressionConfig holds dynamic range compressor parameters.
type CompressionConfig struct {
	Threshold float64 `mapstructure:"threshold"` // linear amplitude, 0..1
	Ratio     float64 `mapstructure:"ratio"`
	AttackMS  float64 `mapstructure:"attack_ms"`
	ReleaseMS float64 `mapstructure:"release_ms"`
}

// PostConfig holds the optional post-processing hooks.
type PostConfig struct {
	Intro           ClipConfig    `mapstructure:"intro"`
	Outro           ClipConfig    `mapstructure:"outro"`
	BackgroundMusic MusicConfig   `mapstructure:"background_music"`
	Effects         EffectsConfig `mapstructure:"effects"`
}

// ClipConfig points at a WAV file to prepend or append.
type ClipConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MusicConfig configures the background music bed.
type MusicConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Path    string  `mapstructure:"path"`
	Volume  float64 `mapstructure:"volume"`
}

// EffectsConfig selects an effect preset applied last.
type EffectsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Preset  string `mapstructure:"preset"` // reverb, echo, eq
}

// EnginesConfig selects the default engine, the fallback order and per-engine settings.
type EnginesConfig struct {
	Default       string        `mapstructure:"default"`
	FallbackOrder []string      `mapstructure:"fallback_order"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	Retries       int           `mapstructure:"retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"` // 0 = probe once at startup
	Piper         PiperConfig   `mapstructure:"piper"`
	Coqui         CoquiConfig   `mapstructure:"coqui"`
	OpenAI        OpenAIConfig  `mapstructure:"openai"`
	Native        NativeConfig  `mapstructure:"native"`
}

// PiperConfig holds Piper TTS settings (Wyoming protocol).
//
// For a single Piper instance that serves all languages, set Endpoint.
// For per-language instances, set Endpoints which maps ISO-639-1 codes to
// individual Wyoming TCP endpoints. Endpoints takes precedence.
type PiperConfig struct {
	Enabled   bool              `mapstructure:"enabled"`
	Endpoint  string            `mapstructure:"endpoint"`  // Default Wyoming TCP endpoint (host:port)
	Endpoints map[string]string `mapstructure:"endpoints"` // ISO-639-1 language code -> Wyoming TCP endpoint
	Voices    map[string]string `mapstructure:"voices"`    // gender -> Piper voice model name
	Language  string            `mapstructure:"language"`
}

// CoquiConfig holds Coqui TTS server settings.
type CoquiConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint"` // base URL of the TTS server
	Language   string `mapstructure:"language"`
	SpeakerWAV string `mapstructure:"speaker_wav"`
}

// OpenAIConfig holds OpenAI speech API settings.
type OpenAIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// NativeConfig describes a platform speech command that writes WAV to stdout.
// Args may contain {voice} and {text} placeholders.
type NativeConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// VoiceEntry is one catalog voice as written in the config file.
type VoiceEntry struct {
	ID         string `mapstructure:"id"`
	Gender     string `mapstructure:"gender"`
	PitchClass int    `mapstructure:"pitch_class"`
	StyleClass string `mapstructure:"style_class"`
}

// SpeakersConfig is the speaker tag vocabulary: every ROLE_GENDER pair is a valid tag.
type SpeakersConfig struct {
	Roles   []string `mapstructure:"roles"`
	Genders []string `mapstructure:"genders"`
}

// DiversityConfig holds the voice diversity rules.
type DiversityConfig struct {
	MinVoiceDifference       int    `mapstructure:"min_voice_difference"`
	AvoidSimilarPitch        bool   `mapstructure:"avoid_similar_pitch"`
	PreferDifferentStyles    bool   `mapstructure:"prefer_different_styles"`
	EnforceGenderAlternation bool   `mapstructure:"enforce_gender_alternation"`
	AlternationMode          string `mapstructure:"alternation_mode"` // off, warn, strict
}

// LimitsConfig holds script and audio limits.
type LimitsConfig struct {
	MaxCharacters    int     `mapstructure:"max_characters"`
	MaxTextLength    int     `mapstructure:"max_text_length"`
	MaxSegmentLength float64 `mapstructure:"max_segment_length"` // seconds
	MaxTotalDuration float64 `mapstructure:"max_total_duration"` // seconds
}

// PerformanceConfig sizes the synthesis worker pool.
type PerformanceConfig struct {
	MaxWorkers        int `mapstructure:"max_workers"`
	PoolCapacity      int `mapstructure:"pool_capacity"`
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`
}

// JobsConfig holds job retention and watchdog settings.
type JobsConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	MaxRuntime    time.Duration `mapstructure:"max_runtime"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// StorageConfig selects the artifact and job record store.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"` // memory, badger, redis
	Badger  BadgerConfig `mapstructure:"badger"`
	Redis   RedisConfig  `mapstructure:"redis"`
}

// BadgerConfig configures the BadgerDB store.
type BadgerConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./dialogcast.yaml, ./configs/dialogcast.yaml, /etc/dialogcast/dialogcast.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("dialogcast")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dialogcast")
	}

	// Environment variables: DIALOGCAST_ENGINES_DEFAULT, DIALOGCAST_STORAGE_BACKEND, etc.
	v.SetEnvPrefix("DIALOGCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional: env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${OPENAI_API_KEY}")
	cfg.Engines.OpenAI.APIKey = resolveEnvRef(cfg.Engines.OpenAI.APIKey)
	cfg.Storage.Redis.Password = resolveEnvRef(cfg.Storage.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8080)
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)

	v.SetDefault("audio.format", "mp3")
	v.SetDefault("audio.sample_rate", 22050)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.bit_depth", 16)
	v.SetDefault("audio.mp3_bitrate", "192k")
	v.SetDefault("audio.ffmpeg_path", "ffmpeg")

	v.SetDefault("processing.normalize_volume", true)
	v.SetDefault("processing.target_loudness_db", -20.0)
	v.SetDefault("processing.apply_compression", true)
	v.SetDefault("processing.compression.threshold", 0.1)
	v.SetDefault("processing.compression.ratio", 3.0)
	v.SetDefault("processing.compression.attack_ms", 5.0)
	v.SetDefault("processing.compression.release_ms", 50.0)
	v.SetDefault("processing.fade_duration", 0.2)
	v.SetDefault("processing.inter_segment_pause", 0.8)
	v.SetDefault("processing.remove_silence", true)
	v.SetDefault("processing.silence_threshold_db", -50.0)

	v.SetDefault("post.background_music.volume", 0.1)
	v.SetDefault("post.effects.preset", "reverb")

	v.SetDefault("engines.default", "piper")
	v.SetDefault("engines.fallback_order", []string{"coqui", "piper", "openai", "native"})
	v.SetDefault("engines.call_timeout", 60*time.Second)
	v.SetDefault("engines.retries", 1)
	v.SetDefault("engines.retry_delay", 500*time.Millisecond)
	v.SetDefault("engines.probe_timeout", 5*time.Second)
	v.SetDefault("engines.probe_interval", time.Duration(0))
	v.SetDefault("engines.piper.enabled", true)
	v.SetDefault("engines.piper.endpoint", "localhost:10200")
	v.SetDefault("engines.piper.language", "en")
	v.SetDefault("engines.coqui.enabled", false)
	v.SetDefault("engines.coqui.endpoint", "http://localhost:5002")
	v.SetDefault("engines.coqui.language", "en")
	v.SetDefault("engines.openai.enabled", false)
	v.SetDefault("engines.openai.model", "gpt-4o-mini-tts")
	v.SetDefault("engines.native.enabled", false)
	v.SetDefault("engines.native.command", "espeak-ng")
	v.SetDefault("engines.native.args", []string{"--stdout", "-v", "{voice}", "{text}"})

	v.SetDefault("speakers.roles", []string{"HOST", "EXPERT", "GUEST", "NARRATOR"})
	v.SetDefault("speakers.genders", []string{"MALE", "FEMALE"})

	v.SetDefault("diversity.min_voice_difference", 1)
	v.SetDefault("diversity.avoid_similar_pitch", true)
	v.SetDefault("diversity.prefer_different_styles", true)
	v.SetDefault("diversity.enforce_gender_alternation", false)
	v.SetDefault("diversity.alternation_mode", "")

	v.SetDefault("limits.max_characters", 8)
	v.SetDefault("limits.max_text_length", 500)
	v.SetDefault("limits.max_segment_length", 60.0)
	v.SetDefault("limits.max_total_duration", 900.0)

	v.SetDefault("performance.max_workers", 4)
	v.SetDefault("performance.pool_capacity", 8)
	v.SetDefault("performance.max_concurrent_jobs", 2)

	v.SetDefault("jobs.retention", 24*time.Hour)
	v.SetDefault("jobs.max_runtime", 30*time.Minute)
	v.SetDefault("jobs.sweep_interval", time.Minute)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.badger.dir", "./data/badger")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.prefix", "dialogcast")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks values that would otherwise fail deep inside a job.
func (c *Config) Validate() error {
	switch {
	case c.Audio.SampleRate <= 0:
		return fmt.Errorf("config: audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	case c.Audio.Channels != 1 && c.Audio.Channels != 2:
		return fmt.Errorf("config: audio.channels must be 1 or 2, got %d", c.Audio.Channels)
	case c.Audio.BitDepth != 16 && c.Audio.BitDepth != 24 && c.Audio.BitDepth != 32:
		return fmt.Errorf("config: audio.bit_depth must be 16, 24 or 32, got %d", c.Audio.BitDepth)
	case c.Performance.MaxWorkers <= 0:
		return fmt.Errorf("config: performance.max_workers must be positive, got %d", c.Performance.MaxWorkers)
	case c.Performance.PoolCapacity <= 0:
		return fmt.Errorf("config: performance.pool_capacity must be positive, got %d", c.Performance.PoolCapacity)
	case c.Performance.MaxConcurrentJobs <= 0:
		return fmt.Errorf("config: performance.max_concurrent_jobs must be positive, got %d", c.Performance.MaxConcurrentJobs)
	case c.Limits.MaxCharacters <= 0 || c.Limits.MaxTextLength <= 0:
		return fmt.Errorf("config: limits.max_characters and limits.max_text_length must be positive")
	case c.Limits.MaxSegmentLength <= 0 || c.Limits.MaxTotalDuration <= 0:
		return fmt.Errorf("config: limits.max_segment_length and limits.max_total_duration must be positive")
	case c.Engines.Retries < 0:
		return fmt.Errorf("config: engines.retries must not be negative, got %d", c.Engines.Retries)
	}
	switch c.Diversity.AlternationMode {
	case "", "off", "warn", "strict":
	default:
		return fmt.Errorf("config: diversity.alternation_mode must be off, warn or strict, got %q", c.Diversity.AlternationMode)
	}
	switch c.Storage.Backend {
	case "memory", "badger", "redis":
	default:
		return fmt.Errorf("config: storage.backend must be memory, badger or redis, got %q", c.Storage.Backend)
	}
	return nil
}

// EffectiveAlternationMode resolves alternation_mode against the
// enforce_gender_alternation toggle.
func (d DiversityConfig) EffectiveAlternationMode() string {
	if d.AlternationMode != "" {
		return d.AlternationMode
	}
	if d.EnforceGenderAlternation {
		return "warn"
	}
	return "off"
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
