package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/dialogcast/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dialogcast.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "mp3", cfg.Audio.Format)
	assert.Equal(t, "piper", cfg.Engines.Default)
	assert.Equal(t, []string{"coqui", "piper", "openai", "native"}, cfg.Engines.FallbackOrder)
	assert.True(t, cfg.Engines.Piper.Enabled)
	assert.False(t, cfg.Engines.Coqui.Enabled)
	assert.Equal(t, 8, cfg.Limits.MaxCharacters)
	assert.InDelta(t, 900.0, cfg.Limits.MaxTotalDuration, 1e-9)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.Retention)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "off", cfg.Diversity.EffectiveAlternationMode())
}

func TestLoad_FileEnvAndSecrets(t *testing.T) {
	t.Setenv("DIALOGCAST_ENGINES_DEFAULT", "coqui")
	t.Setenv("TEST_DIALOGCAST_OPENAI_KEY", "sk-test")

	cfg, err := config.Load(writeConfig(t, `
engines:
  default: piper
  call_timeout: 15s
  openai:
    enabled: true
    api_key: "${TEST_DIALOGCAST_OPENAI_KEY}"
voices:
  piper:
    - id: en_US-amy-medium
      gender: FEMALE
      pitch_class: 4
      style_class: warm
diversity:
  enforce_gender_alternation: true
`))
	require.NoError(t, err)

	assert.Equal(t, "coqui", cfg.Engines.Default, "env overrides file")
	assert.Equal(t, 15*time.Second, cfg.Engines.CallTimeout)
	assert.Equal(t, "sk-test", cfg.Engines.OpenAI.APIKey)
	require.Len(t, cfg.Voices["piper"], 1)
	assert.Equal(t, "en_US-amy-medium", cfg.Voices["piper"][0].ID)
	assert.Equal(t, 4, cfg.Voices["piper"][0].PitchClass)
	assert.Equal(t, "warn", cfg.Diversity.EffectiveAlternationMode())
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"alternation mode": "diversity:\n  alternation_mode: sometimes\n",
		"storage backend":  "storage:\n  backend: sqlite\n",
		"channels":         "audio:\n  channels: 6\n",
		"workers":          "performance:\n  max_workers: 0\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
