// Package config_test tests the configuration loading for the story TTS service.
package config_test

import (
	"testing"
	"time"

	"github.com/book-expert/story-tts-service/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(values map[string]string) func(string) string {
	return func(key string) string {
		return values[key]
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[server]
listen_addr = ":9090"
allowed_origins = ["https://sagor.example", "https://app.sagor.example"]
request_timeout_seconds = 45

[nats]
url = "nats://127.0.0.1:4222"
text_processed_subject = "text.processed"
audio_chunk_created_subject = "audio.chunk.created"
audio_object_store_bucket = "AUDIO_FILES"
usage_kv_bucket = "USAGE"

[tts_service]
provider = "elevenlabs"
default_voice = "voice-123"
language_code = "sv-SE"
audio_encoding = "OGG_OPUS"
timeout_seconds = 20
max_retries = 5
base_delay_ms = 150
include_language_in_key = true

[usage]
backend = "sqlite"
sqlite_path = "/var/lib/tts/usage.db"
quota_limit = 500
period = "month"
`

	cfg, err := config.Parse([]byte(tomlData), fakeEnv(map[string]string{
		config.EnvElevenLabsAPIKey: " eleven-key ",
		config.EnvGoogleAPIKey:     "google-key",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, []string{"https://sagor.example", "https://app.sagor.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout())
	assert.Equal(t, "AUDIO_FILES", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, "USAGE", cfg.NATS.UsageKVBucket)
	assert.Equal(t, "TTS_TEXTS", cfg.NATS.TextObjectStoreBucket)
	assert.Equal(t, config.ProviderElevenLabs, cfg.TTS.Provider)
	assert.Equal(t, "eleven-key", cfg.TTS.APIKey)
	assert.Equal(t, "OGG_OPUS", cfg.TTS.AudioEncoding)
	assert.Equal(t, 20*time.Second, cfg.ProviderTimeout())
	assert.Equal(t, 5, cfg.TTS.MaxRetries)
	assert.Equal(t, 150*time.Millisecond, cfg.BaseDelay())
	assert.True(t, cfg.TTS.IncludeLanguageInKey)
	assert.Equal(t, config.BackendSQLite, cfg.Usage.Backend)
	assert.Equal(t, int64(500), cfg.Usage.QuotaLimit)
	assert.Equal(t, "month", cfg.Usage.Period)
	assert.Equal(t, "tts", cfg.Usage.BucketPrefix)
	assert.Equal(t, config.BackendNATS, cfg.Blob.Backend)
}

func TestParse_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(""), fakeEnv(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, config.ProviderGoogle, cfg.TTS.Provider)
	assert.Equal(t, "sv-SE-Wavenet-A", cfg.TTS.DefaultVoice)
	assert.Equal(t, "sv-SE", cfg.TTS.LanguageCode)
	assert.Equal(t, "MP3", cfg.TTS.AudioEncoding)
	assert.Equal(t, 3, cfg.TTS.MaxRetries)
	assert.Equal(t, 300*time.Millisecond, cfg.BaseDelay())
	assert.Empty(t, cfg.TTS.APIKey, "missing credentials are reported per request, not at load")
	assert.Equal(t, "day", cfg.Usage.Period)
	assert.Zero(t, cfg.Usage.QuotaLimit)
	assert.True(t, cfg.NeedsNATS())
}

func TestParse_RejectsInvalidValues(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"[tts_service]\nprovider = \"polly\"": config.ErrUnknownProvider,
		"[usage]\nbackend = \"redis\"":        config.ErrUnknownUsageBackend,
		"[blob]\nbackend = \"s3\"":            config.ErrUnknownBlobBackend,
		"[usage]\nperiod = \"week\"":          config.ErrUnknownPeriod,
		"[usage]\nquota_limit = -1":           config.ErrNegativeQuota,
		"[tts_service]\nmax_retries = -2":     config.ErrNegativeRetries,
		"[tts_service]\nmax_retries = 40":     config.ErrTooManyRetries,
	}

	for data, expected := range cases {
		_, err := config.Parse([]byte(data), fakeEnv(nil))
		require.ErrorIs(t, err, expected, data)
	}
}

func TestConfig_APIKeyNotReadFromTOML(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte("[tts_service]\nAPIKey = \"leaked\"\n"), &cfg)
	require.NoError(t, err)
	assert.Empty(t, cfg.TTS.APIKey)
}

func TestConfig_NoNATSNeeded(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte("[usage]\nbackend = \"none\"\n[blob]\nbackend = \"file\"\n"), fakeEnv(nil))
	require.NoError(t, err)
	assert.False(t, cfg.NeedsNATS())
}
