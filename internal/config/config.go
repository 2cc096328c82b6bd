// Package config provides the configuration structure for the story TTS service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Provider names.
const (
	ProviderGoogle     = "google"
	ProviderElevenLabs = "elevenlabs"
)

// Backend names.
const (
	BackendNATS   = "nats"
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendNone   = "none"
)

// Environment variables holding provider credentials.
const (
	EnvGoogleAPIKey     = "GOOGLE_TTS_API_KEY"
	EnvElevenLabsAPIKey = "ELEVENLABS_API_KEY"
)

// Defaults applied to zero values after loading.
const (
	defaultListenAddr        = ":8080"
	defaultRequestTimeout    = 60
	defaultNATSURL           = "nats://127.0.0.1:4222"
	defaultAudioBucket       = "TTS_AUDIO"
	defaultTextBucket        = "TTS_TEXTS"
	defaultUsageBucket       = "TTS_USAGE"
	defaultVoice             = "sv-SE-Wavenet-A"
	defaultLanguageCode      = "sv-SE"
	defaultAudioEncoding     = "MP3"
	defaultTimeoutSeconds    = 30
	defaultMaxRetries        = 3
	maxRetriesLimit          = 10
	defaultBaseDelayMS       = 300
	defaultNamespace         = "tts"
	defaultPeriod            = "day"
	defaultSQLitePath        = "data/usage.db"
	defaultFileDir           = "audio"
	defaultBaseLogsDir       = "logs"
	defaultTextSubject       = "text.processed"
	defaultAudioChunkSubject = "audio.chunk.created"
)

// Static errors.
var (
	ErrUnknownProvider     = errors.New("unknown tts provider")
	ErrUnknownUsageBackend = errors.New("unknown usage backend")
	ErrUnknownBlobBackend  = errors.New("unknown blob backend")
	ErrUnknownPeriod       = errors.New("unknown usage period")
	ErrNegativeQuota       = errors.New("quota_limit must be non-negative")
	ErrNegativeRetries     = errors.New("max_retries must be non-negative")
	ErrTooManyRetries      = errors.New("max_retries is too large")
)

// ServerConfig holds the HTTP surface configuration.
type ServerConfig struct {
	ListenAddr            string   `toml:"listen_addr"`
	AllowedOrigins        []string `toml:"allowed_origins"`
	RequestTimeoutSeconds int      `toml:"request_timeout_seconds"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	TextObjectStoreBucket    string `toml:"text_object_store_bucket"`
	UsageKVBucket            string `toml:"usage_kv_bucket"`
}

// TTSServiceConfig holds the synthesis and cache key configuration.
type TTSServiceConfig struct {
	Provider             string `toml:"provider"`
	Endpoint             string `toml:"endpoint"`
	DefaultVoice         string `toml:"default_voice"`
	LanguageCode         string `toml:"language_code"`
	AudioEncoding        string `toml:"audio_encoding"`
	ModelID              string `toml:"model_id"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	MaxRetries           int    `toml:"max_retries"`
	BaseDelayMS          int    `toml:"base_delay_ms"`
	CacheNamespace       string `toml:"cache_namespace"`
	IncludeLanguageInKey bool   `toml:"include_language_in_key"`
	// APIKey is read from the environment, never from TOML.
	APIKey string `toml:"-"`
}

// UsageConfig holds the quota ledger configuration.
type UsageConfig struct {
	Backend      string `toml:"backend"`
	SQLitePath   string `toml:"sqlite_path"`
	QuotaLimit   int64  `toml:"quota_limit"`
	Period       string `toml:"period"`
	BucketPrefix string `toml:"bucket_prefix"`
}

// BlobConfig selects the audio blob store.
type BlobConfig struct {
	Backend string `toml:"backend"`
	FileDir string `toml:"file_dir"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig     `toml:"server"`
	NATS   NATSConfig       `toml:"nats"`
	TTS    TTSServiceConfig `toml:"tts_service"`
	Usage  UsageConfig      `toml:"usage"`
	Blob   BlobConfig       `toml:"blob"`
	Paths  PathsConfig      `toml:"paths"`
}

// Load loads the configuration through the central configurator, then applies
// defaults, reads credentials from the environment and validates the result.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg, os.Getenv)
}

// Parse decodes TOML data and finishes it like Load, reading credentials via getenv.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return finish(&cfg, getenv)
}

func finish(cfg *Config, getenv func(string) string) (*Config, error) {
	cfg.ApplyDefaults()
	cfg.LoadCredentials(getenv)

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.ListenAddr, defaultListenAddr)

	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}

	setDefaultInt(&c.Server.RequestTimeoutSeconds, defaultRequestTimeout)

	setDefault(&c.NATS.URL, defaultNATSURL)
	setDefault(&c.NATS.AudioObjectStoreBucket, defaultAudioBucket)
	setDefault(&c.NATS.TextObjectStoreBucket, defaultTextBucket)
	setDefault(&c.NATS.UsageKVBucket, defaultUsageBucket)
	setDefault(&c.NATS.TextProcessedSubject, defaultTextSubject)
	setDefault(&c.NATS.AudioChunkCreatedSubject, defaultAudioChunkSubject)

	setDefault(&c.TTS.Provider, ProviderGoogle)
	setDefault(&c.TTS.DefaultVoice, defaultVoice)
	setDefault(&c.TTS.LanguageCode, defaultLanguageCode)
	setDefault(&c.TTS.AudioEncoding, defaultAudioEncoding)
	setDefault(&c.TTS.CacheNamespace, defaultNamespace)
	setDefaultInt(&c.TTS.TimeoutSeconds, defaultTimeoutSeconds)
	setDefaultInt(&c.TTS.BaseDelayMS, defaultBaseDelayMS)

	if c.TTS.MaxRetries == 0 {
		c.TTS.MaxRetries = defaultMaxRetries
	}

	setDefault(&c.Usage.Backend, BackendNATS)
	setDefault(&c.Usage.SQLitePath, defaultSQLitePath)
	setDefault(&c.Usage.Period, defaultPeriod)
	setDefault(&c.Usage.BucketPrefix, c.TTS.CacheNamespace)

	setDefault(&c.Blob.Backend, BackendNATS)
	setDefault(&c.Blob.FileDir, defaultFileDir)

	setDefault(&c.Paths.BaseLogsDir, defaultBaseLogsDir)
}

// LoadCredentials reads the API key of the selected provider from the environment.
func (c *Config) LoadCredentials(getenv func(string) string) {
	switch c.TTS.Provider {
	case ProviderElevenLabs:
		c.TTS.APIKey = strings.TrimSpace(getenv(EnvElevenLabsAPIKey))
	default:
		c.TTS.APIKey = strings.TrimSpace(getenv(EnvGoogleAPIKey))
	}
}

// Validate rejects unknown backends and out-of-range values. A missing API key is
// not an error here; synthesis requests report it instead.
func (c *Config) Validate() error {
	switch c.TTS.Provider {
	case ProviderGoogle, ProviderElevenLabs:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.TTS.Provider)
	}

	switch c.Usage.Backend {
	case BackendNATS, BackendSQLite, BackendNone:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownUsageBackend, c.Usage.Backend)
	}

	switch c.Blob.Backend {
	case BackendNATS, BackendFile:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBlobBackend, c.Blob.Backend)
	}

	switch c.Usage.Period {
	case "day", "month":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPeriod, c.Usage.Period)
	}

	if c.Usage.QuotaLimit < 0 {
		return ErrNegativeQuota
	}

	if c.TTS.MaxRetries < 0 {
		return ErrNegativeRetries
	}

	if c.TTS.MaxRetries > maxRetriesLimit {
		return fmt.Errorf("%w: %d exceeds %d", ErrTooManyRetries, c.TTS.MaxRetries, maxRetriesLimit)
	}

	return nil
}

// NeedsNATS reports whether any configured backend uses NATS.
func (c *Config) NeedsNATS() bool {
	return c.Blob.Backend == BackendNATS || c.Usage.Backend == BackendNATS
}

// ProviderTimeout returns the HTTP timeout for one provider call.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.TTS.TimeoutSeconds) * time.Second
}

// BaseDelay returns the retry base delay.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.TTS.BaseDelayMS) * time.Millisecond
}

// RequestTimeout returns the per-request ceiling enforced by the HTTP server.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

func setDefaultInt(field *int, value int) {
	if *field <= 0 {
		*field = value
	}
}
