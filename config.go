package datavet

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Storage backend names accepted by [StorageConfig].
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendS3     = "s3"
)

// Config defines engine configuration.
type Config struct {
	// Storage selects and configures the artifact backend behind the
	// registry.
	Storage StorageConfig `yaml:"storage"`

	// StorageBackend is an optional pre-built backend for registry
	// artifacts. If provided, the Storage selection is ignored and the
	// engine does not close the backend on shutdown.
	StorageBackend StorageBackend `yaml:"-"`

	// History configures the validation run ledger.
	// If nil, runs are not persisted.
	History *HistoryConfig `yaml:"history"`

	// Compute holds the default statistics pass settings.
	Compute ComputeOptions `yaml:"compute"`

	// Inference tunes schema inference thresholds.
	Inference InferenceConfig `yaml:"inference"`

	// Validator tunes validation reporting.
	Validator ValidatorConfig `yaml:"validator"`

	// HTTP configures the HTTP API server.
	HTTP HTTPConfig `yaml:"http"`

	// Stream configures validation event fan-out to websocket subscribers.
	Stream StreamConfig `yaml:"stream"`

	// Export configures outbound quality metrics via Prometheus remote
	// write. If nil or Enabled is false, nothing is exported.
	Export *ExportConfig `yaml:"export"`

	// Encryption configures encryption at rest for registry artifacts.
	// If nil or Enabled is false, artifacts are stored unsealed.
	Encryption *EncryptionConfig `yaml:"encryption"`

	// Auth configures HTTP API authentication.
	// If nil or Enabled is false, no authentication is required.
	Auth *AuthConfig `yaml:"auth"`

	// RateLimitPerSecond is the maximum requests per second per IP.
	// Default: 100. Set to 0 to disable rate limiting.
	RateLimitPerSecond int `yaml:"rate_limit_per_second"`
}

// StorageConfig selects and configures artifact storage.
type StorageConfig struct {
	// Backend is one of "file", "memory", "sqlite", "redis", or "s3".
	// Default: "file".
	Backend string `yaml:"backend"`

	// Path is the artifact directory for the file backend.
	// Default: "datavet-artifacts".
	Path string `yaml:"path"`

	// SQLite configures the "sqlite" backend.
	SQLite SQLiteBackendConfig `yaml:"sqlite"`

	// Redis configures the "redis" backend.
	Redis RedisBackendConfig `yaml:"redis"`

	// S3 configures the "s3" backend.
	S3 S3BackendConfig `yaml:"s3"`

	// HotTier layers a faster backend in front of the selected one, with
	// reads promoting artifacts into it. One of "" (disabled), "memory",
	// or "redis". Default: "".
	HotTier string `yaml:"hot_tier"`
}

// HTTPConfig groups HTTP API server settings.
type HTTPConfig struct {
	// Enabled starts the HTTP API alongside the engine.
	// Default: false.
	Enabled bool `yaml:"enabled"`

	// Host is the listen address. Default: "" (all interfaces).
	Host string `yaml:"host"`

	// Port is the HTTP API port. Default: 8080.
	Port int `yaml:"port"`
}

// AuthConfig configures HTTP API authentication.
type AuthConfig struct {
	// Enabled enables authentication on HTTP endpoints.
	Enabled bool `yaml:"enabled"`

	// APIKeys is a list of valid API keys. At least one key must be
	// provided if Enabled is true.
	APIKeys []string `yaml:"api_keys"`

	// ReadOnlyKeys is a list of API keys that only allow read operations.
	// These keys cannot adopt schemas or trigger validation runs.
	ReadOnlyKeys []string `yaml:"read_only_keys"`

	// ExcludePaths are paths that don't require authentication (e.g., /health).
	ExcludePaths []string `yaml:"exclude_paths"`
}

// DefaultConfig returns a configuration with sensible defaults: file
// storage under "datavet-artifacts", run history in "datavet.db", stock
// compute, inference, and validation settings, streaming on, HTTP off.
func DefaultConfig() Config {
	history := DefaultHistoryConfig()
	return Config{
		Storage: StorageConfig{
			Backend: BackendFile,
			Path:    "datavet-artifacts",
			SQLite:  DefaultSQLiteBackendConfig(),
			Redis:   DefaultRedisBackendConfig(""),
		},
		History:   &history,
		Compute:   DefaultComputeOptions(),
		Inference: DefaultInferenceConfig(),
		Validator: DefaultValidatorConfig(),
		HTTP: HTTPConfig{
			Enabled: false,
			Port:    8080,
		},
		Stream:             DefaultStreamConfig(),
		RateLimitPerSecond: 100,
	}
}

// normalize replaces zero values with defaults.
func (c *Config) normalize() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFile
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "datavet-artifacts"
	}
	c.Compute.normalize()
	c.Inference.normalize()
	c.Validator.normalize()
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Stream.BufferSize <= 0 {
		c.Stream.BufferSize = 64
	}
	if c.Export != nil {
		c.Export.normalize()
	}
}

// Validate checks the configuration for contradictions that normalize
// cannot repair. Zero values are filled in before checking and are never
// errors here.
func (c Config) Validate() error {
	c.normalize()
	switch c.Storage.Backend {
	case BackendFile, BackendMemory, BackendSQLite, BackendRedis, BackendS3:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendS3 && c.Storage.S3.Bucket == "" {
		return errors.New("s3 storage requires a bucket")
	}
	if c.Storage.Backend == BackendRedis && c.Storage.Redis.Address == "" {
		return errors.New("redis storage requires an address")
	}
	switch c.Storage.HotTier {
	case "", BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unsupported hot tier %q", c.Storage.HotTier)
	}
	if c.Storage.HotTier != "" && c.Storage.HotTier == c.Storage.Backend {
		return fmt.Errorf("hot tier %q duplicates the storage backend", c.Storage.HotTier)
	}
	if c.Storage.HotTier == BackendRedis && c.Storage.Redis.Address == "" {
		return errors.New("redis hot tier requires an address")
	}
	if c.HTTP.Enabled && (c.HTTP.Port < 1 || c.HTTP.Port > 65535) {
		return fmt.Errorf("http port %d out of range", c.HTTP.Port)
	}
	if c.RateLimitPerSecond < 0 {
		return errors.New("rate limit cannot be negative")
	}
	if c.Inference.CategoricalThreshold > 1 {
		return fmt.Errorf("categorical threshold %v exceeds 1", c.Inference.CategoricalThreshold)
	}
	if c.Auth != nil && c.Auth.Enabled && len(c.Auth.APIKeys) == 0 && len(c.Auth.ReadOnlyKeys) == 0 {
		return errors.New("auth is enabled but no API keys are configured")
	}
	if c.Encryption != nil && c.Encryption.Enabled {
		if len(c.Encryption.Key) == 0 && c.Encryption.KeyPassword == "" {
			return errors.New("encryption is enabled but no key or key password is set")
		}
		if len(c.Encryption.Key) > 0 && len(c.Encryption.Key) != EncryptionKeySize {
			return fmt.Errorf("encryption key must be %d bytes, got %d", EncryptionKeySize, len(c.Encryption.Key))
		}
	}
	if c.Export != nil && c.Export.Enabled && c.Export.Endpoint == "" {
		return errors.New("metrics export is enabled but no endpoint is set")
	}
	return nil
}

// NormalizedCopy returns a copy of the configuration with zero values
// replaced by defaults. Pointer-typed sections are shared with the
// original.
func (c Config) NormalizedCopy() Config {
	c.normalize()
	return c
}

// LoadConfig reads a YAML configuration file. Settings absent from the
// file keep their [DefaultConfig] values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
