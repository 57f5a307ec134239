package datavet

import "time"

// ConfigBuilder provides a fluent API for constructing a [Config].
// It starts from [DefaultConfig] defaults, so only fields that differ
// from the defaults need to be set.
//
//	cfg, err := datavet.NewConfigBuilder().
//	    WithFileStorage("/var/lib/datavet").
//	    WithHistory("/var/lib/datavet/history.db").
//	    WithHTTP(8080).
//	    Build()
type ConfigBuilder struct {
	cfg Config
}

// NewConfigBuilder creates a builder pre-populated with [DefaultConfig] values.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{cfg: DefaultConfig()}
}

// Storage settings

// WithFileStorage stores registry artifacts under dir on the local
// filesystem.
func (b *ConfigBuilder) WithFileStorage(dir string) *ConfigBuilder {
	b.cfg.Storage.Backend = BackendFile
	b.cfg.Storage.Path = dir
	return b
}

// WithMemoryStorage keeps registry artifacts in process memory. Suits
// tests and one-shot pipelines.
func (b *ConfigBuilder) WithMemoryStorage() *ConfigBuilder {
	b.cfg.Storage.Backend = BackendMemory
	return b
}

// WithSQLiteStorage stores registry artifacts in a SQLite database file.
func (b *ConfigBuilder) WithSQLiteStorage(path string) *ConfigBuilder {
	b.cfg.Storage.Backend = BackendSQLite
	b.cfg.Storage.SQLite = DefaultSQLiteBackendConfig()
	b.cfg.Storage.SQLite.Path = path
	return b
}

// WithRedisStorage stores registry artifacts in Redis.
func (b *ConfigBuilder) WithRedisStorage(address string) *ConfigBuilder {
	b.cfg.Storage.Backend = BackendRedis
	b.cfg.Storage.Redis = DefaultRedisBackendConfig(address)
	return b
}

// WithS3Storage stores registry artifacts in an S3 bucket. Credentials
// come from the environment unless set on Storage.S3 directly.
func (b *ConfigBuilder) WithS3Storage(bucket, region string) *ConfigBuilder {
	b.cfg.Storage.Backend = BackendS3
	b.cfg.Storage.S3.Bucket = bucket
	b.cfg.Storage.S3.Region = region
	return b
}

// WithHotTier layers a faster backend ("memory" or "redis") in front of
// the configured storage, with reads promoting artifacts into it.
func (b *ConfigBuilder) WithHotTier(tier string) *ConfigBuilder {
	b.cfg.Storage.HotTier = tier
	return b
}

// WithStorageBackend sets a custom pre-built artifact backend.
func (b *ConfigBuilder) WithStorageBackend(backend StorageBackend) *ConfigBuilder {
	b.cfg.StorageBackend = backend
	return b
}

// History settings

// WithHistory records validation runs in a SQLite ledger at path.
func (b *ConfigBuilder) WithHistory(path string) *ConfigBuilder {
	h := DefaultHistoryConfig()
	h.Path = path
	b.cfg.History = &h
	return b
}

// WithoutHistory disables run persistence.
func (b *ConfigBuilder) WithoutHistory() *ConfigBuilder {
	b.cfg.History = nil
	return b
}

// Statistics settings

// WithHistogramBuckets sets the bucket count for numeric histograms.
func (b *ConfigBuilder) WithHistogramBuckets(n int) *ConfigBuilder {
	b.cfg.Compute.NumHistogramBuckets = n
	return b
}

// WithMaxTrackedValues bounds the distinct-value tracker kept for
// integer-valued numeric features.
func (b *ConfigBuilder) WithMaxTrackedValues(n int) *ConfigBuilder {
	b.cfg.Compute.MaxTrackedValues = n
	return b
}

// Inference settings

// WithCategoricalThreshold sets the distinct-to-present ratio below
// which a feature is inferred categorical.
func (b *ConfigBuilder) WithCategoricalThreshold(ratio float64) *ConfigBuilder {
	b.cfg.Inference.CategoricalThreshold = ratio
	return b
}

// WithSmallIntRange sets the widest max-min extent an integer-valued
// feature may have and still be inferred categorical.
func (b *ConfigBuilder) WithSmallIntRange(extent float64) *ConfigBuilder {
	b.cfg.Inference.SmallIntRange = extent
	return b
}

// Validation settings

// WithMaxSampleValues caps the offending tokens listed per anomaly.
func (b *ConfigBuilder) WithMaxSampleValues(n int) *ConfigBuilder {
	b.cfg.Validator.MaxSampleValues = n
	return b
}

// HTTP settings

// WithHTTP enables the HTTP API on the given port.
func (b *ConfigBuilder) WithHTTP(port int) *ConfigBuilder {
	b.cfg.HTTP.Enabled = true
	b.cfg.HTTP.Port = port
	return b
}

// Security settings

// WithAuth enables API key authentication.
func (b *ConfigBuilder) WithAuth(apiKeys ...string) *ConfigBuilder {
	b.cfg.Auth = &AuthConfig{
		Enabled: true,
		APIKeys: apiKeys,
	}
	return b
}

// WithEncryption enables AES-256-GCM encryption at rest for registry
// artifacts.
func (b *ConfigBuilder) WithEncryption(keyPassword string) *ConfigBuilder {
	b.cfg.Encryption = &EncryptionConfig{
		Enabled:     true,
		KeyPassword: keyPassword,
	}
	return b
}

// WithRateLimit sets the maximum requests per second per IP. 0 disables.
func (b *ConfigBuilder) WithRateLimit(rps int) *ConfigBuilder {
	b.cfg.RateLimitPerSecond = rps
	return b
}

// Streaming and export

// WithStreamBuffer sets the per-subscriber event buffer size.
func (b *ConfigBuilder) WithStreamBuffer(n int) *ConfigBuilder {
	b.cfg.Stream.BufferSize = n
	return b
}

// WithoutStreaming disables lifecycle event fan-out.
func (b *ConfigBuilder) WithoutStreaming() *ConfigBuilder {
	b.cfg.Stream.Enabled = false
	return b
}

// WithMetricsExport pushes quality metrics to a Prometheus remote write
// endpoint after each validation run.
func (b *ConfigBuilder) WithMetricsExport(endpoint string, flushInterval time.Duration) *ConfigBuilder {
	e := DefaultExportConfig()
	e.Enabled = true
	e.Endpoint = endpoint
	if flushInterval > 0 {
		e.FlushInterval = flushInterval
	}
	b.cfg.Export = &e
	return b
}

// Build validates the configuration and returns it.
// Returns an error if validation fails.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.cfg.Validate(); err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}

// MustBuild is like [ConfigBuilder.Build] but panics on validation errors.
func (b *ConfigBuilder) MustBuild() Config {
	cfg, err := b.Build()
	if err != nil {
		panic("datavet: invalid config: " + err.Error())
	}
	return cfg
}
