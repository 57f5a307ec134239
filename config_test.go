package datavet

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Storage.Backend != BackendFile {
		t.Errorf("expected backend %q, got %q", BackendFile, cfg.Storage.Backend)
	}
	if cfg.Storage.Path != "datavet-artifacts" {
		t.Errorf("expected path datavet-artifacts, got %s", cfg.Storage.Path)
	}
	if cfg.History == nil {
		t.Fatal("default History should not be nil")
	}
	if cfg.History.Path != "datavet.db" {
		t.Errorf("expected history path datavet.db, got %s", cfg.History.Path)
	}
	if cfg.HTTP.Enabled {
		t.Error("HTTP should default to disabled")
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected default HTTP port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.RateLimitPerSecond != 100 {
		t.Errorf("expected default rate limit 100, got %d", cfg.RateLimitPerSecond)
	}
	if !cfg.Stream.Enabled {
		t.Error("streaming should default to enabled")
	}
	if cfg.Inference.CategoricalThreshold != 0.05 {
		t.Errorf("expected categorical threshold 0.05, got %v", cfg.Inference.CategoricalThreshold)
	}
	if cfg.Validator.MaxSampleValues != DefaultMaxSampleValues {
		t.Errorf("expected %d sample values, got %d", DefaultMaxSampleValues, cfg.Validator.MaxSampleValues)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_NormalizedCopy(t *testing.T) {
	var cfg Config
	norm := cfg.NormalizedCopy()

	if norm.Storage.Backend != BackendFile {
		t.Errorf("expected backend %q, got %q", BackendFile, norm.Storage.Backend)
	}
	if norm.Storage.Path != "datavet-artifacts" {
		t.Errorf("expected path datavet-artifacts, got %s", norm.Storage.Path)
	}
	if norm.HTTP.Port != 8080 {
		t.Errorf("expected port 8080, got %d", norm.HTTP.Port)
	}
	if norm.Stream.BufferSize != 64 {
		t.Errorf("expected stream buffer 64, got %d", norm.Stream.BufferSize)
	}
	if norm.Compute.NumHistogramBuckets != DefaultHistogramBuckets {
		t.Errorf("expected %d histogram buckets, got %d", DefaultHistogramBuckets, norm.Compute.NumHistogramBuckets)
	}
	if norm.Compute.MaxTrackedValues != DefaultMaxTrackedValues {
		t.Errorf("expected %d tracked values, got %d", DefaultMaxTrackedValues, norm.Compute.MaxTrackedValues)
	}
	if norm.Validator.MaxSampleValues != DefaultMaxSampleValues {
		t.Errorf("expected %d sample values, got %d", DefaultMaxSampleValues, norm.Validator.MaxSampleValues)
	}
	if norm.Inference.SmallIntRange != 100 {
		t.Errorf("expected small int range 100, got %v", norm.Inference.SmallIntRange)
	}

	if cfg.Storage.Backend != "" {
		t.Error("NormalizedCopy should not mutate the receiver")
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) {
			c.Storage.Backend = "tape"
		}},
		{"s3 without bucket", func(c *Config) {
			c.Storage.Backend = BackendS3
		}},
		{"redis without address", func(c *Config) {
			c.Storage.Backend = BackendRedis
		}},
		{"unsupported hot tier", func(c *Config) {
			c.Storage.HotTier = BackendSQLite
		}},
		{"hot tier duplicates backend", func(c *Config) {
			c.Storage.Backend = BackendMemory
			c.Storage.HotTier = BackendMemory
		}},
		{"redis hot tier without address", func(c *Config) {
			c.Storage.HotTier = BackendRedis
		}},
		{"http port out of range", func(c *Config) {
			c.HTTP.Enabled = true
			c.HTTP.Port = 70000
		}},
		{"negative rate limit", func(c *Config) {
			c.RateLimitPerSecond = -1
		}},
		{"categorical threshold above one", func(c *Config) {
			c.Inference.CategoricalThreshold = 1.5
		}},
		{"auth enabled without keys", func(c *Config) {
			c.Auth = &AuthConfig{Enabled: true}
		}},
		{"encryption enabled without key", func(c *Config) {
			c.Encryption = &EncryptionConfig{Enabled: true}
		}},
		{"encryption key wrong size", func(c *Config) {
			c.Encryption = &EncryptionConfig{Enabled: true, Key: []byte("short")}
		}},
		{"export enabled without endpoint", func(c *Config) {
			c.Export = &ExportConfig{Enabled: true}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestConfig_ValidateAccepts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = BackendS3
	cfg.Storage.S3.Bucket = "artifacts"
	cfg.Storage.HotTier = BackendMemory
	cfg.Auth = &AuthConfig{Enabled: true, ReadOnlyKeys: []string{"viewer"}}
	cfg.Encryption = &EncryptionConfig{Enabled: true, Key: bytes.Repeat([]byte{0xab}, EncryptionKeySize)}
	cfg.Export = &ExportConfig{Enabled: true, Endpoint: "http://metrics:9090/api/v1/write"}
	cfg.RateLimitPerSecond = 0

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datavet.yaml")
	doc := `storage:
  backend: memory
http:
  enabled: true
  port: 9090
validator:
  max_sample_values: 3
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("expected memory backend, got %q", cfg.Storage.Backend)
	}
	if !cfg.HTTP.Enabled {
		t.Error("HTTP should be enabled")
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Validator.MaxSampleValues != 3 {
		t.Errorf("expected 3 sample values, got %d", cfg.Validator.MaxSampleValues)
	}

	// Settings absent from the file keep their defaults.
	if cfg.RateLimitPerSecond != 100 {
		t.Errorf("expected default rate limit 100, got %d", cfg.RateLimitPerSecond)
	}
	if cfg.Inference.SmallIntRange != 100 {
		t.Errorf("expected default small int range 100, got %v", cfg.Inference.SmallIntRange)
	}
	if cfg.History == nil || cfg.History.Path != "datavet.db" {
		t.Error("history defaults should survive loading")
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("{unclosed"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  backend: tape\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an invalid config error")
	}
}
