package datavet

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// StorageBackend is where the registry keeps its artifacts: schema
// versions, statistics snapshots, and validation reports. Implementations
// cover the local filesystem, S3-compatible object stores, plain memory,
// and tiered combinations of those.
type StorageBackend interface {
	// Read returns the artifact stored under key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores an artifact under key, replacing any previous value.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes an artifact.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks whether an artifact is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases any resources.
	Close() error
}

// FileBackend stores artifacts under a base directory on the local
// filesystem.
type FileBackend struct {
	baseDir string
}

// NewFileBackend creates a file-based storage backend rooted at baseDir.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, newStorageError(StorageErrorWrite, "create base directory", baseDir, err)
	}
	// Keep the cleaned absolute path for consistent traversal checks.
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, newStorageError(StorageErrorWrite, "resolve base directory", baseDir, err)
	}
	return &FileBackend{baseDir: filepath.Clean(absDir)}, nil
}

// safePath resolves a key inside the base directory and rejects keys that
// would escape it.
func (f *FileBackend) safePath(key string) (string, error) {
	resolved := filepath.Clean(filepath.Join(f.baseDir, filepath.Clean(key)))
	if resolved != f.baseDir && !strings.HasPrefix(resolved, f.baseDir+string(os.PathSeparator)) {
		return "", newStorageError(StorageErrorRead, "key escapes base directory", key, nil)
	}
	return resolved, nil
}

func (f *FileBackend) Read(ctx context.Context, key string) ([]byte, error) {
	path, err := f.safePath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newStorageError(StorageErrorNotFound, "artifact not found", key, err)
		}
		return nil, newStorageError(StorageErrorRead, "read artifact", key, err)
	}
	return data, nil
}

func (f *FileBackend) Write(ctx context.Context, key string, data []byte) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return newStorageError(StorageErrorWrite, "create artifact directory", key, err)
	}
	// Write to a sibling temp file first so readers never observe a
	// half-written artifact.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return newStorageError(StorageErrorWrite, "write artifact", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return newStorageError(StorageErrorWrite, "publish artifact", key, err)
	}
	return nil
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return newStorageError(StorageErrorNotFound, "artifact not found", key, err)
		}
		return newStorageError(StorageErrorDelete, "delete artifact", key, err)
	}
	return nil
}

func (f *FileBackend) List(ctx context.Context, prefix string) ([]string, error) {
	searchPath, err := f.safePath(prefix)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(searchPath); os.IsNotExist(err) {
		return nil, nil
	}

	var keys []string
	err = filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(f.baseDir, path)
			keys = append(keys, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, newStorageError(StorageErrorList, "walk artifacts", prefix, err)
	}
	return keys, nil
}

func (f *FileBackend) Exists(ctx context.Context, key string) (bool, error) {
	path, err := f.safePath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, newStorageError(StorageErrorRead, "stat artifact", key, err)
	}
	return true, nil
}

func (f *FileBackend) Close() error {
	return nil
}

// S3BackendConfig configures the S3 storage backend.
type S3BackendConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // For S3-compatible services (MinIO, etc.)
	// AccessKeyID for authentication. Prefer IAM roles, instance profiles,
	// or environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
	// over setting these directly.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`         // Key prefix for all objects
	UsePathStyle    bool   `yaml:"use_path_style"` // Use path-style addressing
	CacheSize       int    `yaml:"cache_size"`     // Number of artifacts to cache (default: 100)

	// MaxRetries bounds retry attempts for S3 operations (default: 3).
	MaxRetries int `yaml:"max_retries"`
}

// S3Backend stores artifacts in S3 or an S3-compatible object store, with
// a small read-through LRU cache in front.
type S3Backend struct {
	client  *s3.Client
	config  S3BackendConfig
	cache   *LRUCache
	retryer *Retryer
}

// LRUCache is a simple LRU cache for artifact bytes.
type LRUCache struct {
	capacity int
	items    map[string]*cacheItem
	order    []string
	mu       sync.Mutex
}

type cacheItem struct {
	data      []byte
	timestamp time.Time
}

// NewLRUCache creates a new LRU cache.
func NewLRUCache(capacity int) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		items:    make(map[string]*cacheItem),
	}
}

// Get retrieves an item from the cache.
func (c *LRUCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.moveToEnd(key)
	return item.data, true
}

// Put adds an item to the cache.
func (c *LRUCache) Put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; ok {
		c.items[key].data = data
		c.items[key].timestamp = time.Now()
		c.moveToEnd(key)
		return
	}

	for len(c.items) >= c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}

	c.items[key] = &cacheItem{data: data, timestamp: time.Now()}
	c.order = append(c.order, key)
}

// Delete removes an item from the cache.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *LRUCache) moveToEnd(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			break
		}
	}
}

// NewS3Backend creates a new S3 storage backend.
func NewS3Backend(cfg S3BackendConfig) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, newInvalidArgumentError("NewS3Backend", "bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, newStorageError(StorageErrorUnknown, "load AWS config", "", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &S3Backend{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
		cache:  NewLRUCache(cfg.CacheSize),
		retryer: NewRetryer(RetryConfig{
			MaxAttempts:       cfg.MaxRetries,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
			RetryIf:           IsRetryable,
		}),
	}, nil
}

func (s *S3Backend) Read(ctx context.Context, key string) ([]byte, error) {
	fullKey := s.config.Prefix + key

	if data, ok := s.cache.Get(fullKey); ok {
		return data, nil
	}

	var data []byte
	result := s.retryer.Do(ctx, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(fullKey),
		})
		if err != nil {
			var nsk *s3types.NoSuchKey
			if errors.As(err, &nsk) {
				return newStorageError(StorageErrorNotFound, "artifact not found", key, err)
			}
			return newStorageError(StorageErrorRead, "S3 get object", key, err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return newStorageError(StorageErrorRead, "S3 read body", key, err)
		}
		return nil
	})
	if result.LastErr != nil {
		return nil, result.LastErr
	}

	s.cache.Put(fullKey, data)
	return data, nil
}

func (s *S3Backend) Write(ctx context.Context, key string, data []byte) error {
	fullKey := s.config.Prefix + key

	result := s.retryer.Do(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(fullKey),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return newStorageError(StorageErrorWrite, "S3 put object", key, err)
		}
		return nil
	})
	if result.LastErr != nil {
		return result.LastErr
	}

	s.cache.Put(fullKey, data)
	return nil
}

func (s *S3Backend) Delete(ctx context.Context, key string) error {
	fullKey := s.config.Prefix + key

	result := s.retryer.Do(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(fullKey),
		})
		if err != nil {
			return newStorageError(StorageErrorDelete, "S3 delete object", key, err)
		}
		return nil
	})
	if result.LastErr != nil {
		return result.LastErr
	}

	s.cache.Delete(fullKey)
	return nil
}

func (s *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.config.Prefix + prefix

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, newStorageError(StorageErrorList, "S3 list objects", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(*obj.Key, s.config.Prefix))
		}
	}
	return keys, nil
}

func (s *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	fullKey := s.config.Prefix + key

	if _, ok := s.cache.Get(fullKey); ok {
		return true, nil
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return false, nil
		}
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, newStorageError(StorageErrorRead, "S3 head object", key, err)
	}
	return true, nil
}

func (s *S3Backend) Close() error {
	return nil
}

// MemoryBackend keeps artifacts in memory. Useful for tests and
// short-lived pipelines.
type MemoryBackend struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string][]byte),
	}
}

func (m *MemoryBackend) Read(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[key]
	if !ok {
		return nil, newStorageError(StorageErrorNotFound, "artifact not found", key, nil)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryBackend) Write(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.data[key]
	return ok, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

// Size returns the number of artifacts held in memory.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// TieredBackend layers a fast local store over a slower durable one.
// Reads promote cold artifacts into the hot tier; writes land in both.
type TieredBackend struct {
	hot  StorageBackend
	cold StorageBackend
}

// NewTieredBackend creates a tiered storage backend.
func NewTieredBackend(hot, cold StorageBackend) *TieredBackend {
	return &TieredBackend{hot: hot, cold: cold}
}

func (t *TieredBackend) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := t.hot.Read(ctx, key)
	if err == nil {
		return data, nil
	}

	data, err = t.cold.Read(ctx, key)
	if err != nil {
		return nil, err
	}

	// Promote to the hot tier.
	_ = t.hot.Write(ctx, key, data)
	return data, nil
}

func (t *TieredBackend) Write(ctx context.Context, key string, data []byte) error {
	if err := t.cold.Write(ctx, key, data); err != nil {
		return err
	}
	return t.hot.Write(ctx, key, data)
}

func (t *TieredBackend) Delete(ctx context.Context, key string) error {
	errHot := t.hot.Delete(ctx, key)
	errCold := t.cold.Delete(ctx, key)
	if errCold != nil {
		return errCold
	}
	return errHot
}

func (t *TieredBackend) List(ctx context.Context, prefix string) ([]string, error) {
	coldKeys, err := t.cold.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	hotKeys, err := t.hot.List(ctx, prefix)
	if err != nil {
		return coldKeys, nil
	}

	seen := make(map[string]bool, len(coldKeys))
	for _, k := range coldKeys {
		seen[k] = true
	}
	for _, k := range hotKeys {
		if !seen[k] {
			coldKeys = append(coldKeys, k)
		}
	}
	return coldKeys, nil
}

func (t *TieredBackend) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := t.hot.Exists(ctx, key)
	if err == nil && exists {
		return true, nil
	}
	return t.cold.Exists(ctx, key)
}

func (t *TieredBackend) Close() error {
	errHot := t.hot.Close()
	errCold := t.cold.Close()
	if errHot != nil {
		return errHot
	}
	return errCold
}

var (
	_ StorageBackend = (*FileBackend)(nil)
	_ StorageBackend = (*S3Backend)(nil)
	_ StorageBackend = (*MemoryBackend)(nil)
	_ StorageBackend = (*TieredBackend)(nil)
)
