package datavet

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackendConfig configures the Redis storage backend.
type RedisBackendConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379").
	Address string `yaml:"address"`

	// Password for Redis authentication (optional).
	Password string `yaml:"password"`

	// Database number to use (default: 0).
	Database int `yaml:"database"`

	// Prefix is prepended to all artifact keys (e.g., "datavet:artifacts:").
	Prefix string `yaml:"prefix"`

	// TTL is the time-to-live for artifact keys (0 = no expiration).
	TTL time.Duration `yaml:"ttl"`

	// Timeout for Redis operations.
	Timeout time.Duration `yaml:"timeout"`

	// PoolSize is the maximum number of connections.
	PoolSize int `yaml:"pool_size"`

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int `yaml:"min_idle_conns"`
}

// DefaultRedisBackendConfig returns sensible defaults.
func DefaultRedisBackendConfig(address string) RedisBackendConfig {
	return RedisBackendConfig{
		Address:      address,
		Prefix:       "datavet:artifacts:",
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisBackend stores artifacts in Redis. Suits deployments that want
// registry reads off the critical path of a shared filesystem or object
// store, or short-lived artifacts via TTL.
type RedisBackend struct {
	cfg    RedisBackendConfig
	client *redis.Client
}

var _ StorageBackend = (*RedisBackend)(nil)

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(cfg RedisBackendConfig) (*RedisBackend, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, newStorageError(StorageErrorUnknown, "connect to Redis", "", err)
	}

	return &RedisBackend{cfg: cfg, client: client}, nil
}

func (b *RedisBackend) key(key string) string {
	return b.cfg.Prefix + key
}

func (b *RedisBackend) Read(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, newStorageError(StorageErrorNotFound, "artifact not found", key, err)
		}
		return nil, newStorageError(StorageErrorRead, "Redis get", key, err)
	}
	return data, nil
}

func (b *RedisBackend) Write(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	if err := b.client.Set(ctx, b.key(key), data, b.cfg.TTL).Err(); err != nil {
		return newStorageError(StorageErrorWrite, "Redis set", key, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	if err := b.client.Del(ctx, b.key(key)).Err(); err != nil {
		return newStorageError(StorageErrorDelete, "Redis del", key, err)
	}
	return nil
}

func (b *RedisBackend) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	pattern := b.cfg.Prefix + prefix + "*"
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), b.cfg.Prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, newStorageError(StorageErrorList, "Redis scan", prefix, err)
	}
	return keys, nil
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	n, err := b.client.Exists(ctx, b.key(key)).Result()
	if err != nil {
		return false, newStorageError(StorageErrorRead, "Redis exists", key, err)
	}
	return n > 0, nil
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
