// Package cache stores immutable upstream payloads (orders, auction instances) so that
// retried hashes do not refetch them.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aidin1998/ebbo_monitor/pkg/metrics"
)

// Store is a byte-oriented key/value cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Compressed payloads are prefixed with this marker byte.
const (
	markerPlain byte = 0
	markerGzip  byte = 1
)

// RedisStore implements Store on Redis, gzip-compressing large values.
type RedisStore struct {
	client         redisClient
	defaultTTL     time.Duration
	compressionMin int
	keyPrefix      string

	hits   int64
	misses int64
	errors int64
}

// NewRedisStore creates a store on client. Values of at least compressionMin bytes are
// compressed.
func NewRedisStore(client redis.UniversalClient, defaultTTL time.Duration, compressionMin int) *RedisStore {
	return newRedisStore(client, defaultTTL, compressionMin)
}

func newRedisStore(client redisClient, defaultTTL time.Duration, compressionMin int) *RedisStore {
	return &RedisStore{
		client:         client,
		defaultTTL:     defaultTTL,
		compressionMin: compressionMin,
		keyPrefix:      "ebbo:cache:",
	}
}

// Get returns the value stored at key. A missing key is not an error.
func (c *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&c.misses, 1)
			metrics.CacheLookups.WithLabelValues("miss").Inc()
			return nil, false, nil
		}
		atomic.AddInt64(&c.errors, 1)
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("failed to get from cache: %w", err)
	}

	value, err := decode(data)
	if err != nil {
		atomic.AddInt64(&c.errors, 1)
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false, err
	}

	atomic.AddInt64(&c.hits, 1)
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return value, true, nil
}

// Set stores value at key. A zero ttl uses the store default.
func (c *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	data, err := c.encode(value)
	if err != nil {
		atomic.AddInt64(&c.errors, 1)
		return err
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, data, ttl).Err(); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Stats returns the hit, miss and error counts.
func (c *RedisStore) Stats() (hits, misses, errs int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses), atomic.LoadInt64(&c.errors)
}

func (c *RedisStore) encode(value []byte) ([]byte, error) {
	if c.compressionMin <= 0 || len(value) < c.compressionMin {
		return append([]byte{markerPlain}, value...), nil
	}
	var buf bytes.Buffer
	buf.WriteByte(markerGzip)
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(value); err != nil {
		return nil, fmt.Errorf("failed to compress cache entry: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress cache entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty cache entry")
	}
	switch data[0] {
	case markerPlain:
		return data[1:], nil
	case markerGzip:
		gz, err := gzip.NewReader(bytes.NewReader(data[1:]))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress cache entry: %w", err)
		}
		defer gz.Close()
		out, err := io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress cache entry: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown cache entry encoding %d", data[0])
	}
}
