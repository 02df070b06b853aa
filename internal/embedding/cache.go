package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache stores vectors by opaque key.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// CacheObserver is told about every lookup.
type CacheObserver interface {
	EmbeddingCache(hit bool)
}

// CachedEmbedder serves repeated texts from a Cache and only sends misses
// to the inner Embedder. Cache errors are logged and treated as misses.
type CachedEmbedder struct {
	inner    Embedder
	cache    Cache
	log      *zap.Logger
	observer CacheObserver
}

func NewCachedEmbedder(inner Embedder, cache Cache, log *zap.Logger, observer CacheObserver) *CachedEmbedder {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, cache: cache, log: log, observer: observer}
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, t := range texts {
		vec, ok, err := c.cache.Get(ctx, c.key(t))
		if err != nil {
			c.log.Warn("embedding cache read failed", zap.Error(err))
		}
		if c.observer != nil {
			c.observer.EmbeddingCache(ok)
		}
		if ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.cache.Set(ctx, c.key(texts[i]), vecs[j]); err != nil {
			c.log.Warn("embedding cache write failed", zap.Error(err))
		}
	}
	return out, nil
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedEmbedder) ModelID() string { return c.inner.ModelID() }

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.inner.ModelID() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// MemoryCache is an unbounded in-process Cache.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string][]float32
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string][]float32)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[key]
	return v, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = vec
	return nil
}

// Len returns the number of cached vectors.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// RedisCache stores vectors as JSON under "embedding:<key>" with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects and pings the server.
func NewRedisCache(ctx context.Context, opts *redis.Options, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := r.client.Get(ctx, "embedding:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get embedding cache: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false, fmt.Errorf("unmarshal embedding: %w", err)
	}
	return vec, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	if err := r.client.Set(ctx, "embedding:"+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set embedding cache: %w", err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
