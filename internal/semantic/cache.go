package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wgomg/pulsegen/internal/utils"
)

// Cache stores embeddings by text. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, text string) (Embedding, bool, error)
	Set(ctx context.Context, text string, emb Embedding) error
	Close() error
}

// CacheObserver is notified of cache lookups.
type CacheObserver interface {
	EmbeddingCacheHit()
	EmbeddingCacheMiss()
}

// CachedEmbedder consults a Cache before delegating to the wrapped Embedder.
// Cache errors are logged and never fail an embedding.
type CachedEmbedder struct {
	inner    Embedder
	cache    Cache
	logger   *utils.Logger
	observer CacheObserver
}

func NewCachedEmbedder(inner Embedder, cache Cache, logger *utils.Logger, observer CacheObserver) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache, logger: logger.Named("semantic"), observer: observer}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) (Embedding, error) {
	emb, ok, err := c.cache.Get(ctx, text)
	if err != nil {
		c.logger.Warn(nil, "Embedding cache read failed: %v", err)
	}
	if ok {
		if c.observer != nil {
			c.observer.EmbeddingCacheHit()
		}
		return emb, nil
	}
	if c.observer != nil {
		c.observer.EmbeddingCacheMiss()
	}

	emb, err = c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, text, emb); err != nil {
		c.logger.Warn(nil, "Embedding cache write failed: %v", err)
	}
	return emb, nil
}

// HealthCheck checks the wrapped backend, bypassing the cache.
func (c *CachedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Dimension reports the wrapped backend's vector length, 0 when unknown.
func (c *CachedEmbedder) Dimension() int {
	if d, ok := c.inner.(Dimensioned); ok {
		return d.Dimension()
	}
	return 0
}

func (c *CachedEmbedder) Close() error {
	return errors.Join(c.inner.Close(), c.cache.Close())
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Embedding
	maxSize int
}

// NewMemoryCache keeps up to maxSize entries; 0 means unbounded. When full,
// new entries are not stored.
func NewMemoryCache(maxSize int) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]Embedding),
		maxSize: maxSize,
	}
}

func (m *MemoryCache) Get(_ context.Context, text string) (Embedding, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	emb, ok := m.entries[text]
	if !ok {
		return nil, false, nil
	}
	return cloneEmbedding(emb), true, nil
}

func (m *MemoryCache) Set(_ context.Context, text string, emb Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[text]; !exists && m.maxSize > 0 && len(m.entries) >= m.maxSize {
		return nil
	}
	m.entries[text] = cloneEmbedding(emb)
	return nil
}

func (m *MemoryCache) Close() error { return nil }

func cloneEmbedding(e Embedding) Embedding {
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// RedisCache stores vectors as little-endian float64 blobs under prefix+sha256(model+text).
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	model  string
	ttl    time.Duration
}

func NewRedisCache(ctx context.Context, addr, prefix, model string, ttl time.Duration) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCache{rdb: rdb, prefix: prefix, model: model, ttl: ttl}, nil
}

func (r *RedisCache) Get(ctx context.Context, text string) (Embedding, bool, error) {
	raw, err := r.rdb.Get(ctx, r.key(text)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	emb, err := decodeEmbedding(raw)
	if err != nil {
		return nil, false, err
	}
	return emb, true, nil
}

func (r *RedisCache) Set(ctx context.Context, text string, emb Embedding) error {
	return r.rdb.Set(ctx, r.key(text), encodeEmbedding(emb), r.ttl).Err()
}

func (r *RedisCache) Close() error {
	return r.rdb.Close()
}

func (r *RedisCache) key(text string) string {
	return cacheKey(r.prefix, r.model, text)
}

func cacheKey(prefix, model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return prefix + hex.EncodeToString(sum[:])
}

func encodeEmbedding(emb Embedding) []byte {
	buf := make([]byte, 8*len(emb))
	for i, v := range emb {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodeEmbedding(raw []byte) (Embedding, error) {
	if len(raw) == 0 || len(raw)%8 != 0 {
		return nil, fmt.Errorf("corrupt cached embedding: %d bytes", len(raw))
	}
	emb := make(Embedding, len(raw)/8)
	for i := range emb {
		emb[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return emb, nil
}
