package semantic

import (
	"context"
	"fmt"

	"github.com/wgomg/pulsegen/internal/config"
	"github.com/wgomg/pulsegen/internal/utils"
)

// NewEmbedder builds the configured backend wrapped in the configured cache.
// observer may be nil.
func NewEmbedder(ctx context.Context, logger *utils.Logger, cfg *config.SemanticConfig, observer CacheObserver) (Embedder, error) {
	var inner Embedder

	switch cfg.Backend {
	case "http":
		logger.Info(nil, "Using HTTP embeddings endpoint %s (model=%s)", cfg.URL, cfg.Model)
		inner = NewHTTPEmbedder(logger, cfg, nil)
	case "python", "":
		pool := NewPythonEmbedder(logger, cfg)
		if err := pool.Initialize(); err != nil {
			return nil, fmt.Errorf("failed to initialize python embedder: %w", err)
		}
		inner = pool
	default:
		return nil, fmt.Errorf("unsupported embedding backend %q", cfg.Backend)
	}

	var cache Cache
	switch cfg.Cache {
	case "none":
		return inner, nil
	case "redis":
		rc, err := NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPrefix, cfg.Model, 0)
		if err != nil {
			_ = inner.Close()
			return nil, fmt.Errorf("failed to connect embedding cache: %w", err)
		}
		logger.Info(nil, "Using Redis embedding cache at %s", cfg.RedisAddr)
		cache = rc
	default:
		cache = NewMemoryCache(0)
	}

	return NewCachedEmbedder(inner, cache, logger, observer), nil
}
