// Package cache keeps full retrieval rankings in Redis, keyed by the
// normalized query, and coalesces concurrent computations of the same key.
//
// Entries are namespaced by a generation counter stored in Redis. Invalidate
// bumps the counter before flushing, so a ranking computed against the
// pre-invalidation index is written under a generation no reader asks for
// anymore. This holds across processes sharing the Redis instance.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/retriever"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/logger"
)

const (
	keyPrefix     = "lexisearch:rank:"
	generationKey = "lexisearch:rank-generation"
)

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	isMiss  func(error) bool
	group   singleflight.Group
	logger  *slog.Logger
}

var _ retriever.Cache = (*QueryCache)(nil)

// New returns a cache storing entries for ttl. isMiss reports whether a Get
// error means the key is absent rather than that the backend failed.
func New(backend Backend, ttl time.Duration, isMiss func(error) bool) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		isMiss:  isMiss,
		logger:  logger.WithComponent("query-cache"),
	}
}

func (c *QueryCache) generation(ctx context.Context) (int64, error) {
	raw, err := c.backend.Get(ctx, generationKey)
	if err != nil {
		if c.isMiss(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading cache generation: %w", err)
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing cache generation %q: %w", raw, err)
	}
	return gen, nil
}

func (c *QueryCache) get(ctx context.Context, redisKey string) ([]retriever.Result, bool) {
	data, err := c.backend.Get(ctx, redisKey)
	if err != nil {
		if !c.isMiss(err) {
			c.logger.Warn("cache get failed", "key", redisKey, "error", err)
		}
		return nil, false
	}
	var results []retriever.Result
	if err := json.Unmarshal([]byte(data), &results); err != nil {
		c.logger.Error("cache unmarshal failed", "key", redisKey, "error", err)
		return nil, false
	}
	c.logger.Debug("cache hit", "key", redisKey)
	return results, true
}

func (c *QueryCache) set(ctx context.Context, redisKey string, results []retriever.Result) {
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", redisKey, "error", err)
		return
	}
	if err := c.backend.Set(ctx, redisKey, data, c.ttl); err != nil {
		c.logger.Warn("cache set failed", "key", redisKey, "error", err)
	}
}

// GetOrCompute serves key from the cache or runs compute once for all
// concurrent callers asking for it in the same generation. Backend failures
// degrade to computing without caching.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key string,
	compute func() ([]retriever.Result, error),
) ([]retriever.Result, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warn("cache bypassed", "error", err)
		results, err := compute()
		return results, false, err
	}
	redisKey := buildKey(gen, key)
	if results, ok := c.get(ctx, redisKey); ok {
		return results, true, nil
	}
	val, err, _ := c.group.Do(redisKey, func() (any, error) {
		if results, ok := c.get(ctx, redisKey); ok {
			return results, nil
		}
		results, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, redisKey, results)
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]retriever.Result), false, nil
}

// Invalidate moves readers to a fresh generation and then deletes the
// entries of older ones. A failed flush only leaves unreachable entries to
// expire with their TTL.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	gen, err := c.backend.Incr(ctx, generationKey)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		c.logger.Warn("flushing stale cache entries failed", "generation", gen, "error", err)
		return nil
	}
	c.logger.Info("cache invalidated", "generation", gen, "keys_deleted", deleted)
	return nil
}

func buildKey(gen int64, queryKey string) string {
	hash := sha256.Sum256([]byte(queryKey))
	return fmt.Sprintf("%s%d:%x", keyPrefix, gen, hash[:16])
}
