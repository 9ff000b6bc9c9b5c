package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	serrors "github.com/taskhive/taskhive/errors"
	"github.com/taskhive/taskhive/internal/metrics"
	"github.com/taskhive/taskhive/store"
)

// Cache is a cache-aside layer over the shared store. Values are stored as
// JSON with a TTL; a payload that fails to decode into the caller's shape is
// treated as a miss, never as an error.
type Cache struct {
	store      store.Store
	defaultTTL time.Duration
}

// New creates a Cache with the given default TTL for Set calls that do not
// specify one.
func New(s store.Store, defaultTTL time.Duration) *Cache {
	return &Cache{store: s, defaultTTL: defaultTTL}
}

// Get loads the value at key into dest. It returns (false, nil) on a miss.
// A stored payload that does not match dest's shape is deleted and reported
// as a miss.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, serrors.ErrNotFound) {
		metrics.CacheHitsTotal.WithLabelValues("miss").Inc()
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cached payload failed validation, treating as miss")
		_ = c.store.Del(ctx, key)
		metrics.CacheHitsTotal.WithLabelValues("miss").Inc()
		return false, nil
	}
	metrics.CacheHitsTotal.WithLabelValues("hit").Inc()
	return true, nil
}

// Set serializes value and stores it under key, overwriting unconditionally.
// A non-positive ttl falls back to the cache default.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return c.store.Set(ctx, key, string(raw), ttl)
}

// Invalidate deletes the exact keys. Missing keys are not an error.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	return c.store.Del(ctx, keys...)
}

// InvalidatePrefix deletes every key sharing the prefix, via the store's
// scan primitive. Zero matches is not an error.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	return c.store.DelByPattern(ctx, prefix+"*")
}

// BuildKey derives a deterministic cache key from a query family and its
// normalized parameters: the same logical query with the same parameter set
// always yields the same key.
func BuildKey(family string, params map[string]interface{}) string {
	if len(params) == 0 {
		return family
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, params[name]))
	}
	return family + ":" + strings.Join(parts, "&")
}

// Policy decides which reads are worth caching.
type Policy struct {
	// MinSearchLen is the minimum length of a free-text filter for the read
	// to be cacheable. Shorter search strings vary too much and would blow
	// up the key space.
	MinSearchLen int
}

// Cacheable reports whether a read filtered by the given free-text value
// should go through the cache. An empty filter is always cacheable.
func (p Policy) Cacheable(freeText string) bool {
	return freeText == "" || len(freeText) >= p.MinSearchLen
}
