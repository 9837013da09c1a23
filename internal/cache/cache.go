// Package cache implements a generic compute-or-fetch memoization layer
// over the backing store: deterministic key derivation from call arguments,
// TTL-bounded entries, corruption-tolerant decoding, singleflight collapse
// of concurrent identical misses, and hit/miss/size instrumentation kept in
// the store itself via atomic increments.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/bizrank/bizrank/pkg/errors"
	"github.com/bizrank/bizrank/pkg/metrics"
	pkgredis "github.com/bizrank/bizrank/pkg/redis"
	"golang.org/x/sync/singleflight"
)

// Store is the slice of the backing-store surface the cache consumes.
// *pkgredis.Client satisfies it; tests use an in-memory fake.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

// Cache is the memoization layer. Entries live under
// "<prefix>:<namespace>:<operation>:<fingerprint>"; statistics counters live
// under "<prefix>:stats:" and are excluded from pattern invalidation, so
// they stay monotonic until ResetStats.
type Cache struct {
	store   Store
	prefix  string
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Cache with the given key prefix ("cache" by convention).
func New(store Store, prefix string, m *metrics.Metrics) *Cache {
	if prefix == "" {
		prefix = "cache"
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Cache{
		store:   store,
		prefix:  prefix,
		metrics: m,
		logger:  slog.Default().With("component", "memo-cache"),
	}
}

// Fingerprint derives the deterministic hash component of a cache key from
// an operation's positional arguments and keyword arguments. Keyword keys
// are sorted during JSON encoding, so argument order outside the positional
// tuple does not change the fingerprint.
func Fingerprint(args []any, kwargs map[string]any) string {
	payload := struct {
		Args   []any          `json:"args"`
		Kwargs map[string]any `json:"kwargs,omitempty"`
	}{Args: args, Kwargs: kwargs}
	data, err := json.Marshal(payload)
	if err != nil {
		// Unencodable arguments fingerprint by their formatted value.
		data = []byte(fmt.Sprintf("%v|%v", args, kwargs))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// GetOrCompute returns the cached result for (namespace, operation, args,
// kwargs) when present and decodable, otherwise invokes compute, stores the
// serialized result with the given TTL, and returns it. The second return
// value reports whether the call was served from cache.
//
// A ttl of zero or less disables storage for this call: compute runs and
// the result is returned uncached. Corrupted payloads and store read errors
// are treated as misses, never surfaced. Statistics writes are best-effort.
func GetOrCompute[T any](
	ctx context.Context,
	c *Cache,
	namespace string,
	operation string,
	args []any,
	kwargs map[string]any,
	ttl time.Duration,
	compute func(ctx context.Context) (T, error),
) (T, bool, error) {
	var zero T
	key := c.entryKey(namespace, operation, Fingerprint(args, kwargs))

	var corrupt bool
	if value, ok := c.lookup(ctx, key, namespace); ok {
		var result T
		if err := json.Unmarshal([]byte(value), &result); err == nil {
			c.recordHit(ctx, namespace)
			return result, true, nil
		}
		// Found but not decodable for this result type: corruption.
		corrupt = true
		c.metrics.CacheCorruptTotal.Inc()
		c.logger.Warn("corrupted cache payload treated as miss", "key", key, "error", apperrors.ErrCorrupted)
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check inside the flight: a concurrent caller may have stored
		// the entry since the first lookup. Skipped when the first lookup
		// already classified the payload corrupt, so one bad entry counts
		// once.
		if !corrupt {
			if cached, ok := c.lookup(ctx, key, namespace); ok {
				var result T
				if err := json.Unmarshal([]byte(cached), &result); err == nil {
					c.recordHit(ctx, namespace)
					return flightResult[T]{value: result, hit: true}, nil
				}
				c.metrics.CacheCorruptTotal.Inc()
			}
		}
		result, err := compute(ctx)
		if err != nil {
			return flightResult[T]{}, err
		}
		stored := c.storeResult(ctx, key, result, ttl)
		c.recordMiss(ctx, namespace, stored)
		return flightResult[T]{value: result}, nil
	})
	if err != nil {
		return zero, false, err
	}
	flight := value.(flightResult[T])
	return flight.value, flight.hit, nil
}

// flightResult carries a computed or re-checked value through the
// singleflight group together with whether it came from the cache, so the
// hit statistics and the reported flag stay in agreement.
type flightResult[T any] struct {
	value T
	hit   bool
}

// lookup fetches a raw cache entry. Missing keys and store errors both
// report false; store errors are additionally logged.
func (c *Cache) lookup(ctx context.Context, key, namespace string) (string, bool) {
	value, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache lookup failed", "key", key, "namespace", namespace, "error", err)
		}
		return "", false
	}
	return value, true
}

// storeResult serialises and writes a computed result, returning the number
// of bytes stored (0 when caching is disabled or the write failed).
func (c *Cache) storeResult(ctx context.Context, key string, result any, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("failed to serialize cache payload", "key", key, "error", err)
		return 0
	}
	if err := c.store.SetWithTTL(ctx, key, string(data), ttl); err != nil {
		c.logger.Error("failed to store cache entry", "key", key, "error", err)
		return 0
	}
	return int64(len(data))
}

// InvalidatePattern removes all cache entries matching the glob pattern
// (relative to the cache prefix) and returns how many were removed.
// Statistics keys never match.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := c.store.ScanKeys(ctx, c.prefix+":"+pattern)
	if err != nil {
		return 0, fmt.Errorf("enumerating cache pattern %s: %w", pattern, err)
	}
	targets := keys[:0]
	for _, key := range keys {
		if strings.HasPrefix(key, c.statsPrefix()) {
			continue
		}
		targets = append(targets, key)
	}
	if len(targets) == 0 {
		return 0, nil
	}
	removed, err := c.store.Del(ctx, targets...)
	if err != nil {
		return removed, fmt.Errorf("deleting cache entries for pattern %s: %w", pattern, err)
	}
	c.metrics.CacheInvalidated.Add(float64(removed))
	c.logger.Info("cache entries invalidated", "pattern", pattern, "count", removed)
	return removed, nil
}

// InvalidateNamespace removes every cached result in a namespace.
func (c *Cache) InvalidateNamespace(ctx context.Context, namespace string) (int64, error) {
	return c.InvalidatePattern(ctx, namespace+":*")
}

// ClearAll removes every cache entry (statistics counters excluded) and
// returns the count.
func (c *Cache) ClearAll(ctx context.Context) (int64, error) {
	return c.InvalidatePattern(ctx, "*")
}

func (c *Cache) entryKey(namespace, operation, fingerprint string) string {
	return fmt.Sprintf("%s:%s:%s:%s", c.prefix, namespace, operation, fingerprint)
}

func (c *Cache) statsPrefix() string {
	return c.prefix + ":stats:"
}
