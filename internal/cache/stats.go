package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	pkgredis "github.com/bizrank/bizrank/pkg/redis"
)

// NamespaceStats holds per-namespace hit/miss counters.
type NamespaceStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Statistics is a point-in-time snapshot of the cache counters. The
// counters are process-lifetime monotonic: they reset only via ResetStats.
type Statistics struct {
	Hits        int64                     `json:"hits"`
	Misses      int64                     `json:"misses"`
	StoredBytes int64                     `json:"stored_bytes"`
	HitRate     float64                   `json:"hit_rate"`
	ByNamespace map[string]NamespaceStats `json:"by_namespace,omitempty"`
}

// Counters live in the store so they survive restarts and stay correct
// under concurrent access; the store's INCR/INCRBY are the only
// synchronization. All writes are best-effort: a failed counter update is
// logged and never fails the caller's read or write.

func (c *Cache) recordHit(ctx context.Context, namespace string) {
	c.metrics.CacheHitsTotal.WithLabelValues(namespace).Inc()
	if _, err := c.store.Incr(ctx, c.statsPrefix()+"hits"); err != nil {
		c.logger.Warn("failed to record cache hit", "namespace", namespace, "error", err)
		return
	}
	if _, err := c.store.Incr(ctx, c.statsPrefix()+"hits:"+namespace); err != nil {
		c.logger.Warn("failed to record namespace cache hit", "namespace", namespace, "error", err)
	}
}

func (c *Cache) recordMiss(ctx context.Context, namespace string, storedBytes int64) {
	c.metrics.CacheMissesTotal.WithLabelValues(namespace).Inc()
	if storedBytes > 0 {
		c.metrics.CacheBytesStored.Add(float64(storedBytes))
	}
	if _, err := c.store.Incr(ctx, c.statsPrefix()+"misses"); err != nil {
		c.logger.Warn("failed to record cache miss", "namespace", namespace, "error", err)
		return
	}
	if _, err := c.store.Incr(ctx, c.statsPrefix()+"misses:"+namespace); err != nil {
		c.logger.Warn("failed to record namespace cache miss", "namespace", namespace, "error", err)
	}
	if storedBytes > 0 {
		if _, err := c.store.IncrBy(ctx, c.statsPrefix()+"bytes", storedBytes); err != nil {
			c.logger.Warn("failed to record cache payload size", "namespace", namespace, "error", err)
		}
	}
}

// Stats reads a snapshot of the cache counters. The hit rate is
// hits/(hits+misses), 0 when there has been no traffic.
func (c *Cache) Stats(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{ByNamespace: make(map[string]NamespaceStats)}

	var err error
	if stats.Hits, err = c.readCounter(ctx, c.statsPrefix()+"hits"); err != nil {
		return nil, err
	}
	if stats.Misses, err = c.readCounter(ctx, c.statsPrefix()+"misses"); err != nil {
		return nil, err
	}
	if stats.StoredBytes, err = c.readCounter(ctx, c.statsPrefix()+"bytes"); err != nil {
		return nil, err
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	for _, kind := range []string{"hits", "misses"} {
		keys, err := c.store.ScanKeys(ctx, c.statsPrefix()+kind+":*")
		if err != nil {
			return nil, fmt.Errorf("enumerating %s counters: %w", kind, err)
		}
		for _, key := range keys {
			namespace := strings.TrimPrefix(key, c.statsPrefix()+kind+":")
			count, err := c.readCounter(ctx, key)
			if err != nil {
				return nil, err
			}
			ns := stats.ByNamespace[namespace]
			if kind == "hits" {
				ns.Hits = count
			} else {
				ns.Misses = count
			}
			stats.ByNamespace[namespace] = ns
		}
	}
	return stats, nil
}

// ResetStats clears all counters and returns how many counter keys were
// removed. This is the only way the statistics go backwards.
func (c *Cache) ResetStats(ctx context.Context) (int64, error) {
	keys, err := c.store.ScanKeys(ctx, c.statsPrefix()+"*")
	if err != nil {
		return 0, fmt.Errorf("enumerating stats counters: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := c.store.Del(ctx, keys...)
	if err != nil {
		return removed, fmt.Errorf("deleting stats counters: %w", err)
	}
	return removed, nil
}

func (c *Cache) readCounter(ctx context.Context, key string) (int64, error) {
	value, err := c.store.Get(ctx, key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading counter %s: %w", key, err)
	}
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s holds non-numeric value %q: %w", key, value, err)
	}
	return count, nil
}
