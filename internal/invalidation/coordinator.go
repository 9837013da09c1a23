// Package invalidation keeps the memoization cache coherent with the
// ranking indices: whenever a venue mutation lands, it purges the cached
// query results whose namespace or key text could reference the mutated
// venue, its old or new location, or its categories.
//
// Purging is best-effort pattern deletion over the cache's naming
// convention, not a dependency graph: keys outside the convention are not
// tracked, and a failed purge only shortens cache TTL correctness, never
// engine correctness.
package invalidation

import (
	"context"
	"log/slog"

	"github.com/bizrank/bizrank/internal/cache"
	"github.com/bizrank/bizrank/internal/ranking"
	"github.com/bizrank/bizrank/pkg/logger"
)

// Coordinator purges affected cache namespaces on venue mutation.
type Coordinator struct {
	cache  *cache.Cache
	logger *slog.Logger
}

// New creates a Coordinator over the given cache.
func New(c *cache.Cache) *Coordinator {
	return &Coordinator{
		cache:  c,
		logger: logger.WithComponent("invalidation"),
	}
}

// OnVenueChanged removes cached results for the global and trending
// namespaces, the venue's old and new location namespaces, each of its
// category namespaces, and any key whose text contains the venue id.
// It returns the number of keys removed; individual purge failures are
// logged and skipped.
func (c *Coordinator) OnVenueChanged(ctx context.Context, venueID, oldLocation, newLocation string, categories []string) int64 {
	patterns := c.patternsFor(venueID, oldLocation, newLocation, categories)

	var total int64
	for _, pattern := range patterns {
		removed, err := c.cache.InvalidatePattern(ctx, pattern)
		if err != nil {
			c.logger.Warn("cache purge failed",
				"venue_id", venueID,
				"pattern", pattern,
				"error", err,
			)
			continue
		}
		total += removed
	}
	return total
}

func (c *Coordinator) patternsFor(venueID, oldLocation, newLocation string, categories []string) []string {
	seen := make(map[string]struct{})
	patterns := make([]string, 0, len(categories)+5)
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		patterns = append(patterns, p)
	}

	add(ranking.IndexGlobal + ":*")
	add(ranking.IndexTrending + ":*")
	for _, loc := range []string{oldLocation, newLocation} {
		if loc == "" {
			continue
		}
		add(ranking.LocationIndex(loc) + ":*")
	}
	for _, cat := range categories {
		if ranking.NormalizeTag(cat) == "" {
			continue
		}
		add(ranking.CategoryIndex(cat) + ":*")
	}
	if venueID != "" {
		add("*" + venueID + "*")
	}
	return patterns
}
