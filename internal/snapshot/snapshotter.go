package snapshot

import (
	"context"
	"log/slog"
	"time"

	"github.com/bizrank/bizrank/internal/cache"
	"github.com/bizrank/bizrank/internal/ranking"
	"github.com/bizrank/bizrank/pkg/logger"
	"github.com/bizrank/bizrank/pkg/metrics"
	"github.com/bizrank/bizrank/pkg/resilience"
)

const captureTimeout = 15 * time.Second

// StatsSource is the slice of the ranking engine the snapshotter reads.
type StatsSource interface {
	RankingStats(ctx context.Context) (*ranking.Stats, error)
}

// Snapshotter captures ranking and cache statistics on a fixed interval.
type Snapshotter struct {
	source   StatsSource
	cache    *cache.Cache
	store    *Store
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Snapshotter. interval defaults to five minutes.
func New(source StatsSource, c *cache.Cache, store *Store, interval time.Duration, m *metrics.Metrics) *Snapshotter {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Snapshotter{
		source:   source,
		cache:    c,
		store:    store,
		interval: interval,
		metrics:  m,
		logger:   logger.WithComponent("snapshotter"),
	}
}

// Run captures snapshots until ctx is cancelled. A failed capture is logged
// and the loop continues; the next tick tries again.
func (s *Snapshotter) Run(ctx context.Context) {
	s.logger.Info("snapshotter started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("snapshotter stopping")
			return
		case <-ticker.C:
			if err := s.Capture(ctx); err != nil {
				s.metrics.SnapshotsTotal.WithLabelValues("error").Inc()
				s.logger.Error("snapshot capture failed", "error", err)
				continue
			}
			s.metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
		}
	}
}

// Capture reads current statistics and persists one snapshot.
func (s *Snapshotter) Capture(ctx context.Context) error {
	return resilience.WithTimeout(ctx, captureTimeout, "snapshot capture", func(ctx context.Context) error {
		rankingStats, err := s.source.RankingStats(ctx)
		if err != nil {
			return err
		}
		cacheStats, err := s.cache.Stats(ctx)
		if err != nil {
			return err
		}
		snap := &Snapshot{
			Ranking:    rankingStats,
			Cache:      cacheStats,
			CapturedAt: time.Now().UTC(),
		}
		id, err := s.store.Save(ctx, snap)
		if err != nil {
			return err
		}
		s.logger.Debug("snapshot captured", "id", id,
			"venues", rankingStats.TotalVenues, "cache_hits", cacheStats.Hits)
		return nil
	})
}
