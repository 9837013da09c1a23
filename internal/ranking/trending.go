package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/bizrank/bizrank/pkg/errors"
	"github.com/bizrank/bizrank/pkg/metrics"
)

// noExpiry is the store's TTL reply for a key that exists without an expiry.
const noExpiry = time.Duration(-1)

// TrendingTracker maintains the time-boxed trending index. The window TTL
// is armed once, on the first increment after the key appears, and is never
// extended by later increments: the whole structure expires (and so clears)
// a fixed interval after first use.
type TrendingTracker struct {
	store   Store
	window  time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewTrendingTracker creates a tracker with the given window lifetime
// (default one hour).
func NewTrendingTracker(store Store, window time.Duration, m *metrics.Metrics) *TrendingTracker {
	if window <= 0 {
		window = time.Hour
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &TrendingTracker{
		store:   store,
		window:  window,
		metrics: m,
		logger:  slog.Default().With("component", "trending"),
	}
}

// Increment bumps the venue's event count in the trending index by one and
// arms the window TTL if the index has none yet.
func (t *TrendingTracker) Increment(ctx context.Context, venueID string) error {
	key := indexKey(IndexTrending)
	if _, err := t.store.ZIncrBy(ctx, key, 1, venueID); err != nil {
		return fmt.Errorf("incrementing trending score for %s: %w: %v", venueID, apperrors.ErrStoreUnavailable, err)
	}
	t.metrics.TrendingIncrements.Inc()

	ttl, err := t.store.TTL(ctx, key)
	if err != nil {
		// The increment landed; arming the window is retried on the next one.
		t.logger.Warn("failed to inspect trending window TTL", "error", err)
		return nil
	}
	if ttl == noExpiry {
		if err := t.store.Expire(ctx, key, t.window); err != nil {
			t.logger.Warn("failed to arm trending window TTL", "error", err)
		}
	}
	return nil
}
