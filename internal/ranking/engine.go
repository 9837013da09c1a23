package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bizrank/bizrank/internal/cache"
	"github.com/bizrank/bizrank/pkg/config"
	apperrors "github.com/bizrank/bizrank/pkg/errors"
	"github.com/bizrank/bizrank/pkg/metrics"
	pkgredis "github.com/bizrank/bizrank/pkg/redis"
)

// CacheInvalidator purges cached query results affected by a venue
// mutation. Implemented by invalidation.Coordinator.
type CacheInvalidator interface {
	OnVenueChanged(ctx context.Context, venueID, oldLocation, newLocation string, categories []string) int64
}

// Engine owns the set of named ordered indices. On every venue mutation it
// recomputes the score and propagates it into the global index, the venue's
// location index, and up to MaxCategories of its category indices.
//
// Consistency: each index update is atomic on its own key, but the group of
// index updates for one venue is not atomic as a whole. A concurrent reader
// may observe a venue updated in "global" but not yet in its location index;
// the window closes within a single Upsert call. Membership in old location
// or category indices is never pruned when those attributes change.
type Engine struct {
	store       Store
	repo        *VenueRepository
	weights     Weights
	resultCache *cache.Cache
	invalidator CacheInvalidator
	trending    *TrendingTracker
	metrics     *metrics.Metrics

	maxCategories  int
	observationLog int
	cacheTTL       time.Duration

	logger *slog.Logger
}

// NewEngine creates an Engine. resultCache and invalidator may be nil, in
// which case top-N queries go straight to the store and no cache purging
// happens on mutation.
func NewEngine(store Store, resultCache *cache.Cache, invalidator CacheInvalidator, m *metrics.Metrics, cfg config.RankingConfig, cacheTTL time.Duration) *Engine {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	weights := Weights{Rating: cfg.WeightRating, Popularity: cfg.WeightPopularity, OpenBonus: cfg.WeightOpen}
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	maxCategories := cfg.MaxCategories
	if maxCategories == 0 {
		maxCategories = 3
	}
	observationLog := cfg.ObservationLog
	if observationLog <= 0 {
		observationLog = 100
	}
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Engine{
		store:          store,
		repo:           NewVenueRepository(store),
		weights:        weights,
		resultCache:    resultCache,
		invalidator:    invalidator,
		trending:       NewTrendingTracker(store, cfg.TrendingWindow, m),
		metrics:        m,
		maxCategories:  maxCategories,
		observationLog: observationLog,
		cacheTTL:       cacheTTL,
		logger:         slog.Default().With("component", "ranking-engine"),
	}
}

// Repository exposes the venue repository for read-only collaborators.
func (e *Engine) Repository() *VenueRepository {
	return e.repo
}

// Upsert writes the venue record, recomputes its score, and applies it to
// every index the venue belongs to. Validation happens before any write, so
// invalid input leaves prior state untouched. On a partial index failure the
// returned ApplyResult names the indices that were reached.
func (e *Engine) Upsert(ctx context.Context, v *Venue) (*ApplyResult, error) {
	if err := validateVenue(v); err != nil {
		return nil, err
	}

	oldLocation := ""
	existing, err := e.repo.Get(ctx, v.ID)
	switch {
	case err == nil:
		oldLocation = existing.LocationTag()
	case errors.Is(err, apperrors.ErrNotFound):
	default:
		return nil, err
	}

	v.LastUpdated = time.Now().UTC()
	if err := e.repo.Put(ctx, v); err != nil {
		return nil, err
	}

	score := e.weights.Score(v)
	result, applyErr := e.ApplyScore(ctx, v.ID, score, e.IndexesFor(v))

	// Purge cached query results even when the index group update failed
	// part-way: the attribute record has already changed.
	e.invalidate(ctx, v, oldLocation)

	if applyErr != nil {
		return &result, applyErr
	}
	e.logger.Debug("venue upserted", "venue_id", v.ID, "score", score, "indexes", result.Applied)
	return &result, nil
}

// SeedDefault creates the default record for a venue that has observations
// before any canonical attributes: rating 0, no reviews, closed, unknown
// location.
func (e *Engine) SeedDefault(ctx context.Context, id string) (*Venue, error) {
	if id == "" {
		return nil, fmt.Errorf("venue id is required: %w", apperrors.ErrInvalidInput)
	}
	v := &Venue{ID: id, Name: "Unknown", City: unknownCity}
	if _, err := e.Upsert(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// RecordObservation folds one observed rating into the venue's running
// average, increments its popularity, re-scores it, appends to the bounded
// observation log, and bumps the trending window.
//
// The call is not idempotent: retrying a cancelled call double-counts the
// observation. Callers that need to resume a partially applied update should
// retry only the failed index sub-step via ApplyScore, using the returned
// ApplyResult of the underlying Upsert.
func (e *Engine) RecordObservation(ctx context.Context, obs Observation) (*ObservationResult, error) {
	if obs.VenueID == "" {
		return nil, fmt.Errorf("venue id is required: %w", apperrors.ErrInvalidInput)
	}
	if math.IsNaN(obs.Stars) || math.IsInf(obs.Stars, 0) {
		return nil, fmt.Errorf("observed rating must be finite: %w", apperrors.ErrInvalidInput)
	}

	v, err := e.repo.Get(ctx, obs.VenueID)
	if err != nil {
		return nil, err
	}

	newRating := (v.Stars*float64(v.ReviewCount) + obs.Stars) / float64(v.ReviewCount+1)
	v.Stars = math.Round(newRating*100) / 100
	v.ReviewCount++

	applyRes, err := e.Upsert(ctx, v)
	if err != nil {
		return nil, err
	}

	// Observation-log writes are instrumentation: failures are logged and
	// never fail the primary operation.
	e.appendObservation(ctx, obs)

	if err := e.trending.Increment(ctx, obs.VenueID); err != nil {
		return nil, fmt.Errorf("trending increment for %s: %w", obs.VenueID, err)
	}

	e.metrics.ObservationsTotal.Inc()
	return &ObservationResult{
		VenueID:     v.ID,
		NewRating:   v.Stars,
		ReviewCount: v.ReviewCount,
		NewScore:    applyRes.Score,
		UpdatedAt:   v.LastUpdated,
	}, nil
}

// ApplyScore writes a score into the given indices one key at a time,
// stopping at the first failure. It is exported so callers can resume the
// unfinished sub-step of a partially applied update.
func (e *Engine) ApplyScore(ctx context.Context, venueID string, score float64, indexes []string) (ApplyResult, error) {
	result := ApplyResult{Score: score, Applied: make([]string, 0, len(indexes))}
	for i, name := range indexes {
		if err := e.store.ZAdd(ctx, indexKey(name), venueID, score); err != nil {
			result.Remaining = indexes[i:]
			e.metrics.RankingUpdatesTotal.WithLabelValues(IndexType(name), "error").Inc()
			return result, fmt.Errorf("updating index %s for %s: %w: %v",
				name, venueID, apperrors.ErrStoreUnavailable, err)
		}
		result.Applied = append(result.Applied, name)
		e.metrics.RankingUpdatesTotal.WithLabelValues(IndexType(name), "ok").Inc()
	}
	return result, nil
}

// IndexesFor returns the ordered indices a venue's score is applied to:
// global, the location index (unless the location is unknown), and the first
// MaxCategories category indices.
func (e *Engine) IndexesFor(v *Venue) []string {
	indexes := []string{IndexGlobal}
	if loc := v.LocationTag(); loc != unknownCity {
		indexes = append(indexes, LocationIndex(v.City))
	}
	categories := v.Categories
	if len(categories) > e.maxCategories {
		categories = categories[:e.maxCategories]
	}
	for _, cat := range categories {
		if NormalizeTag(cat) == "" {
			continue
		}
		indexes = append(indexes, CategoryIndex(cat))
	}
	return indexes
}

// TopN returns up to n venues from the named index in descending score
// order, ties broken by ascending venue id, each enriched with its current
// attribute snapshot. Results are memoized under the index's namespace.
func (e *Engine) TopN(ctx context.Context, indexName string, n int) ([]RankedVenue, error) {
	if indexName == "" {
		return nil, fmt.Errorf("index name is required: %w", apperrors.ErrInvalidInput)
	}
	if n <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d: %w", n, apperrors.ErrInvalidInput)
	}
	if e.resultCache == nil {
		return e.fetchTopN(ctx, indexName, n)
	}
	result, _, err := cache.GetOrCompute(ctx, e.resultCache, indexName, "top_n",
		[]any{n}, nil, e.cacheTTL,
		func(ctx context.Context) ([]RankedVenue, error) {
			return e.fetchTopN(ctx, indexName, n)
		})
	return result, err
}

// TopTrending returns the venues with the most observations in the current
// trending window.
func (e *Engine) TopTrending(ctx context.Context, n int) ([]RankedVenue, error) {
	return e.TopN(ctx, IndexTrending, n)
}

func (e *Engine) fetchTopN(ctx context.Context, indexName string, n int) ([]RankedVenue, error) {
	members, err := e.store.ZRevRangeWithScores(ctx, indexKey(indexName), 0, int64(n-1))
	if err != nil {
		return nil, fmt.Errorf("reading index %s: %w: %v", indexName, apperrors.ErrStoreUnavailable, err)
	}
	// The store breaks score ties in reverse lexicographic member order, so
	// a tie group straddling the page boundary surfaces the wrong ids. Pull
	// the full boundary score band before sorting and truncating.
	if len(members) == n {
		boundary := members[n-1].Score
		band, err := e.store.ZRangeByScore(ctx, indexKey(indexName), boundary, boundary)
		if err != nil {
			return nil, fmt.Errorf("reading index %s score band: %w: %v", indexName, apperrors.ErrStoreUnavailable, err)
		}
		seen := make(map[string]struct{}, len(members))
		for _, m := range members {
			seen[m.Member] = struct{}{}
		}
		for _, id := range band {
			if _, ok := seen[id]; !ok {
				members = append(members, pkgredis.ZMember{Member: id, Score: boundary})
			}
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score > members[j].Score
		}
		return members[i].Member < members[j].Member
	})
	if len(members) > n {
		members = members[:n]
	}

	ranked := make([]RankedVenue, 0, len(members))
	for _, m := range members {
		v, err := e.repo.Get(ctx, m.Member)
		if errors.Is(err, apperrors.ErrNotFound) {
			// Index member without an attribute record; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, RankedVenue{Venue: *v, Score: m.Score, Rank: len(ranked) + 1})
	}
	return ranked, nil
}

// RankPosition returns the 1-based position of a venue in the named index
// (1 = highest score). It fails with ErrNotFound when the index has no
// members or the venue is absent from it.
func (e *Engine) RankPosition(ctx context.Context, indexName string, venueID string) (int64, error) {
	card, err := e.store.ZCard(ctx, indexKey(indexName))
	if err != nil {
		return 0, fmt.Errorf("reading index %s cardinality: %w: %v", indexName, apperrors.ErrStoreUnavailable, err)
	}
	if card == 0 {
		return 0, fmt.Errorf("index %s has no members: %w", indexName, apperrors.ErrNotFound)
	}
	rank, err := e.store.ZRevRank(ctx, indexKey(indexName), venueID)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return 0, fmt.Errorf("venue %s not present in index %s: %w", venueID, indexName, apperrors.ErrNotFound)
		}
		return 0, fmt.Errorf("reading rank of %s in %s: %w: %v", venueID, indexName, apperrors.ErrStoreUnavailable, err)
	}
	return rank + 1, nil
}

// Observations returns up to limit entries of the venue's bounded
// observation log, most recent first.
func (e *Engine) Observations(ctx context.Context, venueID string, limit int) ([]ObservationEntry, error) {
	if limit <= 0 {
		limit = e.observationLog
	}
	if _, err := e.repo.Get(ctx, venueID); err != nil {
		return nil, err
	}
	raw, err := e.store.LRange(ctx, reviewsKey(venueID), 0, int64(limit-1))
	if err != nil {
		return nil, fmt.Errorf("reading observation log for %s: %w: %v", venueID, apperrors.ErrStoreUnavailable, err)
	}
	entries := make([]ObservationEntry, 0, len(raw))
	for _, item := range raw {
		var entry ObservationEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			e.logger.Warn("skipping malformed observation log entry", "venue_id", venueID, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RankingStats summarises all ordered indices: key counts by type, total
// venues, and the average global score.
func (e *Engine) RankingStats(ctx context.Context) (*Stats, error) {
	indexKeys, err := e.store.ScanKeys(ctx, indexKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("enumerating indices: %w: %v", apperrors.ErrStoreUnavailable, err)
	}
	stats := &Stats{
		TotalIndexes:  len(indexKeys),
		MembersByType: make(map[string]int64),
	}
	for _, key := range indexKeys {
		name := strings.TrimPrefix(key, indexKeyPrefix)
		card, err := e.store.ZCard(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("reading cardinality of %s: %w: %v", name, apperrors.ErrStoreUnavailable, err)
		}
		stats.MembersByType[IndexType(name)] += card
	}

	venueKeys, err := e.store.ScanKeys(ctx, venueKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("enumerating venues: %w: %v", apperrors.ErrStoreUnavailable, err)
	}
	for _, key := range venueKeys {
		if !strings.HasSuffix(key, reviewsSuffix) {
			stats.TotalVenues++
		}
	}

	members, err := e.store.ZRevRangeWithScores(ctx, indexKey(IndexGlobal), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("reading global index: %w: %v", apperrors.ErrStoreUnavailable, err)
	}
	if len(members) > 0 {
		var sum float64
		for _, m := range members {
			sum += m.Score
		}
		stats.AverageScore = sum / float64(len(members))
	}
	return stats, nil
}

func (e *Engine) invalidate(ctx context.Context, v *Venue, oldLocation string) {
	if e.invalidator == nil {
		return
	}
	purged := e.invalidator.OnVenueChanged(ctx, v.ID, oldLocation, v.LocationTag(), v.Categories)
	if purged > 0 {
		e.logger.Debug("cache entries purged", "venue_id", v.ID, "count", purged)
	}
}

func (e *Engine) appendObservation(ctx context.Context, obs Observation) {
	entry := ObservationEntry{
		Stars:      obs.Stars,
		UserID:     obs.UserID,
		TextLength: len(obs.Text),
		ObservedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		e.logger.Warn("failed to encode observation log entry", "venue_id", obs.VenueID, "error", err)
		return
	}
	key := reviewsKey(obs.VenueID)
	if err := e.store.LPush(ctx, key, string(data)); err != nil {
		e.logger.Warn("failed to append observation log", "venue_id", obs.VenueID, "error", err)
		return
	}
	if err := e.store.LTrim(ctx, key, 0, int64(e.observationLog-1)); err != nil {
		e.logger.Warn("failed to trim observation log", "venue_id", obs.VenueID, "error", err)
	}
}

func validateVenue(v *Venue) error {
	if v == nil || v.ID == "" {
		return fmt.Errorf("venue id is required: %w", apperrors.ErrInvalidInput)
	}
	if math.IsNaN(v.Stars) || math.IsInf(v.Stars, 0) {
		return fmt.Errorf("venue %s rating must be finite: %w", v.ID, apperrors.ErrInvalidInput)
	}
	if v.ReviewCount < 0 {
		return fmt.Errorf("venue %s review count must be non-negative: %w", v.ID, apperrors.ErrInvalidInput)
	}
	return nil
}
