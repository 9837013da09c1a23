// Package api exposes the ranking engine, memoization cache, and snapshot
// store over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bizrank/bizrank/internal/cache"
	"github.com/bizrank/bizrank/internal/ranking"
	"github.com/bizrank/bizrank/internal/snapshot"
	apperrors "github.com/bizrank/bizrank/pkg/errors"
	"github.com/bizrank/bizrank/pkg/logger"
)

const defaultLimit = 10

// Handler implements the HTTP endpoints.
type Handler struct {
	engine    *ranking.Engine
	cache     *cache.Cache
	snapshots *snapshot.Store
	logger    *slog.Logger
}

// New creates a Handler. snapshots may be nil when the snapshot store is not
// configured; its endpoints then report 503.
func New(engine *ranking.Engine, c *cache.Cache, snapshots *snapshot.Store) *Handler {
	return &Handler{
		engine:    engine,
		cache:     c,
		snapshots: snapshots,
		logger:    slog.Default().With("component", "api-handler"),
	}
}

// ---------- Venue endpoints ----------

// UpsertVenue creates or replaces a venue's attribute record and reindexes
// its score.
func (h *Handler) UpsertVenue(w http.ResponseWriter, r *http.Request) {
	var v ranking.Venue
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	result, err := h.engine.Upsert(r.Context(), &v)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetVenue returns a venue's current attribute record.
func (h *Handler) GetVenue(w http.ResponseWriter, r *http.Request) {
	v, err := h.engine.Repository().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

// GetObservations returns a venue's recent observation log, newest first.
func (h *Handler) GetObservations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultLimit)
	entries, err := h.engine.Observations(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"venue_id":     r.PathValue("id"),
		"observations": entries,
	})
}

// ---------- Review endpoint ----------

// PostReview folds one review observation into a venue's running average.
// With ?seed=true an unknown venue is seeded with a default record first.
func (h *Handler) PostReview(w http.ResponseWriter, r *http.Request) {
	var obs ranking.Observation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	result, err := h.engine.RecordObservation(r.Context(), obs)
	if errors.Is(err, apperrors.ErrNotFound) && r.URL.Query().Get("seed") == "true" {
		if _, seedErr := h.engine.SeedDefault(r.Context(), obs.VenueID); seedErr != nil {
			h.writeEngineError(w, r, seedErr)
			return
		}
		result, err = h.engine.RecordObservation(r.Context(), obs)
	}
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ---------- Ranking endpoints ----------

// TopRankings returns the top venues of an index (?index=, default global).
func (h *Handler) TopRankings(w http.ResponseWriter, r *http.Request) {
	indexName := r.URL.Query().Get("index")
	if indexName == "" {
		indexName = ranking.IndexGlobal
	}
	limit := queryInt(r, "limit", defaultLimit)
	ranked, err := h.engine.TopN(r.Context(), indexName, limit)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"index":   indexName,
		"count":   len(ranked),
		"results": ranked,
	})
}

// RankPosition returns a venue's 1-based position in an index.
func (h *Handler) RankPosition(w http.ResponseWriter, r *http.Request) {
	indexName := r.URL.Query().Get("index")
	venueID := r.URL.Query().Get("venue_id")
	if indexName == "" || venueID == "" {
		h.writeError(w, http.StatusBadRequest, "index and venue_id query parameters are required")
		return
	}
	pos, err := h.engine.RankPosition(r.Context(), indexName, venueID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"index":    indexName,
		"venue_id": venueID,
		"position": pos,
	})
}

// RankingStats summarises all ordered indices.
func (h *Handler) RankingStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.RankingStats(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Trending returns the venues with the most recent observations.
func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultLimit)
	ranked, err := h.engine.TopTrending(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(ranked),
		"results": ranked,
	})
}

// ---------- Cache endpoints ----------

// CacheStats returns hit/miss/size counters, overall and per namespace.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// CacheInvalidate removes cached entries matching ?pattern=.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		h.writeError(w, http.StatusBadRequest, "pattern query parameter is required")
		return
	}
	removed, err := h.cache.InvalidatePattern(r.Context(), pattern)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// CacheClear removes every cache entry, statistics excluded.
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.ClearAll(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// CacheStatsReset zeroes the hit/miss/size counters.
func (h *Handler) CacheStatsReset(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.ResetStats(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// ---------- Snapshot endpoints ----------

// ListSnapshots returns persisted statistics snapshots, most recent first.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		h.writeError(w, http.StatusServiceUnavailable, "snapshot store is not configured")
		return
	}
	limit := queryInt(r, "limit", 20)
	snapshots, err := h.snapshots.List(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(snapshots),
		"snapshots": snapshots,
	})
}

// LatestSnapshot returns the most recently captured snapshot.
func (h *Handler) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		h.writeError(w, http.StatusServiceUnavailable, "snapshot store is not configured")
		return
	}
	snap, err := h.snapshots.Latest(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// ---------- Helpers ----------

func queryInt(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps sentinel errors to status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.writeError(w, status, err.Error())
}
