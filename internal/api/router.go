package api

import (
	"net/http"
	"time"

	"github.com/bizrank/bizrank/pkg/health"
	"github.com/bizrank/bizrank/pkg/metrics"
	"github.com/bizrank/bizrank/pkg/middleware"
)

// NewRouter wires all routes and applies the middleware chain.
//
// Route table:
//
//	POST /api/v1/venues                      → upsert venue + reindex
//	GET  /api/v1/venues/{id}                 → venue attribute record
//	GET  /api/v1/venues/{id}/observations    → bounded observation log
//	POST /api/v1/reviews                     → record review observation
//	GET  /api/v1/rankings/top                → top N of an index
//	GET  /api/v1/rankings/position           → venue position in an index
//	GET  /api/v1/rankings/stats              → index summary
//	GET  /api/v1/trending                    → trending window top N
//	GET  /api/v1/cache/stats                 → cache counters
//	POST /api/v1/cache/invalidate            → pattern invalidation
//	POST /api/v1/cache/clear                 → drop all entries
//	POST /api/v1/cache/stats/reset           → zero counters
//	GET  /api/v1/snapshots                   → persisted snapshots
//	GET  /api/v1/snapshots/latest            → most recent snapshot
//	GET  /health/live, /health/ready         → liveness and readiness
//
// Middleware chain (outermost first): RequestID → Metrics → Timeout → mux.
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, requestTimeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("POST /api/v1/venues", h.UpsertVenue)
	mux.HandleFunc("GET /api/v1/venues/{id}", h.GetVenue)
	mux.HandleFunc("GET /api/v1/venues/{id}/observations", h.GetObservations)

	mux.HandleFunc("POST /api/v1/reviews", h.PostReview)

	mux.HandleFunc("GET /api/v1/rankings/top", h.TopRankings)
	mux.HandleFunc("GET /api/v1/rankings/position", h.RankPosition)
	mux.HandleFunc("GET /api/v1/rankings/stats", h.RankingStats)
	mux.HandleFunc("GET /api/v1/trending", h.Trending)

	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("POST /api/v1/cache/clear", h.CacheClear)
	mux.HandleFunc("POST /api/v1/cache/stats/reset", h.CacheStatsReset)

	mux.HandleFunc("GET /api/v1/snapshots", h.ListSnapshots)
	mux.HandleFunc("GET /api/v1/snapshots/latest", h.LatestSnapshot)

	var chain http.Handler = mux
	chain = middleware.Timeout(requestTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)
	return chain
}
