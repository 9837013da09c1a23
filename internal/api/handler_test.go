package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bizrank/bizrank/internal/cache"
	"github.com/bizrank/bizrank/internal/invalidation"
	"github.com/bizrank/bizrank/internal/ranking"
	"github.com/bizrank/bizrank/internal/storetest"
	"github.com/bizrank/bizrank/pkg/config"
	"github.com/bizrank/bizrank/pkg/health"
	"github.com/bizrank/bizrank/pkg/metrics"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	fake := storetest.New()
	m := metrics.NewUnregistered()
	c := cache.New(fake, "cache", m)
	cfg := config.RankingConfig{
		WeightRating:     100,
		WeightPopularity: 10,
		WeightOpen:       5,
		MaxCategories:    3,
		ObservationLog:   100,
		TrendingWindow:   time.Hour,
	}
	engine := ranking.NewEngine(fake, c, invalidation.New(c), m, cfg, 5*time.Minute)
	handler := New(engine, c, nil)
	srv := httptest.NewServer(NewRouter(handler, health.NewChecker(), m, 5*time.Second))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding GET %s response: %v", url, err)
		}
	}
	return resp
}

func TestUpsertAndTopRankings(t *testing.T) {
	srv := newTestServer(t)

	venues := []string{
		`{"venue_id":"v1","name":"Casa Lucio","city":"Madrid","stars":4.5,"review_count":100,"is_open":true,"categories":["Spanish"]}`,
		`{"venue_id":"v2","name":"Bar Pinotxo","city":"Barcelona","stars":4.0,"review_count":50,"is_open":true}`,
	}
	for _, body := range venues {
		if resp := postJSON(t, srv.URL+"/api/v1/venues", body); resp.StatusCode != http.StatusOK {
			t.Fatalf("upsert status = %d", resp.StatusCode)
		}
	}

	var page struct {
		Index   string                `json:"index"`
		Count   int                   `json:"count"`
		Results []ranking.RankedVenue `json:"results"`
	}
	resp := getJSON(t, srv.URL+"/api/v1/rankings/top?limit=5", &page)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("top status = %d", resp.StatusCode)
	}
	if page.Index != "global" || page.Count != 2 {
		t.Fatalf("page = %+v", page)
	}
	if page.Results[0].ID != "v1" || page.Results[0].Rank != 1 {
		t.Fatalf("unexpected leader: %+v", page.Results[0])
	}

	var v ranking.Venue
	if resp := getJSON(t, srv.URL+"/api/v1/venues/v2", &v); resp.StatusCode != http.StatusOK {
		t.Fatalf("get venue status = %d", resp.StatusCode)
	}
	if v.Name != "Bar Pinotxo" {
		t.Fatalf("venue = %+v", v)
	}
}

func TestUpsertRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"venue_id": `},
		{"missing id", `{"name":"x","stars":4}`},
		{"negative review count", `{"venue_id":"v1","review_count":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/v1/venues", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestPostReviewSeedsWhenAsked(t *testing.T) {
	srv := newTestServer(t)
	body := `{"venue_id":"fresh","stars":5,"user_id":"u1"}`

	if resp := postJSON(t, srv.URL+"/api/v1/reviews", body); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("review for unknown venue status = %d, want 404", resp.StatusCode)
	}

	resp := postJSON(t, srv.URL+"/api/v1/reviews?seed=true", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seeded review status = %d", resp.StatusCode)
	}
	var result ranking.ObservationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.NewRating != 5 || result.ReviewCount != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestRankPositionEndpoint(t *testing.T) {
	srv := newTestServer(t)

	if resp := getJSON(t, srv.URL+"/api/v1/rankings/position?index=global&venue_id=v1", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("empty index status = %d, want 404", resp.StatusCode)
	}
	if resp := getJSON(t, srv.URL+"/api/v1/rankings/position?index=global", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing venue_id status = %d, want 400", resp.StatusCode)
	}

	postJSON(t, srv.URL+"/api/v1/venues", `{"venue_id":"v1","name":"x","city":"Nice","stars":4,"review_count":1,"is_open":true}`)

	var pos struct {
		Position int64 `json:"position"`
	}
	resp := getJSON(t, srv.URL+"/api/v1/rankings/position?index=global&venue_id=v1", &pos)
	if resp.StatusCode != http.StatusOK || pos.Position != 1 {
		t.Fatalf("status = %d position = %d", resp.StatusCode, pos.Position)
	}
}

func TestCacheEndpoints(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv.URL+"/api/v1/venues", `{"venue_id":"v1","name":"x","city":"Nice","stars":4,"review_count":1,"is_open":true}`)
	getJSON(t, srv.URL+"/api/v1/rankings/top", nil)
	getJSON(t, srv.URL+"/api/v1/rankings/top", nil)

	var stats cache.Statistics
	if resp := getJSON(t, srv.URL+"/api/v1/cache/stats", &stats); resp.StatusCode != http.StatusOK {
		t.Fatalf("cache stats status = %d", resp.StatusCode)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("stats = %+v, want one hit and one miss", stats)
	}

	if resp := postJSON(t, srv.URL+"/api/v1/cache/invalidate", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalidate without pattern status = %d, want 400", resp.StatusCode)
	}

	resp := postJSON(t, srv.URL+"/api/v1/cache/clear", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
	var cleared struct {
		Removed int64 `json:"removed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cleared); err != nil {
		t.Fatalf("decoding clear response: %v", err)
	}
	if cleared.Removed != 1 {
		t.Fatalf("cleared %d entries, want 1", cleared.Removed)
	}

	if resp := postJSON(t, srv.URL+"/api/v1/cache/stats/reset", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("stats reset status = %d", resp.StatusCode)
	}
	if resp := getJSON(t, srv.URL+"/api/v1/cache/stats", &stats); resp.StatusCode != http.StatusOK {
		t.Fatalf("cache stats status = %d", resp.StatusCode)
	}
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Fatalf("stats after reset = %+v", stats)
	}
}

func TestSnapshotsUnavailableWithoutStore(t *testing.T) {
	srv := newTestServer(t)
	if resp := getJSON(t, srv.URL+"/api/v1/snapshots", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("snapshots status = %d, want 503", resp.StatusCode)
	}
	if resp := getJSON(t, srv.URL+"/api/v1/snapshots/latest", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("latest snapshot status = %d, want 503", resp.StatusCode)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	srv := newTestServer(t)
	resp := getJSON(t, srv.URL+"/health/live", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("liveness status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID header not set")
	}
}
