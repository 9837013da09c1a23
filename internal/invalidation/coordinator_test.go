package invalidation

import (
	"context"
	"testing"
	"time"

	"github.com/bizrank/bizrank/internal/cache"
	"github.com/bizrank/bizrank/internal/ranking"
	"github.com/bizrank/bizrank/internal/storetest"
	"github.com/bizrank/bizrank/pkg/config"
	"github.com/bizrank/bizrank/pkg/metrics"
)

func newStack(t *testing.T) (*ranking.Engine, *cache.Cache, *storetest.Fake) {
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
	engine := ranking.NewEngine(fake, c, New(c), m, cfg, 5*time.Minute)
	return engine, c, fake
}

func TestMutationPurgesCachedResults(t *testing.T) {
	ctx := context.Background()
	engine, c, _ := newStack(t)

	v := &ranking.Venue{ID: "v1", Name: "Old Name", City: "Madrid", Stars: 3.0, ReviewCount: 10, IsOpen: true}
	if _, err := engine.Upsert(ctx, v); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	top, err := engine.TopN(ctx, ranking.IndexGlobal, 5)
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	if top[0].Name != "Old Name" {
		t.Fatalf("unexpected name %q", top[0].Name)
	}
	// Second read comes from cache.
	if _, err := engine.TopN(ctx, ranking.IndexGlobal, 5); err != nil {
		t.Fatalf("TopN: %v", err)
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Hits != 1 {
		t.Fatalf("hits = %d, want 1 before mutation", stats.Hits)
	}

	v.Name = "New Name"
	v.Stars = 4.5
	if _, err := engine.Upsert(ctx, v); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	top, err = engine.TopN(ctx, ranking.IndexGlobal, 5)
	if err != nil {
		t.Fatalf("TopN after mutation: %v", err)
	}
	if top[0].Name != "New Name" {
		t.Fatalf("stale cached result survived mutation: name %q", top[0].Name)
	}
	if top[0].Score != 465.0 {
		t.Fatalf("score = %v, want recomputed 465.0", top[0].Score)
	}
}

func TestOldLocationNamespacePurged(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newStack(t)

	v := &ranking.Venue{ID: "mover", Name: "Pastelaria", City: "Lisbon", Stars: 3.0, ReviewCount: 10, IsOpen: true}
	if _, err := engine.Upsert(ctx, v); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	lisbon := ranking.LocationIndex("Lisbon")
	if _, err := engine.TopN(ctx, lisbon, 5); err != nil {
		t.Fatalf("TopN: %v", err)
	}

	v.City = "Porto"
	v.Stars = 4.0
	if _, err := engine.Upsert(ctx, v); err != nil {
		t.Fatalf("Upsert after move: %v", err)
	}

	// The old location keeps its index membership, but its cached page must
	// have been purged so the venue's fresh attributes show through.
	top, err := engine.TopN(ctx, lisbon, 5)
	if err != nil {
		t.Fatalf("TopN(old location): %v", err)
	}
	if len(top) != 1 {
		t.Fatalf("old location lost membership: %d results", len(top))
	}
	if top[0].Stars != 4.0 {
		t.Fatalf("old location served stale attributes: stars %v", top[0].Stars)
	}
}

func TestStatsSurviveInvalidation(t *testing.T) {
	ctx := context.Background()
	engine, c, _ := newStack(t)

	v := &ranking.Venue{ID: "v1", Name: "x", City: "Nice", Stars: 4, ReviewCount: 1, IsOpen: true}
	if _, err := engine.Upsert(ctx, v); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := engine.TopN(ctx, ranking.IndexGlobal, 5); err != nil {
		t.Fatalf("TopN: %v", err)
	}

	before, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if before.Misses == 0 {
		t.Fatal("expected at least one recorded miss")
	}

	// A mutation triggers a broad purge; counter keys must not be swept.
	if _, err := engine.Upsert(ctx, v); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	after, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if after.Misses != before.Misses {
		t.Fatalf("counters changed across purge: %d -> %d", before.Misses, after.Misses)
	}
}

func TestPatternsDeduplicated(t *testing.T) {
	coord := New(nil)
	patterns := coord.patternsFor("v1", "madrid", "madrid", []string{"Tapas", "tapas", ""})

	want := []string{"global:*", "trending:*", "location:madrid:*", "category:tapas:*", "*v1*"}
	if len(patterns) != len(want) {
		t.Fatalf("patterns = %v, want %v", patterns, want)
	}
	for i := range want {
		if patterns[i] != want[i] {
			t.Fatalf("patterns = %v, want %v", patterns, want)
		}
	}
}
