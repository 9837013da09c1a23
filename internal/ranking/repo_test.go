package ranking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bizrank/bizrank/internal/storetest"
	apperrors "github.com/bizrank/bizrank/pkg/errors"
)

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewVenueRepository(storetest.New())

	in := &Venue{
		ID:          "v1",
		Name:        "Ramen Ya",
		City:        "Osaka",
		State:       "OS",
		Stars:       4.25,
		ReviewCount: 37,
		IsOpen:      true,
		Categories:  []string{"Ramen", "Noodles"},
		LastUpdated: time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC),
	}
	if err := repo.Put(ctx, in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	out, err := repo.Get(ctx, "v1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Name != in.Name || out.City != in.City || out.State != in.State {
		t.Fatalf("attributes differ: %+v", out)
	}
	if out.Stars != 4.25 || out.ReviewCount != 37 || !out.IsOpen {
		t.Fatalf("numeric fields differ: %+v", out)
	}
	if len(out.Categories) != 2 || out.Categories[0] != "Ramen" {
		t.Fatalf("categories = %v", out.Categories)
	}
	if !out.LastUpdated.Equal(in.LastUpdated) {
		t.Fatalf("last updated = %v, want %v", out.LastUpdated, in.LastUpdated)
	}
}

func TestRepositoryGetMissing(t *testing.T) {
	repo := NewVenueRepository(storetest.New())
	if _, err := repo.Get(context.Background(), "ghost"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRepositoryMalformedNumericFields(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	repo := NewVenueRepository(fake)

	if err := fake.HSet(ctx, "venue:bad", map[string]any{"name": "x", "stars": "four"}); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if _, err := repo.Get(ctx, "bad"); err == nil {
		t.Fatal("malformed stars must fail the read")
	}

	if err := fake.HSet(ctx, "venue:bad2", map[string]any{"name": "x", "review_count": "many"}); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if _, err := repo.Get(ctx, "bad2"); err == nil {
		t.Fatal("malformed review_count must fail the read")
	}
}

func TestRepositoryMalformedCategoriesDegrade(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	repo := NewVenueRepository(fake)

	fields := map[string]any{
		"name":       "x",
		"stars":      "4",
		"categories": "not-json",
	}
	if err := fake.HSet(ctx, "venue:v1", fields); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	v, err := repo.Get(ctx, "v1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.Categories != nil {
		t.Fatalf("categories = %v, want nil on malformed payload", v.Categories)
	}
	if v.Stars != 4 {
		t.Fatalf("stars = %v", v.Stars)
	}
}
