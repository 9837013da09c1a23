package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/bizrank/bizrank/pkg/errors"
)

// VenueRepository reads and writes the canonical venue attribute record,
// stored as one hash per venue id. All fields are written as strings so the
// record stays inspectable with plain store tooling.
type VenueRepository struct {
	store Store
}

// NewVenueRepository creates a repository over the given store.
func NewVenueRepository(store Store) *VenueRepository {
	return &VenueRepository{store: store}
}

// Get loads a venue record. Returns ErrNotFound when no record exists.
func (r *VenueRepository) Get(ctx context.Context, id string) (*Venue, error) {
	fields, err := r.store.HGetAll(ctx, venueKey(id))
	if err != nil {
		return nil, fmt.Errorf("reading venue %s: %w: %v", id, apperrors.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("venue %s: %w", id, apperrors.ErrNotFound)
	}
	return venueFromFields(id, fields)
}

// Put writes the full venue record.
func (r *VenueRepository) Put(ctx context.Context, v *Venue) error {
	categories := "[]"
	if len(v.Categories) > 0 {
		data, err := json.Marshal(v.Categories)
		if err != nil {
			return fmt.Errorf("encoding categories for %s: %w", v.ID, err)
		}
		categories = string(data)
	}
	isOpen := "0"
	if v.IsOpen {
		isOpen = "1"
	}
	fields := map[string]any{
		"name":         v.Name,
		"city":         v.City,
		"state":        v.State,
		"stars":        strconv.FormatFloat(v.Stars, 'f', -1, 64),
		"review_count": strconv.FormatInt(v.ReviewCount, 10),
		"is_open":      isOpen,
		"categories":   categories,
		"last_updated": v.LastUpdated.UTC().Format(time.RFC3339Nano),
	}
	if err := r.store.HSet(ctx, venueKey(v.ID), fields); err != nil {
		return fmt.Errorf("writing venue %s: %w: %v", v.ID, apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

func venueFromFields(id string, fields map[string]string) (*Venue, error) {
	v := &Venue{
		ID:    id,
		Name:  fields["name"],
		City:  fields["city"],
		State: fields["state"],
	}
	if s := fields["stars"]; s != "" {
		stars, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("venue %s has malformed stars %q: %w", id, s, err)
		}
		v.Stars = stars
	}
	if s := fields["review_count"]; s != "" {
		count, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("venue %s has malformed review_count %q: %w", id, s, err)
		}
		v.ReviewCount = count
	}
	v.IsOpen = fields["is_open"] == "1" || fields["is_open"] == "true"
	if s := fields["categories"]; s != "" {
		// Malformed category payloads degrade to no categories rather than
		// failing the read.
		if err := json.Unmarshal([]byte(s), &v.Categories); err != nil {
			v.Categories = nil
		}
	}
	if s := fields["last_updated"]; s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			v.LastUpdated = t
		}
	}
	return v, nil
}
