// Package ranking implements the scored ranking engine: it maintains venue
// attribute records, derives scores from them, and propagates those scores
// into the global, per-location, per-category, and trending ordered indices
// kept in the backing store.
package ranking

import (
	"strings"
	"time"
)

// Well-known index names. Location and category indices are derived with
// LocationIndex and CategoryIndex.
const (
	IndexGlobal   = "global"
	IndexTrending = "trending"
)

const (
	venueKeyPrefix = "venue:"
	indexKeyPrefix = "rank:"
	reviewsSuffix  = ":reviews"
	unknownCity    = "unknown"
)

// Venue is the canonical attribute record for a scored entity.
type Venue struct {
	ID          string    `json:"venue_id"`
	Name        string    `json:"name"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	Stars       float64   `json:"stars"`
	ReviewCount int64     `json:"review_count"`
	IsOpen      bool      `json:"is_open"`
	Categories  []string  `json:"categories"`
	LastUpdated time.Time `json:"last_updated"`
}

// LocationTag returns the normalized location tag for the venue, or
// "unknown" when no city is set.
func (v *Venue) LocationTag() string {
	if strings.TrimSpace(v.City) == "" {
		return unknownCity
	}
	return NormalizeTag(v.City)
}

// RankedVenue is a venue enriched with its score and 1-based position
// within a top-N result.
type RankedVenue struct {
	Venue
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// ObservationEntry is one entry of the bounded per-venue observation log.
type ObservationEntry struct {
	Stars      float64   `json:"stars"`
	UserID     string    `json:"user_id,omitempty"`
	TextLength int       `json:"text_length"`
	ObservedAt time.Time `json:"observed_at"`
}

// Observation is a single incoming review observation for a venue.
type Observation struct {
	VenueID string  `json:"venue_id"`
	Stars   float64 `json:"stars"`
	UserID  string  `json:"user_id,omitempty"`
	Text    string  `json:"text,omitempty"`
}

// ObservationResult reports the outcome of RecordObservation.
type ObservationResult struct {
	VenueID     string    `json:"venue_id"`
	NewRating   float64   `json:"new_rating"`
	ReviewCount int64     `json:"review_count"`
	NewScore    float64   `json:"new_score"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ApplyResult reports which ordered indices a score update reached. Index
// updates stop on the first failure; Remaining names the failed index and
// everything after it so a caller can resume just the unfinished sub-step.
type ApplyResult struct {
	Score     float64  `json:"score"`
	Applied   []string `json:"applied"`
	Remaining []string `json:"remaining,omitempty"`
}

// Stats summarises the state of all ordered indices.
type Stats struct {
	TotalIndexes  int              `json:"total_indexes"`
	MembersByType map[string]int64 `json:"members_by_type"`
	TotalVenues   int              `json:"total_venues"`
	AverageScore  float64          `json:"average_score"`
}

// NormalizeTag lowercases a location or category tag and folds separators the
// way index names expect: spaces become underscores and "&" becomes "and".
func NormalizeTag(tag string) string {
	t := strings.ToLower(strings.TrimSpace(tag))
	t = strings.ReplaceAll(t, "&", "and")
	t = strings.Join(strings.Fields(t), "_")
	return t
}

// LocationIndex returns the index name for a location tag.
func LocationIndex(location string) string {
	return "location:" + NormalizeTag(location)
}

// CategoryIndex returns the index name for a category tag.
func CategoryIndex(category string) string {
	return "category:" + NormalizeTag(category)
}

// IndexType returns the leading segment of an index name ("global",
// "location", "category", "trending").
func IndexType(indexName string) string {
	if i := strings.IndexByte(indexName, ':'); i >= 0 {
		return indexName[:i]
	}
	return indexName
}

func venueKey(id string) string {
	return venueKeyPrefix + id
}

func reviewsKey(id string) string {
	return venueKeyPrefix + id + reviewsSuffix
}

func indexKey(indexName string) string {
	return indexKeyPrefix + indexName
}
