package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/bizrank/bizrank/internal/ranking"
	apperrors "github.com/bizrank/bizrank/pkg/errors"
)

type fakeRecorder struct {
	known        map[string]bool
	observations []ranking.Observation
	seeded       []string
	recordErr    error
	seedErr      error
}

func newFakeRecorder(known ...string) *fakeRecorder {
	r := &fakeRecorder{known: make(map[string]bool)}
	for _, id := range known {
		r.known[id] = true
	}
	return r
}

func (r *fakeRecorder) RecordObservation(ctx context.Context, obs ranking.Observation) (*ranking.ObservationResult, error) {
	if r.recordErr != nil {
		return nil, r.recordErr
	}
	if !r.known[obs.VenueID] {
		return nil, fmt.Errorf("venue %s: %w", obs.VenueID, apperrors.ErrNotFound)
	}
	r.observations = append(r.observations, obs)
	return &ranking.ObservationResult{VenueID: obs.VenueID}, nil
}

func (r *fakeRecorder) SeedDefault(ctx context.Context, id string) (*ranking.Venue, error) {
	if r.seedErr != nil {
		return nil, r.seedErr
	}
	r.seeded = append(r.seeded, id)
	r.known[id] = true
	return &ranking.Venue{ID: id}, nil
}

func TestHandleAppliesObservation(t *testing.T) {
	recorder := newFakeRecorder("v1")
	handler := NewProcessor(recorder).Handler()

	payload := []byte(`{"venue_id":"v1","stars":4.5,"user_id":"u9","text":"solid"}`)
	if err := handler(context.Background(), []byte("v1"), payload); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(recorder.observations) != 1 {
		t.Fatalf("recorded %d observations, want 1", len(recorder.observations))
	}
	obs := recorder.observations[0]
	if obs.VenueID != "v1" || obs.Stars != 4.5 || obs.UserID != "u9" {
		t.Fatalf("observation = %+v", obs)
	}
	if len(recorder.seeded) != 0 {
		t.Fatalf("known venue was seeded: %v", recorder.seeded)
	}
}

func TestHandleSeedsUnknownVenue(t *testing.T) {
	recorder := newFakeRecorder()
	handler := NewProcessor(recorder).Handler()

	payload := []byte(`{"venue_id":"new","stars":5}`)
	if err := handler(context.Background(), nil, payload); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(recorder.seeded) != 1 || recorder.seeded[0] != "new" {
		t.Fatalf("seeded = %v, want [new]", recorder.seeded)
	}
	if len(recorder.observations) != 1 {
		t.Fatalf("recorded %d observations after seeding, want 1", len(recorder.observations))
	}
}

func TestHandleDropsPoisonMessages(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"venue_id": `},
		{"missing venue id", `{"stars": 4}`},
		{"empty venue id", `{"venue_id":"","stars":4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := newFakeRecorder("v1")
			handler := NewProcessor(recorder).Handler()
			if err := handler(context.Background(), nil, []byte(tt.payload)); err != nil {
				t.Fatalf("poison message must commit, got %v", err)
			}
			if len(recorder.observations) != 0 {
				t.Fatalf("poison message was applied: %v", recorder.observations)
			}
		})
	}
}

func TestHandleDropsInvalidObservation(t *testing.T) {
	recorder := newFakeRecorder("v1")
	recorder.recordErr = fmt.Errorf("rating out of range: %w", apperrors.ErrInvalidInput)
	handler := NewProcessor(recorder).Handler()

	if err := handler(context.Background(), nil, []byte(`{"venue_id":"v1","stars":4}`)); err != nil {
		t.Fatalf("invalid observation must commit, got %v", err)
	}
}

func TestHandleRetriesFailedSeed(t *testing.T) {
	recorder := newFakeRecorder()
	recorder.seedErr = fmt.Errorf("store down: %w", apperrors.ErrStoreUnavailable)
	handler := NewProcessor(recorder).Handler()

	err := handler(context.Background(), nil, []byte(`{"venue_id":"new","stars":4}`))
	if err == nil {
		t.Fatal("failed seed must error so the consumer retries the message")
	}
	if len(recorder.observations) != 0 {
		t.Fatalf("observation applied despite failed seed: %v", recorder.observations)
	}
}

func TestHandleCommitsPartialFailure(t *testing.T) {
	recorder := newFakeRecorder("v1")
	recorder.recordErr = fmt.Errorf("index update failed: %w", apperrors.ErrStoreUnavailable)
	handler := NewProcessor(recorder).Handler()

	// A post-write failure may have double-count risk on redelivery, so the
	// message is committed anyway.
	if err := handler(context.Background(), nil, []byte(`{"venue_id":"v1","stars":4}`)); err != nil {
		t.Fatalf("partial failure must commit, got %v", err)
	}
}
