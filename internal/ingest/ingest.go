// Package ingest consumes review events from Kafka and folds them into the
// ranking engine. Delivery is at-most-once per applied observation: only a
// failure that happens before any engine write makes the handler error so
// the consumer retries the message, because a redelivered observation would
// double-count in the running average.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/bizrank/bizrank/internal/ranking"
	apperrors "github.com/bizrank/bizrank/pkg/errors"
	"github.com/bizrank/bizrank/pkg/kafka"
	"github.com/bizrank/bizrank/pkg/logger"
)

// ReviewEvent is the wire format of one review observation.
type ReviewEvent struct {
	VenueID string  `json:"venue_id"`
	Stars   float64 `json:"stars"`
	UserID  string  `json:"user_id,omitempty"`
	Text    string  `json:"text,omitempty"`
}

// Recorder is the slice of the ranking engine the ingest path uses.
type Recorder interface {
	RecordObservation(ctx context.Context, obs ranking.Observation) (*ranking.ObservationResult, error)
	SeedDefault(ctx context.Context, id string) (*ranking.Venue, error)
}

// Processor turns Kafka review events into engine observations.
type Processor struct {
	recorder Recorder
	logger   *slog.Logger
}

// NewProcessor creates a Processor over the given recorder.
func NewProcessor(recorder Recorder) *Processor {
	return &Processor{
		recorder: recorder,
		logger:   logger.WithComponent("ingest"),
	}
}

// Handler returns the message handler for the review-events topic.
func (p *Processor) Handler() kafka.MessageHandler {
	return p.handle
}

// handle decodes and applies one review event.
//
// Poison messages (undecodable payloads, missing or invalid fields) are
// logged and committed so they never wedge the partition. Observations for
// venues without an attribute record first seed the default record, then
// apply. Engine failures after the first write are also committed: the
// observation may be partially applied and reapplying would double-count.
// Only a failed seed, which writes nothing observation-shaped, returns the
// error so the consumer retries the same message.
func (p *Processor) handle(ctx context.Context, key, value []byte) error {
	var event ReviewEvent
	if err := json.Unmarshal(value, &event); err != nil {
		p.logger.Warn("dropping undecodable review event", "key", string(key), "error", err)
		return nil
	}
	if event.VenueID == "" {
		p.logger.Warn("dropping review event without venue id", "key", string(key))
		return nil
	}

	obs := ranking.Observation{
		VenueID: event.VenueID,
		Stars:   event.Stars,
		UserID:  event.UserID,
		Text:    event.Text,
	}
	_, err := p.recorder.RecordObservation(ctx, obs)
	if errors.Is(err, apperrors.ErrNotFound) {
		if _, seedErr := p.recorder.SeedDefault(ctx, event.VenueID); seedErr != nil {
			return seedErr
		}
		_, err = p.recorder.RecordObservation(ctx, obs)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrInvalidInput):
		p.logger.Warn("dropping invalid review event", "venue_id", event.VenueID, "error", err)
		return nil
	default:
		p.logger.Error("review event partially applied, committing anyway",
			"venue_id", event.VenueID, "error", err)
		return nil
	}
}
