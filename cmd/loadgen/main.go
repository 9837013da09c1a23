// Command loadgen publishes synthetic review events to Kafka so the ingest
// path and trending window can be exercised without real traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bizrank/bizrank/internal/ingest"
	"github.com/bizrank/bizrank/pkg/config"
	"github.com/bizrank/bizrank/pkg/kafka"
	"github.com/bizrank/bizrank/pkg/logger"
)

var reviewTexts = []string{
	"great spot, would come back",
	"service was slow but the food made up for it",
	"overpriced for what you get",
	"hidden gem",
	"average at best",
	"the best in town by a wide margin",
	"closed earlier than posted hours",
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "comma-separated Kafka brokers")
	topic := flag.String("topic", "review-events", "review events topic")
	events := flag.Int("events", 1000, "total events to publish")
	concurrency := flag.Int("concurrency", 4, "concurrent publishers")
	venues := flag.Int("venues", 50, "size of the synthetic venue pool")
	flag.Parse()

	logger.Setup("info", "text")

	cfg := config.KafkaConfig{Brokers: strings.Split(*brokers, ",")}
	producer := kafka.NewProducer(cfg, *topic)
	defer producer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var published, failed atomic.Int64
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	perWorker := *events / *concurrency
	for w := 0; w < *concurrency; w++ {
		seed := time.Now().UnixNano() + int64(w)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < perWorker; i++ {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				event := randomReview(rng, *venues)
				err := producer.Publish(ctx, kafka.Event{Key: event.VenueID, Value: event})
				if err != nil {
					failed.Add(1)
					continue
				}
				published.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("publisher group failed", "error", err)
	}

	elapsed := time.Since(start)
	slog.Info("load generation finished",
		"published", published.Load(),
		"failed", failed.Load(),
		"elapsed", elapsed.Round(time.Millisecond),
		"rate", fmt.Sprintf("%.0f/s", float64(published.Load())/elapsed.Seconds()),
	)
}

func randomReview(rng *rand.Rand, venuePool int) ingest.ReviewEvent {
	return ingest.ReviewEvent{
		VenueID: fmt.Sprintf("venue-%03d", rng.Intn(venuePool)),
		Stars:   float64(rng.Intn(9)+1) / 2, // 0.5 .. 4.5 in half-star steps
		UserID:  fmt.Sprintf("user-%04d", rng.Intn(5000)),
		Text:    reviewTexts[rng.Intn(len(reviewTexts))],
	}
}
