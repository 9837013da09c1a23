// Command seed bulk-loads venue records from a JSON-lines file into the
// ranking engine. Upserts are idempotent, so transient store failures are
// retried with backoff.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/bizrank/bizrank/internal/cache"
	"github.com/bizrank/bizrank/internal/invalidation"
	"github.com/bizrank/bizrank/internal/ranking"
	"github.com/bizrank/bizrank/pkg/config"
	"github.com/bizrank/bizrank/pkg/logger"
	"github.com/bizrank/bizrank/pkg/metrics"
	pkgredis "github.com/bizrank/bizrank/pkg/redis"
	"github.com/bizrank/bizrank/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	input := flag.String("input", "", "JSON-lines file of venue records")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: seed -input venues.jsonl [-config path]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, "text")

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("redis unavailable", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	m := metrics.NewUnregistered()
	resultCache := cache.New(redisClient, cfg.Cache.Prefix, m)
	engine := ranking.NewEngine(redisClient, resultCache, invalidation.New(resultCache), m, cfg.Ranking, cfg.Cache.DefaultTTL)

	file, err := os.Open(*input)
	if err != nil {
		slog.Error("failed to open input", "path", *input, "error", err)
		os.Exit(1)
	}
	defer file.Close()

	ctx := context.Background()
	var loaded, skipped int
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var v ranking.Venue
		if err := json.Unmarshal(text, &v); err != nil {
			slog.Warn("skipping malformed record", "line", line, "error", err)
			skipped++
			continue
		}
		err := resilience.Retry(ctx, "seed upsert", resilience.RetryConfig{}, func() error {
			_, err := engine.Upsert(ctx, &v)
			return err
		})
		if err != nil {
			slog.Warn("skipping venue after retries", "line", line, "venue_id", v.ID, "error", err)
			skipped++
			continue
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		slog.Error("reading input failed", "error", err)
		os.Exit(1)
	}

	slog.Info("seed complete", "loaded", loaded, "skipped", skipped)
}
