package main

import (
	"context"
	"log/slog"
	"time"

	"vidpipe/internal/logging"
	"vidpipe/internal/scratch"
)

const (
	minJanitorInterval = time.Minute
	maxJanitorInterval = time.Hour
)

type staleCleaner interface {
	CleanStale(ctx context.Context, maxAge time.Duration) scratch.CleanStaleResult
}

func janitorInterval(maxAge time.Duration) time.Duration {
	interval := maxAge / 4
	if interval < minJanitorInterval {
		return minJanitorInterval
	}
	if interval > maxJanitorInterval {
		return maxJanitorInterval
	}
	return interval
}

// runJanitor sweeps crash leftovers from the scratch root once at start and
// then on every tick until ctx is done.
func runJanitor(ctx context.Context, cleaner staleCleaner, maxAge, interval time.Duration, logger *slog.Logger) {
	logger = logging.NewComponentLogger(logger, "janitor")
	sweep := func() {
		result := cleaner.CleanStale(ctx, maxAge)
		if len(result.Removed) > 0 || len(result.Errors) > 0 {
			logger.Info("scratch sweep",
				logging.Int("removed", len(result.Removed)),
				logging.Int("skipped", len(result.Skipped)),
				logging.Int("errors", len(result.Errors)),
			)
		}
		for _, e := range result.Errors {
			logger.Warn("scratch sweep failed", logging.String("path", e.Path), logging.Error(e.Error))
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
