package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often idle sessions are collected.
const DefaultSweepInterval = 5 * time.Minute

// StartSweeper runs a background goroutine that periodically evicts
// sessions idle for longer than idleTTL. The returned channel is closed
// once the goroutine exits after ctx is cancelled.
func StartSweeper(ctx context.Context, store *Store, interval, idleTTL time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "idle_ttl", idleTTL)

		for {
			select {
			case <-ticker.C:
				if n := store.EvictIdle(idleTTL); n > 0 {
					slog.Info("Session sweeper evicted idle sessions", "count", n, "remaining", store.Len())
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
