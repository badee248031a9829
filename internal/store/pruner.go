package store

import (
	"context"
	"log/slog"
	"time"
)

const pruneWorkerInterval = time.Hour

// AuditPruner is the part of Repository the prune worker needs.
type AuditPruner interface {
	PruneAuditEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartPruneWorker runs a background goroutine that periodically deletes
// safety events older than retention. The returned channel is closed once
// the goroutine exits after ctx is cancelled.
func StartPruneWorker(ctx context.Context, repo AuditPruner, interval, retention time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = pruneWorkerInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Audit prune worker started", "interval", interval, "retention", retention)

		pruneAuditEvents(ctx, repo, retention)
		for {
			select {
			case <-ticker.C:
				pruneAuditEvents(ctx, repo, retention)
			case <-ctx.Done():
				slog.Info("Audit prune worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func pruneAuditEvents(ctx context.Context, repo AuditPruner, retention time.Duration) {
	if retention <= 0 {
		return
	}
	n, err := repo.PruneAuditEvents(ctx, time.Now().Add(-retention))
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Audit prune worker failed", "error", err)
		}
		return
	}
	if n > 0 {
		slog.Info("Audit prune worker removed events", "count", n, "retention", retention)
	}
}
