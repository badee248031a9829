// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// IsSQLiteConflictError reports whether err is a SQLITE_BUSY or
// "database is locked" error. Both are transient and worth retrying.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// RetryConfig bounds RetryOnConflict.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetry gives 100ms, 200ms, 400ms between attempts.
var DefaultRetry = RetryConfig{Attempts: 4, BaseDelay: 100 * time.Millisecond}

// RetryOnConflict runs fn until it succeeds, fails with a non-conflict
// error, runs out of attempts, or ctx ends. Delays double each attempt.
func RetryOnConflict(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	var err error
	for i := 0; i < cfg.Attempts; i++ {
		err = fn()
		if err == nil || !IsSQLiteConflictError(err) || i == cfg.Attempts-1 {
			return err
		}
		delay := cfg.BaseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
