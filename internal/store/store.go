// Package store persists the safety audit trail and the booking email outbox.
package store

import (
	"context"
	"time"

	"github.com/ashureev/safecoach/internal/safety"
)

// Email attempt statuses.
const (
	EmailStatusSent    = "sent"
	EmailStatusFailed  = "failed"
	EmailStatusBlocked = "blocked"
)

// EmailAttempt is one outbox row. Bodies are not stored.
type EmailAttempt struct {
	ID        string
	SessionID string
	To        string
	Subject   string
	Status    string
	Error     string
	CreatedAt time.Time
}

// SafetyEvent is a stored safety trigger.
type SafetyEvent struct {
	ID           string
	Category     string
	MatchedRules []string
	SessionID    string
	CreatedAt    time.Time
}

// Repository defines audit and outbox persistence.
type Repository interface {
	safety.AuditSink

	// ListSafetyEvents returns the newest events for a session.
	ListSafetyEvents(ctx context.Context, sessionID string, limit int) ([]SafetyEvent, error)

	// PruneAuditEvents deletes events created before cutoff.
	PruneAuditEvents(ctx context.Context, cutoff time.Time) (int64, error)

	// RecordEmailAttempt appends an outbox row.
	RecordEmailAttempt(ctx context.Context, attempt EmailAttempt) error

	// CountEmailAttempts counts sent and failed attempts for a session since a time.
	CountEmailAttempts(ctx context.Context, sessionID string, since time.Time) (int, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
