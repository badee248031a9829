package domain

import (
	"time"
)

// HistoryLimit is the number of turns a session keeps.
const HistoryLimit = 10

// BookingTTL is how long a drafted booking waits for YES/NO.
const BookingTTL = 15 * time.Minute

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the conversation history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingBookingProposal is a drafted appointment email awaiting confirmation.
type PendingBookingProposal struct {
	ID             string    `json:"id"`
	TherapistEmail string    `json:"therapist_email"`
	RequestedTime  time.Time `json:"requested_time"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// NewPendingBookingProposal stamps a proposal with the standard TTL.
func NewPendingBookingProposal(id, to string, requested time.Time, subject, body string, now time.Time) *PendingBookingProposal {
	return &PendingBookingProposal{
		ID:             id,
		TherapistEmail: to,
		RequestedTime:  requested,
		Subject:        subject,
		Body:           body,
		CreatedAt:      now,
		ExpiresAt:      now.Add(BookingTTL),
	}
}

// Expired reports whether the proposal can no longer be confirmed.
func (p *PendingBookingProposal) Expired(now time.Time) bool {
	return p != nil && !now.Before(p.ExpiresAt)
}

// SessionState is a point-in-time copy of one session's short-term memory.
// PendingExpired is set when a proposal lapsed since the last turn;
// AwaitingLocation is set after the therapist search asked for a city;
// AwaitingBookingDetails after the booking agent asked for an email or time.
type SessionState struct {
	SessionID              string
	History                []Turn
	Pending                *PendingBookingProposal
	PendingExpired         bool
	Location               string
	AwaitingLocation       bool
	AwaitingBookingDetails bool
	LastUpdatedAt          time.Time
}

// HasPending reports whether an unexpired proposal is waiting.
func (s SessionState) HasPending() bool {
	return s.Pending != nil
}

// RecentTurns returns at most n of the newest turns.
func (s SessionState) RecentTurns(n int) []Turn {
	if n >= len(s.History) {
		return s.History
	}
	return s.History[len(s.History)-n:]
}
