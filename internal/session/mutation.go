package session

import "github.com/ashureev/safecoach/internal/domain"

type pendingOp int

const (
	pendingKeep pendingOp = iota
	pendingSet
	pendingClear
)

// Mutation collects the session changes of one turn so they can be
// committed together once the turn has produced its response.
type Mutation struct {
	Turns []domain.Turn

	pendingOp        pendingOp
	proposal         *domain.PendingBookingProposal
	location         *string
	awaitingLocation *bool
	awaitingDetails  *bool
}

// SetPending replaces the pending proposal on commit.
func (m *Mutation) SetPending(p *domain.PendingBookingProposal) {
	m.pendingOp = pendingSet
	m.proposal = p
}

// ClearPending removes the pending proposal on commit.
func (m *Mutation) ClearPending() {
	m.pendingOp = pendingClear
	m.proposal = nil
}

// RememberLocation stores the therapist search location on commit.
func (m *Mutation) RememberLocation(loc string) {
	m.location = &loc
}

// AwaitLocation marks whether the next reply is expected to be a location.
func (m *Mutation) AwaitLocation(waiting bool) {
	m.awaitingLocation = &waiting
}

// AwaitBookingDetails marks whether the next reply is expected to complete
// a booking request.
func (m *Mutation) AwaitBookingDetails(waiting bool) {
	m.awaitingDetails = &waiting
}

// Merge applies other's changes on top of m.
func (m *Mutation) Merge(other Mutation) {
	m.Turns = append(m.Turns, other.Turns...)
	if other.pendingOp != pendingKeep {
		m.pendingOp = other.pendingOp
		m.proposal = other.proposal
	}
	if other.location != nil {
		m.location = other.location
	}
	if other.awaitingLocation != nil {
		m.awaitingLocation = other.awaitingLocation
	}
	if other.awaitingDetails != nil {
		m.awaitingDetails = other.awaitingDetails
	}
}

// ClearsPending reports whether the mutation removes the pending proposal.
func (m Mutation) ClearsPending() bool { return m.pendingOp == pendingClear }

// Proposal returns the proposal the mutation will store, if any.
func (m Mutation) Proposal() *domain.PendingBookingProposal {
	if m.pendingOp != pendingSet {
		return nil
	}
	return m.proposal
}

// Location returns the location the mutation will remember.
func (m Mutation) Location() (string, bool) {
	if m.location == nil {
		return "", false
	}
	return *m.location, true
}

// AwaitingLocation returns the awaiting-location flag the mutation sets.
func (m Mutation) AwaitingLocation() (bool, bool) {
	if m.awaitingLocation == nil {
		return false, false
	}
	return *m.awaitingLocation, true
}

// AwaitingBookingDetails returns the awaiting-booking-details flag the mutation sets.
func (m Mutation) AwaitingBookingDetails() (bool, bool) {
	if m.awaitingDetails == nil {
		return false, false
	}
	return *m.awaitingDetails, true
}
