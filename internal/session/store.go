// Package session holds per-conversation short-term memory in process.
// Nothing in this package writes conversation content to durable storage.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ashureev/safecoach/internal/domain"
)

// DefaultMaxSessions bounds the number of live sessions.
const DefaultMaxSessions = 10_000

// ErrInvalidSessionID is returned for an empty session id.
var ErrInvalidSessionID = errors.New("session: empty session id")

type entry struct {
	turn chan struct{}
	// refs counts turns running or waiting on this entry. Guarded by Store.mu.
	refs int

	mu               sync.Mutex
	history          *History
	pending          *domain.PendingBookingProposal
	pendingExpired   bool
	location         string
	awaitingLocation bool
	awaitingDetails  bool
	updatedAt        time.Time
}

func (e *entry) expire(now time.Time) {
	if e.pending != nil && e.pending.Expired(now) {
		e.pending = nil
		e.pendingExpired = true
	}
}

func (e *entry) snapshot(id string) domain.SessionState {
	var pending *domain.PendingBookingProposal
	if e.pending != nil {
		p := *e.pending
		pending = &p
	}
	return domain.SessionState{
		SessionID:              id,
		History:                e.history.Turns(),
		Pending:                pending,
		PendingExpired:         e.pendingExpired,
		Location:               e.location,
		AwaitingLocation:       e.awaitingLocation,
		AwaitingBookingDetails: e.awaitingDetails,
		LastUpdatedAt:          e.updatedAt,
	}
}

// Options configures a Store.
type Options struct {
	MaxSessions int
	HistorySize int
	Now         func() time.Time
	Logger      *slog.Logger
}

// Store keeps SessionState per session id in a bounded LRU. Operations on
// different sessions never block each other beyond the brief map lookup.
//
// Entries with a turn running or waiting are also held in pinned, so an LRU
// eviction under load cannot hand a second turn a fresh entry for the same id.
type Store struct {
	mu          sync.Mutex
	cache       *lru.Cache[string, *entry]
	pinned      map[string]*entry
	historySize int
	now         func() time.Time
	logger      *slog.Logger
}

// NewStore creates a session store.
func NewStore(opts Options) (*Store, error) {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = domain.HistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{
		pinned:      make(map[string]*entry),
		historySize: opts.HistorySize,
		now:         opts.Now,
		logger:      opts.Logger,
	}
	cache, err := lru.NewWithEvict[string, *entry](opts.MaxSessions, func(id string, _ *entry) {
		s.logger.Debug("Session evicted", "session_id", id)
	})
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

func (s *Store) entryFor(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryForLocked(id)
}

func (s *Store) entryForLocked(id string) *entry {
	if e, ok := s.cache.Get(id); ok {
		return e
	}
	if e, ok := s.pinned[id]; ok {
		s.cache.Add(id, e)
		return e
	}
	e := &entry{
		turn:      make(chan struct{}, 1),
		history:   NewHistory(s.historySize),
		updatedAt: s.now(),
	}
	s.cache.Add(id, e)
	return e
}

// Get returns a snapshot of the session, creating an empty one if needed.
// An expired pending proposal is dropped here.
func (s *Store) Get(id string) domain.SessionState {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expire(s.now())
	return e.snapshot(id)
}

// AppendTurn records one turn, evicting the oldest beyond the history limit.
func (s *Store) AppendTurn(id string, role domain.Role, content string) {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	now := s.now()
	e.history.Append(domain.Turn{Role: role, Content: content, Timestamp: now})
	e.updatedAt = now
}

// SetPending stores a proposal, replacing any previous one.
func (s *Store) SetPending(id string, p *domain.PendingBookingProposal) {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setPending(p, s.now())
}

func (e *entry) setPending(p *domain.PendingBookingProposal, now time.Time) {
	if p == nil {
		e.pending = nil
	} else {
		cp := *p
		e.pending = &cp
	}
	e.pendingExpired = false
	e.updatedAt = now
}

// ClearPending removes any pending proposal.
func (s *Store) ClearPending(id string) {
	s.SetPending(id, nil)
}

// GetPending returns the pending proposal, or nil when none exists or it
// has expired.
func (s *Store) GetPending(id string) *domain.PendingBookingProposal {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expire(s.now())
	if e.pending == nil {
		return nil
	}
	p := *e.pending
	return &p
}

// SetLocation remembers the last location used for a therapist search.
func (s *Store) SetLocation(id, location string) {
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.location = location
	e.updatedAt = s.now()
}

// BeginTurn waits until no other turn is running for the session and
// returns the function that releases it. Turns for one session therefore
// run in arrival order.
func (s *Store) BeginTurn(ctx context.Context, id string) (func(), error) {
	if id == "" {
		return nil, ErrInvalidSessionID
	}
	s.mu.Lock()
	e := s.entryForLocked(id)
	e.refs++
	s.pinned[id] = e
	s.mu.Unlock()

	select {
	case e.turn <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.turn
				s.unpin(id, e)
			})
		}, nil
	case <-ctx.Done():
		s.unpin(id, e)
		return nil, ctx.Err()
	}
}

func (s *Store) unpin(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 && s.pinned[id] == e {
		delete(s.pinned, id)
	}
}

// Apply commits the effects of one completed turn.
func (s *Store) Apply(id string, m Mutation) error {
	if id == "" {
		return ErrInvalidSessionID
	}
	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	for _, t := range m.Turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		e.history.Append(t)
	}
	switch m.pendingOp {
	case pendingSet:
		e.setPending(m.proposal, now)
	case pendingClear:
		e.setPending(nil, now)
	}
	e.pendingExpired = false
	if m.location != nil {
		e.location = *m.location
	}
	if m.awaitingLocation != nil {
		e.awaitingLocation = *m.awaitingLocation
	}
	if m.awaitingDetails != nil {
		e.awaitingDetails = *m.awaitingDetails
	}
	e.updatedAt = now
	return nil
}

// Evict drops a session entirely, including one with a turn in flight.
func (s *Store) Evict(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, pinned := s.pinned[id]
	delete(s.pinned, id)
	return s.cache.Remove(id) || pinned
}

// EvictIdle drops sessions not updated within idle. Sessions with a turn
// in progress are kept.
func (s *Store) EvictIdle(idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for _, id := range s.cache.Keys() {
		e, ok := s.cache.Peek(id)
		if !ok || e.refs > 0 {
			continue
		}
		e.mu.Lock()
		stale := e.updatedAt.Before(cutoff)
		e.mu.Unlock()
		if stale && s.cache.Remove(id) {
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.cache.Len()
}
