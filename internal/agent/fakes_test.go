package agent

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/safecoach/internal/domain"
	"github.com/ashureev/safecoach/internal/email"
	"github.com/ashureev/safecoach/internal/llm"
	"github.com/ashureev/safecoach/internal/mcp"
	"github.com/ashureev/safecoach/internal/router"
	"github.com/ashureev/safecoach/internal/safety"
	"github.com/ashureev/safecoach/internal/store"
)

// testNow is a Tuesday morning in Stockholm.
var testNow = time.Date(2026, 2, 10, 10, 0, 0, 0, stockholm)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: testNow} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func routed(cat domain.Category, text string, state domain.SessionState) Request {
	return Request{
		Message:        domain.NewMessage("s1", text, testNow),
		Classification: domain.ClassificationResult{Category: cat, ConfidenceSource: domain.SourceKeyword},
		Decision:       router.Decision{Agent: cat, Reason: router.ReasonClassification},
		State:          state,
	}
}

func confirmation(c safety.Confirmation, text string, state domain.SessionState) Request {
	return Request{
		Message:        domain.NewMessage("s1", text, testNow),
		Classification: domain.ClassificationResult{Category: domain.CategoryBookingEmail},
		Decision:       router.Decision{Agent: domain.CategoryBookingEmail, Confirmation: c, Reason: router.ReasonPendingConfirmation},
		State:          state,
	}
}

func history(texts ...string) []domain.Turn {
	turns := make([]domain.Turn, len(texts))
	for i, t := range texts {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		turns[i] = domain.Turn{Role: role, Content: t, Timestamp: testNow}
	}
	return turns
}

type fakeGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []llm.Request
}

func (g *fakeGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	return g.reply, g.err
}

type fakeSearcher struct {
	mu      sync.Mutex
	queries []mcp.TherapistQuery
	respond func(q mcp.TherapistQuery) ([]domain.Therapist, error)
}

func (s *fakeSearcher) SearchTherapists(_ context.Context, q mcp.TherapistQuery) ([]domain.Therapist, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()
	if s.respond == nil {
		return nil, nil
	}
	return s.respond(q)
}

func (s *fakeSearcher) Queries() []mcp.TherapistQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mcp.TherapistQuery(nil), s.queries...)
}

func someTherapists(n int) []domain.Therapist {
	out := make([]domain.Therapist, n)
	for i := range out {
		out[i] = domain.Therapist{Name: "Clinic " + string(rune('A'+i)), DistanceKM: float64(i + 1)}
	}
	return out
}

type fakeSender struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (s *fakeSender) Name() string { return "fake" }

func (s *fakeSender) Send(_ context.Context, msg email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) Sent() []email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]email.Message(nil), s.sent...)
}

type fakeOutbox struct {
	mu       sync.Mutex
	count    int
	countErr error
	attempts []store.EmailAttempt
}

func (o *fakeOutbox) RecordEmailAttempt(_ context.Context, a store.EmailAttempt) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, a)
	return nil
}

func (o *fakeOutbox) CountEmailAttempts(context.Context, string, time.Time) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count, o.countErr
}

func (o *fakeOutbox) Attempts() []store.EmailAttempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]store.EmailAttempt(nil), o.attempts...)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []safety.TriggerEvent
}

func (a *fakeAudit) RecordSafetyTrigger(_ context.Context, ev safety.TriggerEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *fakeAudit) Events() []safety.TriggerEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]safety.TriggerEvent(nil), a.events...)
}
