package safety

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/ashureev/safecoach/internal/domain"
)

// Rule ids attached to classifications that come from session state rather
// than from the rule lists.
const (
	RulePendingConfirmation = "session.pending_confirmation"
	RuleLocationReply       = "session.location_reply"
	RuleBookingDetailsReply = "session.booking_details_reply"
	RuleConfirmationOnly    = "session.confirmation_only"
)

// Fallback resolves messages no rule recognized. Implementations must bound
// their own latency and may only answer with in-scope categories.
type Fallback interface {
	Classify(ctx context.Context, normalized string) (domain.Category, error)
}

type evaluation struct {
	msg   domain.Message
	state domain.SessionState
	hits  Hits
}

// precedenceStep is one row of the precedence table. The first row whose
// fires func returns true decides the category.
type precedenceStep struct {
	name     string
	category domain.Category
	fires    func(e evaluation) ([]string, bool)
}

func fromLists(lists ...domain.RuleList) func(e evaluation) ([]string, bool) {
	return func(e evaluation) ([]string, bool) {
		if !e.hits.Has(lists...) {
			return nil, false
		}
		return e.hits.IDs(lists...), true
	}
}

// precedence is the fixed classification order. Crisis is first so that a
// crisis phrase inside any other kind of message always escalates.
var precedence = []precedenceStep{
	{name: "crisis", category: domain.CategoryCrisis, fires: fromLists(domain.ListCrisis)},
	{name: "pending_confirmation", category: domain.CategoryBookingEmail, fires: func(e evaluation) ([]string, bool) {
		if (e.state.Pending == nil && !e.state.PendingExpired) || !IsConfirmation(e.msg.Normalized) {
			return nil, false
		}
		return []string{RulePendingConfirmation}, true
	}},
	{name: "jailbreak", category: domain.CategoryJailbreak, fires: fromLists(domain.ListJailbreak)},
	{name: "prescription", category: domain.CategoryPrescription, fires: fromLists(domain.ListPrescription)},
	{name: "booking_scope", category: domain.CategoryBookingEmail, fires: fromLists(domain.ListScopeBooking)},
	{name: "therapist_scope", category: domain.CategoryTherapistSearch, fires: fromLists(domain.ListScopeTherapist)},
	{name: "location_reply", category: domain.CategoryTherapistSearch, fires: func(e evaluation) ([]string, bool) {
		if !e.state.AwaitingLocation || e.hits.Has(domain.ListScopeOffTopic) || !LooksLikeLocation(e.msg.Normalized) {
			return nil, false
		}
		return []string{RuleLocationReply}, true
	}},
	{name: "booking_details_reply", category: domain.CategoryBookingEmail, fires: func(e evaluation) ([]string, bool) {
		if !e.state.AwaitingBookingDetails || e.hits.Has(domain.ListScopeOffTopic, domain.ListEmotionalState) || !LooksLikeBookingDetail(e.msg.Normalized) {
			return nil, false
		}
		return []string{RuleBookingDetailsReply}, true
	}},
	// A bare YES/NO with nothing pending still goes to the booking agent,
	// which answers that there is nothing to confirm.
	{name: "confirmation_only", category: domain.CategoryBookingEmail, fires: func(e evaluation) ([]string, bool) {
		if !IsConfirmation(e.msg.Normalized) {
			return nil, false
		}
		return []string{RuleConfirmationOnly}, true
	}},
	{name: "coaching", category: domain.CategoryCoach, fires: fromLists(domain.ListEmotionalState, domain.ListScopeCoach)},
	{name: "off_topic", category: domain.CategoryOutOfScope, fires: fromLists(domain.ListScopeOffTopic)},
}

// Classifier assigns exactly one category to every message.
type Classifier struct {
	matcher  atomic.Pointer[Matcher]
	fallback Fallback
	logger   *slog.Logger
}

// NewClassifier creates a classifier. fallback may be nil.
func NewClassifier(m *Matcher, fallback Fallback, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{fallback: fallback, logger: logger}
	c.matcher.Store(m)
	return c
}

// SetMatcher swaps in a newly built matcher. In-flight classifications keep
// using the matcher they started with.
func (c *Classifier) SetMatcher(m *Matcher) {
	if m != nil {
		c.matcher.Store(m)
	}
}

// Matcher returns the active matcher.
func (c *Classifier) Matcher() *Matcher {
	return c.matcher.Load()
}

// Classify runs the deterministic rules and, only when nothing matched at
// all, the optional model fallback. It never fails.
func (c *Classifier) Classify(ctx context.Context, msg domain.Message, state domain.SessionState) domain.ClassificationResult {
	if result, ok := c.classifyRules(msg, state); ok {
		return result
	}

	result := domain.ClassificationResult{
		Category:         domain.CategoryCoach,
		MatchedRules:     []string{},
		ConfidenceSource: domain.SourceKeyword,
	}
	if c.fallback == nil {
		return result
	}

	cat, err := c.fallback.Classify(ctx, msg.Normalized)
	if err != nil {
		c.logger.Warn("fallback classification failed, defaulting to coach",
			"session_id", msg.SessionID,
			"error", err,
		)
		return result
	}
	if !cat.InScope() {
		cat = domain.CategoryCoach
	}
	result.Category = cat
	result.ConfidenceSource = domain.SourceModelFallback
	return result
}

// ClassifyRules is the deterministic path alone. ok is false when no
// rule or session signal applies.
func (c *Classifier) ClassifyRules(msg domain.Message, state domain.SessionState) (domain.ClassificationResult, bool) {
	return c.classifyRules(msg, state)
}

func (c *Classifier) classifyRules(msg domain.Message, state domain.SessionState) (domain.ClassificationResult, bool) {
	e := evaluation{
		msg:   msg,
		state: state,
		hits:  c.matcher.Load().Match(msg.Normalized),
	}
	for _, step := range precedence {
		if ids, ok := step.fires(e); ok {
			return domain.ClassificationResult{
				Category:         step.category,
				MatchedRules:     ids,
				ConfidenceSource: domain.SourceKeyword,
			}, true
		}
	}
	return domain.ClassificationResult{}, false
}

// PrecedenceOrder returns the step names in evaluation order.
func PrecedenceOrder() []string {
	names := make([]string, len(precedence))
	for i, s := range precedence {
		names[i] = s.name
	}
	return names
}
