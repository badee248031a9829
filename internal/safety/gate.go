package safety

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/safecoach/internal/domain"
)

// TriggerEvent is the audit record for one short-circuited message. It
// carries rule ids only, never message text.
type TriggerEvent struct {
	Event        string          `json:"event"`
	Category     domain.Category `json:"category"`
	MatchedRules []string        `json:"matched_rules"`
	SessionID    string          `json:"session_id"`
	Timestamp    time.Time       `json:"timestamp"`
}

// EventSafetyTrigger is the event name written for every short-circuit.
const EventSafetyTrigger = "safety_trigger"

// AuditSink persists safety trigger events.
type AuditSink interface {
	RecordSafetyTrigger(ctx context.Context, ev TriggerEvent) error
}

// Gate classifies every message and answers the categories that must never
// reach a task agent.
type Gate struct {
	classifier *Classifier
	audit      AuditSink
	logger     *slog.Logger
	now        func() time.Time
}

// NewGate creates a safety gate. audit may be nil.
func NewGate(classifier *Classifier, audit AuditSink, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{classifier: classifier, audit: audit, logger: logger, now: time.Now}
}

// Classifier returns the gate's classifier.
func (g *Gate) Classifier() *Classifier { return g.classifier }

// Handle classifies msg. For CRISIS, PRESCRIPTION, JAILBREAK and OUT_OF_SCOPE
// it returns the templated reply; otherwise the response is nil and the
// message continues to routing.
func (g *Gate) Handle(ctx context.Context, msg domain.Message, state domain.SessionState) (domain.ClassificationResult, domain.Response) {
	result := g.classifier.Classify(ctx, msg, state)

	var resp domain.Response
	switch result.Category {
	case domain.CategoryCrisis:
		resp = crisisResponse(state)
	case domain.CategoryPrescription:
		resp = prescriptionResponse()
	case domain.CategoryJailbreak:
		resp = jailbreakResponse()
	case domain.CategoryOutOfScope:
		resp = OutOfScopeResponse()
	default:
		return result, nil
	}

	g.record(ctx, msg, result)
	return result, resp
}

func (g *Gate) record(ctx context.Context, msg domain.Message, result domain.ClassificationResult) {
	ev := TriggerEvent{
		Event:        EventSafetyTrigger,
		Category:     result.Category,
		MatchedRules: result.MatchedRules,
		SessionID:    msg.SessionID,
		Timestamp:    g.now().UTC(),
	}

	attrs := []any{
		"event", ev.Event,
		"category", ev.Category,
		"matched_rules", ev.MatchedRules,
		"session_id", ev.SessionID,
		"confidence_source", result.ConfidenceSource,
	}
	if result.Category == domain.CategoryJailbreak {
		g.logger.Warn("Jailbreak attempt blocked", append(attrs, "abuse_monitor", true)...)
	} else {
		g.logger.Info("Safety gate short-circuit", attrs...)
	}

	if g.audit == nil {
		return
	}
	// Audit writes must not be dropped because the client went away.
	if err := g.audit.RecordSafetyTrigger(context.WithoutCancel(ctx), ev); err != nil {
		g.logger.Error("Failed to persist safety trigger", "error", err, "category", ev.Category, "session_id", ev.SessionID)
	}
}
