package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/safecoach/internal/domain"
	"github.com/ashureev/safecoach/internal/router"
	"github.com/ashureev/safecoach/internal/safety"
	"github.com/ashureev/safecoach/internal/session"
)

// MaxMessageLength is the longest accepted message, in characters.
const MaxMessageLength = 4000

var (
	// ErrEmptyMessage is returned for a blank message.
	ErrEmptyMessage = errors.New("agent: message is empty")
	// ErrMessageTooLong is returned for a message over MaxMessageLength.
	ErrMessageTooLong = errors.New("agent: message too long")
)

// Service runs each message through the safety gate, the router and the
// selected task agent, and commits the turn to the session store.
type Service struct {
	gate     *safety.Gate
	sessions *session.Store
	agents   map[domain.Category]Agent
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates the chat pipeline.
func NewService(gate *safety.Gate, sessions *session.Store, logger *slog.Logger, agents ...Agent) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		gate:     gate,
		sessions: sessions,
		agents:   make(map[domain.Category]Agent, len(agents)),
		now:      time.Now,
		logger:   logger,
	}
	for _, a := range agents {
		s.agents[a.Category()] = a
	}
	return s
}

// Sessions returns the session store.
func (s *Service) Sessions() *session.Store { return s.sessions }

// Chat handles one message. Turns for the same session run one at a time
// in arrival order. The turn is only recorded if a reply was produced
// before ctx ended.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (domain.Response, error) {
	text := strings.TrimSpace(req.Message)
	switch {
	case text == "":
		return nil, ErrEmptyMessage
	case utf8.RuneCountInString(text) > MaxMessageLength:
		return nil, ErrMessageTooLong
	}

	release, err := s.sessions.BeginTurn(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := s.now()
	state := s.sessions.Get(req.SessionID)
	msg := domain.NewMessage(req.SessionID, text, start)

	class, resp := s.gate.Handle(ctx, msg, state)
	var mut session.Mutation
	agentName := "safety_gate"
	if resp == nil {
		resp, mut, agentName = s.dispatch(ctx, msg, class, state)
	}

	if err := ctx.Err(); err != nil {
		s.logger.Info("Turn abandoned", "session_id", req.SessionID, "reason", err)
		return nil, err
	}

	// Follow-up questions only hold for the very next message.
	if _, set := mut.AwaitingLocation(); !set && state.AwaitingLocation {
		mut.AwaitLocation(false)
	}
	if _, set := mut.AwaitingBookingDetails(); !set && state.AwaitingBookingDetails {
		mut.AwaitBookingDetails(false)
	}
	now := s.now()
	mut.Turns = append([]domain.Turn{
		{Role: domain.RoleUser, Content: text, Timestamp: start},
		{Role: domain.RoleAssistant, Content: resp.ChatResponse().CoachMessage, Timestamp: now},
	}, mut.Turns...)
	if err := s.sessions.Apply(req.SessionID, mut); err != nil {
		s.logger.Error("Failed to commit turn", "session_id", req.SessionID, "error", err)
		return domain.TryAgainResponse(), nil
	}

	s.logger.Info("Chat turn",
		"session_id", req.SessionID,
		"category", class.Category,
		"confidence_source", class.ConfidenceSource,
		"agent", agentName,
		"response_category", resp.Category(),
		"duration_ms", now.Sub(start).Milliseconds(),
	)
	return resp, nil
}

// dispatch routes an in-scope message to its agent. Failures degrade to a
// reply rather than an error so the turn is still answered.
func (s *Service) dispatch(ctx context.Context, msg domain.Message, class domain.ClassificationResult, state domain.SessionState) (domain.Response, session.Mutation, string) {
	decision, err := router.Route(msg, class, state)
	if err != nil {
		s.logger.Error("Routing failed", "session_id", msg.SessionID, "category", class.Category, "error", err)
		return safety.OutOfScopeResponse(), session.Mutation{}, "router"
	}
	name := string(decision.Agent)

	a, ok := s.agents[decision.Agent]
	if !ok {
		s.logger.Error("No agent registered", "session_id", msg.SessionID, "agent", name)
		return domain.TryAgainResponse(), session.Mutation{}, name
	}

	res, err := s.runAgent(ctx, a, Request{Message: msg, Classification: class, Decision: decision, State: state})
	switch {
	case err == nil:
		return res.Response, res.Mutation, name
	case errors.Is(err, ErrCapabilityMismatch):
		s.logger.Warn("Agent capability mismatch", "session_id", msg.SessionID, "agent", name, "error", err)
		return safety.OutOfScopeResponse(), session.Mutation{}, name
	default:
		s.logger.Error("Agent failed", "session_id", msg.SessionID, "agent", name, "error", err)
		return domain.TryAgainResponse(), session.Mutation{}, name
	}
}

func (s *Service) runAgent(ctx context.Context, a Agent, req Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s panicked: %v", a.Category(), r)
		}
	}()
	return a.Handle(ctx, req)
}
