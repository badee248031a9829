// Package agent implements the task agents, the chat pipeline that runs
// every message through the safety gate, and its HTTP and WebSocket
// transports.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/safecoach/internal/domain"
	"github.com/ashureev/safecoach/internal/router"
	"github.com/ashureev/safecoach/internal/session"
)

// toolTimeout bounds every downstream tool or model call made by an agent.
const toolTimeout = 30 * time.Second

// ErrCapabilityMismatch is returned by an agent handed a message it does
// not own. The pipeline answers with the out-of-scope redirect.
var ErrCapabilityMismatch = errors.New("agent: message outside agent capability")

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// Request is what a task agent receives for one turn.
type Request struct {
	Message        domain.Message
	Classification domain.ClassificationResult
	Decision       router.Decision
	State          domain.SessionState
}

// Result is an agent's reply plus the session changes to commit with it.
type Result struct {
	Response domain.TaskResponse
	Mutation session.Mutation
}

// Agent handles one in-scope category.
type Agent interface {
	Category() domain.Category
	Handle(ctx context.Context, req Request) (Result, error)
}

// checkCapability verifies the routed message belongs to self. A pending
// confirmation reply routed to the booking agent is accepted whatever the
// classifier said.
func checkCapability(self domain.Category, req Request) error {
	if req.Decision.Agent != self {
		return fmt.Errorf("%w: routed to %s, handled by %s", ErrCapabilityMismatch, req.Decision.Agent, self)
	}
	if req.Classification.Category == self {
		return nil
	}
	if self == domain.CategoryBookingEmail && req.Decision.Reason == router.ReasonPendingConfirmation {
		return nil
	}
	return fmt.Errorf("%w: classified %s, handled by %s", ErrCapabilityMismatch, req.Classification.Category, self)
}
