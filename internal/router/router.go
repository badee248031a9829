// Package router maps an in-scope classification to the task agent that
// handles it.
package router

import (
	"errors"
	"fmt"

	"github.com/ashureev/safecoach/internal/domain"
	"github.com/ashureev/safecoach/internal/safety"
)

// ErrNotRoutable is returned for categories the safety gate answers itself.
var ErrNotRoutable = errors.New("router: category is not routable to a task agent")

// Decision reasons.
const (
	ReasonPendingConfirmation = "pending_confirmation"
	ReasonClassification      = "classification"
)

// Decision names the agent selected for a message.
type Decision struct {
	Agent domain.Category
	// Confirmation is set when the message answers a pending proposal.
	Confirmation safety.Confirmation
	Reason       string
}

// Route picks the task agent. A confirmation-shaped reply while a proposal
// is pending always goes to the booking agent, whatever the classifier said.
func Route(msg domain.Message, class domain.ClassificationResult, state domain.SessionState) (Decision, error) {
	if class.Category.ShortCircuits() {
		return Decision{}, fmt.Errorf("%w: %s", ErrNotRoutable, class.Category)
	}

	if state.Pending != nil || state.PendingExpired {
		if c := safety.ParseConfirmation(msg.Normalized); c != safety.NotConfirmation {
			return Decision{Agent: domain.CategoryBookingEmail, Confirmation: c, Reason: ReasonPendingConfirmation}, nil
		}
	}

	switch class.Category {
	case domain.CategoryCoach, domain.CategoryTherapistSearch, domain.CategoryBookingEmail:
		return Decision{Agent: class.Category, Reason: ReasonClassification}, nil
	}
	return Decision{}, fmt.Errorf("%w: %q", ErrNotRoutable, class.Category)
}
