package domain

import "time"

// Resource is an external help link shown alongside a reply.
type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// PremiumCTA is the optional upsell attached to non-crisis replies.
type PremiumCTA struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// Exercise is a structured coping exercise.
type Exercise struct {
	Type            string   `json:"type"`
	Steps           []string `json:"steps"`
	DurationSeconds int      `json:"duration_seconds"`
}

// Therapist is one provider returned by the search tool.
type Therapist struct {
	Name       string   `json:"name"`
	Address    string   `json:"address,omitempty"`
	URL        string   `json:"url,omitempty"`
	Phone      string   `json:"phone,omitempty"`
	DistanceKM float64  `json:"distance_km,omitempty"`
	Specialty  []string `json:"specialty,omitempty"`
}

// BookingProposalView is the client-facing summary of a pending proposal.
type BookingProposalView struct {
	PendingActionID string    `json:"pending_action_id"`
	TherapistEmail  string    `json:"therapist_email"`
	RequestedTime   string    `json:"requested_time"`
	Timezone        string    `json:"timezone"`
	Subject         string    `json:"subject"`
	Body            string    `json:"body"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// RiskLevelCrisis is the only risk level the service reports.
const RiskLevelCrisis = "crisis"

// ChatResponse is the wire shape of POST /chat.
type ChatResponse struct {
	CoachMessage         string               `json:"coach_message"`
	Exercise             *Exercise            `json:"exercise,omitempty"`
	Resources            []Resource           `json:"resources"`
	PremiumCTA           *PremiumCTA          `json:"premium_cta,omitempty"`
	Therapists           []Therapist          `json:"therapists"`
	BookingProposal      *BookingProposalView `json:"booking_proposal,omitempty"`
	RequiresConfirmation bool                 `json:"requires_confirmation"`
	RiskLevel            string               `json:"risk_level,omitempty"`
}

// Response is a reply produced by the gate or a task agent. The set of
// implementations is closed; each one fixes which optional fields may appear.
type Response interface {
	Category() Category
	ChatResponse() ChatResponse
	sealed()
}

// CrisisResponse escalates to emergency resources. It never carries an upsell.
type CrisisResponse struct {
	Message   string
	Resources []Resource
}

func (CrisisResponse) Category() Category { return CategoryCrisis }
func (CrisisResponse) sealed()            {}

// ChatResponse renders the crisis reply.
func (r CrisisResponse) ChatResponse() ChatResponse {
	return ChatResponse{
		CoachMessage: r.Message,
		Resources:    nonNil(r.Resources),
		Therapists:   []Therapist{},
		RiskLevel:    RiskLevelCrisis,
	}
}

// PrescriptionResponse refuses medical advice and refers to a professional.
type PrescriptionResponse struct {
	Message   string
	Resources []Resource
	CTA       PremiumCTA
}

func (PrescriptionResponse) Category() Category { return CategoryPrescription }
func (PrescriptionResponse) sealed()            {}

// ChatResponse renders the refusal with its referral and CTA.
func (r PrescriptionResponse) ChatResponse() ChatResponse {
	cta := r.CTA
	return ChatResponse{
		CoachMessage: r.Message,
		Resources:    nonNil(r.Resources),
		PremiumCTA:   &cta,
		Therapists:   []Therapist{},
	}
}

// ScopeRefusal answers JAILBREAK and OUT_OF_SCOPE messages.
type ScopeRefusal struct {
	Kind    Category
	Message string
}

func (r ScopeRefusal) Category() Category { return r.Kind }
func (ScopeRefusal) sealed()              {}

// ChatResponse renders the fixed refusal text.
func (r ScopeRefusal) ChatResponse() ChatResponse {
	return ChatResponse{
		CoachMessage: r.Message,
		Resources:    []Resource{},
		Therapists:   []Therapist{},
	}
}

// TaskResponse is produced by a task agent.
type TaskResponse struct {
	Agent      Category
	Message    string
	Exercise   *Exercise
	Resources  []Resource
	Therapists []Therapist
	CTA        *PremiumCTA
	Proposal   *BookingProposalView
}

func (r TaskResponse) Category() Category { return r.Agent }
func (TaskResponse) sealed()              {}

// ChatResponse renders the agent reply. A proposal always requires confirmation.
func (r TaskResponse) ChatResponse() ChatResponse {
	return ChatResponse{
		CoachMessage:         r.Message,
		Exercise:             r.Exercise,
		Resources:            nonNil(r.Resources),
		PremiumCTA:           r.CTA,
		Therapists:           nonNilTherapists(r.Therapists),
		BookingProposal:      r.Proposal,
		RequiresConfirmation: r.Proposal != nil,
	}
}

// TryAgainMessage is returned when the pipeline cannot complete a turn.
const TryAgainMessage = "Sorry, something went wrong on my side. Please try again in a moment."

// TryAgainResponse is the generic degradation reply.
func TryAgainResponse() Response {
	return TaskResponse{Agent: CategoryCoach, Message: TryAgainMessage}
}

func nonNil(r []Resource) []Resource {
	if r == nil {
		return []Resource{}
	}
	return r
}

func nonNilTherapists(t []Therapist) []Therapist {
	if t == nil {
		return []Therapist{}
	}
	return t
}
