package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ashureev/safecoach/internal/domain"
	"github.com/ashureev/safecoach/internal/email"
	"github.com/ashureev/safecoach/internal/safety"
	"github.com/ashureev/safecoach/internal/store"
)

const (
	defaultEmailQuota = 3
	emailQuotaWindow  = 24 * time.Hour
	// draftTurns bounds how many earlier user turns a draft collects details from.
	draftTurns = 4
)

const (
	sentMessage          = "Email sent successfully. I have cleared the pending booking request."
	cancelledMessage     = "Okay, I cancelled the pending booking email request."
	noPendingMessage     = "No pending booking request to confirm. Please provide therapist email + time."
	missingBothMessage   = "Please share the therapist email and requested date/time in Europe/Stockholm (for example: therapist@example.com, 2026-02-14 15:00)."
	missingEmailMessage  = "Please provide the therapist email address."
	missingTimeMessage   = "Please provide the requested appointment date/time in Europe/Stockholm."
	pastTimeMessage      = "That time has already passed. Please choose a future date/time in Europe/Stockholm."
	sendUnavailableMsg   = "Email sending is not available right now. I have cleared the pending booking request."
	quotaExceededMessage = "Email rate limit exceeded (max %d attempts per 24 hours)."
)

var (
	emailPattern = regexp.MustCompile(`([A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,})`)
	namePattern  = regexp.MustCompile(`(?i)\bmy name is\s+([a-z][a-z\s.'-]{1,60})`)
)

// Outbox records email attempts and enforces the per-session quota;
// store.Repository satisfies it.
type Outbox interface {
	RecordEmailAttempt(ctx context.Context, attempt store.EmailAttempt) error
	CountEmailAttempts(ctx context.Context, sessionID string, since time.Time) (int, error)
}

// BookingOptions configures the booking agent.
type BookingOptions struct {
	Sender  email.Sender
	Outbox  Outbox
	MaxSent int
	Now     func() time.Time
	Logger  *slog.Logger
}

// Booking drafts appointment request emails and sends them once the user
// confirms.
type Booking struct {
	sender  email.Sender
	outbox  Outbox
	maxSent int
	now     func() time.Time
	logger  *slog.Logger
}

// NewBooking creates the booking agent. Without a sender, confirmations
// are answered but nothing is sent.
func NewBooking(opts BookingOptions) *Booking {
	b := &Booking{
		sender:  opts.Sender,
		outbox:  opts.Outbox,
		maxSent: opts.MaxSent,
		now:     opts.Now,
		logger:  opts.Logger,
	}
	if b.maxSent <= 0 {
		b.maxSent = defaultEmailQuota
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

func (b *Booking) Category() domain.Category { return domain.CategoryBookingEmail }

// Handle implements Agent.
func (b *Booking) Handle(ctx context.Context, req Request) (Result, error) {
	if err := checkCapability(domain.CategoryBookingEmail, req); err != nil {
		return Result{}, err
	}

	var res Result
	res.Response.Agent = domain.CategoryBookingEmail

	confirmation := req.Decision.Confirmation
	if confirmation == safety.NotConfirmation {
		confirmation = safety.ParseConfirmation(req.Message.Normalized)
	}

	switch {
	case confirmation != safety.NotConfirmation && req.State.Pending != nil:
		return b.confirm(ctx, req, confirmation)
	case confirmation != safety.NotConfirmation && req.State.PendingExpired:
		b.logger.Info("Booking proposal expired", "session_id", req.Message.SessionID)
		res.Response.Message = fmt.Sprintf("Your pending booking request expired after %d minutes. "+
			"Please start again with therapist email and time.", int(domain.BookingTTL.Minutes()))
		return res, nil
	case confirmation != safety.NotConfirmation:
		res.Response.Message = noPendingMessage
		return res, nil
	}

	return b.draft(req)
}

// draft builds a proposal from the message, filling gaps from the
// user's previous few turns.
func (b *Booking) draft(req Request) (Result, error) {
	var res Result
	res.Response.Agent = domain.CategoryBookingEmail
	now := b.now()

	to := extractEmail(req.Message.Text)
	when, clarification := parseRequestedTime(req.Message.Text, now)
	name := extractSenderName(req.Message.Text)

	if to == "" || when.IsZero() || name == "" {
		for _, text := range draftTexts(req.State, draftTurns) {
			if to == "" {
				to = extractEmail(text)
			}
			if when.IsZero() && clarification == "" {
				when, _ = parseRequestedTime(text, now)
			}
			if name == "" {
				name = extractSenderName(text)
			}
		}
	}

	if p := req.State.Pending; p != nil {
		// Changing one field of a pending proposal keeps the other.
		switch {
		case to == "" && !when.IsZero():
			to = p.TherapistEmail
		case to != "" && when.IsZero() && clarification == "":
			when = p.RequestedTime
		}
	}

	if to == "" || when.IsZero() {
		if p := req.State.Pending; p != nil && to == "" && when.IsZero() && clarification == "" {
			res.Response.Message = fmt.Sprintf("You have a pending email to %s for %s %s. Reply YES to send or NO to cancel.",
				p.TherapistEmail, formatBookingTime(p.RequestedTime), BookingTimezone)
			res.Response.Proposal = proposalView(p)
			return res, nil
		}
		res.Response.Message = missingFieldsMessage(to, when, clarification)
		res.Mutation.AwaitBookingDetails(true)
		return res, nil
	}
	if !when.After(now) {
		res.Response.Message = pastTimeMessage
		res.Mutation.AwaitBookingDetails(true)
		return res, nil
	}

	subject, body := composeBookingEmail(when, name)
	p := domain.NewPendingBookingProposal(ulid.Make().String(), to, when, subject, body, now)
	res.Mutation.SetPending(p)
	res.Response.Proposal = proposalView(p)
	res.Response.Message = fmt.Sprintf("I prepared an appointment email to %s for %s %s. Reply YES to send or NO to cancel.",
		to, formatBookingTime(when), BookingTimezone)

	b.logger.Info("Booking proposal created",
		"session_id", req.Message.SessionID,
		"pending_action_id", p.ID,
		"recipient_domain", email.RecipientDomain(to),
	)
	return res, nil
}

func (b *Booking) confirm(ctx context.Context, req Request, c safety.Confirmation) (Result, error) {
	var res Result
	res.Response.Agent = domain.CategoryBookingEmail
	res.Mutation.ClearPending()
	p := req.State.Pending

	if c == safety.Decline {
		b.logger.Info("Booking proposal cancelled", "session_id", req.Message.SessionID, "pending_action_id", p.ID)
		res.Response.Message = cancelledMessage
		return res, nil
	}

	res.Response.Message = b.send(ctx, req.Message.SessionID, p)
	return res, nil
}

// send dispatches a confirmed proposal and returns the user-facing outcome.
// The outbox row is written even if the request context has ended.
func (b *Booking) send(ctx context.Context, sessionID string, p *domain.PendingBookingProposal) string {
	if b.sender == nil {
		return sendUnavailableMsg
	}
	record := func(status string, sendErr error) {
		if b.outbox == nil {
			return
		}
		attempt := store.EmailAttempt{
			SessionID: sessionID,
			To:        p.TherapistEmail,
			Subject:   p.Subject,
			Status:    status,
			CreatedAt: b.now(),
		}
		if sendErr != nil {
			attempt.Error = sendErr.Error()
		}
		if err := b.outbox.RecordEmailAttempt(context.WithoutCancel(ctx), attempt); err != nil {
			b.logger.Error("Failed to record email attempt", "session_id", sessionID, "error", err)
		}
	}

	if b.outbox != nil {
		n, err := b.outbox.CountEmailAttempts(ctx, sessionID, b.now().Add(-emailQuotaWindow))
		if err != nil {
			b.logger.Error("Failed to count email attempts", "session_id", sessionID, "error", err)
			return "I could not send the email: the outbox is unavailable."
		}
		if n >= b.maxSent {
			record(store.EmailStatusBlocked, nil)
			return "I could not send the email: " + fmt.Sprintf(quotaExceededMessage, b.maxSent)
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()
	err := b.sender.Send(sendCtx, email.Message{To: p.TherapistEmail, Subject: p.Subject, Body: p.Body})
	if err != nil {
		record(store.EmailStatusFailed, err)
		b.logger.Warn("Booking email failed",
			"session_id", sessionID,
			"pending_action_id", p.ID,
			"sender", b.sender.Name(),
			"error", err,
		)
		return "I could not send the email: " + sendFailureDetail(err)
	}

	record(store.EmailStatusSent, nil)
	b.logger.Info("Booking email sent",
		"session_id", sessionID,
		"pending_action_id", p.ID,
		"sender", b.sender.Name(),
		"recipient_domain", email.RecipientDomain(p.TherapistEmail),
	)
	return sentMessage
}

func sendFailureDetail(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "the email service timed out."
	}
	return "the email service rejected the request."
}

func missingFieldsMessage(to string, when time.Time, clarification string) string {
	switch {
	case clarification != "" && when.IsZero():
		return clarification
	case to == "" && when.IsZero():
		return missingBothMessage
	case to == "":
		return missingEmailMessage
	}
	return missingTimeMessage
}

func composeBookingEmail(when time.Time, name string) (subject, body string) {
	ts := formatBookingTime(when)
	if name == "" {
		name = "A client"
	}
	subject = fmt.Sprintf("Appointment request - %s (%s)", ts, BookingTimezone)
	body = fmt.Sprintf("Hello,\n\nI would like to request an appointment on %s (%s).\n\nBest regards,\n%s", ts, BookingTimezone, name)
	return subject, body
}

func proposalView(p *domain.PendingBookingProposal) *domain.BookingProposalView {
	return &domain.BookingProposalView{
		PendingActionID: p.ID,
		TherapistEmail:  p.TherapistEmail,
		RequestedTime:   formatBookingTime(p.RequestedTime) + " " + BookingTimezone,
		Timezone:        BookingTimezone,
		Subject:         p.Subject,
		Body:            p.Body,
		ExpiresAt:       p.ExpiresAt,
	}
}

func extractEmail(text string) string {
	return strings.ToLower(emailPattern.FindString(text))
}

func extractSenderName(text string) string {
	m := namePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	name, _, _ := strings.Cut(strings.Join(strings.Fields(m[1]), " "), " and ")
	name = strings.TrimRight(name, ".")
	if len(name) > 80 {
		name = name[:80]
	}
	return name
}

var draftQuestions = map[string]bool{
	missingBothMessage:  true,
	missingEmailMessage: true,
	missingTimeMessage:  true,
	pastTimeMessage:     true,
	clarifyTomorrow:     true,
	clarifyWeekday:      true,
	clarifyDateNoTime:   true,
	clarifyTimeNoDate:   true,
	clarifyBadTime:      true,
	clarifyBadDate:      true,
}

// draftTexts returns up to n user turns of the booking exchange in
// progress, newest first. The walk stops at the first assistant reply that
// was not one of our own follow-up questions.
func draftTexts(state domain.SessionState, n int) []string {
	var out []string
	for i := len(state.History) - 1; i >= 0 && len(out) < n; i-- {
		t := state.History[i]
		if t.Role == domain.RoleAssistant {
			if !draftQuestions[t.Content] {
				break
			}
			continue
		}
		out = append(out, t.Content)
	}
	return out
}
