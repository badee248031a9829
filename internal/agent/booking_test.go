package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/safecoach/internal/domain"
	"github.com/ashureev/safecoach/internal/safety"
	"github.com/ashureev/safecoach/internal/store"
)

func newTestBooking(sender *fakeSender, outbox *fakeOutbox) *Booking {
	opts := BookingOptions{Now: func() time.Time { return testNow }}
	if sender != nil {
		opts.Sender = sender
	}
	if outbox != nil {
		opts.Outbox = outbox
	}
	return NewBooking(opts)
}

func pendingProposal() *domain.PendingBookingProposal {
	when := time.Date(2026, 2, 11, 15, 0, 0, 0, stockholm)
	subject, body := composeBookingEmail(when, "Sam")
	return domain.NewPendingBookingProposal("01JTESTPROPOSAL", "anna@clinic.se", when, subject, body, testNow)
}

func TestBooking_DraftsProposal(t *testing.T) {
	t.Parallel()

	b := newTestBooking(nil, nil)
	res, err := b.Handle(context.Background(), routed(domain.CategoryBookingEmail,
		"Please email Anna@Clinic.se for an appointment tomorrow 15:00, my name is Sam", domain.SessionState{}))
	require.NoError(t, err)

	p := res.Mutation.Proposal()
	require.NotNil(t, p)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "anna@clinic.se", p.TherapistEmail)
	assert.Equal(t, "Appointment request - 2026-02-11 15:00 (Europe/Stockholm)", p.Subject)
	assert.Equal(t, "Hello,\n\nI would like to request an appointment on 2026-02-11 15:00 (Europe/Stockholm).\n\nBest regards,\nSam", p.Body)
	assert.Equal(t, testNow.Add(domain.BookingTTL), p.ExpiresAt)

	view := res.Response.Proposal
	require.NotNil(t, view)
	assert.Equal(t, p.ID, view.PendingActionID)
	assert.Equal(t, "2026-02-11 15:00 Europe/Stockholm", view.RequestedTime)
	assert.Equal(t, BookingTimezone, view.Timezone)
	assert.Equal(t, "I prepared an appointment email to anna@clinic.se for 2026-02-11 15:00 Europe/Stockholm. Reply YES to send or NO to cancel.", res.Response.Message)
	assert.True(t, res.Response.ChatResponse().RequiresConfirmation)
}

func TestBooking_AsksForMissingFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want string
	}{
		{"I want to book an appointment", missingBothMessage},
		{"book with anna@clinic.se", missingTimeMessage},
		{"book an appointment tomorrow 15:00", missingEmailMessage},
		{"book anna@clinic.se tomorrow", clarifyTomorrow},
		{"book anna@clinic.se 2026-02-01 10:00", pastTimeMessage},
	}
	b := newTestBooking(nil, nil)
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			res, err := b.Handle(context.Background(), routed(domain.CategoryBookingEmail, tt.text, domain.SessionState{}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Response.Message)
			assert.Nil(t, res.Mutation.Proposal())
			waiting, set := res.Mutation.AwaitingBookingDetails()
			assert.True(t, set)
			assert.True(t, waiting)
		})
	}
}

func TestBooking_CompletesDraftFromHistory(t *testing.T) {
	t.Parallel()

	b := newTestBooking(nil, nil)
	state := domain.SessionState{
		AwaitingBookingDetails: true,
		History:                history("I want to book an appointment with anna@clinic.se", missingTimeMessage),
	}
	res, err := b.Handle(context.Background(), routed(domain.CategoryBookingEmail, "tomorrow 15:00", state))
	require.NoError(t, err)

	p := res.Mutation.Proposal()
	require.NotNil(t, p)
	assert.Equal(t, "anna@clinic.se", p.TherapistEmail)
}

func TestBooking_DraftIgnoresFinishedExchanges(t *testing.T) {
	t.Parallel()

	b := newTestBooking(nil, nil)
	state := domain.SessionState{History: history("book anna@clinic.se tomorrow 15:00", sentMessage)}
	res, err := b.Handle(context.Background(), routed(domain.CategoryBookingEmail, "book another appointment", state))
	require.NoError(t, err)
	assert.Equal(t, missingBothMessage, res.Response.Message)
	assert.Nil(t, res.Mutation.Proposal())
}

func TestBooking_PendingReminderAndUpdate(t *testing.T) {
	t.Parallel()

	b := newTestBooking(nil, nil)
	state := domain.SessionState{Pending: pendingProposal()}

	res, err := b.Handle(context.Background(), routed(domain.CategoryBookingEmail, "what was that booking again?", state))
	require.NoError(t, err)
	require.NotNil(t, res.Response.Proposal)
	assert.Contains(t, res.Response.Message, "You have a pending email to anna@clinic.se")
	assert.Nil(t, res.Mutation.Proposal())

	res, err = b.Handle(context.Background(), routed(domain.CategoryBookingEmail, "book Friday 10:00 instead", state))
	require.NoError(t, err)
	p := res.Mutation.Proposal()
	require.NotNil(t, p)
	assert.Equal(t, "anna@clinic.se", p.TherapistEmail)
	assert.Equal(t, "2026-02-13 10:00", formatBookingTime(p.RequestedTime))
}

func TestBooking_ConfirmSends(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	outbox := &fakeOutbox{}
	b := newTestBooking(sender, outbox)
	p := pendingProposal()

	res, err := b.Handle(context.Background(), confirmation(safety.Affirm, "yes", domain.SessionState{Pending: p}))
	require.NoError(t, err)

	assert.Equal(t, sentMessage, res.Response.Message)
	assert.True(t, res.Mutation.ClearsPending())
	require.Len(t, sender.Sent(), 1)
	assert.Equal(t, p.TherapistEmail, sender.Sent()[0].To)
	assert.Equal(t, p.Subject, sender.Sent()[0].Subject)
	assert.Equal(t, p.Body, sender.Sent()[0].Body)

	require.Len(t, outbox.Attempts(), 1)
	assert.Equal(t, store.EmailStatusSent, outbox.Attempts()[0].Status)
	assert.Equal(t, "s1", outbox.Attempts()[0].SessionID)
}

func TestBooking_ConfirmOverQuota(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	outbox := &fakeOutbox{count: defaultEmailQuota}
	b := newTestBooking(sender, outbox)

	res, err := b.Handle(context.Background(), confirmation(safety.Affirm, "yes", domain.SessionState{Pending: pendingProposal()}))
	require.NoError(t, err)

	assert.Equal(t, "I could not send the email: Email rate limit exceeded (max 3 attempts per 24 hours).", res.Response.Message)
	assert.True(t, res.Mutation.ClearsPending())
	assert.Empty(t, sender.Sent())
	require.Len(t, outbox.Attempts(), 1)
	assert.Equal(t, store.EmailStatusBlocked, outbox.Attempts()[0].Status)
}

func TestBooking_ConfirmSendFailure(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{err: errors.New("resend: 422 invalid recipient")}
	outbox := &fakeOutbox{}
	b := newTestBooking(sender, outbox)

	res, err := b.Handle(context.Background(), confirmation(safety.Affirm, "send it", domain.SessionState{Pending: pendingProposal()}))
	require.NoError(t, err)

	assert.Equal(t, "I could not send the email: the email service rejected the request.", res.Response.Message)
	assert.True(t, res.Mutation.ClearsPending())
	require.Len(t, outbox.Attempts(), 1)
	assert.Equal(t, store.EmailStatusFailed, outbox.Attempts()[0].Status)
	assert.NotEmpty(t, outbox.Attempts()[0].Error)
}

func TestBooking_ConfirmWithoutSender(t *testing.T) {
	t.Parallel()

	b := newTestBooking(nil, nil)
	res, err := b.Handle(context.Background(), confirmation(safety.Affirm, "yes", domain.SessionState{Pending: pendingProposal()}))
	require.NoError(t, err)
	assert.Equal(t, sendUnavailableMsg, res.Response.Message)
	assert.True(t, res.Mutation.ClearsPending())
}

func TestBooking_Decline(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	b := newTestBooking(sender, nil)
	res, err := b.Handle(context.Background(), confirmation(safety.Decline, "no", domain.SessionState{Pending: pendingProposal()}))
	require.NoError(t, err)

	assert.Equal(t, cancelledMessage, res.Response.Message)
	assert.True(t, res.Mutation.ClearsPending())
	assert.Empty(t, sender.Sent())
}

func TestBooking_ConfirmAfterExpiry(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	b := newTestBooking(sender, nil)
	res, err := b.Handle(context.Background(), confirmation(safety.Affirm, "yes", domain.SessionState{PendingExpired: true}))
	require.NoError(t, err)

	assert.Equal(t, "Your pending booking request expired after 15 minutes. Please start again with therapist email and time.", res.Response.Message)
	assert.Empty(t, sender.Sent())
}

func TestBooking_ConfirmWithNothingPending(t *testing.T) {
	t.Parallel()

	b := newTestBooking(&fakeSender{}, nil)
	res, err := b.Handle(context.Background(), routed(domain.CategoryBookingEmail, "yes", domain.SessionState{}))
	require.NoError(t, err)
	assert.Equal(t, noPendingMessage, res.Response.Message)
}

func TestBooking_RejectsForeignMessages(t *testing.T) {
	t.Parallel()

	b := newTestBooking(nil, nil)
	_, err := b.Handle(context.Background(), routed(domain.CategoryCoach, "I feel low", domain.SessionState{}))
	assert.ErrorIs(t, err, ErrCapabilityMismatch)
}

func TestExtractSenderName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Sam Berg", extractSenderName("hi, my name is Sam Berg."))
	assert.Equal(t, "Sam", extractSenderName("My name is Sam and I need help"))
	assert.Empty(t, extractSenderName("I'm anxious"))
}
