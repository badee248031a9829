package safety

import (
	"regexp"
	"strings"
	"unicode"
)

// Confirmation is a short YES/NO reply to a pending proposal.
type Confirmation int

const (
	NotConfirmation Confirmation = iota
	Affirm
	Decline
)

func (c Confirmation) String() string {
	switch c {
	case Affirm:
		return "yes"
	case Decline:
		return "no"
	}
	return "none"
}

const maxConfirmationTokens = 4

var (
	affirmTokens = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true, "ok": true, "okay": true,
		"confirm": true, "confirmed": true, "send": true, "sure": true, "ja": true,
	}
	declineTokens = map[string]bool{
		"no": true, "n": true, "nope": true, "cancel": true, "stop": true, "dont": true, "nej": true,
	}
	fillerTokens = map[string]bool{
		"please": true, "it": true, "thanks": true, "thank": true, "you": true,
	}
)

// ParseConfirmation classifies a normalized message that consists only of
// confirmation words (plus punctuation). Mixed YES and NO is not a confirmation.
func ParseConfirmation(normalized string) Confirmation {
	tokens := strings.FieldsFunc(strings.ReplaceAll(normalized, "'", ""), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(tokens) == 0 || len(tokens) > maxConfirmationTokens {
		return NotConfirmation
	}

	var yes, no bool
	for _, tok := range tokens {
		switch {
		case affirmTokens[tok]:
			yes = true
		case declineTokens[tok]:
			no = true
		case fillerTokens[tok]:
		default:
			return NotConfirmation
		}
	}
	switch {
	case yes && !no:
		return Affirm
	case no && !yes:
		return Decline
	}
	return NotConfirmation
}

// IsConfirmation reports whether the message is a YES or NO reply.
func IsConfirmation(normalized string) bool {
	return ParseConfirmation(normalized) != NotConfirmation
}

var locationReplyPattern = regexp.MustCompile(`^[\p{L}\p{N}_\-\s]{2,40}$`)

// LooksLikeLocation reports whether a reply is a bare place name or postcode.
func LooksLikeLocation(normalized string) bool {
	s := strings.TrimSpace(strings.TrimRight(normalized, ".!"))
	if s == "" || len(strings.Fields(s)) > 4 {
		return false
	}
	if IsConfirmation(s) {
		return false
	}
	return locationReplyPattern.MatchString(s)
}

var bookingDetailPattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}:\d{2}|\d{1,2} ?[ap]m|tomorrow|mon(day)?|tue(s|sday)?|wed(nesday)?|thu(r|rs|rsday)?|fri(day)?|sat(urday)?|sun(day)?|my name is)\b`)

// LooksLikeBookingDetail reports whether a reply carries a date, time or
// sender name for a booking request in progress.
func LooksLikeBookingDetail(normalized string) bool {
	return bookingDetailPattern.MatchString(normalized)
}
