package domain

import (
	"strings"
	"time"
	"unicode"
)

// Message is one inbound user utterance. It is never persisted.
type Message struct {
	Text       string
	Normalized string
	SessionID  string
	ReceivedAt time.Time
}

// NewMessage builds a Message with its normalized matching copy.
func NewMessage(sessionID, text string, receivedAt time.Time) Message {
	return Message{
		Text:       text,
		Normalized: Normalize(text),
		SessionID:  sessionID,
		ReceivedAt: receivedAt,
	}
}

var quoteReplacer = strings.NewReplacer(
	"‘", "'", "’", "'", "‛", "'", "′", "'",
	"“", `"`, "”", `"`,
	"\u2013", "-", "\u2014", "-",
)

// Normalize lowercases text, folds typographic quotes to ASCII and
// collapses runs of whitespace to a single space.
func Normalize(text string) string {
	text = quoteReplacer.Replace(strings.ToLower(text))
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
