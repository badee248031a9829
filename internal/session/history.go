package session

import (
	"github.com/ashureev/safecoach/internal/domain"
)

// History is a fixed-size ring of conversation turns. When full, appending
// overwrites the oldest turn. It is not safe for concurrent use; the owning
// entry's mutex guards it.
type History struct {
	buf  []domain.Turn
	size int
	head int // next write position
	full bool
}

// NewHistory creates a ring holding at most size turns.
func NewHistory(size int) *History {
	if size <= 0 {
		size = domain.HistoryLimit
	}
	return &History{
		buf:  make([]domain.Turn, size),
		size: size,
	}
}

// Append adds a turn, evicting the oldest when full.
func (h *History) Append(t domain.Turn) {
	h.buf[h.head] = t
	h.head = (h.head + 1) % h.size
	if h.head == 0 {
		h.full = true
	}
}

// Turns returns the turns oldest first as a new slice.
func (h *History) Turns() []domain.Turn {
	if !h.full {
		out := make([]domain.Turn, h.head)
		copy(out, h.buf[:h.head])
		return out
	}
	out := make([]domain.Turn, h.size)
	n := copy(out, h.buf[h.head:])
	copy(out[n:], h.buf[:h.head])
	return out
}

// Len returns the number of turns held.
func (h *History) Len() int {
	if h.full {
		return h.size
	}
	return h.head
}

// Reset clears the ring.
func (h *History) Reset() {
	h.head = 0
	h.full = false
	clear(h.buf)
}

// Capacity returns the maximum number of turns.
func (h *History) Capacity() int {
	return h.size
}
