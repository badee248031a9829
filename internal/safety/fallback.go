package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/safecoach/internal/domain"
)

// Completer is the narrow generative-model contract the fallback needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// DefaultFallbackTimeout bounds a single fallback call.
const DefaultFallbackTimeout = 5 * time.Second

// ErrMalformedVerdict is returned when the model reply names no known label.
var ErrMalformedVerdict = errors.New("fallback: reply contained no category label")

// fallbackLabels are the only answers the fallback may give.
var fallbackLabels = []domain.Category{
	domain.CategoryCoach,
	domain.CategoryTherapistSearch,
	domain.CategoryBookingEmail,
}

const fallbackPrompt = `You route messages for a mental-health coaching app.
Pick exactly one label for the user's message:
COACH - feelings, stress, wellbeing, coping skills, general conversation
THERAPIST_SEARCH - finding a therapist, psychologist, clinic or provider
BOOKING_EMAIL - emailing a therapist or booking an appointment
Reply with the label only.

Message: %q`

// ModelFallback asks a generative model to label messages the rules could
// not place.
type ModelFallback struct {
	completer Completer
	timeout   time.Duration
	cache     *VerdictCache
	logger    *slog.Logger
}

// NewModelFallback creates a fallback classifier. cache may be nil.
func NewModelFallback(completer Completer, timeout time.Duration, cache *VerdictCache, logger *slog.Logger) *ModelFallback {
	if timeout <= 0 {
		timeout = DefaultFallbackTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelFallback{completer: completer, timeout: timeout, cache: cache, logger: logger}
}

// Classify implements Fallback.
func (f *ModelFallback) Classify(ctx context.Context, normalized string) (domain.Category, error) {
	if f.cache != nil {
		if cat, ok := f.cache.Get(normalized); ok {
			return cat, nil
		}
	}

	start := time.Now()
	reply, err := f.completer.Complete(ctx, fmt.Sprintf(fallbackPrompt, normalized), f.timeout)
	if err != nil {
		return "", fmt.Errorf("fallback completion: %w", err)
	}

	cat, ok := parseVerdict(reply)
	f.logger.Debug("fallback classification",
		"event", "llm_call",
		"purpose", "fallback_classification",
		"duration_ms", time.Since(start).Milliseconds(),
		"parsed", ok,
	)
	if !ok {
		return "", ErrMalformedVerdict
	}

	if f.cache != nil {
		f.cache.Set(normalized, cat)
	}
	return cat, nil
}

// parseVerdict picks the earliest allowed label in the reply.
func parseVerdict(reply string) (domain.Category, bool) {
	upper := strings.ToUpper(reply)
	best, bestIdx := domain.Category(""), -1
	for _, label := range fallbackLabels {
		idx := strings.Index(upper, string(label))
		if idx >= 0 && (bestIdx < 0 || idx < bestIdx) {
			best, bestIdx = label, idx
		}
	}
	return best, bestIdx >= 0
}
