package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/safecoach/internal/domain"
	"github.com/ashureev/safecoach/internal/mcp"
	"github.com/ashureev/safecoach/internal/safety"
)

const (
	defaultRadiusKM = 25
	maxRadiusKM     = 50
	defaultLimit    = 10

	askLocationMessage       = "Please share a city or postcode so I can search nearby providers."
	searchUnavailableMessage = "Therapist search is not available right now. Please try again later."
	specialtyRelaxedMessage  = "No exact specialty match; showing nearby providers."
	radiusRelaxedMessage     = "No providers found in the requested radius; showing nearby providers."
)

// Searcher finds therapists; *mcp.Client satisfies it.
type Searcher interface {
	SearchTherapists(ctx context.Context, q mcp.TherapistQuery) ([]domain.Therapist, error)
}

var (
	locationPattern  = regexp.MustCompile(`(?i)\b(?:near|in|around|at)\s+(.+)`)
	clauseEnd        = regexp.MustCompile(`(?i)\bwithin\s+\d+\s*(?:km|kilometers?|kilometres?)?\b|\bfor\b|[,.!?]`)
	specialtyPattern = regexp.MustCompile(`(?i)\bfor\s+(.+)`)
	specialtyEnd     = regexp.MustCompile(`(?i)\bwithin\s+\d+\s*(?:km|kilometers?|kilometres?)?\b|\b(?:near|in|around|at)\b|[,.!?]`)
	withinPattern    = regexp.MustCompile(`(?i)\bwithin\s+(\d{1,3})(?:\s*(?:km|kilometers?|kilometres?))?\b`)
	kmPattern        = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:km|kilometers?|kilometres?)\b`)
	limitPattern     = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:therapists?|clinics?|providers?)\b`)
)

var vagueLocations = map[string]bool{"me": true, "here": true, "my area": true}

// searchParams is a parsed therapist request.
type searchParams struct {
	Location  string
	RadiusKM  int
	Specialty string
	Limit     int
}

func parseSearch(text string) searchParams {
	p := searchParams{RadiusKM: defaultRadiusKM, Limit: defaultLimit}
	if m := locationPattern.FindStringSubmatch(text); m != nil {
		p.Location = firstClause(m[1], clauseEnd)
	}
	if m := specialtyPattern.FindStringSubmatch(text); m != nil {
		p.Specialty = firstClause(m[1], specialtyEnd)
	}
	if r, ok := parseRadius(text); ok {
		p.RadiusKM = r
	}
	if m := limitPattern.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		p.Limit = clamp(n, 1, defaultLimit)
	}
	return p
}

// locationFromReply reads a bare "Uppsala" style answer to the location question.
func locationFromReply(text string) string {
	return firstClause(text, clauseEnd)
}

func firstClause(s string, end *regexp.Regexp) string {
	if loc := end.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	s = strings.Trim(s, " .?")
	if vagueLocations[strings.ToLower(s)] {
		return ""
	}
	return s
}

func parseRadius(text string) (int, bool) {
	m := withinPattern.FindStringSubmatch(text)
	if m == nil {
		m = kmPattern.FindStringSubmatch(text)
	}
	if m == nil {
		return 0, false
	}
	n, _ := strconv.Atoi(m[1])
	return clamp(n, 1, maxRadiusKM), true
}

func clamp(n, lo, hi int) int {
	return min(max(n, lo), hi)
}

// TherapistSearch finds nearby providers through the search tool.
type TherapistSearch struct {
	searcher Searcher
	logger   *slog.Logger
}

// NewTherapistSearch creates the therapist search agent. A nil searcher
// answers every request with the unavailable notice.
func NewTherapistSearch(searcher Searcher, logger *slog.Logger) *TherapistSearch {
	if logger == nil {
		logger = slog.Default()
	}
	return &TherapistSearch{searcher: searcher, logger: logger}
}

func (t *TherapistSearch) Category() domain.Category { return domain.CategoryTherapistSearch }

// Handle implements Agent.
func (t *TherapistSearch) Handle(ctx context.Context, req Request) (Result, error) {
	if err := checkCapability(domain.CategoryTherapistSearch, req); err != nil {
		return Result{}, err
	}

	var res Result
	res.Response.Agent = domain.CategoryTherapistSearch

	params := parseSearch(req.Message.Text)
	if params.Location == "" && req.State.AwaitingLocation && safety.LooksLikeLocation(req.Message.Normalized) {
		// Answering our question: keep the filters from the original request.
		if prev, ok := lastUserTurn(req.State); ok {
			params = parseSearch(prev)
		}
		params.Location = locationFromReply(req.Message.Text)
	}
	if params.Location == "" {
		params.Location = req.State.Location
	}
	if params.Location == "" {
		res.Response.Message = askLocationMessage
		res.Mutation.AwaitLocation(true)
		return res, nil
	}
	res.Mutation.AwaitLocation(false)

	if t.searcher == nil {
		res.Response.Message = searchUnavailableMessage
		return res, nil
	}

	found, relaxed, err := t.searchWithRetries(ctx, params)
	switch {
	case err != nil && ctx.Err() != nil:
		return Result{}, ctx.Err()
	case err != nil:
		t.logger.Warn("Therapist search failed",
			"session_id", req.Message.SessionID,
			"error", err,
		)
		if errors.Is(err, mcp.ErrUnavailable) {
			res.Response.Message = searchUnavailableMessage
			return res, nil
		}
		res.Response.Message = noProvidersMessage(params)
		return res, nil
	case len(found) == 0:
		res.Response.Message = noProvidersMessage(params)
		return res, nil
	}

	res.Mutation.RememberLocation(params.Location)
	res.Response.Therapists = found
	switch relaxed {
	case "specialty":
		res.Response.Message = specialtyRelaxedMessage
	case "radius":
		res.Response.Message = radiusRelaxedMessage
	default:
		res.Response.Message = fmt.Sprintf("Here are therapist options near %s.", params.Location)
	}
	return res, nil
}

func noProvidersMessage(p searchParams) string {
	return fmt.Sprintf("No providers found near %s within %d km. Try a larger radius or nearby area.", p.Location, p.RadiusKM)
}

type searchAttempt struct {
	query   mcp.TherapistQuery
	relaxed string
}

// searchWithRetries widens the query until something is found: first
// without the specialty, then at the default radius.
func (t *TherapistSearch) searchWithRetries(ctx context.Context, p searchParams) ([]domain.Therapist, string, error) {
	base := mcp.TherapistQuery{Location: p.Location, RadiusKM: p.RadiusKM, Specialty: p.Specialty, Limit: p.Limit}
	attempts := []searchAttempt{{query: base}}
	if p.Specialty != "" {
		q := base
		q.Specialty = ""
		attempts = append(attempts, searchAttempt{query: q, relaxed: "specialty"})
	}
	if p.RadiusKM < defaultRadiusKM {
		q := base
		q.Specialty = ""
		q.RadiusKM = defaultRadiusKM
		attempts = append(attempts, searchAttempt{query: q, relaxed: "radius"})
	}

	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	var lastErr error
	for _, a := range attempts {
		found, err := t.searcher.SearchTherapists(ctx, a.query)
		if err != nil {
			if errors.Is(err, mcp.ErrUnavailable) || ctx.Err() != nil {
				return nil, "", err
			}
			lastErr = err
			continue
		}
		if len(found) > 0 {
			return found, a.relaxed, nil
		}
	}
	return nil, "", lastErr
}

func lastUserTurn(state domain.SessionState) (string, bool) {
	for i := len(state.History) - 1; i >= 0; i-- {
		if state.History[i].Role == domain.RoleUser {
			return state.History[i].Content, true
		}
	}
	return "", false
}
