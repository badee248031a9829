// Package mcp calls the therapist-search tool server.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/safecoach/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultCacheTTL = 10 * time.Minute
	cacheSize       = 256
	maxResponseBody = 1 << 20
)

var (
	// ErrUnavailable is returned when no tool server is configured.
	ErrUnavailable = errors.New("mcp: therapist search unavailable")
	// ErrInvalidResponse is returned when the tool reply fails validation.
	ErrInvalidResponse = errors.New("mcp: invalid tool response")
)

// TherapistQuery is the therapist_search tool input.
type TherapistQuery struct {
	Location  string `json:"location_text"`
	RadiusKM  int    `json:"radius_km"`
	Specialty string `json:"specialty,omitempty"`
	Limit     int    `json:"limit"`
}

func (q TherapistQuery) cacheKey() string {
	return fmt.Sprintf("%s|%d|%s|%d", strings.ToLower(strings.TrimSpace(q.Location)), q.RadiusKM, strings.ToLower(q.Specialty), q.Limit)
}

type toolRequest struct {
	Params TherapistQuery `json:"params"`
}

type toolResponse struct {
	Result *struct {
		Therapists []domain.Therapist `json:"therapists"`
	} `json:"result"`
	Error string `json:"error,omitempty"`
}

// Client posts to {base}/tools/therapist_search.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *expirable.LRU[string, []domain.Therapist]
}

// NewClient creates a client. An empty baseURL yields a client whose
// searches fail with ErrUnavailable.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cache:      expirable.NewLRU[string, []domain.Therapist](cacheSize, nil, defaultCacheTTL),
	}
}

// Available reports whether a tool server is configured.
func (c *Client) Available() bool { return c.baseURL != "" }

// SearchTherapists runs the therapist_search tool.
func (c *Client) SearchTherapists(ctx context.Context, q TherapistQuery) ([]domain.Therapist, error) {
	if !c.Available() {
		return nil, ErrUnavailable
	}
	key := q.cacheKey()
	if cached, ok := c.cache.Get(key); ok {
		return cloneTherapists(cached), nil
	}

	body, err := json.Marshal(toolRequest{Params: q})
	if err != nil {
		return nil, fmt.Errorf("marshal tool request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/therapist_search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("therapist_search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("therapist_search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out toolResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("therapist_search: %s", out.Error)
	}
	if out.Result == nil {
		return nil, fmt.Errorf("%w: missing result", ErrInvalidResponse)
	}

	results := make([]domain.Therapist, 0, len(out.Result.Therapists))
	for _, t := range out.Result.Therapists {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("%w: therapist without name", ErrInvalidResponse)
		}
		results = append(results, t)
	}
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}

	c.cache.Add(key, results)
	return cloneTherapists(results), nil
}

func cloneTherapists(in []domain.Therapist) []domain.Therapist {
	out := make([]domain.Therapist, len(in))
	copy(out, in)
	return out
}
