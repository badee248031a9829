// Package llm wraps the generative-model providers behind a small,
// timeout-bounded interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// MaxTimeout is the hard ceiling for any single generative call.
const MaxTimeout = 30 * time.Second

var (
	// ErrNotConfigured is returned by the disabled provider.
	ErrNotConfigured = errors.New("llm: no provider configured")
	// ErrEmptyResponse is returned when a provider answers with no text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Role of a message in a generation request.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior exchange passed to the model.
type Message struct {
	Role    Role
	Content string
}

// Request is a single generation call.
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Provider is implemented by each model backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Client bounds every provider call by a timeout and retries agent
// generations with exponential backoff.
type Client struct {
	provider   Provider
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// NewClient wraps a provider.
func NewClient(p Provider, timeout time.Duration, maxRetries int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		provider:   p,
		timeout:    clampTimeout(timeout),
		maxRetries: maxRetries,
		baseDelay:  100 * time.Millisecond,
		logger:     logger,
	}
}

// New builds a Client for cfg.Provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "", "none":
		p = Disabled{}
	case "openai":
		p = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "anthropic":
		p = NewAnthropic(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "gemini":
		p, err = NewGemini(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewClient(p, cfg.Timeout, cfg.MaxRetries, logger), nil
}

// Provider returns the provider name.
func (c *Client) Provider() string { return c.provider.Name() }

// Enabled reports whether a real provider is configured.
func (c *Client) Enabled() bool {
	_, disabled := c.provider.(Disabled)
	return !disabled
}

// Complete sends a single prompt once, bounded by timeout (capped at MaxTimeout).
func (c *Client) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	return c.call(ctx, Request{Messages: []Message{{Role: RoleUser, Content: prompt}}}, clampTimeout(timeout))
}

// Generate runs req with the client's timeout, retrying transient failures.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("Retrying generation", "provider", c.provider.Name(), "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := c.call(ctx, req, c.timeout)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if errors.Is(err, ErrNotConfigured) || ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("generate after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) call(ctx context.Context, req Request, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	text, err := c.provider.Generate(ctx, req)
	c.logger.Debug("LLM call",
		"event", "llm_call",
		"provider", c.provider.Name(),
		"duration_ms", time.Since(start).Milliseconds(),
		"ok", err == nil,
	)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 || d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

// Disabled is the provider used when no model is configured. Every call
// fails so callers take their templated fallback path.
type Disabled struct{}

func (Disabled) Name() string { return "none" }

func (Disabled) Generate(context.Context, Request) (string, error) {
	return "", ErrNotConfigured
}
