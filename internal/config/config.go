// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	GRPCPort       string
	FrontendURL    string
	MaxRequestBody int64
	DevMode        bool

	DBPath         string
	AuditRetention time.Duration

	RulesPath  string
	RulesWatch bool

	Session   SessionConfig
	RateLimit RateLimitConfig
	LLM       LLMConfig
	Email     EmailConfig

	MCPBaseURL string
	LogLevel   string
	LogFormat  string
}

// SessionConfig controls the in-memory session store.
type SessionConfig struct {
	MaxSessions   int
	IdleTTL       time.Duration
	SweepInterval time.Duration
	CookieName    string
}

// RateLimitConfig controls per-session chat throttling.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// LLMConfig selects the generative model provider.
type LLMConfig struct {
	Provider        string
	Model           string
	BaseURL         string
	OpenAIKey       string
	AnthropicKey    string
	GoogleKey       string
	Timeout         time.Duration
	MaxRetries      int
	FallbackEnabled bool
	FallbackTimeout time.Duration
	FallbackCache   time.Duration
}

// EmailConfig controls booking email dispatch.
type EmailConfig struct {
	Provider     string
	ResendAPIKey string
	From         string
	MaxPerDay    int
}

// maxLLMTimeout is the ceiling for any generative call.
const maxLLMTimeout = 30 * time.Second

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		GRPCPort:       getEnv("GRPC_PORT", "9090"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		MaxRequestBody: int64(getEnvInt("MAX_REQUEST_BODY", 1<<20)),
		DevMode:        getEnvBool("DEV_MODE", false),
		DBPath:         getEnv("DB_PATH", "./data/safecoach.db"),
		AuditRetention: getEnvDuration("AUDIT_RETENTION", 720*time.Hour),
		RulesPath:      getEnv("RULES_PATH", ""),
		RulesWatch:     getEnvBool("RULES_WATCH", false),
		Session: SessionConfig{
			MaxSessions:   getEnvInt("SESSION_MAX", 10000),
			IdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 60*time.Minute),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			CookieName:    getEnv("SESSION_COOKIE_NAME", "mh_session"),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		},
		LLM: LLMConfig{
			Provider:        strings.ToLower(getEnv("LLM_PROVIDER", "none")),
			Model:           getEnv("LLM_MODEL", ""),
			BaseURL:         getEnv("LLM_BASE_URL", ""),
			OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:    getEnv("ANTHROPIC_API_KEY", ""),
			GoogleKey:       getEnv("GOOGLE_API_KEY", ""),
			Timeout:         getEnvDuration("LLM_TIMEOUT", maxLLMTimeout),
			MaxRetries:      getEnvInt("LLM_MAX_RETRIES", 2),
			FallbackEnabled: getEnvBool("FALLBACK_CLASSIFIER_ENABLED", true),
			FallbackTimeout: getEnvDuration("FALLBACK_TIMEOUT", 5*time.Second),
			FallbackCache:   getEnvDuration("FALLBACK_CACHE_TTL", 10*time.Minute),
		},
		Email: EmailConfig{
			Provider:     strings.ToLower(getEnv("EMAIL_PROVIDER", "log")),
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			From:         getEnv("EMAIL_FROM", "SafeCoach <noreply@example.com>"),
			MaxPerDay:    getEnvInt("EMAIL_MAX_PER_DAY", 3),
		},
		MCPBaseURL: strings.TrimRight(getEnv("MCP_BASE_URL", ""), "/"),
		LogLevel:   strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:  strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}

	if cfg.LLM.Timeout > maxLLMTimeout {
		cfg.LLM.Timeout = maxLLMTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY must be > 0")
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("SESSION_MAX must be > 0")
	}
	if c.Session.IdleTTL <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL and SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME cannot be empty")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.LLM.Timeout <= 0 || c.LLM.Timeout > maxLLMTimeout {
		return fmt.Errorf("LLM_TIMEOUT must be in (0, %s]", maxLLMTimeout)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}

	switch c.LLM.Provider {
	case "none":
	case "openai":
		if c.LLM.OpenAIKey == "" && c.LLM.BaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY or LLM_BASE_URL is required for LLM_PROVIDER=openai")
		}
	case "anthropic":
		if c.LLM.AnthropicKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for LLM_PROVIDER=anthropic")
		}
	case "gemini":
		if c.LLM.GoogleKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY is required for LLM_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}

	switch c.Email.Provider {
	case "log":
	case "resend":
		if c.Email.ResendAPIKey == "" {
			return fmt.Errorf("RESEND_API_KEY is required for EMAIL_PROVIDER=resend")
		}
	default:
		return fmt.Errorf("unknown EMAIL_PROVIDER %q", c.Email.Provider)
	}
	if c.Email.MaxPerDay <= 0 {
		return fmt.Errorf("EMAIL_MAX_PER_DAY must be > 0")
	}
	return nil
}

// APIKey returns the key for the selected provider.
func (c LLMConfig) APIKey() string {
	switch c.Provider {
	case "openai":
		return c.OpenAIKey
	case "anthropic":
		return c.AnthropicKey
	case "gemini":
		return c.GoogleKey
	}
	return ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.DevMode ||
		c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
