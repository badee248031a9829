package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// Pinger is satisfied by the audit store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthInfo supplies the non-database parts of the health report.
type HealthInfo struct {
	Provider      string
	EmailSender   string
	RulesVersion  func() int
	RuleCounts    func() map[string]int
	ActiveSession func() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db   Pinger
	info HealthInfo
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db Pinger, info HealthInfo) *HealthHandler {
	return &HealthHandler{db: db, info: info}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{
		"status": "healthy",
		"checks": checks,
		"llm":    h.info.Provider,
		"email":  h.info.EmailSender,
	}
	statusCode := http.StatusOK

	if h.db == nil {
		checks["database"] = "disabled"
	} else if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.info.RulesVersion != nil {
		rules := map[string]any{"version": h.info.RulesVersion()}
		if h.info.RuleCounts != nil {
			rules["counts"] = h.info.RuleCounts()
		}
		status["rules"] = rules
	}
	if h.info.ActiveSession != nil {
		status["sessions"] = h.info.ActiveSession()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/api/health", h.Health)
}
