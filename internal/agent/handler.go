package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/safecoach/internal/api"
	"github.com/ashureev/safecoach/internal/identity"
	"github.com/ashureev/safecoach/internal/session"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// HandlerOptions configures the chat transports.
type HandlerOptions struct {
	MaxRequestBody int64
	Identity       identity.Options
	AllowedOrigin  string
	DevMode        bool
}

// Handler serves the chat API over HTTP and WebSocket.
type Handler struct {
	svc         *Service
	rateLimiter *RateLimiter
	conns       *ConnectionRegistry
	opts        HandlerOptions
}

// NewHandler creates the chat handler.
func NewHandler(svc *Service, limiter *RateLimiter, opts HandlerOptions) *Handler {
	if opts.MaxRequestBody <= 0 {
		opts.MaxRequestBody = defaultMaxRequestBodySize
	}
	return &Handler{
		svc:         svc,
		rateLimiter: limiter,
		conns:       NewConnectionRegistry(),
		opts:        opts,
	}
}

// RegisterRoutes registers the chat routes. Requests must pass through
// identity.Middleware first.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
	r.Post("/chat", h.HandleChat)
	r.Post("/api/session/logout", h.HandleLogout)
	r.Get("/ws/chat", h.ServeWS)
}

// Connections returns the WebSocket registry.
func (h *Handler) Connections() *ConnectionRegistry { return h.conns }

// HandleChat handles POST /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	// Throttle by client address so rotating session ids does not help.
	if h.rateLimiter != nil && !h.rateLimiter.Allow(identity.IPFromRequest(r)) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req ChatRequest
	if err := api.DecodeJSON(w, r, h.opts.MaxRequestBody, &req); err != nil {
		api.DecodeError(w, err)
		return
	}

	sessionID, ok := h.resolveSession(r, req.SessionID)
	if !ok {
		api.Error(w, http.StatusBadRequest, "invalid session_id")
		return
	}
	req.SessionID = sessionID

	slog.Info("Chat request",
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
	)

	resp, err := h.svc.Chat(r.Context(), req)
	if err != nil {
		status, msg := chatErrorStatus(err)
		if status == 0 {
			slog.Info("Chat request abandoned", "session_id", sessionID, "reason", err)
			return
		}
		api.Error(w, status, msg)
		return
	}

	w.Header().Set(identity.SessionHeaderName, sessionID)
	api.JSON(w, http.StatusOK, resp.ChatResponse())
}

// HandleLogout handles POST /api/session/logout: the session's memory is
// dropped, its sockets closed and the cookie cleared.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID != "" {
		evicted := h.svc.Sessions().Evict(sessionID)
		closed := h.conns.CloseSession(sessionID)
		slog.Info("Session logged out", "session_id", sessionID, "evicted", evicted, "connections_closed", closed)
	}
	identity.ClearCookie(w, h.opts.Identity)
	w.WriteHeader(http.StatusNoContent)
}

// resolveSession picks the body session id when given, else the one the
// identity middleware assigned.
func (h *Handler) resolveSession(r *http.Request, bodyID string) (string, bool) {
	if bodyID != "" {
		return identity.SanitizeSessionID(bodyID)
	}
	id := identity.SessionIDFromContext(r.Context())
	return id, id != ""
}

// chatErrorStatus maps a Service.Chat error to an HTTP status. Zero means
// the client is gone and nothing should be written.
func chatErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return http.StatusBadRequest, "message is required"
	case errors.Is(err, ErrMessageTooLong):
		return http.StatusBadRequest, "message too long"
	case errors.Is(err, session.ErrInvalidSessionID):
		return http.StatusBadRequest, "invalid session_id"
	case errors.Is(err, context.Canceled):
		return 0, ""
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request timed out"
	}
	return http.StatusInternalServerError, "internal error"
}
