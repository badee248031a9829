package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ashureev/safecoach/internal/api"
	"github.com/ashureev/safecoach/internal/domain"
	"github.com/ashureev/safecoach/internal/identity"
)

// wsFrame is a client message on /ws/chat.
type wsFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// wsReply is a server message on /ws/chat.
type wsReply struct {
	Type     string               `json:"type"`
	Response *domain.ChatResponse `json:"response,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// ServeWS handles GET /ws/chat. Frames on one connection are answered in
// order; each one is a full chat turn.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		api.Error(w, http.StatusBadRequest, "missing session")
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	ws.SetReadLimit(h.opts.MaxRequestBody)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.conns.Register(sessionID, ws)
	defer h.conns.Unregister(sessionID, ws)

	h.readLoop(r.Context(), ws, sessionID, identity.IPFromRequest(r))
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID, clientIP string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if !h.writeReply(ctx, ws, wsReply{Type: "error", Error: "invalid frame"}) {
				return
			}
			continue
		}

		var reply wsReply
		switch frame.Type {
		case "ping":
			reply = wsReply{Type: "pong"}
		case "message", "":
			reply = h.chatFrame(ctx, sessionID, clientIP, frame.Message)
			if reply.Type == "" {
				return
			}
		default:
			reply = wsReply{Type: "error", Error: "unknown frame type"}
		}
		if !h.writeReply(ctx, ws, reply) {
			return
		}
	}
}

// chatFrame runs one turn. An empty reply means the connection is gone.
func (h *Handler) chatFrame(ctx context.Context, sessionID, clientIP, text string) wsReply {
	if h.rateLimiter != nil && !h.rateLimiter.Allow(clientIP) {
		return wsReply{Type: "error", Error: "rate limit exceeded"}
	}
	resp, err := h.svc.Chat(ctx, ChatRequest{SessionID: sessionID, Message: text})
	if err != nil {
		status, msg := chatErrorStatus(err)
		if status == 0 {
			return wsReply{}
		}
		return wsReply{Type: "error", Error: msg}
	}
	cr := resp.ChatResponse()
	return wsReply{Type: "response", Response: &cr}
}

func (h *Handler) writeReply(ctx context.Context, ws *websocket.Conn, reply wsReply) bool {
	data, err := json.Marshal(reply)
	if err != nil {
		slog.Error("Failed to marshal WebSocket reply", "error", err)
		return false
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
		return false
	}
	return true
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.DevMode {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}
