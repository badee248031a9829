package agent

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// wsConn is the part of *websocket.Conn the registry needs.
type wsConn interface {
	Close(code websocket.StatusCode, reason string) error
}

// ConnectionRegistry tracks open chat WebSockets per session so they can
// be closed when the session ends.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	active map[string]map[wsConn]struct{}
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		active: make(map[string]map[wsConn]struct{}),
	}
}

// Register adds a connection for a session. A session may have several
// (one per tab).
func (m *ConnectionRegistry) Register(sessionID string, conn wsConn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[sessionID]; !exists {
		m.active[sessionID] = make(map[wsConn]struct{})
	}
	m.active[sessionID][conn] = struct{}{}
	slog.Debug("Chat connection registered", "session_id", sessionID, "connections", len(m.active[sessionID]))
}

// Unregister removes a connection. Unknown connections are ignored.
func (m *ConnectionRegistry) Unregister(sessionID string, conn wsConn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[sessionID]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(m.active, sessionID)
	}
}

// Count returns the number of open connections for a session.
func (m *ConnectionRegistry) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[sessionID])
}

// CloseSession closes every connection of a session and returns how many
// were closed.
func (m *ConnectionRegistry) CloseSession(sessionID string) int {
	m.mu.Lock()
	conns := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	for conn := range conns {
		if err := conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
			slog.Debug("Failed to close chat connection", "session_id", sessionID, "error", err)
		}
	}
	if len(conns) > 0 {
		slog.Info("Chat connections closed", "session_id", sessionID, "count", len(conns))
	}
	return len(conns)
}
