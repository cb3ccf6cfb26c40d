// Package websocket streams workflow progress to connected operators.
package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
)

// DefaultAllowedOrigins accepts browsers served from the local API port.
var DefaultAllowedOrigins = []string{
	"http://localhost:8080",
	"http://127.0.0.1:8080",
	"http://[::1]:8080",
}

type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WSManager fans stage events out to every connected client.
type WSManager struct {
	Clients  map[*gws.Conn]struct{}
	mu       sync.Mutex
	upgrader gws.Upgrader
}

var _ ports.WorkflowObserver = (*WSManager)(nil)

// NewWSManager creates a manager accepting the given origins; "*" accepts any.
func NewWSManager(allowedOrigins []string) *WSManager {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}
	m := &WSManager{Clients: make(map[*gws.Conn]struct{})}
	m.upgrader = gws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")

			// Allow same-origin (no Origin header)
			if origin == "" {
				return true
			}
			if slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin) {
				return true
			}
			slog.Warn("websocket origin rejected", "origin", origin)
			return false
		},
	}
	return m
}

func (m *WSManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	m.mu.Lock()
	m.Clients[conn] = struct{}{}
	m.mu.Unlock()
	slog.Debug("websocket connected", "remote", r.RemoteAddr)

	// Clients only listen; reading detects the disconnect.
	go func() {
		defer conn.Close()
		defer func() {
			m.mu.Lock()
			delete(m.Clients, conn)
			m.mu.Unlock()
			slog.Debug("websocket disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// OnStage broadcasts a completed workflow step.
func (m *WSManager) OnStage(event domain.StageEvent) {
	m.Broadcast("stage", event)
}

// Broadcast sends a typed message to all connected clients
func (m *WSManager) Broadcast(kind string, payload any) {
	data, err := json.Marshal(WSMessage{Type: kind, Payload: payload})
	if err != nil {
		slog.Error("websocket message encoding failed", "type", kind, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.Clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(gws.TextMessage, data); err != nil {
			conn.Close()
			delete(m.Clients, conn)
		}
	}
}

// ClientCount returns the number of connected clients.
func (m *WSManager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Clients)
}

// Close disconnects every client.
func (m *WSManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.Clients {
		_ = conn.WriteControl(gws.CloseMessage,
			gws.FormatCloseMessage(gws.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		delete(m.Clients, conn)
	}
}
