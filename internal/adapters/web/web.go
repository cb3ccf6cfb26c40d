// Package web exposes the operator API.
package web

// Re-export types from subpackages
import (
	websocket "github.com/lcalzada-xor/vulnintel/internal/adapters/web/websocket"
)

// WSManager is re-exported from the websocket subpackage
type WSManager = websocket.WSManager

// NewWSManager creates a new WSManager
func NewWSManager(allowedOrigins []string) *WSManager {
	return websocket.NewWSManager(allowedOrigins)
}
