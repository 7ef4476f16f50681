// Package realtime provides the WebSocket chat channel and its connection
// bookkeeping.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks one live WebSocket per visitor tab.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnManager creates an empty manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the live connection for a visitor tab.
func (m *ConnManager) GetActive(visitorID, tabID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tabs, ok := m.active[visitorID]; ok {
		return tabs[tabID]
	}
	return nil
}

// Register records conn for the tab, closing any connection it replaces.
func (m *ConnManager) Register(visitorID, tabID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[visitorID]; !exists {
		m.active[visitorID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[visitorID][tabID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}

	m.active[visitorID][tabID] = conn
	slog.Info("Chat socket registered", "visitor_id", visitorID, "session_id", tabID)
}

// Unregister removes conn if it is still the tab's current connection.
func (m *ConnManager) Unregister(visitorID, tabID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tabs, ok := m.active[visitorID]; ok {
		if current, exists := tabs[tabID]; exists && current == conn {
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(m.active, visitorID)
			}
			slog.Info("Chat socket unregistered", "visitor_id", visitorID, "session_id", tabID)
		}
	}
}

// Count returns the number of live connections.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, tabs := range m.active {
		n += len(tabs)
	}
	return n
}

// CloseAll closes every live connection, as on shutdown.
func (m *ConnManager) CloseAll(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for visitorID, tabs := range m.active {
		for tabID, conn := range tabs {
			_ = conn.Close(websocket.StatusGoingAway, reason)
			slog.Info("Chat socket closed", "visitor_id", visitorID, "session_id", tabID)
		}
	}
	m.active = make(map[string]map[string]*websocket.Conn)
}
