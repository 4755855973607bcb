package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/freight-marketplace/internal/models"
)

// WSSession represents a connected driver session.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(n models.AssignmentNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(n)
}

// WSRegistry holds driver sessions and falls back to an optional
// secondary notifier when the driver has no live connection.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	Fallback Notifier
	Logger   *slog.Logger
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// a reconnect replaces the old session; close it so its read
	// goroutine unblocks instead of leaking
	if old, ok := r.sessions[driverID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[driverID] = &WSSession{conn: conn}
}

// Remove drops the driver's session only when it still owns conn; the
// reaper of a replaced connection must not evict the replacement.
func (r *WSRegistry) Remove(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[driverID]; ok && s.conn == conn {
		delete(r.sessions, driverID)
	}
}

func (r *WSRegistry) Notify(driverID string, n models.AssignmentNotice) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		if r.Fallback != nil {
			return r.Fallback.Notify(driverID, n)
		}
		return ErrNoSession
	}
	if err := s.Send(n); err != nil {
		if r.Logger != nil {
			r.Logger.Warn("ws send failed", "driver_id", driverID, "error", err)
		}
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
