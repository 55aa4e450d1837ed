package dispatch

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/parkswap/internal/signals"
)

var ErrNoSession = errors.New("no ws session")

// Conn is the part of *websocket.Conn the registry needs.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// WSSession represents one connected screen of a user.
type WSSession struct {
	id   uint64
	conn Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(env signals.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(env)
}

// WSRegistry holds the open sessions of every user. A user may have several.
type WSRegistry struct {
	mu       sync.RWMutex
	next     uint64
	sessions map[string]map[uint64]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]map[uint64]*WSSession), logger: logger}
}

// Add registers conn for userID and returns a function that removes it.
func (r *WSRegistry) Add(userID string, conn Conn) (remove func()) {
	r.mu.Lock()
	r.next++
	s := &WSSession{id: r.next, conn: conn}
	if r.sessions[userID] == nil {
		r.sessions[userID] = make(map[uint64]*WSSession)
	}
	r.sessions[userID][s.id] = s
	r.mu.Unlock()
	return func() { r.drop(userID, s.id) }
}

func (r *WSRegistry) drop(userID string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions[userID], id)
	if len(r.sessions[userID]) == 0 {
		delete(r.sessions, userID)
	}
}

// Sessions reports how many sessions userID has open.
func (r *WSRegistry) Sessions(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID])
}

// Deliver sends env to every session of userID. Sessions that fail to write
// are closed and dropped. It returns ErrNoSession when nothing was delivered.
func (r *WSRegistry) Deliver(userID string, env signals.Envelope) error {
	r.mu.RLock()
	targets := make([]*WSSession, 0, len(r.sessions[userID]))
	for _, s := range r.sessions[userID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if err := s.Send(env); err != nil {
			r.logger.Warn("ws send error", "user_id", userID, "type", env.Type, "error", err)
			_ = s.conn.Close()
			r.drop(userID, s.id)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return ErrNoSession
	}
	return nil
}

// Broadcast sends env to every open session.
func (r *WSRegistry) Broadcast(env signals.Envelope) {
	r.mu.RLock()
	users := make([]string, 0, len(r.sessions))
	for u := range r.sessions {
		users = append(users, u)
	}
	r.mu.RUnlock()
	for _, u := range users {
		_ = r.Deliver(u, env)
	}
}
