package connmgr

import (
	"context"
	"sync"
	"time"
)

// State is the liveness state of one client connection.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateDegraded   State = "degraded"
	StateClosed     State = "closed"
)

// Session represents one client's live transport. The heartbeat checker and
// the message-handling code mutate the same record concurrently, so every
// field access goes through the mutex.
type Session struct {
	ID        string // connection identifier
	SessionID string // owning conversation session

	mu            sync.Mutex
	state         State
	lastHeartbeat time.Time
	turnActive    bool
	turnCancel    context.CancelFunc
}

// NewSession creates a session in the connecting state.
func NewSession(id, sessionID string) *Session {
	return &Session{
		ID:            id,
		SessionID:     sessionID,
		state:         StateConnecting,
		lastHeartbeat: time.Now(),
	}
}

// State returns the current liveness state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the liveness state. Closed is terminal.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = state
}

// Heartbeat records a liveness acknowledgment and restores the open state if
// the session had degraded.
func (s *Session) Heartbeat(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = at
	if s.state == StateDegraded || s.state == StateConnecting {
		s.state = StateOpen
	}
}

// LastHeartbeat returns the most recent liveness acknowledgment time.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// TryBeginTurn atomically claims the single turn slot. It returns false when
// a turn is already streaming, in which case the caller rejects the new
// submission with a conflict error instead of queueing it.
func (s *Session) TryBeginTurn(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnActive || s.state == StateClosed {
		return false
	}
	s.turnActive = true
	s.turnCancel = cancel
	return true
}

// EndTurn releases the turn slot.
func (s *Session) EndTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnActive = false
	s.turnCancel = nil
}

// TurnActive reports whether a turn is currently streaming.
func (s *Session) TurnActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnActive
}

// CancelActiveTurn cancels the in-flight turn, if any, releasing the upstream
// provider connection.
func (s *Session) CancelActiveTurn() {
	s.mu.Lock()
	cancel := s.turnCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Registry is the process-wide set of live connection sessions: a
// lock-guarded map with explicit insertion on connect and removal on close.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add inserts a session under its connection identifier.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Remove deletes a session on close.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get looks up a session by connection identifier.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll cancels every in-flight turn and marks every session closed. Used
// during daemon shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.CancelActiveTurn()
		s.SetState(StateClosed)
	}
}
