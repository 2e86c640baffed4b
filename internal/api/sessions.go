package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sessions tracks the registry sessions handed out to clients. A parameter
// request is served only while its session is open.
type Sessions struct {
	mu     sync.RWMutex
	open   map[string]time.Time
	onSize func(n int)
}

// NewSessions returns an empty session table.
func NewSessions() *Sessions {
	return &Sessions{open: make(map[string]time.Time)}
}

// Open issues a new session ID.
func (s *Sessions) Open() string {
	id := uuid.New().String()
	s.mu.Lock()
	s.open[id] = time.Now().UTC()
	n := len(s.open)
	s.mu.Unlock()
	s.report(n)
	return id
}

// Close revokes id. It reports whether the session was open.
func (s *Sessions) Close(id string) bool {
	s.mu.Lock()
	_, ok := s.open[id]
	delete(s.open, id)
	n := len(s.open)
	s.mu.Unlock()
	s.report(n)
	return ok
}

// Valid reports whether id is an open session.
func (s *Sessions) Valid(id string) bool {
	if id == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.open[id]
	return ok
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.open)
}

func (s *Sessions) report(n int) {
	if s.onSize != nil {
		s.onSize(n)
	}
}
