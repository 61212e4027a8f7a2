package roadmap

import (
	"fmt"
	"sort"
	"sync"
)

// SessionRegistry tracks mounted map sessions by ID for the HTTP surface.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*MapSession
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*MapSession),
	}
}

// Add registers a session under its ID.
func (r *SessionRegistry) Add(s *MapSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Get returns the session with the given ID.
func (r *SessionRegistry) Get(id string) (*MapSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

// Remove unmounts and forgets a session.
func (r *SessionRegistry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	s.Close()
	return nil
}

// All returns every session ordered by ID.
func (r *SessionRegistry) All() []*MapSession {
	r.mu.RLock()
	result := make([]*MapSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len returns the number of mounted sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll unmounts every session.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*MapSession)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
