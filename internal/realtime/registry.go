package realtime

import (
	"fmt"
	"sync"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/google/uuid"
)

// Registry holds the live sessions of one hub. Iteration works on a snapshot,
// so sessions may be added or removed while a broadcast is running.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID()]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateSession, s.ID())
	}
	r.sessions[s.ID()] = s
	return nil
}

// Remove deletes the session and returns it. Unknown ids return nil.
func (r *Registry) Remove(id uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return s
}

func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEach calls fn for every session present when the call started.
func (r *Registry) ForEach(fn func(*Session)) {
	for _, s := range r.Snapshot() {
		fn(s)
	}
}

func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Clear removes and returns every session.
func (r *Registry) Clear() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	return sessions
}
