package collector

import "sync"

// Registry tracks the live sessions. Iteration always happens over a
// snapshot so the gate never holds the registry lock while doing network
// or websocket I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Remove drops a session by ID.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns a session by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions, identified or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Identified returns a snapshot of the sessions that have completed
// identification.
func (r *Registry) Identified() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Identified() {
			out = append(out, s)
		}
	}
	return out
}

// Members implements the gate's Roster view over the identified sessions.
func (r *Registry) Members() []Member {
	sessions := r.Identified()
	members := make([]Member, len(sessions))
	for i, s := range sessions {
		members[i] = s
	}
	return members
}
