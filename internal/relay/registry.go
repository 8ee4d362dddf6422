package relay

import "sync"

// Registry maps session identifiers to their active relay proxies and
// enforces at most one relay per session id. All access goes through a
// single mutex so concurrent acquires for one id resolve to the same
// proxy instance.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Proxy
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Proxy)}
}

// Acquire returns the active proxy for the session id, creating one via
// create under the registry lock when none exists. The boolean reports
// whether this call created the proxy; callers that receive an existing
// proxy must not attach a second client socket to it.
func (r *Registry) Acquire(sessionID string, create func() *Proxy) (*Proxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.sessions[sessionID]; ok {
		return p, false
	}
	p := create()
	r.sessions[sessionID] = p
	return p, true
}

// Release removes the entry, but only if it still maps to the given
// proxy. A slot re-acquired by a newer proxy is left untouched.
func (r *Registry) Release(sessionID string, p *Proxy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sessionID] == p {
		delete(r.sessions, sessionID)
	}
}

// Count reports the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
