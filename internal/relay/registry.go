package relay

import "sync"

// Conn is an opaque handle to one client connection. Send must not block:
// a transport that cannot accept the frame right away returns an error.
type Conn interface {
	ID() string
	Send(frame []byte) error
}

// Registry tracks the currently connected clients.
type Registry struct {
	mu    sync.RWMutex
	conns map[Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[Conn]struct{})}
}

// Add registers conn. The transport calls it once per connection.
func (r *Registry) Add(conn Conn) {
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()
}

// Remove unregisters conn. Removing an unknown connection is a no-op and
// reports false.
func (r *Registry) Remove(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn]; !ok {
		return false
	}
	delete(r.conns, conn)
	return true
}

// Snapshot returns the connections registered at the moment of the call.
func (r *Registry) Snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
