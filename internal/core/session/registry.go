package session

// Registry maps a remote endpoint to the session serving it and is the only owner
// of the sessions it holds: dropping an entry always closes the session.
//
// A Registry is not safe for concurrent use. Servers only touch it from reactor
// tasks, which never run in parallel.
type Registry struct {
	sessions map[string]Session
	onRemove func(s Session, wasAlive bool)
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// OnRemove sets a hook called after a session has been dropped from the registry
// and closed, however it was removed. wasAlive is the session's liveness just
// before it was closed.
func (r *Registry) OnRemove(fn func(s Session, wasAlive bool)) {
	r.onRemove = fn
}

func (r *Registry) drop(endpoint string, s Session) {
	alive := s.IsAlive()
	delete(r.sessions, endpoint)
	_ = s.Close()
	if r.onRemove != nil {
		r.onRemove(s, alive)
	}
}

// Insert registers s under its remote endpoint. A session already registered under
// the same endpoint is replaced and, since nothing else owns it, closed.
func (r *Registry) Insert(s Session) {
	endpoint := s.RemoteEndpoint()
	if prev, ok := r.sessions[endpoint]; ok && prev != s {
		r.drop(endpoint, prev)
	}
	r.sessions[endpoint] = s
}

// Find returns the session registered for endpoint.
func (r *Registry) Find(endpoint string) (Session, bool) {
	s, ok := r.sessions[endpoint]
	return s, ok
}

// Remove closes and unregisters the session for endpoint. Returns false if there
// was nothing to remove.
func (r *Registry) Remove(endpoint string) bool {
	s, ok := r.sessions[endpoint]
	if !ok {
		return false
	}
	r.drop(endpoint, s)
	return true
}

// Release is Remove guarded by identity: it only drops the entry if it still
// refers to s. Close notifications go through here so that a late notification
// from a replaced session can't evict the session that replaced it.
func (r *Registry) Release(s Session) bool {
	endpoint := s.RemoteEndpoint()
	if cur, ok := r.sessions[endpoint]; !ok || cur != s {
		return false
	}
	return r.Remove(endpoint)
}

// SweepDead closes and removes every session that reports itself as not alive,
// returning how many were removed.
func (r *Registry) SweepDead() int {
	removed := 0
	for endpoint, s := range r.sessions {
		if s.IsAlive() {
			continue
		}
		r.drop(endpoint, s)
		removed++
	}
	return removed
}

// CloseAll empties the registry, closing every session in it.
func (r *Registry) CloseAll() int {
	n := len(r.sessions)
	for endpoint, s := range r.sessions {
		r.drop(endpoint, s)
	}
	return n
}

// Range calls fn for each registered session until fn returns false.
func (r *Registry) Range(fn func(s Session) bool) {
	for _, s := range r.sessions {
		if !fn(s) {
			return
		}
	}
}

func (r *Registry) Len() int {
	return len(r.sessions)
}
