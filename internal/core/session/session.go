// Package session defines the capability contract shared by every protocol's
// per-connection state along with the Registry that owns those sessions and the
// Sweeper that reclaims the ones whose transport has died.
package session

// Session is the per-connection unit of state tracked by a server. RTMP, WebSocket
// and HTTP sessions all satisfy it so that one Registry can hold any of them.
type Session interface {
	// IsAlive reports the current state of the underlying transport. It must not
	// return a cached answer that could keep a dead session registered forever.
	IsAlive() bool

	// RemoteEndpoint returns the peer's host:port. It is used as the Registry key
	// and never changes over the lifetime of the session.
	RemoteEndpoint() string

	// HandleEvent processes one protocol event. Always called on the reactor.
	HandleEvent(ev Event)

	// Close releases the transport (and TLS state, if any) before returning.
	// Calling it more than once is harmless.
	Close() error
}

// Starter is implemented by sessions that need to spin up their reader once they
// have been registered.
type Starter interface {
	Start()
}

// Event carries one unit of input decoded by a session's reader. Protocols put
// raw bytes in Data or a decoded message in Value; a read failure sets Err.
type Event struct {
	Data  []byte
	Value interface{}
	Err   error
}

// Owner receives close notifications from the sessions it created. Sessions hold
// it as a plain reference and must not assume it outlives them.
type Owner interface {
	OnClose(s Session)
}
