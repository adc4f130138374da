package session

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Transport is the connection half of a session: the (possibly TLS-wrapped) socket,
// the peer identity, and the liveness bookkeeping that IsAlive is derived from.
// Protocol sessions embed it and layer their own state machine on top.
type Transport struct {
	conn     net.Conn
	endpoint string
	secure   bool

	idleTimeout  atomic.Int64
	lastActivity atomic.Int64
	failed       atomic.Bool
	closed       atomic.Bool

	mu      sync.Mutex
	failure error

	closeOnce sync.Once
	closeErr  error
}

// NewTransport wraps conn. When tlsConfig is non-nil the connection is served as
// the server side of a TLS session; the handshake itself runs lazily on the first
// read, i.e. on the session's reader goroutine.
func NewTransport(conn net.Conn, tlsConfig *tls.Config, idleTimeout time.Duration) *Transport {
	t := &Transport{
		conn:     conn,
		endpoint: conn.RemoteAddr().String(),
	}
	t.idleTimeout.Store(int64(idleTimeout))
	if tlsConfig != nil {
		t.conn = tls.Server(conn, tlsConfig)
		t.secure = true
	}
	t.Touch()
	return t
}

func (t *Transport) RemoteEndpoint() string { return t.endpoint }
func (t *Transport) Conn() net.Conn         { return t.conn }
func (t *Transport) Secure() bool           { return t.secure }

// IsAlive is false once the transport has been closed or failed, or when nothing
// has been read or written for longer than the idle timeout.
func (t *Transport) IsAlive() bool {
	if t.closed.Load() || t.failed.Load() {
		return false
	}
	idle := time.Duration(t.idleTimeout.Load())
	if idle <= 0 {
		return true
	}
	last := time.Unix(0, t.lastActivity.Load())
	return time.Since(last) < idle
}

// SetIdleTimeout changes the idle timeout. Zero disables it, leaving liveness to
// the reader noticing the peer going away.
func (t *Transport) SetIdleTimeout(d time.Duration) {
	t.idleTimeout.Store(int64(d))
}

// Touch records I/O activity.
func (t *Transport) Touch() {
	t.lastActivity.Store(time.Now().UnixNano())
}

// Fail marks the transport as dead without closing it. The Registry (through the
// owner's close notification or the Sweeper) is responsible for the teardown.
func (t *Transport) Fail(err error) {
	t.mu.Lock()
	if t.failure == nil {
		t.failure = err
	}
	t.mu.Unlock()
	t.failed.Store(true)
}

// Err returns the first error passed to Fail, if any.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure
}

// Read reads from the connection and counts successful reads as activity.
func (t *Transport) Read(b []byte) (int, error) {
	n, err := t.conn.Read(b)
	if n > 0 {
		t.Touch()
	}
	return n, err
}

// Write sends b in full, bounded by timeout when it's positive. It blocks, so
// reactor code goes through an Outbox instead.
func (t *Transport) Write(b []byte, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	_ = t.conn.SetWriteDeadline(deadline)
	return t.writeAll(b)
}

// writeAll leaves the write deadline to the caller.
func (t *Transport) writeAll(b []byte) error {
	for len(b) > 0 {
		n, err := t.conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	t.Touch()
	return nil
}

// Close closes the socket exactly once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	return t.closed.Load()
}

// NetConn exposes the connection as a net.Conn for protocol libraries that want
// to own the socket. Reads and writes through it still count as activity.
func (t *Transport) NetConn() net.Conn {
	return &trackedConn{Conn: t.conn, t: t}
}

type trackedConn struct {
	net.Conn
	t *Transport
}

func (c *trackedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.t.Touch()
	}
	return n, err
}

func (c *trackedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.t.Touch()
	}
	return n, err
}
