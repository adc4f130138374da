// Package frontend implements the connection handling shared by every protocol
// server: listening, turning accepted connections into sessions, keeping them in a
// registry and reaping the dead ones.
//
// Protocol details live behind the Backend interface, which keeps the frontend
// identical for RTMP, WebSocket and HTTP.
package frontend

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mediaserver/internal/core/data"
	"github.com/dcrodman/mediaserver/internal/core/metrics"
	"github.com/dcrodman/mediaserver/internal/core/reactor"
	"github.com/dcrodman/mediaserver/internal/core/session"
	"github.com/dcrodman/mediaserver/internal/core/tlsconf"
)

// Backend creates the protocol-specific session for a freshly accepted connection.
type Backend interface {
	// Name returns a uniquely identifying string.
	Name() string

	// NewSession wraps conn in a session. creds is nil for plain servers; when set,
	// the session is responsible for serving conn over TLS with those files. The
	// session notifies owner (on the reactor) when its connection goes away.
	NewSession(conn net.Conn, creds *tlsconf.Credentials, owner session.Owner) (session.Session, error)
}

// Options configures a Frontend.
type Options struct {
	// Address to listen on, in host:port form.
	Address string
	Backend Backend
	// TLS files captured at construction. Nil means plain TCP.
	Credentials *tlsconf.Credentials
	// How often the registry is swept for dead sessions.
	SweepInterval time.Duration
	// Connections beyond this many sessions are refused. Zero means no limit.
	MaxConnections int

	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	Journal *data.Journal
}

// Frontend is the server facade common to all protocols: one listener, one session
// registry and one liveness sweeper, all driven by the shared reactor.
type Frontend struct {
	opts    Options
	name    string
	reactor *reactor.Reactor
	logger  *logrus.Entry

	registry *session.Registry
	sweeper  *session.Sweeper
	listener net.Listener

	// Journal IDs of the registered sessions.
	journalIDs map[session.Session]string
	closed     bool
}

// New creates the frontend and starts its sweeper right away.
func New(r *reactor.Reactor, opts Options) *Frontend {
	f := &Frontend{
		opts:       opts,
		name:       opts.Backend.Name(),
		reactor:    r,
		logger:     opts.Logger.WithField("server", opts.Backend.Name()),
		registry:   session.NewRegistry(),
		journalIDs: make(map[session.Session]string),
	}
	f.registry.OnRemove(f.sessionRemoved)
	f.sweeper = session.NewSweeper(r, f.registry, opts.SweepInterval, f.swept)
	return f
}

func (f *Frontend) Name() string { return f.name }

// Start opens the listening socket and spins off the accept loop. Failing to bind
// is returned to the caller; the server is unusable in that case.
func (f *Frontend) Start() error {
	listener, err := net.Listen("tcp", f.opts.Address)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", f.opts.Address, err)
	}
	f.listener = listener

	mode := "plain"
	if f.opts.Credentials != nil {
		mode = "tls"
	}
	f.logger.Infof("waiting for %s connections on %v", mode, listener.Addr())

	go f.acceptLoop(listener)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (f *Frontend) Addr() net.Addr {
	if f.listener == nil {
		return nil
	}
	return f.listener.Addr()
}

// acceptLoop is purely responsible for accepting connections and handing them to
// the reactor. A failed accept never produces a session.
func (f *Frontend) acceptLoop(listener net.Listener) {
	var backoff time.Duration

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				f.logger.Debug("listener closed, accept loop exiting")
				return
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			f.logger.Warnf("failed to accept connection: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !f.reactor.Post(func() { f.onAccept(conn) }) {
			_ = conn.Close()
		}
	}
}

// onAccept runs on the reactor for every accepted connection: it builds the
// session, TLS-wrapped or not, and registers it under its remote endpoint.
func (f *Frontend) onAccept(conn net.Conn) {
	if f.closed {
		_ = conn.Close()
		return
	}

	if max := f.opts.MaxConnections; max > 0 && f.registry.Len() >= max {
		f.logger.Warnf("rejected connection from %s: server is full (%d sessions)", conn.RemoteAddr(), max)
		f.opts.Metrics.Rejected(f.name, "full")
		_ = conn.Close()
		return
	}

	s, err := f.opts.Backend.NewSession(conn, f.opts.Credentials, f)
	if err != nil {
		f.logger.Errorf("failed to create session for %s: %v", conn.RemoteAddr(), err)
		f.opts.Metrics.Rejected(f.name, "session_error")
		_ = conn.Close()
		return
	}

	f.registry.Insert(s)
	f.journalIDs[s] = f.opts.Journal.Opened(f.name, s.RemoteEndpoint(), f.opts.Credentials != nil)
	f.opts.Metrics.Accepted(f.name)
	f.opts.Metrics.SetActive(f.name, f.registry.Len())

	f.logger.Infof("accepted connection from %s", s.RemoteEndpoint())

	if starter, ok := s.(session.Starter); ok {
		starter.Start()
	}
}

// OnClose is the close notification sessions send (on the reactor) when their
// connection ends. The session is dropped immediately instead of waiting for the
// next sweep.
func (f *Frontend) OnClose(s session.Session) {
	f.registry.Release(s)
}

func (f *Frontend) sessionRemoved(s session.Session, wasAlive bool) {
	reason := "closed"
	if f.closed {
		reason = "shutdown"
	} else if wasAlive {
		reason = "replaced"
	}

	if id, ok := f.journalIDs[s]; ok {
		f.opts.Journal.Closed(id, reason)
		delete(f.journalIDs, s)
	}
	f.opts.Metrics.SetActive(f.name, f.registry.Len())
	f.logger.Infof("disconnected client %s (%s)", s.RemoteEndpoint(), reason)
}

func (f *Frontend) swept(removed int) {
	if removed > 0 {
		f.logger.Debugf("sweeper reclaimed %d dead sessions", removed)
		f.opts.Metrics.Swept(f.name, removed)
	}
}

// Registry returns the session registry. Only use it from reactor tasks, and don't
// hold on to sessions beyond the task: the registry owns them.
func (f *Frontend) Registry() *session.Registry {
	return f.registry
}

// Sessions returns the number of registered sessions. Not for use inside a
// reactor task (use Registry().Len() there).
func (f *Frontend) Sessions() int {
	var n int
	f.reactor.Call(func() { n = f.registry.Len() })
	return n
}

// Close stops accepting, cancels the sweeper and closes every session. Once it
// returns the sweeper won't fire again and the registry stays empty; events that
// sessions posted before being closed become no-ops. Not for use inside a reactor
// task.
func (f *Frontend) Close() {
	f.reactor.Call(f.close)
}

func (f *Frontend) close() {
	if f.closed {
		return
	}
	f.closed = true

	if f.listener != nil {
		if err := f.listener.Close(); err != nil {
			f.logger.Warnf("error closing listener: %v", err)
		}
	}
	f.sweeper.Stop()

	n := f.registry.CloseAll()
	f.logger.Infof("shut down (closed %d sessions)", n)
}
