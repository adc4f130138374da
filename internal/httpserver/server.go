// Package httpserver implements the HTTP family of servers: a frontend whose
// sessions parse HTTP/1.1 requests and dispatch them through a method/URI router.
package httpserver

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mediaserver/internal/core/data"
	"github.com/dcrodman/mediaserver/internal/core/frontend"
	"github.com/dcrodman/mediaserver/internal/core/metrics"
	"github.com/dcrodman/mediaserver/internal/core/reactor"
	"github.com/dcrodman/mediaserver/internal/core/router"
	"github.com/dcrodman/mediaserver/internal/core/session"
	"github.com/dcrodman/mediaserver/internal/core/tlsconf"
)

// Options configures a Server.
type Options struct {
	Name        string
	Address     string
	Credentials *tlsconf.Credentials

	SweepInterval  time.Duration
	MaxConnections int
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
	// Bytes that may queue up for a slow peer; zero means the session default.
	OutboxLimit int

	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	Journal *data.Journal
}

// Server is an HTTP facade. Handlers are registered with AddGetHandle and
// AddPostHandle before Start and run on the reactor, so they must not block.
type Server struct {
	*frontend.Frontend

	opts    Options
	reactor *reactor.Reactor
	router  *router.Router
	logger  *logrus.Entry
}

func New(r *reactor.Reactor, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "HTTP"
	}
	s := &Server{
		opts:    opts,
		reactor: r,
		router:  router.New(),
		logger:  opts.Logger.WithField("server", opts.Name),
	}
	s.Frontend = frontend.New(r, frontend.Options{
		Address:        opts.Address,
		Backend:        s,
		Credentials:    opts.Credentials,
		SweepInterval:  opts.SweepInterval,
		MaxConnections: opts.MaxConnections,
		Logger:         opts.Logger,
		Metrics:        opts.Metrics,
		Journal:        opts.Journal,
	})
	return s
}

func (s *Server) Name() string { return s.opts.Name }

// AddGetHandle registers h for GET requests to uri.
func (s *Server) AddGetHandle(uri string, h router.Handler) error {
	return s.router.AddGetHandle(uri, h)
}

// AddPostHandle registers h for POST requests to uri.
func (s *Server) AddPostHandle(uri string, h router.Handler) error {
	return s.router.AddPostHandle(uri, h)
}

// Start freezes the routing table and starts listening.
func (s *Server) Start() error {
	s.router.Freeze()
	return s.Frontend.Start()
}

// NewSession implements frontend.Backend.
func (s *Server) NewSession(conn net.Conn, creds *tlsconf.Credentials, owner session.Owner) (session.Session, error) {
	tlsConfig, err := tlsconf.Load(creds)
	if err != nil {
		return nil, err
	}
	t := session.NewTransport(conn, tlsConfig, s.opts.IdleTimeout)
	return newSession(t, s, owner), nil
}

// dispatch resolves and runs the handler for req, then writes the response. It
// reports whether the connection should stay open for another request and whether
// the handler turned the response into a stream.
func (s *Server) dispatch(sess *Session, req *http.Request) (keepAlive, streaming bool) {
	if s.logger.Logger.IsLevelEnabled(logrus.TraceLevel) {
		sess.logger.Tracef("request: %s %s\n%s", req.Method, req.RequestURI, spew.Sdump(req.Header))
	}

	w := newResponseWriter(sess, req)
	h, ok := s.router.Resolve(req.Method, req.RequestURI)
	s.opts.Metrics.Request(s.opts.Name, ok)

	if !ok {
		sess.logger.Debugf("no handler for %s %s", req.Method, req.RequestURI)
		http.NotFound(w, req)
	} else if err := s.runHandler(h, w, req); err != nil {
		sess.logger.Errorf("handler for %s %s failed: %v", req.Method, req.RequestURI, err)
		if w.streaming {
			return false, false
		}
		w = newResponseWriter(sess, req)
		w.header.Set("Connection", "close")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}

	if w.streaming {
		return false, w.err == nil
	}
	return w.finish(), false
}

// runHandler converts a handler panic into an error so that one bad request only
// costs its own connection.
func (s *Server) runHandler(h router.Handler, w http.ResponseWriter, req *http.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	h(w, req)
	return nil
}
