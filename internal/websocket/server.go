// Package websocket implements the WebSocket servers: an FLV relay endpoint for
// browser players and a protoo signaling endpoint. Both share one session type
// built on gorilla/websocket, selected by an Implementation tag.
package websocket

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mediaserver/internal/core/data"
	"github.com/dcrodman/mediaserver/internal/core/frontend"
	"github.com/dcrodman/mediaserver/internal/core/metrics"
	"github.com/dcrodman/mediaserver/internal/core/reactor"
	"github.com/dcrodman/mediaserver/internal/core/session"
	"github.com/dcrodman/mediaserver/internal/core/tlsconf"
)

// Implementation selects what a WebSocket server speaks once connected.
type Implementation int

const (
	ImplementFLV Implementation = iota
	ImplementProtoo
)

func (i Implementation) String() string {
	switch i {
	case ImplementFLV:
		return "flv"
	case ImplementProtoo:
		return "protoo"
	default:
		return "unknown"
	}
}

const (
	DefaultPingInterval   = 20 * time.Second
	DefaultMaxMessageSize = 1 << 20
)

type Options struct {
	Name           string
	Implementation Implementation
	Address        string
	Credentials    *tlsconf.Credentials

	SweepInterval  time.Duration
	MaxConnections int
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	// Bytes that may queue up for a slow peer; zero means the session default.
	OutboxLimit int

	// Handler answers signaling traffic. Defaults to NotImplementedHandler.
	Handler SignalingHandler

	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	Journal *data.Journal
}

// Server is a WebSocket facade.
type Server struct {
	*frontend.Frontend

	opts     Options
	reactor  *reactor.Reactor
	upgrader websocket.Upgrader
	logger   *logrus.Entry
}

func New(r *reactor.Reactor, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "WEBSOCKET-FLV"
		if opts.Implementation == ImplementProtoo {
			opts.Name = "SIGNALING"
		}
	}
	if opts.Handler == nil {
		opts.Handler = NotImplementedHandler{}
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}

	s := &Server{
		opts:    opts,
		reactor: r,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// Players and signaling clients are served cross-origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: opts.Logger.WithField("server", opts.Name),
	}
	if opts.Implementation == ImplementProtoo {
		s.upgrader.Subprotocols = []string{Subprotocol}
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

func (s *Server) Implementation() Implementation { return s.opts.Implementation }

// NewSession implements frontend.Backend.
func (s *Server) NewSession(conn net.Conn, creds *tlsconf.Credentials, owner session.Owner) (session.Session, error) {
	tlsConfig, err := tlsconf.Load(creds)
	if err != nil {
		return nil, err
	}
	t := session.NewTransport(conn, tlsConfig, s.opts.IdleTimeout)
	return newSession(t, s, owner), nil
}
