// Package rtmp implements the RTMP ingest server: the simple handshake, chunk
// stream reassembly and AMF0 command decoding. What to do with the decoded
// traffic is up to a MessageHandler.
package rtmp

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mediaserver/internal/core/data"
	"github.com/dcrodman/mediaserver/internal/core/frontend"
	"github.com/dcrodman/mediaserver/internal/core/metrics"
	"github.com/dcrodman/mediaserver/internal/core/reactor"
	"github.com/dcrodman/mediaserver/internal/core/session"
	"github.com/dcrodman/mediaserver/internal/core/tlsconf"
)

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

	// Handler defaults to a LogHandler on Logger.
	Handler MessageHandler

	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	Journal *data.Journal
}

// Server is the RTMP facade.
type Server struct {
	*frontend.Frontend

	opts    Options
	reactor *reactor.Reactor
	logger  *logrus.Entry
}

func New(r *reactor.Reactor, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "RTMP"
	}
	if opts.Handler == nil {
		opts.Handler = LogHandler{Logger: opts.Logger}
	}

	s := &Server{
		opts:    opts,
		reactor: r,
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

// NewSession implements frontend.Backend.
func (s *Server) NewSession(conn net.Conn, creds *tlsconf.Credentials, owner session.Owner) (session.Session, error) {
	tlsConfig, err := tlsconf.Load(creds)
	if err != nil {
		return nil, err
	}
	t := session.NewTransport(conn, tlsConfig, s.opts.IdleTimeout)
	return newSession(t, s, owner), nil
}
