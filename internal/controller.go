package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/mediaserver/internal/core"
	"github.com/dcrodman/mediaserver/internal/core/data"
	"github.com/dcrodman/mediaserver/internal/core/debug"
	"github.com/dcrodman/mediaserver/internal/core/metrics"
	"github.com/dcrodman/mediaserver/internal/core/reactor"
	"github.com/dcrodman/mediaserver/internal/core/session"
	"github.com/dcrodman/mediaserver/internal/core/tlsconf"
	"github.com/dcrodman/mediaserver/internal/httpflv"
	"github.com/dcrodman/mediaserver/internal/httpserver"
	"github.com/dcrodman/mediaserver/internal/rtmp"
	"github.com/dcrodman/mediaserver/internal/websocket"
)

// server is what the Controller needs from each protocol facade.
type server interface {
	Name() string
	Start() error
	Close()
	Registry() *session.Registry
	Addr() net.Addr
}

// Controller is the main entrypoint for the media server. It's responsible for
// initializing any shared resources (logging, the reactor, metrics and the
// journal), defining the servers, and running everything until the context is
// cancelled.
type Controller struct {
	Config *core.Config

	// Signaling traffic goes here; nil answers every request with an error.
	SignalingHandler websocket.SignalingHandler
	// RTMP traffic goes here; nil only logs it.
	RTMPHandler rtmp.MessageHandler

	logger  *logrus.Logger
	reactor *reactor.Reactor
	metrics *metrics.Metrics
	db      *gorm.DB
	journal *data.Journal
	pprof   *debug.PprofServer

	servers     []server
	started     chan struct{}
	startedOnce sync.Once
}

// Start brings up every enabled server and blocks until ctx is cancelled. Any
// failure during startup stops whatever was already running and is returned.
func (c *Controller) Start(ctx context.Context) error {
	started := c.startedChan()

	var err error
	// Set up the logger, which will be used by all sub-servers.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}
	c.reactor = reactor.New(c.logger)
	c.metrics = metrics.New()

	defer c.shutdown()

	if c.Config.Journal.Enabled {
		trace := c.logger.IsLevelEnabled(logrus.TraceLevel)
		c.db, err = data.Open(c.Config.Journal.Engine, c.Config.JournalDSN(), trace)
		if err != nil {
			return fmt.Errorf("error initializing session journal: %w", err)
		}
		c.journal = data.NewJournal(c.db, c.logger, c.Config.Journal.QueueSize)
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.PprofEnabled {
		c.pprof = debug.StartPprofServer(c.logger, c.Config.Debugging.PprofPort)
	}

	if err := c.declareServers(); err != nil {
		return err
	}

	// Failure to initialize one of the registered servers is considered terminal.
	for _, srv := range c.servers {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("error starting %s server: %w", srv.Name(), err)
		}
	}
	close(started)

	if err := c.reactor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Started is closed once every server is listening. It stays open if startup
// fails.
func (c *Controller) Started() <-chan struct{} {
	return c.startedChan()
}

func (c *Controller) startedChan() chan struct{} {
	c.startedOnce.Do(func() { c.started = make(chan struct{}) })
	return c.started
}

// Set up all of the servers we want to run.
func (c *Controller) declareServers() error {
	cfg := c.Config

	if cfg.RTMPServer.Enabled {
		c.servers = append(c.servers, rtmp.New(c.reactor, rtmp.Options{
			Address:        cfg.Address(cfg.RTMPServer.Port),
			Credentials:    credentials(cfg.RTMPServer),
			SweepInterval:  cfg.SweepInterval,
			MaxConnections: cfg.MaxConnections,
			IdleTimeout:    cfg.IdleTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			OutboxLimit:    cfg.OutboxLimit,
			Handler:        c.RTMPHandler,
			Logger:         c.logger,
			Metrics:        c.metrics,
			Journal:        c.journal,
		}))
	}

	for _, ws := range []struct {
		config         core.ServerConfig
		implementation websocket.Implementation
	}{
		{cfg.WebSocketServer, websocket.ImplementFLV},
		{cfg.SignalingServer, websocket.ImplementProtoo},
	} {
		if !ws.config.Enabled {
			continue
		}
		c.servers = append(c.servers, websocket.New(c.reactor, websocket.Options{
			Implementation: ws.implementation,
			Address:        cfg.Address(ws.config.Port),
			Credentials:    credentials(ws.config),
			SweepInterval:  cfg.SweepInterval,
			MaxConnections: cfg.MaxConnections,
			IdleTimeout:    cfg.IdleTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			OutboxLimit:    cfg.OutboxLimit,
			Handler:        c.SignalingHandler,
			Logger:         c.logger,
			Metrics:        c.metrics,
			Journal:        c.journal,
		}))
	}

	if cfg.HTTPFLVServer.Enabled {
		srv, err := httpflv.New(c.reactor, c.httpOptions(cfg.HTTPFLVServer))
		if err != nil {
			return fmt.Errorf("error declaring HTTP-FLV server: %w", err)
		}
		c.servers = append(c.servers, srv)
	}

	if cfg.HTTPServer.Enabled {
		srv := httpserver.New(c.reactor, c.httpOptions(cfg.HTTPServer))
		c.servers = append(c.servers, srv)

		sources := make([]httpserver.StatusSource, 0, len(c.servers))
		for _, s := range c.servers {
			sources = append(sources, s)
		}
		if err := srv.AddGetHandle("/status", httpserver.StatusHandler(sources...)); err != nil {
			return err
		}
		if err := srv.AddGetHandle("/metrics", c.metrics.Handler().ServeHTTP); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) httpOptions(sc core.ServerConfig) httpserver.Options {
	return httpserver.Options{
		Address:        c.Config.Address(sc.Port),
		Credentials:    credentials(sc),
		SweepInterval:  c.Config.SweepInterval,
		MaxConnections: c.Config.MaxConnections,
		IdleTimeout:    c.Config.IdleTimeout,
		WriteTimeout:   c.Config.WriteTimeout,
		OutboxLimit:    c.Config.OutboxLimit,
		Logger:         c.logger,
		Metrics:        c.metrics,
		Journal:        c.journal,
	}
}

func credentials(sc core.ServerConfig) *tlsconf.Credentials {
	return tlsconf.New(sc.TLS.KeyFile, sc.TLS.CertFile)
}

// shutdown runs after the reactor loop has exited, so closing the servers happens
// inline on this goroutine.
func (c *Controller) shutdown() {
	// When startup failed the loop never ran. Running it against a stopped reactor
	// executes whatever the servers already queued (accepted connections) and
	// refuses anything posted later.
	c.reactor.Stop()
	_ = c.reactor.Run(context.Background())

	for _, srv := range c.servers {
		srv.Close()
	}

	if c.journal != nil {
		c.journal.Close()
	}
	if c.db != nil {
		if err := data.Shutdown(c.db); err != nil {
			c.logger.Warnf("error closing journal database: %v", err)
		}
	}
	if c.pprof != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.pprof.Shutdown(ctx)
	}
	c.logger.Info("shut down")
}
