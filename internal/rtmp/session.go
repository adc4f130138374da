package rtmp

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mediaserver/internal/core/session"
)

type transportWriter struct{ s *Session }

func (w transportWriter) Write(b []byte) (int, error) {
	if err := w.s.Transport.Write(b, w.s.server.opts.WriteTimeout); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Grace period for queued data when a session is closed.
const closeGracePeriod = time.Second

// Session is one RTMP connection. The reader goroutine does the handshake,
// reassembles chunks and decodes commands; the decoded messages are handled on
// the reactor. Anything sent after the handshake goes through the outbox.
type Session struct {
	*session.Transport

	server *Server
	owner  session.Owner
	out    *session.Outbox
	logger *logrus.Entry

	// Reactor state.
	connect *ConnectCommand
}

var _ session.Session = (*Session)(nil)

func newSession(t *session.Transport, srv *Server, owner session.Owner) *Session {
	s := &Session{
		Transport: t,
		server:    srv,
		owner:     owner,
		logger:    srv.logger.WithField("client", t.RemoteEndpoint()),
	}
	s.out = session.NewOutbox(t, srv.opts.WriteTimeout, srv.opts.OutboxLimit, s.writeFailed)
	return s
}

func (s *Session) Start() {
	s.out.Start()
	go s.readLoop()
}

func (s *Session) readLoop() {
	reader := bufio.NewReader(s.Transport)

	if err := Handshake(reader, transportWriter{s}); err != nil {
		s.finish(err)
		return
	}

	chunks := NewChunkReader(reader)
	for {
		msg, err := chunks.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}

		if msg.TypeID == TypeCommandAMF0 {
			cmd, err := DecodeCommand(msg.Payload)
			if err != nil {
				s.finish(err)
				return
			}
			msg.Command = cmd
		}

		if !s.post(session.Event{Data: msg.Payload, Value: msg}) {
			return
		}
	}
}

func (s *Session) post(ev session.Event) bool {
	return s.server.reactor.Post(func() { s.HandleEvent(ev) })
}

func (s *Session) finish(err error) {
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !s.Closed() {
		s.logger.Debugf("connection error: %v", err)
		s.Fail(err)
	} else {
		s.Fail(nil)
	}
	s.server.reactor.Post(func() { s.owner.OnClose(s) })
}

// writeFailed runs on the outbox's writer goroutine.
func (s *Session) writeFailed(err error) {
	if !s.Closed() {
		s.logger.Debugf("write error: %v", err)
	}
	s.Fail(err)
	s.server.reactor.Post(func() { s.owner.OnClose(s) })
}

// HandleEvent runs on the reactor.
func (s *Session) HandleEvent(ev session.Event) {
	msg, ok := ev.Value.(*Message)
	if !ok || s.Closed() {
		return
	}

	handler := s.server.opts.Handler
	if msg.Command == nil {
		handler.HandleMessage(s, msg)
		return
	}

	if msg.Command.Name == "connect" {
		cc, err := msg.Command.Connect()
		if err != nil {
			s.abort(err)
			return
		}
		s.connect = cc
		s.logger.Infof("connected to app %q (%s)", cc.App, cc.TCURL)
	}
	handler.HandleCommand(s, msg.Command)
}

// Connect returns the connect command the peer sent, or nil before it did.
func (s *Session) Connect() *ConnectCommand { return s.connect }

// App is the application the peer connected to.
func (s *Session) App() string {
	if s.connect == nil {
		return ""
	}
	return s.connect.App
}

// Send queues raw chunk stream bytes for the peer without waiting for them to be
// written. A peer that lets too much pile up is dropped. Only call it on the
// reactor.
func (s *Session) Send(b []byte) error {
	if err := s.out.Send(b); err != nil {
		s.abort(err)
		return err
	}
	return nil
}

// Close lets queued data go out before the socket is closed.
func (s *Session) Close() error {
	return s.out.Close(closeGracePeriod)
}

func (s *Session) abort(err error) {
	s.logger.Warnf("dropping connection: %v", err)
	s.Fail(err)
	s.owner.OnClose(s)
}
