package httpserver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mediaserver/internal/core/session"
)

// Requests with bodies larger than this are refused and the connection dropped.
const maxBodySize = 4 << 20

// How long a closing session may keep flushing its last response when no write
// timeout is configured.
const defaultLinger = 5 * time.Second

var errBodyTooLarge = errors.New("request body too large")

// Session is one HTTP connection. Requests are parsed off the reactor on the
// session's reader goroutine, one at a time, and dispatched on the reactor.
type Session struct {
	*session.Transport

	server *Server
	owner  session.Owner
	reader *bufio.Reader
	out    *session.Outbox
	linger time.Duration
	logger *logrus.Entry

	// Tells the reader whether to go on to the next request once the current one
	// has been answered.
	next chan bool
}

var _ session.Session = (*Session)(nil)

func newSession(t *session.Transport, srv *Server, owner session.Owner) *Session {
	s := &Session{
		Transport: t,
		server:    srv,
		owner:     owner,
		reader:    bufio.NewReader(t),
		linger:    srv.opts.WriteTimeout,
		logger:    srv.logger.WithField("client", t.RemoteEndpoint()),
		next:      make(chan bool, 1),
	}
	if s.linger <= 0 {
		s.linger = defaultLinger
	}
	s.out = session.NewOutbox(t, srv.opts.WriteTimeout, srv.opts.OutboxLimit, s.writeFailed)
	return s
}

// Start launches the reader and writer. Called by the frontend once the session is
// registered.
func (s *Session) Start() {
	s.out.Start()
	go s.readLoop()
}

func (s *Session) readLoop() {
	for {
		req, err := s.readRequest()
		if err != nil {
			s.finish(err)
			return
		}

		if !s.post(session.Event{Value: req}) {
			return
		}

		if keepReading := <-s.next; !keepReading {
			break
		}
	}

	if s.Closed() {
		return
	}
	// The connection was handed to a streaming response (or is about to be closed
	// by the dispatcher). All that's left is noticing the peer going away.
	_, err := io.Copy(io.Discard, s.Transport)
	s.finish(err)
}

func (s *Session) readRequest() (*http.Request, error) {
	req, err := http.ReadRequest(s.reader)
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize+1))
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("error reading request body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, errBodyTooLarge
	}

	req.Body = io.NopCloser(bytes.NewReader(body))
	req.RemoteAddr = s.RemoteEndpoint()
	return req, nil
}

func (s *Session) post(ev session.Event) bool {
	return s.server.reactor.Post(func() { s.HandleEvent(ev) })
}

// finish records why the reader stopped and tells the owner, on the reactor, that
// the session is done.
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

// HandleEvent dispatches one parsed request.
func (s *Session) HandleEvent(ev session.Event) {
	req, ok := ev.Value.(*http.Request)
	if !ok || s.Closed() {
		s.next <- false
		return
	}

	keepAlive, streaming := s.server.dispatch(s, req)
	if !keepAlive && !streaming {
		// The exchange is over; hang up right away rather than waiting for the
		// peer to notice.
		s.Fail(nil)
		s.owner.OnClose(s)
	}
	s.next <- keepAlive
}

// write queues b for the peer. A peer that lets too much pile up fails the
// session.
func (s *Session) write(b []byte) error {
	if err := s.out.Send(b); err != nil {
		s.Fail(err)
		return err
	}
	return nil
}

// stream turns the session into a long-lived response. The reader only waits for
// the peer to go away from here on, which is what liveness follows instead of
// idle time.
func (s *Session) stream() {
	s.SetIdleTimeout(0)
}

// Close lets the last queued response go out before the socket is closed.
func (s *Session) Close() error {
	return s.out.Close(s.linger)
}
