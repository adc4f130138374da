package websocket

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mediaserver/internal/core/reactor"
	"github.com/dcrodman/mediaserver/internal/core/session"
	"github.com/dcrodman/mediaserver/internal/httpflv"
)

// ErrNotWebSocket is the failure recorded for connections whose first request
// isn't a WebSocket upgrade.
var ErrNotWebSocket = errors.New("not a websocket upgrade request")

// Bounds the time a close frame may take on the way out.
const closeGracePeriod = 100 * time.Millisecond

// Payloads of the events the reader goroutine posts.
type (
	upgraded struct{ conn *websocket.Conn }
	message  struct {
		kind int
		data []byte
	}
)

// Session is one WebSocket connection. The reader goroutine performs the upgrade
// and then posts every message it reads; everything else happens on the reactor.
// Writes are queued on the outbox and never wait for the peer.
type Session struct {
	*session.Transport

	server *Server
	owner  session.Owner
	out    *session.Outbox
	logger *logrus.Entry

	// Set on the reactor once the upgrade went through.
	ws   *websocket.Conn
	ping *reactor.Timer
}

var (
	_ session.Session = (*Session)(nil)
	_ Peer            = (*Session)(nil)
)

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

// Start launches the reader and writer. Called by the frontend once the session is
// registered.
func (s *Session) Start() {
	s.out.Start()
	go s.readLoop()
}

func (s *Session) readLoop() {
	conn, err := s.upgrade()
	if err != nil {
		s.finish(err)
		return
	}
	if !s.post(session.Event{Value: upgraded{conn: conn}}) {
		return
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		if !s.post(session.Event{Data: data, Value: message{kind: kind, data: data}}) {
			return
		}
	}
}

// upgrade reads the opening request off the raw connection and runs the
// handshake. Nothing else writes to the connection until this returns.
func (s *Session) upgrade() (*websocket.Conn, error) {
	netConn := s.out.NetConn()
	reader := bufio.NewReader(netConn)

	req, err := http.ReadRequest(reader)
	if err != nil {
		return nil, fmt.Errorf("error reading upgrade request: %w", err)
	}
	req.RemoteAddr = s.RemoteEndpoint()

	w := newHijackWriter(netConn, reader)
	if !websocket.IsWebSocketUpgrade(req) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		_ = w.flush()
		return nil, ErrNotWebSocket
	}

	conn, err := s.server.upgrader.Upgrade(w, req, nil)
	if err != nil {
		_ = w.flush()
		return nil, fmt.Errorf("error upgrading connection: %w", err)
	}

	conn.SetReadLimit(s.server.opts.MaxMessageSize)
	conn.SetPongHandler(func(string) error {
		s.Touch()
		return nil
	})
	return conn, nil
}

func (s *Session) post(ev session.Event) bool {
	return s.server.reactor.Post(func() { s.HandleEvent(ev) })
}

func (s *Session) finish(err error) {
	if err != nil && !isClosure(err) && !s.Closed() {
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

func isClosure(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// HandleEvent runs on the reactor.
func (s *Session) HandleEvent(ev session.Event) {
	if s.Closed() {
		return
	}

	switch v := ev.Value.(type) {
	case upgraded:
		s.onUpgrade(v.conn)
	case message:
		s.onMessage(v.kind, v.data)
	}
}

func (s *Session) onUpgrade(conn *websocket.Conn) {
	s.ws = conn
	s.logger.Debugf("upgraded to websocket (subprotocol %q)", conn.Subprotocol())

	if interval := s.server.opts.PingInterval; interval > 0 {
		s.ping = s.server.reactor.Every(interval, s.sendPing)
	}

	if s.server.opts.Implementation == ImplementFLV {
		if err := s.writeMessage(websocket.BinaryMessage, httpflv.Header); err != nil {
			s.abort(fmt.Errorf("error writing flv header: %w", err))
		}
	}
}

func (s *Session) onMessage(kind int, data []byte) {
	if s.server.opts.Implementation != ImplementProtoo {
		// FLV subscribers have nothing to say once connected.
		s.logger.Tracef("ignoring %d byte message", len(data))
		return
	}
	if kind != websocket.TextMessage {
		s.logger.Debugf("ignoring non-text signaling message")
		return
	}

	msg, err := ParseMessage(data)
	if err != nil {
		s.abort(err)
		return
	}

	handler := s.server.opts.Handler
	switch {
	case msg.Request:
		result, err := handler.HandleRequest(s, msg)
		resp, encErr := buildResponse(msg.ID, result, err)
		if encErr != nil {
			s.logger.Errorf("failed to answer %s request: %v", msg.Method, encErr)
			resp, _ = buildResponse(msg.ID, nil, encErr)
		}
		if err := s.writeMessage(websocket.TextMessage, resp); err != nil {
			s.abort(err)
		}
	case msg.Notification:
		handler.HandleNotification(s, msg)
	case msg.Response:
		s.logger.Debugf("unexpected response to request %d", msg.ID)
	}
}

// Notify sends a protoo notification to the peer. Only call it on the reactor.
func (s *Session) Notify(method string, data interface{}) error {
	b, err := json.Marshal(notification{Notification: true, Method: method, Data: data})
	if err != nil {
		return fmt.Errorf("error encoding notification: %w", err)
	}
	return s.writeMessage(websocket.TextMessage, b)
}

func (s *Session) writeMessage(kind int, b []byte) error {
	if s.ws == nil {
		return errors.New("websocket not upgraded yet")
	}
	return s.ws.WriteMessage(kind, b)
}

func (s *Session) sendPing() {
	if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
		s.abort(fmt.Errorf("error sending ping: %w", err))
	}
}

// abort fails the session and drops it from the registry right away.
func (s *Session) abort(err error) {
	s.logger.Warnf("dropping connection: %v", err)
	s.Fail(err)
	s.owner.OnClose(s)
}

// Close stops the keepalive, queues a goodbye when the handshake completed, and
// closes the socket once that went out (or the grace period ran out).
func (s *Session) Close() error {
	if s.ping != nil {
		s.ping.Stop()
	}
	if s.ws != nil && !s.Closed() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	}
	return s.out.Close(closeGracePeriod)
}
