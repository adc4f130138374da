package websocket

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
)

// hijackWriter lets gorilla's Upgrader run against a connection we accepted
// ourselves instead of one handed out by net/http. The upgrader either hijacks it
// (success) or writes an error response through it.
type hijackWriter struct {
	conn   net.Conn
	reader *bufio.Reader

	header   http.Header
	status   int
	body     bytes.Buffer
	hijacked bool
}

var (
	_ http.ResponseWriter = (*hijackWriter)(nil)
	_ http.Hijacker       = (*hijackWriter)(nil)
)

func newHijackWriter(conn net.Conn, reader *bufio.Reader) *hijackWriter {
	return &hijackWriter{conn: conn, reader: reader, header: make(http.Header)}
}

func (w *hijackWriter) Header() http.Header { return w.header }

func (w *hijackWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *hijackWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

func (w *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if w.hijacked {
		return nil, nil, http.ErrHijacked
	}
	w.hijacked = true
	// The upgrader refuses a reader with buffered bytes, which a client that
	// sends its first frame right behind the request leaves us with. Hand it a
	// connection that drains our reader first and an empty reader on top.
	conn := &bufferedConn{Conn: w.conn, r: w.reader}
	return conn, bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)), nil
}

type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

// flush sends whatever error response the upgrader produced.
func (w *hijackWriter) flush() error {
	if w.hijacked || w.status == 0 {
		return nil
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", w.status, http.StatusText(w.status))
	w.header.Set("Connection", "close")
	w.header.Set("Content-Length", fmt.Sprint(w.body.Len()))
	_ = w.header.Write(&buf)
	buf.WriteString("\r\n")
	buf.Write(w.body.Bytes())

	_, err := w.conn.Write(buf.Bytes())
	return err
}
