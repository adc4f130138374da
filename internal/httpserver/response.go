package httpserver

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
)

// responseWriter buffers a handler's response so it can go out in one write with a
// Content-Length once the handler returns. Calling Flush turns the response into a
// stream instead: the headers are sent right away without a length and every later
// Write goes straight to the connection.
type responseWriter struct {
	s   *Session
	req *http.Request

	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer

	streaming bool
	err       error
}

var (
	_ http.ResponseWriter = (*responseWriter)(nil)
	_ http.Flusher        = (*responseWriter)(nil)
)

func newResponseWriter(s *Session, req *http.Request) *responseWriter {
	return &responseWriter{s: s, req: req, header: make(http.Header)}
}

func (w *responseWriter) Header() http.Header {
	return w.header
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.err != nil {
		return 0, w.err
	}
	if !w.streaming {
		return w.body.Write(b)
	}
	if err := w.s.write(b); err != nil {
		w.err = err
		return 0, err
	}
	return len(b), nil
}

// Flush switches to streaming mode. The session won't read further requests and
// stays open until the peer disconnects.
func (w *responseWriter) Flush() {
	if w.err != nil {
		return
	}
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	if !w.streaming {
		w.streaming = true
		w.s.stream()
		w.header.Del("Content-Length")
		w.header.Set("Connection", "close")
		w.err = w.s.write(w.head())
		if w.err == nil && w.body.Len() > 0 {
			w.err = w.s.write(w.body.Bytes())
			w.body.Reset()
		}
	}
}

// finish sends a buffered response. It returns whether the connection can be
// used for another request.
func (w *responseWriter) finish() (keepAlive bool) {
	if w.streaming {
		return false
	}
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	keepAlive = !w.req.Close && w.header.Get("Connection") != "close"
	if !keepAlive {
		w.header.Set("Connection", "close")
	}
	w.header.Set("Content-Length", strconv.Itoa(w.body.Len()))
	if w.header.Get("Content-Type") == "" && w.body.Len() > 0 {
		w.header.Set("Content-Type", http.DetectContentType(w.body.Bytes()))
	}

	out := w.head()
	if w.req.Method != http.MethodHead {
		out = append(out, w.body.Bytes()...)
	}
	if w.err = w.s.write(out); w.err != nil {
		return false
	}
	return keepAlive
}

func (w *responseWriter) head() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", w.status, http.StatusText(w.status))
	_ = w.header.Write(&buf)
	buf.WriteString("\r\n")
	return buf.Bytes()
}
