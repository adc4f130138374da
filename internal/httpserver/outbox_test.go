package httpserver

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/dcrodman/mediaserver/internal/core/session"
	"github.com/dcrodman/mediaserver/internal/core/tlsconf"
	"github.com/dcrodman/mediaserver/internal/core/tlsconf/tlstest"
)

// Big enough that the socket buffers can't take all of it.
var bigBody = bytes.Repeat([]byte{'x'}, 16<<20)

func bigHandler(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write(bigBody)
}

func waitForSessions(t *testing.T, s *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Sessions() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Sessions() = %d, want %d", s.Sessions(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// registered returns the only session in s.
func registered(t *testing.T, s *Server) *Session {
	t.Helper()
	var found *Session
	s.reactor.Call(func() {
		s.Registry().Range(func(sess session.Session) bool {
			found = sess.(*Session)
			return false
		})
	})
	if found == nil {
		t.Fatal("no session registered")
	}
	return found
}

func TestServer_SlowReader(t *testing.T) {
	s := newServerWithOptions(t, Options{WriteTimeout: 3 * time.Second}, func(s *Server) {
		mustAdd(t, s.AddGetHandle("/big", bigHandler))
		mustAdd(t, s.AddGetHandle("/ping", text("pong")))
	})

	// This client asks for a large response and never reads it.
	slow, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer slow.Close()
	fmt.Fprintf(slow, "GET /big HTTP/1.1\r\nHost: test\r\n\r\n")
	waitForSessions(t, s, 1)
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	code, body := get(t, s, "/ping")
	if code != http.StatusOK || body != "pong" {
		t.Errorf("GET /ping = %d %q", code, body)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("GET /ping took %v behind a client that doesn't read", elapsed)
	}
}

func TestServer_OutboxOverflow(t *testing.T) {
	s := newServerWithOptions(t, Options{WriteTimeout: 3 * time.Second, OutboxLimit: 64 << 10}, func(s *Server) {
		mustAdd(t, s.AddGetHandle("/big", bigHandler))
	})

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitForSessions(t, s, 1)
	sess := registered(t, s)

	// The first response is queued whole; the second doesn't fit behind it.
	fmt.Fprintf(conn, "GET /big HTTP/1.1\r\nHost: test\r\n\r\nGET /big HTTP/1.1\r\nHost: test\r\n\r\n")
	waitForSessions(t, s, 0)

	if sess.IsAlive() {
		t.Error("session still alive after overflowing its outbox")
	}
	if err := sess.Err(); err != session.ErrOutboxFull {
		t.Errorf("Err() = %v, want ErrOutboxFull", err)
	}
}

func newTLSServer(t *testing.T) *Server {
	t.Helper()
	creds := tlsconf.New(tlstest.WriteKeyPair(t, t.TempDir()))
	return newServerWithOptions(t, Options{WriteTimeout: time.Second, Credentials: creds}, func(s *Server) {
		mustAdd(t, s.AddGetHandle("/ping", text("pong")))
	})
}

func TestServer_TLS(t *testing.T) {
	s := newTLSServer(t)

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
	defer client.CloseIdleConnections()

	resp, err := client.Get(fmt.Sprintf("https://%s/ping", s.Addr()))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "pong" {
		t.Errorf("GET /ping = %d %q", resp.StatusCode, body)
	}
	if resp.TLS == nil {
		t.Error("response was not served over TLS")
	}

	if sess := registered(t, s); !sess.Secure() || !sess.IsAlive() {
		t.Errorf("registered session secure=%t alive=%t", sess.Secure(), sess.IsAlive())
	}
}

func TestServer_TLSHandshakeFailure(t *testing.T) {
	s := newTLSServer(t)

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitForSessions(t, s, 1)
	sess := registered(t, s)

	fmt.Fprintf(conn, "GET /ping HTTP/1.1\r\nHost: test\r\n\r\n")
	waitForSessions(t, s, 0)

	if sess.IsAlive() {
		t.Error("session alive after a failed handshake")
	}
	if sess.Err() == nil {
		t.Error("Err() = nil, want the handshake failure")
	}
}
