package rtmp

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

func TestHandshake(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	_ = client.SetDeadline(time.Now().Add(2 * time.Second))

	errc := make(chan error, 1)
	go func() { errc <- Handshake(server, server) }()

	c1 := bytes.Repeat([]byte{0xab}, handshakeSize)
	if _, err := client.Write(append([]byte{Version}, c1...)); err != nil {
		t.Fatal(err)
	}

	s0s1s2 := make([]byte, 1+2*handshakeSize)
	if _, err := readFull(client, s0s1s2); err != nil {
		t.Fatalf("reading S0/S1/S2: %v", err)
	}
	if s0s1s2[0] != Version {
		t.Errorf("S0 = %d, want %d", s0s1s2[0], Version)
	}
	if !bytes.Equal(s0s1s2[1+handshakeSize:], c1) {
		t.Error("S2 does not echo C1")
	}

	// C2 echoes S1.
	if _, err := client.Write(s0s1s2[1 : 1+handshakeSize]); err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Errorf("Handshake() error = %v", err)
	}
}

func TestHandshake_BadVersion(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	errc := make(chan error, 1)
	go func() { errc <- Handshake(server, server) }()

	go func() { _, _ = client.Write(append([]byte{6}, make([]byte, handshakeSize)...)) }()
	if err := <-errc; !errors.Is(err, ErrHandshake) {
		t.Errorf("Handshake() error = %v, want ErrHandshake", err)
	}
}

func readFull(c net.Conn, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := c.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
