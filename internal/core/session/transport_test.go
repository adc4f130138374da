package session

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestTransport_Liveness(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	tr := NewTransport(server, nil, 0)
	if !tr.IsAlive() {
		t.Fatal("new transport is not alive")
	}
	if tr.Secure() {
		t.Error("plain transport reports Secure() = true")
	}

	failure := errors.New("decode error")
	tr.Fail(failure)
	tr.Fail(errors.New("second failure"))
	if tr.IsAlive() {
		t.Error("failed transport is still alive")
	}
	if !errors.Is(tr.Err(), failure) {
		t.Errorf("Err() = %v, want the first failure", tr.Err())
	}

	if err := tr.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	_ = tr.Close()
	if !tr.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestTransport_IdleTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	tr := NewTransport(server, nil, 20*time.Millisecond)
	defer tr.Close()

	go func() { _, _ = client.Write([]byte("ping")) }()
	buf := make([]byte, 4)
	if _, err := io.ReadFull(tr, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !tr.IsAlive() {
		t.Error("transport not alive right after a read")
	}

	time.Sleep(40 * time.Millisecond)
	if tr.IsAlive() {
		t.Error("transport still alive past its idle timeout")
	}

	go func() { _, _ = io.ReadFull(client, make([]byte, 4)) }()
	if _, err := tr.NetConn().Write([]byte("pong")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !tr.IsAlive() {
		t.Error("writing through NetConn did not count as activity")
	}
}

func TestTransport_SetIdleTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	tr := NewTransport(server, nil, 10*time.Millisecond)
	defer tr.Close()

	tr.SetIdleTimeout(0)
	time.Sleep(30 * time.Millisecond)
	if !tr.IsAlive() {
		t.Error("transport without an idle timeout went idle")
	}
}
