package rtmp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// Version is the only protocol version accepted in C0.
	Version = 3

	handshakeSize = 1536
)

var ErrHandshake = errors.New("rtmp handshake failed")

// Handshake runs the server side of the simple (unsigned) RTMP handshake:
//
//	C0 C1 -> S0 S1 S2 -> C2
//
// S2 echoes C1 and C2 is read but not checked against S1, since plenty of
// clients get the echo wrong.
func Handshake(r io.Reader, w io.Writer) error {
	c0c1 := make([]byte, 1+handshakeSize)
	if _, err := io.ReadFull(r, c0c1); err != nil {
		return fmt.Errorf("%w: reading C0/C1: %v", ErrHandshake, err)
	}
	if c0c1[0] != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrHandshake, c0c1[0])
	}
	c1 := c0c1[1:]

	s0s1s2 := make([]byte, 1+2*handshakeSize)
	s0s1s2[0] = Version

	s1 := s0s1s2[1 : 1+handshakeSize]
	binary.BigEndian.PutUint32(s1[0:4], uint32(time.Now().Unix()))
	// Bytes 4-8 stay zero.
	if _, err := rand.Read(s1[8:]); err != nil {
		return fmt.Errorf("%w: generating S1: %v", ErrHandshake, err)
	}
	copy(s0s1s2[1+handshakeSize:], c1)

	if _, err := w.Write(s0s1s2); err != nil {
		return fmt.Errorf("%w: writing S0/S1/S2: %v", ErrHandshake, err)
	}

	c2 := make([]byte, handshakeSize)
	if _, err := io.ReadFull(r, c2); err != nil {
		return fmt.Errorf("%w: reading C2: %v", ErrHandshake, err)
	}
	return nil
}
