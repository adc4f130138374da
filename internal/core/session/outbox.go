package session

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// DefaultOutboxLimit is the number of bytes that may wait for a slow peer before
// further sends are refused.
const DefaultOutboxLimit = 4 << 20

// ErrOutboxFull is returned by Send when the peer isn't reading fast enough.
var ErrOutboxFull = errors.New("outbound queue full")

// Outbox takes writes off the reactor. Send only queues the data; a writer
// goroutine moves it to the transport in order, each write bounded by the write
// timeout. A write failure is reported once through onError, on the writer
// goroutine.
type Outbox struct {
	t       *Transport
	timeout time.Duration
	limit   int
	onError func(err error)

	mu       sync.Mutex
	queue    *queue.Queue
	pending  int
	running  bool
	closing  bool
	deadline time.Time
	err      error
	wake     chan struct{}
}

// NewOutbox returns an Outbox for t. A limit <= 0 means DefaultOutboxLimit.
func NewOutbox(t *Transport, timeout time.Duration, limit int, onError func(err error)) *Outbox {
	if limit <= 0 {
		limit = DefaultOutboxLimit
	}
	return &Outbox{
		t:       t,
		timeout: timeout,
		limit:   limit,
		onError: onError,
		queue:   queue.New(),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the writer goroutine. Data sent before Start waits for it.
func (o *Outbox) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running || o.closing {
		return
	}
	o.running = true
	go o.run()
}

// Send queues a copy of b without blocking. Data that would take the queue past
// the limit is refused with ErrOutboxFull, except when the queue is empty so a
// single large response still goes out.
func (o *Outbox) Send(b []byte) error {
	if len(b) == 0 {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.err != nil:
		return o.err
	case o.closing:
		return net.ErrClosed
	case o.pending > 0 && o.pending+len(b) > o.limit:
		return ErrOutboxFull
	}

	o.queue.Add(append([]byte(nil), b...))
	o.pending += len(b)
	o.signal()
	return nil
}

// Pending returns the number of bytes not yet written.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

// Close stops accepting data and closes the transport. Whatever is still queued
// gets up to grace to go out first; the transport reports itself closed right
// away either way, and the socket is closed by the writer once it is done.
func (o *Outbox) Close(grace time.Duration) error {
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return nil
	}
	o.closing = true
	linger := o.running && o.err == nil && o.pending > 0 && grace > 0
	if linger {
		o.deadline = time.Now().Add(grace)
		o.t.closed.Store(true)
		_ = o.t.conn.SetWriteDeadline(o.deadline)
	}
	o.signal()
	o.mu.Unlock()

	if !linger {
		return o.t.Close()
	}
	return nil
}

func (o *Outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Outbox) run() {
	for {
		b, ok := o.next()
		if !ok {
			_ = o.t.Close()
			return
		}

		err := o.t.writeAll(b)

		o.mu.Lock()
		o.pending -= len(b)
		closing := o.closing
		if err != nil {
			o.err = err
			o.running = false
		}
		o.mu.Unlock()

		if err != nil {
			if closing {
				_ = o.t.Close()
			} else if o.onError != nil {
				o.onError(err)
			}
			return
		}
	}
}

// next waits for queued data and sets the deadline for writing it. It returns
// false once the outbox is closing and everything has been written. The deadline
// is set under the lock so the one Close sets can't be overridden.
func (o *Outbox) next() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.queue.Length() == 0 {
		if o.closing {
			o.running = false
			return nil, false
		}
		o.mu.Unlock()
		<-o.wake
		o.mu.Lock()
	}

	if !o.closing {
		var deadline time.Time
		if o.timeout > 0 {
			deadline = time.Now().Add(o.timeout)
		}
		_ = o.t.conn.SetWriteDeadline(deadline)
	}
	return o.queue.Remove().([]byte), true
}

// NetConn returns a net.Conn for protocol libraries that write on their own: reads
// come from the transport, writes are queued on the outbox and never block. Write
// deadlines are ignored since the outbox applies its own.
func (o *Outbox) NetConn() net.Conn {
	return &queuedConn{Conn: o.t.NetConn(), o: o}
}

type queuedConn struct {
	net.Conn
	o *Outbox
}

func (c *queuedConn) Write(b []byte) (int, error) {
	if err := c.o.Send(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *queuedConn) SetDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

func (c *queuedConn) SetWriteDeadline(time.Time) error {
	return nil
}

// Close goes through the outbox so queued data isn't cut off.
func (c *queuedConn) Close() error {
	return c.o.Close(c.o.timeout)
}
