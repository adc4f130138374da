// Package reactor implements the single event loop shared by every server in the
// process. All session and registry state is only ever touched from callbacks that
// the Reactor runs, one at a time, on its own goroutine.
//
// Blocking socket I/O happens on per-session reader goroutines parked in the Go
// runtime's netpoller; those goroutines never mutate shared state themselves and
// instead Post the work they produced back onto the loop.
package reactor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// Reactor is a cooperative, single-goroutine task dispatcher.
type Reactor struct {
	logger *logrus.Logger

	mu    sync.Mutex
	tasks *queue.Queue
	wake  chan struct{}
	state atomic.Int32
	stop  chan struct{}
	once  sync.Once

	// exec is held while any task executes, whether on the loop or inline
	// through Call, so that tasks never overlap.
	exec sync.Mutex
}

func New(logger *logrus.Logger) *Reactor {
	return &Reactor{
		logger: logger,
		tasks:  queue.New(),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Run dispatches posted tasks until ctx is cancelled or Stop is called. Tasks that
// are still queued when the loop exits are executed before Run returns.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(stateIdle, stateRunning) {
		return ErrAlreadyRunning
	}

	r.logger.Debug("reactor running")
	defer r.logger.Debug("reactor stopped")

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		case <-r.stop:
			r.shutdown()
			return nil
		case <-r.wake:
			r.drain()
		}
	}
}

// Stop ends Run. Safe to call more than once and from any goroutine.
func (r *Reactor) Stop() {
	r.once.Do(func() { close(r.stop) })
}

// Running reports whether the loop is currently dispatching tasks.
func (r *Reactor) Running() bool {
	return r.state.Load() == stateRunning
}

// Post schedules fn to run on the loop without waiting for it. It returns false if
// the reactor has already shut down, in which case fn will never run.
func (r *Reactor) Post(fn func()) bool {
	r.mu.Lock()
	if r.state.Load() == stateStopped {
		r.mu.Unlock()
		return false
	}
	r.tasks.Add(fn)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish. If the loop is not running
// fn is executed inline on the calling goroutine, still serialized against any
// other task. Call must not be used from inside a task.
func (r *Reactor) Call(fn func()) {
	if r.Running() {
		done := make(chan struct{})
		if r.Post(func() {
			defer close(done)
			fn()
		}) {
			<-done
			return
		}
	}

	r.exec.Lock()
	defer r.exec.Unlock()
	r.invoke(fn)
}

func (r *Reactor) next() (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks.Length() == 0 {
		return nil, false
	}
	return r.tasks.Remove().(func()), true
}

func (r *Reactor) drain() {
	for {
		fn, ok := r.next()
		if !ok {
			return
		}
		r.exec.Lock()
		r.invoke(fn)
		r.exec.Unlock()
	}
}

// shutdown flips the reactor into the stopped state so that no new work is
// accepted, then runs whatever was already queued.
func (r *Reactor) shutdown() {
	r.mu.Lock()
	r.state.Store(stateStopped)
	r.mu.Unlock()
	r.drain()
}

// invoke runs a single task. A panicking task is logged and dropped; it must not
// take the loop, and with it every other session, down.
func (r *Reactor) invoke(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			r.logger.Errorf("recovered from panic in reactor task: %v\n%s", err, debug.Stack())
		}
	}()
	fn()
}
