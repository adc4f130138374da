package reactor

import (
	"errors"
	"sync"
	"time"
)

var ErrAlreadyRunning = errors.New("reactor is already running")

// Timer is a one-shot or recurring callback scheduled on a Reactor.
type Timer struct {
	r        *Reactor
	fn       func()
	interval time.Duration
	repeat   bool

	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

// AfterFunc runs fn on the reactor once d has elapsed.
func (r *Reactor) AfterFunc(d time.Duration, fn func()) *Timer {
	return r.newTimer(d, fn, false)
}

// Every runs fn on the reactor every d until the returned Timer is stopped. The
// first run happens one interval after the call.
func (r *Reactor) Every(d time.Duration, fn func()) *Timer {
	return r.newTimer(d, fn, true)
}

func (r *Reactor) newTimer(d time.Duration, fn func(), repeat bool) *Timer {
	t := &Timer{r: r, fn: fn, interval: d, repeat: repeat}
	t.mu.Lock()
	t.t = time.AfterFunc(d, t.fire)
	t.mu.Unlock()
	return t
}

// fire is called on the runtime timer goroutine and hands the callback over to the
// reactor. The stopped flag is checked again on the loop since Stop may have been
// called between the two.
func (t *Timer) fire() {
	t.r.Post(func() {
		if t.Stopped() {
			return
		}
		t.fn()

		if t.repeat {
			t.mu.Lock()
			if !t.stopped {
				t.t.Reset(t.interval)
			}
			t.mu.Unlock()
		}
	})
}

// Stop cancels the timer. When called from a reactor task the callback is
// guaranteed not to run afterwards.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.t.Stop()
}

func (t *Timer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
