package session

import (
	"time"

	"github.com/dcrodman/mediaserver/internal/core/reactor"
)

// DefaultSweepInterval is how often a server checks its registry for dead sessions.
const DefaultSweepInterval = 3 * time.Second

// Sweeper periodically evicts sessions whose transport has died without the server
// hearing about it (peer vanished, silent reset). Clean disconnects are handled
// immediately through the close notification; this is only the backstop.
type Sweeper struct {
	registry *Registry
	timer    *reactor.Timer
	onSweep  func(removed int)
}

// NewSweeper starts sweeping registry every interval on r. onSweep, if set, is
// called on the reactor after each pass with the number of sessions removed.
func NewSweeper(r *reactor.Reactor, registry *Registry, interval time.Duration, onSweep func(removed int)) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &Sweeper{registry: registry, onSweep: onSweep}
	s.timer = r.Every(interval, s.sweep)
	return s
}

func (s *Sweeper) sweep() {
	removed := s.registry.SweepDead()
	if s.onSweep != nil {
		s.onSweep(removed)
	}
}

// Stop cancels the sweep timer. Once Stop has returned on the reactor the
// registry won't be touched again.
func (s *Sweeper) Stop() {
	s.timer.Stop()
}
