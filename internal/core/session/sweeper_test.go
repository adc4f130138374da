package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mediaserver/internal/core/reactor"
)

func runReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := reactor.New(logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func TestSweeper(t *testing.T) {
	r := runReactor(t)
	registry := NewRegistry()

	alive := newFake("10.0.0.1:1000", true)
	dead := newFake("10.0.0.2:1000", false)
	r.Call(func() {
		registry.Insert(alive)
		registry.Insert(dead)
	})

	swept := make(chan int, 64)
	sweeper := NewSweeper(r, registry, 5*time.Millisecond, func(n int) { swept <- n })

	select {
	case n := <-swept:
		if n != 1 {
			t.Errorf("first sweep removed %d sessions, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper never fired")
	}

	var remaining int
	r.Call(func() {
		remaining = registry.Len()
		sweeper.Stop()
	})
	if remaining != 1 {
		t.Errorf("Len() = %d after sweep, want 1", remaining)
	}

	// Anything killed after Stop stays registered.
	r.Call(func() { alive.alive = false })
	time.Sleep(30 * time.Millisecond)
	r.Call(func() { remaining = registry.Len() })
	if remaining != 1 {
		t.Errorf("registry was swept after Stop; Len() = %d", remaining)
	}
}
