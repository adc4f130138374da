package session

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeSession struct {
	endpoint string
	alive    bool
	closes   int
}

func newFake(endpoint string, alive bool) *fakeSession {
	return &fakeSession{endpoint: endpoint, alive: alive}
}

func (f *fakeSession) IsAlive() bool          { return f.alive && f.closes == 0 }
func (f *fakeSession) RemoteEndpoint() string { return f.endpoint }
func (f *fakeSession) HandleEvent(Event)      {}
func (f *fakeSession) Close() error {
	f.closes++
	return nil
}

func endpoints(r *Registry) []string {
	var got []string
	r.Range(func(s Session) bool {
		got = append(got, s.RemoteEndpoint())
		return true
	})
	sort.Strings(got)
	return got
}

func TestRegistry_InsertFindRemove(t *testing.T) {
	r := NewRegistry()
	a := newFake("10.0.0.1:1000", true)
	b := newFake("10.0.0.2:1000", true)
	r.Insert(a)
	r.Insert(b)

	if got, ok := r.Find(a.endpoint); !ok || got != a {
		t.Errorf("Find(%s) = %v, %v", a.endpoint, got, ok)
	}
	if _, ok := r.Find("10.0.0.3:1000"); ok {
		t.Error("Find() of an unknown endpoint succeeded")
	}

	if !r.Remove(a.endpoint) {
		t.Error("Remove() of a registered endpoint returned false")
	}
	if a.closes != 1 {
		t.Errorf("removed session closed %d times, want 1", a.closes)
	}
	if r.Remove(a.endpoint) {
		t.Error("second Remove() returned true")
	}
	if diff := cmp.Diff([]string{b.endpoint}, endpoints(r)); diff != "" {
		t.Errorf("unexpected registry contents; diff:\n%s", diff)
	}
}

func TestRegistry_InsertDuplicateReplaces(t *testing.T) {
	r := NewRegistry()
	first := newFake("10.0.0.1:1000", true)
	second := newFake("10.0.0.1:1000", true)

	var removed []*fakeSession
	var removedAlive []bool
	r.OnRemove(func(s Session, wasAlive bool) {
		removed = append(removed, s.(*fakeSession))
		removedAlive = append(removedAlive, wasAlive)
	})

	r.Insert(first)
	r.Insert(second)

	if r.Len() != 1 {
		t.Fatalf("Len() = %d after duplicate insert, want 1", r.Len())
	}
	if got, _ := r.Find(first.endpoint); got != second {
		t.Error("duplicate insert did not replace the existing session")
	}
	if first.closes != 1 {
		t.Errorf("displaced session closed %d times, want 1", first.closes)
	}
	if len(removed) != 1 || removed[0] != first || !removedAlive[0] {
		t.Errorf("OnRemove saw %v (alive %v), want only the displaced live session", removed, removedAlive)
	}

	// Inserting the same session again is a no-op.
	r.Insert(second)
	if second.closes != 0 {
		t.Error("re-inserting a session closed it")
	}
}

func TestRegistry_ReleaseIsIdentityGuarded(t *testing.T) {
	r := NewRegistry()
	stale := newFake("10.0.0.1:1000", true)
	current := newFake("10.0.0.1:1000", true)
	r.Insert(stale)
	r.Insert(current)

	if r.Release(stale) {
		t.Error("Release() of a displaced session removed something")
	}
	if got, ok := r.Find(current.endpoint); !ok || got != current {
		t.Error("Release() of a displaced session evicted its replacement")
	}

	if !r.Release(current) {
		t.Error("Release() of the registered session returned false")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_SweepDead(t *testing.T) {
	r := NewRegistry()
	sessions := []*fakeSession{
		newFake("10.0.0.1:1000", true),
		newFake("10.0.0.2:1000", false),
		newFake("10.0.0.3:1000", true),
		newFake("10.0.0.4:1000", false),
		newFake("10.0.0.5:1000", false),
	}
	for _, s := range sessions {
		r.Insert(s)
	}

	if n := r.SweepDead(); n != 3 {
		t.Errorf("SweepDead() = %d, want 3", n)
	}
	want := []string{"10.0.0.1:1000", "10.0.0.3:1000"}
	if diff := cmp.Diff(want, endpoints(r)); diff != "" {
		t.Errorf("unexpected survivors; diff:\n%s", diff)
	}
	for _, s := range sessions {
		wantCloses := 0
		if !s.alive {
			wantCloses = 1
		}
		if s.closes != wantCloses {
			t.Errorf("%s closed %d times, want %d", s.endpoint, s.closes, wantCloses)
		}
	}

	if n := r.SweepDead(); n != 0 {
		t.Errorf("second SweepDead() = %d, want 0", n)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d after second sweep, want 2", r.Len())
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a := newFake("10.0.0.1:1000", true)
	b := newFake("10.0.0.2:1000", false)
	r.Insert(a)
	r.Insert(b)

	if n := r.CloseAll(); n != 2 {
		t.Errorf("CloseAll() = %d, want 2", n)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after CloseAll, want 0", r.Len())
	}
	if a.closes != 1 || b.closes != 1 {
		t.Errorf("sessions closed %d and %d times, want 1 each", a.closes, b.closes)
	}
}
