package data

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestJournal(t *testing.T) {
	db := setUpDatabase(t)
	journal := NewJournal(db, testLogger(), 16)

	first := journal.Opened("RTMP", "127.0.0.1:5000", false)
	second := journal.Opened("HTTP", "127.0.0.1:5001", true)
	journal.Closed(first, "closed")
	journal.Close()

	got, err := FindSessionRecord(db, first)
	if err != nil || got == nil {
		t.Fatalf("FindSessionRecord(%s) = %v, %v", first, got, err)
	}
	if got.ClosedAt == nil || got.Reason != "closed" {
		t.Errorf("first record was not closed: %+v", got)
	}

	got, err = FindSessionRecord(db, second)
	if err != nil || got == nil {
		t.Fatalf("FindSessionRecord(%s) = %v, %v", second, got, err)
	}
	if got.ClosedAt != nil || !got.TLS || got.Server != "HTTP" {
		t.Errorf("unexpected second record: %+v", got)
	}
}

func TestJournal_Nil(t *testing.T) {
	var journal *Journal
	if id := journal.Opened("RTMP", "127.0.0.1:5000", false); id != "" {
		t.Errorf("Opened() on a nil journal = %q, want empty", id)
	}
	journal.Closed("id", "closed")
	journal.Close()
}
