package data

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type journalOp struct {
	record *SessionRecord
	id     string
	at     time.Time
	reason string
}

// Journal records session lifecycles without making the caller wait on the
// database: records are queued and written by a single background goroutine.
type Journal struct {
	db     *gorm.DB
	logger *logrus.Logger

	ops       chan journalOp
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewJournal starts the writer goroutine. queueSize bounds how many records may be
// pending before new ones are dropped.
func NewJournal(db *gorm.DB, logger *logrus.Logger, queueSize int) *Journal {
	if queueSize <= 0 {
		queueSize = 1024
	}
	j := &Journal{
		db:     db,
		logger: logger,
		ops:    make(chan journalOp, queueSize),
	}
	j.wg.Add(1)
	go j.run()
	return j
}

// Opened queues a new record and returns its ID. A nil Journal is a no-op.
func (j *Journal) Opened(server, endpoint string, tls bool) string {
	if j == nil {
		return ""
	}
	record := &SessionRecord{
		ID:       uuid.NewString(),
		Server:   server,
		Endpoint: endpoint,
		TLS:      tls,
		OpenedAt: time.Now(),
	}
	j.enqueue(journalOp{record: record})
	return record.ID
}

// Closed queues the close of a record previously returned by Opened.
func (j *Journal) Closed(id, reason string) {
	if j == nil || id == "" {
		return
	}
	j.enqueue(journalOp{id: id, at: time.Now(), reason: reason})
}

func (j *Journal) enqueue(op journalOp) {
	select {
	case j.ops <- op:
	default:
		j.logger.Warn("session journal queue is full, dropping record")
	}
}

func (j *Journal) run() {
	defer j.wg.Done()

	for op := range j.ops {
		var err error
		if op.record != nil {
			err = CreateSessionRecord(j.db, op.record)
		} else {
			err = CloseSessionRecord(j.db, op.id, op.at, op.reason)
		}
		if err != nil {
			j.logger.Warnf("failed to write session journal: %v", err)
		}
	}
}

// Close writes out everything still queued and stops the writer. Opened and Closed
// must not be called afterwards.
func (j *Journal) Close() {
	if j == nil {
		return
	}
	j.closeOnce.Do(func() {
		close(j.ops)
		j.wg.Wait()
	})
}
