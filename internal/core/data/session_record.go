package data

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// SessionRecord is one client session as seen by one of the servers.
type SessionRecord struct {
	ID       string `gorm:"primaryKey;size:36"`
	Server   string `gorm:"index;not null"`
	Endpoint string `gorm:"not null"`
	TLS      bool
	OpenedAt time.Time
	ClosedAt *time.Time
	Reason   string
}

// CreateSessionRecord persists a newly opened session.
func CreateSessionRecord(db *gorm.DB, record *SessionRecord) error {
	return db.Create(record).Error
}

// CloseSessionRecord stamps the close time and reason on an existing record.
func CloseSessionRecord(db *gorm.DB, id string, closedAt time.Time, reason string) error {
	return db.Model(&SessionRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"closed_at": closedAt, "reason": reason}).Error
}

// FindSessionRecord returns the record with the given ID or nil if there isn't one.
func FindSessionRecord(db *gorm.DB, id string) (*SessionRecord, error) {
	var record SessionRecord
	err := db.Where("id = ?", id).First(&record).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &record, nil
}

// FindOpenSessionRecords returns every record for server that hasn't been closed.
// A blank server matches all of them.
func FindOpenSessionRecords(db *gorm.DB, server string) ([]SessionRecord, error) {
	var records []SessionRecord
	err := byServer(db, server).
		Where("closed_at IS NULL").
		Order("opened_at").
		Find(&records).Error
	return records, err
}

// FindSessionRecords returns every record for server, open or not.
func FindSessionRecords(db *gorm.DB, server string) ([]SessionRecord, error) {
	var records []SessionRecord
	err := byServer(db, server).Order("opened_at").Find(&records).Error
	return records, err
}

func byServer(db *gorm.DB, server string) *gorm.DB {
	if server == "" {
		return db
	}
	return db.Where("server = ?", server)
}
