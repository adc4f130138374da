package data

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the journal database using engine ("sqlite" or "postgres") and
// migrates the schema.
func Open(engine, dataSource string, debug bool) (*gorm.DB, error) {
	// By default only log errors but enable full SQL query prints-to-console with debug mode
	log := logger.Default.LogMode(logger.Error)
	if debug {
		log = logger.Default.LogMode(logger.Info)
	}

	var dialector gorm.Dialector
	switch engine {
	case "sqlite", "":
		dialector = sqlite.Open(dataSource)
	case "postgres":
		dialector = postgres.Open(dataSource)
	default:
		return nil, fmt.Errorf("unsupported database engine %q", engine)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err = db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("error auto migrating db: %w", err)
	}

	return db, nil
}

// Shutdown closes the connection pool behind db.
func Shutdown(db *gorm.DB) error {
	database, err := db.DB()
	if err != nil {
		return fmt.Errorf("error while getting current connection: %w", err)
	}
	if err := database.Close(); err != nil {
		return fmt.Errorf("error while closing database connection: %w", err)
	}
	return nil
}
