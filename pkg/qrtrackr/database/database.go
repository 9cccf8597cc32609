package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Connect initializes the database connection.
// driver is "sqlite" (dsn is a file path or ":memory:") or "postgres" (dsn is a libpq connection string).
func Connect(driver, dsn string, debug bool) error {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	logLevel := gormlogger.Silent
	if debug {
		logLevel = gormlogger.Info
	}

	var err error
	DB, err = gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return err
	}

	// SQLite allows a single writer; serialising on one connection avoids
	// "database is locked" errors and keeps ":memory:" databases shared.
	if dialector.Name() == "sqlite" {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return nil
}

// GetDB returns the database instance.
func GetDB() *gorm.DB {
	return DB
}
