// Package db opens the sqlite database a DHT node persists its slots and
// announcements in.
package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MutableRecord is one signed slot, keyed by the hex public key.
type MutableRecord struct {
	PublicKey string `gorm:"primaryKey"`
	Value     []byte
	Seq       uint64
	Signature []byte
	UpdatedAt int64 `gorm:"autoUpdateTime:milli"`
}

type Announcement struct {
	ID        uint   `gorm:"primaryKey"`
	Topic     string `gorm:"not null;uniqueIndex:idx_topic_key;index"`
	PublicKey string `gorm:"not null;uniqueIndex:idx_topic_key"`
	CreatedAt int64  `gorm:"autoCreateTime:milli"`
}

// Open opens (or creates) the database at path and migrates it. Use
// ":memory:" for a throwaway database.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// every pooled connection to ":memory:" would be a separate database
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if err := db.AutoMigrate(&MutableRecord{}, &Announcement{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
