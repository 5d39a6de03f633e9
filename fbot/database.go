package fbot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

// ModelUnixTime is embedded in persisted models to track creation and
// update times in milliseconds.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// ChatRecord logs one completed or failed chat request for auditing.
type ChatRecord struct {
	ModelUintID
	ModelUnixTime

	// RequestID correlates the record with log lines for the request.
	RequestID string `gorm:"index" json:"request_id"`

	UserID    string `gorm:"index" json:"user_id"`
	Username  string `json:"username"`
	ChannelID string `gorm:"index" json:"channel_id"`
	MessageID string `json:"message_id"`

	Command  string `gorm:"index" json:"command"`
	ModelID  string `json:"model_id"`
	Provider string `json:"provider"`

	Prompt      string `gorm:"type:text" json:"prompt"`
	Attachments int    `json:"attachments"`
	PartsSent   int    `json:"parts_sent"`

	State string `gorm:"index" json:"state"`
	Error string `gorm:"type:text" json:"error,omitempty"`
}

// QuoteRecord is an audit row for each quote-of-the-day the scheduled job
// posted.
type QuoteRecord struct {
	ModelUintID
	ModelUnixTime

	Quote     string `gorm:"type:text" json:"quote"`
	Author    string `gorm:"index" json:"author"`
	ChannelID string `json:"channel_id"`
}

// getDB opens a sqlite or postgres connection.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(
			sqlite.Open(database),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(database), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

// initDB opens the database and migrates the bot's models.
func initDB(
	ctx context.Context,
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	txn := db.WithContext(ctx).Begin()
	if err = txn.Migrator().AutoMigrate(
		&ChatRecord{},
		&QuoteRecord{},
	); err != nil {
		txn.Rollback()
		return db, err
	}
	if commitErr := txn.Commit().Error; commitErr != nil {
		return db, commitErr
	}
	return db, nil
}
