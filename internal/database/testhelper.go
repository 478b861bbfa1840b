package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mccpackaging/vmibridge/internal/config"
	_ "modernc.org/sqlite"
)

// NewInMemory returns an unmigrated in-memory DB for tests. It has no backup
// directory and no WAL.
func NewInMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}

	// Each pooled connection to :memory: is its own database.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}

	return &DB{
		DB:        sqlDB,
		path:      ":memory:",
		config:    &config.DatabaseConfig{},
		closeChan: make(chan struct{}),
	}, nil
}

// NewMigratedInMemory returns an in-memory DB with every embedded migration
// applied.
func NewMigratedInMemory(ctx context.Context) (*DB, error) {
	db, err := NewInMemory()
	if err != nil {
		return nil, err
	}

	if _, err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
