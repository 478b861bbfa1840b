package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mccpackaging/vmibridge/internal/config"
)

// Bootstrap brings the state store up for the engine: recover the file if it
// exists, open it with backups scheduled, then migrate. Backups are disabled
// rather than fatal when their directory cannot be created.
func Bootstrap(ctx context.Context, cfg *config.Config) (*DB, *MigrationResult, error) {
	dbPath, err := config.EnsureDataDir(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("ensuring data directory: %w", err)
	}

	backupDir, err := config.BackupDir(cfg)
	if err != nil {
		slog.Warn("state backups disabled", "error", err)
		backupDir = ""
	}

	if err := recoverExisting(dbPath, backupDir); err != nil {
		return nil, nil, err
	}

	db, err := Open(dbPath, &cfg.Database, backupDir)
	if err != nil {
		return nil, nil, err
	}

	result, err := Migrate(ctx, db)
	if err != nil {
		return nil, nil, errors.Join(err, db.Close())
	}
	return db, result, nil
}

func recoverExisting(dbPath, backupDir string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return nil
	}

	report, err := AttemptRecovery(dbPath, backupDir)
	if err != nil {
		return fmt.Errorf("recovering %s after %d steps: %w", dbPath, len(report.Steps), err)
	}
	if report.Result == RecoveryFromBackup {
		slog.Error("engine state restored from backup; sequence counters may lag values already issued today",
			"backup", report.BackupUsed,
		)
	}
	return nil
}

// Migrate applies every pending embedded migration to db.
func Migrate(ctx context.Context, db *DB) (*MigrationResult, error) {
	m, err := NewMigrator(db)
	if err != nil {
		return nil, fmt.Errorf("preparing migrations: %w", err)
	}

	result, err := m.MigrateUp(ctx)
	if err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return result, nil
}
