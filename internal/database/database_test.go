package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mccpackaging/vmibridge/internal/config"
)

func openTempDB(t *testing.T) (*DB, string) {
	t.Helper()
	dir := t.TempDir()
	backupDir := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backupDir, 0750); err != nil {
		t.Fatalf("creating backup dir: %v", err)
	}

	db, err := Open(filepath.Join(dir, "state.db"), &config.DatabaseConfig{}, backupDir)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, backupDir
}

func TestMigrator_MigrateUp(t *testing.T) {
	ctx := context.Background()
	db, _ := openTempDB(t)

	migrator, err := NewMigrator(db)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}

	t.Run("Applies every migration once", func(t *testing.T) {
		result, err := migrator.MigrateUp(ctx)
		if err != nil {
			t.Fatalf("migrating: %v", err)
		}
		if len(result.Applied) != 3 {
			t.Errorf("expected 3 migrations applied, got %d", len(result.Applied))
		}

		again, err := migrator.MigrateUp(ctx)
		if err != nil {
			t.Fatalf("second migrate: %v", err)
		}
		if len(again.Applied) != 0 {
			t.Errorf("expected no pending migrations, got %d", len(again.Applied))
		}
	})

	t.Run("Creates engine state tables", func(t *testing.T) {
		for _, table := range []string{
			"po_sequences", "release_sequences", "consumption_buckets",
			"processed_lines", "fulfillment_records", "audit_events",
		} {
			var name string
			err := db.QueryRowContext(ctx,
				"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
			).Scan(&name)
			if err != nil {
				t.Errorf("table %s missing: %v", table, err)
			}
		}
	})

	t.Run("Status reports applied migrations", func(t *testing.T) {
		status, err := migrator.Status(ctx)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		for _, mig := range status {
			if !mig.Applied {
				t.Errorf("migration %d not marked applied", mig.Version)
			}
		}
	})

	t.Run("Rolls back the latest migration", func(t *testing.T) {
		result, err := migrator.MigrateDown(ctx)
		if err != nil {
			t.Fatalf("rolling back: %v", err)
		}
		if result.TargetVersion != 2 {
			t.Errorf("expected version 2 after rollback, got %d", result.TargetVersion)
		}

		var count int
		db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'audit_events'",
		).Scan(&count)
		if count != 0 {
			t.Error("expected audit_events to be dropped")
		}
	})
}

func TestDB_WithTransaction(t *testing.T) {
	ctx := context.Background()
	db, _ := openTempDB(t)
	if _, err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	insert := func(tx *sql.Tx, day string) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO po_sequences (seq_date, last_value, updated_at) VALUES (?, 1, '')", day)
		return err
	}

	t.Run("Commits on success", func(t *testing.T) {
		err := db.WithTransaction(ctx, func(tx *sql.Tx) error { return insert(tx, "2025-11-19") })
		if err != nil {
			t.Fatalf("transaction: %v", err)
		}
	})

	t.Run("Rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
			if err := insert(tx, "2025-11-20"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}

		var count int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM po_sequences").Scan(&count)
		if count != 1 {
			t.Errorf("expected 1 committed row, got %d", count)
		}
	})

	t.Run("Rejects work after close", func(t *testing.T) {
		closed, _ := openTempDB(t)
		closed.Close()
		if _, err := closed.BeginTx(ctx, nil); err == nil {
			t.Error("expected error beginning a transaction on a closed database")
		}
		if err := closed.HealthCheck(ctx); err == nil {
			t.Error("expected health check to fail on a closed database")
		}
	})
}

func TestDB_BackupAndRecovery(t *testing.T) {
	ctx := context.Background()
	db, backupDir := openTempDB(t)
	if _, err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	path, err := db.Backup(ctx)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if filepath.Dir(path) != backupDir {
		t.Errorf("expected backup in %s, got %s", backupDir, path)
	}

	t.Run("Healthy file needs no recovery", func(t *testing.T) {
		report, err := AttemptRecovery(path, "")
		if err != nil {
			t.Fatalf("recovery: %v", err)
		}
		if report.Result != RecoverySuccess {
			t.Errorf("expected success, got %s", report.Result)
		}
	})

	t.Run("Missing file is a first run", func(t *testing.T) {
		report, err := AttemptRecovery(filepath.Join(t.TempDir(), "absent.db"), backupDir)
		if err != nil {
			t.Fatalf("recovery: %v", err)
		}
		if report.Steps[0].Name != "check_exists" {
			t.Errorf("expected check_exists step, got %s", report.Steps[0].Name)
		}
	})

	t.Run("Corrupt file is restored from backup", func(t *testing.T) {
		corrupt := filepath.Join(t.TempDir(), "corrupt.db")
		if err := os.WriteFile(corrupt, []byte("definitely not sqlite"), 0600); err != nil {
			t.Fatalf("writing corrupt file: %v", err)
		}

		report, err := AttemptRecovery(corrupt, backupDir)
		if err != nil {
			t.Fatalf("recovery: %v", err)
		}
		if report.Result != RecoveryFromBackup {
			t.Errorf("expected restore from backup, got %s", report.Result)
		}
		if report.BackupUsed != path {
			t.Errorf("expected backup %s, got %s", path, report.BackupUsed)
		}
		if err := verifyFile(corrupt); err != nil {
			t.Errorf("restored file failed integrity check: %v", err)
		}
		if set, _ := filepath.Glob(corrupt + ".corrupted.*"); len(set) != 1 {
			t.Errorf("expected the damaged file set aside, found %v", set)
		}
	})

	t.Run("Result names", func(t *testing.T) {
		if RecoveryFromBackup.String() != "restored_from_backup" || RecoveryResult(9).String() != "unknown" {
			t.Errorf("unexpected names %q, %q", RecoveryFromBackup, RecoveryResult(9))
		}
	})
}

func TestMigrator_DetectsEditedMigration(t *testing.T) {
	ctx := context.Background()
	db, _ := openTempDB(t)
	if _, err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	if _, err := db.ExecContext(ctx, "UPDATE schema_migrations SET checksum = 'edited' WHERE version = 1"); err != nil {
		t.Fatalf("tampering: %v", err)
	}

	_, err := Migrate(ctx, db)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestMigrator_BacksUpBeforeUpgrade(t *testing.T) {
	ctx := context.Background()
	db, backupDir := openTempDB(t)

	migrator, err := NewMigrator(db)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}

	t.Run("Fresh store is not backed up", func(t *testing.T) {
		result, err := migrator.MigrateUp(ctx)
		if err != nil {
			t.Fatalf("migrating: %v", err)
		}
		if result.Backup != "" {
			t.Errorf("expected no backup for a fresh store, got %s", result.Backup)
		}
	})

	t.Run("Existing store is backed up", func(t *testing.T) {
		if _, err := migrator.MigrateDown(ctx); err != nil {
			t.Fatalf("rolling back: %v", err)
		}
		result, err := migrator.MigrateUp(ctx)
		if err != nil {
			t.Fatalf("migrating: %v", err)
		}
		if result.Backup == "" || filepath.Dir(result.Backup) != backupDir {
			t.Errorf("expected a backup in %s, got %q", backupDir, result.Backup)
		}
		if len(result.Applied) != 1 {
			t.Errorf("expected 1 migration re-applied, got %d", len(result.Applied))
		}
	})
}

func TestPruneBackups(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-72 * time.Hour)

	names := []string{"engine-state-1.db", "engine-state-2.db", "notes.db"}
	for i, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, nil, 0600); err != nil {
			t.Fatal(err)
		}
		mod := old.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}

	if removed := pruneBackups(dir, time.Now().Add(-24*time.Hour)); removed != 1 {
		t.Errorf("expected 1 backup removed, got %d", removed)
	}

	for name, want := range map[string]bool{
		"engine-state-1.db": false,
		"engine-state-2.db": true,
		"notes.db":          true,
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		if (err == nil) != want {
			t.Errorf("%s: exists=%v, want %v", name, err == nil, want)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   int
	}{
		{"Semicolon inside a string", "CREATE TABLE a (x TEXT DEFAULT ';');\nCREATE INDEX i ON a(x);\n", 2},
		{"Comments are dropped", "-- leading; comment\nCREATE TABLE a (x TEXT); -- trailing;\n-- only a comment\n", 1},
		{"Last statement without semicolon", "CREATE TABLE a (x TEXT);\nCREATE TABLE b (y TEXT)", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmts := splitStatements(tt.script)
			if len(stmts) != tt.want {
				t.Fatalf("expected %d statements, got %d: %q", tt.want, len(stmts), stmts)
			}
		})
	}
}

func TestSplitSections(t *testing.T) {
	up, down := splitSections("-- +migrate Up\nCREATE TABLE a (x TEXT);\n\n-- +migrate Down\nDROP TABLE a;\n")
	if up != "CREATE TABLE a (x TEXT);" {
		t.Errorf("up = %q", up)
	}
	if down != "DROP TABLE a;" {
		t.Errorf("down = %q", down)
	}
}
