// Package database owns the bridge's durable state store: a single SQLite file
// in WAL mode holding sequence counters, consumption buckets, the processed-line
// ledger, the output outbox and the activity log. It also runs scheduled backups.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mccpackaging/vmibridge/internal/config"

	_ "modernc.org/sqlite"
)

const (
	backupPrefix = "engine-state-"
	backupExt    = ".db"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("database is closed")

// DB wraps a sql.DB with pragmas, backups and transaction helpers.
type DB struct {
	*sql.DB
	path      string
	config    *config.DatabaseConfig
	backupDir string

	mu        sync.RWMutex
	closed    bool
	closeChan chan struct{}

	backupStop chan struct{}
	backupWG   sync.WaitGroup
}

// connectionPragmas apply to every pooled connection. A committed sequence
// allocation must survive power loss, hence synchronous=FULL under WAL.
var connectionPragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(FULL)",
	"foreign_keys(1)",
	"cache_size(-8000)",
}

// dsn builds the modernc connection string for path.
func dsn(path string) string {
	q := url.Values{}
	for _, p := range connectionPragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the state file at dbPath, creating it and its directory when
// missing. A failed integrity check is logged; Bootstrap runs recovery first.
func Open(dbPath string, cfg *config.DatabaseConfig, backupDir string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serialises every writer, matching the engine's own lock.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connecting to %s: %w", dbPath, err)
	}

	db := &DB{
		DB:        sqlDB,
		path:      dbPath,
		config:    cfg,
		backupDir: backupDir,
		closeChan: make(chan struct{}),
	}

	if err := db.CheckIntegrity(context.Background()); err != nil {
		slog.Warn("state store integrity check failed", "path", dbPath, "error", err)
	}

	if cfg.BackupIntervalHours > 0 && backupDir != "" {
		db.startBackups(time.Duration(cfg.BackupIntervalHours) * time.Hour)
	}

	return db, nil
}

// CheckIntegrity runs PRAGMA integrity_check on the open file.
func (db *DB) CheckIntegrity(ctx context.Context) error {
	results, err := integrityRows(ctx, db.DB)
	if err != nil {
		return err
	}
	if len(results) == 1 && results[0] == "ok" {
		return nil
	}
	return fmt.Errorf("integrity check failed: %s", strings.Join(results, "; "))
}

// Checkpoint folds the WAL back into the main file.
func (db *DB) Checkpoint(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	return nil
}

// Backup writes a consistent copy of the state file into the backup directory
// and prunes copies older than the retention period.
func (db *DB) Backup(ctx context.Context) (string, error) {
	if db.backupDir == "" {
		return "", errors.New("backup directory not configured")
	}

	name := backupPrefix + time.Now().Format("20060102-150405.000") + backupExt
	dest := filepath.Join(db.backupDir, name)

	if err := db.Checkpoint(ctx); err != nil {
		slog.Warn("checkpoint before backup failed", "error", err)
	}

	stmt := "VACUUM INTO '" + strings.ReplaceAll(dest, "'", "''") + "'"
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return "", fmt.Errorf("creating backup: %w", err)
	}
	slog.Info("state store backed up", "path", dest)

	if db.config.BackupRetentionDays > 0 {
		removed := pruneBackups(db.backupDir, time.Now().AddDate(0, 0, -db.config.BackupRetentionDays))
		if removed > 0 {
			slog.Debug("pruned old backups", "removed", removed)
		}
	}

	return dest, nil
}

// listBackups returns the state backups in dir, newest first. Other files in
// the directory are ignored.
func listBackups(dir string) ([]os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var backups []os.FileInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, info)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime().After(backups[j].ModTime())
	})
	return backups, nil
}

// pruneBackups removes backups older than cutoff, always keeping the newest.
func pruneBackups(dir string, cutoff time.Time) int {
	backups, err := listBackups(dir)
	if err != nil {
		slog.Warn("listing backups", "dir", dir, "error", err)
		return 0
	}

	removed := 0
	for i, info := range backups {
		if i == 0 || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, info.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("removing old backup", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}

func (db *DB) startBackups(interval time.Duration) {
	db.backupStop = make(chan struct{})
	db.backupWG.Add(1)

	go func() {
		defer db.backupWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-db.backupStop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				if _, err := db.Backup(ctx); err != nil {
					slog.Error("scheduled backup failed", "error", err)
				}
				cancel()
			}
		}
	}()
}

// Close stops the backup loop, checkpoints the WAL and closes the file.
// Calling it twice is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	close(db.closeChan)
	db.mu.Unlock()

	if db.backupStop != nil {
		close(db.backupStop)
		db.backupWG.Wait()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.Checkpoint(ctx); err != nil {
		slog.Warn("final checkpoint failed", "error", err)
	}

	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	slog.Debug("state store closed", "path", db.path)
	return nil
}

// IsClosed reports whether Close has been called.
func (db *DB) IsClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// BeginTx starts a transaction, or fails with ErrClosed after Close.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if db.IsClosed() {
		return nil, ErrClosed
	}
	return db.DB.BeginTx(ctx, opts)
}

// WithTransaction runs fn in a transaction, committing when fn returns nil.
// An error from fn is returned unwrapped; begin and commit failures are wrapped.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back after error %v: %w", fnErr, rbErr)
		}
		return fnErr
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}

// HealthCheck confirms the file is open and answering queries.
func (db *DB) HealthCheck(ctx context.Context) error {
	if db.IsClosed() {
		return ErrClosed
	}

	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("health check query: %w", err)
	}
	return nil
}
