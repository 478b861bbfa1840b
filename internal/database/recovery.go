package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// RecoveryResult is the outcome of AttemptRecovery.
type RecoveryResult int

const (
	// RecoverySuccess means the state file was healthy or repaired in place.
	RecoverySuccess RecoveryResult = iota
	// RecoveryFromBackup means the state file was replaced by a backup.
	RecoveryFromBackup
	// RecoveryFailed means nothing usable was found.
	RecoveryFailed
)

var recoveryResultNames = [...]string{"success", "restored_from_backup", "failed"}

func (r RecoveryResult) String() string {
	if r < 0 || int(r) >= len(recoveryResultNames) {
		return "unknown"
	}
	return recoveryResultNames[r]
}

// RecoveryReport records what AttemptRecovery did.
type RecoveryReport struct {
	Result       RecoveryResult
	DatabasePath string
	BackupUsed   string
	WALRecovered bool
	Steps        []RecoveryStep
}

// RecoveryStep is one check or repair.
type RecoveryStep struct {
	Name      string
	Succeeded bool
	Message   string
	Duration  time.Duration
}

type integrityQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// AttemptRecovery verifies the state file before it is opened for writing,
// escalating through WAL replay to the newest backup that passes an
// integrity check.
//
// A restored backup can be up to one backup interval old. Its sequence
// counters may then trail numbers already issued that day, so callers must
// report RecoveryFromBackup loudly.
func AttemptRecovery(dbPath string, backupDir string) (*RecoveryReport, error) {
	report := &RecoveryReport{DatabasePath: dbPath}

	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		report.record("check_exists", 0, "no state file yet", nil)
		return report, nil
	}

	if report.step("integrity_check", func() (string, error) { return "ok", verifyFile(dbPath) }) {
		return report, nil
	}

	if _, err := os.Stat(dbPath + "-wal"); err == nil {
		replayed := report.step("wal_recovery", func() (string, error) {
			return "WAL checkpoint complete", replayWAL(dbPath)
		})
		if replayed && report.step("post_wal_integrity", func() (string, error) { return "ok", verifyFile(dbPath) }) {
			report.WALRecovered = true
			slog.Info("state file repaired by WAL replay", "path", dbPath)
			return report, nil
		}
	}

	if backupDir != "" {
		var used string
		restored := report.step("backup_restoration", func() (string, error) {
			var err error
			used, err = restoreFromBackup(dbPath, backupDir)
			return used, err
		})
		if restored {
			report.Result = RecoveryFromBackup
			report.BackupUsed = used
			slog.Warn("state file restored from backup", "path", dbPath, "backup", used)
			return report, nil
		}
	}

	report.Result = RecoveryFailed
	slog.Error("state file recovery failed", "path", dbPath, "steps", len(report.Steps))
	return report, errors.New("all recovery attempts failed")
}

func (r *RecoveryReport) step(name string, fn func() (string, error)) bool {
	start := time.Now()
	msg, err := fn()
	r.record(name, time.Since(start), msg, err)
	return err == nil
}

func (r *RecoveryReport) record(name string, took time.Duration, msg string, err error) {
	s := RecoveryStep{Name: name, Succeeded: err == nil, Message: msg, Duration: took}
	if err != nil {
		s.Message = err.Error()
		slog.Warn("recovery step failed", "step", name, "error", err)
	}
	r.Steps = append(r.Steps, s)
}

// verifyFile runs an integrity check over a read-only connection.
func verifyFile(path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	problems, err := integrityRows(ctx, db)
	if err != nil {
		return err
	}
	if len(problems) == 1 && problems[0] == "ok" {
		return nil
	}
	return fmt.Errorf("integrity check failed: %s", strings.Join(problems, "; "))
}

// integrityRows returns every row PRAGMA integrity_check produces; a healthy
// file yields the single row "ok".
func integrityRows(ctx context.Context, q integrityQuerier) ([]string, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return nil, fmt.Errorf("running integrity check: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scanning integrity row: %w", err)
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// replayWAL opens the file writable, which makes SQLite roll the WAL
// forward, then folds it into the main file.
func replayWAL(path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(RESTART)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	return nil
}

// restoreFromBackup installs the newest healthy backup at dbPath. The damaged
// file is set aside as <dbPath>.corrupted.<stamp>.
func restoreFromBackup(dbPath string, backupDir string) (string, error) {
	backups, err := listBackups(backupDir)
	if err != nil {
		return "", fmt.Errorf("reading backup directory: %w", err)
	}
	if len(backups) == 0 {
		return "", errors.New("no backup files found")
	}

	for _, info := range backups {
		candidate := filepath.Join(backupDir, info.Name())
		if err := verifyFile(candidate); err != nil {
			slog.Debug("skipping unhealthy backup", "path", candidate, "error", err)
			continue
		}

		quarantine := dbPath + ".corrupted." + time.Now().Format("20060102-150405")
		if err := moveFile(dbPath, quarantine); err != nil {
			slog.Warn("could not set damaged state file aside", "path", dbPath, "error", err)
		}
		for _, side := range []string{"-wal", "-shm"} {
			os.Remove(dbPath + side)
		}

		if err := installCopy(candidate, dbPath); err != nil {
			return "", fmt.Errorf("copying backup: %w", err)
		}
		return candidate, nil
	}
	return "", errors.New("no valid backup found")
}

// moveFile renames src to dst, falling back to copy and delete across
// filesystems.
func moveFile(src, dst string) error {
	if os.Rename(src, dst) == nil {
		return nil
	}
	if err := installCopy(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// installCopy copies src to a temp file beside dst, syncs it and renames it
// into place, so dst is never left half written.
func installCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copying data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
