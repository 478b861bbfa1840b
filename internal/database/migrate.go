package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	migrationFileRe = regexp.MustCompile(`^(\d{3})_(\w+)\.sql$`)
	migrateMarkerRe = regexp.MustCompile(`(?m)^--\s*\+migrate\s+(Up|Down)\s*$`)
)

// ErrChecksumMismatch means an applied migration no longer matches the
// embedded file it was applied from.
var ErrChecksumMismatch = errors.New("applied migration differs from embedded file")

// Migration is one embedded schema step.
type Migration struct {
	Version     int
	Description string
	UpSQL       string
	DownSQL     string
	Checksum    string
	Applied     bool
	AppliedAt   time.Time
}

// MigrationResult contains the result of running migrations. Backup is the
// copy taken before an existing store was upgraded.
type MigrationResult struct {
	Applied        []Migration
	CurrentVersion int
	TargetVersion  int
	Backup         string
	Error          error
}

// Migrator applies the embedded migrations to a DB.
type Migrator struct {
	db         *DB
	migrations []Migration
}

// NewMigrator loads the embedded migrations and makes sure the bookkeeping
// table exists.
func NewMigrator(db *DB) (*Migrator, error) {
	migrations, err := loadMigrations(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now')),
			checksum TEXT
		)`); err != nil {
		return nil, fmt.Errorf("creating migrations table: %w", err)
	}

	return &Migrator{db: db, migrations: migrations}, nil
}

func loadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	names, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, name := range names {
		base := path.Base(name)
		m := migrationFileRe.FindStringSubmatch(base)
		if m == nil {
			slog.Warn("skipping invalid migration filename", "name", base)
			continue
		}

		version, _ := strconv.Atoi(m[1])
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, base, version)
		}
		seen[version] = base

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", base, err)
		}

		up, down := splitSections(string(content))
		sum := sha256.Sum256([]byte(up))
		migrations = append(migrations, Migration{
			Version:     version,
			Description: strings.ReplaceAll(m[2], "_", " "),
			UpSQL:       up,
			DownSQL:     down,
			Checksum:    hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// splitSections separates the "-- +migrate Up" and "-- +migrate Down" parts of
// a migration file. A file without markers is all Up.
func splitSections(content string) (up, down string) {
	marks := migrateMarkerRe.FindAllStringSubmatchIndex(content, -1)
	if len(marks) == 0 {
		return strings.TrimSpace(content), ""
	}

	for i, mark := range marks {
		end := len(content)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		body := strings.TrimSpace(content[mark[1]:end])
		if content[mark[2]:mark[3]] == "Up" {
			up = body
		} else {
			down = body
		}
	}
	return up, down
}

type appliedMigration struct {
	appliedAt time.Time
	checksum  sql.NullString
}

func (m *Migrator) applied(ctx context.Context) (map[int]appliedMigration, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT version, applied_at, checksum FROM schema_migrations ORDER BY version",
	)
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]appliedMigration)
	for rows.Next() {
		var (
			version   int
			appliedAt string
			a         appliedMigration
		)
		if err := rows.Scan(&version, &appliedAt, &a.checksum); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		a.appliedAt, _ = time.Parse(time.DateTime, appliedAt)
		applied[version] = a
	}
	return applied, rows.Err()
}

// CurrentVersion returns the highest applied version, 0 for an empty store.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations",
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("querying current version: %w", err)
	}
	return version, nil
}

// PendingMigrations returns the embedded migrations above the current version.
func (m *Migrator) PendingMigrations(ctx context.Context) ([]Migration, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, mig := range m.migrations {
		if mig.Version > current {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// Verify checks every applied migration that recorded a checksum against
// its embedded file.
func (m *Migrator) Verify(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, mig := range m.migrations {
		a, ok := applied[mig.Version]
		if !ok || !a.checksum.Valid {
			continue
		}
		if a.checksum.String != mig.Checksum {
			errs = append(errs, fmt.Errorf("%w: version %d (%s)", ErrChecksumMismatch, mig.Version, mig.Description))
		}
	}
	return errors.Join(errs...)
}

// MigrateUp applies every pending migration, each in its own transaction.
// An existing store is backed up first when a backup directory is set.
func (m *Migrator) MigrateUp(ctx context.Context) (*MigrationResult, error) {
	if err := m.Verify(ctx); err != nil {
		return nil, err
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	result := &MigrationResult{CurrentVersion: current, TargetVersion: current}

	pending, err := m.PendingMigrations(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		slog.Debug("schema is up to date", "version", current)
		return result, nil
	}
	result.TargetVersion = pending[len(pending)-1].Version

	if current > 0 && m.db.backupDir != "" {
		backup, err := m.db.Backup(ctx)
		if err != nil {
			return result, fmt.Errorf("backing up before migration: %w", err)
		}
		result.Backup = backup
	}

	for _, mig := range pending {
		slog.Info("applying migration", "version", mig.Version, "description", mig.Description)

		err := m.db.WithTransaction(ctx, func(tx *sql.Tx) error {
			if err := execScript(ctx, tx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description, checksum) VALUES (?, ?, ?)",
				mig.Version, mig.Description, mig.Checksum,
			)
			return err
		})
		if err != nil {
			result.Error = fmt.Errorf("migration %d failed: %w", mig.Version, err)
			return result, result.Error
		}

		mig.Applied = true
		mig.AppliedAt = time.Now()
		result.Applied = append(result.Applied, mig)
	}

	slog.Info("migrations complete", "from", current, "to", result.TargetVersion)
	return result, nil
}

// MigrateDown rolls back the latest applied migration.
func (m *Migrator) MigrateDown(ctx context.Context) (*MigrationResult, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	result := &MigrationResult{CurrentVersion: current}

	if current == 0 {
		return result, errors.New("no migrations to roll back")
	}

	idx := sort.Search(len(m.migrations), func(i int) bool { return m.migrations[i].Version >= current })
	if idx == len(m.migrations) || m.migrations[idx].Version != current {
		return result, fmt.Errorf("migration %d not found", current)
	}
	mig := m.migrations[idx]
	if mig.DownSQL == "" {
		return result, fmt.Errorf("migration %d has no rollback SQL", current)
	}

	slog.Info("rolling back migration", "version", mig.Version, "description", mig.Description)

	err = m.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := execScript(ctx, tx, mig.DownSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", mig.Version)
		return err
	})
	if err != nil {
		result.Error = fmt.Errorf("rollback %d failed: %w", mig.Version, err)
		return result, result.Error
	}

	result.TargetVersion = current - 1
	if idx > 0 {
		result.TargetVersion = m.migrations[idx-1].Version
	}
	return result, nil
}

// Status lists every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	status := make([]Migration, len(m.migrations))
	for i, mig := range m.migrations {
		status[i] = mig
		if a, ok := applied[mig.Version]; ok {
			status[i].Applied = true
			status[i].AppliedAt = a.appliedAt
		}
	}
	return status, nil
}

func execScript(ctx context.Context, tx *sql.Tx, script string) error {
	for _, stmt := range splitStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing statement: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// splitStatements cuts a script at semicolons outside quotes. Line comments
// are dropped.
func splitStatements(script string) []string {
	var (
		stmts []string
		buf   strings.Builder
		quote byte
	)
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			stmts = append(stmts, s)
		}
		buf.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case quote != 0:
			buf.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			buf.WriteByte(c)
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			for i < len(script) && script[i] != '\n' {
				i++
			}
			buf.WriteByte('\n')
		case c == ';':
			flush()
		default:
			buf.WriteByte(c)
		}
	}
	flush()

	return stmts
}
