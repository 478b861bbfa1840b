// Package testutil provides database and fixture helpers shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/mccpackaging/vmibridge/internal/config"
	"github.com/mccpackaging/vmibridge/internal/database"
)

const downMarker = "-- +migrate Down"

// TestDB is a bare in-memory SQLite connection for repository-level tests.
type TestDB struct {
	*sql.DB
	engine *database.DB
}

// NewTestDB opens an empty in-memory database. Apply a schema with
// RunMigrations.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	db, err := database.NewInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return &TestDB{DB: db.DB, engine: db}
}

// RunMigrations executes the Up part of every *.sql file in dir, in name order.
func (tdb *TestDB) RunMigrations(t *testing.T, dir string) {
	t.Helper()

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil || len(files) == 0 {
		t.Fatalf("no migrations in %s (err=%v)", dir, err)
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("failed to read migration %s: %v", filepath.Base(file), err)
		}

		up, _, _ := strings.Cut(string(content), downMarker)
		if _, err := tdb.ExecContext(context.Background(), up); err != nil {
			t.Fatalf("failed to apply migration %s: %v", filepath.Base(file), err)
		}
	}
}

// Close closes the test database.
func (tdb *TestDB) Close(t *testing.T) {
	t.Helper()

	if err := tdb.engine.Close(); err != nil {
		t.Errorf("failed to close test database: %v", err)
	}
}

// CountRows returns the number of rows in table.
func (tdb *TestDB) CountRows(t *testing.T, table string) int {
	t.Helper()

	var n int
	if err := tdb.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		t.Fatalf("failed to count rows in %s: %v", table, err)
	}
	return n
}

// AssertRowCount fails the test unless table holds exactly want rows.
func (tdb *TestDB) AssertRowCount(t *testing.T, table string, want int) {
	t.Helper()

	if got := tdb.CountRows(t, table); got != want {
		t.Errorf("%s: got %d rows, want %d", table, got, want)
	}
}

// NewEngineDB returns a migrated in-memory database.DB, closed on cleanup.
func NewEngineDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewMigratedInMemory(context.Background())
	if err != nil {
		t.Fatalf("failed to create engine database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

// OpenEngineDB opens (or reopens) a migrated file database at path.
// The caller closes it; reopening the same path simulates a restart.
func OpenEngineDB(t *testing.T, path string) *database.DB {
	t.Helper()

	db, err := database.Open(path, &config.DatabaseConfig{}, "")
	if err != nil {
		t.Fatalf("failed to open engine database: %v", err)
	}
	if _, err := database.Migrate(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("failed to migrate engine database: %v", err)
	}

	return db
}
