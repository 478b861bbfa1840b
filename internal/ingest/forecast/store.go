package forecast

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mccpackaging/vmibridge/internal/models"
)

// ErrNoWorkbook is returned when the forecast folder holds no .xlsx file.
var ErrNoWorkbook = errors.New("no forecast workbook found")

// Store holds the current forecast table and reloads it when a newer
// workbook appears in its folder.
type Store struct {
	mu      sync.RWMutex
	dir     string
	opts    Options
	table   *Table
	path    string
	modTime time.Time
}

// NewStore creates a store over dir. Nothing is loaded until ReloadIfChanged.
func NewStore(dir string, opts Options) *Store {
	return &Store{dir: dir, opts: opts}
}

// ReloadIfChanged loads the newest workbook in the folder when it differs, by
// name or modification time, from the loaded one. It reports whether a load
// happened. The previous table stays in place when loading fails.
func (s *Store) ReloadIfChanged() (bool, error) {
	path, modTime, err := newestWorkbook(s.dir)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	unchanged := s.table != nil && path == s.path && modTime.Equal(s.modTime)
	s.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	table, err := ParseFile(path, s.opts)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.table = table
	s.path = path
	s.modTime = modTime
	s.mu.Unlock()

	slog.Info("forecast loaded",
		"file", filepath.Base(path),
		"rows", table.Len(),
		"periods", len(table.Periods()),
		"row_errors", len(table.Errors),
	)
	for _, perr := range table.Errors {
		slog.Warn("forecast row skipped", "file", filepath.Base(path), "error", perr)
	}

	return true, nil
}

// Table returns the loaded table, or nil.
func (s *Store) Table() *Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Path returns the loaded workbook path.
func (s *Store) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// Lookup answers from the loaded table; with nothing loaded every part is
// unforecast.
func (s *Store) Lookup(part, site string, period models.Period) *models.ForecastEntry {
	return s.Table().Lookup(part, site, period)
}

// Entries returns the loaded table's entries.
func (s *Store) Entries() []models.ForecastEntry {
	return s.Table().Entries()
}

func newestWorkbook(dir string) (string, time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("reading forecast folder: %w", err)
	}

	var (
		newest  string
		newestT time.Time
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".xlsx") || strings.HasPrefix(name, "~$") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return "", time.Time{}, fmt.Errorf("stat %s: %w", name, err)
		}
		if newest == "" || info.ModTime().After(newestT) {
			newest = filepath.Join(dir, name)
			newestT = info.ModTime()
		}
	}

	if newest == "" {
		return "", time.Time{}, fmt.Errorf("%w in %s", ErrNoWorkbook, dir)
	}
	return newest, newestT, nil
}
