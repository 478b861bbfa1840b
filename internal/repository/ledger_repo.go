package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mccpackaging/vmibridge/internal/models"
)

// LedgerRepository records which order lines have been reconciled.
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository creates a new ledger repository.
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// IsProcessed reports whether key has been marked.
func (r *LedgerRepository) IsProcessed(ctx context.Context, tx *sql.Tx, key models.LineKey) (bool, error) {
	var one int
	err := conn(r.db, tx).QueryRowContext(ctx, `
		SELECT 1 FROM processed_lines
		WHERE site = ? AND po_number = ? AND line_number = ?`,
		key.Site, key.PONumber, key.LineNumber,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking ledger for %s: %w", key, err)
	}
	return true, nil
}

// MarkProcessed inserts key. Marking a key twice is an error.
func (r *LedgerRepository) MarkProcessed(ctx context.Context, tx *sql.Tx, key models.LineKey, runID string) error {
	_, err := conn(r.db, tx).ExecContext(ctx, `
		INSERT INTO processed_lines (site, po_number, line_number, run_id, processed_at)
		VALUES (?, ?, ?, ?, ?)`,
		key.Site, key.PONumber, key.LineNumber,
		nullableString(runID),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("marking %s processed: %w", key, err)
	}
	return nil
}

// CountByRun returns how many lines a run marked.
func (r *LedgerRepository) CountByRun(ctx context.Context, runID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM processed_lines WHERE run_id = ?", runID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting processed lines: %w", err)
	}
	return count, nil
}
