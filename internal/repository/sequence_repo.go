package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SequenceRepository persists the generated-PO suffix per day and the
// release-order counter per customer PO.
type SequenceRepository struct {
	db *sql.DB
}

// NewSequenceRepository creates a new sequence repository.
func NewSequenceRepository(db *sql.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// NextPOSuffix increments and returns the suffix counter for day.
// The first value issued for a day is 1.
func (r *SequenceRepository) NextPOSuffix(ctx context.Context, tx *sql.Tx, day time.Time) (int, error) {
	query := `
		INSERT INTO po_sequences (seq_date, last_value, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT (seq_date) DO UPDATE SET
			last_value = last_value + 1,
			updated_at = excluded.updated_at
		RETURNING last_value`

	var next int
	err := conn(r.db, tx).QueryRowContext(ctx, query,
		day.Format(time.DateOnly),
		time.Now().UTC().Format(time.RFC3339),
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("advancing po sequence for %s: %w", day.Format(time.DateOnly), err)
	}
	return next, nil
}

// CurrentPOSuffix returns the last suffix issued for day, or 0.
func (r *SequenceRepository) CurrentPOSuffix(ctx context.Context, day time.Time) (int, error) {
	var current int
	err := r.db.QueryRowContext(ctx,
		"SELECT last_value FROM po_sequences WHERE seq_date = ?",
		day.Format(time.DateOnly),
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading po sequence: %w", err)
	}
	return current, nil
}

// NextReleaseOrder increments and returns the release counter for poNumber.
// Callers enforce the upper bound and roll back when it is exceeded.
func (r *SequenceRepository) NextReleaseOrder(ctx context.Context, tx *sql.Tx, poNumber string) (int, error) {
	query := `
		INSERT INTO release_sequences (po_number, last_value, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT (po_number) DO UPDATE SET
			last_value = last_value + 1,
			updated_at = excluded.updated_at
		RETURNING last_value`

	var next int
	err := conn(r.db, tx).QueryRowContext(ctx, query,
		poNumber,
		time.Now().UTC().Format(time.RFC3339),
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("advancing release sequence for %s: %w", poNumber, err)
	}
	return next, nil
}

// CurrentReleaseOrder returns the last release number issued for poNumber, or 0.
func (r *SequenceRepository) CurrentReleaseOrder(ctx context.Context, poNumber string) (int, error) {
	var current int
	err := r.db.QueryRowContext(ctx,
		"SELECT last_value FROM release_sequences WHERE po_number = ?", poNumber,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading release sequence: %w", err)
	}
	return current, nil
}
