package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mccpackaging/vmibridge/internal/models"
)

// ConsumptionRepository tracks cumulative ordered quantity per bucket.
type ConsumptionRepository struct {
	db *sql.DB
}

// NewConsumptionRepository creates a new consumption repository.
func NewConsumptionRepository(db *sql.DB) *ConsumptionRepository {
	return &ConsumptionRepository{db: db}
}

// Add records qty against key and returns the bucket total including it.
func (r *ConsumptionRepository) Add(ctx context.Context, tx *sql.Tx, key models.BucketKey, qty int64) (int64, error) {
	if qty < 0 {
		return 0, fmt.Errorf("consumption quantity must not be negative, got %d", qty)
	}

	query := `
		INSERT INTO consumption_buckets (part_number, site, period, consumed_qty, line_count, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (part_number, site, period) DO UPDATE SET
			consumed_qty = consumed_qty + excluded.consumed_qty,
			line_count = line_count + 1,
			updated_at = excluded.updated_at
		RETURNING consumed_qty`

	var total int64
	err := conn(r.db, tx).QueryRowContext(ctx, query,
		key.PartNumber,
		key.Site,
		key.Period.String(),
		qty,
		time.Now().UTC().Format(time.RFC3339),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("adding consumption for %s/%s/%s: %w", key.PartNumber, key.Site, key.Period, err)
	}
	return total, nil
}

// Get returns the bucket total for key, or 0 when nothing was recorded.
func (r *ConsumptionRepository) Get(ctx context.Context, key models.BucketKey) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT consumed_qty FROM consumption_buckets
		WHERE part_number = ? AND site = ? AND period = ?`,
		key.PartNumber, key.Site, key.Period.String(),
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading consumption: %w", err)
	}
	return total, nil
}

// ListByPeriod returns every bucket in period ordered by part and site.
func (r *ConsumptionRepository) ListByPeriod(ctx context.Context, period models.Period) ([]models.ConsumptionBucket, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT part_number, site, period, consumed_qty, line_count, updated_at
		FROM consumption_buckets
		WHERE period = ?
		ORDER BY part_number, site`,
		period.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing consumption: %w", err)
	}
	defer rows.Close()

	var buckets []models.ConsumptionBucket
	for rows.Next() {
		var b models.ConsumptionBucket
		var periodStr, updatedStr string
		if err := rows.Scan(&b.Key.PartNumber, &b.Key.Site, &periodStr, &b.Consumed, &b.LineCount, &updatedStr); err != nil {
			return nil, fmt.Errorf("scanning consumption bucket: %w", err)
		}
		b.Key.Period = models.Period(periodStr)
		if b.UpdatedAt, err = parseTimestamp(updatedStr); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}

	return buckets, rows.Err()
}
