package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mccpackaging/vmibridge/internal/models"
)

// AuditRepository stores activity-log events.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts an event. The event day is taken from OccurredAt in its own
// location, so callers pass local times.
func (r *AuditRepository) Create(ctx context.Context, tx *sql.Tx, event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (
			id, run_id, occurred_at, event_day, event_type, message, details,
			part_number, quantity, po_number, output_file
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	_, err := conn(r.db, tx).ExecContext(ctx, query,
		event.ID,
		nullableString(event.RunID),
		event.OccurredAt.Format(time.RFC3339Nano),
		event.OccurredAt.Format(time.DateOnly),
		event.Type.String(),
		event.Message,
		nullableString(event.Details),
		nullableString(event.PartNumber),
		nullableInt64(event.Quantity),
		nullableString(event.PONumber),
		nullableString(event.OutputFile),
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// ListByDay returns the events logged on day (YYYY-MM-DD), in order.
func (r *AuditRepository) ListByDay(ctx context.Context, day string) ([]*models.AuditEvent, error) {
	return r.list(ctx, `
		SELECT id, run_id, occurred_at, event_type, message, details,
			part_number, quantity, po_number, output_file
		FROM audit_events
		WHERE event_day = ?
		ORDER BY occurred_at, rowid`, day)
}

// ListByRun returns the events logged by one run, in order.
func (r *AuditRepository) ListByRun(ctx context.Context, runID string) ([]*models.AuditEvent, error) {
	return r.list(ctx, `
		SELECT id, run_id, occurred_at, event_type, message, details,
			part_number, quantity, po_number, output_file
		FROM audit_events
		WHERE run_id = ?
		ORDER BY occurred_at, rowid`, runID)
}

// CountByType returns per-type event counts for day.
func (r *AuditRepository) CountByType(ctx context.Context, day string) (map[models.AuditType]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*) FROM audit_events
		WHERE event_day = ?
		GROUP BY event_type`, day)
	if err != nil {
		return nil, fmt.Errorf("counting audit events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.AuditType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[models.AuditType(t)] = n
	}

	return counts, rows.Err()
}

func (r *AuditRepository) list(ctx context.Context, query string, args ...any) ([]*models.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var (
			e                                          models.AuditEvent
			runID, details, part, poNumber, outputFile sql.NullString
			quantity                                   sql.NullInt64
			occurredAt, eventType                      string
		)
		if err := rows.Scan(&e.ID, &runID, &occurredAt, &eventType, &e.Message, &details,
			&part, &quantity, &poNumber, &outputFile); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}

		t, err := parseTimestamp(occurredAt)
		if err != nil {
			return nil, err
		}
		e.OccurredAt = t
		e.Type = models.AuditType(eventType)
		e.RunID = runID.String
		e.Details = details.String
		e.PartNumber = part.String
		e.PONumber = poNumber.String
		e.OutputFile = outputFile.String
		if quantity.Valid {
			q := quantity.Int64
			e.Quantity = &q
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return events, nil
}
