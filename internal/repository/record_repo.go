package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/shopspring/decimal"
)

// RecordRepository is the fulfillment outbox. Records are staged in the same
// transaction that marks their order line processed and are drained by the
// output writer.
type RecordRepository struct {
	db *sql.DB
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Insert stages one record. rec.ID and rec.Record must be set.
func (r *RecordRepository) Insert(ctx context.Context, tx *sql.Tx, rec *models.StagedRecord) error {
	query := `
		INSERT INTO fulfillment_records (
			id, run_id, kind, site, po_number, line_number, part_number, quantity,
			generated_po, release_order, item_code, job_number, pull_type,
			price, due_date, period, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var (
		poNumber, generatedPO, releaseOrder, itemCode, jobNumber, pullType string
		lineNumber                                                          int
		price                                                               decimal.Decimal
		dueDate                                                             time.Time
		period                                                              models.Period
	)

	switch v := rec.Record.(type) {
	case *models.Movement:
		poNumber, lineNumber = v.SourcePO, v.LineNumber
		releaseOrder, itemCode, jobNumber = v.ReleaseOrder, v.ItemCode, v.JobNumber
		pullType = v.PullType.String()
		price, dueDate = v.UnitPrice, v.DueDate
	case *models.RushJob:
		poNumber, lineNumber = v.SourcePO, v.LineNumber
		generatedPO = v.GeneratedPO
		price, dueDate = v.Price, v.DueDate
	case *models.StockJob:
		generatedPO = v.GeneratedPO
		price, period = v.Price, v.Period
	default:
		return fmt.Errorf("staging record: unsupported record type %T", rec.Record)
	}

	_, err := conn(r.db, tx).ExecContext(ctx, query,
		rec.ID,
		nullableString(rec.RunID),
		rec.Record.Kind().String(),
		rec.Record.SiteCode(),
		nullableString(poNumber),
		nullableInt(lineNumber),
		rec.Record.Part(),
		rec.Record.Qty(),
		nullableString(generatedPO),
		nullableString(releaseOrder),
		nullableString(itemCode),
		nullableString(jobNumber),
		nullableString(pullType),
		price.String(),
		nullableDate(dueDate),
		nullableString(period.String()),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting %s record: %w", rec.Record.Kind(), err)
	}
	return nil
}

const recordColumns = `
	id, run_id, kind, site, po_number, line_number, part_number, quantity,
	generated_po, release_order, item_code, job_number, pull_type,
	price, due_date, period, created_at, output_file, rendered_at`

// ListPending returns records not yet written to an output file, oldest first.
func (r *RecordRepository) ListPending(ctx context.Context) ([]*models.StagedRecord, error) {
	return r.list(ctx, `SELECT`+recordColumns+`
		FROM fulfillment_records
		WHERE rendered_at IS NULL
		ORDER BY id`)
}

// ListByRun returns every record staged by one run.
func (r *RecordRepository) ListByRun(ctx context.Context, runID string) ([]*models.StagedRecord, error) {
	return r.list(ctx, `SELECT`+recordColumns+`
		FROM fulfillment_records
		WHERE run_id = ?
		ORDER BY id`, runID)
}

// MarkRendered stamps ids with the output file they were written to.
func (r *RecordRepository) MarkRendered(ctx context.Context, tx *sql.Tx, ids []string, outputFile string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, outputFile, at.UTC().Format(time.RFC3339))
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := conn(r.db, tx).ExecContext(ctx,
		"UPDATE fulfillment_records SET output_file = ?, rendered_at = ? WHERE rendered_at IS NULL AND id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("marking records rendered: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected != int64(len(ids)) {
		return fmt.Errorf("marking records rendered: expected %d rows, updated %d", len(ids), affected)
	}
	return nil
}

// CountPending returns the number of records waiting to be written.
func (r *RecordRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fulfillment_records WHERE rendered_at IS NULL",
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting pending records: %w", err)
	}
	return count, nil
}

func (r *RecordRepository) list(ctx context.Context, query string, args ...any) ([]*models.StagedRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []*models.StagedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (*models.StagedRecord, error) {
	var (
		rec                                      models.StagedRecord
		runID, poNumber, generatedPO, release    sql.NullString
		itemCode, jobNumber, pullType, dueDate   sql.NullString
		period, outputFile, renderedAt           sql.NullString
		lineNumber                               sql.NullInt64
		kind, site, part, priceStr, createdAtStr string
		qty                                      int64
	)

	err := rows.Scan(
		&rec.ID, &runID, &kind, &site, &poNumber, &lineNumber, &part, &qty,
		&generatedPO, &release, &itemCode, &jobNumber, &pullType,
		&priceStr, &dueDate, &period, &createdAtStr, &outputFile, &renderedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning record: %w", err)
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("record %s: parsing price %q: %w", rec.ID, priceStr, err)
	}
	due, err := parseNullDate(dueDate)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}

	switch models.RecordKind(kind) {
	case models.RecordMovement:
		rec.Record = &models.Movement{
			PartNumber:   part,
			Site:         site,
			Quantity:     qty,
			SourcePO:     poNumber.String,
			LineNumber:   int(lineNumber.Int64),
			ReleaseOrder: release.String,
			ItemCode:     itemCode.String,
			JobNumber:    jobNumber.String,
			PullType:     models.PullType(pullType.String),
			UnitPrice:    price,
			DueDate:      due,
		}
	case models.RecordRushJob:
		rec.Record = &models.RushJob{
			PartNumber:  part,
			Site:        site,
			Quantity:    qty,
			GeneratedPO: generatedPO.String,
			Price:       price,
			SourcePO:    poNumber.String,
			LineNumber:  int(lineNumber.Int64),
			DueDate:     due,
		}
	case models.RecordStockJob:
		rec.Record = &models.StockJob{
			PartNumber:  part,
			Site:        site,
			Quantity:    qty,
			GeneratedPO: generatedPO.String,
			Price:       price,
			Period:      models.Period(period.String),
		}
	default:
		return nil, fmt.Errorf("record %s: unknown kind %q", rec.ID, kind)
	}

	rec.RunID = runID.String
	rec.OutputFile = outputFile.String
	if rec.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
		return nil, err
	}
	if renderedAt.Valid {
		t, err := parseTimestamp(renderedAt.String)
		if err != nil {
			return nil, err
		}
		rec.RenderedAt = &t
	}

	return &rec, nil
}
