// Package audit keeps the bridge's activity log: every file, job, movement,
// alert and error is stored in the audit_events table and mirrored to slog.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/repository"
	"github.com/mccpackaging/vmibridge/internal/services/reconcile"
	"github.com/mccpackaging/vmibridge/internal/util"
)

// Recorder writes activity events. A failure to persist an event is logged
// and never interrupts the caller.
type Recorder struct {
	events      *repository.AuditRepository
	idGenerator *util.IDGenerator
	location    *time.Location
	now         func() time.Time
}

// NewRecorder creates a recorder over db. Event days are taken in loc.
func NewRecorder(db *sql.DB, loc *time.Location) *Recorder {
	if loc == nil {
		loc = time.Local
	}
	return &Recorder{
		events:      repository.NewAuditRepository(db),
		idGenerator: util.NewIDGenerator(),
		location:    loc,
		now:         time.Now,
	}
}

// Log stores event, filling in its id, time and run id when unset.
func (r *Recorder) Log(ctx context.Context, event models.AuditEvent) {
	if event.ID == "" {
		event.ID = r.idGenerator.NewID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}
	event.OccurredAt = event.OccurredAt.In(r.location)
	if event.RunID == "" {
		event.RunID = reconcile.RunIDFrom(ctx)
	}

	attrs := []any{"type", event.Type}
	if event.PartNumber != "" {
		attrs = append(attrs, "part", event.PartNumber)
	}
	if event.Quantity != nil {
		attrs = append(attrs, "quantity", *event.Quantity)
	}
	if event.PONumber != "" {
		attrs = append(attrs, "po", event.PONumber)
	}
	if event.OutputFile != "" {
		attrs = append(attrs, "file", event.OutputFile)
	}
	if event.Details != "" {
		attrs = append(attrs, "details", event.Details)
	}

	switch event.Type {
	case models.AuditError:
		slog.Error(event.Message, attrs...)
	case models.AuditAlert:
		slog.Warn(event.Message, attrs...)
	default:
		slog.Info(event.Message, attrs...)
	}

	if err := r.events.Create(ctx, nil, &event); err != nil {
		slog.Error("failed to persist audit event", "error", err, "message", event.Message)
	}
}

// System logs a lifecycle message.
func (r *Recorder) System(ctx context.Context, message string, details string) {
	r.Log(ctx, models.AuditEvent{Type: models.AuditSystem, Message: message, Details: details})
}

// User logs an operator action.
func (r *Recorder) User(ctx context.Context, message string, details string) {
	r.Log(ctx, models.AuditEvent{Type: models.AuditUser, Message: message, Details: details})
}

// File logs a file read or written.
func (r *Recorder) File(ctx context.Context, message string, path string) {
	r.Log(ctx, models.AuditEvent{Type: models.AuditFile, Message: message, OutputFile: path})
}

// Error logs a failure.
func (r *Recorder) Error(ctx context.Context, message string, err error) {
	r.Log(ctx, models.AuditEvent{Type: models.AuditError, Message: message, Details: errString(err)})
}

// Alert logs an operator alert that is not tied to one line.
func (r *Recorder) Alert(ctx context.Context, message string, details string) {
	r.Log(ctx, models.AuditEvent{Type: models.AuditAlert, Message: message, Details: details})
}

// LineReconciled logs every record and alert produced for line, or the skip.
func (r *Recorder) LineReconciled(ctx context.Context, line models.OrderLine, result *reconcile.Result) {
	if result.Skipped {
		r.Log(ctx, models.AuditEvent{
			Type:       models.AuditSystem,
			Message:    "Line already processed, skipped",
			Details:    line.Key().String(),
			PartNumber: line.PartNumber,
			PONumber:   line.PONumber,
		})
		return
	}

	for _, rec := range result.Records {
		r.RecordCreated(ctx, rec)
	}
	for _, alert := range result.Alerts {
		qty := alert.OrderQty
		r.Log(ctx, models.AuditEvent{
			Type:       models.AuditAlert,
			Message:    alert.Message(),
			Details:    alert.Kind.String(),
			PartNumber: alert.PartNumber,
			Quantity:   &qty,
			PONumber:   alert.SourcePO,
		})
	}
}

// LineFailed logs a line that could not be reconciled.
func (r *Recorder) LineFailed(ctx context.Context, line models.OrderLine, err error) {
	qty := line.Quantity
	r.Log(ctx, models.AuditEvent{
		Type:       models.AuditError,
		Message:    fmt.Sprintf("Line %s failed", line.Key()),
		Details:    errString(err),
		PartNumber: line.PartNumber,
		Quantity:   &qty,
		PONumber:   line.PONumber,
	})
}

// RecordCreated logs one fulfillment record.
func (r *Recorder) RecordCreated(ctx context.Context, rec models.FulfillmentRecord) {
	qty := rec.Qty()
	event := models.AuditEvent{
		PartNumber: rec.Part(),
		Quantity:   &qty,
		Details:    rec.Kind().String(),
	}

	switch v := rec.(type) {
	case *models.Movement:
		event.Type = models.AuditMovement
		event.Message = fmt.Sprintf("Movement created (%s release %s)", v.PullType, v.ReleaseOrder)
		event.PONumber = v.SourcePO
	case *models.RushJob:
		event.Type = models.AuditJob
		event.Message = fmt.Sprintf("Rush job %s created", v.GeneratedPO)
		event.PONumber = v.SourcePO
	case *models.StockJob:
		event.Type = models.AuditJob
		event.Message = fmt.Sprintf("Stock job %s created for %s", v.GeneratedPO, v.Period)
		event.PONumber = v.GeneratedPO
	}

	r.Log(ctx, event)
}

// OutputWritten logs a rendered output file.
func (r *Recorder) OutputWritten(ctx context.Context, path string, orders int) {
	r.Log(ctx, models.AuditEvent{
		Type:       models.AuditFile,
		Message:    fmt.Sprintf("Output file written with %d orders", orders),
		OutputFile: path,
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
