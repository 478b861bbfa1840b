// Package batch runs one day's order lines through the reconciliation engine.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/services/reconcile"
	"github.com/mccpackaging/vmibridge/internal/util"
)

// ForecastLookup resolves the forecast bucket for a line. A nil entry means
// no forecast exists.
type ForecastLookup interface {
	Lookup(part, site string, period models.Period) *models.ForecastEntry
}

// InventoryLookup resolves the inventory snapshot for a line. A nil snapshot
// means no inventory record exists.
type InventoryLookup interface {
	Lookup(ctx context.Context, part, site string, orderQty int64) (*models.InventorySnapshot, error)
}

// Auditor receives the outcome of every line.
type Auditor interface {
	LineReconciled(ctx context.Context, line models.OrderLine, result *reconcile.Result)
	LineFailed(ctx context.Context, line models.OrderLine, err error)
}

// LineFailure is a line that produced no result.
type LineFailure struct {
	Line      models.OrderLine
	Err       error
	Retryable bool
}

// Report summarises one run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Lines      int
	Results    []*reconcile.Result
	Failures   []LineFailure
	Skipped    int
	Movements  int
	RushJobs   int
	Alerts     int
}

// HasRetryable reports whether any line should be attempted again.
func (r *Report) HasRetryable() bool {
	for _, f := range r.Failures {
		if f.Retryable {
			return true
		}
	}
	return false
}

// Runner feeds order lines, with their resolved lookups, to the engine.
type Runner struct {
	engine    *reconcile.Engine
	forecasts ForecastLookup
	inventory InventoryLookup
	auditor   Auditor
}

// NewRunner creates a runner. auditor may be nil.
func NewRunner(engine *reconcile.Engine, forecasts ForecastLookup, inventory InventoryLookup, auditor Auditor) *Runner {
	return &Runner{
		engine:    engine,
		forecasts: forecasts,
		inventory: inventory,
		auditor:   auditor,
	}
}

// Run reconciles lines in order. Line-local failures are collected in the
// report and the run continues; a state-store failure or a cancelled context
// stops the run and is returned alongside the partial report.
func (r *Runner) Run(ctx context.Context, lines []models.OrderLine) (*Report, error) {
	report := &Report{
		RunID:     reconcile.RunIDFrom(ctx),
		StartedAt: time.Now(),
		Lines:     len(lines),
	}
	if report.RunID == "" {
		report.RunID = util.NewRunID()
		ctx = reconcile.WithRunID(ctx, report.RunID)
	}
	defer func() { report.FinishedAt = time.Now() }()

	slog.Info("batch started", "run_id", report.RunID, "lines", len(lines))

	drawn := make(drawdown)
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			slog.Warn("batch cancelled", "run_id", report.RunID, "remaining", len(lines)-len(report.Results)-len(report.Failures))
			return report, err
		}

		result, err := r.reconcileLine(ctx, line, drawn)
		if err != nil {
			failure := LineFailure{Line: line, Err: err, Retryable: isRetryable(err)}
			report.Failures = append(report.Failures, failure)
			if r.auditor != nil {
				r.auditor.LineFailed(ctx, line, err)
			}

			if errors.Is(err, reconcile.ErrStateUnavailable) {
				slog.Error("batch aborted", "run_id", report.RunID, "line", line.Key().String(), "error", err)
				return report, err
			}
			continue
		}

		drawn.record(result)
		report.add(result)
		if r.auditor != nil {
			r.auditor.LineReconciled(ctx, line, result)
		}
	}

	slog.Info("batch finished",
		"run_id", report.RunID,
		"lines", report.Lines,
		"skipped", report.Skipped,
		"movements", report.Movements,
		"rush_jobs", report.RushJobs,
		"alerts", report.Alerts,
		"failures", len(report.Failures),
	)

	return report, nil
}

// lookupError marks a failed collaborator lookup; it is always retryable.
type lookupError struct{ err error }

func (e *lookupError) Error() string { return e.err.Error() }
func (e *lookupError) Unwrap() error { return e.err }

// reconcileLine checks the ledger before resolving any lookup, so a line
// that is already processed is skipped even while the ERP is unreachable.
func (r *Runner) reconcileLine(ctx context.Context, line models.OrderLine, drawn drawdown) (*reconcile.Result, error) {
	if err := line.Validate(); err != nil {
		return nil, fmt.Errorf("%w %s: %w", reconcile.ErrInvalidOrderLine, line.Key(), err)
	}

	processed, err := r.engine.IsProcessed(ctx, line.Key())
	if err != nil {
		return nil, err
	}
	if processed {
		return r.engine.Skip(line), nil
	}

	forecast := r.forecasts.Lookup(line.PartNumber, line.Site, r.engine.PeriodOf(line))

	inventory, err := r.inventory.Lookup(ctx, line.PartNumber, line.Site, line.Quantity)
	if err != nil {
		return nil, &lookupError{fmt.Errorf("inventory lookup for %s: %w", line.PartNumber, err)}
	}

	return r.engine.Reconcile(ctx, line, forecast, drawn.apply(line, inventory))
}

// drawdown tracks stock moved by earlier lines of the same run. The ERP
// snapshot does not see those movements until the output is imported, so two
// lines for one part would otherwise both draw on the same stock.
type drawdown map[string]int64

func drawdownKey(part, site string) string {
	return part + "\x00" + site
}

// apply returns inv reduced by the movements this run already made for the
// line's part and site. inv itself is left untouched.
func (d drawdown) apply(line models.OrderLine, inv *models.InventorySnapshot) *models.InventorySnapshot {
	if inv == nil {
		return nil
	}
	moved := d[drawdownKey(line.PartNumber, line.Site)]
	if moved == 0 {
		return inv
	}

	adjusted := *inv
	adjusted.OnHand = max(inv.OnHand-moved, 0)
	return &adjusted
}

func (d drawdown) record(result *reconcile.Result) {
	for _, m := range result.Movements() {
		d[drawdownKey(m.PartNumber, m.Site)] += m.Quantity
	}
}

func isRetryable(err error) bool {
	var le *lookupError
	return errors.As(err, &le) || reconcile.IsRetryable(err)
}

func (r *Report) add(result *reconcile.Result) {
	r.Results = append(r.Results, result)
	if result.Skipped {
		r.Skipped++
		return
	}
	r.Movements += len(result.Movements())
	r.RushJobs += len(result.RushJobs())
	r.Alerts += len(result.Alerts)
}
