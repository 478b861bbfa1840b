package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/services/reconcile"
	"github.com/mccpackaging/vmibridge/internal/testutil"
)

type fakeForecasts map[string]models.ForecastEntry

func (f fakeForecasts) Lookup(part, site string, period models.Period) *models.ForecastEntry {
	entry, ok := f[part+"/"+site+"/"+period.String()]
	if !ok {
		return nil
	}
	return &entry
}

type fakeInventory struct {
	snapshots map[string]*models.InventorySnapshot
	failFor   string
	calls     int
}

func (f *fakeInventory) Lookup(_ context.Context, part, _ string, _ int64) (*models.InventorySnapshot, error) {
	f.calls++
	if part == f.failFor {
		return nil, errors.New("connection reset")
	}
	return f.snapshots[part], nil
}

type fakeAuditor struct {
	reconciled int
	failed     []error
}

func (a *fakeAuditor) LineReconciled(context.Context, models.OrderLine, *reconcile.Result) { a.reconciled++ }
func (a *fakeAuditor) LineFailed(_ context.Context, _ models.OrderLine, err error) {
	a.failed = append(a.failed, err)
}

func setupRunnerTest(t *testing.T) (*Runner, *fakeInventory, *fakeAuditor) {
	t.Helper()

	db := testutil.NewEngineDB(t)
	engine := reconcile.NewEngine(reconcile.NewSQLState(db),
		reconcile.WithClock(func() time.Time { return testutil.FixtureDueDate }),
		reconcile.WithLocation(time.UTC),
	)

	forecasts := fakeForecasts{
		"SW-1001/5901/202511": testutil.FixtureForecastEntry(func(f *models.ForecastEntry) { f.Quantity = 3000 }),
	}
	inventory := &fakeInventory{
		snapshots: map[string]*models.InventorySnapshot{
			"SW-1001": testutil.FixtureSnapshot(4000),
		},
		failFor: "SW-BROKEN",
	}
	auditor := &fakeAuditor{}

	return NewRunner(engine, forecasts, inventory, auditor), inventory, auditor
}

func TestRunner_Run(t *testing.T) {
	runner, inventory, auditor := setupRunnerTest(t)
	ctx := context.Background()

	lines := []models.OrderLine{
		testutil.FixtureOrderLine(func(l *models.OrderLine) { l.Quantity = 5500 }),
		testutil.FixtureOrderLine(func(l *models.OrderLine) { l.LineNumber = 2; l.Quantity = 0 }),
		testutil.FixtureOrderLine(func(l *models.OrderLine) { l.LineNumber = 3; l.PartNumber = "SW-BROKEN" }),
		testutil.FixtureOrderLine(func(l *models.OrderLine) { l.LineNumber = 4; l.PartNumber = "SW-NEW"; l.Quantity = 250 }),
	}

	report, err := runner.Run(ctx, lines)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	t.Run("Report counts records and alerts", func(t *testing.T) {
		if report.RunID == "" {
			t.Error("expected a run id")
		}
		if len(report.Results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(report.Results))
		}
		if report.Movements != 1 || report.RushJobs != 2 {
			t.Errorf("expected 1 movement and 2 rush jobs, got %d and %d", report.Movements, report.RushJobs)
		}
		// Line 1: insufficient + exceeded; line 4: no inventory + no forecast.
		if report.Alerts != 4 {
			t.Errorf("expected 4 alerts, got %d", report.Alerts)
		}
	})

	t.Run("Line failures do not stop the batch", func(t *testing.T) {
		if len(report.Failures) != 2 {
			t.Fatalf("expected 2 failures, got %d", len(report.Failures))
		}

		invalid, lookup := report.Failures[0], report.Failures[1]
		if !errors.Is(invalid.Err, reconcile.ErrInvalidOrderLine) || invalid.Retryable {
			t.Errorf("expected a non-retryable invalid line, got %+v", invalid)
		}
		if lookup.Line.PartNumber != "SW-BROKEN" || !lookup.Retryable {
			t.Errorf("expected a retryable lookup failure, got %+v", lookup)
		}
		if !report.HasRetryable() {
			t.Error("expected report to have a retryable failure")
		}
		if len(auditor.failed) != 2 || auditor.reconciled != 2 {
			t.Errorf("expected auditor to see 2 results and 2 failures, got %d and %d", auditor.reconciled, len(auditor.failed))
		}
	})

	t.Run("Invalid lines are rejected before any lookup", func(t *testing.T) {
		if inventory.calls != 3 {
			t.Errorf("expected 3 inventory lookups, got %d", inventory.calls)
		}
	})

	t.Run("A second delivery of the same file is skipped", func(t *testing.T) {
		again, err := runner.Run(ctx, lines)
		if err != nil {
			t.Fatalf("rerun: %v", err)
		}
		if again.Skipped != 2 || again.RushJobs != 0 || again.Movements != 0 {
			t.Errorf("expected 2 skips and no records, got %+v", again)
		}
		if again.RunID == report.RunID {
			t.Error("expected a new run id")
		}
	})
}

func TestRunner_StopsOnCancel(t *testing.T) {
	runner, _, _ := setupRunnerTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := runner.Run(ctx, []models.OrderLine{testutil.FixtureOrderLine()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(report.Results) != 0 {
		t.Errorf("expected no results, got %d", len(report.Results))
	}
}

type unavailableState struct{}

func (unavailableState) Atomically(context.Context, func(reconcile.StateTx) error) error {
	return errors.New("database is closed")
}

func TestRunner_AbortsOnStateFailure(t *testing.T) {
	auditor := &fakeAuditor{}
	runner := NewRunner(reconcile.NewEngine(unavailableState{}), fakeForecasts{}, &fakeInventory{}, auditor)

	lines := []models.OrderLine{
		testutil.FixtureOrderLine(),
		testutil.FixtureOrderLine(func(l *models.OrderLine) { l.LineNumber = 2 }),
	}

	report, err := runner.Run(reconcile.WithRunID(context.Background(), "run-x"), lines)
	if !errors.Is(err, reconcile.ErrStateUnavailable) {
		t.Fatalf("expected ErrStateUnavailable, got %v", err)
	}
	if report.RunID != "run-x" {
		t.Errorf("expected run id from context, got %q", report.RunID)
	}
	if len(report.Failures) != 1 {
		t.Errorf("expected the batch to stop after the first line, got %d failures", len(report.Failures))
	}
}

func TestRunner_ProcessedLineSkipsLookup(t *testing.T) {
	runner, inventory, auditor := setupRunnerTest(t)
	ctx := context.Background()
	lines := []models.OrderLine{testutil.FixtureOrderLine()}

	if _, err := runner.Run(ctx, lines); err != nil {
		t.Fatalf("first run: %v", err)
	}

	inventory.failFor = "SW-1001"
	calls := inventory.calls

	report, err := runner.Run(ctx, lines)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Skipped != 1 || len(report.Failures) != 0 || report.HasRetryable() {
		t.Errorf("expected one skip and no failures, got skipped=%d failures=%+v", report.Skipped, report.Failures)
	}
	if inventory.calls != calls {
		t.Errorf("expected no inventory lookup for a processed line, got %d more", inventory.calls-calls)
	}
	if len(auditor.failed) != 0 {
		t.Errorf("expected no failure events, got %v", auditor.failed)
	}
}

func TestRunner_LinesShareStockWithinRun(t *testing.T) {
	runner, inventory, _ := setupRunnerTest(t)

	lines := []models.OrderLine{
		testutil.FixtureOrderLine(func(l *models.OrderLine) { l.Quantity = 3000 }),
		testutil.FixtureOrderLine(func(l *models.OrderLine) { l.LineNumber = 2; l.Quantity = 3000 }),
	}

	report, err := runner.Run(context.Background(), lines)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Results))
	}

	first, second := report.Results[0], report.Results[1]
	if m := first.Movements(); len(m) != 1 || m[0].Quantity != 3000 {
		t.Errorf("expected first line to move 3000, got %+v", m)
	}
	if m := second.Movements(); len(m) != 1 || m[0].Quantity != 1000 {
		t.Errorf("expected second line to move the remaining 1000, got %+v", m)
	}
	if j := second.RushJobs(); len(j) != 1 || j[0].Quantity != 2000 {
		t.Errorf("expected a 2000 rush job for the shortfall, got %+v", j)
	}
	if inventory.snapshots["SW-1001"].OnHand != 4000 {
		t.Errorf("expected the resolved snapshot to stay at 4000, got %d", inventory.snapshots["SW-1001"].OnHand)
	}
}
