// Package reconcile turns purchase-order lines into fulfillment records.
//
// Each line is reconciled against a resolved inventory snapshot and a forecast
// bucket: stock on hand is moved, any shortfall becomes a rush job rounded to
// the pack size, and the line's quantity is added to the monthly consumption
// total that drives forecast alerts. Everything a line changes (ledger entry,
// consumption, sequence allocations, staged records) commits together or not
// at all, so a line that fails can be retried without duplicating identifiers.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/util"
	"github.com/shopspring/decimal"
)

// MaxReleaseOrder is the largest release number that fits in three digits.
const MaxReleaseOrder = 999

// Result is the outcome of reconciling one line.
type Result struct {
	Key        models.LineKey
	Period     models.Period
	Records    []models.FulfillmentRecord
	// Alerts holds at most one inventory alert (NoInventory or
	// InsufficientInventory) and at most one ExceedsForecast alert.
	Alerts     []models.Alert
	Cumulative int64
	Skipped    bool // already processed in an earlier run
}

// Movements returns the Movement records in r.
func (r *Result) Movements() []*models.Movement {
	var out []*models.Movement
	for _, rec := range r.Records {
		if m, ok := rec.(*models.Movement); ok {
			out = append(out, m)
		}
	}
	return out
}

// RushJobs returns the RushJob records in r.
func (r *Result) RushJobs() []*models.RushJob {
	var out []*models.RushJob
	for _, rec := range r.Records {
		if j, ok := rec.(*models.RushJob); ok {
			out = append(out, j)
		}
	}
	return out
}

// Engine reconciles order lines. It is safe for concurrent use; lines are
// applied one at a time.
type Engine struct {
	mu       sync.Mutex
	state    State
	now      func() time.Time
	location *time.Location
	period   PeriodFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used to date generated PO numbers.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the zone in which the calendar day of a generated PO is taken.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.location = loc }
}

// WithPeriodFunc sets the order-line to forecast-bucket mapping.
func WithPeriodFunc(fn PeriodFunc) Option {
	return func(e *Engine) { e.period = fn }
}

// NewEngine creates an engine over state.
func NewEngine(state State, opts ...Option) *Engine {
	e := &Engine{
		state:    state,
		now:      time.Now,
		location: time.Local,
		period:   ByDueDate,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PeriodOf returns the forecast bucket line is compared against.
func (e *Engine) PeriodOf(line models.OrderLine) models.Period {
	return e.period(line)
}

type runIDKey struct{}

// WithRunID returns a context whose reconciliations are attributed to runID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the run id carried by ctx, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// IsProcessed reports whether key is already in the ledger. It writes nothing.
func (e *Engine) IsProcessed(ctx context.Context, key models.LineKey) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var processed bool
	err := e.state.Atomically(ctx, func(tx StateTx) error {
		var err error
		processed, err = tx.IsProcessed(ctx, key)
		if err != nil {
			return fmt.Errorf("%w: checking ledger: %w", ErrStateUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return false, classify(err)
	}
	return processed, nil
}

// Skip returns the no-op result reported for a line already in the ledger.
func (e *Engine) Skip(line models.OrderLine) *Result {
	return &Result{Key: line.Key(), Period: e.period(line), Skipped: true}
}

// Reconcile decides how line is fulfilled. forecast and inventory may be nil.
// A line already in the ledger returns a skipped Result and changes nothing.
func (e *Engine) Reconcile(ctx context.Context, line models.OrderLine, forecast *models.ForecastEntry, inventory *models.InventorySnapshot) (*Result, error) {
	if err := line.Validate(); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidOrderLine, line.Key(), err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	today := e.today()
	runID := RunIDFrom(ctx)

	var result *Result
	err := e.state.Atomically(ctx, func(tx StateTx) error {
		result = &Result{Key: line.Key(), Period: e.period(line)}

		processed, err := tx.IsProcessed(ctx, line.Key())
		if err != nil {
			return fmt.Errorf("%w: checking ledger: %w", ErrStateUnavailable, err)
		}
		if processed {
			result.Skipped = true
			return nil
		}

		if err := e.fulfill(ctx, tx, today, line, inventory, result); err != nil {
			return err
		}

		bucket := models.BucketKey{PartNumber: line.PartNumber, Site: line.Site, Period: result.Period}
		total, err := tx.AddConsumption(ctx, bucket, line.Quantity)
		if err != nil {
			return fmt.Errorf("%w: adding consumption: %w", ErrStateUnavailable, err)
		}
		result.Cumulative = total
		result.Alerts = alertsFor(line, result.Period, total, forecast, inventory)

		if err := tx.StageRecords(ctx, runID, result.Records); err != nil {
			return fmt.Errorf("%w: staging records: %w", ErrStateUnavailable, err)
		}
		if err := tx.MarkProcessed(ctx, line.Key(), runID); err != nil {
			return fmt.Errorf("%w: marking processed: %w", ErrStateUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	return result, nil
}

// fulfill appends the Movement and RushJob records for line to result.
func (e *Engine) fulfill(ctx context.Context, tx StateTx, today time.Time, line models.OrderLine, inventory *models.InventorySnapshot, result *Result) error {
	onHand := inventory.Available()

	moveQty := min(onHand, line.Quantity)
	if moveQty > 0 {
		release, err := e.allocateRelease(ctx, tx, line.PONumber)
		if err != nil {
			return err
		}

		pull := inventory.PullType
		if !pull.Valid() {
			pull = models.PullFinishedGoods
		}

		result.Records = append(result.Records, &models.Movement{
			PartNumber:   line.PartNumber,
			Site:         line.Site,
			Quantity:     moveQty,
			SourcePO:     line.PONumber,
			LineNumber:   line.LineNumber,
			ReleaseOrder: release,
			ItemCode:     inventory.ItemCode,
			JobNumber:    inventory.JobNumber,
			PullType:     pull,
			UnitPrice:    line.UnitPrice,
			DueDate:      line.DueDate,
		})
	}

	if shortfall := line.Quantity - moveQty; shortfall > 0 {
		qty, err := RoundToPack(shortfall)
		if err != nil {
			return err
		}
		po, err := e.allocatePO(ctx, tx, today)
		if err != nil {
			return err
		}

		result.Records = append(result.Records, &models.RushJob{
			PartNumber:  line.PartNumber,
			Site:        line.Site,
			Quantity:    qty,
			GeneratedPO: po,
			Price:       line.UnitPrice,
			SourcePO:    line.PONumber,
			LineNumber:  line.LineNumber,
			DueDate:     line.DueDate,
		})
	}

	return nil
}

func alertsFor(line models.OrderLine, period models.Period, cumulative int64, forecast *models.ForecastEntry, inventory *models.InventorySnapshot) []models.Alert {
	var alerts []models.Alert

	base := models.Alert{
		PartNumber:   line.PartNumber,
		Site:         line.Site,
		Period:       period,
		SourcePO:     line.PONumber,
		OrderQty:     line.Quantity,
		InventoryQty: inventory.Available(),
		Cumulative:   cumulative,
	}

	switch {
	case inventory == nil:
		a := base
		a.Kind = models.AlertNoInventory
		alerts = append(alerts, a)
	case inventory.Available() < line.Quantity:
		a := base
		a.Kind = models.AlertInsufficientInventory
		alerts = append(alerts, a)
	}

	if forecast == nil || cumulative > forecast.Quantity {
		a := base
		a.Kind = models.AlertExceedsForecast
		if forecast != nil {
			qty := forecast.Quantity
			a.ForecastQty = &qty
		}
		alerts = append(alerts, a)
	}

	return alerts
}

// GenerateStockJob plans forecast-driven production for entry. It allocates a
// generated PO and stages the record but does not touch the ledger or the
// consumption totals.
func (e *Engine) GenerateStockJob(ctx context.Context, entry models.ForecastEntry, price decimal.Decimal) (*models.StockJob, error) {
	qty, err := RoundToPack(entry.Quantity)
	if err != nil {
		return nil, fmt.Errorf("stock job for %s at %s: %w", entry.PartNumber, entry.Site, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	today := e.today()

	var job *models.StockJob
	err = e.state.Atomically(ctx, func(tx StateTx) error {
		po, err := e.allocatePO(ctx, tx, today)
		if err != nil {
			return err
		}

		job = &models.StockJob{
			PartNumber:  entry.PartNumber,
			Site:        entry.Site,
			Quantity:    qty,
			GeneratedPO: po,
			Price:       price,
			Period:      entry.Period,
		}

		if err := tx.StageRecords(ctx, RunIDFrom(ctx), []models.FulfillmentRecord{job}); err != nil {
			return fmt.Errorf("%w: staging stock job: %w", ErrStateUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	return job, nil
}

// NextPOSuffix allocates the next generated-PO suffix for day on its own.
func (e *Engine) NextPOSuffix(ctx context.Context, day time.Time) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var suffix int
	err := e.state.Atomically(ctx, func(tx StateTx) error {
		var err error
		suffix, err = tx.NextPOSuffix(ctx, day.In(e.location))
		if err != nil {
			return fmt.Errorf("%w: allocating po suffix: %w", ErrStateUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}
	return suffix, nil
}

// NextReleaseOrder allocates the next release order ("001".."999") for poNumber on its own.
func (e *Engine) NextReleaseOrder(ctx context.Context, poNumber string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var release string
	err := e.state.Atomically(ctx, func(tx StateTx) error {
		var err error
		release, err = e.allocateRelease(ctx, tx, poNumber)
		return err
	})
	if err != nil {
		return "", classify(err)
	}
	return release, nil
}

func (e *Engine) allocatePO(ctx context.Context, tx StateTx, day time.Time) (string, error) {
	suffix, err := tx.NextPOSuffix(ctx, day)
	if err != nil {
		return "", fmt.Errorf("%w: allocating po suffix: %w", ErrStateUnavailable, err)
	}
	return GeneratedPO(day, suffix), nil
}

func (e *Engine) allocateRelease(ctx context.Context, tx StateTx, poNumber string) (string, error) {
	next, err := tx.NextReleaseOrder(ctx, poNumber)
	if err != nil {
		return "", fmt.Errorf("%w: allocating release order: %w", ErrStateUnavailable, err)
	}
	if next > MaxReleaseOrder {
		return "", fmt.Errorf("%w: release order for PO %s would be %d", ErrSequenceExhausted, poNumber, next)
	}
	return fmt.Sprintf("%03d", next), nil
}

func (e *Engine) today() time.Time {
	return util.StartOfDay(e.now().In(e.location))
}

// GeneratedPO formats a generated PO number, e.g. "VMI 11.19.25 3".
func GeneratedPO(day time.Time, suffix int) string {
	return fmt.Sprintf("VMI %s %d", day.Format(util.GeneratedPODateFormat), suffix)
}

// classify marks failures from outside fn (begin, commit) as state failures.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrStateUnavailable),
		errors.Is(err, ErrSequenceExhausted),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidOrderLine):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStateUnavailable, err)
	}
}
