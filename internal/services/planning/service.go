// Package planning issues forecast-driven stock jobs.
package planning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/services/reconcile"
	"github.com/shopspring/decimal"
)

// RecordSink receives every stock job created.
type RecordSink interface {
	RecordCreated(ctx context.Context, rec models.FulfillmentRecord)
}

// Service plans stock jobs through the engine's shared PO sequence.
type Service struct {
	engine *reconcile.Engine
	sink   RecordSink
}

// NewService creates a planning service. sink may be nil.
func NewService(engine *reconcile.Engine, sink RecordSink) *Service {
	return &Service{engine: engine, sink: sink}
}

// Plan is the outcome of one planning action.
type Plan struct {
	Jobs    []*models.StockJob
	Skipped []models.ForecastEntry // non-positive forecast quantity
}

// TotalQuantity returns the summed rounded quantity of all jobs.
func (p *Plan) TotalQuantity() int64 {
	var total int64
	for _, j := range p.Jobs {
		total += j.Quantity
	}
	return total
}

// GenerateStockJobs creates one stock job per entry with a positive quantity.
// A state failure stops planning; jobs already created are returned.
func (s *Service) GenerateStockJobs(ctx context.Context, entries []models.ForecastEntry, price decimal.Decimal) (*Plan, error) {
	plan := &Plan{}

	for _, entry := range entries {
		if entry.Quantity <= 0 {
			plan.Skipped = append(plan.Skipped, entry)
			continue
		}
		if err := ctx.Err(); err != nil {
			return plan, err
		}

		job, err := s.engine.GenerateStockJob(ctx, entry, price)
		if err != nil {
			if errors.Is(err, reconcile.ErrInvalidQuantity) {
				plan.Skipped = append(plan.Skipped, entry)
				continue
			}
			return plan, fmt.Errorf("planning %s at %s: %w", entry.PartNumber, entry.Site, err)
		}

		plan.Jobs = append(plan.Jobs, job)
		if s.sink != nil {
			s.sink.RecordCreated(ctx, job)
		}
	}

	slog.Info("stock jobs planned", "jobs", len(plan.Jobs), "skipped", len(plan.Skipped), "quantity", plan.TotalQuantity())
	return plan, nil
}

// EntriesForPeriod selects the entries of period, optionally limited to parts
// (matched case-insensitively), ordered by part then site.
func EntriesForPeriod(entries []models.ForecastEntry, period models.Period, parts []string) []models.ForecastEntry {
	wanted := make(map[string]bool, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			wanted[strings.ToUpper(p)] = true
		}
	}

	var out []models.ForecastEntry
	for _, e := range entries {
		if e.Period != period {
			continue
		}
		if len(wanted) > 0 && !wanted[strings.ToUpper(e.PartNumber)] {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PartNumber != out[j].PartNumber {
			return out[i].PartNumber < out[j].PartNumber
		}
		return out[i].Site < out[j].Site
	})
	return out
}
