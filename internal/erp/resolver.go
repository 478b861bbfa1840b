package erp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mccpackaging/vmibridge/internal/models"
)

// Resolver turns ERP rows into the single inventory snapshot the engine
// reconciles against.
type Resolver struct {
	source Source
}

// NewResolver creates a resolver over source.
func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

// Lookup resolves the snapshot for an order of orderQty. The first of these
// that applies wins:
//
//  1. finished goods covering the order
//  2. WIP covering the order
//  3. an open job whose remaining quantity, less committed movements, covers it
//  4. the larger of finished goods and WIP on hand (finished goods on ties)
//  5. a zero snapshot when the ERP knows the part but holds nothing
//
// A nil snapshot means the ERP has no record of the part.
func (r *Resolver) Lookup(ctx context.Context, part, site string, orderQty int64) (*models.InventorySnapshot, error) {
	fg, err := r.source.FGInventory(ctx, part, site)
	if err != nil {
		return nil, fmt.Errorf("finished goods lookup for %s: %w", part, err)
	}
	fgTotal := total(fg)
	if fgTotal > 0 && fgTotal >= orderQty {
		return r.finish(ctx, snapshotFrom(part, site, models.PullFinishedGoods, fg, fgTotal), "fg")
	}

	wip, err := r.source.WIPInventory(ctx, part, site)
	if err != nil {
		return nil, fmt.Errorf("WIP lookup for %s: %w", part, err)
	}
	wipTotal := total(wip)
	if wipTotal > 0 && wipTotal >= orderQty {
		return r.finish(ctx, snapshotFrom(part, site, models.PullWorkInProgress, wip, wipTotal), "wip")
	}

	jobs, err := r.source.OpenJobs(ctx, part, site)
	if err != nil {
		return nil, fmt.Errorf("open jobs lookup for %s: %w", part, err)
	}
	for _, job := range jobs {
		movements, err := r.source.Movements(ctx, job.JobNumber)
		if err != nil {
			return nil, fmt.Errorf("movements lookup for job %s: %w", job.JobNumber, err)
		}

		var committed int64
		for _, m := range movements {
			if m.Committed() {
				committed += m.Quantity
			}
		}

		available := job.QuantityRemaining - committed
		if available > 0 && available >= orderQty {
			return r.finish(ctx, &models.InventorySnapshot{
				PartNumber:   part,
				Site:         site,
				ItemCode:     job.ItemCode,
				OnHand:       available,
				PullType:     models.PullWorkInProgress,
				JobNumber:    job.JobNumber,
				JobRemaining: job.QuantityRemaining,
			}, "job")
		}
	}

	switch {
	case fgTotal > 0 && fgTotal >= wipTotal:
		return r.finish(ctx, snapshotFrom(part, site, models.PullFinishedGoods, fg, fgTotal), "fg-partial")
	case wipTotal > 0:
		return r.finish(ctx, snapshotFrom(part, site, models.PullWorkInProgress, wip, wipTotal), "wip-partial")
	case len(fg) > 0 || len(wip) > 0 || len(jobs) > 0:
		return r.finish(ctx, &models.InventorySnapshot{
			PartNumber: part,
			Site:       site,
			PullType:   models.PullFinishedGoods,
		}, "empty")
	default:
		slog.Debug("no ERP inventory record", "part", part, "site", site)
		return nil, nil
	}
}

// finish fills a missing item code from the item mapping.
func (r *Resolver) finish(ctx context.Context, snap *models.InventorySnapshot, source string) (*models.InventorySnapshot, error) {
	if snap.ItemCode == "" {
		mapping, err := r.source.ItemMapping(ctx, snap.PartNumber)
		if err != nil {
			return nil, fmt.Errorf("item mapping lookup for %s: %w", snap.PartNumber, err)
		}
		if mapping != nil {
			snap.ItemCode = mapping.ItemCode
		}
	}

	slog.Debug("inventory resolved",
		"part", snap.PartNumber,
		"site", snap.Site,
		"source", source,
		"on_hand", snap.OnHand,
		"pull_type", snap.PullType,
		"job", snap.JobNumber,
	)
	return snap, nil
}

func total(rows []InventoryRow) int64 {
	var sum int64
	for _, r := range rows {
		sum += r.Quantity
	}
	return sum
}

func snapshotFrom(part, site string, pull models.PullType, rows []InventoryRow, onHand int64) *models.InventorySnapshot {
	snap := &models.InventorySnapshot{
		PartNumber: part,
		Site:       site,
		OnHand:     onHand,
		PullType:   pull,
	}
	for _, r := range rows {
		if snap.ItemCode == "" {
			snap.ItemCode = r.ItemCode
		}
		if snap.JobNumber == "" {
			snap.JobNumber = r.JobNumber
		}
		if snap.Location == "" {
			snap.Location = r.Location
		}
	}
	if pull == models.PullWorkInProgress {
		snap.JobRemaining = onHand
	}
	return snap
}

// Offline is the source used when no ERP is configured. Every part resolves
// to absent.
type Offline struct{}

func (Offline) FGInventory(context.Context, string, string) ([]InventoryRow, error) {
	return nil, nil
}

func (Offline) WIPInventory(context.Context, string, string) ([]InventoryRow, error) {
	return nil, nil
}

func (Offline) OpenJobs(context.Context, string, string) ([]JobRow, error) {
	return nil, nil
}

func (Offline) Movements(context.Context, string) ([]MovementRow, error) {
	return nil, nil
}

func (Offline) ItemMapping(context.Context, string) (*ItemMapping, error) {
	return nil, nil
}
