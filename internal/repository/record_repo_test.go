package repository

import (
	"testing"
	"time"

	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/util"
	"github.com/shopspring/decimal"
)

func stage(rec models.FulfillmentRecord) *models.StagedRecord {
	return &models.StagedRecord{ID: util.NewID(), RunID: "run-1", Record: rec}
}

func TestRecordRepository_InsertAndList(t *testing.T) {
	db, ctx := setupStateTest(t)
	repo := NewRecordRepository(db.DB)

	due := time.Date(2025, time.November, 19, 0, 0, 0, 0, time.UTC)
	movement := &models.Movement{
		PartNumber:   "SW-1001",
		Site:         "5901",
		Quantity:     3000,
		SourcePO:     "4500012345",
		LineNumber:   1,
		ReleaseOrder: "001",
		ItemCode:     "MCC-SW-1001",
		JobNumber:    "J-1",
		PullType:     models.PullWorkInProgress,
		UnitPrice:    decimal.RequireFromString("0.185"),
		DueDate:      due,
	}
	rush := &models.RushJob{
		PartNumber:  "SW-1001",
		Site:        "5901",
		Quantity:    1000,
		GeneratedPO: "VMI 11.19.25 1",
		Price:       decimal.RequireFromString("100"),
		SourcePO:    "4500012345",
		LineNumber:  1,
		DueDate:     due,
	}
	stock := &models.StockJob{
		PartNumber:  "SW-2002",
		Site:        "5901",
		Quantity:    5000,
		GeneratedPO: "VMI 11.19.25 2",
		Price:       decimal.RequireFromString("100"),
		Period:      "202512",
	}

	for _, rec := range []models.FulfillmentRecord{movement, rush, stock} {
		if err := repo.Insert(ctx, nil, stage(rec)); err != nil {
			t.Fatalf("insert %s: %v", rec.Kind(), err)
		}
	}

	t.Run("Pending records round trip in order", func(t *testing.T) {
		pending, err := repo.ListPending(ctx)
		if err != nil {
			t.Fatalf("list pending: %v", err)
		}
		if len(pending) != 3 {
			t.Fatalf("expected 3 pending, got %d", len(pending))
		}

		got, ok := pending[0].Record.(*models.Movement)
		if !ok {
			t.Fatalf("expected movement first, got %T", pending[0].Record)
		}
		if got.ReleaseOrder != "001" || got.PullType != models.PullWorkInProgress || !got.UnitPrice.Equal(movement.UnitPrice) {
			t.Errorf("movement did not round trip: %+v", got)
		}
		if !got.DueDate.Equal(due) {
			t.Errorf("expected due %v, got %v", due, got.DueDate)
		}

		if r, ok := pending[1].Record.(*models.RushJob); !ok || r.GeneratedPO != rush.GeneratedPO {
			t.Errorf("expected rush job second, got %+v", pending[1].Record)
		}
		if s, ok := pending[2].Record.(*models.StockJob); !ok || s.Period != "202512" {
			t.Errorf("expected stock job third, got %+v", pending[2].Record)
		}
	})

	t.Run("Generated PO numbers are unique", func(t *testing.T) {
		dup := *rush
		if err := repo.Insert(ctx, nil, stage(&dup)); err == nil {
			t.Error("expected duplicate generated PO to fail")
		}
	})

	t.Run("Release orders are unique per PO", func(t *testing.T) {
		dup := *movement
		if err := repo.Insert(ctx, nil, stage(&dup)); err == nil {
			t.Error("expected duplicate release order to fail")
		}
	})

	t.Run("Marked records leave the pending list", func(t *testing.T) {
		pending, _ := repo.ListPending(ctx)
		ids := []string{pending[0].ID, pending[2].ID}

		if err := repo.MarkRendered(ctx, nil, ids, "out.xml", time.Now()); err != nil {
			t.Fatalf("mark rendered: %v", err)
		}

		count, err := repo.CountPending(ctx)
		if err != nil {
			t.Fatalf("count pending: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 pending, got %d", count)
		}

		if err := repo.MarkRendered(ctx, nil, ids, "again.xml", time.Now()); err == nil {
			t.Error("expected re-marking rendered records to fail")
		}
	})

	t.Run("Run listing includes rendered records", func(t *testing.T) {
		all, err := repo.ListByRun(ctx, "run-1")
		if err != nil {
			t.Fatalf("list by run: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 records, got %d", len(all))
		}
		if all[0].OutputFile != "out.xml" || all[0].RenderedAt == nil {
			t.Errorf("expected first record rendered to out.xml, got %+v", all[0])
		}
	})
}
