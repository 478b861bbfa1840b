package render

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mccpackaging/vmibridge/internal/database"
	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/repository"
	"github.com/mccpackaging/vmibridge/internal/testutil"
	"github.com/mccpackaging/vmibridge/internal/util"
)

type recordingObserver struct {
	mu    sync.Mutex
	paths []string
}

func (o *recordingObserver) OutputWritten(_ context.Context, path string, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, path)
}

func setupFlusher(t *testing.T) (*Flusher, *database.DB, *recordingObserver, string) {
	t.Helper()

	db := testutil.NewEngineDB(t)
	dir := filepath.Join(t.TempDir(), "xml")
	obs := &recordingObserver{}

	f := NewFlusher(db, testBuilder(), dir, obs)
	f.now = func() time.Time { return renderTime }

	return f, db, obs, dir
}

func stage(t *testing.T, db *database.DB, records ...models.FulfillmentRecord) {
	t.Helper()

	repo := repository.NewRecordRepository(db.DB)
	ids := util.NewIDGenerator()
	err := db.WithTransaction(context.Background(), func(tx *sql.Tx) error {
		for _, rec := range records {
			if err := repo.Insert(context.Background(), tx, &models.StagedRecord{
				ID:     ids.NewID(),
				RunID:  "run-1",
				Record: rec,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("staging records: %v", err)
	}
}

func movement(line int, ro string) *models.Movement {
	return &models.Movement{
		PartNumber:   "SW-1001",
		Site:         "5901",
		Quantity:     1000,
		SourcePO:     "4500012345",
		LineNumber:   line,
		ReleaseOrder: ro,
		ItemCode:     "MCC-SW-1001",
		JobNumber:    "J-1",
		PullType:     models.PullFinishedGoods,
	}
}

func TestFlusher_Flush(t *testing.T) {
	f, db, obs, dir := setupFlusher(t)
	ctx := context.Background()

	stage(t, db,
		movement(1, "001"),
		&models.RushJob{PartNumber: "SW-1001", Site: "5901", Quantity: 500, GeneratedPO: "VMI 11.12.25 1", SourcePO: "4500012345", LineNumber: 2},
		movement(2, "002"),
		&models.StockJob{PartNumber: "SW-1002", Site: "5901", Quantity: 10000, GeneratedPO: "VMI 11.12.25 2", Period: "202512"},
	)

	result, err := f.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if result.Jobs == nil || result.Jobs.Orders != 2 {
		t.Fatalf("Jobs = %+v, want 2 orders", result.Jobs)
	}
	if result.Movements == nil || result.Movements.Orders != 2 {
		t.Fatalf("Movements = %+v, want 2 orders", result.Movements)
	}
	if result.Orders() != 4 {
		t.Errorf("Orders() = %d, want 4", result.Orders())
	}

	wantJobs := filepath.Join(dir, "sw-stock-111225a.xml")
	wantMoves := filepath.Join(dir, "GT-Movement-111225-073015-001.xml")
	if result.Jobs.Path != wantJobs || result.Movements.Path != wantMoves {
		t.Errorf("paths = %s, %s", result.Jobs.Path, result.Movements.Path)
	}

	for _, p := range []string{wantJobs, wantMoves} {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("reading %s: %v", p, err)
		}
		decode(t, data)
	}

	if len(obs.paths) != 2 {
		t.Errorf("observer saw %d files, want 2", len(obs.paths))
	}

	pending, err := repository.NewRecordRepository(db.DB).CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending() error = %v", err)
	}
	if pending != 0 {
		t.Errorf("pending = %d, want 0", pending)
	}

	t.Run("second flush writes nothing", func(t *testing.T) {
		result, err := f.Flush(ctx)
		if err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		if result.Orders() != 0 || result.Jobs != nil || result.Movements != nil {
			t.Errorf("second Flush() = %+v", result)
		}
	})

	t.Run("next flush takes the next free name", func(t *testing.T) {
		stage(t, db, &models.StockJob{PartNumber: "SW-1003", Site: "5901", Quantity: 500, GeneratedPO: "VMI 11.12.25 3", Period: "202512"})

		result, err := f.Flush(ctx)
		if err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		if result.Jobs == nil || filepath.Base(result.Jobs.Path) != "sw-stock-111225b.xml" {
			t.Errorf("Jobs = %+v, want sw-stock-111225b.xml", result.Jobs)
		}
	})

	t.Run("no temp files remain", func(t *testing.T) {
		matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) != 0 {
			t.Errorf("temp files left: %v", matches)
		}
	})
}

func TestFlusher_FlushEmpty(t *testing.T) {
	f, _, obs, dir := setupFlusher(t)

	result, err := f.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if result.Orders() != 0 {
		t.Errorf("Orders() = %d, want 0", result.Orders())
	}
	if len(obs.paths) != 0 {
		t.Errorf("observer saw %v", obs.paths)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("output folder created for an empty flush")
	}
}
