package hotfolder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mccpackaging/vmibridge/internal/config"
	"github.com/mccpackaging/vmibridge/internal/database"
	"github.com/mccpackaging/vmibridge/internal/erp"
	"github.com/mccpackaging/vmibridge/internal/ingest/forecast"
	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/render"
	"github.com/mccpackaging/vmibridge/internal/services/batch"
	"github.com/mccpackaging/vmibridge/internal/services/reconcile"
	"github.com/mccpackaging/vmibridge/internal/testutil"
)

const poFile = `45FL907465H111925CLFDB
45FL907465D  1L-61370444-14        5500EA00000.1269011/19/2025  A
45FL907465D  2SW-1001               750EA00000.2000012/01/2025  A
`

type fakeActivity struct {
	mu     sync.Mutex
	files  []string
	alerts []string
	errs   []string
}

func (a *fakeActivity) File(_ context.Context, message, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files = append(a.files, message)
}

func (a *fakeActivity) Alert(_ context.Context, message, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, message)
}

func (a *fakeActivity) Error(_ context.Context, message string, _ error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, message)
}

type failingInventory struct{}

func (failingInventory) Lookup(context.Context, string, string, int64) (*models.InventorySnapshot, error) {
	return nil, errors.New("ERP timeout")
}

type unhealthy struct{}

func (unhealthy) HealthCheck(context.Context) error { return errors.New("database is closed") }

type processorTest struct {
	processor *Processor
	db        *database.DB
	activity  *fakeActivity
	folders   config.FoldersConfig
}

func setupProcessor(t *testing.T, inventory batch.InventoryLookup, mutate func(*config.FoldersConfig)) *processorTest {
	t.Helper()

	root := t.TempDir()
	folders := config.FoldersConfig{
		PO:              filepath.Join(root, "inputs"),
		Forecast:        filepath.Join(root, "forecasts"),
		Output:          filepath.Join(root, "outputs"),
		DeleteProcessed: true,
	}
	if mutate != nil {
		mutate(&folders)
	}
	for _, dir := range []string{folders.PO, folders.Forecast} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	db := testutil.NewEngineDB(t)
	engine := reconcile.NewEngine(reconcile.NewSQLState(db),
		reconcile.WithClock(func() time.Time { return testutil.FixtureDueDate }),
		reconcile.WithLocation(time.UTC),
	)
	store := forecast.NewStore(folders.Forecast, forecast.Options{})
	if inventory == nil {
		inventory = erp.NewResolver(erp.Offline{})
	}
	runner := batch.NewRunner(engine, store, inventory, nil)
	flusher := render.NewFlusher(db, render.NewBuilder(config.Default().Output, time.UTC), folders.Output, nil)
	activity := &fakeActivity{}

	return &processorTest{
		processor: NewProcessor(folders, db, store, runner, flusher, activity, time.UTC),
		db:        db,
		activity:  activity,
		folders:   folders,
	}
}

func (pt *processorTest) dropFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(pt.folders.PO, name)
	if err := os.WriteFile(path, []byte(poFile), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func outputFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestProcessFolder_EmptyFolder(t *testing.T) {
	pt := setupProcessor(t, nil, nil)
	ctx := context.Background()

	outcome, err := pt.processor.ProcessFolder(ctx, false)
	if err != nil {
		t.Fatalf("ProcessFolder() error = %v", err)
	}
	if !outcome.RetryNeeded {
		t.Error("first attempt on an empty folder should ask for a retry")
	}
	if len(pt.activity.alerts) != 1 {
		t.Errorf("alerts = %v, want only the missing-forecast alert", pt.activity.alerts)
	}

	outcome, err = pt.processor.ProcessFolder(ctx, true)
	if err != nil {
		t.Fatalf("ProcessFolder() retry error = %v", err)
	}
	if outcome.RetryNeeded {
		t.Error("retry should not ask for another retry")
	}

	found := false
	for _, a := range pt.activity.alerts {
		if a == "No PO files received" {
			found = true
		}
	}
	if !found {
		t.Errorf("alerts = %v, want an empty-folder alert after the retry", pt.activity.alerts)
	}
}

func TestProcessFolder_ProcessesAndDeletes(t *testing.T) {
	pt := setupProcessor(t, nil, nil)
	path := pt.dropFile(t, "qadp0961.txt")

	outcome, err := pt.processor.ProcessFolder(context.Background(), false)
	if err != nil {
		t.Fatalf("ProcessFolder() error = %v", err)
	}
	if len(outcome.Files) != 1 {
		t.Fatalf("files = %d, want 1", len(outcome.Files))
	}

	fo := outcome.Files[0]
	if fo.Lines != 2 || fo.Kept || fo.Err != nil {
		t.Errorf("outcome = %+v", fo)
	}
	if fo.Report == nil || fo.Report.RushJobs != 2 {
		t.Errorf("report = %+v, want 2 rush jobs", fo.Report)
	}
	if fo.Flush == nil || fo.Flush.Jobs == nil || fo.Flush.Jobs.Orders != 2 {
		t.Errorf("flush = %+v, want 2 job orders", fo.Flush)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("processed PO file should be deleted")
	}
	if got := outputFiles(t, pt.folders.Output); len(got) != 1 {
		t.Errorf("output files = %v, want 1", got)
	}
}

func TestProcessFolder_ReprocessSkipsLines(t *testing.T) {
	pt := setupProcessor(t, nil, func(f *config.FoldersConfig) { f.DeleteProcessed = false })
	pt.dropFile(t, "qadp0961.txt")
	ctx := context.Background()

	if _, err := pt.processor.ProcessFolder(ctx, false); err != nil {
		t.Fatalf("first ProcessFolder() error = %v", err)
	}

	outcome, err := pt.processor.ProcessFolder(ctx, false)
	if err != nil {
		t.Fatalf("second ProcessFolder() error = %v", err)
	}
	fo := outcome.Files[0]
	if !fo.Kept {
		t.Error("file should stay when deletion is off")
	}
	if fo.Report.Skipped != 2 || fo.Report.RushJobs != 0 {
		t.Errorf("second report = %+v, want both lines skipped", fo.Report)
	}
	if fo.Flush.Orders() != 0 {
		t.Errorf("second flush wrote %d orders, want 0", fo.Flush.Orders())
	}
}

func TestProcessFolder_KeepsFileOnRetryableFailure(t *testing.T) {
	pt := setupProcessor(t, failingInventory{}, nil)
	path := pt.dropFile(t, "qadp0961.txt")

	outcome, err := pt.processor.ProcessFolder(context.Background(), false)
	if err != nil {
		t.Fatalf("ProcessFolder() error = %v", err)
	}

	fo := outcome.Files[0]
	if !fo.Kept {
		t.Error("file with retryable failures should be kept")
	}
	if !fo.Report.HasRetryable() {
		t.Error("report should carry retryable failures")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("PO file missing: %v", err)
	}
}

func TestProcessFolder_Archives(t *testing.T) {
	var archive string
	pt := setupProcessor(t, nil, func(f *config.FoldersConfig) {
		archive = filepath.Join(filepath.Dir(f.PO), "archive")
		f.Archive = archive
	})
	path := pt.dropFile(t, "qadp0961.txt")

	if _, err := pt.processor.ProcessFolder(context.Background(), false); err != nil {
		t.Fatalf("ProcessFolder() error = %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("PO file should leave the hot folder")
	}
	if _, err := os.Stat(filepath.Join(archive, "qadp0961.txt")); err != nil {
		t.Errorf("archived file missing: %v", err)
	}
}

func TestProcessFolder_UnhealthyStore(t *testing.T) {
	pt := setupProcessor(t, nil, nil)
	pt.processor.health = unhealthy{}
	pt.dropFile(t, "qadp0961.txt")

	if _, err := pt.processor.ProcessFolder(context.Background(), false); err == nil {
		t.Fatal("ProcessFolder() expected error for an unhealthy store")
	}
	if got := outputFiles(t, pt.folders.Output); len(got) != 0 {
		t.Errorf("output written despite unhealthy store: %v", got)
	}
}

func TestListPOFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.TXT", "notes.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := ListPOFiles(dir)
	if err != nil {
		t.Fatalf("ListPOFiles() error = %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "a.TXT" || filepath.Base(files[1]) != "b.txt" {
		t.Errorf("ListPOFiles() = %v", files)
	}
}
