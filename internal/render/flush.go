package render

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mccpackaging/vmibridge/internal/database"
	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/repository"
	"github.com/mccpackaging/vmibridge/internal/util"
)

// ErrNoFreeName is returned when every candidate file name for the day is taken.
var ErrNoFreeName = errors.New("no free output file name")

// Observer is told about every output file written.
type Observer interface {
	OutputWritten(ctx context.Context, path string, orders int)
}

// OutputFile is one written document.
type OutputFile struct {
	Path   string
	Orders int
	IDs    []string
}

// FlushResult lists the documents one flush wrote.
type FlushResult struct {
	Jobs      *OutputFile
	Movements *OutputFile
}

// Orders returns the number of orders written.
func (r *FlushResult) Orders() int {
	n := 0
	if r.Jobs != nil {
		n += r.Jobs.Orders
	}
	if r.Movements != nil {
		n += r.Movements.Orders
	}
	return n
}

// Flusher drains the record outbox into XML files.
type Flusher struct {
	db       *database.DB
	records  *repository.RecordRepository
	builder  *Builder
	dir      string
	observer Observer
	now      func() time.Time
}

// NewFlusher creates a flusher writing into dir. observer may be nil.
func NewFlusher(db *database.DB, builder *Builder, dir string, observer Observer) *Flusher {
	return &Flusher{
		db:       db,
		records:  repository.NewRecordRepository(db.DB),
		builder:  builder,
		dir:      dir,
		observer: observer,
		now:      time.Now,
	}
}

// Flush writes every pending record: jobs into one sw-stock file and
// movements into one GT-Movement file. Records are marked rendered in the
// same transaction that claims the file, and the file is moved into place
// only after that commits, so a failure can lose a file but never render a
// record twice.
func (f *Flusher) Flush(ctx context.Context) (*FlushResult, error) {
	pending, err := f.records.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending records: %w", err)
	}

	result := &FlushResult{}
	if len(pending) == 0 {
		return result, nil
	}

	if err := os.MkdirAll(f.dir, 0750); err != nil {
		return nil, fmt.Errorf("creating output folder: %w", err)
	}

	var (
		jobs, movements     []models.FulfillmentRecord
		jobIDs, movementIDs []string
	)
	for _, staged := range pending {
		switch staged.Record.(type) {
		case *models.Movement:
			movements = append(movements, staged.Record)
			movementIDs = append(movementIDs, staged.ID)
		case *models.RushJob, *models.StockJob:
			jobs = append(jobs, staged.Record)
			jobIDs = append(jobIDs, staged.ID)
		}
	}

	now := f.now()

	if len(jobs) > 0 {
		data, err := f.builder.JobsDocument(jobs, now)
		if err != nil {
			return result, err
		}
		name, err := f.freeName(jobsFileNames(now.In(f.builder.location)))
		if err != nil {
			return result, err
		}
		out, err := f.commit(ctx, name, data, jobIDs, now)
		if err != nil {
			return result, err
		}
		result.Jobs = out
	}

	if len(movements) > 0 {
		ms := make([]*models.Movement, 0, len(movements))
		for _, rec := range movements {
			ms = append(ms, rec.(*models.Movement))
		}
		data, err := f.builder.MovementsDocument(ms, now)
		if err != nil {
			return result, err
		}
		name, err := f.freeName(movementFileNames(now.In(f.builder.location)))
		if err != nil {
			return result, err
		}
		out, err := f.commit(ctx, name, data, movementIDs, now)
		if err != nil {
			return result, err
		}
		result.Movements = out
	}

	return result, nil
}

func (f *Flusher) commit(ctx context.Context, name string, data []byte, ids []string, now time.Time) (*OutputFile, error) {
	final := filepath.Join(f.dir, name)

	tmp, err := os.CreateTemp(f.dir, "."+name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("syncing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("closing %s: %w", name, err)
	}

	err = f.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return f.records.MarkRendered(ctx, tx, ids, name, now)
	})
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("marking records rendered into %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, final); err != nil {
		slog.Error("rendered records not moved into place",
			"file", final,
			"temp_file", tmpPath,
			"records", len(ids),
			"error", err,
		)
		return nil, fmt.Errorf("moving %s into place (content left in %s): %w", name, tmpPath, err)
	}

	slog.Info("output written", "file", final, "orders", len(ids))
	if f.observer != nil {
		f.observer.OutputWritten(ctx, final, len(ids))
	}

	return &OutputFile{Path: final, Orders: len(ids), IDs: ids}, nil
}

// freeName returns the first candidate not present in the output folder.
func (f *Flusher) freeName(candidates []string) (string, error) {
	for _, name := range candidates {
		_, err := os.Stat(filepath.Join(f.dir, name))
		if errors.Is(err, os.ErrNotExist) {
			return name, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking %s: %w", name, err)
		}
	}
	return "", ErrNoFreeName
}

// jobsFileNames lists sw-stock-MMDDYY<suffix>.xml names in allocation order:
// a..z, then aa..zz.
func jobsFileNames(now time.Time) []string {
	date := now.Format(util.FileDateFormat)
	names := make([]string, 0, 26+26*26)
	for c := 'a'; c <= 'z'; c++ {
		names = append(names, fmt.Sprintf("sw-stock-%s%c.xml", date, c))
	}
	for c1 := 'a'; c1 <= 'z'; c1++ {
		for c2 := 'a'; c2 <= 'z'; c2++ {
			names = append(names, fmt.Sprintf("sw-stock-%s%c%c.xml", date, c1, c2))
		}
	}
	return names
}

// movementFileNames lists GT-Movement-MMDDYY-HHMMSS-###.xml names.
func movementFileNames(now time.Time) []string {
	stamp := now.Format(util.FileDateFormat + "-" + util.FileTimeFormat)
	names := make([]string, 0, 999)
	for seq := 1; seq <= 999; seq++ {
		names = append(names, fmt.Sprintf("GT-Movement-%s-%03d.xml", stamp, seq))
	}
	return names
}
