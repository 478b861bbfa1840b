package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/util"
)

var csvHeader = []string{"Timestamp", "Type", "Message", "Details", "Part Number", "Quantity", "PO Number", "XML File"}

// ExportCSV writes the events of day (YYYY-MM-DD) in activity-log layout.
func (r *Recorder) ExportCSV(ctx context.Context, day string, w io.Writer) (int, error) {
	events, err := r.events.ListByDay(ctx, day)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("writing header: %w", err)
	}

	for _, e := range events {
		qty := ""
		if e.Quantity != nil {
			qty = strconv.FormatInt(*e.Quantity, 10)
		}
		row := []string{
			util.FormatDateTime(e.OccurredAt.In(r.location)),
			e.Type.String(),
			e.Message,
			e.Details,
			e.PartNumber,
			qty,
			e.PONumber,
			filepath.Base(e.OutputFile),
		}
		if e.OutputFile == "" {
			row[7] = ""
		}
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("writing row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flushing csv: %w", err)
	}
	return len(events), nil
}

// WriteDailyCSV writes day's events to dir/YYYY-MM-DD_activity.csv.
func (r *Recorder) WriteDailyCSV(ctx context.Context, dir, day string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating audit directory: %w", err)
	}

	path := filepath.Join(dir, day+"_activity.csv")
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("creating activity log: %w", err)
	}

	if _, err := r.ExportCSV(ctx, day, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("closing activity log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("replacing activity log: %w", err)
	}

	return path, nil
}

// DailySummary counts one day's activity.
type DailySummary struct {
	Day       string
	RushJobs  int
	StockJobs int
	Movements int
	Alerts    int
	Errors    int
	Files     int
}

// Summary counts the events of day.
func (r *Recorder) Summary(ctx context.Context, day string) (*DailySummary, error) {
	events, err := r.events.ListByDay(ctx, day)
	if err != nil {
		return nil, err
	}

	s := &DailySummary{Day: day}
	for _, e := range events {
		switch e.Type {
		case models.AuditJob:
			switch e.Details {
			case models.RecordRushJob.String():
				s.RushJobs++
			case models.RecordStockJob.String():
				s.StockJobs++
			}
		case models.AuditMovement:
			s.Movements++
		case models.AuditAlert:
			s.Alerts++
		case models.AuditError:
			s.Errors++
		case models.AuditFile:
			s.Files++
		}
	}
	return s, nil
}
