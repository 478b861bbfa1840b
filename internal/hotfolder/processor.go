// Package hotfolder picks up purchase-order files dropped by the customer,
// runs them through the daily batch and writes the resulting XML.
package hotfolder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mccpackaging/vmibridge/internal/config"
	"github.com/mccpackaging/vmibridge/internal/ingest/forecast"
	"github.com/mccpackaging/vmibridge/internal/ingest/po"
	"github.com/mccpackaging/vmibridge/internal/render"
	"github.com/mccpackaging/vmibridge/internal/services/batch"
)

// Activity receives the operator-facing events of a pass.
type Activity interface {
	File(ctx context.Context, message string, path string)
	Alert(ctx context.Context, message string, details string)
	Error(ctx context.Context, message string, err error)
}

// HealthChecker verifies the state store before a pass touches any file.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// FileOutcome is the result of one PO file.
type FileOutcome struct {
	Path        string
	Lines       int
	ParseErrors int
	Report      *batch.Report
	Flush       *render.FlushResult
	Kept        bool
	Err         error
}

// Outcome is the result of one pass over the folder.
type Outcome struct {
	Files       []*FileOutcome
	RetryNeeded bool
}

// Processor runs one pass over the PO folder.
type Processor struct {
	folders   config.FoldersConfig
	health    HealthChecker
	forecasts *forecast.Store
	runner    *batch.Runner
	flusher   *render.Flusher
	activity  Activity
	location  *time.Location
}

// NewProcessor wires a processor. forecasts and activity may be nil.
func NewProcessor(
	folders config.FoldersConfig,
	health HealthChecker,
	forecasts *forecast.Store,
	runner *batch.Runner,
	flusher *render.Flusher,
	activity Activity,
	loc *time.Location,
) *Processor {
	if loc == nil {
		loc = time.Local
	}
	return &Processor{
		folders:   folders,
		health:    health,
		forecasts: forecasts,
		runner:    runner,
		flusher:   flusher,
		activity:  activity,
		location:  loc,
	}
}

// ProcessFolder processes every *.txt file in the PO folder in name order.
// An empty folder asks for a retry on the first attempt and raises an alert
// on the retry. A state-store failure stops the pass and is returned.
func (p *Processor) ProcessFolder(ctx context.Context, retry bool) (*Outcome, error) {
	if err := p.health.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("state store unavailable: %w", err)
	}

	p.ReloadForecast(ctx)

	files, err := ListPOFiles(p.folders.PO)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{}
	if len(files) == 0 {
		if !retry {
			slog.Info("no PO files found, retry scheduled", "folder", p.folders.PO)
			outcome.RetryNeeded = true
			return outcome, nil
		}
		slog.Warn("no PO files found after retry", "folder", p.folders.PO)
		p.alert(ctx, "No PO files received", fmt.Sprintf("hot folder %s still empty after retry", p.folders.PO))
		return outcome, nil
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		fo, err := p.ProcessFile(ctx, path)
		outcome.Files = append(outcome.Files, fo)
		if err != nil {
			return outcome, err
		}
	}

	return outcome, nil
}

// ProcessFile parses, reconciles and renders one PO file, then disposes of
// it. The file stays in place when it could not be read, when a line failed
// in a way worth retrying, or when the batch or the flush failed; lines
// already reconciled are skipped on the next pass. Only batch and flush
// failures are returned as errors.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*FileOutcome, error) {
	fo := &FileOutcome{Path: path, Kept: true}
	name := filepath.Base(path)

	p.file(ctx, "Processing PO file", path)

	parsed, err := po.ParseFile(path, p.location)
	if err != nil {
		fo.Err = err
		slog.Error("PO file unreadable", "file", name, "error", err)
		p.fail(ctx, fmt.Sprintf("PO file %s unreadable", name), err)
		return fo, nil
	}
	fo.Lines = len(parsed.Lines)
	fo.ParseErrors = len(parsed.Errors)

	for _, perr := range parsed.Errors {
		slog.Warn("PO line skipped", "file", name, "line", perr.Line, "reason", perr.Reason)
		p.fail(ctx, fmt.Sprintf("PO file %s line %d skipped", name, perr.Line), perr)
	}

	report, runErr := p.runner.Run(ctx, parsed.Lines)
	fo.Report = report

	// Committed lines are rendered even when the batch stopped early.
	flush, flushErr := p.flusher.Flush(ctx)
	fo.Flush = flush

	if runErr != nil {
		fo.Err = runErr
		p.fail(ctx, fmt.Sprintf("Batch for %s stopped", name), runErr)
		return fo, fmt.Errorf("processing %s: %w", name, runErr)
	}
	if flushErr != nil {
		fo.Err = flushErr
		p.fail(ctx, fmt.Sprintf("Writing output for %s failed", name), flushErr)
		return fo, fmt.Errorf("rendering output for %s: %w", name, flushErr)
	}

	if report.HasRetryable() {
		slog.Warn("PO file kept for retry", "file", name, "failures", len(report.Failures))
		return fo, nil
	}

	removed, err := p.dispose(path)
	if err != nil {
		fo.Err = err
		slog.Error("PO file not disposed", "file", name, "error", err)
		p.fail(ctx, fmt.Sprintf("PO file %s could not be removed", name), err)
		return fo, nil
	}
	fo.Kept = !removed

	return fo, nil
}

// ReloadForecast loads the newest forecast workbook when it changed. A
// missing or unreadable workbook is reported and the previous table kept.
func (p *Processor) ReloadForecast(ctx context.Context) {
	if p.forecasts == nil {
		return
	}

	loaded, err := p.forecasts.ReloadIfChanged()
	switch {
	case errors.Is(err, forecast.ErrNoWorkbook):
		slog.Warn("no forecast workbook", "folder", p.folders.Forecast)
		p.alert(ctx, "No forecast workbook", p.folders.Forecast)
	case err != nil:
		slog.Error("forecast reload failed", "error", err)
		p.fail(ctx, "Forecast reload failed", err)
	case loaded:
		p.file(ctx, "Forecast loaded", p.forecasts.Path())
	}
}

// dispose archives the file when an archive folder is set, else deletes it
// when configured to. It reports whether the file left the PO folder.
func (p *Processor) dispose(path string) (bool, error) {
	if p.folders.Archive != "" {
		if err := os.MkdirAll(p.folders.Archive, 0750); err != nil {
			return false, fmt.Errorf("creating archive folder: %w", err)
		}
		dest := filepath.Join(p.folders.Archive, filepath.Base(path))
		if _, err := os.Stat(dest); err == nil {
			ext := filepath.Ext(dest)
			dest = strings.TrimSuffix(dest, ext) + "-" + time.Now().Format("20060102-150405") + ext
		}
		if err := os.Rename(path, dest); err != nil {
			return false, fmt.Errorf("archiving %s: %w", filepath.Base(path), err)
		}
		slog.Info("PO file archived", "file", filepath.Base(path), "archive", dest)
		return true, nil
	}

	if !p.folders.DeleteProcessed {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("deleting %s: %w", filepath.Base(path), err)
	}
	slog.Info("PO file deleted", "file", filepath.Base(path))
	return true, nil
}

func (p *Processor) file(ctx context.Context, message, path string) {
	if p.activity != nil {
		p.activity.File(ctx, message, path)
	}
}

func (p *Processor) alert(ctx context.Context, message, details string) {
	if p.activity != nil {
		p.activity.Alert(ctx, message, details)
	}
}

func (p *Processor) fail(ctx context.Context, message string, err error) {
	if p.activity != nil {
		p.activity.Error(ctx, message, err)
	}
}

// ListPOFiles returns the *.txt files in dir, sorted by name.
func ListPOFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading PO folder: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	return files, nil
}
