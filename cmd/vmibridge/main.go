// VMI Bridge: vendor-managed-inventory order bridge for MCC Packaging.
//
// Reads Sherwin-Williams purchase-order files from a hot folder, reconciles
// each line against the 52-week forecast and ERP inventory, and writes
// stock-job and movement XML for the plant's order entry.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mccpackaging/vmibridge/internal/audit"
	"github.com/mccpackaging/vmibridge/internal/config"
	"github.com/mccpackaging/vmibridge/internal/database"
	"github.com/mccpackaging/vmibridge/internal/erp"
	"github.com/mccpackaging/vmibridge/internal/hotfolder"
	"github.com/mccpackaging/vmibridge/internal/ingest/forecast"
	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/render"
	"github.com/mccpackaging/vmibridge/internal/services/batch"
	"github.com/mccpackaging/vmibridge/internal/services/planning"
	"github.com/mccpackaging/vmibridge/internal/services/reconcile"
	"github.com/mccpackaging/vmibridge/internal/util"
	"github.com/shopspring/decimal"
)

// Build information (set via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

type options struct {
	configPath  string
	migrateOnly bool
	debug       bool
	once        bool
	file        string
	stockJobs   string
	parts       string
	flush       bool
	exportLog   string
}

func main() {
	var (
		opts        options
		showVersion bool
	)
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&opts.migrateOnly, "migrate-only", false, "Run migrations and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&opts.once, "once", false, "Process the PO folder once and exit")
	flag.StringVar(&opts.file, "file", "", "Process one PO file and exit")
	flag.StringVar(&opts.stockJobs, "stock-jobs", "", "Generate stock jobs for a forecast period (YYYYMM) and exit")
	flag.StringVar(&opts.parts, "parts", "", "Comma-separated part numbers to limit -stock-jobs to")
	flag.BoolVar(&opts.flush, "flush", false, "Write pending records to XML and exit")
	flag.StringVar(&opts.exportLog, "export-log", "", "Write the activity log CSV for a day (YYYY-MM-DD) and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("VMI Bridge version %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		// Force exit after timeout
		time.AfterFunc(30*time.Second, func() {
			slog.Error("forced shutdown after timeout")
			os.Exit(1)
		})
	}()

	if err := run(ctx, opts); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, cfgPath, err := config.Load(opts.configPath, true)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	closeLog, err := setupLogging(cfg, opts.debug)
	if err != nil {
		return err
	}
	defer closeLog()

	slog.Info("VMI Bridge starting",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cfgPath,
	)

	db, migrations, err := database.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		slog.Info("closing database")
		if err := db.Close(); err != nil {
			slog.Error("error closing database", "error", err)
		}
	}()

	if len(migrations.Applied) > 0 {
		slog.Info("applied migrations",
			"count", len(migrations.Applied),
			"to_version", migrations.TargetVersion,
		)
	}

	if opts.migrateOnly {
		slog.Info("migrations complete, exiting")
		return nil
	}

	if err := config.EnsureFolders(cfg); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer a.close()

	switch {
	case opts.exportLog != "":
		return a.exportLog(ctx, opts.exportLog)
	case opts.flush:
		return a.flush(ctx)
	case opts.stockJobs != "":
		return a.generateStockJobs(ctx, opts.stockJobs, opts.parts)
	case opts.file != "":
		return a.processFile(ctx, opts.file)
	case opts.once:
		return a.processOnce(ctx)
	}

	if !cfg.Scheduler.Enabled {
		slog.Info("scheduler disabled, nothing to do")
		return nil
	}

	a.recorder.System(ctx, "Scheduler started",
		fmt.Sprintf("daily at %02d:%02d %s", cfg.Scheduler.Hour, cfg.Scheduler.Minute, a.location))

	scheduler := hotfolder.NewScheduler(&exportingProcessor{app: a}, cfg.Scheduler, a.location)
	if err := scheduler.Run(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	a.recorder.System(context.Background(), "Scheduler stopped", "")
	slog.Info("VMI Bridge shutdown complete")
	return nil
}

func setupLogging(cfg *config.Config, debug bool) (func(), error) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	} else {
		switch cfg.Logging.Level {
		case config.LogLevelDebug:
			logLevel = slog.LevelDebug
		case config.LogLevelWarn:
			logLevel = slog.LevelWarn
		case config.LogLevelError:
			logLevel = slog.LevelError
		}
	}

	logPath, err := config.EnsureLogDir(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	closeFn := func() {}
	var logHandler slog.Handler
	if logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		closeFn = func() { logFile.Close() }

		logHandler = slog.NewJSONHandler(logFile, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		logHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		})
	}

	slog.SetDefault(slog.New(logHandler))
	return closeFn, nil
}

// app holds the wired components for one process.
type app struct {
	cfg       *config.Config
	db        *database.DB
	location  *time.Location
	recorder  *audit.Recorder
	engine    *reconcile.Engine
	forecasts *forecast.Store
	erpClient *erp.Client
	flusher   *render.Flusher
	planner   *planning.Service
	processor *hotfolder.Processor
}

func newApp(ctx context.Context, cfg *config.Config, db *database.DB) (*app, error) {
	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, err
	}
	periodFn, err := reconcile.PeriodFuncFor(cfg.Engine.PeriodBasis)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, db: db, location: loc}

	a.recorder = audit.NewRecorder(db.DB, loc)
	a.engine = reconcile.NewEngine(reconcile.NewSQLState(db),
		reconcile.WithLocation(loc),
		reconcile.WithPeriodFunc(periodFn),
	)
	a.forecasts = forecast.NewStore(cfg.Folders.Forecast, forecast.OptionsFromConfig(cfg.Forecast))

	var source erp.Source = erp.Offline{}
	if cfg.ERP.Configured() {
		client, err := erp.Open(ctx, cfg.ERP)
		if err != nil {
			return nil, fmt.Errorf("connecting to ERP: %w", err)
		}
		a.erpClient = client
		source = client
	} else {
		slog.Warn("ERP not configured; every part resolves to no inventory")
	}

	runner := batch.NewRunner(a.engine, a.forecasts, erp.NewResolver(source), a.recorder)
	a.flusher = render.NewFlusher(db, render.NewBuilder(cfg.Output, loc), cfg.Folders.Output, a.recorder)
	a.planner = planning.NewService(a.engine, a.recorder)
	a.processor = hotfolder.NewProcessor(cfg.Folders, db, a.forecasts, runner, a.flusher, a.recorder, loc)

	return a, nil
}

func (a *app) close() {
	if a.erpClient != nil {
		if err := a.erpClient.Close(); err != nil {
			slog.Error("error closing ERP connection", "error", err)
		}
	}
}

func (a *app) processOnce(ctx context.Context) error {
	a.recorder.User(ctx, "Manual hot folder run", a.cfg.Folders.PO)

	outcome, err := a.processor.ProcessFolder(ctx, true)
	a.writeActivityLog(ctx)
	if err != nil {
		return err
	}

	for _, fo := range outcome.Files {
		printFileOutcome(fo)
	}
	if len(outcome.Files) == 0 {
		fmt.Printf("No PO files in %s\n", a.cfg.Folders.PO)
	}
	return nil
}

func (a *app) processFile(ctx context.Context, path string) error {
	if err := a.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("state store unavailable: %w", err)
	}
	a.recorder.User(ctx, "Manual PO file run", path)
	a.processor.ReloadForecast(ctx)

	fo, err := a.processor.ProcessFile(ctx, path)
	a.writeActivityLog(ctx)
	printFileOutcome(fo)
	return err
}

func (a *app) generateStockJobs(ctx context.Context, periodArg, partsArg string) error {
	period, err := models.ParsePeriod(periodArg)
	if err != nil {
		return err
	}
	if _, err := a.forecasts.ReloadIfChanged(); err != nil {
		return fmt.Errorf("loading forecast: %w", err)
	}

	var parts []string
	if partsArg != "" {
		parts = strings.Split(partsArg, ",")
	}

	entries := planning.EntriesForPeriod(a.forecasts.Entries(), period, parts)
	if len(entries) == 0 {
		fmt.Printf("No forecast entries for %s\n", period)
		return nil
	}

	a.recorder.User(ctx, "Stock job generation", fmt.Sprintf("period %s, %d entries", period, len(entries)))

	ctx = reconcile.WithRunID(ctx, util.NewRunID())
	// Zero price renders with the configured default job price.
	plan, planErr := a.planner.GenerateStockJobs(ctx, entries, decimal.Zero)
	if plan != nil {
		fmt.Printf("Stock jobs for %s: %d jobs, %d units (%d entries skipped)\n",
			period, len(plan.Jobs), plan.TotalQuantity(), len(plan.Skipped))
	}

	flushErr := a.flush(ctx)
	if planErr != nil {
		return planErr
	}
	return flushErr
}

func (a *app) flush(ctx context.Context) error {
	result, err := a.flusher.Flush(ctx)
	a.writeActivityLog(ctx)
	if err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	if result.Jobs != nil {
		fmt.Printf("Wrote %s (%d orders)\n", result.Jobs.Path, result.Jobs.Orders)
	}
	if result.Movements != nil {
		fmt.Printf("Wrote %s (%d orders)\n", result.Movements.Path, result.Movements.Orders)
	}
	if result.Orders() == 0 {
		fmt.Println("No pending records")
	}
	return nil
}

func (a *app) exportLog(ctx context.Context, day string) error {
	if _, err := util.ParseDate(day); err != nil {
		return fmt.Errorf("invalid day %q (expected YYYY-MM-DD): %w", day, err)
	}

	path, err := a.recorder.WriteDailyCSV(ctx, a.cfg.Audit.CSVDir, day)
	if err != nil {
		return err
	}

	summary, err := a.recorder.Summary(ctx, day)
	if err != nil {
		return err
	}

	fmt.Printf("Activity log written to %s\n", path)
	fmt.Printf("  Rush jobs:  %d\n  Stock jobs: %d\n  Movements:  %d\n  Alerts:     %d\n  Errors:     %d\n",
		summary.RushJobs, summary.StockJobs, summary.Movements, summary.Alerts, summary.Errors)
	return nil
}

// writeActivityLog refreshes today's activity CSV.
func (a *app) writeActivityLog(ctx context.Context) {
	if a.cfg.Audit.CSVDir == "" {
		return
	}
	day := time.Now().In(a.location).Format(time.DateOnly)
	if _, err := a.recorder.WriteDailyCSV(context.WithoutCancel(ctx), a.cfg.Audit.CSVDir, day); err != nil {
		slog.Error("failed to write activity log", "day", day, "error", err)
	}
}

// exportingProcessor refreshes the activity log after every scheduled pass.
type exportingProcessor struct {
	app *app
}

func (p *exportingProcessor) ProcessFolder(ctx context.Context, retry bool) (*hotfolder.Outcome, error) {
	outcome, err := p.app.processor.ProcessFolder(ctx, retry)
	if err != nil {
		p.app.recorder.Error(ctx, "Hot folder run failed", err)
	}
	p.app.writeActivityLog(ctx)
	return outcome, err
}

func printFileOutcome(fo *hotfolder.FileOutcome) {
	if fo == nil {
		return
	}

	fmt.Printf("%s: %d lines, %d unreadable", fo.Path, fo.Lines, fo.ParseErrors)
	if r := fo.Report; r != nil {
		fmt.Printf(", %d movements, %d rush jobs, %d alerts, %d skipped, %d failed",
			r.Movements, r.RushJobs, r.Alerts, r.Skipped, len(r.Failures))
	}
	if fo.Kept {
		fmt.Print(" (kept)")
	}
	fmt.Println()
	if fo.Err != nil {
		fmt.Printf("  error: %v\n", fo.Err)
	}
}
