// Package config provides configuration management for the VMI order bridge.
// Configurations are loaded from TOML files with XDG-compliant paths, then
// overridden from VMI_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // timezone lookups must not depend on the host's zoneinfo

	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Folders   FoldersConfig   `toml:"folders"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Forecast  ForecastConfig  `toml:"forecast"`
	ERP       ERPConfig       `toml:"erp"`
	Output    OutputConfig    `toml:"output"`
	Audit     AuditConfig     `toml:"audit"`
	Logging   LoggingConfig   `toml:"logging"`
	Database  DatabaseConfig  `toml:"database"`
}

// EngineConfig controls reconciliation behaviour.
type EngineConfig struct {
	PeriodBasis PeriodBasis `toml:"period_basis" env:"VMI_PERIOD_BASIS"`
	Timezone    string      `toml:"timezone" env:"VMI_TIMEZONE"`
}

// PeriodBasis selects which order date maps a line to its forecast bucket.
type PeriodBasis string

const (
	PeriodBasisDueDate      PeriodBasis = "due_date"
	PeriodBasisReceivedDate PeriodBasis = "received_date"
)

// FoldersConfig locates the hot folder and output locations.
type FoldersConfig struct {
	PO              string `toml:"po" env:"VMI_PO_FOLDER"`
	Forecast        string `toml:"forecast" env:"VMI_FORECAST_FOLDER"`
	Output          string `toml:"output" env:"VMI_OUTPUT_FOLDER"`
	Archive         string `toml:"archive" env:"VMI_ARCHIVE_FOLDER"`
	DeleteProcessed bool   `toml:"delete_processed"`
}

// SchedulerConfig controls the daily hot-folder run.
type SchedulerConfig struct {
	Enabled           bool `toml:"enabled"`
	Hour              int  `toml:"hour"`
	Minute            int  `toml:"minute"`
	RetryDelayMinutes int  `toml:"retry_delay_minutes"`
}

// RetryDelay returns the delay before the empty-folder retry.
func (s SchedulerConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMinutes) * time.Minute
}

// ForecastConfig controls forecast lookups.
type ForecastConfig struct {
	PartFallback   bool              `toml:"part_fallback"`
	AnnualFallback bool              `toml:"annual_fallback"`
	SiteAliases    map[string]string `toml:"site_aliases"`
}

// ERPConfig describes the SQL Server the inventory lookups run against.
// An empty host means the ERP is not configured and lookups resolve to absent.
type ERPConfig struct {
	Host                string     `toml:"host" env:"VMI_ERP_HOST"`
	Port                int        `toml:"port" env:"VMI_ERP_PORT"`
	Instance            string     `toml:"instance" env:"VMI_ERP_INSTANCE"`
	Database            string     `toml:"database" env:"VMI_ERP_DATABASE"`
	User                string     `toml:"user" env:"VMI_ERP_USER"`
	Password            string     `toml:"password" env:"VMI_ERP_PASSWORD"`
	Encrypt             string     `toml:"encrypt" env:"VMI_ERP_ENCRYPT"`
	AppName             string     `toml:"app_name"`
	QueryTimeoutSeconds int        `toml:"query_timeout_seconds"`
	Queries             ERPQueries `toml:"queries"`
}

// Configured reports whether an ERP host is set.
func (e ERPConfig) Configured() bool {
	return strings.TrimSpace(e.Host) != ""
}

// QueryTimeout returns the per-query timeout.
func (e ERPConfig) QueryTimeout() time.Duration {
	return time.Duration(e.QueryTimeoutSeconds) * time.Second
}

// ERPQueries holds one SQL statement per lookup type. Statements use the named
// parameters @part_number, @site and @job_number.
type ERPQueries struct {
	FGInventory  string `toml:"fg_inventory"`
	WIPInventory string `toml:"wip_inventory"`
	OpenJobs     string `toml:"open_jobs"`
	Movements    string `toml:"movements"`
	ItemMapping  string `toml:"item_mapping"`
}

// OutputConfig holds the constants the order-entry serializer stamps on documents.
type OutputConfig struct {
	DTDURL                  string `toml:"dtd_url"`
	Plant                   string `toml:"plant"`
	CustomerCode            string `toml:"customer_code"`
	BaseAddress             string `toml:"base_address"`
	StockDeliveryAddress    string `toml:"stock_delivery_address"`
	MovementDeliveryAddress string `toml:"movement_delivery_address"`
	DeliveryMethod          string `toml:"delivery_method"`
	StockLeadDays           int    `toml:"stock_lead_days"`
	DefaultJobPrice         string `toml:"default_job_price"`
	DefaultMovementPrice    string `toml:"default_movement_price"`
	PriceQty                int    `toml:"price_qty"`
}

// JobPrice returns the default job price per price-qty.
func (o OutputConfig) JobPrice() decimal.Decimal {
	return decimal.RequireFromString(o.DefaultJobPrice)
}

// MovementPrice returns the default movement price per price-qty.
func (o OutputConfig) MovementPrice() decimal.Decimal {
	return decimal.RequireFromString(o.DefaultMovementPrice)
}

// AuditConfig controls the activity log export.
type AuditConfig struct {
	CSVDir string `toml:"csv_dir" env:"VMI_AUDIT_CSV_DIR"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level LogLevel `toml:"level" env:"VMI_LOG_LEVEL"`
	File  string   `toml:"file" env:"VMI_LOG_FILE"`
}

// LogLevel defines logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// DatabaseConfig controls SQLite database settings.
type DatabaseConfig struct {
	Path                string `toml:"path" env:"VMI_DB_PATH"`
	BackupIntervalHours int    `toml:"backup_interval_hours"`
	BackupRetentionDays int    `toml:"backup_retention_days"`
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}

	if err := c.Folders.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("folders: %w", err))
	}

	if err := c.Scheduler.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}

	if err := c.ERP.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("erp: %w", err))
	}

	if err := c.Output.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("output: %w", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	return errors.Join(errs...)
}

// Validate checks that the engine configuration is valid.
func (e *EngineConfig) Validate() error {
	var errs []error

	if e.PeriodBasis != PeriodBasisDueDate && e.PeriodBasis != PeriodBasisReceivedDate {
		errs = append(errs, fmt.Errorf("invalid period_basis: %s", e.PeriodBasis))
	}

	if _, err := e.Location(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Location resolves the configured timezone; empty means local time.
func (e *EngineConfig) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", e.Timezone, err)
	}
	return loc, nil
}

// Validate checks that the folder configuration is valid.
func (f *FoldersConfig) Validate() error {
	var errs []error

	if f.PO == "" {
		errs = append(errs, errors.New("po folder is required"))
	}
	if f.Output == "" {
		errs = append(errs, errors.New("output folder is required"))
	}

	return errors.Join(errs...)
}

// Validate checks that the scheduler configuration is valid.
func (s *SchedulerConfig) Validate() error {
	var errs []error

	if s.Hour < 0 || s.Hour > 23 {
		errs = append(errs, errors.New("hour must be between 0 and 23"))
	}
	if s.Minute < 0 || s.Minute > 59 {
		errs = append(errs, errors.New("minute must be between 0 and 59"))
	}
	if s.RetryDelayMinutes < 0 {
		errs = append(errs, errors.New("retry_delay_minutes must be non-negative"))
	}

	return errors.Join(errs...)
}

// Validate checks that the ERP configuration is valid.
func (e *ERPConfig) Validate() error {
	if !e.Configured() {
		return nil
	}

	var errs []error

	if e.Port < 0 || e.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", e.Port))
	}
	if e.Database == "" {
		errs = append(errs, errors.New("database is required when host is set"))
	}
	if e.QueryTimeoutSeconds < 0 {
		errs = append(errs, errors.New("query_timeout_seconds must be non-negative"))
	}

	switch strings.ToLower(e.Encrypt) {
	case "", "true", "false", "disable", "strict":
	default:
		errs = append(errs, fmt.Errorf("invalid encrypt mode: %s", e.Encrypt))
	}

	return errors.Join(errs...)
}

// Validate checks that the output configuration is valid.
func (o *OutputConfig) Validate() error {
	var errs []error

	if o.Plant == "" {
		errs = append(errs, errors.New("plant is required"))
	}
	if o.CustomerCode == "" {
		errs = append(errs, errors.New("customer_code is required"))
	}
	if o.StockLeadDays < 0 {
		errs = append(errs, errors.New("stock_lead_days must be non-negative"))
	}
	if o.PriceQty < 1 {
		errs = append(errs, errors.New("price_qty must be positive"))
	}

	for name, value := range map[string]string{
		"default_job_price":      o.DefaultJobPrice,
		"default_movement_price": o.DefaultMovementPrice,
	} {
		d, err := decimal.NewFromString(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", name, value, err))
			continue
		}
		if d.IsNegative() {
			errs = append(errs, fmt.Errorf("%s must be non-negative", name))
		}
	}

	return errors.Join(errs...)
}

// Validate checks that the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	validLevels := map[LogLevel]bool{
		LogLevelDebug: true,
		LogLevelInfo:  true,
		LogLevelWarn:  true,
		LogLevelError: true,
	}

	if !validLevels[l.Level] && l.Level != "" {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	return nil
}

// Validate checks that the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	var errs []error

	if d.Path == "" {
		errs = append(errs, errors.New("path is required"))
	}

	if d.BackupIntervalHours < 0 {
		errs = append(errs, errors.New("backup_interval_hours must be non-negative"))
	}

	if d.BackupRetentionDays < 0 {
		errs = append(errs, errors.New("backup_retention_days must be non-negative"))
	}

	return errors.Join(errs...)
}

// Default returns a configuration with sensible default values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			PeriodBasis: PeriodBasisDueDate,
			Timezone:    "America/New_York",
		},
		Folders: FoldersConfig{
			PO:              "inputs",
			Forecast:        "forecasts",
			Output:          "outputs/xml",
			DeleteProcessed: true,
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			Hour:              7,
			Minute:            0,
			RetryDelayMinutes: 60,
		},
		Forecast: ForecastConfig{
			SiteAliases: map[string]string{},
		},
		ERP: ERPConfig{
			Port:                1433,
			Encrypt:             "disable",
			AppName:             "vmibridge",
			QueryTimeoutSeconds: 30,
		},
		Output: OutputConfig{
			DTDURL:                  "http://www.fortdearborn.com/dtd/order-entry_1_1.dtd",
			Plant:                   "14",
			CustomerCode:            "SHER003",
			BaseAddress:             "12977",
			StockDeliveryAddress:    "13316",
			MovementDeliveryAddress: "16291",
			DeliveryMethod:          "TRK",
			StockLeadDays:           21,
			DefaultJobPrice:         "100.00",
			DefaultMovementPrice:    "50.00",
			PriceQty:                1000,
		},
		Audit: AuditConfig{
			CSVDir: "outputs/logs",
		},
		Logging: LoggingConfig{
			Level: LogLevelInfo,
			File:  "logs/vmibridge.log",
		},
		Database: DatabaseConfig{
			Path:                "vmibridge.db",
			BackupIntervalHours: 24,
			BackupRetentionDays: 30,
		},
	}
}
