// Package erp looks up inventory, open jobs and item codes in the plant's
// SQL Server ERP database.
//
// Every lookup runs a site-configured statement from [erp.queries]; the
// statements reference the named parameters @part_number, @site and
// @job_number and are matched to result columns by name.
package erp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb" // registers the sqlserver driver

	"github.com/mccpackaging/vmibridge/internal/config"
	"github.com/shopspring/decimal"
)

// InventoryRow is one finished-goods or WIP inventory row.
type InventoryRow struct {
	ItemCode  string
	JobNumber string
	Quantity  int64
	Location  string
}

// JobRow is one open production job.
type JobRow struct {
	JobNumber         string
	ItemCode          string
	PartNumber        string
	QuantityOrdered   int64
	QuantityProduced  int64
	QuantityRemaining int64
	Status            string
}

// MovementRow is one movement already booked against a job.
type MovementRow struct {
	MovementID string
	JobNumber  string
	Quantity   int64
	Status     string
}

// Committed reports whether the movement still holds job quantity.
func (m MovementRow) Committed() bool {
	switch strings.ToUpper(strings.TrimSpace(m.Status)) {
	case "ACTIVE", "PENDING", "OPEN":
		return true
	default:
		return false
	}
}

// ItemMapping maps a customer part number to the internal item code.
type ItemMapping struct {
	PartNumber  string
	ItemCode    string
	Description string
}

// Source answers the ERP lookups the resolver needs.
type Source interface {
	FGInventory(ctx context.Context, part, site string) ([]InventoryRow, error)
	WIPInventory(ctx context.Context, part, site string) ([]InventoryRow, error)
	OpenJobs(ctx context.Context, part, site string) ([]JobRow, error)
	Movements(ctx context.Context, jobNumber string) ([]MovementRow, error)
	ItemMapping(ctx context.Context, part string) (*ItemMapping, error)
}

// Client runs the configured statements against the ERP.
type Client struct {
	db      *sql.DB
	queries config.ERPQueries
	timeout time.Duration
}

// Open connects to the ERP described by cfg and verifies the connection.
func Open(ctx context.Context, cfg config.ERPConfig) (*Client, error) {
	db, err := sql.Open("sqlserver", ConnectionURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening ERP connection: %w", err)
	}

	c := NewClient(db, cfg.Queries, cfg.QueryTimeout())
	if err := c.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("ERP connected", "host", cfg.Host, "database", cfg.Database)
	return c, nil
}

// NewClient wraps an open database handle.
func NewClient(db *sql.DB, queries config.ERPQueries, timeout time.Duration) *Client {
	return &Client{db: db, queries: queries, timeout: timeout}
}

// ConnectionURL builds the sqlserver:// URL for cfg.
func ConnectionURL(cfg config.ERPConfig) string {
	query := url.Values{}
	query.Add("database", cfg.Database)

	if cfg.Encrypt != "" {
		query.Add("encrypt", strings.ToLower(cfg.Encrypt))
	}
	if cfg.AppName != "" {
		query.Add("app name", cfg.AppName)
	}
	if cfg.QueryTimeoutSeconds > 0 {
		query.Add("connection timeout", strconv.Itoa(cfg.QueryTimeoutSeconds))
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     cfg.Host,
		RawQuery: query.Encode(),
	}
	if cfg.Port > 0 {
		u.Host = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}
	if cfg.Instance != "" {
		u.Path = "/" + cfg.Instance
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}

	return u.String()
}

// Ping verifies the ERP is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ERP ping failed: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// FGInventory returns finished-goods rows for part at site.
func (c *Client) FGInventory(ctx context.Context, part, site string) ([]InventoryRow, error) {
	rows, err := c.query(ctx, "fg_inventory", c.queries.FGInventory, params{"part_number": part, "site": site})
	if err != nil {
		return nil, err
	}
	return inventoryRows(rows), nil
}

// WIPInventory returns work-in-progress rows for part at site.
func (c *Client) WIPInventory(ctx context.Context, part, site string) ([]InventoryRow, error) {
	rows, err := c.query(ctx, "wip_inventory", c.queries.WIPInventory, params{"part_number": part, "site": site})
	if err != nil {
		return nil, err
	}
	return inventoryRows(rows), nil
}

// OpenJobs returns open production jobs for part at site.
func (c *Client) OpenJobs(ctx context.Context, part, site string) ([]JobRow, error) {
	rows, err := c.query(ctx, "open_jobs", c.queries.OpenJobs, params{"part_number": part, "site": site})
	if err != nil {
		return nil, err
	}

	jobs := make([]JobRow, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, JobRow{
			JobNumber:         r.str("job_number"),
			ItemCode:          r.str("item_code"),
			PartNumber:        r.str("part_number"),
			QuantityOrdered:   r.quantity("quantity_ordered"),
			QuantityProduced:  r.quantity("quantity_produced"),
			QuantityRemaining: r.quantity("quantity_remaining"),
			Status:            r.str("status"),
		})
	}
	return jobs, nil
}

// Movements returns the movements booked against a job.
func (c *Client) Movements(ctx context.Context, jobNumber string) ([]MovementRow, error) {
	rows, err := c.query(ctx, "movements", c.queries.Movements, params{"job_number": jobNumber})
	if err != nil {
		return nil, err
	}

	movements := make([]MovementRow, 0, len(rows))
	for _, r := range rows {
		job := r.str("job_number")
		if job == "" {
			job = jobNumber
		}
		movements = append(movements, MovementRow{
			MovementID: r.str("movement_id"),
			JobNumber:  job,
			Quantity:   r.quantity("quantity"),
			Status:     r.str("status"),
		})
	}
	return movements, nil
}

// ItemMapping returns the first mapping row for part, or nil.
func (c *Client) ItemMapping(ctx context.Context, part string) (*ItemMapping, error) {
	rows, err := c.query(ctx, "item_mapping", c.queries.ItemMapping, params{"part_number": part})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	r := rows[0]
	m := &ItemMapping{
		PartNumber:  r.str("part_number"),
		ItemCode:    r.str("item_code"),
		Description: r.str("description"),
	}
	if m.PartNumber == "" {
		m.PartNumber = part
	}
	return m, nil
}

type params map[string]string

// row is one result row keyed by lower-cased column name.
type row map[string]any

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// query runs statement with the parameters it references. An empty statement
// is an unconfigured lookup and returns no rows.
func (c *Client) query(ctx context.Context, name, statement string, p params) ([]row, error) {
	if strings.TrimSpace(statement) == "" {
		return nil, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var args []any
	for key, value := range p {
		if strings.Contains(statement, "@"+key) {
			args = append(args, sql.Named(key, value))
		}
	}

	start := time.Now()
	rows, err := c.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("running %s query: %w", name, err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("reading %s rows: %w", name, err)
	}

	slog.Debug("ERP query", "query", name, "rows", len(result), "duration", time.Since(start))
	return result, nil
}

func scanRows(rows *sql.Rows) ([]row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		r := make(row, len(cols))
		for i, col := range cols {
			r[strings.ToLower(col)] = values[i]
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (r row) str(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return decimal.NewFromFloat(v).String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// quantity reads a quantity column; fractional quantities truncate.
func (r row) quantity(col string) int64 {
	switch v := r[col].(type) {
	case nil:
		return 0
	case int64:
		return v
	case int32:
		return int64(v)
	case float64:
		return decimal.NewFromFloat(v).IntPart()
	case []byte:
		return parseQuantity(string(v))
	case string:
		return parseQuantity(v)
	default:
		return 0
	}
}

func parseQuantity(s string) int64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d.IntPart()
}

func inventoryRows(rows []row) []InventoryRow {
	out := make([]InventoryRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, InventoryRow{
			ItemCode:  r.str("item_code"),
			JobNumber: r.str("job_number"),
			Quantity:  r.quantity("quantity"),
			Location:  r.str("location"),
		})
	}
	return out
}
