package forecast

import (
	"sort"

	"github.com/mccpackaging/vmibridge/internal/config"
	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/shopspring/decimal"
)

// Options relax how a lookup matches a forecast row. The zero value matches
// part, site and month exactly.
type Options struct {
	// SiteAliases maps a PO site code to the site used in the workbook.
	SiteAliases map[string]string
	// PartFallback uses the part's first row when its site does not match.
	PartFallback bool
	// AnnualFallback uses AnnualTotal/12 when the month bucket is empty.
	AnnualFallback bool
}

// OptionsFromConfig builds lookup options from the [forecast] section.
func OptionsFromConfig(cfg config.ForecastConfig) Options {
	return Options{
		SiteAliases:    cfg.SiteAliases,
		PartFallback:   cfg.PartFallback,
		AnnualFallback: cfg.AnnualFallback,
	}
}

type rowKey struct {
	part string
	site string
}

// Table is one parsed forecast workbook.
type Table struct {
	Source string
	Errors []*ParseError

	opts    Options
	rows    []Row
	index   map[rowKey]int
	byPart  map[string]int
	periods map[models.Period]struct{}
}

func newTable(source string, opts Options) *Table {
	return &Table{
		Source:  source,
		opts:    opts,
		index:   make(map[rowKey]int),
		byPart:  make(map[string]int),
		periods: make(map[models.Period]struct{}),
	}
}

func (t *Table) addPeriod(p models.Period) {
	t.periods[p] = struct{}{}
}

// add keeps the first row seen for a part and site.
func (t *Table) add(row Row) {
	key := rowKey{part: row.PartNumber, site: row.Site}
	if _, exists := t.index[key]; exists {
		return
	}
	t.rows = append(t.rows, row)
	t.index[key] = len(t.rows) - 1
	if _, exists := t.byPart[row.PartNumber]; !exists {
		t.byPart[row.PartNumber] = len(t.rows) - 1
	}
}

// Len returns the number of part/site rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Periods returns the month columns present in the workbook, oldest first.
func (t *Table) Periods() []models.Period {
	periods := make([]models.Period, 0, len(t.periods))
	for p := range t.periods {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })
	return periods
}

// Rows returns the parsed rows in workbook order.
func (t *Table) Rows() []Row {
	return t.rows
}

// Lookup returns the forecast for part at site in period, or nil when the
// workbook has no row for them. A row with an empty month yields a zero
// quantity unless the annual fallback applies.
func (t *Table) Lookup(part, site string, period models.Period) *models.ForecastEntry {
	if t == nil {
		return nil
	}

	if alias, ok := t.opts.SiteAliases[site]; ok && alias != "" {
		site = alias
	}

	idx, ok := t.index[rowKey{part: part, site: site}]
	if !ok && t.opts.PartFallback {
		idx, ok = t.byPart[part]
	}
	if !ok {
		return nil
	}

	row := t.rows[idx]
	qty, found := row.Months[period]
	if !found && t.opts.AnnualFallback && row.AnnualTotal > 0 {
		qty = decimal.NewFromInt(row.AnnualTotal).Div(decimal.NewFromInt(12)).Round(0).IntPart()
	}

	return &models.ForecastEntry{
		PartNumber:  row.PartNumber,
		Description: row.Description,
		Site:        row.Site,
		Period:      period,
		Quantity:    qty,
		AnnualTotal: row.AnnualTotal,
	}
}

// Entries flattens the table into one entry per row and non-empty month,
// ordered by row then period.
func (t *Table) Entries() []models.ForecastEntry {
	if t == nil {
		return nil
	}

	var entries []models.ForecastEntry
	periods := t.Periods()
	for _, row := range t.rows {
		for _, p := range periods {
			qty, ok := row.Months[p]
			if !ok {
				continue
			}
			entries = append(entries, models.ForecastEntry{
				PartNumber:  row.PartNumber,
				Description: row.Description,
				Site:        row.Site,
				Period:      p,
				Quantity:    qty,
				AnnualTotal: row.AnnualTotal,
			})
		}
	}
	return entries
}
