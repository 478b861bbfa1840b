// Package forecast reads the customer's 52-week forecast workbook and answers
// per-part, per-site, per-month forecast lookups.
package forecast

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const headerSearchRows = 5

var (
	monthHeaderRe = regexp.MustCompile(`^(\d{6})(\.0+)?$`)
	minMonthValue = decimal.RequireFromString("0.01")
)

// ParseError describes one worksheet row that could not be read.
type ParseError struct {
	Row    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// Row is one part/site line of the forecast.
type Row struct {
	PartNumber  string
	Description string
	Site        string
	AnnualTotal int64
	Months      map[models.Period]int64
}

type columns struct {
	part        int
	description int
	site        int
	annual      int
	months      map[int]models.Period
}

// ParseFile reads the first worksheet of the workbook at path.
func ParseFile(path string, opts Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening forecast workbook: %w", err)
	}
	defer f.Close()

	return Parse(f, filepath.Base(path), opts)
}

// Parse reads a forecast workbook. Rows that cannot be read are collected in
// Table.Errors; a workbook without a recognisable header is an error.
func Parse(r io.Reader, source string, opts Options) (*Table, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading forecast workbook %s: %w", source, err)
	}
	defer wb.Close()

	sheet := wb.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("forecast workbook %s has no worksheets", source)
	}

	rows, err := wb.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	headerIdx := findHeaderRow(rows)
	if headerIdx < 0 {
		return nil, fmt.Errorf("forecast workbook %s: no header row with a Part # column in the first %d rows", source, headerSearchRows)
	}

	cols := detectColumns(rows[headerIdx])
	if cols.part < 0 {
		return nil, fmt.Errorf("forecast workbook %s: part column not found", source)
	}
	if cols.site < 0 {
		return nil, fmt.Errorf("forecast workbook %s: site column not found", source)
	}

	table := newTable(source, opts)
	for _, period := range cols.months {
		table.addPeriod(period)
	}

	for i := headerIdx + 1; i < len(rows); i++ {
		rowNum := i + 1
		row, perr := parseRow(rows[i], cols, rowNum)
		if perr != nil {
			table.Errors = append(table.Errors, perr)
			continue
		}
		if row == nil {
			continue
		}
		table.add(*row)
	}

	return table, nil
}

func findHeaderRow(rows [][]string) int {
	for i := 0; i < len(rows) && i < headerSearchRows; i++ {
		for _, cell := range rows[i] {
			if strings.Contains(cell, "Part #") {
				return i
			}
		}
	}
	return -1
}

func detectColumns(header []string) columns {
	cols := columns{part: -1, description: -1, site: -1, annual: -1, months: map[int]models.Period{}}

	for i, raw := range header {
		cell := strings.TrimSpace(raw)
		switch {
		case cell == "":
			continue
		case strings.Contains(cell, "Part #"):
			if cols.part < 0 {
				cols.part = i
			}
		case strings.Contains(cell, "Description"):
			if cols.description < 0 {
				cols.description = i
			}
		case strings.Contains(cell, "Site"):
			if cols.site < 0 {
				cols.site = i
			}
		case strings.Contains(cell, "52wk") || strings.Contains(cell, "Sum"):
			if cols.annual < 0 {
				cols.annual = i
			}
		default:
			m := monthHeaderRe.FindStringSubmatch(cell)
			if m == nil {
				continue
			}
			if period, err := models.ParsePeriod(m[1]); err == nil {
				cols.months[i] = period
			}
		}
	}

	return cols
}

// parseRow returns nil, nil for rows without a part number.
func parseRow(cells []string, cols columns, rowNum int) (*Row, *ParseError) {
	part := cellAt(cells, cols.part)
	if part == "" {
		return nil, nil
	}

	site := normaliseSite(cellAt(cells, cols.site))
	if site == "" {
		return nil, &ParseError{Row: rowNum, Reason: fmt.Sprintf("part %s has no site", part)}
	}

	row := &Row{
		PartNumber:  part,
		Description: cellAt(cells, cols.description),
		Site:        site,
		Months:      make(map[models.Period]int64, len(cols.months)),
	}

	if raw := cellAt(cells, cols.annual); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, &ParseError{Row: rowNum, Reason: fmt.Sprintf("invalid annual total %q", raw)}
		}
		row.AnnualTotal = roundUnits(v)
	}

	for idx, period := range cols.months {
		raw := cellAt(cells, idx)
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, &ParseError{Row: rowNum, Reason: fmt.Sprintf("invalid quantity %q for %s", raw, period)}
		}
		if v.LessThanOrEqual(minMonthValue) {
			continue
		}
		row.Months[period] = roundUnits(v)
	}

	return row, nil
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

// normaliseSite turns numeric site cells such as "618.0" into "618".
func normaliseSite(s string) string {
	if s == "" {
		return ""
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.Equal(d.Truncate(0)) {
		return s
	}
	return d.Truncate(0).String()
}

// roundUnits rounds half-up to whole units.
func roundUnits(v decimal.Decimal) int64 {
	return v.Round(0).IntPart()
}
