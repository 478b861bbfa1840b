// Package models holds the domain types shared by the ingest, engine and output layers.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LineKey identifies one purchase-order detail line across all runs.
type LineKey struct {
	Site       string
	PONumber   string
	LineNumber int
}

func (k LineKey) String() string {
	return fmt.Sprintf("%s/%s/%03d", k.Site, k.PONumber, k.LineNumber)
}

// Validate checks that every component of the key is present.
func (k LineKey) Validate() error {
	var errs []error

	if strings.TrimSpace(k.Site) == "" {
		errs = append(errs, errors.New("site is required"))
	}
	if strings.TrimSpace(k.PONumber) == "" {
		errs = append(errs, errors.New("po number is required"))
	}
	if k.LineNumber < 1 {
		errs = append(errs, fmt.Errorf("line number must be positive, got %d", k.LineNumber))
	}

	return errors.Join(errs...)
}

// OrderLine is one customer purchase-order detail line.
type OrderLine struct {
	Site         string
	PONumber     string
	LineNumber   int
	PartNumber   string
	Quantity     int64
	UnitPrice    decimal.Decimal // per each, as supplied on the PO
	DueDate      time.Time
	ReceivedDate time.Time // from the PO header; zero when unknown
	SourceFile   string
}

// Key returns the line's identity key.
func (l OrderLine) Key() LineKey {
	return LineKey{Site: l.Site, PONumber: l.PONumber, LineNumber: l.LineNumber}
}

// Validate checks the identity key, part number and quantity.
func (l OrderLine) Validate() error {
	var errs []error

	if err := l.Key().Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(l.PartNumber) == "" {
		errs = append(errs, errors.New("part number is required"))
	}
	if l.Quantity <= 0 {
		errs = append(errs, fmt.Errorf("quantity must be positive, got %d", l.Quantity))
	}

	return errors.Join(errs...)
}

// Period is a forecast bucket key in YYYYMM form.
type Period string

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period(t.Format("200601"))
}

// ParsePeriod validates a YYYYMM string.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse("200601", s); err != nil || len(s) != 6 {
		return "", fmt.Errorf("invalid period %q (expected YYYYMM)", s)
	}
	return Period(s), nil
}

func (p Period) String() string {
	return string(p)
}

// Start returns the first day of the period in the given location.
func (p Period) Start(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("200601", string(p), loc)
}

// BucketKey identifies one consumption bucket.
type BucketKey struct {
	PartNumber string
	Site       string
	Period     Period
}

// ConsumptionBucket is the running total of order quantity for one part, site and period.
type ConsumptionBucket struct {
	Key       BucketKey
	Consumed  int64
	LineCount int
	UpdatedAt time.Time
}
