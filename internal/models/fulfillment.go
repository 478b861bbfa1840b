package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordKind discriminates the FulfillmentRecord variants.
type RecordKind string

const (
	RecordMovement RecordKind = "MOVEMENT"
	RecordRushJob  RecordKind = "RUSH_JOB"
	RecordStockJob RecordKind = "STOCK_JOB"
)

func (k RecordKind) String() string {
	return string(k)
}

// FulfillmentRecord is one of *Movement, *RushJob or *StockJob.
// Consumers dispatch with a type switch.
type FulfillmentRecord interface {
	Kind() RecordKind
	Part() string
	SiteCode() string
	Qty() int64
	fulfillment()
}

// Movement fulfils an order line from existing inventory. Quantity is exact.
type Movement struct {
	PartNumber   string
	Site         string
	Quantity     int64
	SourcePO     string
	LineNumber   int
	ReleaseOrder string
	ItemCode     string
	JobNumber    string
	PullType     PullType
	UnitPrice    decimal.Decimal
	DueDate      time.Time
}

// RushJob is emergency production covering an order-to-inventory shortfall.
// Quantity is rounded to the pack size.
type RushJob struct {
	PartNumber  string
	Site        string
	Quantity    int64
	GeneratedPO string
	Price       decimal.Decimal
	SourcePO    string
	LineNumber  int
	DueDate     time.Time
}

// StockJob is forecast-driven production not tied to an order line.
type StockJob struct {
	PartNumber  string
	Site        string
	Quantity    int64
	GeneratedPO string
	Price       decimal.Decimal
	Period      Period
}

func (m *Movement) Kind() RecordKind { return RecordMovement }
func (m *Movement) Part() string     { return m.PartNumber }
func (m *Movement) SiteCode() string { return m.Site }
func (m *Movement) Qty() int64       { return m.Quantity }
func (*Movement) fulfillment()       {}

func (r *RushJob) Kind() RecordKind { return RecordRushJob }
func (r *RushJob) Part() string     { return r.PartNumber }
func (r *RushJob) SiteCode() string { return r.Site }
func (r *RushJob) Qty() int64       { return r.Quantity }
func (*RushJob) fulfillment()       {}

func (s *StockJob) Kind() RecordKind { return RecordStockJob }
func (s *StockJob) Part() string     { return s.PartNumber }
func (s *StockJob) SiteCode() string { return s.Site }
func (s *StockJob) Qty() int64       { return s.Quantity }
func (*StockJob) fulfillment()       {}

// StagedRecord is a produced record waiting in (or drained from) the output outbox.
type StagedRecord struct {
	ID         string
	RunID      string
	Record     FulfillmentRecord
	CreatedAt  time.Time
	OutputFile string
	RenderedAt *time.Time
}
