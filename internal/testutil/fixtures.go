package testutil

import (
	"time"

	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/shopspring/decimal"
)

// FixtureDueDate is the due date used by fixture order lines.
var FixtureDueDate = time.Date(2025, time.November, 19, 0, 0, 0, 0, time.UTC)

// FixtureOrderLine creates an order line with sensible defaults.
func FixtureOrderLine(overrides ...func(*models.OrderLine)) models.OrderLine {
	line := models.OrderLine{
		Site:         "5901",
		PONumber:     "4500012345",
		LineNumber:   1,
		PartNumber:   "SW-1001",
		Quantity:     4000,
		UnitPrice:    decimal.RequireFromString("0.1850"),
		DueDate:      FixtureDueDate,
		ReceivedDate: FixtureDueDate.AddDate(0, 0, -7),
		SourceFile:   "PO_5901.txt",
	}

	for _, override := range overrides {
		override(&line)
	}

	return line
}

// FixtureForecastEntry creates a forecast entry in the fixture due date's period.
func FixtureForecastEntry(overrides ...func(*models.ForecastEntry)) models.ForecastEntry {
	entry := models.ForecastEntry{
		PartNumber:  "SW-1001",
		Description: "1 GAL LABEL",
		Site:        "5901",
		Period:      models.PeriodOf(FixtureDueDate),
		Quantity:    10000,
		AnnualTotal: 120000,
	}

	for _, override := range overrides {
		override(&entry)
	}

	return entry
}

// FixtureSnapshot creates a finished-goods inventory snapshot.
func FixtureSnapshot(onHand int64, overrides ...func(*models.InventorySnapshot)) *models.InventorySnapshot {
	snapshot := &models.InventorySnapshot{
		PartNumber: "SW-1001",
		Site:       "5901",
		ItemCode:   "MCC-SW-1001",
		OnHand:     onHand,
		PullType:   models.PullFinishedGoods,
		Location:   "FG-01",
	}

	for _, override := range overrides {
		override(snapshot)
	}

	return snapshot
}

// FixtureWIPSnapshot creates a work-in-progress snapshot backed by a job.
func FixtureWIPSnapshot(onHand int64, overrides ...func(*models.InventorySnapshot)) *models.InventorySnapshot {
	return FixtureSnapshot(onHand, append([]func(*models.InventorySnapshot){
		func(s *models.InventorySnapshot) {
			s.PullType = models.PullWorkInProgress
			s.JobNumber = "J-88120"
			s.JobRemaining = onHand
			s.Location = "WIP"
		},
	}, overrides...)...)
}
