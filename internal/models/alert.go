package models

import "fmt"

// AlertKind classifies an informational alert.
type AlertKind string

const (
	AlertExceedsForecast       AlertKind = "EXCEEDS_FORECAST"
	AlertNoInventory           AlertKind = "NO_INVENTORY"
	AlertInsufficientInventory AlertKind = "INSUFFICIENT_INVENTORY"
)

func (k AlertKind) String() string {
	return string(k)
}

// Alert never blocks record generation.
type Alert struct {
	Kind         AlertKind
	PartNumber   string
	Site         string
	Period       Period
	SourcePO     string
	OrderQty     int64
	ForecastQty  *int64 // nil when no forecast entry exists
	InventoryQty int64
	Cumulative   int64
}

// Message renders a one-line description for logs and the activity feed.
func (a Alert) Message() string {
	switch a.Kind {
	case AlertExceedsForecast:
		if a.ForecastQty == nil {
			return fmt.Sprintf("no forecast for %s in %s; cumulative %d", a.PartNumber, a.Period, a.Cumulative)
		}
		return fmt.Sprintf("cumulative %d exceeds forecast %d by %d", a.Cumulative, *a.ForecastQty, a.Cumulative-*a.ForecastQty)
	case AlertNoInventory:
		return fmt.Sprintf("no inventory record for %s", a.PartNumber)
	case AlertInsufficientInventory:
		return fmt.Sprintf("inventory %d short of order %d", a.InventoryQty, a.OrderQty)
	default:
		return string(a.Kind)
	}
}
