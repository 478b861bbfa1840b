package models

import "testing"

func TestFulfillmentRecord_Variants(t *testing.T) {
	records := []FulfillmentRecord{
		&Movement{PartNumber: "L-1", Site: "45FL", Quantity: 4000},
		&RushJob{PartNumber: "L-1", Site: "45FL", Quantity: 1500},
		&StockJob{PartNumber: "L-2", Site: "618", Quantity: 3000},
	}

	wantKinds := []RecordKind{RecordMovement, RecordRushJob, RecordStockJob}
	wantQty := []int64{4000, 1500, 3000}

	for i, rec := range records {
		t.Run(string(wantKinds[i]), func(t *testing.T) {
			if rec.Kind() != wantKinds[i] {
				t.Errorf("Kind() = %s, want %s", rec.Kind(), wantKinds[i])
			}
			if rec.Qty() != wantQty[i] {
				t.Errorf("Qty() = %d, want %d", rec.Qty(), wantQty[i])
			}

			switch r := rec.(type) {
			case *Movement:
				if r.Part() != "L-1" || r.SiteCode() != "45FL" {
					t.Errorf("unexpected movement identity %s@%s", r.Part(), r.SiteCode())
				}
			case *RushJob, *StockJob:
			default:
				t.Errorf("unexpected variant %T", r)
			}
		})
	}
}

func TestInventorySnapshot_Available(t *testing.T) {
	tests := []struct {
		name string
		snap *InventorySnapshot
		want int64
	}{
		{"Nil snapshot", nil, 0},
		{"Positive on hand", &InventorySnapshot{OnHand: 4000}, 4000},
		{"Zero on hand", &InventorySnapshot{OnHand: 0}, 0},
		{"Negative on hand is clamped", &InventorySnapshot{OnHand: -20}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.Available(); got != tt.want {
				t.Errorf("Available() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPullType_Valid(t *testing.T) {
	if !PullFinishedGoods.Valid() || !PullWorkInProgress.Valid() {
		t.Error("expected FG and WIP to be valid")
	}
	if PullType("JOB").Valid() {
		t.Error("expected unknown pull type to be invalid")
	}
}

func TestAlert_Message(t *testing.T) {
	forecast := int64(3000)

	tests := []struct {
		name  string
		alert Alert
		want  string
	}{
		{
			"Exceeds known forecast",
			Alert{Kind: AlertExceedsForecast, Cumulative: 5500, ForecastQty: &forecast},
			"cumulative 5500 exceeds forecast 3000 by 2500",
		},
		{
			"No forecast entry",
			Alert{Kind: AlertExceedsForecast, PartNumber: "L-1", Period: "202511", Cumulative: 500},
			"no forecast for L-1 in 202511; cumulative 500",
		},
		{
			"No inventory",
			Alert{Kind: AlertNoInventory, PartNumber: "L-1"},
			"no inventory record for L-1",
		},
		{
			"Insufficient inventory",
			Alert{Kind: AlertInsufficientInventory, InventoryQty: 4000, OrderQty: 5500},
			"inventory 4000 short of order 5500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.alert.Message(); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}
