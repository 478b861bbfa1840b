package erp

import (
	"context"
	"errors"
	"testing"

	"github.com/mccpackaging/vmibridge/internal/models"
)

type fakeSource struct {
	fg        []InventoryRow
	wip       []InventoryRow
	jobs      []JobRow
	movements map[string][]MovementRow
	mapping   *ItemMapping
	err       error
}

func (f *fakeSource) FGInventory(context.Context, string, string) ([]InventoryRow, error) {
	return f.fg, f.err
}

func (f *fakeSource) WIPInventory(context.Context, string, string) ([]InventoryRow, error) {
	return f.wip, nil
}

func (f *fakeSource) OpenJobs(context.Context, string, string) ([]JobRow, error) {
	return f.jobs, nil
}

func (f *fakeSource) Movements(_ context.Context, job string) ([]MovementRow, error) {
	return f.movements[job], nil
}

func (f *fakeSource) ItemMapping(context.Context, string) (*ItemMapping, error) {
	return f.mapping, nil
}

func TestResolver_Lookup(t *testing.T) {
	fgRows := []InventoryRow{
		{ItemCode: "MCC-1", JobNumber: "J-FG", Quantity: 3000, Location: "FG-01"},
		{ItemCode: "MCC-1", JobNumber: "J-FG2", Quantity: 1000, Location: "FG-02"},
	}
	wipRows := []InventoryRow{{ItemCode: "MCC-1", JobNumber: "J-WIP", Quantity: 6000}}
	openJob := []JobRow{{JobNumber: "J-OPEN", ItemCode: "MCC-1", QuantityRemaining: 9000}}

	tests := []struct {
		name     string
		source   *fakeSource
		qty      int64
		wantNil  bool
		wantPull models.PullType
		wantOn   int64
		wantJob  string
		wantItem string
	}{
		{
			name:     "finished goods cover the order",
			source:   &fakeSource{fg: fgRows, wip: wipRows},
			qty:      4000,
			wantPull: models.PullFinishedGoods, wantOn: 4000, wantJob: "J-FG", wantItem: "MCC-1",
		},
		{
			name:     "WIP covers when finished goods do not",
			source:   &fakeSource{fg: fgRows, wip: wipRows},
			qty:      5000,
			wantPull: models.PullWorkInProgress, wantOn: 6000, wantJob: "J-WIP", wantItem: "MCC-1",
		},
		{
			name: "open job less committed movements covers",
			source: &fakeSource{
				fg:   fgRows,
				jobs: openJob,
				movements: map[string][]MovementRow{
					"J-OPEN": {{Quantity: 2000, Status: "ACTIVE"}, {Quantity: 5000, Status: "CLOSED"}},
				},
			},
			qty:      7000,
			wantPull: models.PullWorkInProgress, wantOn: 7000, wantJob: "J-OPEN", wantItem: "MCC-1",
		},
		{
			name: "committed movements can exhaust a job",
			source: &fakeSource{
				fg:   fgRows,
				jobs: openJob,
				movements: map[string][]MovementRow{
					"J-OPEN": {{Quantity: 4000, Status: "PENDING"}},
				},
			},
			qty:      7000,
			wantPull: models.PullFinishedGoods, wantOn: 4000, wantJob: "J-FG", wantItem: "MCC-1",
		},
		{
			name:     "larger partial source wins",
			source:   &fakeSource{fg: fgRows, wip: wipRows},
			qty:      10000,
			wantPull: models.PullWorkInProgress, wantOn: 6000, wantJob: "J-WIP", wantItem: "MCC-1",
		},
		{
			name: "finished goods win a tie",
			source: &fakeSource{
				fg:  []InventoryRow{{ItemCode: "MCC-1", Quantity: 500}},
				wip: []InventoryRow{{ItemCode: "MCC-1", Quantity: 500}},
			},
			qty:      1000,
			wantPull: models.PullFinishedGoods, wantOn: 500, wantItem: "MCC-1",
		},
		{
			name: "known part with nothing on hand resolves to zero",
			source: &fakeSource{
				fg:      []InventoryRow{{Quantity: 0}},
				mapping: &ItemMapping{ItemCode: "MCC-MAPPED"},
			},
			qty:      1000,
			wantPull: models.PullFinishedGoods, wantOn: 0, wantItem: "MCC-MAPPED",
		},
		{
			name:    "unknown part is absent",
			source:  &fakeSource{},
			qty:     1000,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := NewResolver(tt.source).Lookup(context.Background(), "SW-1001", "5901", tt.qty)
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if tt.wantNil {
				if snap != nil {
					t.Errorf("Lookup() = %+v, want nil", snap)
				}
				return
			}
			if snap == nil {
				t.Fatal("Lookup() = nil")
			}
			if snap.PullType != tt.wantPull {
				t.Errorf("PullType = %s, want %s", snap.PullType, tt.wantPull)
			}
			if snap.OnHand != tt.wantOn {
				t.Errorf("OnHand = %d, want %d", snap.OnHand, tt.wantOn)
			}
			if snap.JobNumber != tt.wantJob {
				t.Errorf("JobNumber = %q, want %q", snap.JobNumber, tt.wantJob)
			}
			if snap.ItemCode != tt.wantItem {
				t.Errorf("ItemCode = %q, want %q", snap.ItemCode, tt.wantItem)
			}
			if snap.PartNumber != "SW-1001" || snap.Site != "5901" {
				t.Errorf("identity = %s/%s", snap.PartNumber, snap.Site)
			}
		})
	}
}

func TestResolver_LookupError(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := NewResolver(&fakeSource{err: boom}).Lookup(context.Background(), "SW-1001", "5901", 100)
	if !errors.Is(err, boom) {
		t.Errorf("Lookup() error = %v, want wrapped %v", err, boom)
	}
}

func TestResolver_Offline(t *testing.T) {
	snap, err := NewResolver(Offline{}).Lookup(context.Background(), "SW-1001", "5901", 100)
	if err != nil || snap != nil {
		t.Errorf("offline Lookup() = %+v, %v, want nil, nil", snap, err)
	}
}
