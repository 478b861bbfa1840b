package forecast

import (
	"testing"

	"github.com/mccpackaging/vmibridge/internal/config"
	"github.com/mccpackaging/vmibridge/internal/models"
)

func buildTable(opts Options) *Table {
	t := newTable("test.xlsx", opts)
	t.addPeriod("202511")
	t.addPeriod("202512")
	t.add(Row{
		PartNumber:  "SW-1001",
		Site:        "618",
		AnnualTotal: 120000,
		Months:      map[models.Period]int64{"202511": 10000},
	})
	t.add(Row{
		PartNumber: "SW-1001",
		Site:       "5901",
		Months:     map[models.Period]int64{"202511": 4000, "202512": 4500},
	})
	t.add(Row{
		PartNumber: "SW-1001",
		Site:       "618",
		Months:     map[models.Period]int64{"202511": 1},
	})
	return t
}

func TestTable_Lookup(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		part   string
		site   string
		period models.Period
		want   *int64
	}{
		{name: "exact match", part: "SW-1001", site: "5901", period: "202512", want: ptr(4500)},
		{name: "first row wins for duplicate part and site", part: "SW-1001", site: "618", period: "202511", want: ptr(10000)},
		{name: "unknown site is absent by default", part: "SW-1001", site: "45FL", period: "202511", want: nil},
		{name: "unknown part is absent", part: "SW-9999", site: "5901", period: "202511", want: nil},
		{name: "empty month is zero by default", part: "SW-1001", site: "618", period: "202512", want: ptr(0)},
		{
			name: "site alias maps the PO site",
			opts: Options{SiteAliases: map[string]string{"45FL": "5901"}},
			part: "SW-1001", site: "45FL", period: "202511", want: ptr(4000),
		},
		{
			name: "part fallback uses the first row for the part",
			opts: Options{PartFallback: true},
			part: "SW-1001", site: "45FL", period: "202511", want: ptr(10000),
		},
		{
			name: "annual fallback fills an empty month",
			opts: Options{AnnualFallback: true},
			part: "SW-1001", site: "618", period: "202512", want: ptr(10000),
		},
		{
			name: "annual fallback needs an annual total",
			opts: Options{AnnualFallback: true},
			part: "SW-1001", site: "5901", period: "202601", want: ptr(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := buildTable(tt.opts).Lookup(tt.part, tt.site, tt.period)
			if tt.want == nil {
				if entry != nil {
					t.Errorf("Lookup() = %+v, want nil", entry)
				}
				return
			}
			if entry == nil {
				t.Fatalf("Lookup() = nil, want quantity %d", *tt.want)
			}
			if entry.Quantity != *tt.want {
				t.Errorf("Quantity = %d, want %d", entry.Quantity, *tt.want)
			}
			if entry.Period != tt.period {
				t.Errorf("Period = %s, want %s", entry.Period, tt.period)
			}
		})
	}
}

func TestTable_NilLookup(t *testing.T) {
	var table *Table
	if entry := table.Lookup("SW-1001", "5901", "202511"); entry != nil {
		t.Errorf("nil table Lookup() = %+v, want nil", entry)
	}
	if entries := table.Entries(); entries != nil {
		t.Errorf("nil table Entries() = %v, want nil", entries)
	}
}

func TestTable_Entries(t *testing.T) {
	entries := buildTable(Options{}).Entries()

	want := []struct {
		site   string
		period models.Period
		qty    int64
	}{
		{"618", "202511", 10000},
		{"5901", "202511", 4000},
		{"5901", "202512", 4500},
	}

	if len(entries) != len(want) {
		t.Fatalf("Entries() returned %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		e := entries[i]
		if e.Site != w.site || e.Period != w.period || e.Quantity != w.qty {
			t.Errorf("entry %d = %+v, want %+v", i, e, w)
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.ForecastConfig{
		PartFallback:   true,
		AnnualFallback: true,
		SiteAliases:    map[string]string{"45FL": "618"},
	})

	if !opts.PartFallback || !opts.AnnualFallback || opts.SiteAliases["45FL"] != "618" {
		t.Errorf("OptionsFromConfig() = %+v", opts)
	}
}

func ptr(v int64) *int64 {
	return &v
}
