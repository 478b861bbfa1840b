package models

// ForecastEntry is the forecast for one part at one site in one month.
type ForecastEntry struct {
	PartNumber  string
	Description string
	Site        string
	Period      Period
	Quantity    int64
	AnnualTotal int64
}

// Bucket returns the consumption bucket this entry is compared against.
func (f ForecastEntry) Bucket() BucketKey {
	return BucketKey{PartNumber: f.PartNumber, Site: f.Site, Period: f.Period}
}
