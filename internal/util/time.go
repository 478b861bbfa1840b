package util

import (
	"fmt"
	"strconv"
	"time"
)

// Layouts shared by the order parser, the renderer and the activity log.
const (
	DateFormat     = time.DateOnly
	DateTimeFormat = time.DateTime

	// GeneratedPODateFormat is the date inside generated POs ("VMI 11.19.25 3").
	GeneratedPODateFormat = "01.02.06"

	// FileDateFormat and FileTimeFormat stamp output file names.
	FileDateFormat = "010206"
	FileTimeFormat = "150405"

	LongUSDateFormat  = "01/02/2006"
	ShortUSDateFormat = "1/2/2006"
)

// FormatDateTime renders t for the activity log.
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeFormat)
}

// ParseDate reads a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateFormat, s)
}

// ParseMMDDYY reads a six-digit MMDDYY date in loc. Two-digit years 00-49
// land in 2000-2049, 50-99 in 1950-1999.
func ParseMMDDYY(s string, loc *time.Location) (time.Time, error) {
	bad := fmt.Errorf("invalid MMDDYY date %q", s)
	if len(s) != 6 {
		return time.Time{}, bad
	}

	var parts [3]int
	for i := range parts {
		n, err := strconv.Atoi(s[2*i : 2*i+2])
		if err != nil || n < 0 {
			return time.Time{}, bad
		}
		parts[i] = n
	}
	month, day, year := parts[0], parts[1], parts[2]+1900
	if year < 1950 {
		year += 100
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, bad
	}
	return t, nil
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextDailyRun returns the first hour:minute strictly after now.
func NextDailyRun(now time.Time, hour, minute int) time.Time {
	y, m, d := now.Date()
	next := time.Date(y, m, d, hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
