package matcher

import (
	"regexp"
	"time"

	"github.com/pkittenis/cronify/internal/config"
)

const datestampLayout = "20060102"

var datestampRe = regexp.MustCompile(`\d{8}`)

// Datestamp is a calendar date with no time or zone.
type Datestamp struct {
	Year  int
	Month time.Month
	Day   int
}

// DatestampOf returns the date of t in t's own location.
func DatestampOf(t time.Time) Datestamp {
	y, m, d := t.Date()
	return Datestamp{Year: y, Month: m, Day: d}
}

// ParseDatestamp finds the first run of eight digits in name and parses it
// as YYYYMMDD. It reports false when there is no run or it is not a valid
// calendar date.
func ParseDatestamp(name string) (Datestamp, bool) {
	digits := datestampRe.FindString(name)
	if digits == "" {
		return Datestamp{}, false
	}
	t, err := time.Parse(datestampLayout, digits)
	if err != nil {
		return Datestamp{}, false
	}
	return DatestampOf(t), true
}

// ResolveDatestamp returns the date embedded in name, falling back to the
// date of modTime. It never fails.
func ResolveDatestamp(name string, modTime time.Time) (Datestamp, bool) {
	if ds, ok := ParseDatestamp(name); ok {
		return ds, true
	}
	return DatestampOf(modTime), false
}

// String formats the date as YYYYMMDD.
func (d Datestamp) String() string {
	return d.At(config.TimeOfDay{}, time.UTC).Format(datestampLayout)
}

// At anchors a time of day on this date in loc.
func (d Datestamp) At(tod config.TimeOfDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, tod.Hour, tod.Minute, tod.Second, 0, loc)
}
