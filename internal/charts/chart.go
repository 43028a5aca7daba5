// Package charts plans and issues the periodic graph renders: one request per
// chart and date range, each written to a path derived from a hash of the
// chart name and the range.
package charts

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Chart names understood by the R plotting code
const (
	NetworkSize = "networksize"
	Versions    = "versions"
	Platforms   = "platforms"
	Bandwidth   = "bandwidth"
	Uptime      = "uptime"
	GetTor      = "gettor"
	Torperf     = "torperf"
)

// KnownCharts lists every chart the plotting code has a line-plot function for
var KnownCharts = []string{NetworkSize, Versions, Platforms, Bandwidth, Uptime, GetTor, Torperf}

// DefaultWindows are the lookback windows rendered on every run, in days
var DefaultWindows = []int{30, 90, 180}

var ErrUnknownChart = errors.New("unknown chart")

// DateLayout is the one format used for dates in cache keys and render arguments
const DateLayout = "2006-01-02"

func KnownChart(name string) bool {
	for _, c := range KnownCharts {
		if c == name {
			return true
		}
	}
	return false
}

// FunctionName is the R function that renders chart as a line plot
func FunctionName(chart string) string {
	return "plot_" + chart + "_line"
}

// DateRange is an inclusive pair of calendar dates
type DateRange struct {
	Start time.Time
	End   time.Time
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate reads a YYYY-MM-DD date in the local time zone
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}

func (r DateRange) String() string {
	return FormatDate(r.Start) + ".." + FormatDate(r.End)
}

// Today truncates now to midnight in its own location
func Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// RangeFor returns [today - days, today] using calendar day arithmetic
func RangeFor(today time.Time, days int) DateRange {
	end := Today(today)
	return DateRange{Start: end.AddDate(0, 0, -days), End: end}
}

// YearRange covers one calendar year, cut off at today for the current year.
// ok is false for years that have not started yet.
func YearRange(today time.Time, year int) (r DateRange, ok bool) {
	end := Today(today)
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, end.Location())
	if start.After(end) {
		return DateRange{}, false
	}
	last := time.Date(year, time.December, 31, 0, 0, 0, 0, end.Location())
	if last.After(end) {
		last = end
	}
	return DateRange{Start: start, End: last}, true
}

// CacheKey is the hex md5 of "<chart>-<start>-<end>"
func CacheKey(chart string, r DateRange) string {
	sum := md5.Sum([]byte(chart + "-" + FormatDate(r.Start) + "-" + FormatDate(r.End)))
	return hex.EncodeToString(sum[:])
}

// CachePath is where the engine writes the PNG for chart over r
func CachePath(baseDir, chart string, r DateRange) string {
	return filepath.Join(baseDir, CacheKey(chart, r)+".png")
}

// Spec is one planned render
type Spec struct {
	Chart  string
	Range  DateRange
	Path   string
	Window int // lookback days, 0 for a year range
}

func (s Spec) String() string {
	if s.Window > 0 {
		return fmt.Sprintf("%s %s (%dd)", s.Chart, s.Range, s.Window)
	}
	return fmt.Sprintf("%s %s", s.Chart, s.Range)
}
