// Package period classifies requested date ranges into weekly or monthly
// summary periods and decides whether a period is still accumulating.
package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/radiusdt/insights-cache/internal/models"
)

// weeklyMaxDays is the longest range still treated as a week.
const weeklyMaxDays = 7

// Range is an inclusive span of calendar days.
type Range struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar days covered, inclusive.
func (r Range) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

func (r Range) String() string {
	return r.Start.Format(time.DateOnly) + ".." + r.End.Format(time.DateOnly)
}

// Classification is the outcome of Classify.
type Classification struct {
	Type      models.SummaryType
	Key       time.Time
	IsCurrent bool
}

// Resolver classifies ranges against wall-clock time in a fixed location.
type Resolver struct {
	loc *time.Location
}

// NewResolver returns a Resolver evaluating calendar days in loc (UTC when nil).
func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

// Location returns the resolver's calendar location.
func (p *Resolver) Location() *time.Location { return p.loc }

// Today returns the calendar day of now.
func (p *Resolver) Today(now time.Time) time.Time {
	return Day(now.In(p.loc))
}

// Classify maps r to its period type, canonical key and currency at now.
func (p *Resolver) Classify(r Range, now time.Time) (Classification, error) {
	start, end := Day(r.Start), Day(r.End)
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return Classification{}, fmt.Errorf("%w: %s", models.ErrInvalidRange, r)
	}
	today := p.Today(now)

	c := Classification{Type: models.SummaryMonthly, Key: MonthlyKey(start)}
	if (Range{Start: start, End: end}).Days() <= weeklyMaxDays {
		c.Type = models.SummaryWeekly
		c.Key = WeeklyKey(start)
	}

	// A range naming the current period is only current when it actually
	// reaches today; one covering only already-closed days is historical.
	if !end.Before(today) {
		switch c.Type {
		case models.SummaryWeekly:
			sy, sw := start.ISOWeek()
			ty, tw := today.ISOWeek()
			c.IsCurrent = sy == ty && sw == tw
		case models.SummaryMonthly:
			c.IsCurrent = start.Year() == today.Year() && start.Month() == today.Month()
		}
	}
	return c, nil
}

// Current returns the range of the period of type t containing now.
func (p *Resolver) Current(t models.SummaryType, now time.Time) Range {
	return Bounds(t, p.Today(now))
}

// Previous returns the most recently closed period of type t at now.
func (p *Resolver) Previous(t models.SummaryType, now time.Time) Range {
	cur := p.Current(t, now)
	return Bounds(t, cur.Start.AddDate(0, 0, -1))
}

// Bounds returns the full period of type t containing d.
func Bounds(t models.SummaryType, d time.Time) Range {
	if t == models.SummaryWeekly {
		start := WeeklyKey(d)
		return Range{Start: start, End: start.AddDate(0, 0, 6)}
	}
	start := MonthlyKey(d)
	return Range{Start: start, End: start.AddDate(0, 1, -1)}
}

// WeeklyKey returns the Monday on or before d. It only walks backward, so
// weeks spanning a month or year boundary keep their earlier Monday.
func WeeklyKey(d time.Time) time.Time {
	d = Day(d)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// MonthlyKey returns the first day of d's month.
func MonthlyKey(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Day truncates t to its calendar day, expressed in UTC.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in month m of year y.
func DaysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseDate parses YYYY-MM-DD. A day past the end of its month is clamped to
// the last day rather than rolling into the next month.
func ParseDate(s string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: bad date %q", models.ErrInvalidRange, s)
	}
	y, errY := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	d, errD := strconv.Atoi(parts[2])
	if errY != nil || errM != nil || errD != nil || y < 1 || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, fmt.Errorf("%w: bad date %q", models.ErrInvalidRange, s)
	}
	if last := DaysIn(y, time.Month(m)); d > last {
		d = last
	}
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), nil
}

// ParseRange parses both ends of an inclusive range.
func ParseRange(from, to string) (Range, error) {
	start, err := ParseDate(from)
	if err != nil {
		return Range{}, err
	}
	end, err := ParseDate(to)
	if err != nil {
		return Range{}, err
	}
	if end.Before(start) {
		return Range{}, fmt.Errorf("%w: end %s before start %s", models.ErrInvalidRange, to, from)
	}
	return Range{Start: start, End: end}, nil
}
