package period

import (
	"errors"
	"testing"
	"time"

	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func rng(from, to string) Range { return Range{Start: date(from), End: date(to)} }

func TestWeeklyKeyIsMondayNotAfterDay(t *testing.T) {
	d := date("2019-12-01")
	for i := 0; i < 3*366; i++ {
		k := WeeklyKey(d)
		require.Equal(t, time.Monday, k.Weekday(), d)
		require.False(t, k.After(d), d)
		require.True(t, d.Sub(k) < 7*24*time.Hour, d)
		d = d.AddDate(0, 0, 1)
	}
}

func TestWeeklyKeyAcrossYearBoundary(t *testing.T) {
	// 2021-01-01 is a Friday in ISO week 53 of 2020.
	assert.Equal(t, date("2020-12-28"), WeeklyKey(date("2021-01-01")))
	assert.Equal(t, date("2025-12-29"), WeeklyKey(date("2026-01-01")))
	assert.Equal(t, date("2024-12-30"), WeeklyKey(date("2025-01-05")))
}

func TestMonthlyKey(t *testing.T) {
	assert.Equal(t, date("2024-02-01"), MonthlyKey(date("2024-02-29")))
	assert.Equal(t, date("2026-10-01"), MonthlyKey(date("2026-10-31")))
}

func TestParseDateClampsMonthEnd(t *testing.T) {
	d, err := ParseDate("2024-04-31")
	require.NoError(t, err)
	assert.Equal(t, date("2024-04-30"), d)

	d, err = ParseDate("2023-02-29")
	require.NoError(t, err)
	assert.Equal(t, date("2023-02-28"), d)

	d, err = ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, date("2024-02-29"), d)

	for _, bad := range []string{"2024-13-01", "2024-00-10", "2024-01-32", "yesterday", "2024/01/01"} {
		_, err := ParseDate(bad)
		assert.True(t, errors.Is(err, models.ErrInvalidRange), bad)
	}
}

func TestParseRangeRejectsInverted(t *testing.T) {
	_, err := ParseRange("2024-03-10", "2024-03-01")
	assert.ErrorIs(t, err, models.ErrInvalidRange)
}

func TestClassifyLeapFebruary(t *testing.T) {
	p := NewResolver(nil)
	now := date("2026-10-15").Add(10 * time.Hour)

	c, err := p.Classify(rng("2024-02-01", "2024-02-29"), now)
	require.NoError(t, err)
	assert.Equal(t, models.SummaryMonthly, c.Type)
	assert.Equal(t, date("2024-02-01"), c.Key)
	assert.False(t, c.IsCurrent)

	c, err = p.Classify(rng("2024-02-26", "2024-03-03"), now)
	require.NoError(t, err)
	assert.Equal(t, models.SummaryWeekly, c.Type)
	assert.Equal(t, date("2024-02-26"), c.Key)
}

func TestClassifyCurrentMonth(t *testing.T) {
	p := NewResolver(nil)
	now := date("2026-10-15").Add(10 * time.Hour)

	c, err := p.Classify(rng("2026-10-01", "2026-10-31"), now)
	require.NoError(t, err)
	assert.True(t, c.IsCurrent)
	assert.Equal(t, date("2026-10-01"), c.Key)

	c, err = p.Classify(rng("2026-10-01", "2026-10-15"), now)
	require.NoError(t, err)
	assert.True(t, c.IsCurrent, "range ending today is still accumulating")
}

func TestClassifySameMonthClosedDaysIsHistorical(t *testing.T) {
	p := NewResolver(nil)
	now := date("2026-10-15").Add(10 * time.Hour)

	c, err := p.Classify(rng("2026-10-01", "2026-10-10"), now)
	require.NoError(t, err)
	assert.Equal(t, models.SummaryMonthly, c.Type)
	assert.False(t, c.IsCurrent)
}

func TestClassifyCurrentWeek(t *testing.T) {
	p := NewResolver(nil)
	now := date("2026-10-15").Add(10 * time.Hour) // Thursday

	c, err := p.Classify(rng("2026-10-12", "2026-10-18"), now)
	require.NoError(t, err)
	assert.Equal(t, models.SummaryWeekly, c.Type)
	assert.Equal(t, date("2026-10-12"), c.Key)
	assert.True(t, c.IsCurrent)

	c, err = p.Classify(rng("2026-10-05", "2026-10-11"), now)
	require.NoError(t, err)
	assert.False(t, c.IsCurrent)
}

func TestClassifyWeekAcrossYearBoundaryIsCurrent(t *testing.T) {
	p := NewResolver(nil)
	now := date("2026-01-01").Add(9 * time.Hour)

	c, err := p.Classify(rng("2025-12-29", "2026-01-04"), now)
	require.NoError(t, err)
	assert.Equal(t, models.SummaryWeekly, c.Type)
	assert.Equal(t, date("2025-12-29"), c.Key)
	assert.True(t, c.IsCurrent)
}

func TestClassifyUsesResolverLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	p := NewResolver(loc)
	// 02:00 UTC on Nov 1 is still Oct 31 in UTC-5.
	now := time.Date(2026, 11, 1, 2, 0, 0, 0, time.UTC)

	c, err := p.Classify(rng("2026-10-01", "2026-10-31"), now)
	require.NoError(t, err)
	assert.True(t, c.IsCurrent)
}

func TestClassifyInvalid(t *testing.T) {
	p := NewResolver(nil)
	_, err := p.Classify(rng("2026-10-10", "2026-10-01"), time.Now())
	assert.ErrorIs(t, err, models.ErrInvalidRange)
	_, err = p.Classify(Range{}, time.Now())
	assert.ErrorIs(t, err, models.ErrInvalidRange)
}

func TestPreviousAndBounds(t *testing.T) {
	p := NewResolver(nil)
	now := date("2026-03-02").Add(time.Hour) // Monday

	w := p.Previous(models.SummaryWeekly, now)
	assert.Equal(t, rng("2026-02-23", "2026-03-01"), w)

	m := p.Previous(models.SummaryMonthly, now)
	assert.Equal(t, rng("2026-02-01", "2026-02-28"), m)

	assert.Equal(t, rng("2024-02-01", "2024-02-29"), Bounds(models.SummaryMonthly, date("2024-02-10")))
	assert.Equal(t, 29, DaysIn(2024, time.February))
}
