package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodIDRoundTrip(t *testing.T) {
	k := SummaryKey{
		ClientID:    "hotel-sol",
		Platform:    PlatformGoogle,
		SummaryType: SummaryWeekly,
		SummaryDate: time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "weekly:2026-10-12", k.PeriodID())
	assert.Equal(t, "hotel-sol:google:weekly:2026-10-12", k.String())

	st, d, err := ParsePeriodID(k.PeriodID())
	require.NoError(t, err)
	assert.Equal(t, SummaryWeekly, st)
	assert.True(t, d.Equal(k.SummaryDate))

	for _, bad := range []string{"", "weekly", "daily:2026-10-12", "monthly:2026-13-01"} {
		_, _, err := ParsePeriodID(bad)
		assert.Error(t, err, bad)
	}
}

func TestRoundedOnlyTouchesCurrency(t *testing.T) {
	s := &PeriodSummary{
		TotalSpend:         10.005001,
		AverageCTR:         3.14159,
		AverageCPC:         0.3333333,
		ReservationValue:   99.999,
		ROAS:               9.99441,
		CostPerReservation: 3.336,
		CampaignData: []CampaignInsight{
			{Spend: 1.111, FunnelMetrics: FunnelMetrics{ReservationValue: 2.225001}},
		},
	}
	r := s.Rounded()

	assert.Equal(t, 10.01, r.TotalSpend)
	assert.Equal(t, 0.33, r.AverageCPC)
	assert.Equal(t, 100.0, r.ReservationValue)
	assert.Equal(t, 3.34, r.CostPerReservation)
	assert.Equal(t, 1.11, r.CampaignData[0].Spend)
	assert.Equal(t, 2.23, r.CampaignData[0].ReservationValue)
	assert.Equal(t, 3.14159, r.AverageCTR)
	assert.Equal(t, 9.99441, r.ROAS)

	// the source is untouched
	assert.Equal(t, 1.111, s.CampaignData[0].Spend)
}

func TestCacheEntryFresh(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	e := &CacheEntry{LastUpdated: now.Add(-10 * time.Minute)}
	assert.True(t, e.Fresh(now, 30*time.Minute))
	assert.False(t, e.Fresh(now, 10*time.Minute))

	var missing *CacheEntry
	assert.False(t, missing.Fresh(now, time.Hour))
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform("meta")
	require.NoError(t, err)
	assert.Equal(t, PlatformMeta, p)

	_, err = ParsePlatform("tiktok")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestUpstreamFetchError(t *testing.T) {
	cause := errors.New("connection reset")
	var err error = &UpstreamFetchError{Platform: PlatformMeta, ClientID: "c1", Err: cause}

	assert.True(t, IsUpstream(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsUpstream(cause))
	assert.Contains(t, err.Error(), "c1/meta")
}

func TestParseAmount(t *testing.T) {
	assert.Equal(t, 12.5, ParseAmount(" 12.5 "))
	assert.Equal(t, 0.0, ParseAmount("abc"))
	assert.Equal(t, 0.0, ParseAmount("NaN"))
	assert.Equal(t, 0.0, ParseAmount("+Inf"))
	assert.Equal(t, 0.0, ParseAmount("-3"))
	assert.Equal(t, int64(3), ParseCount("2.6"))
}
