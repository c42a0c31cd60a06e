package models

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies an advertising platform.
type Platform string

const (
	PlatformMeta   Platform = "meta"
	PlatformGoogle Platform = "google"
)

// ParsePlatform validates a platform name.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(s); p {
	case PlatformMeta, PlatformGoogle:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, s)
	}
}

// SummaryType is the aggregation bucket of a PeriodSummary.
type SummaryType string

const (
	SummaryWeekly  SummaryType = "weekly"
	SummaryMonthly SummaryType = "monthly"
)

// SummaryKey is the uniqueness key of a persisted summary.
type SummaryKey struct {
	ClientID    string      `json:"client_id"`
	Platform    Platform    `json:"platform"`
	SummaryType SummaryType `json:"summary_type"`
	// SummaryDate is the period key: a Monday for weekly, the 1st for monthly.
	SummaryDate time.Time `json:"summary_date"`
}

// PeriodID is the cache-level identifier of the period, e.g. "weekly:2026-10-12".
func (k SummaryKey) PeriodID() string {
	return string(k.SummaryType) + ":" + k.SummaryDate.Format(time.DateOnly)
}

// ParsePeriodID is the inverse of SummaryKey.PeriodID.
func ParsePeriodID(id string) (SummaryType, time.Time, error) {
	t, d, ok := strings.Cut(id, ":")
	if !ok {
		return "", time.Time{}, fmt.Errorf("malformed period id %q", id)
	}
	st := SummaryType(t)
	if st != SummaryWeekly && st != SummaryMonthly {
		return "", time.Time{}, fmt.Errorf("malformed period id %q", id)
	}
	date, err := time.Parse(time.DateOnly, d)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("malformed period id %q: %w", id, err)
	}
	return st, date, nil
}

func (k SummaryKey) String() string {
	return k.ClientID + ":" + string(k.Platform) + ":" + k.PeriodID()
}

// ===========================================
// PERIOD SUMMARY
// ===========================================

// PeriodSummary is the persisted per-period aggregate.
type PeriodSummary struct {
	ClientID    string      `json:"client_id"`
	Platform    Platform    `json:"platform"`
	SummaryType SummaryType `json:"summary_type"`
	SummaryDate time.Time   `json:"summary_date"`

	TotalSpend       float64 `json:"total_spend"`
	TotalImpressions int64   `json:"total_impressions"`
	TotalClicks      int64   `json:"total_clicks"`
	TotalConversions int64   `json:"total_conversions"`
	AverageCTR       float64 `json:"average_ctr"`
	AverageCPC       float64 `json:"average_cpc"`

	ClickToCall      int64   `json:"click_to_call"`
	EmailContacts    int64   `json:"email_contacts"`
	BookingStep1     int64   `json:"booking_step_1"`
	BookingStep2     int64   `json:"booking_step_2"`
	BookingStep3     int64   `json:"booking_step_3"`
	Reservations     int64   `json:"reservations"`
	ReservationValue float64 `json:"reservation_value"`

	ROAS               float64 `json:"roas"`
	CostPerReservation float64 `json:"cost_per_reservation"`

	CampaignData []CampaignInsight `json:"campaign_data"`
	LastUpdated  time.Time         `json:"last_updated"`
}

// Key returns the uniqueness key of the summary.
func (s *PeriodSummary) Key() SummaryKey {
	return SummaryKey{
		ClientID:    s.ClientID,
		Platform:    s.Platform,
		SummaryType: s.SummaryType,
		SummaryDate: s.SummaryDate,
	}
}

// SetKey stamps the identifying fields.
func (s *PeriodSummary) SetKey(k SummaryKey) {
	s.ClientID = k.ClientID
	s.Platform = k.Platform
	s.SummaryType = k.SummaryType
	s.SummaryDate = k.SummaryDate
}

// Rounded returns a deep copy with currency fields rounded to cents.
// Rounding happens here, at persistence, never while accumulating.
func (s *PeriodSummary) Rounded() *PeriodSummary {
	out := s.Clone()
	out.TotalSpend = Round2(out.TotalSpend)
	out.AverageCPC = Round2(out.AverageCPC)
	out.ReservationValue = Round2(out.ReservationValue)
	out.CostPerReservation = Round2(out.CostPerReservation)
	for i := range out.CampaignData {
		out.CampaignData[i].Spend = Round2(out.CampaignData[i].Spend)
		out.CampaignData[i].ReservationValue = Round2(out.CampaignData[i].ReservationValue)
	}
	return out
}

// Clone returns a deep copy; callers never share campaign slices.
func (s *PeriodSummary) Clone() *PeriodSummary {
	if s == nil {
		return nil
	}
	cp := *s
	if s.CampaignData != nil {
		cp.CampaignData = make([]CampaignInsight, len(s.CampaignData))
		copy(cp.CampaignData, s.CampaignData)
	}
	return &cp
}

// ===========================================
// CACHE ENTRY
// ===========================================

// CacheEntry is the short-lived snapshot of a still-open period.
type CacheEntry struct {
	ClientID        string        `json:"client_id"`
	Platform        Platform      `json:"platform"`
	PeriodID        string        `json:"period_id"`
	Data            PeriodSummary `json:"cache_data"`
	LastUpdated     time.Time     `json:"last_updated"`
	FetchInProgress bool          `json:"fetch_in_progress"`
	// Attempt and StartedAt identify the fetch that produced Data.
	Attempt   uint64    `json:"attempt"`
	StartedAt time.Time `json:"started_at"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (e *CacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return e != nil && now.Sub(e.LastUpdated) < ttl
}
