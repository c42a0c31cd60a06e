package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ===========================================
// RAW PLATFORM DATA
// ===========================================

// RawAction is one entry of a platform's actions / action_values arrays.
// Value is kept as the platform sent it; counts and currency both arrive as strings.
type RawAction struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}

// UnmarshalJSON accepts value as a string or a bare number. Any other shape
// leaves Value empty, which parses as zero.
func (a *RawAction) UnmarshalJSON(b []byte) error {
	var aux struct {
		ActionType LenientValue `json:"action_type"`
		Value      LenientValue `json:"value"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	a.ActionType, a.Value = string(aux.ActionType), string(aux.Value)
	return nil
}

// LenientValue decodes a JSON string or number as its text. null, booleans,
// objects and arrays decode to "".
type LenientValue string

func (v *LenientValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*v = ""
	if len(b) == 0 {
		return nil
	}
	if b[0] == '"' {
		var s string
		if json.Unmarshal(b, &s) == nil {
			*v = LenientValue(s)
		}
		return nil
	}
	var n json.Number
	if json.Unmarshal(b, &n) == nil {
		*v = LenientValue(n.String())
	}
	return nil
}

// RawInsight is one campaign row as returned by an ad-platform client.
// Numeric fields are untrusted strings.
type RawInsight struct {
	CampaignID   string      `json:"campaign_id"`
	CampaignName string      `json:"campaign_name"`
	Spend        string      `json:"spend"`
	Impressions  string      `json:"impressions"`
	Clicks       string      `json:"clicks"`
	Conversions  string      `json:"conversions,omitempty"`
	Actions      []RawAction `json:"actions,omitempty"`
	ActionValues []RawAction `json:"action_values,omitempty"`
}

// ===========================================
// CANONICAL FUNNEL
// ===========================================

// FunnelMetrics is the canonical per-campaign funnel.
type FunnelMetrics struct {
	BookingStep1     int64   `json:"booking_step_1"`
	BookingStep2     int64   `json:"booking_step_2"`
	BookingStep3     int64   `json:"booking_step_3"`
	Reservations     int64   `json:"reservations"`
	ReservationValue float64 `json:"reservation_value"`
	ClickToCall      int64   `json:"click_to_call"`
	EmailContacts    int64   `json:"email_contacts"`
}

// Add returns the field-wise sum of f and o.
func (f FunnelMetrics) Add(o FunnelMetrics) FunnelMetrics {
	return FunnelMetrics{
		BookingStep1:     f.BookingStep1 + o.BookingStep1,
		BookingStep2:     f.BookingStep2 + o.BookingStep2,
		BookingStep3:     f.BookingStep3 + o.BookingStep3,
		Reservations:     f.Reservations + o.Reservations,
		ReservationValue: f.ReservationValue + o.ReservationValue,
		ClickToCall:      f.ClickToCall + o.ClickToCall,
		EmailContacts:    f.EmailContacts + o.EmailContacts,
	}
}

// CampaignInsight is a single campaign's typed metrics for a date range.
type CampaignInsight struct {
	CampaignID   string  `json:"campaign_id"`
	CampaignName string  `json:"campaign_name"`
	Spend        float64 `json:"spend"`
	Impressions  int64   `json:"impressions"`
	Clicks       int64   `json:"clicks"`
	// Conversions is the platform-native conversion count, independent of the funnel.
	Conversions int64 `json:"conversions"`
	FunnelMetrics
}

// ===========================================
// NUMERIC PARSING
// ===========================================

// ParseAmount parses an untrusted numeric string. Anything non-numeric,
// non-finite or negative is 0.
func ParseAmount(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// ParseCount parses an untrusted count, rounding fractional values to the nearest integer.
func ParseCount(s string) int64 {
	return CountOf(ParseAmount(s))
}

// CountOf rounds a tallied count to an integer. Values that are negative,
// non-finite or not representable as int64 are 0.
func CountOf(v float64) int64 {
	if math.IsNaN(v) || v < 0 || v >= math.MaxInt64 {
		return 0
	}
	return int64(math.Round(v))
}

// Round2 rounds a currency amount to cents.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}
