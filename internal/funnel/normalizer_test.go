package funnel

import (
	"testing"

	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acts(pairs ...string) []models.RawAction {
	out := make([]models.RawAction, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, models.RawAction{ActionType: pairs[i], Value: pairs[i+1]})
	}
	return out
}

func TestNormalizeCollapsesSynonymVariants(t *testing.T) {
	n := New()
	m := n.Normalize(acts(
		"search", "400",
		"omni_search", "400",
		"offsite_conversion.fb_pixel_search", "400",
	), nil)
	assert.Equal(t, int64(400), m.BookingStep1)
}

func TestNormalizeSumModeCountsEveryVariant(t *testing.T) {
	n := New(WithMode(SynonymSum))
	m := n.Normalize(acts(
		"search", "400",
		"omni_search", "400",
		"offsite_conversion.fb_pixel_search", "400",
	), nil)
	assert.Equal(t, int64(1200), m.BookingStep1)
}

func TestNormalizeCollapseKeepsLargestVariant(t *testing.T) {
	m := New().Normalize(acts("view_content", "90", "omni_view_content", "120"), nil)
	assert.Equal(t, int64(120), m.BookingStep2)
}

func TestNormalizeEndToEnd(t *testing.T) {
	m := New().Normalize(
		acts("search", "400", "omni_search", "400", "purchase", "6"),
		acts("purchase", "18262"),
	)
	assert.Equal(t, int64(400), m.BookingStep1)
	assert.Equal(t, int64(6), m.Reservations)
	assert.InDelta(t, 18262.00, m.ReservationValue, 0.001)
}

func TestNormalizeCustomOverrideWins(t *testing.T) {
	n := New().ForClient(map[Slot][]string{
		SlotClickToCall: {"offsite_conversion.custom.1470262077092668"},
	})
	m := n.Normalize(acts(
		"click_to_call_native_call_placed", "10",
		"offsite_conversion.custom.1470262077092668", "2",
	), nil)
	assert.Equal(t, int64(2), m.ClickToCall)
}

func TestNormalizeCustomOverrideOnlyWhenPresent(t *testing.T) {
	n := New().ForClient(map[Slot][]string{
		SlotClickToCall: {"offsite_conversion.custom.99"},
	})
	m := n.Normalize(acts("click_to_call_native_call_placed", "10"), nil)
	assert.Equal(t, int64(10), m.ClickToCall, "generic events apply when no custom event was reported")
}

func TestNormalizeCustomEventsDoNotLeakIntoOtherSlots(t *testing.T) {
	// The custom id contains "lead" but is registered for reservations.
	n := New().ForClient(map[Slot][]string{
		SlotReservations: {"offsite_conversion.custom.lead_booking"},
	})
	m := n.Normalize(
		acts("offsite_conversion.custom.lead_booking", "3", "purchase", "9", "lead", "4"),
		acts("offsite_conversion.custom.lead_booking", "300.50", "purchase", "900"),
	)
	assert.Equal(t, int64(3), m.Reservations)
	assert.Equal(t, int64(4), m.EmailContacts)
	assert.InDelta(t, 300.50, m.ReservationValue, 0.001)
}

func TestNormalizeCaseAndWhitespaceInsensitive(t *testing.T) {
	m := New().Normalize(acts("  Initiate_Checkout ", "7", "OMNI_INITIATED_CHECKOUT", "7"), nil)
	assert.Equal(t, int64(7), m.BookingStep3)
}

func TestNormalizeMalformedValuesAreZero(t *testing.T) {
	m := New().Normalize(
		acts("lead", "abc", "phone_call", "-4", "view_content", "NaN", "search", "12.6"),
		acts("purchase", "not-a-number"),
	)
	assert.Equal(t, int64(0), m.EmailContacts)
	assert.Equal(t, int64(0), m.ClickToCall)
	assert.Equal(t, int64(0), m.BookingStep2)
	assert.Equal(t, int64(13), m.BookingStep1)
	assert.Zero(t, m.ReservationValue)
}

func TestNormalizeIgnoresUnknownTypes(t *testing.T) {
	m := New().Normalize(acts("link_click", "55", "post_engagement", "120", "", "3"), nil)
	assert.Equal(t, models.FunnelMetrics{}, m)
}

func TestNormalizeReservationsRequireExactNames(t *testing.T) {
	m := New().Normalize(acts("add_payment_info_purchase_intent", "5", "omni_purchase", "2"), nil)
	assert.Equal(t, int64(2), m.Reservations)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := New().ForClient(map[Slot][]string{SlotEmailContacts: {"offsite_conversion.custom.7"}})
	a := acts("search", "1", "omni_search", "3", "lead", "8", "offsite_conversion.custom.7", "2", "phone", "4")
	v := acts("purchase", "10.10", "omni_purchase", "10.10", "onsite_web_purchase", "3.33")
	first := n.Normalize(a, v)
	second := n.Normalize(a, v)
	require.Equal(t, first, second)
	assert.Equal(t, int64(2), first.EmailContacts)
}

func TestForClientDoesNotMutateBase(t *testing.T) {
	base := New()
	_ = base.ForClient(map[Slot][]string{SlotClickToCall: {"offsite_conversion.custom.1"}})
	m := base.Normalize(acts("offsite_conversion.custom.1", "5", "phone", "3"), nil)
	assert.Equal(t, int64(3), m.ClickToCall)
}

func TestParseSynonymMode(t *testing.T) {
	m, err := ParseSynonymMode("SUM")
	require.NoError(t, err)
	assert.Equal(t, SynonymSum, m)

	m, err = ParseSynonymMode("")
	require.NoError(t, err)
	assert.Equal(t, SynonymCollapse, m)

	_, err = ParseSynonymMode("average")
	assert.Error(t, err)
}

func TestNormalizeHugeCountIsZeroNotNegative(t *testing.T) {
	m := New().Normalize(acts("search", "1e20", "view_content", "7"), nil)
	assert.Equal(t, int64(0), m.BookingStep1)
	assert.Equal(t, int64(7), m.BookingStep2)

	m = New(WithMode(SynonymSum)).Normalize(acts("search", "9e18", "omni_search", "9e18"), nil)
	assert.GreaterOrEqual(t, m.BookingStep1, int64(0))
}

func TestNormalizeSumModeAddsRepeatedType(t *testing.T) {
	m := New(WithMode(SynonymSum)).Normalize(acts("search", "5", "search", "3"), nil)
	assert.Equal(t, int64(8), m.BookingStep1)

	m = New().Normalize(acts("search", "5", "search", "3"), nil)
	assert.Equal(t, int64(5), m.BookingStep1)
}

func TestNormalizeRuleOrderIsData(t *testing.T) {
	actions := acts("search_lead_form", "4")
	assert.Equal(t, int64(4), New().Normalize(actions, nil).BookingStep1)

	// Moving the lead rule ahead of search re-credits the same action.
	reordered := make([]Rule, 0, len(DefaultRules))
	var lead Rule
	for _, r := range DefaultRules {
		if r.Slot == SlotEmailContacts {
			lead = r
			continue
		}
		reordered = append(reordered, r)
	}
	reordered = append([]Rule{lead}, reordered...)

	m := New(WithRules(reordered)).Normalize(actions, nil)
	assert.Equal(t, int64(0), m.BookingStep1)
	assert.Equal(t, int64(4), m.EmailContacts)
	assert.Equal(t, SlotBookingStep1, Classify(DefaultRules, "search_lead_form"))
}

func TestNormalizeWithSynonymsTable(t *testing.T) {
	actions := acts("search", "400", "app_custom_search", "400")
	assert.Equal(t, int64(800), New().Normalize(actions, nil).BookingStep1)

	groups := append([]SynonymGroup{{Base: "search", Aliases: []string{"search", "app_custom_search"}}}, DefaultSynonyms[1:]...)
	assert.Equal(t, int64(400), New(WithSynonyms(groups)).Normalize(actions, nil).BookingStep1)
}
