package funnel

import "strings"

// MatchKind selects how a Rule compares action types.
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchContains
)

// Rule maps action types onto a slot.
type Rule struct {
	Slot     Slot
	Kind     MatchKind
	Patterns []string
}

func (r Rule) matches(actionType string) bool {
	for _, p := range r.Patterns {
		switch r.Kind {
		case MatchExact:
			if actionType == p {
				return true
			}
		case MatchContains:
			if strings.Contains(actionType, p) {
				return true
			}
		}
	}
	return false
}

// DefaultRules is the classification order. The first matching rule wins, so
// an action type is credited to at most one slot. Reservations use exact
// names because "purchase" is a substring of unrelated pixel events.
var DefaultRules = []Rule{
	{Slot: SlotReservations, Kind: MatchExact, Patterns: purchaseAliases},
	{Slot: SlotBookingStep3, Kind: MatchContains, Patterns: []string{"initiate_checkout", "initiated_checkout"}},
	{Slot: SlotBookingStep2, Kind: MatchContains, Patterns: []string{"view_content"}},
	{Slot: SlotBookingStep1, Kind: MatchContains, Patterns: []string{"search"}},
	{Slot: SlotClickToCall, Kind: MatchContains, Patterns: []string{"click_to_call", "phone"}},
	{Slot: SlotEmailContacts, Kind: MatchContains, Patterns: []string{"lead"}},
}

// Classify returns the first slot whose rule matches the normalized action type.
func Classify(rules []Rule, actionType string) Slot {
	for _, r := range rules {
		if r.matches(actionType) {
			return r.Slot
		}
	}
	return SlotNone
}

// SynonymGroup is a set of action types the platform emits for one occurrence.
type SynonymGroup struct {
	Base    string
	Aliases []string
}

var purchaseAliases = []string{
	"purchase",
	"omni_purchase",
	"offsite_conversion.fb_pixel_purchase",
	"onsite_web_purchase",
	"onsite_web_app_purchase",
	"web_in_store_purchase",
}

// DefaultSynonyms lists the known redundant variants per base event.
var DefaultSynonyms = []SynonymGroup{
	{Base: "search", Aliases: []string{
		"search",
		"omni_search",
		"offsite_conversion.fb_pixel_search",
		"onsite_web_search",
		"onsite_web_app_search",
	}},
	{Base: "view_content", Aliases: []string{
		"view_content",
		"omni_view_content",
		"offsite_conversion.fb_pixel_view_content",
		"onsite_web_view_content",
		"onsite_web_app_view_content",
	}},
	{Base: "initiate_checkout", Aliases: []string{
		"initiate_checkout",
		"initiated_checkout",
		"omni_initiated_checkout",
		"offsite_conversion.fb_pixel_initiate_checkout",
		"onsite_web_initiate_checkout",
		"onsite_web_app_initiate_checkout",
	}},
	{Base: "purchase", Aliases: purchaseAliases},
	{Base: "lead", Aliases: []string{
		"lead",
		"omni_lead",
		"offsite_conversion.fb_pixel_lead",
		"onsite_web_lead",
		"onsite_conversion.lead_grouped",
	}},
	{Base: "click_to_call", Aliases: []string{
		"click_to_call_call_confirm",
		"click_to_call_native_call_placed",
		"click_to_call_native_20s_call_connect",
		"click_to_call_native_60s_call_connect",
	}},
}

// synonymIndex maps each alias to its group base.
func synonymIndex(groups []SynonymGroup) map[string]string {
	idx := make(map[string]string)
	for _, g := range groups {
		for _, a := range g.Aliases {
			idx[normalizeType(a)] = g.Base
		}
	}
	return idx
}

func normalizeType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
