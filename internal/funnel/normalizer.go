package funnel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/radiusdt/insights-cache/internal/models"
)

// SynonymMode controls how redundant variants of one event are counted.
type SynonymMode int

const (
	// SynonymCollapse credits each synonym group once per campaign, using
	// the largest value reported by any of its variants.
	SynonymCollapse SynonymMode = iota
	// SynonymSum credits every variant independently, and adds up repeated
	// entries of the same action type.
	SynonymSum
)

func (m SynonymMode) String() string {
	if m == SynonymSum {
		return "sum"
	}
	return "collapse"
}

// ParseSynonymMode parses "collapse" or "sum".
func ParseSynonymMode(s string) (SynonymMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "collapse":
		return SynonymCollapse, nil
	case "sum":
		return SynonymSum, nil
	default:
		return SynonymCollapse, fmt.Errorf("unknown synonym mode %q", s)
	}
}

// Normalizer turns raw action lists into FunnelMetrics. It holds no mutable
// state and is safe for concurrent use.
type Normalizer struct {
	rules    []Rule
	synonyms map[string]string
	mode     SynonymMode
	custom   map[string]Slot
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithRules replaces the classification order.
func WithRules(rules []Rule) Option {
	return func(n *Normalizer) { n.rules = rules }
}

// WithSynonyms replaces the synonym-group table.
func WithSynonyms(groups []SynonymGroup) Option {
	return func(n *Normalizer) { n.synonyms = synonymIndex(groups) }
}

// WithMode selects collapse or sum handling of synonym variants.
func WithMode(mode SynonymMode) Option {
	return func(n *Normalizer) { n.mode = mode }
}

// WithCustomEvents registers client-specific custom-tracking identifiers per slot.
func WithCustomEvents(custom map[Slot][]string) Option {
	return func(n *Normalizer) {
		n.custom = make(map[string]Slot)
		for slot, ids := range custom {
			for _, id := range ids {
				if id = normalizeType(id); id != "" {
					n.custom[id] = slot
				}
			}
		}
	}
}

// New builds a Normalizer with the default rule and synonym tables.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		rules:    DefaultRules,
		synonyms: synonymIndex(DefaultSynonyms),
		mode:     SynonymCollapse,
		custom:   map[string]Slot{},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ForClient returns a copy of n that also applies the given custom events.
func (n *Normalizer) ForClient(custom map[Slot][]string) *Normalizer {
	cp := *n
	WithCustomEvents(custom)(&cp)
	return &cp
}

// Normalize reduces one campaign's actions and action_values into the funnel.
// Unknown action types are ignored and malformed values count as zero.
func (n *Normalizer) Normalize(actions, actionValues []models.RawAction) models.FunnelMetrics {
	var m models.FunnelMetrics
	for slot, v := range n.tally(actions) {
		add(&m, slot, models.CountOf(v))
	}
	m.ReservationValue = n.tally(actionValues)[SlotReservations]
	return m
}

// tally returns the deduplicated total per slot.
func (n *Normalizer) tally(list []models.RawAction) map[Slot]float64 {
	custom := make(map[Slot]map[string]float64)
	generic := make(map[Slot]map[string]float64)

	for _, a := range list {
		t := normalizeType(a.ActionType)
		if slot, ok := n.custom[t]; ok {
			n.merge(custom, slot, t, models.ParseAmount(a.Value))
		}
	}

	for _, a := range list {
		t := normalizeType(a.ActionType)
		if t == "" {
			continue
		}
		if _, ok := n.custom[t]; ok {
			continue
		}
		slot := Classify(n.rules, t)
		if slot == SlotNone {
			continue
		}
		if _, overridden := custom[slot]; overridden {
			continue
		}
		n.merge(generic, slot, n.groupKey(t), models.ParseAmount(a.Value))
	}

	out := make(map[Slot]float64)
	for slot, byKey := range generic {
		out[slot] = sumSorted(byKey)
	}
	for slot, byKey := range custom {
		out[slot] = sumSorted(byKey)
	}
	return out
}

func (n *Normalizer) groupKey(t string) string {
	if n.mode == SynonymCollapse {
		if base, ok := n.synonyms[t]; ok {
			return "group:" + base
		}
	}
	return "type:" + t
}

// merge records v under key. Collapse keeps the largest value per key; sum
// adds repeated entries.
func (n *Normalizer) merge(dst map[Slot]map[string]float64, slot Slot, key string, v float64) {
	byKey, ok := dst[slot]
	if !ok {
		byKey = make(map[string]float64)
		dst[slot] = byKey
	}
	cur, seen := byKey[key]
	switch {
	case n.mode == SynonymSum:
		byKey[key] = cur + v
	case !seen || v > cur:
		byKey[key] = v
	}
}

// sumSorted adds values in key order so float totals are reproducible.
func sumSorted(byKey map[string]float64) float64 {
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var total float64
	for _, k := range keys {
		total += byKey[k]
	}
	return total
}
