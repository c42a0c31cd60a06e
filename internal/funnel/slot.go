// Package funnel reduces platform-reported action events into the canonical
// conversion funnel.
package funnel

import (
	"fmt"
	"strings"

	"github.com/radiusdt/insights-cache/internal/models"
)

// Slot is one canonical funnel stage.
type Slot int

const (
	SlotNone Slot = iota
	SlotBookingStep1
	SlotBookingStep2
	SlotBookingStep3
	SlotReservations
	SlotClickToCall
	SlotEmailContacts
)

var slotNames = map[Slot]string{
	SlotBookingStep1:  "booking_step_1",
	SlotBookingStep2:  "booking_step_2",
	SlotBookingStep3:  "booking_step_3",
	SlotReservations:  "reservations",
	SlotClickToCall:   "click_to_call",
	SlotEmailContacts: "email_contacts",
}

func (s Slot) String() string {
	if n, ok := slotNames[s]; ok {
		return n
	}
	return "none"
}

// ParseSlot maps a slot name as used in configuration to a Slot.
func ParseSlot(name string) (Slot, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range slotNames {
		if n == name {
			return s, nil
		}
	}
	return SlotNone, fmt.Errorf("unknown funnel slot %q", name)
}

// Slots lists every real slot in a stable order.
func Slots() []Slot {
	return []Slot{
		SlotBookingStep1,
		SlotBookingStep2,
		SlotBookingStep3,
		SlotReservations,
		SlotClickToCall,
		SlotEmailContacts,
	}
}

// add credits n to slot s of m.
func add(m *models.FunnelMetrics, s Slot, n int64) {
	switch s {
	case SlotBookingStep1:
		m.BookingStep1 += n
	case SlotBookingStep2:
		m.BookingStep2 += n
	case SlotBookingStep3:
		m.BookingStep3 += n
	case SlotReservations:
		m.Reservations += n
	case SlotClickToCall:
		m.ClickToCall += n
	case SlotEmailContacts:
		m.EmailContacts += n
	}
}
