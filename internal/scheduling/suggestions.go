package scheduling

import (
	"sort"
	"time"
)

const (
	MaxSlotsSuggested = 3
	MinSlotsSuggested = 2
)

// ClarifierCode is a machine-readable signal accompanying a slot
// suggestion result, resolving spec.md §9's open question in favor of a
// codeable value (see DESIGN.md).
type ClarifierCode string

const (
	ClarifierLimitedAvailability ClarifierCode = "limited_availability"
	ClarifierNoSlotsOnDate        ClarifierCode = "no_slots_on_date"
)

// Clarifier pairs the machine-readable code with the human string from
// spec.md so existing callers that only display text keep working.
type Clarifier struct {
	Code    ClarifierCode
	Message string
}

// TimeWindow is an optional local time-of-day preference, e.g. "afternoon".
type TimeWindow struct {
	StartMinute int
	EndMinute   int
}

// SuggestionResult is the output of SuggestSlots.
type SuggestionResult struct {
	Slots     []time.Time
	Clarifier *Clarifier
}

// SuggestSlots implements spec.md §4.1's suggest_slots: up to
// MaxSlotsSuggested ordered UTC starts, with a clarifier emitted when the
// caller's time-of-day window yields fewer than MinSlotsSuggested matches
// (falling back to nearby same-day slots) or when no slots exist at all.
// Grounded on original_source's StubSlotProvider.suggest_slots.
func SuggestSlots(allSlots []time.Time, window *TimeWindow, loc func(time.Time) time.Time) SuggestionResult {
	sorted := append([]time.Time(nil), allSlots...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	if len(sorted) == 0 {
		return SuggestionResult{
			Clarifier: &Clarifier{Code: ClarifierNoSlotsOnDate, Message: "No open slots on that day. Would you like another date?"},
		}
	}

	if window == nil {
		if len(sorted) > MaxSlotsSuggested {
			sorted = sorted[:MaxSlotsSuggested]
		}
		return SuggestionResult{Slots: sorted}
	}

	var inWindow, outOfWindow []time.Time
	for _, s := range sorted {
		local := loc(s)
		minuteOfDay := local.Hour()*60 + local.Minute()
		if minuteOfDay >= window.StartMinute && minuteOfDay < window.EndMinute {
			inWindow = append(inWindow, s)
		} else {
			outOfWindow = append(outOfWindow, s)
		}
	}

	if len(inWindow) < MinSlotsSuggested {
		combined := append(append([]time.Time(nil), inWindow...), outOfWindow...)
		if len(combined) > MaxSlotsSuggested {
			combined = combined[:MaxSlotsSuggested]
		}
		return SuggestionResult{
			Slots:     combined,
			Clarifier: &Clarifier{Code: ClarifierLimitedAvailability, Message: "Limited availability in that window; can we look at nearby times the same day?"},
		}
	}

	if len(inWindow) > MaxSlotsSuggested {
		inWindow = inWindow[:MaxSlotsSuggested]
	}
	return SuggestionResult{Slots: inWindow}
}
