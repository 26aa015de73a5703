package scheduling

import (
	"time"

	"github.com/cleanops/opscore/internal/clockcal"
	"github.com/google/uuid"
)

// DefaultWorkingHours mirrors clockcal.DefaultWorkingHours (09:00-18:00
// local), used when a team has no rule for the target weekday.
var DefaultWorkingHours = WorkingHours{StartMinute: 9 * 60, EndMinute: 18 * 60}

// blockedInterval is one interval a candidate slot must not overlap.
type blockedInterval struct {
	start, end time.Time
}

// overlaps implements spec.md §4.1's conflict predicate: "A.start <
// B.end+buffer AND A.end+buffer > B.start", carried verbatim from the
// original source's generate_slots loop (`candidate < blocked_end and
// candidate_end > blocked_start`).
func overlaps(candidateStart, candidateEnd, blockedStart, blockedEnd time.Time) bool {
	return candidateStart.Before(blockedEnd) && candidateEnd.After(blockedStart)
}

// GenerateSlots enumerates candidate starts at SlotStepMinutes steps within
// the team's day window for targetDate, excluding any whose
// [start,start+duration) window conflicts with a booking (buffered by
// BufferMinutes on both sides) or a blackout (no buffer). excludeBookingID
// lets a reschedule check availability against every booking except the
// one being moved.
func GenerateSlots(
	cal *clockcal.Calendar,
	targetDate time.Time,
	durationMinutes int,
	workingHours WorkingHours,
	existingBookings []Booking,
	blackouts []TeamBlackout,
	excludeBookingID *uuid.UUID,
) []time.Time {
	dayStart, dayEnd, ok := cal.DayWindow(targetDate, clockcal.WorkingHours{
		StartMinute: workingHours.StartMinute,
		EndMinute:   workingHours.EndMinute,
		Closed:      workingHours.Closed,
	})
	if !ok {
		return nil
	}

	duration := time.Duration(durationMinutes) * time.Minute
	buffer := time.Duration(BufferMinutes) * time.Minute

	var blocked []blockedInterval
	for _, b := range existingBookings {
		if excludeBookingID != nil && b.BookingID == *excludeBookingID {
			continue
		}
		if b.Status != StatusPending && b.Status != StatusConfirmed {
			continue
		}
		bEnd := b.StartsAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
		blocked = append(blocked, blockedInterval{start: b.StartsAt.Add(-buffer), end: bEnd.Add(buffer)})
	}
	for _, bo := range blackouts {
		blocked = append(blocked, blockedInterval{start: bo.StartsAt, end: bo.EndsAt})
	}

	step := time.Duration(SlotStepMinutes) * time.Minute
	var slots []time.Time
	for candidate := dayStart; !candidate.Add(duration).After(dayEnd); candidate = candidate.Add(step) {
		candidateEnd := candidate.Add(duration)
		conflict := false
		for _, bl := range blocked {
			if overlaps(candidate, candidateEnd, bl.start, bl.end) {
				conflict = true
				break
			}
		}
		if !conflict {
			slots = append(slots, candidate)
		}
	}
	return slots
}

// CheckConflicts implements the `check_conflicts` operation (spec.md
// §4.1): returns every blocking interval the [starts,ends) window
// overlaps, against the buffered booking set and the unbuffered blackout
// set.
func CheckConflicts(
	starts, ends time.Time,
	existingBookings []Booking,
	blackouts []TeamBlackout,
	excludeBookingID *uuid.UUID,
) []Conflict {
	buffer := time.Duration(BufferMinutes) * time.Minute
	var conflicts []Conflict

	for _, b := range existingBookings {
		if excludeBookingID != nil && b.BookingID == *excludeBookingID {
			continue
		}
		if b.Status != StatusPending && b.Status != StatusConfirmed {
			continue
		}
		bEnd := b.StartsAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
		blockedStart, blockedEnd := b.StartsAt.Add(-buffer), bEnd.Add(buffer)
		if overlaps(starts, ends, blockedStart, blockedEnd) {
			conflicts = append(conflicts, Conflict{
				Kind:      "booking",
				Reference: b.BookingID,
				Starts:    b.StartsAt,
				Ends:      bEnd,
				Note:      "overlaps existing booking with buffer",
			})
		}
	}
	for _, bo := range blackouts {
		if overlaps(starts, ends, bo.StartsAt, bo.EndsAt) {
			conflicts = append(conflicts, Conflict{
				Kind:      "blackout",
				Reference: bo.BlackoutID,
				Starts:    bo.StartsAt,
				Ends:      bo.EndsAt,
				Note:      bo.Reason,
			})
		}
	}
	return conflicts
}

// IsSlotAvailable reports whether starts is exactly one of the slots
// GenerateSlots would return for its local date.
func IsSlotAvailable(
	cal *clockcal.Calendar,
	starts time.Time,
	durationMinutes int,
	workingHours WorkingHours,
	existingBookings []Booking,
	blackouts []TeamBlackout,
	excludeBookingID *uuid.UUID,
) bool {
	localDate := cal.LocalDate(starts)
	slots := GenerateSlots(cal, localDate, durationMinutes, workingHours, existingBookings, blackouts, excludeBookingID)
	for _, s := range slots {
		if s.Equal(starts) {
			return true
		}
	}
	return false
}
