package scheduling

import (
	"testing"
	"time"

	"github.com/cleanops/opscore/internal/clockcal"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCalendar(t *testing.T) *clockcal.Calendar {
	t.Helper()
	cal, err := clockcal.NewCalendar("UTC")
	require.NoError(t, err)
	return cal
}

func TestGenerateSlots_BufferedBookingBlocksAdjacentStarts(t *testing.T) {
	cal := mustCalendar(t)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	wh := WorkingHours{StartMinute: 9 * 60, EndMinute: 18 * 60}

	existing := []Booking{
		{BookingID: uuid.New(), Status: StatusConfirmed, StartsAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), DurationMinutes: 90},
	}

	slots := GenerateSlots(cal, day, 30, wh, existing, nil, nil)
	// Booking occupies 09:00-10:30, buffered by 30m on each side => blocked
	// 08:30-11:00. First open 30-minute slot is 11:00.
	assert.NotContains(t, slots, time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC))
	assert.Contains(t, slots, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC))
}

func TestGenerateSlots_BlackoutHasNoBuffer(t *testing.T) {
	cal := mustCalendar(t)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	wh := WorkingHours{StartMinute: 9 * 60, EndMinute: 18 * 60}

	blackouts := []TeamBlackout{
		{BlackoutID: uuid.New(), StartsAt: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), EndsAt: time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)},
	}

	slots := GenerateSlots(cal, day, 30, wh, nil, blackouts, nil)
	assert.NotContains(t, slots, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), "inclusive on blackout start")
	assert.Contains(t, slots, time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC), "exclusive on blackout end")
}

func TestGenerateSlots_ExcludesMovingBooking(t *testing.T) {
	cal := mustCalendar(t)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	wh := WorkingHours{StartMinute: 9 * 60, EndMinute: 18 * 60}
	movingID := uuid.New()

	existing := []Booking{
		{BookingID: movingID, Status: StatusConfirmed, StartsAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), DurationMinutes: 60},
	}

	slots := GenerateSlots(cal, day, 60, wh, existing, nil, &movingID)
	assert.Contains(t, slots, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
}

func TestGenerateSlots_DoesNotRejectZeroDuration(t *testing.T) {
	cal := mustCalendar(t)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	wh := WorkingHours{StartMinute: 9 * 60, EndMinute: 18 * 60}
	slots := GenerateSlots(cal, day, 0, wh, nil, nil, nil)
	// Zero-length candidates would trivially "fit" everywhere; the
	// operation-level guard against duration=0 lives in the Service layer
	// (spec.md §8: "0 is rejected"), not here.
	assert.NotEmpty(t, slots)
}

func TestCheckConflicts_MoveBetweenTwoBookings(t *testing.T) {
	// Team has bookings [09:00-10:30] and [11:30-13:00] (spec.md §8
	// scenario 2); buffered by 30m each side the blocked windows are
	// [08:30-11:00] and [11:00-13:30].
	b1 := Booking{BookingID: uuid.New(), Status: StatusConfirmed, StartsAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), DurationMinutes: 90}
	b2 := Booking{BookingID: uuid.New(), Status: StatusConfirmed, StartsAt: time.Date(2026, 3, 2, 11, 30, 0, 0, time.UTC), DurationMinutes: 90}
	bookings := []Booking{b1, b2}

	// A move window wholly inside the first booking's buffered margin
	// conflicts with only the first booking.
	startsA := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	conflictsA := CheckConflicts(startsA, startsA.Add(60*time.Minute), bookings, nil, nil)
	require.Len(t, conflictsA, 1)
	assert.Equal(t, b1.BookingID, conflictsA[0].Reference)

	// A move window spanning the shared 11:00 buffer boundary conflicts
	// with both bookings.
	startsB := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	conflictsB := CheckConflicts(startsB, startsB.Add(90*time.Minute), bookings, nil, nil)
	assert.Len(t, conflictsB, 2)
}
