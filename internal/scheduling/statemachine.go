package scheduling

import "github.com/cleanops/opscore/internal/apperr"

var validTransitions = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusDone: true, StatusCancelled: true},
	StatusDone:      {},
	StatusCancelled: {},
}

// AssertValidTransition implements spec.md §4.1's state machine:
// PENDING -> {CONFIRMED, CANCELLED}; CONFIRMED -> {DONE, CANCELLED}; DONE
// and CANCELLED are terminal.
func AssertValidTransition(from, to Status) error {
	if validTransitions[from][to] {
		return nil
	}
	return apperr.InvalidTransition("invalid_booking_transition", "cannot move booking from %s to %s", from, to)
}

// AssertCanConfirm implements spec.md §4.1's confirm precondition: a
// deposit-required booking cannot confirm until paid. The risk band is not
// checked here; this is the explicit operator confirm, and the deposit
// webhook never auto-confirms a HIGH risk booking (see internal/payments).
func AssertCanConfirm(b Booking) error {
	if err := AssertValidTransition(b.Status, StatusConfirmed); err != nil {
		return err
	}
	if b.DepositRequired && b.DepositStatus != DepositStatusPaid {
		return apperr.Precondition("deposit_not_paid", "deposit must be paid before confirming")
	}
	return nil
}

// AssertCanComplete implements mark_booking_completed's preconditions:
// only a CONFIRMED booking may complete, and actualMinutes must be
// positive.
func AssertCanComplete(b Booking, actualMinutes int) error {
	if b.Status == StatusDone {
		return apperr.InvalidTransition("already_completed", "booking is already DONE")
	}
	if err := AssertValidTransition(b.Status, StatusDone); err != nil {
		return err
	}
	if actualMinutes <= 0 {
		return apperr.InvalidWindow("invalid_duration", "actual_minutes must be positive")
	}
	return nil
}
