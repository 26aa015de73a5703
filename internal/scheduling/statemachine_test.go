package scheduling

import (
	"testing"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestAssertValidTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusDone, false},
		{StatusConfirmed, StatusDone, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusPending, false},
		{StatusDone, StatusCancelled, false},
		{StatusCancelled, StatusConfirmed, false},
	}
	for _, tc := range cases {
		err := AssertValidTransition(tc.from, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
		} else {
			assert.Error(t, err, "%s -> %s", tc.from, tc.to)
		}
	}
}

func TestAssertCanConfirm_DepositRequiredButUnpaid(t *testing.T) {
	b := Booking{Status: StatusPending, DepositRequired: true, DepositStatus: DepositStatusPending}
	err := AssertCanConfirm(b)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
}

func TestAssertCanConfirm_DepositPaidSucceeds(t *testing.T) {
	b := Booking{Status: StatusPending, DepositRequired: true, DepositStatus: DepositStatusPaid}
	assert.NoError(t, AssertCanConfirm(b))
}

func TestAssertCanComplete_RejectsNonPositiveDuration(t *testing.T) {
	b := Booking{Status: StatusConfirmed}
	err := AssertCanComplete(b, 0)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindInvalidWindow, apperr.KindOf(err))
}

func TestAssertCanComplete_RejectsAlreadyDone(t *testing.T) {
	b := Booking{Status: StatusDone}
	err := AssertCanComplete(b, 30)
	assert.Error(t, err)
}
