package scheduling

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cleanops/opscore/internal/policy"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTx embeds pgx.Tx so only the methods the scheduling service actually
// calls (QueryRow, Query, Exec) need overriding; anything else invoked on
// it panics on the nil embedded interface, which is the signal an
// unexpected query slipped into the code under test.
type fakeTx struct {
	pgx.Tx
	queryRowFunc func(ctx context.Context, sql string, args ...interface{}) pgx.Row
	execCalls    *[]execCall
}

type execCall struct {
	sql  string
	args []interface{}
}

func (f fakeTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return f.queryRowFunc(ctx, sql, args...)
}

func (f fakeTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return emptyRows{}, nil
}

func (f fakeTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if f.execCalls != nil {
		*f.execCalls = append(*f.execCalls, execCall{sql: sql, args: args})
	}
	return pgconn.CommandTag{}, nil
}

// emptyRows satisfies pgx.Rows with zero rows, standing in for the
// bookings/blackouts lookups a reschedule's availability recheck performs.
type emptyRows struct{ pgx.Rows }

func (emptyRows) Next() bool                   { return false }
func (emptyRows) Close()                       {}
func (emptyRows) Err() error                   { return nil }
func (emptyRows) Scan(dest ...interface{}) error { return nil }

type fakeRow struct {
	scan func(dest ...interface{}) error
}

func (r fakeRow) Scan(dest ...interface{}) error { return r.scan(dest...) }

type fakeStore struct {
	tx pgx.Tx
}

func (f fakeStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(f.tx)
}

// TestRescheduleDoesNotReapplyOriginalPolicy exercises the DESIGN.md open
// question decision: reschedule re-validates availability and moves the
// booking, but never calls back into the Policy Engine, so an operator's
// deposit downgrade survives a reschedule untouched.
func TestRescheduleDoesNotReapplyOriginalPolicy(t *testing.T) {
	orgID := uuid.New()
	teamID := uuid.New()
	bookingID := uuid.New()
	originalStart := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	newStart := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

	var execCalls []execCall
	tx := fakeTx{
		execCalls: &execCalls,
		queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
			switch {
			case strings.Contains(sql, "FROM bookings WHERE booking_id"):
				return fakeRow{scan: func(dest ...interface{}) error {
					*dest[0].(*uuid.UUID) = bookingID
					*dest[1].(*uuid.UUID) = orgID
					*dest[2].(*uuid.UUID) = teamID
					*dest[3].(*time.Time) = originalStart
					*dest[4].(*int) = 60
					*dest[5].(*Status) = StatusPending
					*dest[6].(*bool) = false // deposit already downgraded by an operator
					*dest[7].(*DepositStatus) = DepositStatusNone
					*dest[8].(*policy.RiskBand) = policy.RiskMedium
					return nil
				}}
			case strings.Contains(sql, "FROM teams WHERE team_id"):
				return fakeRow{scan: func(dest ...interface{}) error {
					*dest[0].(*uuid.UUID) = teamID
					*dest[1].(*uuid.UUID) = orgID
					*dest[2].(*string) = "Default Team"
					return nil
				}}
			case strings.Contains(sql, "FROM team_working_hours"):
				return fakeRow{scan: func(dest ...interface{}) error { return pgx.ErrNoRows }}
			default:
				t.Fatalf("unexpected QueryRow: %s", sql)
				return nil
			}
		},
	}

	svc := NewService(fakeStore{tx: tx}, nil, mustCalendar(t), policy.PolicyConfigView{}, nil, nil)

	result, err := svc.RescheduleBooking(context.Background(), orgID, bookingID, newStart, 90)
	require.NoError(t, err)

	assert.Equal(t, newStart, result.StartsAt)
	assert.Equal(t, 90, result.DurationMinutes)
	// The pre-downgrade deposit state must survive untouched: no policy
	// re-evaluation happened, so DepositRequired/DepositStatus are exactly
	// what loadBookingForUpdate reported, never recomputed.
	assert.False(t, result.DepositRequired)
	assert.Equal(t, DepositStatusNone, result.DepositStatus)

	require.Len(t, execCalls, 1)
	assert.Contains(t, execCalls[0].sql, "UPDATE bookings SET starts_at")
}
