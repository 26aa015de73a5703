package payments

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

// fakeTx embeds pgx.Tx so only Exec/QueryRow need overriding; execResults
// feeds back one CommandTag per Exec call in order, so a test can script
// the RowsAffected each statement reports.
type fakeTx struct {
	pgx.Tx
	execResults []pgconn.CommandTag
	execCalls   *[]execCall
	queryRow    func(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type execCall struct {
	sql  string
	args []interface{}
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	idx := 0
	if f.execCalls != nil {
		idx = len(*f.execCalls)
		*f.execCalls = append(*f.execCalls, execCall{sql: sql, args: args})
	}
	if idx < len(f.execResults) {
		return f.execResults[idx], nil
	}
	return pgconn.NewCommandTag("UPDATE 0"), nil
}

func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if f.queryRow != nil {
		return f.queryRow(ctx, sql, args...)
	}
	return fakeRow{}
}

type fakeRow struct{}

func (fakeRow) Scan(dest ...interface{}) error { return nil }

type fakeStore struct{ tx pgx.Tx }

func (f fakeStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error { return fn(f.tx) }

func TestUpsertPayment_ReconcilesCheckoutRowBeforeInserting(t *testing.T) {
	// The checkout-time row (checkout_session_id set, provider_ref NULL)
	// matches the UPDATE path; no fallback INSERT should run.
	var calls []execCall
	tx := &fakeTx{execCalls: &calls, execResults: []pgconn.CommandTag{pgconn.NewCommandTag("UPDATE 1")}}
	svc := &Service{store: fakeStore{tx: tx}}

	invoiceID := uuid.New()
	err := svc.upsertPayment(context.Background(), tx, uuid.New(), &invoiceID, nil, "pi_123", 5000, "usd", PaymentSucceeded)
	require.NoError(t, err)

	require.Len(t, calls, 1, "a claimed checkout row must not also get a fallback INSERT")
	assert.Contains(t, calls[0].sql, "UPDATE payments")
	assert.Contains(t, calls[0].sql, "checkout_session_id IS NOT NULL")
}

func TestUpsertPayment_FallsBackToInsertWhenNoCheckoutRowMatches(t *testing.T) {
	var calls []execCall
	tx := &fakeTx{
		execCalls:   &calls,
		execResults: []pgconn.CommandTag{pgconn.NewCommandTag("UPDATE 0"), pgconn.NewCommandTag("INSERT 0 1")},
	}
	svc := &Service{store: fakeStore{tx: tx}}

	bookingID := uuid.New()
	err := svc.upsertPayment(context.Background(), tx, uuid.New(), nil, &bookingID, "pi_456", 7000, "usd", PaymentSucceeded)
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].sql, "INSERT INTO payments")
	assert.Contains(t, calls[1].sql, "ON CONFLICT (provider, provider_ref)")
}

func newEvent(t stripe.EventType, raw string) stripe.Event {
	return stripe.Event{Type: t, Data: &stripe.EventData{Raw: []byte(raw)}}
}

func TestParsePaymentOutcome_ResolvesAmountFromCheckoutSession(t *testing.T) {
	event := newEvent("checkout.session.completed", `{"id":"cs_123","status":"complete","amount_total":4999,"currency":"aud"}`)
	raw, succeeded, _ := parsePaymentOutcome(event)
	assert.True(t, succeeded)
	assert.Equal(t, int64(4999), raw.resolvedAmountCents())
	assert.Equal(t, "aud", raw.resolvedCurrency())
}

func TestParsePaymentOutcome_ResolvesAmountFromPaymentIntent(t *testing.T) {
	event := newEvent("payment_intent.succeeded", `{"id":"pi_123","amount":5000,"amount_received":5000,"currency":"usd"}`)
	raw, succeeded, _ := parsePaymentOutcome(event)
	assert.True(t, succeeded)
	assert.Equal(t, int64(5000), raw.resolvedAmountCents())
	assert.Equal(t, "usd", raw.resolvedCurrency())
}

func TestParsePaymentOutcome_DefaultsCurrencyWhenMissing(t *testing.T) {
	event := newEvent("payment_intent.payment_failed", `{"id":"pi_789","amount":1000}`)
	raw, _, failed := parsePaymentOutcome(event)
	assert.True(t, failed)
	assert.Equal(t, int64(1000), raw.resolvedAmountCents())
	assert.Equal(t, "usd", raw.resolvedCurrency())
}
