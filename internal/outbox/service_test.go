package outbox

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []interface{}
}

type fakeTx struct {
	pgx.Tx
	queryRowFunc func(ctx context.Context, sql string, args ...interface{}) pgx.Row
	execCalls    *[]execCall
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

type emptyRows struct{ pgx.Rows }

func (emptyRows) Next() bool                     { return false }
func (emptyRows) Close()                         {}
func (emptyRows) Err() error                     { return nil }
func (emptyRows) Scan(dest ...interface{}) error { return nil }

type fakeRow struct {
	scan func(dest ...interface{}) error
}

func (r fakeRow) Scan(dest ...interface{}) error { return r.scan(dest...) }

type fakeStore struct{ tx pgx.Tx }

func (f fakeStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(f.tx)
}

type stubAdapter struct {
	kind Kind
	err  error
}

func (a stubAdapter) Kind() Kind { return a.kind }
func (a stubAdapter) Deliver(ctx context.Context, event Event) error { return a.err }

func TestEnqueueEmailWritesPendingEvent(t *testing.T) {
	var calls []execCall
	tx := fakeTx{execCalls: &calls}
	svc := NewService(fakeStore{tx: tx}, Config{}, nil)

	orgID := uuid.New()
	bookingID := uuid.New()
	err := svc.EnqueueEmail(context.Background(), tx, orgID, "booking:x:confirmation", "client@example.com", "Confirmed", "body", &bookingID, nil, "confirmation")
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].sql, "INSERT INTO outbox_events")
	assert.Contains(t, calls[0].sql, "ON CONFLICT (org_id, dedupe_key) DO NOTHING")
}

func TestProcessOneDeliversAndMarksSent(t *testing.T) {
	eventID := uuid.New()
	var calls []execCall
	var claimSQL string
	tx := fakeTx{
		execCalls: &calls,
		queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
			if strings.Contains(sql, "RETURNING true") {
				claimSQL = sql
				return fakeRow{scan: func(dest ...interface{}) error {
					*dest[0].(*bool) = true
					return nil
				}}
			}
			t.Fatalf("unexpected QueryRow: %s", sql)
			return nil
		},
	}

	svc := NewService(fakeStore{tx: tx}, Config{}, nil)
	svc.RegisterAdapter(stubAdapter{kind: KindEmail})

	payload, _ := json.Marshal(EmailEvent{Recipient: "a@example.com"})
	err := svc.processOne(context.Background(), Event{EventID: eventID, Kind: KindEmail, Payload: payload})
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Contains(t, claimSQL, "UPDATE outbox_events SET status = 'pending'")
	assert.Contains(t, calls[0].sql, "UPDATE outbox_events SET status = 'sent'")
}

func TestRescheduleDeadLettersEmailAtMaxRetries(t *testing.T) {
	eventID := uuid.New()
	orgID := uuid.New()
	var calls []execCall
	tx := fakeTx{execCalls: &calls}

	svc := NewService(fakeStore{tx: tx}, Config{Retry: map[Kind]RetryConfig{KindEmail: {BaseBackoff: time.Second, MaxRetries: 3}}}, nil)

	payload, _ := json.Marshal(EmailEvent{OrgID: orgID, DedupeKey: "dk", Recipient: "a@example.com", Subject: "s", Body: "b"})
	event := Event{EventID: eventID, OrgID: orgID, Kind: KindEmail, Attempts: 3, DedupeKey: "dk", Payload: payload}

	err := svc.reschedule(context.Background(), tx, event, assertError("boom"))
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].sql, "SET status = 'dead'")
	assert.Contains(t, calls[1].sql, "INSERT INTO email_failures")
}

type assertError string

func (e assertError) Error() string { return string(e) }

// TestBackoffSequenceMatchesSpecExample exercises spec.md's worked example:
// max_retries=3, base=60s ⇒ failures schedule +60s, +120s, +240s, then the
// fourth failure dead-letters.
func TestBackoffSequenceMatchesSpecExample(t *testing.T) {
	cfg := RetryConfig{BaseBackoff: 60 * time.Second, MaxRetries: 3}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(60*time.Second), cfg.NextAttempt(now, 1))
	assert.Equal(t, now.Add(120*time.Second), cfg.NextAttempt(now, 2))
	assert.Equal(t, now.Add(240*time.Second), cfg.NextAttempt(now, 3))

	var calls []execCall
	tx := fakeTx{execCalls: &calls}
	svc := NewService(fakeStore{tx: tx}, Config{Retry: map[Kind]RetryConfig{KindExport: cfg}}, nil)

	event := Event{EventID: uuid.New(), Kind: KindExport, Attempts: 3}
	require.NoError(t, svc.reschedule(context.Background(), tx, event, assertError("still failing")))

	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].sql, "SET status = 'dead'")
}
