package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func TestResolveOrgContext_RejectsAmbiguousMetadata(t *testing.T) {
	svc := &Service{}
	invoiceID, bookingID := uuid.New(), uuid.New()

	_, err := svc.resolveOrgContext(context.Background(), nil, stripe.Event{}, eventMetadata{
		InvoiceID: &invoiceID,
		BookingID: &bookingID,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmbiguousMetadata), "metadata carrying both invoice_id and booking_id must be rejected, not guessed at")
}

func TestProcessWebhook_AmbiguousMetadataSurfacesAsError(t *testing.T) {
	// Exercises the ProcessWebhook dispatch that previously swallowed
	// ErrAmbiguousMetadata into a silent OutcomeIgnored/200.
	invoiceID, bookingID := uuid.New(), uuid.New()
	raw := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{"invoice_id":"` +
		invoiceID.String() + `","booking_id":"` + bookingID.String() + `"}}}}`
	event := stripe.Event{ID: "evt_1", Type: "payment_intent.succeeded", Data: &stripe.EventData{Raw: []byte(`{"id":"pi_1","metadata":{"invoice_id":"` + invoiceID.String() + `","booking_id":"` + bookingID.String() + `"}}`)}}

	tx := &fakeTx{}
	svc := &Service{store: fakeStore{tx: tx}}

	outcome, err := svc.ProcessWebhook(context.Background(), event, []byte(raw))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmbiguousMetadata))
	assert.Equal(t, OutcomeError, outcome)
}
