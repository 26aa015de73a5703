package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/cleanops/opscore/internal/payments"
	"github.com/google/uuid"
)

// handleDepositCheckout implements `POST /v1/payments/deposit/checkout`.
func (s *Server) handleDepositCheckout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BookingID uuid.UUID `json:"booking_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidWindow("invalid_body", "request body is not valid JSON"))
		return
	}
	url, err := s.payments.CreateDepositCheckout(r.Context(), orgFromRequest(r), body.BookingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": url})
}

// handleInvoiceCheckout implements `POST /v1/payments/invoice/checkout`.
func (s *Server) handleInvoiceCheckout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		InvoiceID uuid.UUID `json:"invoice_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidWindow("invalid_body", "request body is not valid JSON"))
		return
	}
	url, err := s.payments.CreateInvoiceCheckout(r.Context(), orgFromRequest(r), body.InvoiceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": url})
}

// stripeSignatureHeader is the header stripe-go's webhook verifier
// reads the signature from.
const stripeSignatureHeader = "Stripe-Signature"

// handleStripeWebhook implements `POST /v1/payments/stripe/webhook`
// (plus its legacy alias): verifies the signature, then hands the parsed
// event to payments.Service.ProcessWebhook. No auth middleware runs on
// this route — Stripe authenticates itself via the signature.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.InvalidWindow("invalid_body", "failed to read request body"))
		return
	}

	event, err := payments.VerifySignature(body, r.Header.Get(stripeSignatureHeader), s.stripeWebhookSecret)
	if err != nil {
		writeError(w, apperr.DependencyProtocol("stripe_signature_invalid", "stripe signature verification failed: %v", err))
		return
	}

	outcome, err := s.payments.ProcessWebhook(r.Context(), event, body)
	if err != nil {
		writeError(w, err)
		return
	}
	processed := outcome == payments.OutcomeProcessed || outcome == payments.OutcomeDuplicate
	writeJSON(w, http.StatusOK, map[string]interface{}{"received": true, "processed": processed})
}
