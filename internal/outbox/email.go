package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cleanops/opscore/internal/apperr"
	"go.uber.org/zap"
)

// EmailAdapter delivers EmailEvent payloads via the Resend API, adapted
// from the teacher's notifications.EmailAdapter: same request/response
// shape and bearer-auth client, generalized from a fixed recipient list to
// the per-event recipient the Operations Core composes.
type EmailAdapter struct {
	from   string
	apiKey string
	client *http.Client
	logger *zap.Logger

	unsubscribed UnsubscribeChecker
}

// UnsubscribeChecker reports whether a recipient has opted out of a given
// email type (spec.md §4.4: "check unsubscribe scope before sending").
type UnsubscribeChecker interface {
	IsUnsubscribed(ctx context.Context, orgID, recipient, emailType string) (bool, error)
}

type resendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

type resendEmailResponse struct {
	ID string `json:"id"`
}

// NewEmailAdapter constructs a Resend-backed email adapter.
func NewEmailAdapter(from, apiKey string, unsub UnsubscribeChecker, logger *zap.Logger) (*EmailAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}
	return &EmailAdapter{
		from:         from,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		unsubscribed: unsub,
		logger:       logger,
	}, nil
}

func (a *EmailAdapter) Kind() Kind { return KindEmail }

// Deliver sends one EmailEvent. Unsubscribed recipients are treated as a
// successful no-op delivery rather than a retryable failure.
func (a *EmailAdapter) Deliver(ctx context.Context, event Event) error {
	var em EmailEvent
	if err := json.Unmarshal(event.Payload, &em); err != nil {
		return apperr.DependencyProtocol("invalid_email_payload", "could not decode email event: %v", err)
	}

	if a.unsubscribed != nil {
		skip, err := a.unsubscribed.IsUnsubscribed(ctx, em.OrgID.String(), em.Recipient, em.EmailType)
		if err != nil {
			return err
		}
		if skip {
			if a.logger != nil {
				a.logger.Info("email skipped: recipient unsubscribed",
					zap.String("recipient", em.Recipient), zap.String("email_type", em.EmailType))
			}
			return nil
		}
	}

	reqBody := resendEmailRequest{From: a.from, To: []string{em.Recipient}, Subject: em.Subject, Text: em.Body}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return apperr.Internal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.resend.com/emails", bytes.NewReader(payload))
	if err != nil {
		return apperr.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return apperr.DependencyUnavailable("resend_unavailable", "resend request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.DependencyProtocol("resend_error_status", "resend API returned status %d", resp.StatusCode)
	}

	var resendResp resendEmailResponse
	if err := json.NewDecoder(resp.Body).Decode(&resendResp); err != nil {
		return apperr.DependencyProtocol("resend_bad_response", "could not decode resend response: %v", err)
	}

	if a.logger != nil {
		a.logger.Info("email sent via resend", zap.String("email_id", resendResp.ID), zap.String("event_id", event.EventID.String()))
	}
	return nil
}
