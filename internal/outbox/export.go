package outbox

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cleanops/opscore/internal/apperr"
	"go.uber.org/zap"
)

// ExportAdapter delivers export-kind events to a configured external
// webhook URL, HMAC-signed, adapted from the teacher's generic
// notifications.WebhookAdapter (same signature header scheme, generalized
// from the teacher's event envelope to this package's Event payload).
type ExportAdapter struct {
	url    string
	secret string
	client *http.Client
	logger *zap.Logger
}

func NewExportAdapter(url, secret string, logger *zap.Logger) *ExportAdapter {
	return &ExportAdapter{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (a *ExportAdapter) Kind() Kind { return KindExport }

type exportPayload struct {
	EventID   string          `json:"event_id"`
	OrgID     string          `json:"org_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

func (a *ExportAdapter) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(exportPayload{
		EventID:   event.EventID.String(),
		OrgID:     event.OrgID.String(),
		Data:      json.RawMessage(event.Payload),
		Timestamp: event.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return apperr.Internal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return apperr.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.secret != "" {
		req.Header.Set("X-Opscore-Signature", a.sign(body))
		req.Header.Set("X-Opscore-Event-ID", event.EventID.String())
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return apperr.DependencyUnavailable("export_webhook_unavailable", "export webhook request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.DependencyProtocol("export_webhook_error_status", "export webhook returned status %d", resp.StatusCode)
	}
	if a.logger != nil {
		a.logger.Debug("export delivered", zap.String("event_id", event.EventID.String()), zap.Int("status", resp.StatusCode))
	}
	return nil
}

func (a *ExportAdapter) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
