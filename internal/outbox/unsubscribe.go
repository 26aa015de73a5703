package outbox

import (
	"context"
	"errors"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/jackc/pgx/v5"
)

// StoreUnsubscribeChecker implements UnsubscribeChecker against the
// email_unsubscribes table, satisfying spec.md §4.4's "check unsubscribe
// scope before sending" step. Kept in this package rather than the email
// adapter file since it depends on txRunner, not the Resend client.
type StoreUnsubscribeChecker struct {
	store txRunner
}

func NewStoreUnsubscribeChecker(store txRunner) *StoreUnsubscribeChecker {
	return &StoreUnsubscribeChecker{store: store}
}

// IsUnsubscribed reports whether recipient has opted out of emailType (or
// every type, via the wildcard row) for orgID.
func (c *StoreUnsubscribeChecker) IsUnsubscribed(ctx context.Context, orgID, recipient, emailType string) (bool, error) {
	var unsubscribed bool
	err := c.store.WithTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT EXISTS(
			   SELECT 1 FROM email_unsubscribes
			   WHERE org_id = $1 AND recipient = $2 AND email_type IN ($3, '*')
			 )`,
			orgID, recipient, emailType,
		).Scan(&unsubscribed)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Internal(err)
	}
	return unsubscribed, nil
}
