// Package tenancy resolves the acting identity for every request and
// enforces the "no cross-org reference is ever legal" invariant from
// spec.md §3/§4.5.
package tenancy

import (
	"context"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/google/uuid"
)

// Identity is the opaque caller resolved by whatever auth scheme fronts the
// service (out of scope per spec.md §1). Bound identities carry a fixed org;
// unbound identities (service tokens, operator consoles scoped to "all
// orgs") may supply an org override via X-Test-Org.
type Identity struct {
	Subject string
	Role    string
	OrgID   uuid.UUID
	Bound   bool
}

type ctxKey int

const identityKey ctxKey = iota

// WithIdentity attaches the resolved identity to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity previously attached with WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// ResolveOrg applies spec.md §4.5's override rule: a bound identity's org
// cannot be overridden; an unbound identity must supply an override, as
// there is no default org to fall back to.
func ResolveOrg(id Identity, overrideOrgID *uuid.UUID) (uuid.UUID, error) {
	if id.Bound {
		if overrideOrgID != nil && *overrideOrgID != id.OrgID {
			return uuid.Nil, apperr.Forbidden("org_override_forbidden", "identity is already org-bound")
		}
		return id.OrgID, nil
	}
	if overrideOrgID == nil {
		return uuid.Nil, apperr.Forbidden("org_required", "unbound identity must supply X-Test-Org")
	}
	return *overrideOrgID, nil
}

// LockOrder documents the canonical row-lock order required by spec.md
// §4.5/§9 to avoid deadlocks: Team -> Booking -> Payment -> Invoice ->
// StripeEvent. It exists so call sites can reference a single source of
// truth in comments/tests rather than restating the order ad hoc.
const LockOrder = "team -> booking -> payment -> invoice -> stripe_event"
