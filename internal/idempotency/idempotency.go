// Package idempotency implements spec.md §6's Idempotency-Key contract:
// the server records (org, action, key) -> first response body and replays
// it verbatim if re-seen within the TTL.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/cleanops/opscore/pkg/cache"
)

// DefaultTTL mirrors the teacher's webhookProcessedTTL magnitude — long
// enough to cover client retry windows, short enough not to leak forever.
const DefaultTTL = 24 * time.Hour

// reservationTTL bounds how long a reservation holds before a crashed
// in-flight request is treated as abandoned, mirroring the teacher's
// webhookProcessingTTL.
const reservationTTL = 2 * time.Minute

// Record is the cached first response for a given (org, action, key).
type Record struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

// Store adapts the teacher's reserveEvent/finalizeEvent SetNX-then-finalize
// pattern (billing/webhooks.go) from Stripe event ids to arbitrary
// client-supplied Idempotency-Key values scoped by (org, action).
type Store struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewStore(c *cache.Cache) *Store {
	return &Store{cache: c, ttl: DefaultTTL}
}

// ErrInProgress is returned when a concurrent request is still processing
// the same (org, action, key) and has not yet finalized a response.
var ErrInProgress = fmt.Errorf("idempotency key reservation in progress")

// Begin reserves (org, action, key) for this request. found=true with a
// non-nil Record means a prior response should be replayed verbatim.
// found=false means the caller should proceed and call Finish when done.
func (s *Store) Begin(ctx context.Context, orgID, action, key string) (rec *Record, found bool, err error) {
	cacheKey := redisKey(orgID, action, key)

	if raw, getErr := s.cache.Get(ctx, cacheKey); getErr == nil {
		if raw == reservationMarker {
			return nil, false, ErrInProgress
		}
		var r Record
		if jsonErr := json.Unmarshal([]byte(raw), &r); jsonErr != nil {
			return nil, false, apperr.Internal(jsonErr)
		}
		return &r, true, nil
	}

	acquired, setErr := s.cache.SetNX(ctx, cacheKey, reservationMarker, reservationTTL)
	if setErr != nil {
		return nil, false, apperr.DependencyUnavailable("idempotency_cache_unavailable", "idempotency cache error: %v", setErr)
	}
	if !acquired {
		return nil, false, ErrInProgress
	}
	return nil, false, nil
}

// Finish records the status code and response body, replacing the
// in-progress marker, so a re-seen key replays them. It stores whatever
// status it is given; dropping a reservation without a record is Release's
// job.
func (s *Store) Finish(ctx context.Context, orgID, action, key string, statusCode int, body json.RawMessage) error {
	cacheKey := redisKey(orgID, action, key)
	rec := Record{StatusCode: statusCode, Body: body}
	raw, err := json.Marshal(rec)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.cache.Set(ctx, cacheKey, raw, s.ttl); err != nil {
		return apperr.DependencyUnavailable("idempotency_cache_unavailable", "idempotency cache error: %v", err)
	}
	return nil
}

// Release drops the reservation without recording a response, used when
// the handler fails before producing a replayable result.
func (s *Store) Release(ctx context.Context, orgID, action, key string) error {
	return s.cache.Delete(ctx, redisKey(orgID, action, key))
}

const reservationMarker = "__reserved__"

func redisKey(orgID, action, key string) string {
	return fmt.Sprintf("idempotency:%s:%s:%s", orgID, action, key)
}
