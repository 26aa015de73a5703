package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/cleanops/opscore/internal/idempotency"
)

// statusForKind maps apperr.Kind (spec.md §7's error taxonomy) to an HTTP
// status code, so handlers never hand-roll status codes themselves.
func statusForKind(k apperr.Kind) int {
	switch k {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalidWindow, apperr.KindInvalidTransition:
		return http.StatusBadRequest
	case apperr.KindPrecondition:
		return http.StatusPreconditionFailed
	case apperr.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindDependencyProtocol:
		return http.StatusBadGateway
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err as the standard {"error": {code, message}} body,
// translating idempotency.ErrInProgress to a 409 and everything else via
// apperr.KindOf.
func writeError(w http.ResponseWriter, err error) {
	if err == idempotency.ErrInProgress {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": map[string]string{"code": "idempotency_in_progress", "message": "a request with this Idempotency-Key is still in flight"},
		})
		return
	}

	var code, message string
	kind := apperr.KindOf(err)
	var ae *apperr.Error
	if errors.As(err, &ae) {
		code, message = ae.Code, ae.Detail
	} else {
		code, message = "internal_error", "an internal error occurred"
	}
	writeJSON(w, statusForKind(kind), map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}

func errInvalidArgument(code, format string) error {
	return apperr.InvalidWindow(code, "%s", format)
}

func errRateLimited() error {
	return apperr.RateLimited("rate_limited", "rate limit exceeded")
}
