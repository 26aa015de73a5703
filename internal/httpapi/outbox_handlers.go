package httpapi

import (
	"net/http"
	"time"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/cleanops/opscore/internal/outbox"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type outboxEventJSON struct {
	EventID       uuid.UUID `json:"event_id"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     *string   `json:"last_error,omitempty"`
	DedupeKey     string    `json:"dedupe_key"`
	CreatedAt     time.Time `json:"created_at"`
}

func toOutboxEventJSON(e outbox.Event) outboxEventJSON {
	return outboxEventJSON{
		EventID:       e.EventID,
		Kind:          string(e.Kind),
		Status:        string(e.Status),
		Attempts:      e.Attempts,
		NextAttemptAt: e.NextAttemptAt,
		LastError:     e.LastError,
		DedupeKey:     e.DedupeKey,
		CreatedAt:     e.CreatedAt,
	}
}

// handleListDeadLetters implements `GET /v1/admin/outbox/dead-letter`: dead
// events of kind email only (at most 100). Export dead letters have their
// own endpoint below; no other kind is listed here.
func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	events, err := s.outbox.ListDead(r.Context(), orgFromRequest(r), outbox.KindEmail, 100)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]outboxEventJSON, len(events))
	for i, e := range events {
		out[i] = toOutboxEventJSON(e)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dead_letters": out})
}

// handleReplayOutboxEvent implements
// `POST /v1/admin/outbox/{event_id}/replay`.
func (s *Server) handleReplayOutboxEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "event_id"))
	if err != nil {
		writeError(w, apperr.InvalidWindow("invalid_event_id", "event_id is not a uuid"))
		return
	}
	if err := s.outbox.ReplayEvent(r.Context(), orgFromRequest(r), eventID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

// handleListExportDeadLetters implements `GET /v1/admin/export-dead-letter`.
func (s *Server) handleListExportDeadLetters(w http.ResponseWriter, r *http.Request) {
	events, err := s.outbox.ListDead(r.Context(), orgFromRequest(r), outbox.KindExport, 100)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]outboxEventJSON, len(events))
	for i, e := range events {
		out[i] = toOutboxEventJSON(e)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dead_letters": out})
}

// handleReplayExportEvent implements
// `POST /v1/admin/export-dead-letter/{event_id}/replay`.
func (s *Server) handleReplayExportEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "event_id"))
	if err != nil {
		writeError(w, apperr.InvalidWindow("invalid_event_id", "event_id is not a uuid"))
		return
	}
	if err := s.outbox.ReplayEvent(r.Context(), orgFromRequest(r), eventID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}
