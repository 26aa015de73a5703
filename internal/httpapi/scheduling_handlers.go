package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/cleanops/opscore/internal/scheduling"
	"github.com/cleanops/opscore/internal/tenancy"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// parseTimeWindow parses a "HH:MM-HH:MM" local time-of-day preference, e.g.
// "13:00-17:00" for "afternoon", into a scheduling.TimeWindow.
func parseTimeWindow(raw string) (*scheduling.TimeWindow, error) {
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return nil, apperr.InvalidWindow("invalid_window", "window must be HH:MM-HH:MM")
	}
	start, err := time.Parse("15:04", parts[0])
	if err != nil {
		return nil, apperr.InvalidWindow("invalid_window", "window must be HH:MM-HH:MM")
	}
	end, err := time.Parse("15:04", parts[1])
	if err != nil {
		return nil, apperr.InvalidWindow("invalid_window", "window must be HH:MM-HH:MM")
	}
	return &scheduling.TimeWindow{
		StartMinute: start.Hour()*60 + start.Minute(),
		EndMinute:   end.Hour()*60 + end.Minute(),
	}, nil
}

func orgFromRequest(r *http.Request) uuid.UUID {
	id, _ := tenancy.FromContext(r.Context())
	return id.OrgID
}

func optionalTeamID(r *http.Request) (*uuid.UUID, error) {
	raw := r.URL.Query().Get("team_id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.InvalidWindow("invalid_team_id", "team_id is not a uuid")
	}
	return &id, nil
}

func parseDateParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, apperr.InvalidWindow("invalid_date", "%s must be YYYY-MM-DD", name)
	}
	return t, nil
}

// bookingJSON is the wire shape for a Booking per spec.md §6's snake_case/
// minor-unit-money/RFC-3339 conventions.
type bookingJSON struct {
	BookingID       uuid.UUID `json:"booking_id"`
	TeamID          uuid.UUID `json:"team_id"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	DepositRequired bool      `json:"deposit_required"`
	DepositStatus   string    `json:"deposit_status,omitempty"`
	ServiceType     string    `json:"service_type,omitempty"`
}

func toBookingJSON(b scheduling.Booking) bookingJSON {
	return bookingJSON{
		BookingID:       b.BookingID,
		TeamID:          b.TeamID,
		StartsAt:        b.StartsAt,
		DurationMinutes: b.DurationMinutes,
		Status:          string(b.Status),
		DepositRequired: b.DepositRequired,
		DepositStatus:   string(b.DepositStatus),
		ServiceType:     b.ServiceType,
	}
}

type blackoutJSON struct {
	BlackoutID uuid.UUID `json:"blackout_id"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Reason     string    `json:"reason,omitempty"`
}

func toBlackoutJSON(b scheduling.TeamBlackout) blackoutJSON {
	return blackoutJSON{BlackoutID: b.BlackoutID, StartsAt: b.StartsAt, EndsAt: b.EndsAt, Reason: b.Reason}
}

// handleGetSchedule implements `GET /v1/admin/schedule`.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	teamID, err := optionalTeamID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	date, err := parseDateParam(r, "date", time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	team, bookings, blackouts, err := s.scheduling.GetSchedule(r.Context(), orgFromRequest(r), teamID, date)
	if err != nil {
		writeError(w, err)
		return
	}

	bookingsJSON := make([]bookingJSON, len(bookings))
	for i, b := range bookings {
		bookingsJSON[i] = toBookingJSON(b)
	}
	blackoutsJSON := make([]blackoutJSON, len(blackouts))
	for i, b := range blackouts {
		blackoutsJSON[i] = toBlackoutJSON(b)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"team_id":   team.TeamID,
		"bookings":  bookingsJSON,
		"blackouts": blackoutsJSON,
	})
}

// handleGetSuggestions implements `GET /v1/admin/schedule/suggestions`.
func (s *Server) handleGetSuggestions(w http.ResponseWriter, r *http.Request) {
	teamID, err := optionalTeamID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	date, err := parseDateParam(r, "date", time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	durationMinutes := 60
	if raw := r.URL.Query().Get("duration_minutes"); raw != "" {
		parsed, convErr := strconv.Atoi(raw)
		if convErr != nil {
			writeError(w, apperr.InvalidWindow("invalid_duration", "duration_minutes must be an integer"))
			return
		}
		durationMinutes = parsed
	}

	var window *scheduling.TimeWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		tw, parseErr := parseTimeWindow(raw)
		if parseErr != nil {
			writeError(w, parseErr)
			return
		}
		window = tw
	}

	result, err := s.scheduling.GetSuggestions(r.Context(), orgFromRequest(r), teamID, date, durationMinutes, window)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{"slots": result.Slots}
	if result.Clarifier != nil {
		resp["clarifier"] = map[string]string{"code": string(result.Clarifier.Code), "message": result.Clarifier.Message}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetConflicts implements `GET /v1/admin/schedule/conflicts`.
func (s *Server) handleGetConflicts(w http.ResponseWriter, r *http.Request) {
	teamID, err := optionalTeamID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if teamID == nil {
		writeError(w, apperr.InvalidWindow("team_id_required", "team_id query parameter is required"))
		return
	}
	starts, err := time.Parse(time.RFC3339, r.URL.Query().Get("starts_at"))
	if err != nil {
		writeError(w, apperr.InvalidWindow("invalid_starts_at", "starts_at must be RFC3339"))
		return
	}
	ends, err := time.Parse(time.RFC3339, r.URL.Query().Get("ends_at"))
	if err != nil {
		writeError(w, apperr.InvalidWindow("invalid_ends_at", "ends_at must be RFC3339"))
		return
	}

	conflicts, err := s.scheduling.CheckConflictsForWindow(r.Context(), orgFromRequest(r), *teamID, starts, ends, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]conflictJSON, len(conflicts))
	for i, c := range conflicts {
		out[i] = conflictJSON{Kind: c.Kind, Reference: c.Reference, Starts: c.Starts, Ends: c.Ends, Note: c.Note}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conflicts": out})
}

type conflictJSON struct {
	Kind      string    `json:"kind"`
	Reference uuid.UUID `json:"reference"`
	Starts    time.Time `json:"starts_at"`
	Ends      time.Time `json:"ends_at"`
	Note      string    `json:"note,omitempty"`
}

// handleMoveBooking implements `POST /v1/admin/schedule/{booking_id}/move`.
func (s *Server) handleMoveBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "booking_id"))
	if err != nil {
		writeError(w, apperr.InvalidWindow("invalid_booking_id", "booking_id is not a uuid"))
		return
	}
	var body struct {
		StartsAt        time.Time  `json:"starts_at"`
		DurationMinutes *int       `json:"duration_minutes,omitempty"`
		TeamID          *uuid.UUID `json:"team_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidWindow("invalid_body", "request body is not valid JSON"))
		return
	}
	b, err := s.scheduling.MoveBooking(r.Context(), orgFromRequest(r), bookingID, body.StartsAt, body.DurationMinutes, body.TeamID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingJSON(b))
}

// handleBlockSlot implements `POST /v1/admin/schedule/block`.
func (s *Server) handleBlockSlot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TeamID   uuid.UUID `json:"team_id"`
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
		Reason   string    `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidWindow("invalid_body", "request body is not valid JSON"))
		return
	}
	bo, err := s.scheduling.BlockTeamSlot(r.Context(), orgFromRequest(r), body.TeamID, body.StartsAt, body.EndsAt, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlackoutJSON(bo))
}

// handleBulkUpdate implements `POST /v1/admin/bookings/bulk`.
func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BookingIDs   []uuid.UUID `json:"booking_ids"`
		Status       string      `json:"status"`
		SendReminder bool        `json:"send_reminder"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidWindow("invalid_body", "request body is not valid JSON"))
		return
	}
	items := make([]scheduling.BulkUpdateItem, len(body.BookingIDs))
	for i, id := range body.BookingIDs {
		items[i] = scheduling.BulkUpdateItem{BookingID: id, Action: bulkActionFor(body.Status), SendReminder: body.SendReminder}
	}
	results := s.scheduling.BulkUpdate(r.Context(), orgFromRequest(r), items)

	updated := 0
	remindersSent := 0
	for _, res := range results {
		if res.Error == nil {
			updated++
		}
		if res.ReminderSent {
			remindersSent++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": updated, "reminders_sent": remindersSent})
}

func bulkActionFor(status string) string {
	switch status {
	case "CONFIRMED":
		return "confirm"
	case "CANCELLED":
		return "cancel"
	case "DONE":
		return "complete"
	default:
		return status
	}
}

func (s *Server) handleConfirmBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "booking_id"))
	if err != nil {
		writeError(w, apperr.InvalidWindow("invalid_booking_id", "booking_id is not a uuid"))
		return
	}
	b, err := s.scheduling.ConfirmBooking(r.Context(), orgFromRequest(r), bookingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingJSON(b))
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "booking_id"))
	if err != nil {
		writeError(w, apperr.InvalidWindow("invalid_booking_id", "booking_id is not a uuid"))
		return
	}
	b, err := s.scheduling.CancelBooking(r.Context(), orgFromRequest(r), bookingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingJSON(b))
}

func (s *Server) handleRescheduleBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "booking_id"))
	if err != nil {
		writeError(w, apperr.InvalidWindow("invalid_booking_id", "booking_id is not a uuid"))
		return
	}
	var body struct {
		StartsAt        time.Time `json:"starts_at"`
		DurationMinutes int       `json:"duration_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidWindow("invalid_body", "request body is not valid JSON"))
		return
	}
	b, err := s.scheduling.RescheduleBooking(r.Context(), orgFromRequest(r), bookingID, body.StartsAt, body.DurationMinutes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingJSON(b))
}

func (s *Server) handleCompleteBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "booking_id"))
	if err != nil {
		writeError(w, apperr.InvalidWindow("invalid_booking_id", "booking_id is not a uuid"))
		return
	}
	var body struct {
		ActualMinutes int `json:"actual_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidWindow("invalid_body", "request body is not valid JSON"))
		return
	}
	b, err := s.scheduling.MarkBookingCompleted(r.Context(), orgFromRequest(r), bookingID, body.ActualMinutes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingJSON(b))
}
