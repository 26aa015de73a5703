package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cleanops/opscore/internal/apperr"
	"github.com/cleanops/opscore/internal/clockcal"
	"github.com/cleanops/opscore/internal/policy"
	"github.com/cleanops/opscore/internal/tenancy"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// txRunner is the slice of *storage.Store this package needs. Accepting the
// interface rather than the concrete type lets tests substitute a fake
// pgx.Tx without standing up Postgres, the way the teacher's handlers take
// a narrow DB interface rather than *pgxpool.Pool directly.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Enqueuer is the outbox's enqueue contract (spec.md §4.4), accepted as an
// interface rather than importing internal/outbox directly, the same seam
// internal/payments uses. Nil is a valid Service.outbox: a Service built
// without one (e.g. in tests) simply never sends reminder emails.
type Enqueuer interface {
	EnqueueEmail(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, dedupeKey, recipient, subject, body string, bookingID, invoiceID *uuid.UUID, emailType string) error
}

// Service implements the Scheduling Engine's DB-backed operations
// (spec.md §4.1). It is grounded on original_source's ensure_default_team/
// create_booking/reschedule_booking/cancel_booking lock discipline: Team
// rows are locked with SELECT ... FOR UPDATE before slot validation, and
// default-team bootstrap retries on a unique-constraint conflict rather
// than failing outright, per tenancy.LockOrder.
type Service struct {
	store  txRunner
	clock  clockcal.Clock
	cal    *clockcal.Calendar
	cfg    policy.PolicyConfigView
	outbox Enqueuer
	logger *zap.Logger
}

// PolicyConfigView is the subset of policy configuration the scheduling
// service needs when it calls into the Policy Engine on booking creation.
// Kept separate from internal/config.PolicyConfig so this package does not
// import the config package directly (config is an application concern;
// scheduling only needs the numbers).
type PolicyConfigView = policy.PolicyConfigView

// NewService wires the scheduling engine's dependencies. outbox may be nil
// when nothing calls BulkUpdate with SendReminder set (e.g. tests).
func NewService(store txRunner, clock clockcal.Clock, cal *clockcal.Calendar, cfg PolicyConfigView, outbox Enqueuer, logger *zap.Logger) *Service {
	return &Service{store: store, clock: clock, cal: cal, cfg: cfg, outbox: outbox, logger: logger}
}

// ensureDefaultTeam returns the org's first team, creating one if none
// exists. Grounded on original_source's ensure_default_team: on a unique
// name conflict from a concurrent bootstrap, it re-reads rather than
// failing, making bootstrap idempotent under concurrency per spec.md
// §4.1 step 1.
func (s *Service) ensureDefaultTeam(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, lock bool) (Team, error) {
	team, err := s.findFirstTeam(ctx, tx, orgID, lock)
	if err == nil {
		return team, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Team{}, err
	}

	newID := uuid.New()
	name := "Default Team"
	_, insertErr := tx.Exec(ctx,
		`INSERT INTO teams (team_id, org_id, name) VALUES ($1, $2, $3)
		 ON CONFLICT (org_id, name) DO NOTHING`,
		newID, orgID, name,
	)
	if insertErr != nil {
		return Team{}, apperr.Internal(insertErr)
	}
	return s.findFirstTeam(ctx, tx, orgID, lock)
}

func (s *Service) findFirstTeam(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, lock bool) (Team, error) {
	query := `SELECT team_id, org_id, name FROM teams WHERE org_id = $1 ORDER BY team_id LIMIT 1`
	if lock {
		query += ` FOR UPDATE`
	}
	var t Team
	err := tx.QueryRow(ctx, query, orgID).Scan(&t.TeamID, &t.OrgID, &t.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Team{}, pgx.ErrNoRows
		}
		return Team{}, apperr.Internal(err)
	}
	return t, nil
}

func (s *Service) lockTeam(ctx context.Context, tx pgx.Tx, orgID, teamID uuid.UUID) (Team, error) {
	var t Team
	err := tx.QueryRow(ctx,
		`SELECT team_id, org_id, name FROM teams WHERE team_id = $1 AND org_id = $2 FOR UPDATE`,
		teamID, orgID,
	).Scan(&t.TeamID, &t.OrgID, &t.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Team{}, apperr.NotFound("team_not_found", "team %s not found in org %s", teamID, orgID)
	}
	if err != nil {
		return Team{}, apperr.Internal(err)
	}
	return t, nil
}

func (s *Service) bookingsForDay(ctx context.Context, tx pgx.Tx, orgID, teamID uuid.UUID, dayStart, dayEnd time.Time) ([]Booking, error) {
	rows, err := tx.Query(ctx,
		`SELECT booking_id, org_id, team_id, starts_at, duration_minutes, status
		 FROM bookings
		 WHERE org_id = $1 AND team_id = $2 AND status IN ('PENDING','CONFIRMED')
		   AND starts_at < $4 AND starts_at + (duration_minutes || ' minutes')::interval > $3`,
		orgID, teamID, dayStart, dayEnd,
	)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.BookingID, &b.OrgID, &b.TeamID, &b.StartsAt, &b.DurationMinutes, &b.Status); err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Service) blackoutsForWindow(ctx context.Context, tx pgx.Tx, teamID uuid.UUID, start, end time.Time) ([]TeamBlackout, error) {
	rows, err := tx.Query(ctx,
		`SELECT blackout_id, team_id, starts_at, ends_at, reason FROM team_blackouts
		 WHERE team_id = $1 AND starts_at < $3 AND ends_at > $2`,
		teamID, start, end,
	)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()

	var out []TeamBlackout
	for rows.Next() {
		var bo TeamBlackout
		if err := rows.Scan(&bo.BlackoutID, &bo.TeamID, &bo.StartsAt, &bo.EndsAt, &bo.Reason); err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, bo)
	}
	return out, nil
}

// workingHoursForWeekday loads the team's rule for a weekday, falling back
// to DefaultWorkingHours (09:00-18:00 local) when none is configured.
func (s *Service) workingHoursForWeekday(ctx context.Context, tx pgx.Tx, teamID uuid.UUID, weekday time.Weekday) (WorkingHours, error) {
	var startMin, endMin int
	var closed bool
	err := tx.QueryRow(ctx,
		`SELECT start_minute, end_minute, closed FROM team_working_hours WHERE team_id = $1 AND weekday = $2`,
		teamID, int(weekday),
	).Scan(&startMin, &endMin, &closed)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultWorkingHours, nil
	}
	if err != nil {
		return WorkingHours{}, apperr.Internal(err)
	}
	return WorkingHours{StartMinute: startMin, EndMinute: endMin, Closed: closed}, nil
}

// CreateBookingInput is everything create_booking needs (spec.md §4.1).
type CreateBookingInput struct {
	OrgID           uuid.UUID
	TeamID          *uuid.UUID
	StartsAt        time.Time
	DurationMinutes int
	LeadID          *uuid.UUID
	ClientID        *uuid.UUID
	ServiceType     string
	EstimatedTotalCents *int64
	FirstTimeClient bool
	RiskInputs      policy.RiskInputs
}

// CreateBooking implements spec.md §4.1's create_booking: serialized per
// team via a Team row lock, policy/risk evaluated inline, slot
// availability re-checked inside the same transaction, and the booking
// inserted as PENDING with its snapshots.
func (s *Service) CreateBooking(ctx context.Context, in CreateBookingInput) (Booking, error) {
	if in.DurationMinutes <= 0 {
		return Booking{}, apperr.InvalidWindow("invalid_duration", "duration_minutes must be positive")
	}

	var result Booking
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		team, err := s.resolveTeam(ctx, tx, in.OrgID, in.TeamID, true)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		risk := policy.EvaluateRisk(in.RiskInputs)
		snapshot := policy.BuildBookingPolicySnapshot(policy.BuildSnapshotInputs{
			StartsAt:            in.StartsAt,
			Now:                 now,
			ServiceType:         in.ServiceType,
			EstimatedTotalCents: in.EstimatedTotalCents,
			FirstTimeClient:     in.FirstTimeClient,
			RiskRequired:        risk.RequiresDeposit,
			ConfiguredPercent:   s.cfg.DepositPercent,
			DepositsEnabled:     s.cfg.DepositsEnabled,
			MinDepositCents:     s.cfg.MinDepositCents,
			MaxDepositCents:     s.cfg.MaxDepositCents,
			HighValueThresholdCents: s.cfg.HighValueThresholdCents,
		})

		available, err := s.isSlotAvailableTx(ctx, tx, in.OrgID, team.TeamID, in.StartsAt, in.DurationMinutes, nil)
		if err != nil {
			return err
		}
		if !available {
			return apperr.Conflict("slot_unavailable", "requested slot is no longer available")
		}

		depositStatus := DepositStatusNone
		if snapshot.Deposit.Required {
			depositStatus = DepositStatusPending
		}

		b := Booking{
			BookingID:       uuid.New(),
			OrgID:           in.OrgID,
			TeamID:          team.TeamID,
			LeadID:          in.LeadID,
			ClientID:        in.ClientID,
			StartsAt:        in.StartsAt,
			DurationMinutes: in.DurationMinutes,
			Status:          StatusPending,
			DepositRequired: snapshot.Deposit.Required,
			DepositCents:    snapshot.Deposit.AmountCents,
			DepositStatus:   depositStatus,
			DepositPolicy:   snapshot.Deposit.Reasons,
			PolicySnapshot:  snapshot,
			RiskScore:       risk.Score,
			RiskBand:        risk.Band,
			RiskReasons:     risk.Reasons,
			ServiceType:     in.ServiceType,
		}

		if err := s.insertBooking(ctx, tx, b); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return Booking{}, err
	}
	return result, nil
}

func (s *Service) resolveTeam(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, teamID *uuid.UUID, lock bool) (Team, error) {
	if teamID != nil {
		return s.lockTeam(ctx, tx, orgID, *teamID)
	}
	return s.ensureDefaultTeam(ctx, tx, orgID, lock)
}

func (s *Service) isSlotAvailableTx(ctx context.Context, tx pgx.Tx, orgID, teamID uuid.UUID, starts time.Time, durationMinutes int, excludeBookingID *uuid.UUID) (bool, error) {
	localDate := s.cal.LocalDate(starts)
	wh, err := s.workingHoursForWeekday(ctx, tx, teamID, s.cal.Weekday(starts))
	if err != nil {
		return false, err
	}
	dayStart, dayEnd, ok := s.cal.DayWindow(localDate, clockcal.WorkingHours{StartMinute: wh.StartMinute, EndMinute: wh.EndMinute, Closed: wh.Closed})
	if !ok {
		return false, nil
	}
	bookings, err := s.bookingsForDay(ctx, tx, orgID, teamID, dayStart, dayEnd)
	if err != nil {
		return false, err
	}
	blackouts, err := s.blackoutsForWindow(ctx, tx, teamID, dayStart, dayEnd)
	if err != nil {
		return false, err
	}
	return IsSlotAvailable(s.cal, starts, durationMinutes, wh, bookings, blackouts, excludeBookingID), nil
}

func (s *Service) insertBooking(ctx context.Context, tx pgx.Tx, b Booking) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO bookings (
			booking_id, org_id, team_id, lead_id, client_id, starts_at, duration_minutes,
			status, deposit_required, deposit_cents, deposit_status, deposit_policy,
			policy_snapshot, risk_score, risk_band, risk_reasons, service_type
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		b.BookingID, b.OrgID, b.TeamID, b.LeadID, b.ClientID, b.StartsAt, b.DurationMinutes,
		b.Status, b.DepositRequired, b.DepositCents, string(b.DepositStatus), b.DepositPolicy,
		b.PolicySnapshot, b.RiskScore, string(b.RiskBand), b.RiskReasons, b.ServiceType,
	)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Service) loadBookingForUpdate(ctx context.Context, tx pgx.Tx, orgID, bookingID uuid.UUID) (Booking, error) {
	var b Booking
	err := tx.QueryRow(ctx,
		`SELECT booking_id, org_id, team_id, starts_at, duration_minutes, status,
		        deposit_required, deposit_status, risk_band
		 FROM bookings WHERE booking_id = $1 AND org_id = $2 FOR UPDATE`,
		bookingID, orgID,
	).Scan(&b.BookingID, &b.OrgID, &b.TeamID, &b.StartsAt, &b.DurationMinutes, &b.Status,
		&b.DepositRequired, &b.DepositStatus, &b.RiskBand)
	if errors.Is(err, pgx.ErrNoRows) {
		return Booking{}, apperr.NotFound("booking_not_found", "booking %s not found in org %s", bookingID, orgID)
	}
	if err != nil {
		return Booking{}, apperr.Internal(err)
	}
	return b, nil
}

// MoveBooking implements spec.md §4.1's move_booking: re-locks the target
// team, re-validates availability excluding the moving booking, forbids
// cross-org moves (enforced by loadBookingForUpdate's org-scoped lookup).
func (s *Service) MoveBooking(ctx context.Context, orgID, bookingID uuid.UUID, starts time.Time, durationMinutes *int, teamID *uuid.UUID) (Booking, error) {
	var result Booking
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		b, err := s.loadBookingForUpdate(ctx, tx, orgID, bookingID)
		if err != nil {
			return err
		}
		team, err := s.resolveTeam(ctx, tx, orgID, teamID, true)
		if err != nil {
			return err
		}
		duration := b.DurationMinutes
		if durationMinutes != nil {
			if *durationMinutes <= 0 {
				return apperr.InvalidWindow("invalid_duration", "duration_minutes must be positive")
			}
			duration = *durationMinutes
		}

		available, err := s.isSlotAvailableTx(ctx, tx, orgID, team.TeamID, starts, duration, &bookingID)
		if err != nil {
			return err
		}
		if !available {
			return apperr.Conflict("slot_unavailable", "requested slot is no longer available")
		}

		_, err = tx.Exec(ctx,
			`UPDATE bookings SET starts_at = $1, duration_minutes = $2, team_id = $3 WHERE booking_id = $4`,
			starts, duration, team.TeamID, bookingID,
		)
		if err != nil {
			return apperr.Internal(err)
		}
		b.StartsAt, b.DurationMinutes, b.TeamID = starts, duration, team.TeamID
		result = b
		return nil
	})
	return result, err
}

// RescheduleBooking implements spec.md §4.1's reschedule_booking. Per the
// DESIGN.md decision on the open question, this never re-runs the Policy
// Engine: it only re-validates slot availability (excluding the booking
// being moved) and updates starts_at/duration_minutes, preserving any
// operator deposit override exactly as it is.
func (s *Service) RescheduleBooking(ctx context.Context, orgID, bookingID uuid.UUID, starts time.Time, durationMinutes int) (Booking, error) {
	if durationMinutes <= 0 {
		return Booking{}, apperr.InvalidWindow("invalid_duration", "duration_minutes must be positive")
	}
	var result Booking
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		b, err := s.loadBookingForUpdate(ctx, tx, orgID, bookingID)
		if err != nil {
			return err
		}
		if b.Status == StatusCancelled || b.Status == StatusDone {
			return apperr.InvalidTransition("cannot_reschedule_terminal", "cannot reschedule a %s booking", b.Status)
		}

		team, err := s.lockTeam(ctx, tx, orgID, b.TeamID)
		if err != nil {
			return err
		}
		available, err := s.isSlotAvailableTx(ctx, tx, orgID, team.TeamID, starts, durationMinutes, &bookingID)
		if err != nil {
			return err
		}
		if !available {
			return apperr.Conflict("slot_unavailable", "requested slot is no longer available")
		}

		_, err = tx.Exec(ctx, `UPDATE bookings SET starts_at = $1, duration_minutes = $2 WHERE booking_id = $3`, starts, durationMinutes, bookingID)
		if err != nil {
			return apperr.Internal(err)
		}
		b.StartsAt, b.DurationMinutes = starts, durationMinutes
		result = b
		return nil
	})
	return result, err
}

// CancelBooking implements spec.md §4.1's cancel_booking.
func (s *Service) CancelBooking(ctx context.Context, orgID, bookingID uuid.UUID) (Booking, error) {
	var result Booking
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		b, err := s.loadBookingForUpdate(ctx, tx, orgID, bookingID)
		if err != nil {
			return err
		}
		if err := AssertValidTransition(b.Status, StatusCancelled); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE bookings SET status = $1 WHERE booking_id = $2`, StatusCancelled, bookingID); err != nil {
			return apperr.Internal(err)
		}
		b.Status = StatusCancelled
		result = b
		return nil
	})
	return result, err
}

// ConfirmBooking applies the confirm precondition from spec.md §4.1: a
// deposit-required booking may not confirm until paid, and a HIGH risk
// band always requires an explicit operator confirm (this function IS
// that explicit confirm; the deposit-paid webhook never calls it for a
// HIGH risk booking on its own, see internal/payments).
func (s *Service) ConfirmBooking(ctx context.Context, orgID, bookingID uuid.UUID) (Booking, error) {
	var result Booking
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		b, err := s.loadBookingForUpdate(ctx, tx, orgID, bookingID)
		if err != nil {
			return err
		}
		if err := AssertCanConfirm(b); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE bookings SET status = $1 WHERE booking_id = $2`, StatusConfirmed, bookingID); err != nil {
			return apperr.Internal(err)
		}
		b.Status = StatusConfirmed
		result = b
		return nil
	})
	return result, err
}

// MarkBookingCompleted implements spec.md §4.1's mark_booking_completed.
func (s *Service) MarkBookingCompleted(ctx context.Context, orgID, bookingID uuid.UUID, actualMinutes int) (Booking, error) {
	var result Booking
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		b, err := s.loadBookingForUpdate(ctx, tx, orgID, bookingID)
		if err != nil {
			return err
		}
		if err := AssertCanComplete(b, actualMinutes); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE bookings SET status = $1, actual_duration_minutes = $2 WHERE booking_id = $3`,
			StatusDone, actualMinutes, bookingID,
		); err != nil {
			return apperr.Internal(err)
		}
		b.Status = StatusDone
		b.ActualDurationMinutes = &actualMinutes
		result = b
		return nil
	})
	return result, err
}

// BlockTeamSlot implements spec.md §4.1's block_team_slot: inserts a
// TeamBlackout after confirming it doesn't overlap an existing booking or
// blackout.
func (s *Service) BlockTeamSlot(ctx context.Context, orgID, teamID uuid.UUID, starts, ends time.Time, reason string) (TeamBlackout, error) {
	if !ends.After(starts) {
		return TeamBlackout{}, apperr.InvalidWindow("invalid_window", "ends_at must be after starts_at")
	}
	var result TeamBlackout
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.lockTeam(ctx, tx, orgID, teamID); err != nil {
			return err
		}
		bookings, err := s.bookingsForDay(ctx, tx, orgID, teamID, starts, ends)
		if err != nil {
			return err
		}
		blackouts, err := s.blackoutsForWindow(ctx, tx, teamID, starts, ends)
		if err != nil {
			return err
		}
		conflicts := CheckConflicts(starts, ends, bookings, blackouts, nil)
		if len(conflicts) > 0 {
			return apperr.Conflict("blackout_overlap", "window overlaps %d existing booking(s)/blackout(s)", len(conflicts))
		}
		bo := TeamBlackout{BlackoutID: uuid.New(), TeamID: teamID, StartsAt: starts, EndsAt: ends, Reason: reason}
		if _, err := tx.Exec(ctx,
			`INSERT INTO team_blackouts (blackout_id, team_id, starts_at, ends_at, reason) VALUES ($1,$2,$3,$4,$5)`,
			bo.BlackoutID, bo.TeamID, bo.StartsAt, bo.EndsAt, bo.Reason,
		); err != nil {
			return apperr.Internal(err)
		}
		result = bo
		return nil
	})
	return result, err
}

// CheckConflictsForWindow is the DB-backed entry point for the
// `check_conflicts` operation (spec.md §4.1).
func (s *Service) CheckConflictsForWindow(ctx context.Context, orgID, teamID uuid.UUID, starts, ends time.Time, excludeBookingID *uuid.UUID) ([]Conflict, error) {
	if !ends.After(starts) {
		return nil, apperr.InvalidWindow("invalid_window", "ends_at must be after starts_at")
	}
	var conflicts []Conflict
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		bookings, err := s.bookingsForDay(ctx, tx, orgID, teamID, starts, ends)
		if err != nil {
			return err
		}
		blackouts, err := s.blackoutsForWindow(ctx, tx, teamID, starts, ends)
		if err != nil {
			return err
		}
		conflicts = CheckConflicts(starts, ends, bookings, blackouts, excludeBookingID)
		return nil
	})
	return conflicts, err
}

// GetSchedule is the DB-backed entry point for `GET /v1/admin/schedule`:
// the team's bookings and blackouts for one local day.
func (s *Service) GetSchedule(ctx context.Context, orgID uuid.UUID, teamID *uuid.UUID, date time.Time) (Team, []Booking, []TeamBlackout, error) {
	var team Team
	var bookings []Booking
	var blackouts []TeamBlackout
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		team, err = s.resolveTeam(ctx, tx, orgID, teamID, false)
		if err != nil {
			return err
		}
		wh, err := s.workingHoursForWeekday(ctx, tx, team.TeamID, s.cal.Weekday(date))
		if err != nil {
			return err
		}
		dayStart, dayEnd, ok := s.cal.DayWindow(s.cal.LocalDate(date), clockcal.WorkingHours{StartMinute: wh.StartMinute, EndMinute: wh.EndMinute, Closed: wh.Closed})
		if !ok {
			return nil
		}
		bookings, err = s.bookingsForDay(ctx, tx, orgID, team.TeamID, dayStart, dayEnd)
		if err != nil {
			return err
		}
		blackouts, err = s.blackoutsForWindow(ctx, tx, team.TeamID, dayStart, dayEnd)
		return err
	})
	return team, bookings, blackouts, err
}

// GetSuggestions is the DB-backed entry point for
// `GET /v1/admin/schedule/suggestions`: generates the day's open slots and
// runs SuggestSlots against an optional time-of-day window.
func (s *Service) GetSuggestions(ctx context.Context, orgID uuid.UUID, teamID *uuid.UUID, date time.Time, durationMinutes int, window *TimeWindow) (SuggestionResult, error) {
	if durationMinutes <= 0 {
		return SuggestionResult{}, apperr.InvalidWindow("invalid_duration", "duration_minutes must be positive")
	}
	var result SuggestionResult
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		team, err := s.resolveTeam(ctx, tx, orgID, teamID, false)
		if err != nil {
			return err
		}
		wh, err := s.workingHoursForWeekday(ctx, tx, team.TeamID, s.cal.Weekday(date))
		if err != nil {
			return err
		}
		localDate := s.cal.LocalDate(date)
		dayStart, dayEnd, ok := s.cal.DayWindow(localDate, clockcal.WorkingHours{StartMinute: wh.StartMinute, EndMinute: wh.EndMinute, Closed: wh.Closed})
		if !ok {
			result = SuggestionResult{Clarifier: &Clarifier{Code: ClarifierNoSlotsOnDate, Message: "No open slots on that day. Would you like another date?"}}
			return nil
		}
		bookings, err := s.bookingsForDay(ctx, tx, orgID, team.TeamID, dayStart, dayEnd)
		if err != nil {
			return err
		}
		blackouts, err := s.blackoutsForWindow(ctx, tx, team.TeamID, dayStart, dayEnd)
		if err != nil {
			return err
		}
		slots := GenerateSlots(s.cal, localDate, durationMinutes, wh, bookings, blackouts, nil)
		result = SuggestSlots(slots, window, s.cal.LocalDate)
		return nil
	})
	return result, err
}

// BulkUpdateItem is one entry in a `POST /v1/admin/bookings/bulk` request.
// SendReminder only takes effect when Action is "confirm"; cancelling or
// completing a booking has no reminder to send.
type BulkUpdateItem struct {
	BookingID    uuid.UUID
	Action       string // "confirm", "cancel", "complete"
	SendReminder bool
}

// BulkUpdateResult reports one item's outcome; Error is nil on success.
// ReminderSent is true only when a reminder email was actually enqueued,
// never merely when the caller requested one.
type BulkUpdateResult struct {
	BookingID    uuid.UUID
	ReminderSent bool
	Error        error
}

// BulkUpdate applies a batch of single-booking transitions independently:
// one item's failure does not roll back another's success, mirroring the
// teacher's per-item error collection in its bulk admin handlers. A
// requested reminder is enqueued through the outbox only after the
// transition itself succeeds, and its own failure does not undo the
// transition — it is logged and the item is still reported as having
// failed to send a reminder.
func (s *Service) BulkUpdate(ctx context.Context, orgID uuid.UUID, items []BulkUpdateItem) []BulkUpdateResult {
	results := make([]BulkUpdateResult, 0, len(items))
	for _, item := range items {
		var err error
		switch item.Action {
		case "confirm":
			_, err = s.ConfirmBooking(ctx, orgID, item.BookingID)
		case "cancel":
			_, err = s.CancelBooking(ctx, orgID, item.BookingID)
		case "complete":
			_, err = s.MarkBookingCompleted(ctx, orgID, item.BookingID, 0)
		default:
			err = apperr.InvalidTransition("unknown_bulk_action", "unknown bulk action %q", item.Action)
		}

		reminderSent := false
		if err == nil && item.Action == "confirm" && item.SendReminder && s.outbox != nil {
			bookingID := item.BookingID
			dedupe := fmt.Sprintf("booking:%s:reminder:bulk", bookingID.String())
			sendErr := s.store.WithTx(ctx, func(tx pgx.Tx) error {
				return s.outbox.EnqueueEmail(ctx, tx, orgID, dedupe, "", "Booking reminder",
					"This is a reminder about your upcoming booking", &bookingID, nil, "reminder")
			})
			if sendErr != nil {
				s.logger.Warn("failed to enqueue bulk reminder email",
					zap.String("booking_id", bookingID.String()), zap.Error(sendErr))
			} else {
				reminderSent = true
			}
		}

		results = append(results, BulkUpdateResult{BookingID: item.BookingID, ReminderSent: reminderSent, Error: err})
	}
	return results
}

// This blank reference to tenancy.LockOrder documents why
// BlockTeamSlot/CreateBooking lock Team before touching Booking rows.
var _ = tenancy.LockOrder
