package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicops/clinicops/internal/platform/db"
	"github.com/clinicops/clinicops/internal/platform/notification"
)

var (
	ErrIntentNotFound      = errors.New("intent not found")
	ErrIntentNotOpen       = errors.New("intent not open")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrSlotAlreadyBooked   = errors.New("slot already booked")
	ErrOneHardNext         = errors.New("one-hard-next violation")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrNotPending          = errors.New("appointment not pending")
	ErrEpisodeNotFound     = errors.New("episode not found")
)

type Service struct {
	slots    SlotRepository
	intents  IntentRepository
	appts    AppointmentRepository
	audits   AuditRepository
	episodes EpisodeGateway
	risk     RiskAssessor
	notifier notification.Dispatcher
	tx       db.TxRunner
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(
	slots SlotRepository,
	intents IntentRepository,
	appts AppointmentRepository,
	audits AuditRepository,
	episodes EpisodeGateway,
	risk RiskAssessor,
	notifier notification.Dispatcher,
	tx db.TxRunner,
	logger zerolog.Logger,
) *Service {
	return &Service{
		slots:    slots,
		intents:  intents,
		appts:    appts,
		audits:   audits,
		episodes: episodes,
		risk:     risk,
		notifier: notifier,
		tx:       tx,
		logger:   logger,
		now:      time.Now,
	}
}

// -- Slots --

func (s *Service) CreateSlot(ctx context.Context, sl *Slot) error {
	if sl.ProviderID == uuid.Nil {
		return fmt.Errorf("provider_id is required")
	}
	if sl.StartTime.IsZero() {
		return fmt.Errorf("start_time is required")
	}
	if sl.DurationMinutes <= 0 {
		return fmt.Errorf("duration_minutes must be positive")
	}
	if sl.State == "" {
		sl.State = SlotFree
	}
	return s.slots.Create(ctx, sl)
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.slots.GetByID(ctx, id)
}

func (s *Service) ListSlots(ctx context.Context, providerID *uuid.UUID, state string, limit, offset int) ([]*Slot, int, error) {
	return s.slots.List(ctx, providerID, state, limit, offset)
}

// BlockSlot marks a slot as conflicting with an external calendar. Blocked
// slots are never bookable.
func (s *Service) BlockSlot(ctx context.Context, id uuid.UUID) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		sl, err := s.slots.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if sl.State == SlotBooked {
			return ErrSlotAlreadyBooked
		}
		return s.slots.UpdateState(ctx, id, SlotBlocked)
	})
}

// -- Intents --

func (s *Service) CreateIntent(ctx context.Context, in *SlotIntent) error {
	if in.EpisodeID == uuid.Nil {
		return fmt.Errorf("episode_id is required")
	}
	if in.StepCode == "" {
		return fmt.Errorf("step_code is required")
	}
	if in.DurationMinutes <= 0 {
		return fmt.Errorf("duration_minutes must be positive")
	}
	if !in.WindowEnd.After(in.WindowStart) {
		return fmt.Errorf("window_end must be after window_start")
	}
	in.State = IntentOpen
	return s.intents.Create(ctx, in)
}

func (s *Service) GetIntent(ctx context.Context, id uuid.UUID) (*SlotIntent, error) {
	return s.intents.GetByID(ctx, id)
}

// -- Conversion --

// Convert turns an open slot intent into a hard appointment inside a single
// transaction. Lock order is intent, then episode, then slot; every mutation
// path must follow the same order to stay deadlock free. Alternative slots are
// reserved (held) at attach time so the release paths never free a slot some
// other booking owns.
func (s *Service) Convert(ctx context.Context, intentID uuid.UUID, caller Caller, slotID *uuid.UUID, altIDs []uuid.UUID) (*Appointment, error) {
	var appt *Appointment
	var patientID uuid.UUID

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		intent, err := s.intents.LockByID(ctx, intentID)
		if err != nil {
			return err
		}
		if intent.State != IntentOpen {
			return ErrIntentNotOpen
		}

		patientID, err = s.episodes.LockEpisode(ctx, intent.EpisodeID)
		if err != nil {
			return err
		}

		precommit, err := s.episodes.RequiresPrecommit(ctx, intent.EpisodeID, intent.StepCode)
		if err != nil {
			return err
		}

		if intent.Pool == "work" {
			allowed, count, err := s.CheckOneHardNext(ctx, intent.EpisodeID)
			if err != nil {
				return err
			}
			if !allowed {
				if !precommit {
					return ErrOneHardNext
				}
				audit := &OverrideAudit{
					EpisodeID:      intent.EpisodeID,
					UserID:         caller.UserID,
					OverrideReason: fmt.Sprintf("precommit step %s booked with %d outstanding hard work appointments", intent.StepCode, count),
				}
				if err := s.audits.Insert(ctx, audit); err != nil {
					return err
				}
				s.logger.Warn().
					Str("episode_id", intent.EpisodeID.String()).
					Str("user_id", caller.UserID).
					Msg("one-hard-next override recorded")
			}
		}

		var slot *Slot
		if slotID != nil {
			slot, err = s.slots.LockByID(ctx, *slotID)
			if err != nil {
				return err
			}
			if slot.State != SlotFree {
				return ErrSlotAlreadyBooked
			}
		} else {
			slot, err = s.slots.LockEarliestFree(ctx, intent.Pool, intent.DurationMinutes,
				intent.WindowStart, intent.WindowEnd)
			if err != nil {
				return err
			}
		}

		heldAlts, err := s.holdAlternatives(ctx, altIDs, slot.ID)
		if err != nil {
			return err
		}

		settings, err := s.risk.AppointmentRisk(ctx, patientID, slot.StartTime, caller.Email)
		if err != nil {
			return fmt.Errorf("risk assessment: %w", err)
		}

		stepCode := intent.StepCode
		stepSeq := intent.StepSeq
		episodeID := intent.EpisodeID
		appt = &Appointment{
			PatientID:          patientID,
			EpisodeID:          &episodeID,
			TimeSlotID:         slot.ID,
			Pool:               intent.Pool,
			DurationMinutes:    intent.DurationMinutes,
			StartTime:          slot.StartTime,
			ApprovalStatus:     ApprovalPending,
			AlternativeSlotIDs: heldAlts,
			HoldExpiresAt:      settings.HoldExpiresAt,
			NoShowRisk:         &settings.NoShowRisk,
			RequiresPrecommit:  precommit,
			StepCode:           &stepCode,
			StepSeq:            &stepSeq,
		}
		if err := s.appts.Create(ctx, appt); err != nil {
			return err
		}
		if err := s.slots.UpdateState(ctx, slot.ID, SlotBooked); err != nil {
			return err
		}
		if err := s.intents.UpdateState(ctx, intent.ID, IntentConverted); err != nil {
			return err
		}
		return s.episodes.MarkStepScheduled(ctx, intent.EpisodeID, intent.StepSeq, appt.ID)
	})
	if err != nil {
		return nil, err
	}

	// Best effort: a delivery failure never affects the committed booking.
	s.notifier.Dispatch(ctx, notification.TemplateAppointmentBooked, patientID.String(), map[string]string{
		"date": appt.StartTime.Format("2006-01-02"),
		"time": appt.StartTime.Format("15:04"),
	})
	return appt, nil
}

// holdAlternatives reserves the requested alternative slots. Only free slots
// are attached; a slot that was taken or removed in the meantime is skipped
// rather than failing the whole conversion.
func (s *Service) holdAlternatives(ctx context.Context, altIDs []uuid.UUID, primaryID uuid.UUID) ([]uuid.UUID, error) {
	var held []uuid.UUID
	seen := map[uuid.UUID]struct{}{primaryID: {}}
	for _, altID := range altIDs {
		if _, ok := seen[altID]; ok {
			continue
		}
		seen[altID] = struct{}{}
		alt, err := s.slots.LockByID(ctx, altID)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) {
				continue
			}
			return nil, err
		}
		if alt.State != SlotFree {
			continue
		}
		if err := s.slots.UpdateState(ctx, alt.ID, SlotHeld); err != nil {
			return nil, err
		}
		held = append(held, alt.ID)
	}
	return held, nil
}

// releaseAlternatives frees alternative slots this appointment still holds.
// A slot that moved out of held/offered belongs to another booking now and
// must be left alone.
func (s *Service) releaseAlternatives(ctx context.Context, altIDs []uuid.UUID) error {
	for _, altID := range altIDs {
		alt, err := s.slots.LockByID(ctx, altID)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) {
				continue
			}
			return err
		}
		if alt.State != SlotHeld && alt.State != SlotOffered {
			continue
		}
		if err := s.slots.UpdateState(ctx, alt.ID, SlotFree); err != nil {
			return err
		}
	}
	return nil
}

// CheckOneHardNext reports whether the episode may take another hard work
// booking. At most one future active non-precommit work appointment is
// allowed.
func (s *Service) CheckOneHardNext(ctx context.Context, episodeID uuid.UUID) (bool, int, error) {
	count, err := s.appts.CountFutureHardWork(ctx, episodeID, s.now())
	if err != nil {
		return false, 0, err
	}
	return count == 0, count, nil
}

// -- Approval lifecycle --

// Approve finalizes a pending appointment: the slot stays booked and every
// unused alternative slot is released.
func (s *Service) Approve(ctx context.Context, apptID uuid.UUID) (*Appointment, error) {
	var appt *Appointment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		appt, err = s.appts.LockByID(ctx, apptID)
		if err != nil {
			return err
		}
		if appt.ApprovalStatus != ApprovalPending {
			return ErrNotPending
		}
		appt.ApprovalStatus = ApprovalApproved
		if err := s.releaseAlternatives(ctx, appt.AlternativeSlotIDs); err != nil {
			return err
		}
		appt.AlternativeSlotIDs = nil
		return s.appts.Update(ctx, appt)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Dispatch(ctx, notification.TemplateAppointmentApproved, appt.PatientID.String(), map[string]string{
		"date": appt.StartTime.Format("2006-01-02"),
	})
	return appt, nil
}

// Reject moves a pending appointment to its next alternative slot, or to the
// terminal rejected state when alternatives are exhausted. The re-offer case
// stays pending; it is a loop, not a terminal state.
func (s *Service) Reject(ctx context.Context, apptID uuid.UUID) (*Appointment, error) {
	var appt *Appointment
	rebooked := false

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		appt, err = s.appts.LockByID(ctx, apptID)
		if err != nil {
			return err
		}
		if appt.ApprovalStatus != ApprovalPending {
			return ErrNotPending
		}

		if err := s.slots.UpdateState(ctx, appt.TimeSlotID, SlotFree); err != nil {
			return err
		}

		remaining := appt.AlternativeSlotIDs
		for len(remaining) > 0 {
			nextID := remaining[0]
			remaining = remaining[1:]
			next, err := s.slots.LockByID(ctx, nextID)
			if err != nil {
				if errors.Is(err, ErrSlotNotFound) {
					continue
				}
				return err
			}
			// A held or offered slot is this appointment's reservation; a
			// booked or blocked one was taken from under us and is skipped.
			if next.State == SlotBooked || next.State == SlotBlocked {
				continue
			}
			if err := s.slots.UpdateState(ctx, next.ID, SlotBooked); err != nil {
				return err
			}
			appt.TimeSlotID = next.ID
			appt.StartTime = next.StartTime
			appt.AlternativeSlotIDs = remaining
			rebooked = true
			return s.appts.Update(ctx, appt)
		}

		// Alternatives exhausted: terminal rejection, release what we hold.
		if err := s.releaseAlternatives(ctx, appt.AlternativeSlotIDs); err != nil {
			return err
		}
		appt.ApprovalStatus = ApprovalRejected
		appt.AlternativeSlotIDs = nil
		if err := s.appts.Update(ctx, appt); err != nil {
			return err
		}
		return s.episodes.MarkStepPending(ctx, appt.ID)
	})
	if err != nil {
		return nil, err
	}

	if rebooked {
		s.notifier.Dispatch(ctx, notification.TemplateAppointmentRejected, appt.PatientID.String(), map[string]string{
			"date":         appt.StartTime.Format("2006-01-02"),
			"alternatives": appt.StartTime.Format("2006-01-02 15:04"),
		})
	}
	return appt, nil
}

// Cancel frees the slot and any alternatives and reverts the fulfilled step
// to pending. by selects the cancellation status.
func (s *Service) Cancel(ctx context.Context, apptID uuid.UUID, by string) (*Appointment, error) {
	status := ApptCancelledByClinic
	if by == "patient" {
		status = ApptCancelledByPatient
	}

	var appt *Appointment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		appt, err = s.appts.LockByID(ctx, apptID)
		if err != nil {
			return err
		}
		if !appt.Active() {
			return fmt.Errorf("appointment is already %s", *appt.AppointmentStatus)
		}
		appt.AppointmentStatus = &status
		if err := s.slots.UpdateState(ctx, appt.TimeSlotID, SlotFree); err != nil {
			return err
		}
		if err := s.releaseAlternatives(ctx, appt.AlternativeSlotIDs); err != nil {
			return err
		}
		appt.AlternativeSlotIDs = nil
		if err := s.appts.Update(ctx, appt); err != nil {
			return err
		}
		return s.episodes.MarkStepPending(ctx, appt.ID)
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appts.GetByID(ctx, id)
}

func (s *Service) ListAppointmentsByEpisode(ctx context.Context, episodeID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appts.ListByEpisode(ctx, episodeID, limit, offset)
}

func (s *Service) ListOverrideAudits(ctx context.Context, episodeID uuid.UUID) ([]*OverrideAudit, error) {
	return s.audits.ListByEpisode(ctx, episodeID)
}

// -- Tripwires (read-only, advisory) --

// OneHardNextViolations re-derives invariant violations for operational
// alerting. Takes no locks and tolerates staleness.
func (s *Service) OneHardNextViolations(ctx context.Context) ([]Violation, error) {
	violations, err := s.appts.FindOneHardNextViolations(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for _, v := range violations {
		s.logger.Warn().
			Str("episode_id", v.EpisodeID.String()).
			Int("count", v.Count).
			Msg("one-hard-next tripwire hit")
	}
	return violations, nil
}

// ExpiredHolds lists pending appointments whose hold has lapsed. Sweeping is
// a cron collaborator's job; this core only reports.
func (s *Service) ExpiredHolds(ctx context.Context) ([]*Appointment, error) {
	appts, err := s.appts.FindExpiredHolds(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for _, a := range appts {
		s.logger.Warn().
			Str("appointment_id", a.ID.String()).
			Time("hold_expires_at", *a.HoldExpiresAt).
			Msg("expired hold tripwire hit")
	}
	return appts, nil
}
