package booking

import (
	"time"

	"github.com/google/uuid"
)

// Slot states. blocked marks an external-calendar conflict and is never
// bookable.
const (
	SlotFree    = "free"
	SlotHeld    = "held"
	SlotOffered = "offered"
	SlotBooked  = "booked"
	SlotBlocked = "blocked"
)

// Intent states.
const (
	IntentOpen      = "open"
	IntentConverted = "converted"
	IntentExpired   = "expired"
)

// Approval states.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Appointment statuses. A nil status means the appointment is active.
const (
	ApptCompleted          = "completed"
	ApptNoShow             = "no_show"
	ApptCancelledByPatient = "cancelled_by_patient"
	ApptCancelledByClinic  = "cancelled_by_clinic"
)

// Slot is one bookable calendar unit for a provider.
type Slot struct {
	ID              uuid.UUID `json:"id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	State           string    `json:"state"`
	// SlotPurpose is a pool affinity; nil means the slot is flexible.
	SlotPurpose *string   `json:"slot_purpose,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SlotIntent is a soft reservation: a required step with a target window but
// no concrete slot yet.
type SlotIntent struct {
	ID              uuid.UUID `json:"id"`
	EpisodeID       uuid.UUID `json:"episode_id"`
	StepCode        string    `json:"step_code"`
	StepSeq         int       `json:"step_seq"`
	Pool            string    `json:"pool"`
	DurationMinutes int       `json:"duration_minutes"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	State           string    `json:"state"`
	CreatedAt       time.Time `json:"created_at"`
}

// Appointment is a hard, slot-bound booking.
type Appointment struct {
	ID                 uuid.UUID   `json:"id"`
	PatientID          uuid.UUID   `json:"patient_id"`
	EpisodeID          *uuid.UUID  `json:"episode_id,omitempty"`
	TimeSlotID         uuid.UUID   `json:"time_slot_id"`
	Pool               string      `json:"pool"`
	DurationMinutes    int         `json:"duration_minutes"`
	StartTime          time.Time   `json:"start_time"`
	AppointmentStatus  *string     `json:"appointment_status,omitempty"`
	ApprovalStatus     string      `json:"approval_status"`
	AlternativeSlotIDs []uuid.UUID `json:"alternative_slot_ids,omitempty"`
	HoldExpiresAt      *time.Time  `json:"hold_expires_at,omitempty"`
	NoShowRisk         *float64    `json:"no_show_risk,omitempty"`
	RequiresPrecommit  bool        `json:"requires_precommit"`
	StepCode           *string     `json:"step_code,omitempty"`
	StepSeq            *int        `json:"step_seq,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

// Active reports whether the appointment still occupies its slot.
func (a *Appointment) Active() bool {
	return a.AppointmentStatus == nil
}

// OverrideAudit records one authorized bypass of the one-hard-next invariant.
// Append-only.
type OverrideAudit struct {
	ID             uuid.UUID `json:"id"`
	EpisodeID      uuid.UUID `json:"episode_id"`
	UserID         string    `json:"user_id"`
	OverrideReason string    `json:"override_reason"`
	CreatedAt      time.Time `json:"created_at"`
}

// Violation is one episode found by the one-hard-next tripwire.
type Violation struct {
	EpisodeID uuid.UUID `json:"episode_id"`
	Count     int       `json:"count"`
}

// Caller identifies who triggered a conversion.
type Caller struct {
	UserID string
	Email  string
}

// RiskSettings come from the external risk-assessment collaborator.
type RiskSettings struct {
	NoShowRisk           float64
	RequiresConfirmation bool
	HoldExpiresAt        *time.Time
}
