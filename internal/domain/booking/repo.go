package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SlotRepository interface {
	Create(ctx context.Context, sl *Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	List(ctx context.Context, providerID *uuid.UUID, state string, limit, offset int) ([]*Slot, int, error)
	UpdateState(ctx context.Context, id uuid.UUID, state string) error
	// LockByID takes a FOR UPDATE row lock.
	LockByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// LockEarliestFree locks the earliest matching free slot using
	// FOR UPDATE SKIP LOCKED so concurrent searches race for distinct rows
	// instead of blocking. Returns ErrSlotNotFound when no candidate exists.
	LockEarliestFree(ctx context.Context, pool string, durationMinutes int, windowStart, windowEnd time.Time) (*Slot, error)
}

type IntentRepository interface {
	Create(ctx context.Context, in *SlotIntent) error
	GetByID(ctx context.Context, id uuid.UUID) (*SlotIntent, error)
	LockByID(ctx context.Context, id uuid.UUID) (*SlotIntent, error)
	UpdateState(ctx context.Context, id uuid.UUID, state string) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	LockByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	ListByEpisode(ctx context.Context, episodeID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	// CountFutureHardWork counts future active work-pool appointments that
	// are not precommit-flagged. The one-hard-next rule allows at most one.
	CountFutureHardWork(ctx context.Context, episodeID uuid.UUID, now time.Time) (int, error)
	FindOneHardNextViolations(ctx context.Context, now time.Time) ([]Violation, error)
	FindExpiredHolds(ctx context.Context, now time.Time) ([]*Appointment, error)
}

type AuditRepository interface {
	Insert(ctx context.Context, a *OverrideAudit) error
	ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*OverrideAudit, error)
}

// EpisodeGateway is the narrow slice of the episode domain the conversion
// transaction needs: the episode row lock, the precommit flag of the catalog
// step, and the step status back-link.
type EpisodeGateway interface {
	// LockEpisode locks the episode row and returns its patient id.
	LockEpisode(ctx context.Context, episodeID uuid.UUID) (uuid.UUID, error)
	RequiresPrecommit(ctx context.Context, episodeID uuid.UUID, stepCode string) (bool, error)
	MarkStepScheduled(ctx context.Context, episodeID uuid.UUID, seq int, appointmentID uuid.UUID) error
	MarkStepPending(ctx context.Context, appointmentID uuid.UUID) error
}

// RiskAssessor is the external risk-assessment collaborator.
type RiskAssessor interface {
	AppointmentRisk(ctx context.Context, patientID uuid.UUID, startTime time.Time, callerEmail string) (RiskSettings, error)
}
