package episode

import (
	"time"

	"github.com/google/uuid"
)

// Episode statuses.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
	StatusPaused = "paused"
)

// Episode step statuses.
const (
	StepPending   = "pending"
	StepScheduled = "scheduled"
	StepCompleted = "completed"
	StepSkipped   = "skipped"
)

// Blocked codes surfaced to callers. Stable contract.
const (
	BlockedNoCarePathway      = "NO_CARE_PATHWAY"
	BlockedStepCatalogMissing = "STEP_CATALOG_MISSING"
)

// DefaultWindowDays bounds a scheduling window when the pathway step does not
// supply its own window_days.
const DefaultWindowDays = 14

// Episode is one bounded course of treatment for a patient. At most one open
// episode exists per patient; opening a new one force-closes priors.
type Episode struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	Status             string     `json:"status"`
	Reason             string     `json:"reason"`
	CarePathwayID      *uuid.UUID `json:"care_pathway_id,omitempty"`
	AssignedProviderID *uuid.UUID `json:"assigned_provider_id,omitempty"`
	OpenedAt           time.Time  `json:"opened_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
}

// EpisodePathway is an ordered pathway reference on an episode. Episodes that
// only carry the legacy scalar care_pathway_id are surfaced as a one-element
// list with a zero ID.
type EpisodePathway struct {
	ID        uuid.UUID `json:"id"`
	EpisodeID uuid.UUID `json:"episode_id"`
	PathwayID uuid.UUID `json:"pathway_id"`
	AddedAt   time.Time `json:"added_at"`
}

// EpisodeStep is a materialized instance of a pathway step for one episode.
type EpisodeStep struct {
	ID               uuid.UUID  `json:"id"`
	EpisodeID        uuid.UUID  `json:"episode_id"`
	EpisodePathwayID *uuid.UUID `json:"episode_pathway_id,omitempty"`
	StepCode         string     `json:"step_code"`
	Seq              int        `json:"seq"`
	Pool             string     `json:"pool"`
	DurationMinutes  int        `json:"duration_minutes"`
	Status           string     `json:"status"`
	AppointmentID    *uuid.UUID `json:"appointment_id,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// StepProjection is the next-step engine's output for one schedulable step.
type StepProjection struct {
	StepCode        string    `json:"step_code"`
	Seq             int       `json:"seq"`
	Pool            string    `json:"pool"`
	DurationMinutes int       `json:"duration_minutes"`
	EarliestDate    time.Time `json:"earliest_date"`
	LatestDate      time.Time `json:"latest_date"`
}

// Blocked is a first-class projection outcome, not an error. Callers branch on
// Code; Reason is for humans.
type Blocked struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}
