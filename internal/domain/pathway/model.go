package pathway

import (
	"time"

	"github.com/google/uuid"
)

// Pool classifies what kind of calendar capacity a step consumes.
const (
	PoolConsult = "consult"
	PoolWork    = "work"
	PoolControl = "control"
)

// CarePathway is an ordered template of clinical steps. A pathway row is
// immutable once an open episode references it; edits insert a new version.
type CarePathway struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// PathwayStep is one template step within a pathway version.
type PathwayStep struct {
	ID                uuid.UUID `json:"id"`
	PathwayID         uuid.UUID `json:"pathway_id"`
	StepCode          string    `json:"step_code"`
	Label             string    `json:"label"`
	Pool              string    `json:"pool"`
	DurationMinutes   int       `json:"duration_minutes"`
	DefaultDaysOffset int       `json:"default_days_offset"`
	// WindowDays bounds the scheduling window beyond the earliest date.
	// Nil means the step uses the engine default.
	WindowDays        *int `json:"window_days,omitempty"`
	RequiresPrecommit bool `json:"requires_precommit"`
	Position          int  `json:"position"`
}

var validPools = map[string]bool{
	PoolConsult: true, PoolWork: true, PoolControl: true,
}

// ValidPool reports whether p is a known scheduling pool.
func ValidPool(p string) bool { return validPools[p] }
