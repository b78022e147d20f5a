package forecast

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive   = "active"
	StatusBlocked  = "blocked"
	StatusComplete = "complete"
)

// Forecast is the memoized row per episode. A blocked episode is cached too
// so it is not recomputed on every batch.
type Forecast struct {
	EpisodeID          uuid.UUID  `json:"episode_id"`
	Status             string     `json:"status"`
	InputsHash         string     `json:"-"`
	NextStepCode       *string    `json:"next_step_code,omitempty"`
	RemainingVisitsP50 int        `json:"remaining_visits_p50"`
	RemainingVisitsP80 int        `json:"remaining_visits_p80"`
	CompletionEndP50   *time.Time `json:"completion_end_p50,omitempty"`
	CompletionEndP80   *time.Time `json:"completion_end_p80,omitempty"`
	ComputedAt         time.Time  `json:"computed_at"`
}

// Inputs are the features that determine a forecast. Two episodes with equal
// inputs hash to the same key and must produce the same percentiles.
type Inputs struct {
	PathwayID       uuid.UUID
	PathwayVersion  int
	CompletedCount  int
	TotalCount      int
	CurrentStepCode string
}

// Hash is the cache-invalidation key. Progress mutations change one of the
// fields below, so stale rows fall out without explicit invalidation hooks.
func (in Inputs) Hash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%d|%s",
		in.PathwayID, in.PathwayVersion, in.CompletedCount, in.TotalCount, in.CurrentStepCode)))
	return hex.EncodeToString(sum[:])
}

// Progress is what the episode store knows about an episode's position in its
// pathway. HasPathway false means the episode forecasts as blocked.
type Progress struct {
	EpisodeID       uuid.UUID
	HasPathway      bool
	Inputs          Inputs
	CurrentStepCode *string
}

// Estimate is the percentile output of the estimator, expressed in visits and
// days so the service can anchor completion dates at computation time.
type Estimate struct {
	RemainingVisitsP50 int
	RemainingVisitsP80 int
	CompletionDaysP50  int
	CompletionDaysP80  int
}

type BatchMeta struct {
	ServerNow    time.Time `json:"server_now"`
	Limit        int       `json:"limit"`
	LimitApplied bool      `json:"limit_applied"`
}
