package workload

import (
	"time"

	"github.com/google/uuid"
)

const (
	RecommendGo      = "GO"
	RecommendCaution = "CAUTION"
	RecommendStop    = "STOP"
)

// ProviderLoad is the raw minute aggregation for one provider over the
// horizon. Blocked slots are excluded from available minutes.
type ProviderLoad struct {
	ProviderID       uuid.UUID `json:"provider_id"`
	AvailableMinutes int       `json:"available_minutes"`
	BookedMinutes    int       `json:"booked_minutes"`
	HeldMinutes      int       `json:"held_minutes"`
}

type ProviderScore struct {
	ProviderID   uuid.UUID `json:"provider_id"`
	Utilization  float64   `json:"utilization"`
	HoldPressure float64   `json:"hold_pressure"`
	Score        float64   `json:"score"`
	NearCritical bool      `json:"near_critical"`
}

// Pipeline is the intake-side pressure: open episodes plus steps waiting for
// a booking, and how far past the horizon current work is projected to run.
type Pipeline struct {
	OpenEpisodes  int `json:"open_episodes"`
	WorklistCount int `json:"worklist_count"`
	LagDays       int `json:"lag_days"`
}

type Advisory struct {
	ServerNow      time.Time       `json:"server_now"`
	HorizonDays    int             `json:"horizon_days"`
	Score          float64         `json:"score"`
	Recommendation string          `json:"recommendation"`
	Providers      []ProviderScore `json:"providers"`
	Pipeline       Pipeline        `json:"pipeline"`
}
