package workload

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultHorizonDays is how far ahead the advisory looks at the calendar.
	DefaultHorizonDays = 14

	// pipelineFullAt is the WIP plus worklist count treated as a fully
	// saturated intake pipeline.
	pipelineFullAt = 50

	// Thresholds below are a stable contract consumed as booking policy.
	stopScore       = 90
	cautionScore    = 75
	stopLagDays     = 28
	cautionLagDays  = 14
	weightUtil      = 0.7
	weightHold      = 0.1
	weightPipeline  = 0.2
)

type Service struct {
	loads  LoadRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(loads LoadRepository, logger zerolog.Logger) *Service {
	return &Service{loads: loads, logger: logger, now: time.Now}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score blends the three pressure components, each clamped separately, onto
// a 0..100 scale.
func Score(utilization, holdPressure, pipeline float64) float64 {
	return 100 * (weightUtil*clamp01(utilization) +
		weightHold*clamp01(holdPressure) +
		weightPipeline*clamp01(pipeline))
}

// Recommend applies the intake thresholds. Any near-critical provider stops
// intake regardless of the blended score; projected completion lag escalates
// an otherwise green score.
func Recommend(score float64, anyProviderNearCritical bool, lagDays int) string {
	switch {
	case score >= stopScore, anyProviderNearCritical, lagDays > stopLagDays:
		return RecommendStop
	case score >= cautionScore, lagDays > cautionLagDays:
		return RecommendCaution
	}
	return RecommendGo
}

// Advisory aggregates the calendar and pipeline into an intake
// recommendation. Read only; tolerates stale data.
func (s *Service) Advisory(ctx context.Context, horizonDays int) (*Advisory, error) {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	now := s.now()
	loads, err := s.loads.ProviderLoads(ctx, now, now.AddDate(0, 0, horizonDays))
	if err != nil {
		return nil, err
	}
	openEpisodes, err := s.loads.OpenEpisodeCount(ctx)
	if err != nil {
		return nil, err
	}
	worklist, err := s.loads.WorklistCount(ctx)
	if err != nil {
		return nil, err
	}
	latestP80, err := s.loads.LatestCompletionP80(ctx)
	if err != nil {
		return nil, err
	}

	pipeline := Pipeline{OpenEpisodes: openEpisodes, WorklistCount: worklist}
	if latestP80 != nil {
		horizonEnd := now.AddDate(0, 0, horizonDays)
		if latestP80.After(horizonEnd) {
			pipeline.LagDays = int(latestP80.Sub(horizonEnd).Hours() / 24)
		}
	}
	pipelinePressure := clamp01(float64(openEpisodes+worklist) / pipelineFullAt)

	var totalAvailable, totalBooked, totalHeld int
	providers := make([]ProviderScore, 0, len(loads))
	nearCritical := false
	for _, l := range loads {
		totalAvailable += l.AvailableMinutes
		totalBooked += l.BookedMinutes
		totalHeld += l.HeldMinutes
		ps := ProviderScore{ProviderID: l.ProviderID}
		if l.AvailableMinutes > 0 {
			ps.Utilization = float64(l.BookedMinutes) / float64(l.AvailableMinutes)
			ps.HoldPressure = float64(l.HeldMinutes) / float64(l.AvailableMinutes)
		}
		ps.Score = Score(ps.Utilization, ps.HoldPressure, pipelinePressure)
		ps.NearCritical = ps.Score >= stopScore
		if ps.NearCritical {
			nearCritical = true
		}
		providers = append(providers, ps)
	}

	var utilization, holdPressure float64
	if totalAvailable > 0 {
		utilization = float64(totalBooked) / float64(totalAvailable)
		holdPressure = float64(totalHeld) / float64(totalAvailable)
	}
	score := Score(utilization, holdPressure, pipelinePressure)
	recommendation := Recommend(score, nearCritical, pipeline.LagDays)

	if recommendation == RecommendStop {
		s.logger.Warn().
			Float64("score", score).
			Int("lag_days", pipeline.LagDays).
			Msg("intake advisory at STOP")
	}
	return &Advisory{
		ServerNow:      now,
		HorizonDays:    horizonDays,
		Score:          score,
		Recommendation: recommendation,
		Providers:      providers,
		Pipeline:       pipeline,
	}, nil
}
