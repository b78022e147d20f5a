package forecast

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrEpisodeNotFound = errors.New("episode not found")

// BatchLimit caps how many episodes one batch call may recompute.
const BatchLimit = 100

type Service struct {
	forecasts ForecastRepository
	progress  ProgressReader
	estimator Estimator
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(forecasts ForecastRepository, progress ProgressReader, estimator Estimator, logger zerolog.Logger) *Service {
	return &Service{
		forecasts: forecasts,
		progress:  progress,
		estimator: estimator,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) ComputeEpisodeForecast(ctx context.Context, episodeID uuid.UUID) (*Forecast, error) {
	results, _, err := s.ComputeBatch(ctx, []uuid.UUID{episodeID})
	if err != nil {
		return nil, err
	}
	f, ok := results[episodeID]
	if !ok {
		return nil, ErrEpisodeNotFound
	}
	return f, nil
}

// ComputeBatch serves cached rows where the inputs hash still matches and
// recomputes the rest, persisting every recomputed row in one upsert.
func (s *Service) ComputeBatch(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Forecast, BatchMeta, error) {
	meta := BatchMeta{ServerNow: s.now(), Limit: BatchLimit}

	// A duplicated id must collapse to one row: the upsert statement cannot
	// affect the same episode twice.
	seen := make(map[uuid.UUID]struct{}, len(ids))
	uniq := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	ids = uniq

	if len(ids) > BatchLimit {
		ids = ids[:BatchLimit]
		meta.LimitApplied = true
	}
	if len(ids) == 0 {
		return map[uuid.UUID]*Forecast{}, meta, nil
	}

	progress, err := s.progress.ReadProgress(ctx, ids)
	if err != nil {
		return nil, meta, err
	}
	cached, err := s.forecasts.GetByEpisodeIDs(ctx, ids)
	if err != nil {
		return nil, meta, err
	}

	results := make(map[uuid.UUID]*Forecast, len(ids))
	var recomputed []*Forecast
	for _, id := range ids {
		p, ok := progress[id]
		if !ok {
			continue
		}
		hash := p.Inputs.Hash()
		if row, ok := cached[id]; ok && row.InputsHash == hash {
			results[id] = row
			continue
		}
		f := s.compute(p, hash)
		results[id] = f
		recomputed = append(recomputed, f)
	}

	if len(recomputed) > 0 {
		if err := s.forecasts.BulkUpsert(ctx, recomputed); err != nil {
			return nil, meta, err
		}
		s.logger.Debug().
			Int("requested", len(ids)).
			Int("recomputed", len(recomputed)).
			Msg("forecast batch recomputed")
	}
	return results, meta, nil
}

// compute also caches blocked episodes: their pathway-less inputs hash stays
// stable, so a permanently blocked episode is computed once.
func (s *Service) compute(p *Progress, hash string) *Forecast {
	now := s.now()
	f := &Forecast{
		EpisodeID:    p.EpisodeID,
		InputsHash:   hash,
		NextStepCode: p.CurrentStepCode,
		ComputedAt:   now,
	}
	switch {
	case !p.HasPathway:
		f.Status = StatusBlocked
	case p.CurrentStepCode == nil:
		f.Status = StatusComplete
	default:
		f.Status = StatusActive
		est := s.estimator.Estimate(p.Inputs)
		f.RemainingVisitsP50 = est.RemainingVisitsP50
		f.RemainingVisitsP80 = est.RemainingVisitsP80
		p50 := now.AddDate(0, 0, est.CompletionDaysP50)
		p80 := now.AddDate(0, 0, est.CompletionDaysP80)
		f.CompletionEndP50 = &p50
		f.CompletionEndP80 = &p80
	}
	return f
}

// CadenceEstimator projects remaining visits from pathway progress assuming a
// fixed visit cadence. Deterministic over Inputs.
type CadenceEstimator struct {
	// CadenceDays is the assumed spacing between visits.
	CadenceDays int
}

func NewCadenceEstimator() *CadenceEstimator { return &CadenceEstimator{CadenceDays: 10} }

func (e *CadenceEstimator) Estimate(in Inputs) Estimate {
	remaining := in.TotalCount - in.CompletedCount
	if remaining < 0 {
		remaining = 0
	}
	// p80 pads the median by 30 percent, rounded up.
	p80 := remaining + (remaining*3+9)/10
	return Estimate{
		RemainingVisitsP50: remaining,
		RemainingVisitsP80: p80,
		CompletionDaysP50:  remaining * e.CadenceDays,
		CompletionDaysP80:  p80 * e.CadenceDays,
	}
}
