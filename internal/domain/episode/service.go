package episode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicops/clinicops/internal/domain/pathway"
	"github.com/clinicops/clinicops/internal/platform/db"
)

var (
	ErrEpisodeNotFound    = errors.New("episode not found")
	ErrStepNotFound       = errors.New("step not found")
	ErrStepNotDeletable   = errors.New("step not deletable")
	ErrInvalidTransition  = errors.New("invalid step transition")
	ErrPathwayRefNotFound = errors.New("episode pathway reference not found")
)

// Catalog is the slice of the pathway domain the next-step engine reads.
type Catalog interface {
	Steps(ctx context.Context, pathwayID uuid.UUID) ([]*pathway.PathwayStep, error)
	GetStep(ctx context.Context, pathwayID uuid.UUID, stepCode string) (*pathway.PathwayStep, error)
}

type Service struct {
	episodes EpisodeRepository
	steps    StepRepository
	catalog  Catalog
	tx       db.TxRunner
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(episodes EpisodeRepository, steps StepRepository, catalog Catalog, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		episodes: episodes,
		steps:    steps,
		catalog:  catalog,
		tx:       tx,
		logger:   logger,
		now:      time.Now,
	}
}

// OpenEpisode opens a new episode, force-closing any prior open episode for
// the same patient in the same transaction.
func (s *Service) OpenEpisode(ctx context.Context, e *Episode) error {
	if e.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	e.Status = StatusOpen
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.episodes.CloseOpenByPatient(ctx, e.PatientID); err != nil {
			return fmt.Errorf("close prior episodes: %w", err)
		}
		return s.episodes.Create(ctx, e)
	})
}

func (s *Service) GetEpisode(ctx context.Context, id uuid.UUID) (*Episode, error) {
	return s.episodes.GetByID(ctx, id)
}

func (s *Service) CloseEpisode(ctx context.Context, id uuid.UUID) error {
	return s.episodes.Close(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Episode, int, error) {
	return s.episodes.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) AddPathway(ctx context.Context, episodeID, pathwayID uuid.UUID) (*EpisodePathway, error) {
	if _, err := s.episodes.GetByID(ctx, episodeID); err != nil {
		return nil, err
	}
	ep := &EpisodePathway{EpisodeID: episodeID, PathwayID: pathwayID}
	if err := s.episodes.AddPathway(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// pathwayRefs returns the episode's ordered pathway references. An episode
// carrying only the legacy scalar care_pathway_id is a one-element list with a
// zero ref ID; there is no sentinel value.
func (s *Service) pathwayRefs(ctx context.Context, e *Episode) ([]*EpisodePathway, error) {
	refs, err := s.episodes.Pathways(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 && e.CarePathwayID != nil {
		refs = []*EpisodePathway{{EpisodeID: e.ID, PathwayID: *e.CarePathwayID}}
	}
	return refs, nil
}

// GenerateSteps materializes the pathway's template steps for one pathway
// reference. Idempotent: a second call for the same reference is a no-op and
// reports generated=false. A nil episodePathwayID targets the legacy scalar
// pathway.
func (s *Service) GenerateSteps(ctx context.Context, episodeID uuid.UUID, episodePathwayID *uuid.UUID) (bool, error) {
	generated := false
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		e, err := s.episodes.GetByID(ctx, episodeID)
		if err != nil {
			return err
		}

		var pathwayID uuid.UUID
		if episodePathwayID != nil {
			ref, err := s.episodes.GetPathwayRef(ctx, *episodePathwayID)
			if err != nil {
				return err
			}
			if ref.EpisodeID != episodeID {
				return ErrPathwayRefNotFound
			}
			pathwayID = ref.PathwayID
		} else {
			if e.CarePathwayID == nil {
				return ErrPathwayRefNotFound
			}
			pathwayID = *e.CarePathwayID
		}

		exists, err := s.steps.ExistsForPathwayRef(ctx, episodeID, episodePathwayID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		tmpl, err := s.catalog.Steps(ctx, pathwayID)
		if err != nil {
			return fmt.Errorf("load pathway steps: %w", err)
		}

		maxSeq, err := s.steps.MaxSeq(ctx, episodeID)
		if err != nil {
			return err
		}

		batch := make([]*EpisodeStep, 0, len(tmpl))
		for i, t := range tmpl {
			batch = append(batch, &EpisodeStep{
				EpisodeID:        episodeID,
				EpisodePathwayID: episodePathwayID,
				StepCode:         t.StepCode,
				Seq:              maxSeq + 1 + i,
				Pool:             t.Pool,
				DurationMinutes:  t.DurationMinutes,
				Status:           StepPending,
			})
		}
		if err := s.steps.InsertBatch(ctx, batch); err != nil {
			return err
		}
		generated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if generated {
		s.logger.Info().Str("episode_id", episodeID.String()).Msg("episode steps generated")
	}
	return generated, nil
}

// computeWindow derives the scheduling window for a step. The earliest date
// never lies in the past; windowDays defaults when the catalog step carries
// none.
func computeWindow(now time.Time, priorCompletion *time.Time, offsetDays int, windowDays *int) (earliest, latest time.Time) {
	earliest = now
	if priorCompletion != nil {
		if cand := priorCompletion.AddDate(0, 0, offsetDays); cand.After(earliest) {
			earliest = cand
		}
	}
	wd := DefaultWindowDays
	if windowDays != nil {
		wd = *windowDays
	}
	return earliest, earliest.AddDate(0, 0, wd)
}

// findCatalogStep searches the episode's pathways in order for the step code.
func (s *Service) findCatalogStep(ctx context.Context, refs []*EpisodePathway, stepCode string) (*pathway.PathwayStep, error) {
	for _, ref := range refs {
		st, err := s.catalog.GetStep(ctx, ref.PathwayID, stepCode)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, pathway.ErrStepNotInCatalog) {
			return nil, err
		}
	}
	return nil, pathway.ErrStepNotInCatalog
}

func (s *Service) project(ctx context.Context, refs []*EpisodePathway, steps []*EpisodeStep, st *EpisodeStep) (*StepProjection, *Blocked, error) {
	cat, err := s.findCatalogStep(ctx, refs, st.StepCode)
	if err != nil {
		if errors.Is(err, pathway.ErrStepNotInCatalog) {
			return nil, &Blocked{
				Code:   BlockedStepCatalogMissing,
				Reason: fmt.Sprintf("step %q is missing from the pathway catalog", st.StepCode),
			}, nil
		}
		return nil, nil, err
	}

	var prior *time.Time
	for _, other := range steps {
		if other.Seq >= st.Seq || other.Status != StepCompleted || other.CompletedAt == nil {
			continue
		}
		if prior == nil || other.CompletedAt.After(*prior) {
			prior = other.CompletedAt
		}
	}

	earliest, latest := computeWindow(s.now(), prior, cat.DefaultDaysOffset, cat.WindowDays)
	return &StepProjection{
		StepCode:        st.StepCode,
		Seq:             st.Seq,
		Pool:            st.Pool,
		DurationMinutes: st.DurationMinutes,
		EarliestDate:    earliest,
		LatestDate:      latest,
	}, nil, nil
}

// ListSteps returns every step of the episode in seq order.
func (s *Service) ListSteps(ctx context.Context, episodeID uuid.UUID) ([]*EpisodeStep, error) {
	return s.steps.ListByEpisode(ctx, episodeID)
}

// NextRequiredStep returns the first pending or scheduled step in seq order
// with its scheduling window, or a Blocked value. Pure read, no side effects.
func (s *Service) NextRequiredStep(ctx context.Context, episodeID uuid.UUID) (*StepProjection, *Blocked, error) {
	e, err := s.episodes.GetByID(ctx, episodeID)
	if err != nil {
		return nil, nil, err
	}
	refs, err := s.pathwayRefs(ctx, e)
	if err != nil {
		return nil, nil, err
	}
	if len(refs) == 0 {
		return nil, &Blocked{
			Code:   BlockedNoCarePathway,
			Reason: "episode has no assigned care pathway",
		}, nil
	}

	steps, err := s.steps.ListByEpisode(ctx, episodeID)
	if err != nil {
		return nil, nil, err
	}
	for _, st := range steps {
		if st.Status == StepPending || st.Status == StepScheduled {
			return s.project(ctx, refs, steps, st)
		}
	}
	return nil, nil, nil
}

// AllPendingSteps projects every pending/scheduled step with its window.
func (s *Service) AllPendingSteps(ctx context.Context, episodeID uuid.UUID) ([]StepProjection, *Blocked, error) {
	e, err := s.episodes.GetByID(ctx, episodeID)
	if err != nil {
		return nil, nil, err
	}
	refs, err := s.pathwayRefs(ctx, e)
	if err != nil {
		return nil, nil, err
	}
	if len(refs) == 0 {
		return nil, &Blocked{
			Code:   BlockedNoCarePathway,
			Reason: "episode has no assigned care pathway",
		}, nil
	}

	steps, err := s.steps.ListByEpisode(ctx, episodeID)
	if err != nil {
		return nil, nil, err
	}
	var out []StepProjection
	for _, st := range steps {
		if st.Status != StepPending && st.Status != StepScheduled {
			continue
		}
		proj, blocked, err := s.project(ctx, refs, steps, st)
		if err != nil {
			return nil, nil, err
		}
		if blocked != nil {
			return nil, blocked, nil
		}
		out = append(out, *proj)
	}
	return out, nil, nil
}

// SkipStep moves a pending or scheduled step to skipped.
func (s *Service) SkipStep(ctx context.Context, episodeID uuid.UUID, seq int) error {
	st, err := s.steps.Get(ctx, episodeID, seq)
	if err != nil {
		return err
	}
	if st.Status != StepPending && st.Status != StepScheduled {
		return fmt.Errorf("%w: cannot skip %s step", ErrInvalidTransition, st.Status)
	}
	st.Status = StepSkipped
	st.AppointmentID = nil
	return s.steps.UpdateStatus(ctx, st)
}

// ReactivateStep moves a skipped step back to pending.
func (s *Service) ReactivateStep(ctx context.Context, episodeID uuid.UUID, seq int) error {
	st, err := s.steps.Get(ctx, episodeID, seq)
	if err != nil {
		return err
	}
	if st.Status != StepSkipped {
		return fmt.Errorf("%w: cannot reactivate %s step", ErrInvalidTransition, st.Status)
	}
	st.Status = StepPending
	return s.steps.UpdateStatus(ctx, st)
}

// CompleteStep marks a pending or scheduled step completed.
func (s *Service) CompleteStep(ctx context.Context, episodeID uuid.UUID, seq int) error {
	st, err := s.steps.Get(ctx, episodeID, seq)
	if err != nil {
		return err
	}
	if st.Status != StepPending && st.Status != StepScheduled {
		return fmt.Errorf("%w: cannot complete %s step", ErrInvalidTransition, st.Status)
	}
	st.Status = StepCompleted
	now := s.now()
	st.CompletedAt = &now
	return s.steps.UpdateStatus(ctx, st)
}

// DeleteStep removes a pending or skipped step and re-packs the remaining
// sequence numbers in one transaction.
func (s *Service) DeleteStep(ctx context.Context, episodeID uuid.UUID, seq int) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		st, err := s.steps.Get(ctx, episodeID, seq)
		if err != nil {
			return err
		}
		if st.Status != StepPending && st.Status != StepSkipped {
			return ErrStepNotDeletable
		}
		if err := s.steps.Delete(ctx, episodeID, seq); err != nil {
			return err
		}
		return s.steps.Resequence(ctx, episodeID)
	})
}
