package episode

import (
	"context"

	"github.com/google/uuid"
)

type EpisodeRepository interface {
	Create(ctx context.Context, e *Episode) error
	GetByID(ctx context.Context, id uuid.UUID) (*Episode, error)
	CloseOpenByPatient(ctx context.Context, patientID uuid.UUID) error
	Close(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Episode, int, error)
	Pathways(ctx context.Context, episodeID uuid.UUID) ([]*EpisodePathway, error)
	AddPathway(ctx context.Context, ep *EpisodePathway) error
	GetPathwayRef(ctx context.Context, id uuid.UUID) (*EpisodePathway, error)
}

type StepRepository interface {
	ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*EpisodeStep, error)
	Get(ctx context.Context, episodeID uuid.UUID, seq int) (*EpisodeStep, error)
	// ExistsForPathwayRef reports whether steps were already generated for the
	// given pathway reference. A nil ref matches the legacy NULL reference.
	ExistsForPathwayRef(ctx context.Context, episodeID uuid.UUID, episodePathwayID *uuid.UUID) (bool, error)
	InsertBatch(ctx context.Context, steps []*EpisodeStep) error
	UpdateStatus(ctx context.Context, st *EpisodeStep) error
	Delete(ctx context.Context, episodeID uuid.UUID, seq int) error
	Resequence(ctx context.Context, episodeID uuid.UUID) error
	MaxSeq(ctx context.Context, episodeID uuid.UUID) (int, error)
}
