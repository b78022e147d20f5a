package pathway

import (
	"context"

	"github.com/google/uuid"
)

type PathwayRepository interface {
	Create(ctx context.Context, p *CarePathway, steps []*PathwayStep) error
	GetByID(ctx context.Context, id uuid.UUID) (*CarePathway, error)
	GetLatestByCode(ctx context.Context, code string) (*CarePathway, error)
	List(ctx context.Context, limit, offset int) ([]*CarePathway, int, error)
	Steps(ctx context.Context, pathwayID uuid.UUID) ([]*PathwayStep, error)
	GetStep(ctx context.Context, pathwayID uuid.UUID, stepCode string) (*PathwayStep, error)
	UpdateStepLabel(ctx context.Context, pathwayID uuid.UUID, stepCode, label string) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}
