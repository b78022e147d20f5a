package pathway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrPathwayNotFound  = errors.New("pathway not found")
	ErrStepNotInCatalog = errors.New("step not in catalog")
)

// LabelCache memoizes step labels keyed by "pathwayID/stepCode". Write paths
// that touch the catalog must call Invalidate; the cache has no TTL.
type LabelCache struct {
	mu     sync.RWMutex
	labels map[string]string
}

func NewLabelCache() *LabelCache {
	return &LabelCache{labels: make(map[string]string)}
}

func labelKey(pathwayID uuid.UUID, stepCode string) string {
	return pathwayID.String() + "/" + stepCode
}

func (c *LabelCache) Get(pathwayID uuid.UUID, stepCode string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.labels[labelKey(pathwayID, stepCode)]
	return l, ok
}

func (c *LabelCache) Put(pathwayID uuid.UUID, stepCode, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.labels[labelKey(pathwayID, stepCode)] = label
}

func (c *LabelCache) Invalidate(pathwayID uuid.UUID, stepCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.labels, labelKey(pathwayID, stepCode))
}

type Service struct {
	pathways PathwayRepository
	labels   *LabelCache
}

func NewService(pathways PathwayRepository, labels *LabelCache) *Service {
	return &Service{pathways: pathways, labels: labels}
}

func (s *Service) CreatePathway(ctx context.Context, p *CarePathway, steps []*PathwayStep) error {
	if p.Code == "" {
		return fmt.Errorf("code is required")
	}
	if len(steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, st := range steps {
		if st.StepCode == "" {
			return fmt.Errorf("step %d: step_code is required", i)
		}
		if !ValidPool(st.Pool) {
			return fmt.Errorf("step %q: invalid pool %q", st.StepCode, st.Pool)
		}
		if st.DurationMinutes <= 0 {
			return fmt.Errorf("step %q: duration_minutes must be positive", st.StepCode)
		}
		st.Position = i
	}

	// Edits never mutate a referenced version; a new version row is inserted.
	if prev, err := s.pathways.GetLatestByCode(ctx, p.Code); err == nil {
		p.Version = prev.Version + 1
	} else {
		p.Version = 1
	}
	p.Active = true

	return s.pathways.Create(ctx, p, steps)
}

func (s *Service) GetPathway(ctx context.Context, id uuid.UUID) (*CarePathway, error) {
	return s.pathways.GetByID(ctx, id)
}

func (s *Service) GetLatestByCode(ctx context.Context, code string) (*CarePathway, error) {
	return s.pathways.GetLatestByCode(ctx, code)
}

func (s *Service) ListPathways(ctx context.Context, limit, offset int) ([]*CarePathway, int, error) {
	return s.pathways.List(ctx, limit, offset)
}

func (s *Service) Steps(ctx context.Context, pathwayID uuid.UUID) ([]*PathwayStep, error) {
	return s.pathways.Steps(ctx, pathwayID)
}

func (s *Service) GetStep(ctx context.Context, pathwayID uuid.UUID, stepCode string) (*PathwayStep, error) {
	return s.pathways.GetStep(ctx, pathwayID, stepCode)
}

// StepLabel serves the step label through the cache, loading on miss.
func (s *Service) StepLabel(ctx context.Context, pathwayID uuid.UUID, stepCode string) (string, error) {
	if l, ok := s.labels.Get(pathwayID, stepCode); ok {
		return l, nil
	}
	st, err := s.pathways.GetStep(ctx, pathwayID, stepCode)
	if err != nil {
		return "", err
	}
	s.labels.Put(pathwayID, stepCode, st.Label)
	return st.Label, nil
}

// UpdateStepLabel writes the label and invalidates the cache entry.
func (s *Service) UpdateStepLabel(ctx context.Context, pathwayID uuid.UUID, stepCode, label string) error {
	if err := s.pathways.UpdateStepLabel(ctx, pathwayID, stepCode, label); err != nil {
		return err
	}
	s.labels.Invalidate(pathwayID, stepCode)
	return nil
}

func (s *Service) DeactivatePathway(ctx context.Context, id uuid.UUID) error {
	return s.pathways.Deactivate(ctx, id)
}
