package pathway

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type mockPathwayRepo struct {
	pathways map[uuid.UUID]*CarePathway
	steps    map[uuid.UUID][]*PathwayStep

	getStepCalls int
}

func newMockPathwayRepo() *mockPathwayRepo {
	return &mockPathwayRepo{
		pathways: make(map[uuid.UUID]*CarePathway),
		steps:    make(map[uuid.UUID][]*PathwayStep),
	}
}

func (m *mockPathwayRepo) Create(_ context.Context, p *CarePathway, steps []*PathwayStep) error {
	p.ID = uuid.New()
	m.pathways[p.ID] = p
	for _, st := range steps {
		st.ID = uuid.New()
		st.PathwayID = p.ID
	}
	m.steps[p.ID] = steps
	return nil
}

func (m *mockPathwayRepo) GetByID(_ context.Context, id uuid.UUID) (*CarePathway, error) {
	p, ok := m.pathways[id]
	if !ok {
		return nil, ErrPathwayNotFound
	}
	return p, nil
}

func (m *mockPathwayRepo) GetLatestByCode(_ context.Context, code string) (*CarePathway, error) {
	var latest *CarePathway
	for _, p := range m.pathways {
		if p.Code == code && p.Active && (latest == nil || p.Version > latest.Version) {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrPathwayNotFound
	}
	return latest, nil
}

func (m *mockPathwayRepo) List(_ context.Context, limit, offset int) ([]*CarePathway, int, error) {
	var items []*CarePathway
	for _, p := range m.pathways {
		items = append(items, p)
	}
	return items, len(items), nil
}

func (m *mockPathwayRepo) Steps(_ context.Context, pathwayID uuid.UUID) ([]*PathwayStep, error) {
	return m.steps[pathwayID], nil
}

func (m *mockPathwayRepo) GetStep(_ context.Context, pathwayID uuid.UUID, stepCode string) (*PathwayStep, error) {
	m.getStepCalls++
	for _, st := range m.steps[pathwayID] {
		if st.StepCode == stepCode {
			return st, nil
		}
	}
	return nil, ErrStepNotInCatalog
}

func (m *mockPathwayRepo) UpdateStepLabel(_ context.Context, pathwayID uuid.UUID, stepCode, label string) error {
	for _, st := range m.steps[pathwayID] {
		if st.StepCode == stepCode {
			st.Label = label
			return nil
		}
	}
	return ErrStepNotInCatalog
}

func (m *mockPathwayRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	if p, ok := m.pathways[id]; ok {
		p.Active = false
	}
	return nil
}

func implantSteps() []*PathwayStep {
	return []*PathwayStep{
		{StepCode: "consult", Label: "Consultation", Pool: PoolConsult, DurationMinutes: 30},
		{StepCode: "implant", Label: "Implant placement", Pool: PoolWork, DurationMinutes: 90, DefaultDaysOffset: 7},
		{StepCode: "control", Label: "Control visit", Pool: PoolControl, DurationMinutes: 15, DefaultDaysOffset: 14},
	}
}

func TestCreatePathway_Versioning(t *testing.T) {
	repo := newMockPathwayRepo()
	svc := NewService(repo, NewLabelCache())
	ctx := context.Background()

	p1 := &CarePathway{Code: "implant", Name: "Implant"}
	if err := svc.CreatePathway(ctx, p1, implantSteps()); err != nil {
		t.Fatalf("CreatePathway: %v", err)
	}
	if p1.Version != 1 {
		t.Errorf("first version = %d, want 1", p1.Version)
	}

	p2 := &CarePathway{Code: "implant", Name: "Implant v2"}
	if err := svc.CreatePathway(ctx, p2, implantSteps()); err != nil {
		t.Fatalf("CreatePathway: %v", err)
	}
	if p2.Version != 2 {
		t.Errorf("second version = %d, want 2", p2.Version)
	}

	latest, err := svc.GetLatestByCode(ctx, "implant")
	if err != nil {
		t.Fatalf("GetLatestByCode: %v", err)
	}
	if latest.ID != p2.ID {
		t.Error("expected latest version to be returned")
	}
}

func TestCreatePathway_Validation(t *testing.T) {
	svc := NewService(newMockPathwayRepo(), NewLabelCache())
	ctx := context.Background()

	if err := svc.CreatePathway(ctx, &CarePathway{}, implantSteps()); err == nil {
		t.Error("expected error for missing code")
	}
	if err := svc.CreatePathway(ctx, &CarePathway{Code: "x"}, nil); err == nil {
		t.Error("expected error for empty steps")
	}
	bad := implantSteps()
	bad[0].Pool = "surgery"
	if err := svc.CreatePathway(ctx, &CarePathway{Code: "x"}, bad); err == nil {
		t.Error("expected error for invalid pool")
	}
}

func TestStepLabel_CacheHit(t *testing.T) {
	repo := newMockPathwayRepo()
	svc := NewService(repo, NewLabelCache())
	ctx := context.Background()

	p := &CarePathway{Code: "implant", Name: "Implant"}
	if err := svc.CreatePathway(ctx, p, implantSteps()); err != nil {
		t.Fatalf("CreatePathway: %v", err)
	}

	for i := 0; i < 3; i++ {
		l, err := svc.StepLabel(ctx, p.ID, "consult")
		if err != nil {
			t.Fatalf("StepLabel: %v", err)
		}
		if l != "Consultation" {
			t.Errorf("label = %q", l)
		}
	}
	if repo.getStepCalls != 1 {
		t.Errorf("repo hit %d times, want 1 (cached after first load)", repo.getStepCalls)
	}
}

func TestUpdateStepLabel_InvalidatesCache(t *testing.T) {
	repo := newMockPathwayRepo()
	svc := NewService(repo, NewLabelCache())
	ctx := context.Background()

	p := &CarePathway{Code: "implant", Name: "Implant"}
	if err := svc.CreatePathway(ctx, p, implantSteps()); err != nil {
		t.Fatalf("CreatePathway: %v", err)
	}

	if _, err := svc.StepLabel(ctx, p.ID, "consult"); err != nil {
		t.Fatalf("StepLabel: %v", err)
	}
	if err := svc.UpdateStepLabel(ctx, p.ID, "consult", "First visit"); err != nil {
		t.Fatalf("UpdateStepLabel: %v", err)
	}

	l, err := svc.StepLabel(ctx, p.ID, "consult")
	if err != nil {
		t.Fatalf("StepLabel: %v", err)
	}
	if l != "First visit" {
		t.Errorf("stale label %q served after invalidation", l)
	}
}

func TestUpdateStepLabel_UnknownStep(t *testing.T) {
	repo := newMockPathwayRepo()
	svc := NewService(repo, NewLabelCache())

	err := svc.UpdateStepLabel(context.Background(), uuid.New(), "nope", "x")
	if !errors.Is(err, ErrStepNotInCatalog) {
		t.Errorf("expected ErrStepNotInCatalog, got %v", err)
	}
}
