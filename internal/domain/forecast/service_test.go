package forecast

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockForecastRepo struct {
	rows        map[uuid.UUID]*Forecast
	upsertCalls int
}

func newMockForecastRepo() *mockForecastRepo {
	return &mockForecastRepo{rows: make(map[uuid.UUID]*Forecast)}
}

func (m *mockForecastRepo) GetByEpisodeIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*Forecast, error) {
	out := make(map[uuid.UUID]*Forecast)
	for _, id := range ids {
		if f, ok := m.rows[id]; ok {
			out[id] = f
		}
	}
	return out, nil
}

// BulkUpsert mirrors the single-statement upsert: a key appearing twice in
// one call is an error, the same way Postgres rejects a row affected twice.
func (m *mockForecastRepo) BulkUpsert(_ context.Context, forecasts []*Forecast) error {
	m.upsertCalls++
	seen := make(map[uuid.UUID]struct{}, len(forecasts))
	for _, f := range forecasts {
		if _, ok := seen[f.EpisodeID]; ok {
			return fmt.Errorf("episode %s affected twice in one upsert", f.EpisodeID)
		}
		seen[f.EpisodeID] = struct{}{}
		m.rows[f.EpisodeID] = f
	}
	return nil
}

type mockProgressReader struct {
	progress map[uuid.UUID]*Progress
}

func (m *mockProgressReader) ReadProgress(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*Progress, error) {
	out := make(map[uuid.UUID]*Progress)
	for _, id := range ids {
		if p, ok := m.progress[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type countingEstimator struct {
	inner Estimator
	calls int
}

func (e *countingEstimator) Estimate(in Inputs) Estimate {
	e.calls++
	return e.inner.Estimate(in)
}

type forecastFixture struct {
	svc       *Service
	repo      *mockForecastRepo
	progress  *mockProgressReader
	estimator *countingEstimator
	now       time.Time
}

func newForecastFixture(t *testing.T) *forecastFixture {
	t.Helper()
	f := &forecastFixture{
		repo:      newMockForecastRepo(),
		progress:  &mockProgressReader{progress: make(map[uuid.UUID]*Progress)},
		estimator: &countingEstimator{inner: NewCadenceEstimator()},
		now:       time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, f.progress, f.estimator, zerolog.Nop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *forecastFixture) addEpisode(completed, total int, stepCode string) uuid.UUID {
	id := uuid.New()
	p := &Progress{
		EpisodeID:  id,
		HasPathway: true,
		Inputs: Inputs{
			PathwayID:      uuid.New(),
			PathwayVersion: 1,
			CompletedCount: completed,
			TotalCount:     total,
		},
	}
	if stepCode != "" {
		p.CurrentStepCode = &stepCode
		p.Inputs.CurrentStepCode = stepCode
	}
	f.progress.progress[id] = p
	return id
}

func TestInputsHash_Deterministic(t *testing.T) {
	in := Inputs{
		PathwayID:       uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		PathwayVersion:  2,
		CompletedCount:  1,
		TotalCount:      3,
		CurrentStepCode: "implant",
	}
	if in.Hash() != in.Hash() {
		t.Error("hash of equal inputs differs")
	}

	changed := in
	changed.CompletedCount = 2
	if in.Hash() == changed.Hash() {
		t.Error("hash should change when progress changes")
	}
	changed = in
	changed.PathwayVersion = 3
	if in.Hash() == changed.Hash() {
		t.Error("hash should change when the pathway version changes")
	}
}

func TestComputeBatch_CacheHitSkipsEstimator(t *testing.T) {
	f := newForecastFixture(t)
	ctx := context.Background()
	id := f.addEpisode(1, 3, "implant")

	first, _, err := f.svc.ComputeBatch(ctx, []uuid.UUID{id})
	if err != nil {
		t.Fatalf("first ComputeBatch: %v", err)
	}
	if f.estimator.calls != 1 || f.repo.upsertCalls != 1 {
		t.Fatalf("estimator calls=%d upserts=%d, want 1 and 1", f.estimator.calls, f.repo.upsertCalls)
	}

	second, _, err := f.svc.ComputeBatch(ctx, []uuid.UUID{id})
	if err != nil {
		t.Fatalf("second ComputeBatch: %v", err)
	}
	if f.estimator.calls != 1 {
		t.Errorf("estimator calls = %d, cache hit should not recompute", f.estimator.calls)
	}
	if f.repo.upsertCalls != 1 {
		t.Errorf("upsert calls = %d, cache hit should not write", f.repo.upsertCalls)
	}

	// coherence: the cached row is identical to the computed one
	a, b := first[id], second[id]
	if a.RemainingVisitsP50 != b.RemainingVisitsP50 || a.RemainingVisitsP80 != b.RemainingVisitsP80 {
		t.Errorf("cached percentiles differ: %+v vs %+v", a, b)
	}
	if !a.CompletionEndP50.Equal(*b.CompletionEndP50) || !a.CompletionEndP80.Equal(*b.CompletionEndP80) {
		t.Errorf("cached completion dates differ: %+v vs %+v", a, b)
	}
}

func TestComputeBatch_HashMismatchRecomputes(t *testing.T) {
	f := newForecastFixture(t)
	ctx := context.Background()
	id := f.addEpisode(1, 3, "implant")

	first, _, err := f.svc.ComputeBatch(ctx, []uuid.UUID{id})
	if err != nil {
		t.Fatalf("ComputeBatch: %v", err)
	}

	// progress moves: hash changes, cached row is stale
	p := f.progress.progress[id]
	p.Inputs.CompletedCount = 2
	p.Inputs.CurrentStepCode = "control"
	code := "control"
	p.CurrentStepCode = &code

	second, _, err := f.svc.ComputeBatch(ctx, []uuid.UUID{id})
	if err != nil {
		t.Fatalf("ComputeBatch after progress: %v", err)
	}
	if f.estimator.calls != 2 || f.repo.upsertCalls != 2 {
		t.Errorf("estimator calls=%d upserts=%d, want 2 and 2", f.estimator.calls, f.repo.upsertCalls)
	}
	if second[id].RemainingVisitsP50 >= first[id].RemainingVisitsP50 {
		t.Errorf("remaining visits should drop as steps complete: %d -> %d",
			first[id].RemainingVisitsP50, second[id].RemainingVisitsP50)
	}
}

func TestComputeBatch_MixedBatchOneUpsert(t *testing.T) {
	f := newForecastFixture(t)
	ctx := context.Background()

	cachedID := f.addEpisode(0, 3, "consult")
	if _, _, err := f.svc.ComputeBatch(ctx, []uuid.UUID{cachedID}); err != nil {
		t.Fatalf("seed ComputeBatch: %v", err)
	}
	freshA := f.addEpisode(1, 4, "implant")
	freshB := f.addEpisode(2, 2, "")

	f.repo.upsertCalls = 0
	results, _, err := f.svc.ComputeBatch(ctx, []uuid.UUID{cachedID, freshA, freshB})
	if err != nil {
		t.Fatalf("ComputeBatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if f.repo.upsertCalls != 1 {
		t.Errorf("upsert calls = %d, recomputed rows must go in one statement", f.repo.upsertCalls)
	}
	if results[freshB].Status != StatusComplete {
		t.Errorf("episode with no current step: status = %s, want complete", results[freshB].Status)
	}
}

func TestComputeBatch_BlockedIsCached(t *testing.T) {
	f := newForecastFixture(t)
	ctx := context.Background()

	id := uuid.New()
	f.progress.progress[id] = &Progress{EpisodeID: id}

	first, _, err := f.svc.ComputeBatch(ctx, []uuid.UUID{id})
	if err != nil {
		t.Fatalf("ComputeBatch: %v", err)
	}
	if first[id].Status != StatusBlocked {
		t.Fatalf("status = %s, want blocked", first[id].Status)
	}
	if f.estimator.calls != 0 {
		t.Errorf("estimator calls = %d, blocked episodes never estimate", f.estimator.calls)
	}

	f.repo.upsertCalls = 0
	if _, _, err := f.svc.ComputeBatch(ctx, []uuid.UUID{id}); err != nil {
		t.Fatalf("second ComputeBatch: %v", err)
	}
	if f.repo.upsertCalls != 0 {
		t.Errorf("upsert calls = %d, blocked row should be served from cache", f.repo.upsertCalls)
	}
}

func TestComputeBatch_DuplicateIDsCollapse(t *testing.T) {
	f := newForecastFixture(t)
	ctx := context.Background()
	id := f.addEpisode(1, 3, "implant")

	results, _, err := f.svc.ComputeBatch(ctx, []uuid.UUID{id, id, id})
	if err != nil {
		t.Fatalf("ComputeBatch with duplicate ids: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1", len(results))
	}
	if f.estimator.calls != 1 || f.repo.upsertCalls != 1 {
		t.Errorf("estimator calls=%d upserts=%d, want 1 and 1", f.estimator.calls, f.repo.upsertCalls)
	}
}

func TestComputeBatch_CapsAtLimit(t *testing.T) {
	f := newForecastFixture(t)
	ctx := context.Background()

	ids := make([]uuid.UUID, BatchLimit+20)
	for i := range ids {
		ids[i] = f.addEpisode(0, 2, "consult")
	}

	results, meta, err := f.svc.ComputeBatch(ctx, ids)
	if err != nil {
		t.Fatalf("ComputeBatch: %v", err)
	}
	if !meta.LimitApplied {
		t.Error("meta.LimitApplied should be true when ids exceed the cap")
	}
	if meta.Limit != BatchLimit {
		t.Errorf("meta.Limit = %d, want %d", meta.Limit, BatchLimit)
	}
	if len(results) != BatchLimit {
		t.Errorf("results = %d, want %d", len(results), BatchLimit)
	}
	if _, ok := results[ids[BatchLimit]]; ok {
		t.Error("episode beyond the cap should not be computed")
	}
}

func TestComputeEpisodeForecast_UnknownEpisode(t *testing.T) {
	f := newForecastFixture(t)
	if _, err := f.svc.ComputeEpisodeForecast(context.Background(), uuid.New()); err != ErrEpisodeNotFound {
		t.Errorf("got %v, want ErrEpisodeNotFound", err)
	}
}

func TestCadenceEstimator(t *testing.T) {
	e := NewCadenceEstimator()
	est := e.Estimate(Inputs{CompletedCount: 1, TotalCount: 4})
	if est.RemainingVisitsP50 != 3 {
		t.Errorf("p50 visits = %d, want 3", est.RemainingVisitsP50)
	}
	if est.RemainingVisitsP80 != 4 {
		t.Errorf("p80 visits = %d, want 4", est.RemainingVisitsP80)
	}
	if est.CompletionDaysP50 != 30 || est.CompletionDaysP80 != 40 {
		t.Errorf("days = %d/%d, want 30/40", est.CompletionDaysP50, est.CompletionDaysP80)
	}

	est = e.Estimate(Inputs{CompletedCount: 5, TotalCount: 4})
	if est.RemainingVisitsP50 != 0 || est.CompletionDaysP50 != 0 {
		t.Errorf("overshot progress should clamp to zero, got %+v", est)
	}
}
