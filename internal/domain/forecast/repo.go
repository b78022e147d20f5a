package forecast

import (
	"context"

	"github.com/google/uuid"
)

type ForecastRepository interface {
	GetByEpisodeIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Forecast, error)
	// BulkUpsert writes every row in one statement keyed on episode_id.
	BulkUpsert(ctx context.Context, rows []*Forecast) error
}

// ProgressReader resolves forecast inputs from the episode store.
type ProgressReader interface {
	ReadProgress(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Progress, error)
}

// Estimator turns inputs into remaining-visit and completion percentiles.
// Implementations must be deterministic over Inputs; the cache serves stored
// rows whenever the inputs hash matches, so a non-deterministic estimator
// would silently disagree with its own cache.
type Estimator interface {
	Estimate(in Inputs) Estimate
}
