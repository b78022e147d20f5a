package workload

import (
	"context"
	"time"
)

// LoadRepository reads the aggregates the advisory is built from. All reads
// are lock free and may be slightly stale.
type LoadRepository interface {
	ProviderLoads(ctx context.Context, from, to time.Time) ([]ProviderLoad, error)
	OpenEpisodeCount(ctx context.Context) (int, error)
	// WorklistCount is the number of pending steps waiting for a booking.
	WorklistCount(ctx context.Context) (int, error)
	// LatestCompletionP80 is the furthest projected completion across active
	// forecasts. Nil when no forecast exists.
	LatestCompletionP80(ctx context.Context) (*time.Time, error)
}
