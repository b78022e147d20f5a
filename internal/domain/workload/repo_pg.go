package workload

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicops/clinicops/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type loadRepoPG struct{ pool *pgxpool.Pool }

func NewLoadRepoPG(pool *pgxpool.Pool) LoadRepository { return &loadRepoPG{pool: pool} }

func (r *loadRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *loadRepoPG) ProviderLoads(ctx context.Context, from, to time.Time) ([]ProviderLoad, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT provider_id,
			COALESCE(SUM(duration_minutes) FILTER (WHERE state <> 'blocked'), 0),
			COALESCE(SUM(duration_minutes) FILTER (WHERE state = 'booked'), 0),
			COALESCE(SUM(duration_minutes) FILTER (WHERE state IN ('held', 'offered')), 0)
		FROM available_time_slots
		WHERE start_time >= $1 AND start_time < $2
		GROUP BY provider_id
		ORDER BY provider_id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var loads []ProviderLoad
	for rows.Next() {
		var l ProviderLoad
		if err := rows.Scan(&l.ProviderID, &l.AvailableMinutes, &l.BookedMinutes, &l.HeldMinutes); err != nil {
			return nil, err
		}
		loads = append(loads, l)
	}
	return loads, rows.Err()
}

func (r *loadRepoPG) OpenEpisodeCount(ctx context.Context) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_episodes WHERE status = 'open'`).Scan(&count)
	return count, err
}

func (r *loadRepoPG) WorklistCount(ctx context.Context) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM episode_steps s
		JOIN patient_episodes e ON e.id = s.episode_id
		WHERE s.status = 'pending' AND e.status = 'open'`).Scan(&count)
	return count, err
}

func (r *loadRepoPG) LatestCompletionP80(ctx context.Context) (*time.Time, error) {
	var latest *time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT MAX(completion_end_p80) FROM episode_forecasts
		WHERE status = 'active'`).Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return latest, err
}
