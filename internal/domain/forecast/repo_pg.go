package forecast

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
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

type forecastRepoPG struct{ pool *pgxpool.Pool }

func NewForecastRepoPG(pool *pgxpool.Pool) ForecastRepository { return &forecastRepoPG{pool: pool} }

func (r *forecastRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const forecastCols = `episode_id, status, inputs_hash, next_step_code,
	remaining_visits_p50, remaining_visits_p80, completion_end_p50,
	completion_end_p80, computed_at`

func (r *forecastRepoPG) GetByEpisodeIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Forecast, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+forecastCols+` FROM episode_forecasts WHERE episode_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]*Forecast, len(ids))
	for rows.Next() {
		var f Forecast
		if err := rows.Scan(&f.EpisodeID, &f.Status, &f.InputsHash, &f.NextStepCode,
			&f.RemainingVisitsP50, &f.RemainingVisitsP80, &f.CompletionEndP50,
			&f.CompletionEndP80, &f.ComputedAt); err != nil {
			return nil, err
		}
		out[f.EpisodeID] = &f
	}
	return out, rows.Err()
}

func (r *forecastRepoPG) BulkUpsert(ctx context.Context, forecasts []*Forecast) error {
	if len(forecasts) == 0 {
		return nil
	}
	values := make([]string, 0, len(forecasts))
	args := make([]interface{}, 0, len(forecasts)*9)
	for i, f := range forecasts {
		base := i * 9
		values = append(values, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))
		args = append(args, f.EpisodeID, f.Status, f.InputsHash, f.NextStepCode,
			f.RemainingVisitsP50, f.RemainingVisitsP80, f.CompletionEndP50,
			f.CompletionEndP80, f.ComputedAt)
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO episode_forecasts (`+forecastCols+`)
		VALUES `+strings.Join(values, ",")+`
		ON CONFLICT (episode_id) DO UPDATE SET
			status = EXCLUDED.status,
			inputs_hash = EXCLUDED.inputs_hash,
			next_step_code = EXCLUDED.next_step_code,
			remaining_visits_p50 = EXCLUDED.remaining_visits_p50,
			remaining_visits_p80 = EXCLUDED.remaining_visits_p80,
			completion_end_p50 = EXCLUDED.completion_end_p50,
			completion_end_p80 = EXCLUDED.completion_end_p80,
			computed_at = EXCLUDED.computed_at`, args...)
	return err
}

type progressReaderPG struct{ pool *pgxpool.Pool }

func NewProgressReaderPG(pool *pgxpool.Pool) ProgressReader { return &progressReaderPG{pool: pool} }

func (r *progressReaderPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// ReadProgress resolves pathway identity, step counts and the current step
// for each episode. The first pathway reference wins; the legacy scalar
// column is the fallback.
func (r *progressReaderPG) ReadProgress(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Progress, error) {
	out := make(map[uuid.UUID]*Progress, len(ids))

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT e.id, COALESCE(ep.pathway_id, e.care_pathway_id), p.version
		FROM patient_episodes e
		LEFT JOIN LATERAL (
			SELECT pathway_id FROM episode_pathways
			WHERE episode_id = e.id ORDER BY added_at LIMIT 1
		) ep ON true
		LEFT JOIN care_pathways p ON p.id = COALESCE(ep.pathway_id, e.care_pathway_id)
		WHERE e.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var episodeID uuid.UUID
		var pathwayID *uuid.UUID
		var version *int
		if err := rows.Scan(&episodeID, &pathwayID, &version); err != nil {
			return nil, err
		}
		p := &Progress{EpisodeID: episodeID}
		if pathwayID != nil && version != nil {
			p.HasPathway = true
			p.Inputs.PathwayID = *pathwayID
			p.Inputs.PathwayVersion = *version
		}
		out[episodeID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT episode_id,
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status <> 'skipped')
		FROM episode_steps WHERE episode_id = ANY($1) GROUP BY episode_id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var episodeID uuid.UUID
		var completed, total int
		if err := rows.Scan(&episodeID, &completed, &total); err != nil {
			return nil, err
		}
		if p, ok := out[episodeID]; ok {
			p.Inputs.CompletedCount = completed
			p.Inputs.TotalCount = total
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT DISTINCT ON (episode_id) episode_id, step_code
		FROM episode_steps
		WHERE episode_id = ANY($1) AND status IN ('pending', 'scheduled')
		ORDER BY episode_id, seq`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var episodeID uuid.UUID
		var stepCode string
		if err := rows.Scan(&episodeID, &stepCode); err != nil {
			return nil, err
		}
		if p, ok := out[episodeID]; ok {
			code := stepCode
			p.CurrentStepCode = &code
			p.Inputs.CurrentStepCode = stepCode
		}
	}
	return out, rows.Err()
}
