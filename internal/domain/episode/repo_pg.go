package episode

import (
	"context"
	"errors"

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

// =========== Episode Repository ===========

type episodeRepoPG struct{ pool *pgxpool.Pool }

func NewEpisodeRepoPG(pool *pgxpool.Pool) EpisodeRepository { return &episodeRepoPG{pool: pool} }

func (r *episodeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const episodeCols = `id, patient_id, status, reason, care_pathway_id,
	assigned_provider_id, opened_at, closed_at`

func scanEpisode(row pgx.Row) (*Episode, error) {
	var e Episode
	err := row.Scan(&e.ID, &e.PatientID, &e.Status, &e.Reason, &e.CarePathwayID,
		&e.AssignedProviderID, &e.OpenedAt, &e.ClosedAt)
	return &e, err
}

func (r *episodeRepoPG) Create(ctx context.Context, e *Episode) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_episodes (id, patient_id, status, reason, care_pathway_id, assigned_provider_id)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.PatientID, e.Status, e.Reason, e.CarePathwayID, e.AssignedProviderID)
	return err
}

func (r *episodeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Episode, error) {
	e, err := scanEpisode(r.conn(ctx).QueryRow(ctx,
		`SELECT `+episodeCols+` FROM patient_episodes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEpisodeNotFound
	}
	return e, err
}

func (r *episodeRepoPG) CloseOpenByPatient(ctx context.Context, patientID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_episodes SET status = 'closed', closed_at = NOW()
		WHERE patient_id = $1 AND status = 'open'`, patientID)
	return err
}

func (r *episodeRepoPG) Close(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_episodes SET status = 'closed', closed_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *episodeRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Episode, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_episodes WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+episodeCols+` FROM patient_episodes
		 WHERE patient_id = $1 ORDER BY opened_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, nil
}

func (r *episodeRepoPG) Pathways(ctx context.Context, episodeID uuid.UUID) ([]*EpisodePathway, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, episode_id, pathway_id, added_at FROM episode_pathways
		WHERE episode_id = $1 ORDER BY added_at`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*EpisodePathway
	for rows.Next() {
		var ep EpisodePathway
		if err := rows.Scan(&ep.ID, &ep.EpisodeID, &ep.PathwayID, &ep.AddedAt); err != nil {
			return nil, err
		}
		items = append(items, &ep)
	}
	return items, nil
}

func (r *episodeRepoPG) AddPathway(ctx context.Context, ep *EpisodePathway) error {
	ep.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO episode_pathways (id, episode_id, pathway_id) VALUES ($1,$2,$3)`,
		ep.ID, ep.EpisodeID, ep.PathwayID)
	return err
}

func (r *episodeRepoPG) GetPathwayRef(ctx context.Context, id uuid.UUID) (*EpisodePathway, error) {
	var ep EpisodePathway
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, episode_id, pathway_id, added_at FROM episode_pathways WHERE id = $1`, id).
		Scan(&ep.ID, &ep.EpisodeID, &ep.PathwayID, &ep.AddedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPathwayRefNotFound
	}
	return &ep, err
}

// =========== Step Repository ===========

type stepRepoPG struct{ pool *pgxpool.Pool }

func NewStepRepoPG(pool *pgxpool.Pool) StepRepository { return &stepRepoPG{pool: pool} }

func (r *stepRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const stepCols = `id, episode_id, episode_pathway_id, step_code, seq, pool,
	duration_minutes, status, appointment_id, completed_at`

func scanStep(row pgx.Row) (*EpisodeStep, error) {
	var st EpisodeStep
	err := row.Scan(&st.ID, &st.EpisodeID, &st.EpisodePathwayID, &st.StepCode, &st.Seq,
		&st.Pool, &st.DurationMinutes, &st.Status, &st.AppointmentID, &st.CompletedAt)
	return &st, err
}

func (r *stepRepoPG) ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*EpisodeStep, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+stepCols+` FROM episode_steps WHERE episode_id = $1 ORDER BY seq`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*EpisodeStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, st)
	}
	return items, nil
}

func (r *stepRepoPG) Get(ctx context.Context, episodeID uuid.UUID, seq int) (*EpisodeStep, error) {
	st, err := scanStep(r.conn(ctx).QueryRow(ctx,
		`SELECT `+stepCols+` FROM episode_steps WHERE episode_id = $1 AND seq = $2`, episodeID, seq))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStepNotFound
	}
	return st, err
}

func (r *stepRepoPG) ExistsForPathwayRef(ctx context.Context, episodeID uuid.UUID, episodePathwayID *uuid.UUID) (bool, error) {
	var exists bool
	var err error
	if episodePathwayID == nil {
		err = r.conn(ctx).QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM episode_steps
			WHERE episode_id = $1 AND episode_pathway_id IS NULL)`, episodeID).Scan(&exists)
	} else {
		err = r.conn(ctx).QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM episode_steps
			WHERE episode_id = $1 AND episode_pathway_id = $2)`, episodeID, *episodePathwayID).Scan(&exists)
	}
	return exists, err
}

func (r *stepRepoPG) InsertBatch(ctx context.Context, steps []*EpisodeStep) error {
	for _, st := range steps {
		st.ID = uuid.New()
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO episode_steps (id, episode_id, episode_pathway_id, step_code, seq,
				pool, duration_minutes, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			st.ID, st.EpisodeID, st.EpisodePathwayID, st.StepCode, st.Seq,
			st.Pool, st.DurationMinutes, st.Status)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *stepRepoPG) UpdateStatus(ctx context.Context, st *EpisodeStep) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE episode_steps SET status = $3, appointment_id = $4, completed_at = $5
		WHERE episode_id = $1 AND seq = $2`,
		st.EpisodeID, st.Seq, st.Status, st.AppointmentID, st.CompletedAt)
	return err
}

func (r *stepRepoPG) Delete(ctx context.Context, episodeID uuid.UUID, seq int) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM episode_steps WHERE episode_id = $1 AND seq = $2`, episodeID, seq)
	return err
}

// Resequence re-packs seq to 0..n-1 preserving order.
func (r *stepRepoPG) Resequence(ctx context.Context, episodeID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE episode_steps es SET seq = ranked.new_seq
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY seq) - 1 AS new_seq
			FROM episode_steps WHERE episode_id = $1
		) ranked
		WHERE es.id = ranked.id`, episodeID)
	return err
}

func (r *stepRepoPG) MaxSeq(ctx context.Context, episodeID uuid.UUID) (int, error) {
	var max int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), -1) FROM episode_steps WHERE episode_id = $1`, episodeID).Scan(&max)
	return max, err
}
