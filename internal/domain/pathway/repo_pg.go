package pathway

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

type pathwayRepoPG struct{ pool *pgxpool.Pool }

func NewPathwayRepoPG(pool *pgxpool.Pool) PathwayRepository { return &pathwayRepoPG{pool: pool} }

func (r *pathwayRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const pathwayCols = `id, code, name, version, active, created_at`

func (r *pathwayRepoPG) scanPathway(row pgx.Row) (*CarePathway, error) {
	var p CarePathway
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Version, &p.Active, &p.CreatedAt)
	return &p, err
}

func (r *pathwayRepoPG) Create(ctx context.Context, p *CarePathway, steps []*PathwayStep) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO care_pathways (id, code, name, version, active)
		VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.Code, p.Name, p.Version, p.Active)
	if err != nil {
		return err
	}
	for _, st := range steps {
		st.ID = uuid.New()
		st.PathwayID = p.ID
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO care_pathway_steps (id, pathway_id, step_code, label, pool,
				duration_minutes, default_days_offset, window_days, requires_precommit, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			st.ID, st.PathwayID, st.StepCode, st.Label, st.Pool,
			st.DurationMinutes, st.DefaultDaysOffset, st.WindowDays, st.RequiresPrecommit, st.Position)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *pathwayRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CarePathway, error) {
	return r.scanPathway(r.conn(ctx).QueryRow(ctx,
		`SELECT `+pathwayCols+` FROM care_pathways WHERE id = $1`, id))
}

func (r *pathwayRepoPG) GetLatestByCode(ctx context.Context, code string) (*CarePathway, error) {
	return r.scanPathway(r.conn(ctx).QueryRow(ctx,
		`SELECT `+pathwayCols+` FROM care_pathways
		 WHERE code = $1 AND active ORDER BY version DESC LIMIT 1`, code))
}

func (r *pathwayRepoPG) List(ctx context.Context, limit, offset int) ([]*CarePathway, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM care_pathways`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+pathwayCols+` FROM care_pathways ORDER BY code, version DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*CarePathway
	for rows.Next() {
		p, err := r.scanPathway(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}

const stepCols = `id, pathway_id, step_code, label, pool, duration_minutes,
	default_days_offset, window_days, requires_precommit, position`

func scanStep(row pgx.Row) (*PathwayStep, error) {
	var st PathwayStep
	err := row.Scan(&st.ID, &st.PathwayID, &st.StepCode, &st.Label, &st.Pool,
		&st.DurationMinutes, &st.DefaultDaysOffset, &st.WindowDays, &st.RequiresPrecommit, &st.Position)
	return &st, err
}

func (r *pathwayRepoPG) Steps(ctx context.Context, pathwayID uuid.UUID) ([]*PathwayStep, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+stepCols+` FROM care_pathway_steps WHERE pathway_id = $1 ORDER BY position`, pathwayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PathwayStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, st)
	}
	return items, nil
}

func (r *pathwayRepoPG) GetStep(ctx context.Context, pathwayID uuid.UUID, stepCode string) (*PathwayStep, error) {
	st, err := scanStep(r.conn(ctx).QueryRow(ctx,
		`SELECT `+stepCols+` FROM care_pathway_steps WHERE pathway_id = $1 AND step_code = $2`,
		pathwayID, stepCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStepNotInCatalog
	}
	return st, err
}

func (r *pathwayRepoPG) UpdateStepLabel(ctx context.Context, pathwayID uuid.UUID, stepCode, label string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE care_pathway_steps SET label = $3 WHERE pathway_id = $1 AND step_code = $2`,
		pathwayID, stepCode, label)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStepNotInCatalog
	}
	return nil
}

func (r *pathwayRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE care_pathways SET active = false WHERE id = $1`, id)
	return err
}
