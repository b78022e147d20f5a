package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const slotCols = `id, provider_id, start_time, duration_minutes, state, slot_purpose, created_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var sl Slot
	err := row.Scan(&sl.ID, &sl.ProviderID, &sl.StartTime, &sl.DurationMinutes,
		&sl.State, &sl.SlotPurpose, &sl.CreatedAt)
	return &sl, err
}

func (r *slotRepoPG) Create(ctx context.Context, sl *Slot) error {
	sl.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO available_time_slots (id, provider_id, start_time, duration_minutes, state, slot_purpose)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sl.ID, sl.ProviderID, sl.StartTime, sl.DurationMinutes, sl.State, sl.SlotPurpose)
	return err
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	sl, err := scanSlot(r.conn(ctx).QueryRow(ctx,
		`SELECT `+slotCols+` FROM available_time_slots WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	return sl, err
}

func (r *slotRepoPG) List(ctx context.Context, providerID *uuid.UUID, state string, limit, offset int) ([]*Slot, int, error) {
	query := `SELECT ` + slotCols + ` FROM available_time_slots WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM available_time_slots WHERE 1=1`
	var args []interface{}
	idx := 1

	if providerID != nil {
		query += fmt.Sprintf(` AND provider_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND provider_id = $%d`, idx)
		args = append(args, *providerID)
		idx++
	}
	if state != "" {
		query += fmt.Sprintf(` AND state = $%d`, idx)
		countQuery += fmt.Sprintf(` AND state = $%d`, idx)
		args = append(args, state)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY start_time LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, sl)
	}
	return items, total, nil
}

func (r *slotRepoPG) UpdateState(ctx context.Context, id uuid.UUID, state string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE available_time_slots SET state = $2 WHERE id = $1`, id, state)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *slotRepoPG) LockByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	sl, err := scanSlot(r.conn(ctx).QueryRow(ctx,
		`SELECT `+slotCols+` FROM available_time_slots WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	return sl, err
}

func (r *slotRepoPG) LockEarliestFree(ctx context.Context, pool string, durationMinutes int, windowStart, windowEnd time.Time) (*Slot, error) {
	sl, err := scanSlot(r.conn(ctx).QueryRow(ctx, `
		SELECT `+slotCols+` FROM available_time_slots
		WHERE state = 'free'
		  AND duration_minutes >= $1
		  AND start_time >= $2 AND start_time <= $3
		  AND (slot_purpose IS NULL OR slot_purpose = $4)
		ORDER BY start_time
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		durationMinutes, windowStart, windowEnd, pool))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	return sl, err
}

// =========== Intent Repository ===========

type intentRepoPG struct{ pool *pgxpool.Pool }

func NewIntentRepoPG(pool *pgxpool.Pool) IntentRepository { return &intentRepoPG{pool: pool} }

func (r *intentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const intentCols = `id, episode_id, step_code, step_seq, pool, duration_minutes,
	window_start, window_end, state, created_at`

func scanIntent(row pgx.Row) (*SlotIntent, error) {
	var in SlotIntent
	err := row.Scan(&in.ID, &in.EpisodeID, &in.StepCode, &in.StepSeq, &in.Pool,
		&in.DurationMinutes, &in.WindowStart, &in.WindowEnd, &in.State, &in.CreatedAt)
	return &in, err
}

func (r *intentRepoPG) Create(ctx context.Context, in *SlotIntent) error {
	in.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO slot_intents (id, episode_id, step_code, step_seq, pool,
			duration_minutes, window_start, window_end, state)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		in.ID, in.EpisodeID, in.StepCode, in.StepSeq, in.Pool,
		in.DurationMinutes, in.WindowStart, in.WindowEnd, in.State)
	return err
}

func (r *intentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SlotIntent, error) {
	in, err := scanIntent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+intentCols+` FROM slot_intents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	return in, err
}

func (r *intentRepoPG) LockByID(ctx context.Context, id uuid.UUID) (*SlotIntent, error) {
	in, err := scanIntent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+intentCols+` FROM slot_intents WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	return in, err
}

func (r *intentRepoPG) UpdateState(ctx context.Context, id uuid.UUID, state string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE slot_intents SET state = $2 WHERE id = $1`, id, state)
	return err
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, patient_id, episode_id, time_slot_id, pool, duration_minutes,
	start_time, appointment_status, approval_status, alternative_slot_ids,
	hold_expires_at, no_show_risk, requires_precommit, step_code, step_seq, created_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.EpisodeID, &a.TimeSlotID, &a.Pool,
		&a.DurationMinutes, &a.StartTime, &a.AppointmentStatus, &a.ApprovalStatus,
		&a.AlternativeSlotIDs, &a.HoldExpiresAt, &a.NoShowRisk, &a.RequiresPrecommit,
		&a.StepCode, &a.StepSeq, &a.CreatedAt)
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (id, patient_id, episode_id, time_slot_id, pool,
			duration_minutes, start_time, appointment_status, approval_status,
			alternative_slot_ids, hold_expires_at, no_show_risk, requires_precommit,
			step_code, step_seq)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		a.ID, a.PatientID, a.EpisodeID, a.TimeSlotID, a.Pool,
		a.DurationMinutes, a.StartTime, a.AppointmentStatus, a.ApprovalStatus,
		a.AlternativeSlotIDs, a.HoldExpiresAt, a.NoShowRisk, a.RequiresPrecommit,
		a.StepCode, a.StepSeq)
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (r *appointmentRepoPG) LockByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET time_slot_id=$2, start_time=$3, appointment_status=$4,
			approval_status=$5, alternative_slot_ids=$6, hold_expires_at=$7
		WHERE id = $1`,
		a.ID, a.TimeSlotID, a.StartTime, a.AppointmentStatus,
		a.ApprovalStatus, a.AlternativeSlotIDs, a.HoldExpiresAt)
	return err
}

func (r *appointmentRepoPG) ListByEpisode(ctx context.Context, episodeID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE episode_id = $1`, episodeID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointments
		 WHERE episode_id = $1 ORDER BY start_time LIMIT $2 OFFSET $3`,
		episodeID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, nil
}

func (r *appointmentRepoPG) CountFutureHardWork(ctx context.Context, episodeID uuid.UUID, now time.Time) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE episode_id = $1
		  AND pool = 'work'
		  AND start_time > $2
		  AND (appointment_status IS NULL OR appointment_status = 'completed')
		  AND requires_precommit = false`,
		episodeID, now).Scan(&count)
	return count, err
}

// FindOneHardNextViolations re-derives invariant violations cluster-wide. It
// must agree with CountFutureHardWork; disagreement is a bug.
func (r *appointmentRepoPG) FindOneHardNextViolations(ctx context.Context, now time.Time) ([]Violation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT episode_id, COUNT(*) FROM appointments
		WHERE episode_id IS NOT NULL
		  AND pool = 'work'
		  AND start_time > $1
		  AND (appointment_status IS NULL OR appointment_status = 'completed')
		  AND requires_precommit = false
		GROUP BY episode_id
		HAVING COUNT(*) > 1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Violation
	for rows.Next() {
		var v Violation
		if err := rows.Scan(&v.EpisodeID, &v.Count); err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

func (r *appointmentRepoPG) FindExpiredHolds(ctx context.Context, now time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE hold_expires_at IS NOT NULL
		  AND hold_expires_at < $1
		  AND approval_status = 'pending'
		  AND appointment_status IS NULL
		ORDER BY hold_expires_at`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, nil
}

// =========== Override Audit Repository ===========

type auditRepoPG struct{ pool *pgxpool.Pool }

func NewAuditRepoPG(pool *pgxpool.Pool) AuditRepository { return &auditRepoPG{pool: pool} }

func (r *auditRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *auditRepoPG) Insert(ctx context.Context, a *OverrideAudit) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO scheduling_override_audits (id, episode_id, user_id, override_reason)
		VALUES ($1,$2,$3,$4)`,
		a.ID, a.EpisodeID, a.UserID, a.OverrideReason)
	return err
}

func (r *auditRepoPG) ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*OverrideAudit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, episode_id, user_id, override_reason, created_at
		FROM scheduling_override_audits WHERE episode_id = $1 ORDER BY created_at`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*OverrideAudit
	for rows.Next() {
		var a OverrideAudit
		if err := rows.Scan(&a.ID, &a.EpisodeID, &a.UserID, &a.OverrideReason, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, nil
}

// =========== Episode Gateway ===========

type episodeGatewayPG struct{ pool *pgxpool.Pool }

func NewEpisodeGatewayPG(pool *pgxpool.Pool) EpisodeGateway { return &episodeGatewayPG{pool: pool} }

func (g *episodeGatewayPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return g.pool
}

func (g *episodeGatewayPG) LockEpisode(ctx context.Context, episodeID uuid.UUID) (uuid.UUID, error) {
	var patientID uuid.UUID
	err := g.conn(ctx).QueryRow(ctx,
		`SELECT patient_id FROM patient_episodes WHERE id = $1 FOR UPDATE`, episodeID).Scan(&patientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrEpisodeNotFound
	}
	return patientID, err
}

func (g *episodeGatewayPG) RequiresPrecommit(ctx context.Context, episodeID uuid.UUID, stepCode string) (bool, error) {
	var precommit bool
	err := g.conn(ctx).QueryRow(ctx, `
		SELECT cps.requires_precommit FROM care_pathway_steps cps
		WHERE cps.step_code = $2 AND cps.pathway_id IN (
			SELECT pathway_id FROM episode_pathways WHERE episode_id = $1
			UNION
			SELECT care_pathway_id FROM patient_episodes WHERE id = $1 AND care_pathway_id IS NOT NULL
		)
		LIMIT 1`, episodeID, stepCode).Scan(&precommit)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return precommit, err
}

func (g *episodeGatewayPG) MarkStepScheduled(ctx context.Context, episodeID uuid.UUID, seq int, appointmentID uuid.UUID) error {
	_, err := g.conn(ctx).Exec(ctx, `
		UPDATE episode_steps SET status = 'scheduled', appointment_id = $3
		WHERE episode_id = $1 AND seq = $2`, episodeID, seq, appointmentID)
	return err
}

func (g *episodeGatewayPG) MarkStepPending(ctx context.Context, appointmentID uuid.UUID) error {
	_, err := g.conn(ctx).Exec(ctx, `
		UPDATE episode_steps SET status = 'pending', appointment_id = NULL
		WHERE appointment_id = $1 AND status = 'scheduled'`, appointmentID)
	return err
}
