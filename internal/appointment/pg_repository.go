package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, provider_id, subject_id, scheduled_time, estimated_end_time, planned_duration,
	status, queue_position, estimated_wait_time, symptoms, rescheduled_from, rescheduled_reason,
	actual_start_time, actual_end_time, actual_duration, cancelled_by, created_at, updated_at`

// Helpers

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var specialty *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&specialty,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	p.Specialty = specialty
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var reason, cancelledBy *string

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.SubjectID,
		&a.ScheduledTime,
		&a.EstimatedEndTime,
		&a.PlannedDuration,
		&a.Status,
		&a.QueuePosition,
		&a.EstimatedWaitTime,
		&a.Symptoms,
		&a.RescheduledFrom,
		&reason,
		&a.ActualStartTime,
		&a.ActualEndTime,
		&a.ActualDuration,
		&cancelledBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if reason != nil {
		a.RescheduledReason = *reason
	}
	if cancelledBy != nil {
		a.CancelledBy = *cancelledBy
	}
	return &a, nil
}

func scanAvailability(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var weekday, start, end int

	err := row.Scan(&w.ProviderID, &weekday, &start, &end, &w.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	w.Weekday = time.Weekday(weekday)
	w.Start = Clock(start)
	w.End = Clock(end)
	return &w, nil
}

func scanStats(row pgx.Row) (*ProviderStats, error) {
	var st ProviderStats

	err := row.Scan(&st.ProviderID, &st.AvgConsultationDuration, &st.CompletedCount, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatsNotFound
		}
		return nil, err
	}
	return &st, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Interface methods

func (r *PgRepository) CreateProvider(ctx context.Context, p Provider) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO providers (id, name, specialty, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, specialty, created_at, updated_at
	`, p.ID, p.Name, p.Specialty, p.CreatedAt, p.UpdatedAt)
	return scanProvider(row)
}

func (r *PgRepository) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

// ListProviders is used by the seed and simulate tools.
func (r *PgRepository) ListProviders(ctx context.Context) ([]Provider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM providers
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListProviderDay(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND scheduled_time >= $2
		  AND scheduled_time < $3
		ORDER BY scheduled_time, created_at, id
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListActiveProviderDays(ctx context.Context, loc *time.Location, from time.Time) ([]ProviderDay, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT provider_id, to_char((scheduled_time AT TIME ZONE $1)::date, 'YYYY-MM-DD') AS day
		FROM appointments
		WHERE status IN ('scheduled', 'in-progress')
		  AND scheduled_time >= $2
		ORDER BY day, provider_id
	`, loc.String(), from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ProviderDay
	for rows.Next() {
		var pd ProviderDay
		var day string
		if err := rows.Scan(&pd.ProviderID, &day); err != nil {
			return nil, err
		}
		date, err := time.ParseInLocation(time.DateOnly, day, loc)
		if err != nil {
			return nil, fmt.Errorf("parse day %q: %w", day, err)
		}
		pd.Date = date
		result = append(result, pd)
	}
	return result, rows.Err()
}

// ApplyBatch writes inserts, updates, event rows and the statistics update in
// one transaction.
func (r *PgRepository) ApplyBatch(ctx context.Context, b Batch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, a := range b.Insert {
		batch.Queue(`
			INSERT INTO appointments (`+appointmentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		`, a.ID, a.ProviderID, a.SubjectID, a.ScheduledTime, a.EstimatedEndTime, a.PlannedDuration,
			a.Status, a.QueuePosition, a.EstimatedWaitTime, a.Symptoms, a.RescheduledFrom, nullable(a.RescheduledReason),
			a.ActualStartTime, a.ActualEndTime, a.ActualDuration, nullable(a.CancelledBy), a.CreatedAt, a.UpdatedAt)
	}
	for _, a := range b.Update {
		batch.Queue(`
			UPDATE appointments
			SET scheduled_time = $2,
			    estimated_end_time = $3,
			    planned_duration = $4,
			    status = $5,
			    queue_position = $6,
			    estimated_wait_time = $7,
			    rescheduled_from = $8,
			    rescheduled_reason = $9,
			    actual_start_time = $10,
			    actual_end_time = $11,
			    actual_duration = $12,
			    cancelled_by = $13,
			    updated_at = $14
			WHERE id = $1
		`, a.ID, a.ScheduledTime, a.EstimatedEndTime, a.PlannedDuration, a.Status, a.QueuePosition,
			a.EstimatedWaitTime, a.RescheduledFrom, nullable(a.RescheduledReason), a.ActualStartTime,
			a.ActualEndTime, a.ActualDuration, nullable(a.CancelledBy), a.UpdatedAt)
	}
	for _, ev := range b.Events {
		batch.Queue(`
			INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
			VALUES ($1, $2, $3, $4)
		`, ev.EventType, ev.AppointmentID, ev.Payload, ev.CreatedAt)
	}

	if batch.Len() > 0 {
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return fmt.Errorf("batch statement %d: %w", i, err)
			}
			if i >= len(b.Insert) && i < len(b.Insert)+len(b.Update) && tag.RowsAffected() != 1 {
				_ = results.Close()
				return fmt.Errorf("update appointment %s: %w", b.Update[i-len(b.Insert)].ID, ErrAppointmentNotFound)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}
	}

	if b.Consultation != nil {
		if err := recordConsultation(ctx, tx, *b.Consultation); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// recordConsultation folds one consultation into provider_stats. The row is
// locked so concurrent completions on different days cannot lose an update.
func recordConsultation(ctx context.Context, tx pgx.Tx, c Consultation) error {
	cur, err := scanStats(tx.QueryRow(ctx, `
		SELECT provider_id, avg_consultation_duration, completed_count, updated_at
		FROM provider_stats
		WHERE provider_id = $1
		FOR UPDATE
	`, c.ProviderID))
	if err != nil && !errors.Is(err, ErrStatsNotFound) {
		return fmt.Errorf("load provider stats: %w", err)
	}

	next := applyConsultation(cur, c)
	_, err = tx.Exec(ctx, `
		INSERT INTO provider_stats (provider_id, avg_consultation_duration, completed_count, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (provider_id) DO UPDATE
		SET avg_consultation_duration = EXCLUDED.avg_consultation_duration,
		    completed_count = EXCLUDED.completed_count,
		    updated_at = now()
	`, next.ProviderID, next.AvgConsultationDuration, next.CompletedCount)
	if err != nil {
		return fmt.Errorf("upsert provider stats: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAvailability(ctx context.Context, providerID uuid.UUID, weekday time.Weekday) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT provider_id, weekday, start_minute, end_minute, enabled
		FROM availability_windows
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, int(weekday))
	return scanAvailability(row)
}

func (r *PgRepository) ListAvailability(ctx context.Context, providerID uuid.UUID) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id, weekday, start_minute, end_minute, enabled
		FROM availability_windows
		WHERE provider_id = $1
		ORDER BY weekday
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []AvailabilityWindow{}
	for rows.Next() {
		w, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpsertAvailability(ctx context.Context, w AvailabilityWindow) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_windows (provider_id, weekday, start_minute, end_minute, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id, weekday) DO UPDATE
		SET start_minute = EXCLUDED.start_minute,
		    end_minute = EXCLUDED.end_minute,
		    enabled = EXCLUDED.enabled
	`, w.ProviderID, int(w.Weekday), int(w.Start), int(w.End), w.Enabled)
	return err
}

func (r *PgRepository) GetProviderStats(ctx context.Context, providerID uuid.UUID) (*ProviderStats, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT provider_id, avg_consultation_duration, completed_count, updated_at
		FROM provider_stats
		WHERE provider_id = $1
	`, providerID)
	return scanStats(row)
}

// SetProviderStats overwrites the statistics row. Used by the seed tool.
func (r *PgRepository) SetProviderStats(ctx context.Context, st ProviderStats) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_stats (provider_id, avg_consultation_duration, completed_count, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (provider_id) DO UPDATE
		SET avg_consultation_duration = EXCLUDED.avg_consultation_duration,
		    completed_count = EXCLUDED.completed_count,
		    updated_at = now()
	`, st.ProviderID, st.AvgConsultationDuration, st.CompletedCount)
	return err
}

// Ping reports whether the pool can reach the database.
func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
