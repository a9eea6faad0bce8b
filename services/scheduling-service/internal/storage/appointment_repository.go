package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/AlexanderSalvatierra/citasalud/libs/db"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/faults"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/model"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/outbox"
)

// AppointmentRepository owns persisted appointment records. Every mutation
// runs in its own transaction with outbox events written alongside it, and
// the partial unique index on (specialist_id, visit_date, slot_time) over
// non-terminal statuses is the authoritative double-booking guard: the
// application-level availability re-check is a UX optimization only.
type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

const appointmentColumns = `
	id::text, specialist_id::text, patient_id::text, patient_email,
	to_char(visit_date, 'YYYY-MM-DD'), slot_time, visit_type, reason, status,
	consent_ref, payment_proof_ref, created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.SpecialistID,
		&appt.PatientID,
		&appt.PatientEmail,
		&appt.Date,
		&appt.Time,
		&appt.Type,
		&appt.Reason,
		&appt.Status,
		&appt.ConsentRef,
		&appt.PaymentProofRef,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	return appt, err
}

// Create inserts a new pending appointment and the given outbox events in
// one transaction. A unique-index violation on the active-slot key maps to
// faults.ErrConflict.
func (r *AppointmentRepository) Create(ctx context.Context, appt *model.Appointment, events []outbox.Event) (model.Appointment, error) {
	date, err := model.ParseDate(appt.Date)
	if err != nil {
		return model.Appointment{}, faults.Validation("date", "invalid date")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, faults.Transient("begin create appointment", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := scanAppointment(tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, specialist_id, patient_id, patient_email, visit_date, slot_time, visit_type, reason, status, consent_ref, payment_proof_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING`+appointmentColumns,
		appt.ID, appt.SpecialistID, appt.PatientID, appt.PatientEmail, date, appt.Time,
		appt.Type, appt.Reason, appt.Status, appt.ConsentRef, appt.PaymentProofRef))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Appointment{}, faults.ErrConflict
		}
		return model.Appointment{}, faults.Transient("insert appointment", err)
	}

	if err := r.insertEvents(ctx, tx, events); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, faults.Transient("commit create appointment", err)
	}
	return created, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, faults.ErrNotFound
		}
		return model.Appointment{}, faults.Transient("load appointment", err)
	}
	return appt, nil
}

// Transition moves an appointment to a new status, provided its current
// status is one of from. The conditional UPDATE is atomic: if another actor
// already moved the row, zero rows match and faults.ErrNotFound is returned
// without mutating anything.
func (r *AppointmentRepository) Transition(ctx context.Context, id string, from []model.Status, to model.Status, events []outbox.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, faults.Transient("begin transition", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING`+appointmentColumns,
		id, to, statusStrings(from)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, faults.ErrNotFound
		}
		return model.Appointment{}, faults.Transient("update status", err)
	}

	if err := r.insertEvents(ctx, tx, events); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, faults.Transient("commit transition", err)
	}
	return updated, nil
}

// Reschedule overwrites date/time in place, keeping status and identity.
// The active-slot unique index rejects a taken target slot with
// faults.ErrConflict even when two reschedules race.
func (r *AppointmentRepository) Reschedule(ctx context.Context, id, newDate, newTime string, from []model.Status, events []outbox.Event) (model.Appointment, error) {
	date, err := model.ParseDate(newDate)
	if err != nil {
		return model.Appointment{}, faults.Validation("date", "invalid date")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, faults.Transient("begin reschedule", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET visit_date = $2, slot_time = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($4)
		RETURNING`+appointmentColumns,
		id, date, newTime, statusStrings(from)))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Appointment{}, faults.ErrConflict
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, faults.ErrNotFound
		}
		return model.Appointment{}, faults.Transient("update schedule", err)
	}

	if err := r.insertEvents(ctx, tx, events); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, faults.Transient("commit reschedule", err)
	}
	return updated, nil
}

// TakenTimes returns the slot times of appointments occupying the given
// specialist+date (status not cancelled/rejected). excludeID, when
// non-empty, leaves out the appointment being moved by a reschedule.
func (r *AppointmentRepository) TakenTimes(ctx context.Context, specialistID, date, excludeID string) ([]string, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return nil, faults.Validation("date", "invalid date")
	}

	rows, err := r.pool.Query(ctx, `
		SELECT slot_time
		FROM appointments
		WHERE specialist_id = $1
			AND visit_date = $2
			AND status NOT IN ('cancelled', 'rejected')
			AND ($3 = '' OR id::text <> $3)
		ORDER BY slot_time
	`, specialistID, day, excludeID)
	if err != nil {
		return nil, faults.Transient("load taken slots", err)
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, faults.Transient("scan taken slot", err)
		}
		times = append(times, t)
	}
	if rows.Err() != nil {
		return nil, faults.Transient("read taken slots", rows.Err())
	}
	return times, nil
}

func (r *AppointmentRepository) ListByPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error) {
	return r.list(ctx, `patient_id = $1`, patientID, limit)
}

func (r *AppointmentRepository) ListBySpecialist(ctx context.Context, specialistID string, limit int) ([]model.Appointment, error) {
	return r.list(ctx, `specialist_id = $1`, specialistID, limit)
}

func (r *AppointmentRepository) list(ctx context.Context, where, id string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE `+where+`
		ORDER BY visit_date DESC, slot_time DESC
		LIMIT $2
	`, id, limit)
	if err != nil {
		return nil, faults.Transient("list appointments", err)
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, faults.Transient("scan appointment", err)
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, faults.Transient("read appointments", rows.Err())
	}
	return appts, nil
}

func (r *AppointmentRepository) GetSpecialist(ctx context.Context, id string) (model.Specialist, error) {
	var sp model.Specialist
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, specialty
		FROM specialists
		WHERE id = $1
	`, id).Scan(&sp.ID, &sp.Name, &sp.Specialty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Specialist{}, faults.ErrNotFound
		}
		return model.Specialist{}, faults.Transient("load specialist", err)
	}
	return sp, nil
}

func (r *AppointmentRepository) ListSpecialists(ctx context.Context, specialty string) ([]model.Specialist, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, specialty
		FROM specialists
		WHERE ($1 = '' OR specialty = $1)
		ORDER BY name
	`, specialty)
	if err != nil {
		return nil, faults.Transient("list specialists", err)
	}
	defer rows.Close()

	var sps []model.Specialist
	for rows.Next() {
		var sp model.Specialist
		if err := rows.Scan(&sp.ID, &sp.Name, &sp.Specialty); err != nil {
			return nil, faults.Transient("scan specialist", err)
		}
		sps = append(sps, sp)
	}
	if rows.Err() != nil {
		return nil, faults.Transient("read specialists", rows.Err())
	}
	return sps, nil
}

func (r *AppointmentRepository) insertEvents(ctx context.Context, tx pgx.Tx, events []outbox.Event) error {
	repo := outbox.NewRepository(r.pool)
	for _, evt := range events {
		if err := repo.Insert(ctx, tx, evt); err != nil {
			return faults.Transient("write outbox event", err)
		}
	}
	return nil
}

func statusStrings(from []model.Status) []string {
	out := make([]string, 0, len(from))
	for _, s := range from {
		out = append(out, string(s))
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
