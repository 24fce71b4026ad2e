package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// activeSlotConstraint is the partial unique index on
// (specialist_id, scheduled_at) for pending_payment and scheduled rows.
const activeSlotConstraint = "consultations_active_slot_key"

const pgUniqueViolation = "23505"

// pgxPool is the subset of *pgxpool.Pool used here.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	pool pgxPool
}

func NewPgRepository(pool pgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

const bookingColumns = `id, patient_id, specialist_id, scheduled_at, status, payment_reference,
	order_tracking_id, payment_amount, payment_status, notes, created_at, updated_at`

const viewColumns = `c.id, c.patient_id, c.specialist_id, c.scheduled_at, c.status, c.payment_reference,
	c.order_tracking_id, c.payment_amount, c.payment_status, c.notes, c.created_at, c.updated_at,
	s.full_name, s.specialty`

// Helpers

func scanSpecialist(row pgx.Row) (*Specialist, error) {
	var s Specialist

	err := row.Scan(
		&s.ID,
		&s.FullName,
		&s.Specialty,
		&s.ConsultationFee,
		&s.Available,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSpecialistNotFound
		}
		return nil, persistenceError("scan specialist", err)
	}

	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking

	err := row.Scan(
		&b.ID,
		&b.PatientID,
		&b.SpecialistID,
		&b.ScheduledAt,
		&b.Status,
		&b.PaymentReference,
		&b.OrderTrackingID,
		&b.PaymentAmount,
		&b.PaymentStatus,
		&b.Notes,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, mapWriteError("scan booking", err)
	}

	return &b, nil
}

func scanBookingView(row pgx.Row) (*BookingView, error) {
	var v BookingView

	err := row.Scan(
		&v.ID,
		&v.PatientID,
		&v.SpecialistID,
		&v.ScheduledAt,
		&v.Status,
		&v.PaymentReference,
		&v.OrderTrackingID,
		&v.PaymentAmount,
		&v.PaymentStatus,
		&v.Notes,
		&v.CreatedAt,
		&v.UpdatedAt,
		&v.SpecialistName,
		&v.SpecialistSpecialty,
	)
	if err != nil {
		return nil, persistenceError("scan booking view", err)
	}

	return &v, nil
}

// mapWriteError turns pgx errors into the booking error taxonomy.
func mapWriteError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrBookingNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == activeSlotConstraint {
		return ErrSlotTaken
	}
	return persistenceError(op, err)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Interface methods

func (r *PgRepository) GetSpecialistByID(ctx context.Context, id uuid.UUID) (*Specialist, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, full_name, specialty, consultation_fee, is_available, created_at, updated_at
		FROM specialists
		WHERE id = $1
	`, id)
	return scanSpecialist(row)
}

func (r *PgRepository) ListSpecialists(ctx context.Context, specialty string) ([]Specialist, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, full_name, specialty, consultation_fee, is_available, created_at, updated_at
		FROM specialists
		WHERE ($1 = '' OR specialty ILIKE '%' || $1 || '%')
		ORDER BY full_name
	`, specialty)
	if err != nil {
		return nil, persistenceError("list specialists", err)
	}
	defer rows.Close()

	var result []Specialist
	for rows.Next() {
		s, err := scanSpecialist(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list specialists", err)
	}

	return result, nil
}

func (r *PgRepository) ListActiveBookingTimes(ctx context.Context, specialistID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_at
		FROM consultations
		WHERE specialist_id = $1
		  AND status IN ('pending_payment', 'scheduled')
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at
	`, specialistID, from, to)
	if err != nil {
		return nil, persistenceError("list booked times", err)
	}
	defer rows.Close()

	var result []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, persistenceError("scan booked time", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list booked times", err)
	}

	return result, nil
}

func (r *PgRepository) InsertProvisionalBooking(ctx context.Context, in ProvisionalBooking) (*Booking, error) {
	return insertProvisional(ctx, r.pool, in)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertProvisional(ctx context.Context, q queryRower, in ProvisionalBooking) (*Booking, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO consultations (id, patient_id, specialist_id, scheduled_at, status, payment_reference,
			order_tracking_id, payment_amount, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending_payment', $5, $6, $7, $8, now(), now())
		RETURNING `+bookingColumns,
		uuid.New(), in.PatientID, in.SpecialistID, in.ScheduledAt, in.PaymentReference,
		nullableString(in.OrderTrackingID), in.Amount, nullableString(in.Notes))

	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("insert provisional booking: %w", err)
	}
	return b, nil
}

// SupersedeProvisionalBooking cancels the pending booking identified by
// oldReference and inserts its replacement in one transaction, so the slot is
// never free in between.
func (r *PgRepository) SupersedeProvisionalBooking(ctx context.Context, oldReference string, in ProvisionalBooking) (*Booking, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, persistenceError("begin supersede", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE consultations
		SET status = 'cancelled',
		    updated_at = now()
		WHERE payment_reference = $1
		  AND status = 'pending_payment'
	`, oldReference)
	if err != nil {
		return nil, persistenceError("cancel superseded booking", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("supersede %s: %w", oldReference, ErrInvalidTransition)
	}

	b, err := insertProvisional(ctx, tx, in)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, persistenceError("commit supersede", err)
	}
	return b, nil
}

// UpdateBookingStatus moves a booking from one status to another. It returns
// ErrBookingNotFound when no row with that reference is in the from status.
func (r *PgRepository) UpdateBookingStatus(ctx context.Context, reference string, from, to Status) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE consultations
		SET status = $2,
		    updated_at = now()
		WHERE payment_reference = $1
		  AND status = $3
		RETURNING `+bookingColumns, reference, to, from)

	return scanBooking(row)
}

func (r *PgRepository) UpdatePaymentStatus(ctx context.Context, reference, paymentStatus string) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE consultations
		SET payment_status = $2,
		    updated_at = now()
		WHERE payment_reference = $1
		RETURNING `+bookingColumns, reference, paymentStatus)

	return scanBooking(row)
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM consultations
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) GetBookingByReference(ctx context.Context, reference string) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM consultations
		WHERE payment_reference = $1
	`, reference)
	return scanBooking(row)
}

func (r *PgRepository) GetBookingByOrderTrackingID(ctx context.Context, orderTrackingID string) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM consultations
		WHERE order_tracking_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, orderTrackingID)
	return scanBooking(row)
}

func (r *PgRepository) ListUpcoming(ctx context.Context, patientID uuid.UUID, now time.Time) ([]BookingView, error) {
	return r.listViews(ctx, `
		SELECT `+viewColumns+`
		FROM consultations c
		JOIN specialists s ON s.id = c.specialist_id
		WHERE c.patient_id = $1
		  AND c.status IN ('scheduled', 'pending_payment')
		  AND c.scheduled_at >= $2
		ORDER BY c.scheduled_at ASC
	`, patientID, now)
}

func (r *PgRepository) ListCompleted(ctx context.Context, patientID uuid.UUID, now time.Time) ([]BookingView, error) {
	return r.listViews(ctx, `
		SELECT `+viewColumns+`
		FROM consultations c
		JOIN specialists s ON s.id = c.specialist_id
		WHERE c.patient_id = $1
		  AND c.status <> 'cancelled'
		  AND (c.status = 'completed' OR c.scheduled_at < $2)
		ORDER BY c.scheduled_at DESC
	`, patientID, now)
}

func (r *PgRepository) listViews(ctx context.Context, sql string, args ...any) ([]BookingView, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, persistenceError("list bookings", err)
	}
	defer rows.Close()

	var result []BookingView
	for rows.Next() {
		v, err := scanBookingView(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list bookings", err)
	}

	return result, nil
}

func (r *PgRepository) FindStaleProvisional(ctx context.Context, createdBefore time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM consultations
		WHERE status = 'pending_payment'
		  AND created_at < $1
		ORDER BY created_at
	`, createdBefore)
	if err != nil {
		return nil, persistenceError("find stale provisional bookings", err)
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("find stale provisional bookings", err)
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, consultation_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
