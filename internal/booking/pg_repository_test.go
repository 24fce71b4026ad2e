package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bookingColumnNames = []string{
	"id", "patient_id", "specialist_id", "scheduled_at", "status", "payment_reference",
	"order_tracking_id", "payment_amount", "payment_status", "notes", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRepository(mock), mock
}

func TestPgListActiveBookingTimes(t *testing.T) {
	repo, mock := newMockRepo(t)
	specialist := uuid.New()
	from := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	booked := from.Add(9 * time.Hour)

	mock.ExpectQuery("SELECT scheduled_at").
		WithArgs(specialist, from, to).
		WillReturnRows(pgxmock.NewRows([]string{"scheduled_at"}).AddRow(booked))

	times, err := repo.ListActiveBookingTimes(context.Background(), specialist, from, to)
	require.NoError(t, err)
	require.Len(t, times, 1)
	assert.True(t, times[0].Equal(booked))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateBookingStatusReturnsRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	id, patient, specialist := uuid.New(), uuid.New(), uuid.New()
	tracking := "trk-1"

	mock.ExpectQuery("UPDATE consultations").
		WithArgs("MEDTECH-1", StatusScheduled, StatusPendingPayment).
		WillReturnRows(pgxmock.NewRows(bookingColumnNames).AddRow(
			id, patient, specialist, now, StatusScheduled, "MEDTECH-1",
			&tracking, 2000.0, (*string)(nil), (*string)(nil), now, now,
		))

	b, err := repo.UpdateBookingStatus(context.Background(), "MEDTECH-1", StatusPendingPayment, StatusScheduled)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, b.Status)
	assert.Equal(t, id, b.ID)
	require.NotNil(t, b.OrderTrackingID)
	assert.Equal(t, "trk-1", *b.OrderTrackingID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateBookingStatusNoRows(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("UPDATE consultations").
		WithArgs("MEDTECH-404", StatusScheduled, StatusPendingPayment).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateBookingStatus(context.Background(), "MEDTECH-404", StatusPendingPayment, StatusScheduled)
	assert.ErrorIs(t, err, ErrBookingNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPgInsertProvisionalMapsSlotConflict(t *testing.T) {
	repo, mock := newMockRepo(t)

	in := ProvisionalBooking{
		PatientID:        uuid.New(),
		SpecialistID:     uuid.New(),
		ScheduledAt:      time.Now().Add(24 * time.Hour),
		PaymentReference: "MEDTECH-2",
		Amount:           2000,
	}
	mock.ExpectQuery("INSERT INTO consultations").
		WithArgs(pgxmock.AnyArg(), in.PatientID, in.SpecialistID, in.ScheduledAt, "MEDTECH-2",
			pgxmock.AnyArg(), 2000.0, pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: activeSlotConstraint})

	_, err := repo.InsertProvisionalBooking(context.Background(), in)
	assert.ErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertProvisionalWrapsOtherFailures(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO consultations").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "MEDTECH-3",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.InsertProvisionalBooking(context.Background(), ProvisionalBooking{PaymentReference: "MEDTECH-3"})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.NotErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSupersedeRequiresPendingBooking(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE consultations").
		WithArgs("MEDTECH-old").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := repo.SupersedeProvisionalBooking(context.Background(), "MEDTECH-old", ProvisionalBooking{PaymentReference: "MEDTECH-new"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertEvent(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs("BOOKING_CREATED", &id, []byte(`{}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.InsertEvent(context.Background(), EventLog{
		EventType: "BOOKING_CREATED",
		BookingID: &id,
		Payload:   []byte(`{}`),
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
