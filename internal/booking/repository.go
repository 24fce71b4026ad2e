package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the booking flow.
type Repository interface {
	GetSpecialistByID(ctx context.Context, id uuid.UUID) (*Specialist, error)
	ListSpecialists(ctx context.Context, specialty string) ([]Specialist, error)

	// Availability: start times of pending_payment/scheduled bookings in [from, to)
	ListActiveBookingTimes(ctx context.Context, specialistID uuid.UUID, from, to time.Time) ([]time.Time, error)

	// Reservation writes
	InsertProvisionalBooking(ctx context.Context, in ProvisionalBooking) (*Booking, error)
	SupersedeProvisionalBooking(ctx context.Context, oldReference string, in ProvisionalBooking) (*Booking, error)
	UpdateBookingStatus(ctx context.Context, reference string, from, to Status) (*Booking, error)
	UpdatePaymentStatus(ctx context.Context, reference, paymentStatus string) (*Booking, error)

	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*Booking, error)
	GetBookingByOrderTrackingID(ctx context.Context, orderTrackingID string) (*Booking, error)

	// Consultation lists
	ListUpcoming(ctx context.Context, patientID uuid.UUID, now time.Time) ([]BookingView, error)
	ListCompleted(ctx context.Context, patientID uuid.UUID, now time.Time) ([]BookingView, error)

	// Expiry worker
	FindStaleProvisional(ctx context.Context, createdBefore time.Time) ([]Booking, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
