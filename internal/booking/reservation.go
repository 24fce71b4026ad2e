package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/herbal-consult-booking/internal/pesapal"
)

// ReservationWriter owns every write to the consultations table.
type ReservationWriter struct {
	repo   Repository
	events eventRecorder
}

func NewReservationWriter(repo Repository, publisher EventPublisher) *ReservationWriter {
	return &ReservationWriter{
		repo:   repo,
		events: eventRecorder{repo: repo, publisher: publisher},
	}
}

func validateProvisional(in ProvisionalBooking) error {
	switch {
	case in.PatientID == uuid.Nil:
		return validationError("patient is required")
	case in.SpecialistID == uuid.Nil:
		return validationError("specialist is required")
	case in.ScheduledAt.IsZero():
		return validationError("scheduled time is required")
	case in.PaymentReference == "":
		return validationError("payment reference is required")
	case in.Amount < 0:
		return validationError("amount must not be negative")
	}
	return nil
}

// CreateProvisionalBooking inserts a booking in pending_payment whatever the
// caller intended. A concurrent booking of the same slot yields ErrSlotTaken.
func (w *ReservationWriter) CreateProvisionalBooking(ctx context.Context, in ProvisionalBooking) (*Booking, error) {
	if err := validateProvisional(in); err != nil {
		return nil, err
	}

	b, err := w.repo.InsertProvisionalBooking(ctx, in)
	if err != nil {
		return nil, err
	}

	w.events.record(ctx, EventBookingCreated, b, "")
	return b, nil
}

// SupersedeProvisionalBooking replaces the pending booking holding
// oldReference with a new one for the same slot.
func (w *ReservationWriter) SupersedeProvisionalBooking(ctx context.Context, oldReference string, in ProvisionalBooking) (*Booking, error) {
	if oldReference == "" {
		return nil, validationError("previous payment reference is required")
	}
	if err := validateProvisional(in); err != nil {
		return nil, err
	}

	b, err := w.repo.SupersedeProvisionalBooking(ctx, oldReference, in)
	if err != nil {
		return nil, err
	}

	w.events.record(ctx, EventBookingSuperseded, b, oldReference)
	return b, nil
}

// PromoteToScheduled moves a pending booking to scheduled. Calling it again
// for a scheduled booking is a no-op.
func (w *ReservationWriter) PromoteToScheduled(ctx context.Context, paymentReference string) (*Booking, error) {
	b, err := w.repo.GetBookingByReference(ctx, paymentReference)
	if err != nil {
		return nil, fmt.Errorf("load booking %s: %w", paymentReference, err)
	}

	switch b.Status {
	case StatusScheduled:
		return b, nil
	case StatusPendingPayment:
	default:
		return nil, fmt.Errorf("promote %s from %s: %w", paymentReference, b.Status, ErrInvalidTransition)
	}

	updated, err := w.repo.UpdateBookingStatus(ctx, paymentReference, StatusPendingPayment, StatusScheduled)
	if errors.Is(err, ErrNotFound) {
		// Lost a race with the other reconciliation path or the expiry worker.
		current, getErr := w.repo.GetBookingByReference(ctx, paymentReference)
		if getErr != nil {
			return nil, fmt.Errorf("reload booking %s: %w", paymentReference, getErr)
		}
		if current.Status == StatusScheduled {
			return current, nil
		}
		return nil, fmt.Errorf("promote %s from %s: %w", paymentReference, current.Status, ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("promote booking %s: %w", paymentReference, err)
	}

	w.events.record(ctx, EventBookingScheduled, updated, "")
	return updated, nil
}

// RecordPaymentStatus mirrors the processor status onto the booking and
// promotes it when the payment completed.
func (w *ReservationWriter) RecordPaymentStatus(ctx context.Context, paymentReference, gatewayStatus string) (*Booking, error) {
	b, err := w.repo.UpdatePaymentStatus(ctx, paymentReference, gatewayStatus)
	if err != nil {
		return nil, fmt.Errorf("record payment status for %s: %w", paymentReference, err)
	}

	if gatewayStatus != pesapal.StatusCompleted {
		w.events.record(ctx, EventPaymentStatus, b, "")
		return b, nil
	}

	return w.PromoteToScheduled(ctx, paymentReference)
}

// RecordReleasedPaymentStatus mirrors the processor status onto a booking
// whose slot was already released. The booking stays cancelled.
func (w *ReservationWriter) RecordReleasedPaymentStatus(ctx context.Context, paymentReference, gatewayStatus string) (*Booking, error) {
	b, err := w.repo.UpdatePaymentStatus(ctx, paymentReference, gatewayStatus)
	if err != nil {
		return nil, fmt.Errorf("record payment status for %s: %w", paymentReference, err)
	}

	event := EventPaymentStatus
	if gatewayStatus == pesapal.StatusCompleted {
		event = EventPaymentAfterRelease
	}
	w.events.record(ctx, event, b, "")
	return b, nil
}

// ExpireProvisional cancels a booking still awaiting payment, freeing its slot.
func (w *ReservationWriter) ExpireProvisional(ctx context.Context, paymentReference string) (*Booking, error) {
	b, err := w.repo.UpdateBookingStatus(ctx, paymentReference, StatusPendingPayment, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("expire booking %s: %w", paymentReference, err)
	}

	w.events.record(ctx, EventBookingExpired, b, "")
	return b, nil
}
