package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hackgods/herbal-consult-booking/internal/logging"
)

const (
	EventBookingCreated    = "BOOKING_CREATED"
	EventBookingSuperseded = "BOOKING_SUPERSEDED"
	EventBookingScheduled  = "BOOKING_SCHEDULED"
	EventPaymentStatus     = "PAYMENT_STATUS_RECORDED"
	EventBookingExpired    = "BOOKING_EXPIRED"

	// EventPaymentAfterRelease flags a settled payment on a cancelled
	// booking. It needs a refund or a manual rebooking.
	EventPaymentAfterRelease = "PAYMENT_AFTER_RELEASE"
)

// EventPublisher delivers booking events to a broker. Routing keys are the
// lower-cased event type, e.g. "booking.scheduled".
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Observer receives booking flow counters.
type Observer interface {
	ObserveProvisional(outcome string)
	ObserveReconcile(path, state string)
	ObserveExpired(n int)
	ObserveSlotConflict()
}

type nopObserver struct{}

func (nopObserver) ObserveProvisional(string) {}
func (nopObserver) ObserveReconcile(string, string) {}
func (nopObserver) ObserveExpired(int) {}
func (nopObserver) ObserveSlotConflict() {}

// BookingEvent is the payload written to event_logs and published.
type BookingEvent struct {
	Type             string    `json:"type"`
	BookingID        string    `json:"booking_id"`
	PatientID        string    `json:"patient_id"`
	SpecialistID     string    `json:"specialist_id"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	Status           Status    `json:"status"`
	PaymentReference string    `json:"payment_reference"`
	PaymentStatus    string    `json:"payment_status,omitempty"`
	Previous         string    `json:"previous_reference,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

var routingKeys = map[string]string{
	EventBookingCreated:    "booking.created",
	EventBookingSuperseded: "booking.superseded",
	EventBookingScheduled:  "booking.scheduled",
	EventPaymentStatus:     "booking.payment_status",
	EventBookingExpired:    "booking.expired",

	EventPaymentAfterRelease: "booking.payment_after_release",
}

type eventRecorder struct {
	repo      Repository
	publisher EventPublisher
}

// record logs the event; failures never fail the booking operation.
func (r eventRecorder) record(ctx context.Context, eventType string, b *Booking, previous string) {
	if b == nil {
		return
	}

	ev := BookingEvent{
		Type:             eventType,
		BookingID:        b.ID.String(),
		PatientID:        b.PatientID.String(),
		SpecialistID:     b.SpecialistID.String(),
		ScheduledAt:      b.ScheduledAt,
		Status:           b.Status,
		PaymentReference: b.PaymentReference,
		Previous:         previous,
		OccurredAt:       time.Now().UTC(),
	}
	if b.PaymentStatus != nil {
		ev.PaymentStatus = *b.PaymentStatus
	}

	logger := logging.FromContext(ctx)

	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error().Err(err).Str("event", eventType).Msg("failed to encode booking event")
		return
	}

	id := b.ID
	if err := r.repo.InsertEvent(ctx, EventLog{
		EventType: eventType,
		BookingID: &id,
		Payload:   payload,
		CreatedAt: ev.OccurredAt,
	}); err != nil {
		logger.Error().Err(err).Str("event", eventType).Str("reference", b.PaymentReference).Msg("failed to insert event log")
	}

	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, routingKeys[eventType], ev); err != nil {
		logger.Warn().Err(err).Str("event", eventType).Str("reference", b.PaymentReference).Msg("failed to publish booking event")
	}
}
