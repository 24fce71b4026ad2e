package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is a step of the booking flow.
type State string

const (
	StateSelectingSlot   State = "selecting_slot"
	StateAwaitingPayment State = "awaiting_payment"
	StateReconciling     State = "reconciling"
	StateScheduled       State = "scheduled"
	StateStillPending    State = "still_pending"

	// StatePaidSlotReleased is reached when a payment settles after the
	// booking expired. The patient paid but holds no slot.
	StatePaidSlotReleased State = "paid_slot_released"
)

var transitions = map[State][]State{
	StateSelectingSlot:    {StateAwaitingPayment},
	StateAwaitingPayment:  {StateReconciling, StateSelectingSlot, StateStillPending},
	StateReconciling:      {StateScheduled, StateStillPending, StatePaidSlotReleased},
	StateStillPending:     {StateAwaitingPayment, StateReconciling},
	StateScheduled:        nil,
	StatePaidSlotReleased: nil,
}

// Terminal reports whether the flow has produced an outcome for the user.
func (s State) Terminal() bool {
	return s == StateScheduled || s == StateStillPending || s == StatePaidSlotReleased
}

// Flow is one patient's attempt to book one slot. A Flow is not safe for
// concurrent use.
type Flow struct {
	State        State
	PatientID    uuid.UUID
	SpecialistID uuid.UUID
	Slot         TimeSlot
	ScheduledAt  time.Time
	Booking      *Booking
	RedirectURL  string

	// payment reference of the pending booking a resumed flow replaces
	supersedes string
}

func NewFlow(patientID, specialistID uuid.UUID) *Flow {
	return &Flow{
		State:        StateSelectingSlot,
		PatientID:    patientID,
		SpecialistID: specialistID,
	}
}

// resumeFlow rebuilds a StillPending flow around an existing pending booking.
func resumeFlow(b *Booking, loc *time.Location) *Flow {
	at := b.ScheduledAt.In(loc)
	return &Flow{
		State:        StateStillPending,
		PatientID:    b.PatientID,
		SpecialistID: b.SpecialistID,
		Slot:         TimeSlot{Hour: at.Hour(), Minute: at.Minute()},
		ScheduledAt:  b.ScheduledAt,
		Booking:      b,
		supersedes:   b.PaymentReference,
	}
}

func (f *Flow) PaymentReference() string {
	if f.Booking == nil {
		return ""
	}
	return f.Booking.PaymentReference
}

func (f *Flow) OrderTrackingID() string {
	if f.Booking == nil || f.Booking.OrderTrackingID == nil {
		return ""
	}
	return *f.Booking.OrderTrackingID
}

func (f *Flow) canMove(to State) bool {
	for _, s := range transitions[f.State] {
		if s == to {
			return true
		}
	}
	return false
}

func (f *Flow) transition(to State) error {
	if !f.canMove(to) {
		return fmt.Errorf("%s -> %s: %w", f.State, to, ErrInvalidTransition)
	}
	f.State = to
	return nil
}
