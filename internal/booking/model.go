package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusScheduled      Status = "scheduled"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// Active reports whether a booking in this status occupies its slot.
func (s Status) Active() bool {
	return s == StatusPendingPayment || s == StatusScheduled
}

const defaultSpecialty = "Herbal Specialist"

type Specialist struct {
	ID              uuid.UUID
	FullName        string
	Specialty       *string
	ConsultationFee *float64
	Available       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Fee returns the specialist's consultation fee or the platform default.
func (s Specialist) Fee(platformDefault float64) float64 {
	if s.ConsultationFee != nil && *s.ConsultationFee > 0 {
		return *s.ConsultationFee
	}
	return platformDefault
}

func (s Specialist) SpecialtyLabel() string {
	if s.Specialty != nil && *s.Specialty != "" {
		return *s.Specialty
	}
	return defaultSpecialty
}

type Booking struct {
	ID               uuid.UUID
	PatientID        uuid.UUID
	SpecialistID     uuid.UUID
	ScheduledAt      time.Time
	Status           Status
	PaymentReference string
	OrderTrackingID  *string
	PaymentAmount    float64
	PaymentStatus    *string
	Notes            *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProvisionalBooking is the input of a reservation write.
type ProvisionalBooking struct {
	PatientID        uuid.UUID
	SpecialistID     uuid.UUID
	ScheduledAt      time.Time
	PaymentReference string
	OrderTrackingID  string
	Amount           float64
	Notes            string
}

// BookingView is a booking joined with the specialist fields shown in lists.
type BookingView struct {
	Booking
	SpecialistName      string
	SpecialistSpecialty *string
	PaymentRequired     bool
}

// Payer carries the billing identity sent to the payment processor.
type Payer struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// PayerFromProfile splits a full name into first and last names.
func PayerFromProfile(fullName, email, phone string) Payer {
	parts := strings.Fields(fullName)
	p := Payer{Email: email, Phone: phone, FirstName: "Patient"}
	if len(parts) > 0 {
		p.FirstName = parts[0]
		p.LastName = strings.Join(parts[1:], " ")
	}
	return p
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
