package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/herbal-consult-booking/internal/booking"
)

type CreateBookingRequest struct {
	SpecialistID string `json:"specialist_id"`
	Date         string `json:"date"`
	Time         string `json:"time"`
}

type ReconcileRequest struct {
	Cancelled bool `json:"cancelled"`
}

type PaymentRedirectResponse struct {
	BookingID        uuid.UUID `json:"booking_id"`
	PaymentReference string    `json:"payment_reference"`
	OrderTrackingID  string    `json:"order_tracking_id"`
	RedirectURL      string    `json:"redirect_url"`
	State            string    `json:"state"`
}

type OutcomeResponse struct {
	State         string           `json:"state"`
	PaymentStatus string           `json:"payment_status,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Booking       *BookingResponse `json:"booking,omitempty"`
}

type BookingResponse struct {
	ID                  uuid.UUID `json:"id"`
	SpecialistID        uuid.UUID `json:"specialist_id"`
	SpecialistName      string    `json:"specialist_name,omitempty"`
	SpecialistSpecialty string    `json:"specialist_specialty,omitempty"`
	ScheduledAt         time.Time `json:"scheduled_at"`
	Status              string    `json:"status"`
	PaymentReference    string    `json:"payment_reference"`
	PaymentAmount       float64   `json:"payment_amount"`
	PaymentStatus       *string   `json:"payment_status,omitempty"`
	PaymentRequired     bool      `json:"payment_required"`
}

type DayResponse struct {
	Date         string `json:"date"`
	HasFreeSlots bool   `json:"has_free_slots"`
}

type SlotResponse struct {
	Time      string    `json:"time"`
	StartsAt  time.Time `json:"starts_at"`
	Available bool      `json:"available"`
}

type SpecialistResponse struct {
	ID              uuid.UUID `json:"id"`
	FullName        string    `json:"full_name"`
	Specialty       string    `json:"specialty"`
	ConsultationFee float64   `json:"consultation_fee"`
	Available       bool      `json:"is_available"`
}

type SignUpRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	FullName      string `json:"full_name"`
	DateOfBirth   string `json:"date_of_birth"`
	AgreedToTerms bool   `json:"agreed_to_terms"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ResetPasswordRequest struct {
	Email string `json:"email"`
}

type SessionResponse struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	UserID       uuid.UUID `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	Destination  string    `json:"destination,omitempty"`
}

type MeResponse struct {
	UserID                uuid.UUID `json:"user_id"`
	Email                 string    `json:"email,omitempty"`
	Phone                 string    `json:"phone,omitempty"`
	FullName              string    `json:"full_name,omitempty"`
	DateOfBirth           string    `json:"date_of_birth,omitempty"`
	UserType              string    `json:"user_type,omitempty"`
	IsVerified            bool      `json:"is_verified"`
	VerificationSubmitted bool      `json:"verification_submitted"`
	Destination           string    `json:"destination"`
}

// VerificationRequestBody is the patient intake form. Dates are YYYY-MM-DD,
// the preferred time HH:MM.
type VerificationRequestBody struct {
	FullName         string  `json:"full_name"`
	DateOfBirth      string  `json:"date_of_birth"`
	Gender           string  `json:"gender"`
	Email            *string `json:"email"`
	Phone            string  `json:"phone"`
	Address          *string `json:"address"`
	PreferredDate    string  `json:"preferred_date"`
	PreferredTime    *string `json:"preferred_time"`
	TimeZone         *string `json:"time_zone"`
	Allergies        *string `json:"allergies"`
	HealthIssue      string  `json:"health_issue"`
	HerbalHistory    *string `json:"herbal_history"`
	PrivacyAgreement bool    `json:"privacy_agreement"`
}

type VerificationResponse struct {
	ID          uuid.UUID `json:"id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	Destination string    `json:"destination"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toBookingResponse(b booking.Booking) *BookingResponse {
	return &BookingResponse{
		ID:               b.ID,
		SpecialistID:     b.SpecialistID,
		ScheduledAt:      b.ScheduledAt,
		Status:           string(b.Status),
		PaymentReference: b.PaymentReference,
		PaymentAmount:    b.PaymentAmount,
		PaymentStatus:    b.PaymentStatus,
	}
}

func toViewResponse(v booking.BookingView) BookingResponse {
	resp := *toBookingResponse(v.Booking)
	resp.SpecialistName = v.SpecialistName
	if v.SpecialistSpecialty != nil {
		resp.SpecialistSpecialty = *v.SpecialistSpecialty
	}
	resp.PaymentRequired = v.PaymentRequired
	return resp
}

func toOutcomeResponse(o booking.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		State:         string(o.State),
		PaymentStatus: o.PaymentStatus,
		Reason:        o.Reason,
	}
	if o.Booking != nil {
		resp.Booking = toBookingResponse(*o.Booking)
	}
	return resp
}

func toRedirectResponse(f *booking.Flow, redirectURL string) PaymentRedirectResponse {
	resp := PaymentRedirectResponse{
		PaymentReference: f.PaymentReference(),
		OrderTrackingID:  f.OrderTrackingID(),
		RedirectURL:      redirectURL,
		State:            string(f.State),
	}
	if f.Booking != nil {
		resp.BookingID = f.Booking.ID
	}
	return resp
}
