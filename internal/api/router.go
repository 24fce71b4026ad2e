package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/hackgods/herbal-consult-booking/internal/booking"
	"github.com/hackgods/herbal-consult-booking/internal/session"
)

// BookingService is the booking flow as used over HTTP.
type BookingService interface {
	ParseDay(s string) (time.Time, error)
	ComputeAvailableDays(ctx context.Context, specialistID uuid.UUID, windowDays int) ([]booking.DayAvailability, error)
	ComputeAvailableSlots(ctx context.Context, specialistID uuid.UUID, day time.Time) ([]booking.SlotAvailability, error)
	StartBooking(ctx context.Context, patientID, specialistID uuid.UUID, day time.Time, slot string, payer booking.Payer) (*booking.Flow, string, error)
	ReconcileBooking(ctx context.Context, patientID uuid.UUID, reference string, cancelled bool) (booking.Outcome, error)
	ResumePayment(ctx context.Context, bookingID, patientID uuid.UUID, payer booking.Payer) (*booking.Flow, string, error)
	HandleCallback(ctx context.Context, orderTrackingID, merchantReference string) (booking.Outcome, error)
}

type ConsultationLister interface {
	ListBookings(ctx context.Context, patientID uuid.UUID, bucket booking.Bucket) ([]booking.BookingView, error)
}

type SpecialistDirectory interface {
	ListSpecialists(ctx context.Context, specialty string) ([]booking.Specialist, error)
}

type RouterConfig struct {
	Bookings    BookingService
	Lister      ConsultationLister
	Specialists SpecialistDirectory
	Profiles    session.ProfileStore
	Identity    session.IdentityProvider
	Verifier    *session.TokenVerifier
	DefaultFee  float64
	RedirectURL string // OAuth and password reset landing page

	PostgresCheck Check
	RedisCheck    Check
	Metrics       http.Handler
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.PostgresCheck, cfg.RedisCheck, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	// Processor redirect, carries no bearer token
	r.Get("/payment-callback", paymentCallbackHandler(cfg.Bookings))

	// Public catalogue
	r.Get("/specialists", listSpecialistsHandler(cfg.Specialists, cfg.DefaultFee))
	r.Get("/specialists/{id}/days", availableDaysHandler(cfg.Bookings))
	r.Get("/specialists/{id}/slots", availableSlotsHandler(cfg.Bookings))

	if cfg.Identity != nil && cfg.Profiles != nil {
		auth := newAuthHandler(cfg.Identity, cfg.Profiles, cfg.RedirectURL)
		r.Post("/auth/sign-up", auth.signUp)
		r.Post("/auth/sign-in", auth.signIn)
		r.Post("/auth/refresh", auth.refresh)
		r.Post("/auth/reset-password", auth.resetPassword)
		r.Get("/auth/google", auth.google)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier))

		r.Get("/me/destination", destinationHandler(cfg.Profiles))
		if cfg.Profiles != nil {
			r.Post("/me/verification", submitVerificationHandler(cfg.Profiles))
		}
		if cfg.Identity != nil && cfg.Profiles != nil {
			auth := newAuthHandler(cfg.Identity, cfg.Profiles, cfg.RedirectURL)
			r.Get("/me", auth.me)
			r.Post("/auth/sign-out", auth.signOut)
		}
		r.Post("/bookings", createBookingHandler(cfg.Bookings, cfg.Profiles))
		r.Post("/bookings/{reference}/reconcile", reconcileBookingHandler(cfg.Bookings))
		r.Post("/bookings/{id}/resume", resumePaymentHandler(cfg.Bookings, cfg.Profiles))
		r.Get("/consultations", listConsultationsHandler(cfg.Lister))
	})

	return r
}
