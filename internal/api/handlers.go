package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/herbal-consult-booking/internal/booking"
	"github.com/hackgods/herbal-consult-booking/internal/logging"
	"github.com/hackgods/herbal-consult-booking/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func listSpecialistsHandler(dir SpecialistDirectory, defaultFee float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		specialists, err := dir.ListSpecialists(r.Context(), r.URL.Query().Get("specialty"))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]SpecialistResponse, 0, len(specialists))
		for _, s := range specialists {
			resp = append(resp, SpecialistResponse{
				ID:              s.ID,
				FullName:        s.FullName,
				Specialty:       s.SpecialtyLabel(),
				ConsultationFee: s.Fee(defaultFee),
				Available:       s.Available,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func specialistIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_specialist_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func availableDaysHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := specialistIDParam(w, r)
		if !ok {
			return
		}

		window := booking.DefaultWindowDays
		if raw := r.URL.Query().Get("window"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_window", "window must be a positive number of days")
				return
			}
			window = n
		}

		days, err := svc.ComputeAvailableDays(r.Context(), id, window)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]DayResponse, 0, len(days))
		for _, d := range days {
			resp = append(resp, DayResponse{
				Date:         d.Date.Format("2006-01-02"),
				HasFreeSlots: d.HasFreeSlots,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availableSlotsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := specialistIDParam(w, r)
		if !ok {
			return
		}

		day, err := svc.ParseDay(r.URL.Query().Get("date"))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		slots, err := svc.ComputeAvailableSlots(r.Context(), id, day)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{
				Time:      s.Time.String(),
				StartsAt:  s.StartsAt,
				Available: s.Available,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// payerFor builds the billing identity from the patient's profile, falling
// back to the token email when no profile exists yet.
func payerFor(r *http.Request, profiles session.ProfileStore) (booking.Payer, error) {
	var email string
	if c, ok := claimsFromContext(r.Context()); ok {
		email = c.Email
	}
	if profiles == nil {
		return booking.PayerFromProfile("", email, ""), nil
	}

	p, err := profiles.GetProfile(r.Context(), patientID(r))
	if errors.Is(err, session.ErrProfileNotFound) {
		return booking.PayerFromProfile("", email, ""), nil
	}
	if err != nil {
		return booking.Payer{}, err
	}

	if p.Email != nil && *p.Email != "" {
		email = *p.Email
	}
	var phone string
	if p.Phone != nil {
		phone = *p.Phone
	}
	return booking.PayerFromProfile(p.FullName, email, phone), nil
}

func createBookingHandler(svc BookingService, profiles session.ProfileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		specialistID, err := uuid.Parse(req.SpecialistID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_specialist_id", "specialist_id must be a valid UUID")
			return
		}

		day, err := svc.ParseDay(req.Date)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		payer, err := payerFor(r, profiles)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		flow, redirectURL, err := svc.StartBooking(r.Context(), patientID(r), specialistID, day, req.Time, payer)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toRedirectResponse(flow, redirectURL))
	}
}

func reconcileBookingHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReconcileRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		outcome, err := svc.ReconcileBooking(r.Context(), patientID(r), chi.URLParam(r, "reference"), req.Cancelled)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toOutcomeResponse(outcome))
	}
}

func resumePaymentHandler(svc BookingService, profiles session.ProfileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		payer, err := payerFor(r, profiles)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		flow, redirectURL, err := svc.ResumePayment(r.Context(), id, patientID(r), payer)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toRedirectResponse(flow, redirectURL))
	}
}

func listConsultationsHandler(lister ConsultationLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bucket, err := booking.ParseBucket(r.URL.Query().Get("bucket"))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		views, err := lister.ListBookings(r.Context(), patientID(r), bucket)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]BookingResponse, 0, len(views))
		for _, v := range views {
			resp = append(resp, toViewResponse(v))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// paymentCallbackHandler receives the processor redirect. Either query
// parameter may be missing depending on the processor version.
func paymentCallbackHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		tracking := strings.TrimSpace(q.Get("OrderTrackingId"))
		reference := strings.TrimSpace(q.Get("OrderMerchantReference"))
		if tracking == "" && reference == "" {
			writeError(w, http.StatusBadRequest, "invalid_callback", "OrderTrackingId or OrderMerchantReference is required")
			return
		}

		outcome, err := svc.HandleCallback(r.Context(), tracking, reference)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toOutcomeResponse(outcome))
	}
}

func destinationHandler(profiles session.ProfileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := patientID(r)
		dest := session.DestinationMain
		if profiles != nil {
			var err error
			dest, err = session.ResolveDestination(r.Context(), profiles, id)
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
		}

		var email string
		if c, ok := claimsFromContext(r.Context()); ok {
			email = c.Email
		}
		writeJSON(w, http.StatusOK, SessionResponse{UserID: id, Email: email, Destination: string(dest)})
	}
}

// submitVerificationHandler stores the intake form. Once it is in, the
// patient is sent to the main app while staff review it.
func submitVerificationHandler(profiles session.ProfileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body VerificationRequestBody
		if !decode(w, r, &body) {
			return
		}

		req := session.VerificationRequest{
			UserID:           patientID(r),
			FullName:         strings.TrimSpace(body.FullName),
			Gender:           body.Gender,
			Email:            body.Email,
			Phone:            strings.TrimSpace(body.Phone),
			Address:          body.Address,
			PreferredTime:    body.PreferredTime,
			TimeZone:         body.TimeZone,
			Allergies:        body.Allergies,
			HealthIssue:      body.HealthIssue,
			HerbalHistory:    body.HerbalHistory,
			PrivacyAgreement: body.PrivacyAgreement,
		}
		if body.DateOfBirth != "" {
			dob, err := time.Parse(time.DateOnly, body.DateOfBirth)
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation_failed", "date_of_birth must be YYYY-MM-DD")
				return
			}
			req.DateOfBirth = dob
		}
		if body.PreferredDate != "" {
			d, err := time.Parse(time.DateOnly, body.PreferredDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation_failed", "preferred_date must be YYYY-MM-DD")
				return
			}
			req.PreferredDate = &d
		}
		if req.Email == nil {
			if c, ok := claimsFromContext(r.Context()); ok && c.Email != "" {
				email := c.Email
				req.Email = &email
			}
		}

		stored, err := profiles.SubmitVerification(r.Context(), req)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		logging.FromContext(r.Context()).Info().
			Str("user_id", req.UserID.String()).
			Str("verification_id", stored.ID.String()).
			Msg("verification submitted")
		writeJSON(w, http.StatusCreated, VerificationResponse{
			ID:          stored.ID,
			Status:      stored.Status,
			CreatedAt:   stored.CreatedAt,
			Destination: string(session.DestinationMain),
		})
	}
}

// handleServiceError maps service errors to responses. Upstream failures
// are logged at warn and client errors at debug, so a failing gateway shows
// up in the logs without flooding them with bad input.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.FromContext(r.Context())
	status, code, details := classifyError(err)

	switch {
	case status >= http.StatusInternalServerError && status != http.StatusBadGateway:
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	case status == http.StatusBadGateway:
		logger.Warn().Err(err).Str("path", r.URL.Path).Str("code", code).Msg("upstream call failed")
	default:
		logger.Debug().Err(err).Str("path", r.URL.Path).Str("code", code).Msg("request rejected")
	}
	writeError(w, status, code, details)
}

func classifyError(err error) (status int, code, details string) {
	switch {
	case errors.Is(err, booking.ErrValidation):
		return http.StatusBadRequest, "validation_failed", err.Error()
	case errors.Is(err, booking.ErrSpecialistNotFound):
		return http.StatusNotFound, "specialist_not_found", err.Error()
	case errors.Is(err, booking.ErrBookingNotFound):
		return http.StatusNotFound, "booking_not_found", err.Error()
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, booking.ErrSlotTaken):
		return http.StatusConflict, "slot_taken", err.Error()
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, "invalid_status_transition", err.Error()
	case errors.Is(err, booking.ErrPaymentInit):
		return http.StatusBadGateway, "payment_init_failed", "Failed to initialize payment. Please try again."
	case errors.Is(err, booking.ErrPaymentStatusUnknown):
		return http.StatusBadGateway, "payment_status_unknown", err.Error()
	case errors.Is(err, session.ErrTermsNotAccepted):
		return http.StatusBadRequest, "terms_not_accepted", err.Error()
	case errors.Is(err, session.ErrVerificationIncomplete):
		return http.StatusBadRequest, "verification_incomplete", err.Error()
	case errors.Is(err, session.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", err.Error()
	case errors.Is(err, session.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized", err.Error()
	case errors.Is(err, session.ErrIdentity):
		return http.StatusBadGateway, "identity_error", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}
