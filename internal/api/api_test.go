package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/herbal-consult-booking/internal/booking"
	"github.com/hackgods/herbal-consult-booking/internal/session"
)

const testSecret = "test-secret"

type fakeBookings struct {
	days     []booking.DayAvailability
	slots    []booking.SlotAvailability
	startErr error
	outcome  booking.Outcome
	err      error

	gotPayer     booking.Payer
	gotPatient   uuid.UUID
	gotSlot      string
	gotCancelled bool
	gotTracking  string
	gotReference string
	gotWindow    int
}

func (f *fakeBookings) ParseDay(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date", booking.ErrValidation)
	}
	return d, nil
}

func (f *fakeBookings) ComputeAvailableDays(_ context.Context, _ uuid.UUID, windowDays int) ([]booking.DayAvailability, error) {
	f.gotWindow = windowDays
	return f.days, f.err
}

func (f *fakeBookings) ComputeAvailableSlots(context.Context, uuid.UUID, time.Time) ([]booking.SlotAvailability, error) {
	return f.slots, f.err
}

func (f *fakeBookings) StartBooking(_ context.Context, patientID, specialistID uuid.UUID, day time.Time, slot string, payer booking.Payer) (*booking.Flow, string, error) {
	f.gotPatient, f.gotSlot, f.gotPayer = patientID, slot, payer
	if f.startErr != nil {
		return nil, "", f.startErr
	}
	tracking := "trk-1"
	flow := booking.NewFlow(patientID, specialistID)
	flow.State = booking.StateAwaitingPayment
	flow.Booking = &booking.Booking{
		ID:               uuid.New(),
		PatientID:        patientID,
		SpecialistID:     specialistID,
		ScheduledAt:      day,
		Status:           booking.StatusPendingPayment,
		PaymentReference: "MEDTECH-1-0001",
		OrderTrackingID:  &tracking,
	}
	return flow, "https://pay.example/checkout/trk-1", nil
}

func (f *fakeBookings) ReconcileBooking(_ context.Context, patientID uuid.UUID, reference string, cancelled bool) (booking.Outcome, error) {
	f.gotPatient, f.gotReference, f.gotCancelled = patientID, reference, cancelled
	return f.outcome, f.err
}

func (f *fakeBookings) ResumePayment(ctx context.Context, bookingID, patientID uuid.UUID, payer booking.Payer) (*booking.Flow, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.StartBooking(ctx, patientID, uuid.New(), time.Now(), "10:00", payer)
}

func (f *fakeBookings) HandleCallback(_ context.Context, tracking, reference string) (booking.Outcome, error) {
	f.gotTracking, f.gotReference = tracking, reference
	return f.outcome, f.err
}

type fakeLister struct {
	views     []booking.BookingView
	gotBucket booking.Bucket
}

func (f *fakeLister) ListBookings(_ context.Context, _ uuid.UUID, bucket booking.Bucket) ([]booking.BookingView, error) {
	f.gotBucket = bucket
	return f.views, nil
}

type fakeDirectory struct {
	specialists []booking.Specialist
}

func (f *fakeDirectory) ListSpecialists(context.Context, string) ([]booking.Specialist, error) {
	return f.specialists, nil
}

type fakeProfiles struct {
	profiles map[uuid.UUID]*session.Profile
	requests []session.VerificationRequest
}

func (f *fakeProfiles) GetProfile(_ context.Context, id uuid.UUID) (*session.Profile, error) {
	if p, ok := f.profiles[id]; ok {
		return p, nil
	}
	return nil, session.ErrProfileNotFound
}

func (f *fakeProfiles) CreateProfile(_ context.Context, p session.Profile) error {
	f.profiles[p.ID] = &p
	return nil
}

func (f *fakeProfiles) SubmitVerification(_ context.Context, req session.VerificationRequest) (*session.VerificationRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, ok := f.profiles[req.UserID]
	if !ok {
		p = &session.Profile{ID: req.UserID, UserType: "patient"}
		f.profiles[req.UserID] = p
	}
	p.FullName, p.VerificationSubmitted = req.FullName, true

	req.ID, req.Status, req.CreatedAt = uuid.New(), "pending", time.Now()
	f.requests = append(f.requests, req)
	return &req, nil
}

type fakeIdentity struct {
	user      session.User
	userErr   error
	signedOut []string
}

func (f *fakeIdentity) SignUp(_ context.Context, in session.SignUpInput) (*session.User, *session.Session, error) {
	u := f.user
	u.Email = in.Email
	return &u, nil, nil
}

func (f *fakeIdentity) SignIn(_ context.Context, _, password string) (*session.Session, error) {
	if password != "pw" {
		return nil, session.ErrInvalidCredentials
	}
	return &session.Session{AccessToken: "access", RefreshToken: "refresh", User: f.user}, nil
}

func (f *fakeIdentity) SignInWithGoogle(redirectTo string) string {
	return "https://auth.example/authorize?provider=google&redirect_to=" + redirectTo
}

func (f *fakeIdentity) ResetPassword(context.Context, string, string) error { return nil }

func (f *fakeIdentity) SignOut(_ context.Context, accessToken string) error {
	f.signedOut = append(f.signedOut, accessToken)
	return nil
}

func (f *fakeIdentity) GetUser(context.Context, string) (*session.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &f.user, nil
}

func (f *fakeIdentity) RefreshSession(context.Context, string) (*session.Session, error) {
	return nil, session.ErrInvalidCredentials
}

type testServer struct {
	handler  http.Handler
	bookings *fakeBookings
	lister   *fakeLister
	profiles *fakeProfiles
	identity *fakeIdentity
	patient  uuid.UUID
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	verifier := session.NewTokenVerifier(testSecret)
	patient := uuid.New()
	token, err := verifier.Issue(patient, "amani@example.com", time.Hour)
	require.NoError(t, err)

	ts := &testServer{
		bookings: &fakeBookings{},
		lister:   &fakeLister{},
		profiles: &fakeProfiles{profiles: map[uuid.UUID]*session.Profile{}},
		identity: &fakeIdentity{user: session.User{ID: patient, Email: "amani@example.com"}},
		patient:  patient,
		token:    token,
	}
	fee := 3500.0
	ts.handler = NewRouter(RouterConfig{
		Bookings: ts.bookings,
		Lister:   ts.lister,
		Specialists: &fakeDirectory{specialists: []booking.Specialist{
			{ID: uuid.New(), FullName: "Dr. Wanjiru Kamau", Available: true},
			{ID: uuid.New(), FullName: "Dr. Otieno", ConsultationFee: &fee, Available: true},
		}},
		Profiles:    ts.profiles,
		Identity:    ts.identity,
		Verifier:    verifier,
		DefaultFee:  2000,
		RedirectURL: "herbal://auth",
		Env:         "test",
		Version:     "v0",
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestListSpecialistsAppliesDefaults(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/specialists", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []SpecialistResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "Herbal Specialist", resp[0].Specialty)
	assert.Equal(t, 2000.0, resp[0].ConsultationFee)
	assert.Equal(t, 3500.0, resp[1].ConsultationFee)
}

func TestAvailableSlots(t *testing.T) {
	ts := newTestServer(t)
	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	ts.bookings.slots = []booking.SlotAvailability{
		{Time: booking.TimeSlot{Hour: 9}, StartsAt: day.Add(9 * time.Hour), Available: false},
		{Time: booking.TimeSlot{Hour: 10}, StartsAt: day.Add(10 * time.Hour), Available: true},
	}

	rec := ts.do(t, http.MethodGet, "/specialists/"+uuid.NewString()+"/slots?date=2024-06-10", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []SlotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "09:00", resp[0].Time)
	assert.False(t, resp[0].Available)
	assert.True(t, resp[1].Available)

	rec = ts.do(t, http.MethodGet, "/specialists/not-a-uuid/slots?date=2024-06-10", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/specialists/"+uuid.NewString()+"/slots?date=tomorrow", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAvailableDaysWindow(t *testing.T) {
	ts := newTestServer(t)
	ts.bookings.days = []booking.DayAvailability{
		{Date: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), HasFreeSlots: true},
		{Date: time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC), HasFreeSlots: false},
	}

	rec := ts.do(t, http.MethodGet, "/specialists/"+uuid.NewString()+"/days?window=7", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, ts.bookings.gotWindow)

	var resp []DayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "2024-06-10", resp[0].Date)
	assert.False(t, resp[1].HasFreeSlots)

	rec = ts.do(t, http.MethodGet, "/specialists/"+uuid.NewString()+"/days", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, booking.DefaultWindowDays, ts.bookings.gotWindow)

	rec = ts.do(t, http.MethodGet, "/specialists/"+uuid.NewString()+"/days?window=-1", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/bookings", `{}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/consultations", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateBookingReturnsRedirect(t *testing.T) {
	ts := newTestServer(t)
	email, phone := "amani.otieno@example.com", "+254700000000"
	ts.profiles.profiles[ts.patient] = &session.Profile{ID: ts.patient, FullName: "Amani Wairimu Otieno", Email: &email, Phone: &phone}

	body := fmt.Sprintf(`{"specialist_id":%q,"date":"2024-06-10","time":"10:00"}`, uuid.NewString())
	rec := ts.do(t, http.MethodPost, "/bookings", body, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp PaymentRedirectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://pay.example/checkout/trk-1", resp.RedirectURL)
	assert.Equal(t, "MEDTECH-1-0001", resp.PaymentReference)
	assert.Equal(t, "trk-1", resp.OrderTrackingID)
	assert.Equal(t, string(booking.StateAwaitingPayment), resp.State)

	assert.Equal(t, ts.patient, ts.bookings.gotPatient)
	assert.Equal(t, "10:00", ts.bookings.gotSlot)
	assert.Equal(t, booking.Payer{Email: email, FirstName: "Amani", LastName: "Wairimu Otieno", Phone: phone}, ts.bookings.gotPayer)
}

func TestCreateBookingWithoutProfileUsesTokenEmail(t *testing.T) {
	ts := newTestServer(t)

	body := fmt.Sprintf(`{"specialist_id":%q,"date":"2024-06-10","time":"10:00"}`, uuid.NewString())
	rec := ts.do(t, http.MethodPost, "/bookings", body, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "amani@example.com", ts.bookings.gotPayer.Email)
	assert.Equal(t, "Patient", ts.bookings.gotPayer.FirstName)
}

func TestCreateBookingErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("%w: slot not offered", booking.ErrValidation), http.StatusBadRequest, "validation_failed"},
		{"specialist missing", booking.ErrSpecialistNotFound, http.StatusNotFound, "specialist_not_found"},
		{"slot taken", booking.ErrSlotTaken, http.StatusConflict, "slot_taken"},
		{"payment init", fmt.Errorf("%w: no token", booking.ErrPaymentInit), http.StatusBadGateway, "payment_init_failed"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.bookings.startErr = tt.err

			body := fmt.Sprintf(`{"specialist_id":%q,"date":"2024-06-10","time":"10:00"}`, uuid.NewString())
			rec := ts.do(t, http.MethodPost, "/bookings", body, true)
			assert.Equal(t, tt.status, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error)
		})
	}
}

func TestCreateBookingRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/bookings", `{not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/bookings", `{"specialist_id":"x","date":"2024-06-10","time":"10:00"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcileBooking(t *testing.T) {
	ts := newTestServer(t)
	ts.bookings.outcome = booking.Outcome{
		State:         booking.StateScheduled,
		PaymentStatus: "COMPLETED",
		Booking:       &booking.Booking{ID: uuid.New(), Status: booking.StatusScheduled, PaymentReference: "MEDTECH-1-0001"},
	}

	rec := ts.do(t, http.MethodPost, "/bookings/MEDTECH-1-0001/reconcile", `{"cancelled":true}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp OutcomeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(booking.StateScheduled), resp.State)
	require.NotNil(t, resp.Booking)
	assert.Equal(t, "scheduled", resp.Booking.Status)
	assert.Equal(t, "MEDTECH-1-0001", ts.bookings.gotReference)
	assert.True(t, ts.bookings.gotCancelled)

	// Empty body means the page was not cancelled.
	rec = ts.do(t, http.MethodPost, "/bookings/MEDTECH-1-0001/reconcile", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ts.bookings.gotCancelled)
}

func TestReconcileForeignBookingIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.bookings.err = booking.ErrBookingNotFound

	rec := ts.do(t, http.MethodPost, "/bookings/MEDTECH-9/reconcile", `{}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumePayment(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/bookings/"+uuid.NewString()+"/resume", "", true)
	require.Equal(t, http.StatusCreated, rec.Code)

	ts.bookings.err = booking.ErrInvalidTransition
	rec = ts.do(t, http.MethodPost, "/bookings/"+uuid.NewString()+"/resume", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/bookings/nope/resume", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListConsultations(t *testing.T) {
	ts := newTestServer(t)
	specialty := "Phytotherapy"
	ts.lister.views = []booking.BookingView{{
		Booking:             booking.Booking{ID: uuid.New(), Status: booking.StatusPendingPayment},
		SpecialistName:      "Dr. Wanjiru Kamau",
		SpecialistSpecialty: &specialty,
		PaymentRequired:     true,
	}}

	rec := ts.do(t, http.MethodGet, "/consultations", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, booking.BucketUpcoming, ts.lister.gotBucket)

	var resp []BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.True(t, resp[0].PaymentRequired)
	assert.Equal(t, "Phytotherapy", resp[0].SpecialistSpecialty)

	rec = ts.do(t, http.MethodGet, "/consultations?bucket=completed", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, booking.BucketCompleted, ts.lister.gotBucket)

	rec = ts.do(t, http.MethodGet, "/consultations?bucket=archived", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentCallback(t *testing.T) {
	ts := newTestServer(t)
	ts.bookings.outcome = booking.Outcome{State: booking.StateStillPending, PaymentStatus: "PENDING"}

	rec := ts.do(t, http.MethodGet, "/payment-callback?OrderTrackingId=trk-1&OrderMerchantReference=MEDTECH-1", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trk-1", ts.bookings.gotTracking)
	assert.Equal(t, "MEDTECH-1", ts.bookings.gotReference)

	rec = ts.do(t, http.MethodGet, "/payment-callback", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignInAndDestination(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/auth/sign-in", `{"email":"amani@example.com","password":"pw"}`, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "access", resp.AccessToken)
	assert.Equal(t, string(session.DestinationVerification), resp.Destination)

	rec = ts.do(t, http.MethodPost, "/auth/sign-in", `{"email":"amani@example.com","password":"wrong"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ts.profiles.profiles[ts.patient] = &session.Profile{ID: ts.patient, IsVerified: true}
	rec = ts.do(t, http.MethodGet, "/me/destination", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(session.DestinationMain), resp.Destination)
}

func TestSignUpRequiresTermsAndCreatesProfile(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/auth/sign-up", `{"email":"new@example.com","password":"pw","full_name":"Neema Achieng"}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "terms_not_accepted")

	rec = ts.do(t, http.MethodPost, "/auth/sign-up", `{"email":"new@example.com","password":"pw","full_name":"Neema Achieng","agreed_to_terms":true}`, false)
	require.Equal(t, http.StatusCreated, rec.Code)
	p, ok := ts.profiles.profiles[ts.patient]
	require.True(t, ok)
	assert.Equal(t, "Neema Achieng", p.FullName)
	assert.Equal(t, "patient", p.UserType)
}

func TestSubmitVerificationUnlocksMainApp(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/me/destination", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(session.DestinationVerification))

	rec = ts.do(t, http.MethodPost, "/me/verification", `{"full_name":"Amani Otieno","date_of_birth":"1994-03-02"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "verification_incomplete")

	rec = ts.do(t, http.MethodPost, "/me/verification", `{"full_name":"Amani Otieno","date_of_birth":"02/03/1994"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := `{"full_name":"Amani Otieno","date_of_birth":"1994-03-02","gender":"female","phone":"+254712345678",
		"health_issue":"Recurring migraines","preferred_date":"2024-06-10","preferred_time":"10:00","privacy_agreement":true}`
	rec = ts.do(t, http.MethodPost, "/me/verification", body, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp VerificationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, string(session.DestinationMain), resp.Destination)

	require.Len(t, ts.profiles.requests, 1)
	req := ts.profiles.requests[0]
	assert.Equal(t, ts.patient, req.UserID)
	require.NotNil(t, req.Email)
	assert.Equal(t, "amani@example.com", *req.Email)
	require.NotNil(t, req.PreferredDate)
	assert.Equal(t, 10, req.PreferredDate.Day())

	rec = ts.do(t, http.MethodGet, "/me/destination", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(session.DestinationMain))
}

func TestMeMergesIdentityAndProfile(t *testing.T) {
	ts := newTestServer(t)
	ts.identity.user.Metadata = map[string]any{"full_name": "Amani"}

	rec := ts.do(t, http.MethodGet, "/me", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp MeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Amani", resp.FullName)
	assert.Equal(t, string(session.DestinationVerification), resp.Destination)

	phone := "+254700000000"
	dob := time.Date(1994, 3, 2, 0, 0, 0, 0, time.UTC)
	ts.profiles.profiles[ts.patient] = &session.Profile{ID: ts.patient, FullName: "Amani Otieno", Phone: &phone,
		DateOfBirth: &dob, UserType: "patient", VerificationSubmitted: true}
	rec = ts.do(t, http.MethodGet, "/me", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ts.patient, resp.UserID)
	assert.Equal(t, "Amani Otieno", resp.FullName)
	assert.Equal(t, phone, resp.Phone)
	assert.Equal(t, "1994-03-02", resp.DateOfBirth)
	assert.True(t, resp.VerificationSubmitted)
	assert.False(t, resp.IsVerified)
	assert.Equal(t, string(session.DestinationMain), resp.Destination)

	ts.identity.userErr = fmt.Errorf("%w: %w: invalid JWT", session.ErrIdentity, session.ErrInvalidToken)
	rec = ts.do(t, http.MethodGet, "/me", "", true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/me", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignOutRevokesToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/auth/sign-out", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ts.identity.signedOut)

	rec = ts.do(t, http.MethodPost, "/auth/sign-out", "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{ts.token}, ts.identity.signedOut)
}

func TestServiceErrorLogLevels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		level  string
	}{
		{"payment init", fmt.Errorf("%w: gateway timeout", booking.ErrPaymentInit), http.StatusBadGateway, "warn"},
		{"payment status", fmt.Errorf("%w: gateway timeout", booking.ErrPaymentStatusUnknown), http.StatusBadGateway, "warn"},
		{"identity", fmt.Errorf("%w: 503", session.ErrIdentity), http.StatusBadGateway, "warn"},
		{"slot taken", booking.ErrSlotTaken, http.StatusConflict, "debug"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			ctx := zerolog.New(&logs).WithContext(context.Background())
			req := httptest.NewRequest(http.MethodPost, "/bookings", nil).WithContext(ctx)
			rec := httptest.NewRecorder()

			handleServiceError(rec, req, tt.err)
			assert.Equal(t, tt.status, rec.Code)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(logs.Bytes(), &entry), logs.String())
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, tt.err.Error(), entry["error"])
			assert.Equal(t, "/bookings", entry["path"])
		})
	}
}

func TestGoogleSignInRedirects(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/auth/google", "", false)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "provider=google")
}

func TestHealthReadiness(t *testing.T) {
	h := NewHealthHandler(
		func(context.Context) error { return nil },
		func(context.Context) error { return errors.New("redis down") },
		"test", "v0",
	)

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "down", resp.Dependencies["redis"])

	h = NewHealthHandler(func(context.Context) error { return errors.New("pg down") }, nil, "test", "v0")
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
