package booking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/herbal-consult-booking/internal/config"
	"github.com/hackgods/herbal-consult-booking/internal/logging"
	"github.com/hackgods/herbal-consult-booking/internal/pesapal"
	redisclient "github.com/hackgods/herbal-consult-booking/internal/redis"
)

// PaymentGateway is the hosted checkout used to collect consultation fees.
type PaymentGateway interface {
	InitializePayment(ctx context.Context, details pesapal.PaymentDetails) (pesapal.Order, error)
	CheckPaymentStatus(ctx context.Context, orderTrackingID string) (pesapal.Status, error)
}

// BrowserOutcome is how the hosted checkout page was left.
type BrowserOutcome string

const (
	// BrowserRedirected means the checkout redirected back to the callback URL.
	BrowserRedirected BrowserOutcome = "redirected"
	// BrowserClosed means the page was closed without a redirect being seen.
	BrowserClosed BrowserOutcome = "closed"
	// BrowserCancelled means the patient dismissed the page before paying.
	BrowserCancelled BrowserOutcome = "cancelled"
)

// HostedBrowser opens the checkout URL and blocks until the page is left.
type HostedBrowser interface {
	Open(ctx context.Context, redirectURL string) (BrowserOutcome, error)
}

const (
	pathBrowser  = "browser"
	pathCallback = "callback"
	pathAPI      = "api"
	pathExpiry   = "expiry"
)

// Outcome is the result of a reconciliation.
type Outcome struct {
	State         State
	Booking       *Booking
	PaymentStatus string
	Reason        string
}

type Orchestrator struct {
	repo         Repository
	availability *AvailabilityCalculator
	writer       *ReservationWriter
	gateway      PaymentGateway
	locker       redisclient.Locker
	cfg          config.BookingConfig
	observer     Observer
	now          func() time.Time
}

type Option func(*Orchestrator)

// WithPublisher sends booking events to a broker in addition to event_logs.
func WithPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) {
		o.writer = NewReservationWriter(o.repo, p)
	}
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.availability.WithClock(now)
	}
}

func NewOrchestrator(repo Repository, gateway PaymentGateway, locker redisclient.Locker, cfg config.BookingConfig, opts ...Option) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultWindowDays
	}
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}

	o := &Orchestrator{
		repo:         repo,
		availability: NewAvailabilityCalculator(repo, cfg.Location).WithWindow(cfg.WindowDays),
		writer:       NewReservationWriter(repo, nil),
		gateway:      gateway,
		locker:       locker,
		cfg:          cfg,
		observer:     nopObserver{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) ComputeAvailableDays(ctx context.Context, specialistID uuid.UUID, windowDays int) ([]DayAvailability, error) {
	if windowDays <= 0 || windowDays > o.cfg.WindowDays {
		windowDays = o.cfg.WindowDays
	}
	return o.availability.ComputeAvailableDays(ctx, specialistID, windowDays)
}

func (o *Orchestrator) ComputeAvailableSlots(ctx context.Context, specialistID uuid.UUID, day time.Time) ([]SlotAvailability, error) {
	return o.availability.ComputeAvailableSlots(ctx, specialistID, day)
}

// StartBooking selects a slot on a new flow and begins payment.
func (o *Orchestrator) StartBooking(ctx context.Context, patientID, specialistID uuid.UUID, day time.Time, slot string, payer Payer) (*Flow, string, error) {
	flow := NewFlow(patientID, specialistID)
	if err := o.SelectSlot(flow, day, slot); err != nil {
		return flow, "", err
	}
	url, err := o.BeginPayment(ctx, flow, payer)
	if err != nil {
		return flow, "", err
	}
	return flow, url, nil
}

// ParseDay reads a YYYY-MM-DD date in the booking location.
func (o *Orchestrator) ParseDay(s string) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, s, o.cfg.Location)
	if err != nil {
		return time.Time{}, validationError(fmt.Sprintf("invalid date %q", s))
	}
	return d, nil
}

// SelectSlot records the chosen day and start time on a flow that is still
// selecting. A rejected choice leaves the flow untouched.
func (o *Orchestrator) SelectSlot(flow *Flow, day time.Time, slot string) error {
	if flow.State != StateSelectingSlot {
		return fmt.Errorf("select slot in %s: %w", flow.State, ErrInvalidTransition)
	}
	if strings.TrimSpace(slot) == "" {
		return validationError("please select a time slot")
	}

	ts, err := ParseTimeSlot(slot)
	if err != nil {
		return err
	}
	if !o.availability.InCatalogue(ts) {
		return validationError(fmt.Sprintf("%s is not a consultation time", ts))
	}
	if day.IsZero() {
		return validationError("please select a day")
	}

	loc := o.cfg.Location
	d := startOfDay(day, loc)
	if isWeekend(d) {
		return validationError("consultations are not offered on weekends")
	}

	now := o.now()
	start := ts.On(d, loc)
	if !start.After(now) {
		return validationError("the selected time has already passed")
	}
	if !d.Before(startOfDay(now, loc).AddDate(0, 0, o.cfg.WindowDays)) {
		return validationError(fmt.Sprintf("bookings open %d days ahead", o.cfg.WindowDays))
	}

	flow.Slot = ts
	flow.ScheduledAt = start
	return nil
}

func newPaymentReference(now time.Time) string {
	return fmt.Sprintf("MEDTECH-%d-%04d", now.UnixNano(), rand.IntN(10000))
}

// BeginPayment enters AwaitingPayment: it submits an order to the gateway and
// writes the provisional booking under the slot lock. It returns the hosted
// checkout URL. On any failure the flow returns to its previous state.
func (o *Orchestrator) BeginPayment(ctx context.Context, flow *Flow, payer Payer) (string, error) {
	if flow.ScheduledAt.IsZero() {
		return "", validationError("please select a time slot")
	}

	prev := flow.State
	if err := flow.transition(StateAwaitingPayment); err != nil {
		return "", err
	}

	url, err := o.beginPayment(ctx, flow, payer)
	if err != nil {
		if prev == StateStillPending {
			flow.State = StateStillPending
		} else {
			flow.State = StateSelectingSlot
		}
		return "", err
	}
	return url, nil
}

func (o *Orchestrator) beginPayment(ctx context.Context, flow *Flow, payer Payer) (string, error) {
	logger := logging.FromContext(ctx).With().
		Str("patient_id", flow.PatientID.String()).
		Str("specialist_id", flow.SpecialistID.String()).
		Time("scheduled_at", flow.ScheduledAt).
		Logger()

	specialist, err := o.repo.GetSpecialistByID(ctx, flow.SpecialistID)
	if err != nil {
		logger.Error().Err(err).Msg("load specialist failed")
		return "", err
	}
	if !specialist.Available {
		return "", validationError("specialist is not accepting bookings")
	}

	if flow.supersedes == "" {
		booked, err := o.repo.ListActiveBookingTimes(ctx, flow.SpecialistID, flow.ScheduledAt, flow.ScheduledAt.Add(time.Second))
		if err != nil {
			logger.Error().Err(err).Msg("slot pre-check failed")
			return "", err
		}
		if len(booked) > 0 {
			o.observer.ObserveSlotConflict()
			return "", ErrSlotTaken
		}
	}

	reference := newPaymentReference(o.now())
	amount := specialist.Fee(o.cfg.DefaultFee)

	order, err := o.gateway.InitializePayment(ctx, pesapal.PaymentDetails{
		Amount:         amount,
		Description:    fmt.Sprintf("Consultation with %s", specialist.FullName),
		Reference:      reference,
		PayerEmail:     payer.Email,
		PayerFirstName: payer.FirstName,
		PayerLastName:  payer.LastName,
		PayerPhone:     payer.Phone,
	})
	if err != nil {
		o.observer.ObserveProvisional("payment_init_failed")
		logger.Error().Err(err).Str("reference", reference).Msg("payment initialization failed")
		if errors.Is(err, ErrPaymentInit) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrPaymentInit, err)
	}

	in := ProvisionalBooking{
		PatientID:        flow.PatientID,
		SpecialistID:     flow.SpecialistID,
		ScheduledAt:      flow.ScheduledAt,
		PaymentReference: reference,
		OrderTrackingID:  order.OrderTrackingID,
		Amount:           amount,
	}

	var created *Booking
	err = o.locker.WithSlotLock(ctx, flow.SpecialistID, flow.ScheduledAt, func(lockCtx context.Context) error {
		var werr error
		if flow.supersedes != "" {
			created, werr = o.writer.SupersedeProvisionalBooking(lockCtx, flow.supersedes, in)
		} else {
			created, werr = o.writer.CreateProvisionalBooking(lockCtx, in)
		}
		return werr
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		err = ErrSlotTaken
	}
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			o.observer.ObserveSlotConflict()
			o.observer.ObserveProvisional("slot_taken")
		} else {
			o.observer.ObserveProvisional("write_failed")
		}
		logger.Error().Err(err).Str("reference", reference).Msg("provisional booking write failed")
		return "", err
	}

	outcome := "created"
	if flow.supersedes != "" {
		outcome = "superseded"
	}
	o.observer.ObserveProvisional(outcome)
	logger.Info().Str("reference", reference).Str("order_tracking_id", order.OrderTrackingID).Msg("provisional booking " + outcome)

	flow.Booking = created
	flow.RedirectURL = order.RedirectURL
	flow.supersedes = ""
	return order.RedirectURL, nil
}

// Reconcile settles the flow after the hosted checkout is left. Status check
// failures end in StillPending; only store failures are returned as errors.
func (o *Orchestrator) Reconcile(ctx context.Context, flow *Flow, browser BrowserOutcome) (Outcome, error) {
	if flow.Booking == nil {
		return Outcome{State: flow.State}, fmt.Errorf("reconcile without a booking: %w", ErrInvalidTransition)
	}
	if err := flow.transition(StateReconciling); err != nil {
		return Outcome{State: flow.State}, err
	}

	var (
		out Outcome
		err error
	)
	if browser == BrowserCancelled {
		out = Outcome{State: StateStillPending, Booking: flow.Booking, Reason: "payment deferred"}
		o.observer.ObserveReconcile(pathBrowser, string(out.State))
		logging.FromContext(ctx).Info().Str("reference", flow.PaymentReference()).Msg("checkout cancelled, booking left pending")
	} else {
		out, err = o.reconcileBooking(ctx, flow.Booking, "", pathBrowser)
	}

	flow.State = out.State
	if out.Booking != nil {
		flow.Booking = out.Booking
	}
	return out, err
}

// Book runs a whole flow: payment initialization, the blocking hosted
// checkout, then reconciliation.
func (o *Orchestrator) Book(ctx context.Context, flow *Flow, payer Payer, browser HostedBrowser) (Outcome, error) {
	url, err := o.BeginPayment(ctx, flow, payer)
	if err != nil {
		return Outcome{State: flow.State}, err
	}

	result, err := browser.Open(ctx, url)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("reference", flow.PaymentReference()).Msg("hosted checkout failed")
		result = BrowserClosed
	}

	// The flow is settled even when the caller went away during checkout.
	return o.Reconcile(context.WithoutCancel(ctx), flow, result)
}

// HandleCallback is the redirect path from the hosted checkout. The booking is
// found by merchant reference first, then by tracking id. Running it again for
// a scheduled booking does not call the gateway.
func (o *Orchestrator) HandleCallback(ctx context.Context, orderTrackingID, merchantReference string) (Outcome, error) {
	orderTrackingID = strings.TrimSpace(orderTrackingID)
	merchantReference = strings.TrimSpace(merchantReference)
	if orderTrackingID == "" && merchantReference == "" {
		return Outcome{}, validationError("OrderTrackingId is required")
	}

	logger := logging.FromContext(ctx).With().
		Str("order_tracking_id", orderTrackingID).
		Str("reference", merchantReference).
		Logger()

	var (
		b   *Booking
		err error
	)
	if merchantReference != "" {
		b, err = o.repo.GetBookingByReference(ctx, merchantReference)
	}
	if (merchantReference == "" || errors.Is(err, ErrNotFound)) && orderTrackingID != "" {
		b, err = o.repo.GetBookingByOrderTrackingID(ctx, orderTrackingID)
	}
	if err != nil {
		logger.Error().Err(err).Msg("payment callback lookup failed")
		return Outcome{}, err
	}

	return o.reconcileBooking(ctx, b, orderTrackingID, pathCallback)
}

// ReconcileBooking settles a patient's booking by reference, for clients that
// keep no flow of their own.
func (o *Orchestrator) ReconcileBooking(ctx context.Context, patientID uuid.UUID, reference string, cancelled bool) (Outcome, error) {
	b, err := o.repo.GetBookingByReference(ctx, reference)
	if err != nil {
		return Outcome{}, err
	}
	if b.PatientID != patientID {
		return Outcome{}, ErrBookingNotFound
	}

	if cancelled && b.Status == StatusPendingPayment {
		o.observer.ObserveReconcile(pathAPI, string(StateStillPending))
		return Outcome{State: StateStillPending, Booking: b, Reason: "payment deferred"}, nil
	}
	return o.reconcileBooking(ctx, b, "", pathAPI)
}

func (o *Orchestrator) reconcileBooking(ctx context.Context, b *Booking, trackingHint, path string) (Outcome, error) {
	logger := logging.FromContext(ctx).With().Str("reference", b.PaymentReference).Str("path", path).Logger()

	switch b.Status {
	case StatusScheduled:
		o.observer.ObserveReconcile(path, string(StateScheduled))
		return Outcome{State: StateScheduled, Booking: b}, nil
	case StatusPendingPayment:
	case StatusCancelled:
		return o.reconcileReleased(ctx, b, trackingFor(b, trackingHint), path)
	default:
		logger.Warn().Str("status", string(b.Status)).Msg("reconciliation for a booking that is no longer pending")
		return Outcome{State: StateStillPending, Booking: b},
			fmt.Errorf("reconcile %s in %s: %w", b.PaymentReference, b.Status, ErrInvalidTransition)
	}

	st, err := o.gateway.CheckPaymentStatus(ctx, trackingFor(b, trackingHint))
	if err != nil {
		logger.Warn().Err(err).Msg("payment status unknown, booking left pending")
		o.observer.ObserveReconcile(path, string(StateStillPending))
		return Outcome{State: StateStillPending, Booking: b, Reason: ErrPaymentStatusUnknown.Error()}, nil
	}

	updated, err := o.writer.RecordPaymentStatus(ctx, b.PaymentReference, st.Status)
	if err != nil {
		logger.Error().Err(err).Str("payment_status", st.Status).Msg("recording payment status failed")
		return Outcome{State: StateStillPending, Booking: b, PaymentStatus: st.Status}, err
	}

	out := Outcome{State: StateStillPending, Booking: updated, PaymentStatus: st.Status}
	if updated.Status == StatusScheduled {
		out.State = StateScheduled
	} else {
		out.Reason = fmt.Sprintf("payment status %s", st.Status)
	}

	o.observer.ObserveReconcile(path, string(out.State))
	logger.Info().Str("payment_status", st.Status).Str("state", string(out.State)).Msg("booking reconciled")
	return out, nil
}

func trackingFor(b *Booking, hint string) string {
	if b.OrderTrackingID != nil && *b.OrderTrackingID != "" {
		return *b.OrderTrackingID
	}
	return hint
}

// reconcileReleased handles a booking whose slot was already given up. The
// processor status is still mirrored so a payment that settled late is not
// lost.
func (o *Orchestrator) reconcileReleased(ctx context.Context, b *Booking, tracking, path string) (Outcome, error) {
	logger := logging.FromContext(ctx).With().Str("reference", b.PaymentReference).Str("path", path).Logger()
	released := fmt.Errorf("reconcile %s in %s: %w", b.PaymentReference, b.Status, ErrInvalidTransition)

	if tracking == "" {
		logger.Warn().Msg("reconciliation for a released booking without a tracking id")
		return Outcome{State: StateStillPending, Booking: b}, released
	}

	st, err := o.gateway.CheckPaymentStatus(ctx, tracking)
	if err != nil {
		logger.Warn().Err(err).Msg("payment status unknown for a released booking")
		return Outcome{State: StateStillPending, Booking: b}, released
	}

	updated := b
	if b.PaymentStatus == nil || *b.PaymentStatus != st.Status {
		updated, err = o.writer.RecordReleasedPaymentStatus(ctx, b.PaymentReference, st.Status)
		if err != nil {
			logger.Error().Err(err).Str("payment_status", st.Status).Msg("recording payment status failed")
			return Outcome{State: StateStillPending, Booking: b, PaymentStatus: st.Status}, err
		}
	}

	if !st.Completed() {
		logger.Warn().Str("payment_status", st.Status).Msg("reconciliation for a booking that is no longer pending")
		return Outcome{State: StateStillPending, Booking: updated, PaymentStatus: st.Status}, released
	}

	logger.Error().
		Str("payment_status", st.Status).
		Str("tracking_id", tracking).
		Msg("payment received after the slot was released")
	o.observer.ObserveReconcile(path, string(StatePaidSlotReleased))
	return Outcome{
		State:         StatePaidSlotReleased,
		Booking:       updated,
		PaymentStatus: st.Status,
		Reason:        "payment received after the slot was released",
	}, nil
}

// ResumePayment restarts payment for a pending booking. The old booking is
// superseded by a new one carrying a fresh payment reference.
func (o *Orchestrator) ResumePayment(ctx context.Context, bookingID, patientID uuid.UUID, payer Payer) (*Flow, string, error) {
	b, err := o.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, "", err
	}
	if b.PatientID != patientID {
		return nil, "", ErrBookingNotFound
	}
	if b.Status != StatusPendingPayment {
		return nil, "", fmt.Errorf("resume %s in %s: %w", b.PaymentReference, b.Status, ErrInvalidTransition)
	}
	if !b.ScheduledAt.After(o.now()) {
		return nil, "", validationError("the booked time has already passed")
	}

	flow := resumeFlow(b, o.cfg.Location)
	url, err := o.BeginPayment(ctx, flow, payer)
	if err != nil {
		return flow, "", err
	}
	return flow, url, nil
}

// ExpireProvisionalBookings releases bookings left in pending_payment for
// longer than the provisional TTL. A booking is cancelled when it never
// reached the processor, when the processor reports a terminal failure, or
// when its slot time has passed. A completed payment is promoted instead.
// Bookings whose payment may still settle are left for the next run. It
// returns how many bookings were cancelled.
func (o *Orchestrator) ExpireProvisionalBookings(ctx context.Context) (int, error) {
	ttl := o.cfg.ProvisionalTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	now := o.now()
	stale, err := o.repo.FindStaleProvisional(ctx, now.Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("find stale provisional bookings: %w", err)
	}

	expired := 0
	for i := range stale {
		if o.expireOne(ctx, &stale[i], now) {
			expired++
		}
	}

	o.observer.ObserveExpired(expired)
	return expired, nil
}

func (o *Orchestrator) expireOne(ctx context.Context, b *Booking, now time.Time) bool {
	logger := logging.FromContext(ctx).With().Str("reference", b.PaymentReference).Logger()
	slotPassed := !b.ScheduledAt.After(now)

	if tracking := trackingFor(b, ""); tracking != "" {
		st, err := o.gateway.CheckPaymentStatus(ctx, tracking)
		switch {
		case err != nil && !slotPassed:
			logger.Warn().Err(err).Msg("status check failed, retrying next run")
			return false
		case err != nil:
			logger.Warn().Err(err).Msg("status check failed for a past slot, releasing")
		case st.Completed():
			if _, err := o.writer.RecordPaymentStatus(ctx, b.PaymentReference, st.Status); err != nil {
				logger.Error().Err(err).Msg("failed to promote late payment")
			} else {
				o.observer.ObserveReconcile(pathExpiry, string(StateScheduled))
			}
			return false
		case st.Failed():
			if _, err := o.writer.RecordPaymentStatus(ctx, b.PaymentReference, st.Status); err != nil {
				logger.Error().Err(err).Str("payment_status", st.Status).Msg("recording payment status failed")
				return false
			}
		case !slotPassed:
			logger.Debug().Str("payment_status", st.Status).Msg("payment still open, booking left pending")
			return false
		}
	}

	if _, err := o.writer.ExpireProvisional(ctx, b.PaymentReference); err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Error().Err(err).Msg("failed to expire booking")
		}
		return false
	}
	return true
}
