package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters for the booking and payment flow.
type BookingMetrics struct {
	bookingsTotal     *prometheus.CounterVec
	reconcileTotal    *prometheus.CounterVec
	gatewayCalls      *prometheus.CounterVec
	gatewayLatency    *prometheus.HistogramVec
	expiredBookings   prometheus.Counter
	slotConflictTotal prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herbal",
			Subsystem: "booking",
			Name:      "provisional_total",
			Help:      "Provisional bookings by outcome",
		}, []string{"outcome"}),
		reconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herbal",
			Subsystem: "booking",
			Name:      "reconcile_total",
			Help:      "Reconciliation attempts by path and resulting state",
		}, []string{"path", "state"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herbal",
			Subsystem: "pesapal",
			Name:      "calls_total",
			Help:      "Outbound payment gateway calls",
		}, []string{"operation", "status"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "herbal",
			Subsystem: "pesapal",
			Name:      "call_latency_seconds",
			Help:      "Latency of payment gateway calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		expiredBookings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "herbal",
			Subsystem: "booking",
			Name:      "expired_total",
			Help:      "Provisional bookings cancelled by the expiry worker",
		}),
		slotConflictTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "herbal",
			Subsystem: "booking",
			Name:      "slot_conflict_total",
			Help:      "Booking attempts rejected because the slot was just taken",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.reconcileTotal, m.gatewayCalls, m.gatewayLatency, m.expiredBookings, m.slotConflictTotal)
	return m
}

func (m *BookingMetrics) ObserveProvisional(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveReconcile(path, state string) {
	if m == nil {
		return
	}
	m.reconcileTotal.WithLabelValues(path, state).Inc()
}

func (m *BookingMetrics) ObserveGatewayCall(operation string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.gatewayCalls.WithLabelValues(operation, status).Inc()
	m.gatewayLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *BookingMetrics) ObserveExpired(n int) {
	if m == nil {
		return
	}
	m.expiredBookings.Add(float64(n))
}

func (m *BookingMetrics) ObserveSlotConflict() {
	if m == nil {
		return
	}
	m.slotConflictTotal.Inc()
}
