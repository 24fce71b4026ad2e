package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepository is an in-memory Repository that enforces the active slot
// uniqueness rule the way the partial unique index does.
type memRepository struct {
	mu          sync.Mutex
	specialists map[uuid.UUID]Specialist
	bookings    map[uuid.UUID]*Booking
	events      []EventLog
	clock       func() time.Time

	insertErr error
	listErr   error
}

func newMemRepository() *memRepository {
	return &memRepository{
		specialists: map[uuid.UUID]Specialist{},
		bookings:    map[uuid.UUID]*Booking{},
		clock:       time.Now,
	}
}

func (m *memRepository) addSpecialist(name string, fee *float64) Specialist {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Specialist{ID: uuid.New(), FullName: name, ConsultationFee: fee, Available: true}
	m.specialists[s.ID] = s
	return s
}

// seed stores a booking as is.
func (m *memRepository) seed(b Booking) *Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.PaymentReference == "" {
		b.PaymentReference = "MEDTECH-SEED-" + b.ID.String()[:8]
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.clock()
	}
	m.bookings[b.ID] = &b
	cp := b
	return &cp
}

// backdate moves a booking's creation time into the past.
func (m *memRepository) backdate(ref string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b := m.byReference(ref); b != nil {
		b.CreatedAt = b.CreatedAt.Add(-d)
	}
}

func (m *memRepository) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.EventType)
	}
	return out
}

func (m *memRepository) byReference(ref string) *Booking {
	for _, b := range m.bookings {
		if b.PaymentReference == ref {
			return b
		}
	}
	return nil
}

func (m *memRepository) GetSpecialistByID(_ context.Context, id uuid.UUID) (*Specialist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.specialists[id]
	if !ok {
		return nil, ErrSpecialistNotFound
	}
	return &s, nil
}

func (m *memRepository) ListSpecialists(_ context.Context, _ string) ([]Specialist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Specialist
	for _, s := range m.specialists {
		out = append(out, s)
	}
	return out, nil
}

func (m *memRepository) ListActiveBookingTimes(_ context.Context, specialistID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []time.Time
	for _, b := range m.bookings {
		if b.SpecialistID == specialistID && b.Status.Active() && !b.ScheduledAt.Before(from) && b.ScheduledAt.Before(to) {
			out = append(out, b.ScheduledAt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *memRepository) slotTaken(specialistID uuid.UUID, at time.Time) bool {
	for _, b := range m.bookings {
		if b.SpecialistID == specialistID && b.Status.Active() && b.ScheduledAt.Equal(at) {
			return true
		}
	}
	return false
}

func (m *memRepository) insertLocked(in ProvisionalBooking) (*Booking, error) {
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	if m.slotTaken(in.SpecialistID, in.ScheduledAt) {
		return nil, ErrSlotTaken
	}
	now := m.clock()
	b := &Booking{
		ID:               uuid.New(),
		PatientID:        in.PatientID,
		SpecialistID:     in.SpecialistID,
		ScheduledAt:      in.ScheduledAt,
		Status:           StatusPendingPayment,
		PaymentReference: in.PaymentReference,
		PaymentAmount:    in.Amount,
		OrderTrackingID:  nullableString(in.OrderTrackingID),
		Notes:            nullableString(in.Notes),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.bookings[b.ID] = b
	cp := *b
	return &cp, nil
}

func (m *memRepository) InsertProvisionalBooking(_ context.Context, in ProvisionalBooking) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(in)
}

func (m *memRepository) SupersedeProvisionalBooking(_ context.Context, oldReference string, in ProvisionalBooking) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.byReference(oldReference)
	if old == nil || old.Status != StatusPendingPayment {
		return nil, ErrInvalidTransition
	}
	old.Status = StatusCancelled
	b, err := m.insertLocked(in)
	if err != nil {
		old.Status = StatusPendingPayment
		return nil, err
	}
	return b, nil
}

func (m *memRepository) UpdateBookingStatus(_ context.Context, reference string, from, to Status) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.byReference(reference)
	if b == nil || b.Status != from {
		return nil, ErrBookingNotFound
	}
	b.Status = to
	b.UpdatedAt = m.clock()
	cp := *b
	return &cp, nil
}

func (m *memRepository) UpdatePaymentStatus(_ context.Context, reference, paymentStatus string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.byReference(reference)
	if b == nil {
		return nil, ErrBookingNotFound
	}
	b.PaymentStatus = &paymentStatus
	cp := *b
	return &cp, nil
}

func (m *memRepository) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memRepository) GetBookingByReference(_ context.Context, reference string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.byReference(reference)
	if b == nil {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memRepository) GetBookingByOrderTrackingID(_ context.Context, orderTrackingID string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.OrderTrackingID != nil && *b.OrderTrackingID == orderTrackingID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrBookingNotFound
}

func (m *memRepository) views(keep func(b *Booking) bool, asc bool) []BookingView {
	var out []BookingView
	for _, b := range m.bookings {
		if !keep(b) {
			continue
		}
		s := m.specialists[b.SpecialistID]
		out = append(out, BookingView{Booking: *b, SpecialistName: s.FullName, SpecialistSpecialty: s.Specialty})
	}
	sort.Slice(out, func(i, j int) bool {
		if asc {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ScheduledAt.After(out[j].ScheduledAt)
	})
	return out
}

func (m *memRepository) ListUpcoming(_ context.Context, patientID uuid.UUID, now time.Time) ([]BookingView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.views(func(b *Booking) bool {
		return b.PatientID == patientID && b.Status.Active() && !b.ScheduledAt.Before(now)
	}, true), nil
}

func (m *memRepository) ListCompleted(_ context.Context, patientID uuid.UUID, now time.Time) ([]BookingView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.views(func(b *Booking) bool {
		return b.PatientID == patientID && b.Status != StatusCancelled &&
			(b.Status == StatusCompleted || b.ScheduledAt.Before(now))
	}, false), nil
}

func (m *memRepository) FindStaleProvisional(_ context.Context, createdBefore time.Time) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, b := range m.bookings {
		if b.Status == StatusPendingPayment && b.CreatedAt.Before(createdBefore) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}
