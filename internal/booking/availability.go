package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const DefaultWindowDays = 14

// TimeSlot is a wall-clock start time in the booking location.
type TimeSlot struct {
	Hour   int
	Minute int
}

func (t TimeSlot) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant this slot starts on the given calendar day.
func (t TimeSlot) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
}

// ParseTimeSlot accepts "HH:MM".
func ParseTimeSlot(s string) (TimeSlot, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeSlot{}, validationError(fmt.Sprintf("invalid time %q", s))
	}
	return TimeSlot{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// DefaultCatalogue is the fixed set of consultation start times. 12:00 is lunch.
var DefaultCatalogue = []TimeSlot{
	{9, 0}, {10, 0}, {11, 0}, {13, 0}, {14, 0}, {15, 0}, {16, 0},
}

type DayAvailability struct {
	Date         time.Time
	HasFreeSlots bool
}

type SlotAvailability struct {
	Time      TimeSlot
	StartsAt  time.Time
	Available bool
}

// AvailabilityCalculator diffs the slot catalogue against active bookings.
// Results are advisory: nothing is locked.
type AvailabilityCalculator struct {
	repo      Repository
	catalogue []TimeSlot
	loc       *time.Location
	window    int
	now       func() time.Time
}

func NewAvailabilityCalculator(repo Repository, loc *time.Location) *AvailabilityCalculator {
	if loc == nil {
		loc = time.UTC
	}
	return &AvailabilityCalculator{
		repo:      repo,
		catalogue: DefaultCatalogue,
		loc:       loc,
		window:    DefaultWindowDays,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (a *AvailabilityCalculator) WithClock(now func() time.Time) *AvailabilityCalculator {
	a.now = now
	return a
}

// WithWindow sets how many calendar days ahead, today included, are open
// for booking.
func (a *AvailabilityCalculator) WithWindow(days int) *AvailabilityCalculator {
	if days > 0 {
		a.window = days
	}
	return a
}

func (a *AvailabilityCalculator) Catalogue() []TimeSlot {
	return a.catalogue
}

func (a *AvailabilityCalculator) Location() *time.Location {
	return a.loc
}

// InCatalogue reports whether t is one of the bookable start times.
func (a *AvailabilityCalculator) InCatalogue(t TimeSlot) bool {
	for _, s := range a.catalogue {
		if s == t {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// ComputeAvailableDays returns the weekdays among the next windowDays calendar
// days, today included, in ascending order.
func (a *AvailabilityCalculator) ComputeAvailableDays(ctx context.Context, specialistID uuid.UUID, windowDays int) ([]DayAvailability, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	now := a.now()
	today := startOfDay(now, a.loc)
	end := today.AddDate(0, 0, windowDays)

	booked, err := a.repo.ListActiveBookingTimes(ctx, specialistID, today, end)
	if err != nil {
		return nil, fmt.Errorf("compute available days: %w", err)
	}

	taken := make(map[time.Time]int, len(booked))
	bookedAt := make(map[int64]struct{}, len(booked))
	for _, t := range booked {
		taken[startOfDay(t, a.loc)]++
		bookedAt[t.Unix()] = struct{}{}
	}

	days := make([]DayAvailability, 0, windowDays)
	for i := 0; i < windowDays; i++ {
		day := today.AddDate(0, 0, i)
		if isWeekend(day) {
			continue
		}

		free := taken[day] < len(a.catalogue)
		if free && day.Equal(today) {
			free = a.hasFutureFreeSlot(day, now, bookedAt)
		}

		days = append(days, DayAvailability{Date: day, HasFreeSlots: free})
	}

	return days, nil
}

func (a *AvailabilityCalculator) hasFutureFreeSlot(day, now time.Time, bookedAt map[int64]struct{}) bool {
	for _, s := range a.catalogue {
		start := s.On(day, a.loc)
		if !start.After(now) {
			continue
		}
		if _, ok := bookedAt[start.Unix()]; !ok {
			return true
		}
	}
	return false
}

// BookableDays filters days down to those with at least one free slot.
func BookableDays(days []DayAvailability) []DayAvailability {
	out := make([]DayAvailability, 0, len(days))
	for _, d := range days {
		if d.HasFreeSlots {
			out = append(out, d)
		}
	}
	return out
}

// offered reports whether consultations can be booked on day: a weekday
// between today and the end of the booking window.
func (a *AvailabilityCalculator) offered(day, today time.Time) bool {
	return !isWeekend(day) && !day.Before(today) && day.Before(today.AddDate(0, 0, a.window))
}

// ComputeAvailableSlots returns the full catalogue for day. A slot is
// unavailable when an active booking starts at exactly that instant, when the
// start time has already passed, or when the day itself is not offered.
func (a *AvailabilityCalculator) ComputeAvailableSlots(ctx context.Context, specialistID uuid.UUID, day time.Time) ([]SlotAvailability, error) {
	from := startOfDay(day, a.loc)
	to := from.AddDate(0, 0, 1)

	booked, err := a.repo.ListActiveBookingTimes(ctx, specialistID, from, to)
	if err != nil {
		return nil, fmt.Errorf("compute available slots: %w", err)
	}

	bookedAt := make(map[int64]struct{}, len(booked))
	for _, t := range booked {
		bookedAt[t.Unix()] = struct{}{}
	}

	now := a.now()
	open := a.offered(from, startOfDay(now, a.loc))
	slots := make([]SlotAvailability, 0, len(a.catalogue))
	for _, s := range a.catalogue {
		start := s.On(from, a.loc)
		_, taken := bookedAt[start.Unix()]
		slots = append(slots, SlotAvailability{
			Time:      s,
			StartsAt:  start,
			Available: open && !taken && start.After(now),
		})
	}

	return slots, nil
}
