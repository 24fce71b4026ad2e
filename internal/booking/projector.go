package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Bucket string

const (
	BucketUpcoming  Bucket = "upcoming"
	BucketCompleted Bucket = "completed"
)

func ParseBucket(s string) (Bucket, error) {
	switch b := Bucket(strings.ToLower(strings.TrimSpace(s))); b {
	case BucketUpcoming, BucketCompleted:
		return b, nil
	case "":
		return BucketUpcoming, nil
	default:
		return "", validationError(fmt.Sprintf("unknown bucket %q", s))
	}
}

// Projector reads a patient's consultations back for display.
type Projector struct {
	repo Repository
	now  func() time.Time
}

func NewProjector(repo Repository) *Projector {
	return &Projector{repo: repo, now: time.Now}
}

func (p *Projector) WithClock(now func() time.Time) *Projector {
	p.now = now
	return p
}

// ListBookings returns upcoming bookings soonest first, or completed bookings
// most recent first.
func (p *Projector) ListBookings(ctx context.Context, patientID uuid.UUID, bucket Bucket) ([]BookingView, error) {
	if patientID == uuid.Nil {
		return nil, validationError("patient is required")
	}

	now := p.now()

	var (
		views []BookingView
		err   error
	)
	switch bucket {
	case BucketUpcoming:
		views, err = p.repo.ListUpcoming(ctx, patientID, now)
	case BucketCompleted:
		views, err = p.repo.ListCompleted(ctx, patientID, now)
	default:
		return nil, validationError(fmt.Sprintf("unknown bucket %q", bucket))
	}
	if err != nil {
		return nil, fmt.Errorf("list %s bookings: %w", bucket, err)
	}

	for i := range views {
		v := &views[i]
		switch {
		case bucket == BucketCompleted && v.Status == StatusScheduled:
			v.Status = StatusCompleted
		case bucket == BucketUpcoming && v.Status == StatusPendingPayment:
			v.PaymentRequired = true
		}
	}

	return views, nil
}
