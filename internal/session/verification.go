package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrVerificationIncomplete = errors.New("please fill in all required fields")

// VerificationRequest is the intake form a new patient submits before using
// the app. Submitting it unlocks the main app; staff review it afterwards.
type VerificationRequest struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	FullName         string
	DateOfBirth      time.Time
	Gender           string
	Email            *string
	Phone            string
	Address          *string
	PreferredDate    *time.Time
	PreferredTime    *string
	TimeZone         *string
	Allergies        *string
	HealthIssue      string
	HerbalHistory    *string
	PrivacyAgreement bool
	Status           string
	CreatedAt        time.Time
}

// Validate checks the required fields.
func (r VerificationRequest) Validate() error {
	var missing []string
	if r.UserID == uuid.Nil {
		missing = append(missing, "user")
	}
	if strings.TrimSpace(r.FullName) == "" {
		missing = append(missing, "full name")
	}
	if r.DateOfBirth.IsZero() {
		missing = append(missing, "date of birth")
	}
	if strings.TrimSpace(r.Gender) == "" {
		missing = append(missing, "gender")
	}
	if strings.TrimSpace(r.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(r.HealthIssue) == "" {
		missing = append(missing, "health issue")
	}
	if !r.PrivacyAgreement {
		missing = append(missing, "privacy agreement")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrVerificationIncomplete, strings.Join(missing, ", "))
	}
	return nil
}
