package booking

import (
	"errors"
	"fmt"

	"github.com/hackgods/herbal-consult-booking/internal/pesapal"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrPersistence          = errors.New("persistence failure")
	ErrNotFound             = errors.New("not found")
	ErrSlotTaken            = errors.New("slot was just taken, please choose another time")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrPaymentInit          = pesapal.ErrPaymentInit
	ErrPaymentStatusUnknown = pesapal.ErrPaymentStatusUnknown
)

var (
	ErrBookingNotFound    = fmt.Errorf("booking %w", ErrNotFound)
	ErrSpecialistNotFound = fmt.Errorf("specialist %w", ErrNotFound)
)

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
