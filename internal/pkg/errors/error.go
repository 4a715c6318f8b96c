package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized access")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("conflict: resource already exists")
	ErrInternal       = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrDuplicateEntry = errors.New("duplicate entry")
)

// Ledger and payment errors
var (
	// ErrTrialIneligible means the email behind the account already consumed its trial.
	ErrTrialIneligible = errors.New("trial already used for this email")
	// ErrInvalidSignature is returned when a gateway notification fails signature verification.
	ErrInvalidSignature = errors.New("invalid notification signature")
	// ErrUnknownOrder is returned when a notification references no known pending payment.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrAlreadySubscribed rejects a same-tier purchase with no pending downgrade.
	ErrAlreadySubscribed = errors.New("already subscribed to this tier")
	// ErrInvalidTierChange rejects transitions the tier state machine does not allow.
	ErrInvalidTierChange = errors.New("invalid tier change")
	// ErrVoucherInvalid means the voucher code cannot be applied.
	ErrVoucherInvalid = errors.New("voucher cannot be applied")
)

// InsufficientCreditsError carries the amounts the UI needs for an upgrade prompt.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
	Reason    string
}

func (e *InsufficientCreditsError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "insufficient credits"
	}
	return fmt.Sprintf("%s: %d credits required, %d available", reason, e.Required, e.Available)
}

// GatewayUnavailableError is a transient failure calling the payment gateway.
// Retrying the checkout reuses OrderID.
type GatewayUnavailableError struct {
	OrderID string
	Err     error
}

func (e *GatewayUnavailableError) Error() string {
	return fmt.Sprintf("payment gateway unavailable for order %s: %v", e.OrderID, e.Err)
}

func (e *GatewayUnavailableError) Unwrap() error {
	return e.Err
}

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Unwrap extracts the underlying wrapped error.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
