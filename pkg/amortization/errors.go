package amortization

import (
	"errors"
	"fmt"

	"github.com/mcclellann/loanschedule/pkg/ratemath"
)

// ErrConfiguration matches every configuration error with errors.Is. A
// configuration error is fatal: nothing was calculated and retrying with the
// same input fails the same way.
var ErrConfiguration = errors.New("invalid loan configuration")

var (
	ErrInvalidAmount               = errors.New("amount must be > 0")
	ErrUnknownKind                 = errors.New("unknown loan kind")
	ErrUnknownFrequency            = errors.New("unknown payment frequency")
	ErrUnknownDeferral             = errors.New("unknown deferral")
	ErrMissingRate                 = errors.New("rate is required and must be > 0 for this kind of loan")
	ErrMissingDates                = errors.New("funds release date and first payment date are required")
	ErrFirstPaymentBeforeRelease   = errors.New("first payment date is before funds release date")
	ErrInvalidDuration             = errors.New("duration must be > 0")
	ErrFractionalDuration          = errors.New("duration is not a whole number of payment periods")
	ErrMissingDeferralDuration     = errors.New("deferral duration is required when a deferral is set")
	ErrDeferralTooLong             = errors.New("deferral duration leaves no repayment period")
	ErrNoIncrement                 = errors.New("graduated loan needs at least one increment")
	ErrInvalidNumberOfPayments     = ratemath.ErrInvalidNumberOfPayments
	ErrIncrementBeforeFirstPayment = errors.New("increment start date cannot be before first payment date")
	ErrManualIncrementWithoutDate  = errors.New("manual increment requires a start date")
	ErrIncoherentBalances          = errors.New("incoherent begin balance and first payment end balance")
)

// ConfigError describes which part of the configuration is wrong.
// Increment is the 1-based position of the faulty increment, 0 when the error
// is about the loan itself.
type ConfigError struct {
	Field     string
	Increment int
	Reason    string
	Err       error
}

func (e *ConfigError) Error() string {
	msg := ErrConfiguration.Error() + ": "
	if e.Increment > 0 {
		msg += fmt.Sprintf("increment %d: ", e.Increment)
	}
	msg += e.Field + ": " + e.Err.Error()
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

func configError(field string, increment int, err error, reason string) *ConfigError {
	return &ConfigError{Field: field, Increment: increment, Reason: reason, Err: err}
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
