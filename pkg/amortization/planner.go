/*
Package amortization turns a loan configuration into a schedule of payments.

The work happens in three steps, all pure:

  - PlanIncrements builds the ordered increment list for the loan kind,
    deferral and duration, keeping caller supplied increments where the kind
    needs them (graduated steps, manual seams).
  - CheckIncrements rejects increments dated before the first payment.
  - BuildSchedule pins manual seams, dates and balances every increment, sizes
    missing payment amounts and expands increments into payments.

Every fatal problem is reported as a *ConfigError before anything is built.
*/
package amortization

import (
	"fmt"
	"time"

	"github.com/mcclellann/loanschedule/pkg/calendar"
	"github.com/mcclellann/loanschedule/pkg/models"
)

// ValidateConfig checks the loan level configuration.
func ValidateConfig(cfg models.Config) error {
	if !cfg.Kind.Valid() {
		return configError("kind", 0, ErrUnknownKind, string(cfg.Kind))
	}
	if !cfg.PaymentFrequency.Valid() {
		return configError("payment_frequency", 0, ErrUnknownFrequency, string(cfg.PaymentFrequency))
	}
	if !cfg.Deferral.Valid() {
		return configError("deferral", 0, ErrUnknownDeferral, string(cfg.Deferral))
	}
	if !cfg.Amount.IsPositive() {
		return configError("amount", 0, ErrInvalidAmount, cfg.Amount.String())
	}
	if cfg.Kind.RequiresRate() && (cfg.Rate == nil || !cfg.Rate.IsPositive()) {
		return configError("rate", 0, ErrMissingRate, string(cfg.Kind))
	}
	if cfg.FundsReleaseDate.IsZero() || cfg.FirstPaymentDate.IsZero() {
		return configError("first_payment_date", 0, ErrMissingDates, "")
	}
	if cfg.FirstPaymentDate.Before(cfg.FundsReleaseDate) {
		return configError("first_payment_date", 0, ErrFirstPaymentBeforeRelease,
			cfg.FirstPaymentDate.Format(time.DateOnly))
	}
	if cfg.Kind != models.KindGraduated && cfg.Duration <= 0 {
		return configError("duration", 0, ErrInvalidDuration, fmt.Sprint(cfg.Duration))
	}
	if cfg.Deferral != models.DeferralNone && cfg.DeferralDuration <= 0 &&
		(cfg.Kind == models.KindFixedRate || cfg.Kind == models.KindInterestFree) {
		return configError("deferral_duration", 0, ErrMissingDeferralDuration, string(cfg.Deferral))
	}
	return nil
}

// Periods converts the loan duration (months) into periods at the loan
// payment frequency.
func Periods(cfg models.Config) (int, error) {
	per := cfg.PaymentFrequency.MonthsPerPeriod()
	if per == 0 {
		return 0, configError("payment_frequency", 0, ErrUnknownFrequency, string(cfg.PaymentFrequency))
	}
	if cfg.Duration%per != 0 {
		return 0, configError("duration", 0, ErrFractionalDuration,
			fmt.Sprintf("%d months at %s frequency", cfg.Duration, cfg.PaymentFrequency))
	}
	return cfg.Duration / per, nil
}

// PlanIncrements returns the complete increment list of a loan.
//
// When the first existing increment is manual and starts on the first payment
// date, or has no date yet, the list is fully user defined and is returned as
// is with its first increment dated on the first payment. Otherwise the list
// is generated from the configuration; for graduated loans the existing non
// manual increments are the hand built steps and are carried over, except a
// leading deferral step when the configuration regenerates one. Manual
// increments of existing, and everything following the first of them, are
// appended unnumbered: they are seams BuildSchedule pins into the planned list.
func PlanIncrements(cfg models.Config, existing []models.Increment) ([]models.Increment, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if fullyManual(cfg, existing) {
		out := models.CloneIncrements(existing)
		if out[0].StartDate.IsZero() {
			out[0].StartDate = cfg.FirstPaymentDate
		}
		for i := range out {
			out[i].Number = 0
			if out[i].PaymentFrequency == "" {
				out[i].PaymentFrequency = cfg.PaymentFrequency
			}
		}
		return out, validateIncrements(out, 0)
	}

	steps, seams := splitAtFirstManual(existing)

	var periods int
	if cfg.Kind != models.KindGraduated {
		p, err := Periods(cfg)
		if err != nil {
			return nil, err
		}
		periods = p
	}

	var planned []models.Increment
	switch cfg.Kind {
	case models.KindGraduated:
		planned = planGraduated(cfg, steps)
	case models.KindIntermediate, models.KindBalloon:
		planned, periods = planDeferral(cfg, periods)
		// Interest only until the last period, which pays the balance off.
		planned = append(planned, newIncrement(cfg, periods-1, models.DeferralPartially))
		periods = 1
	case models.KindFixedRate, models.KindInterestFree:
		planned, periods = planDeferral(cfg, periods)
	default:
		return nil, configError("kind", 0, ErrUnknownKind, string(cfg.Kind))
	}
	if cfg.Kind != models.KindGraduated {
		if periods <= 0 {
			return nil, configError("deferral_duration", 0, ErrDeferralTooLong,
				fmt.Sprintf("%d periods deferred", cfg.DeferralDuration))
		}
		planned = append(planned, newIncrement(cfg, periods, models.DeferralNone))
	}
	if len(planned) == 0 {
		return nil, configError("increments", 0, ErrNoIncrement, "")
	}
	for i := range planned {
		planned[i].Number = i + 1
	}
	if err := validateIncrements(planned, 0); err != nil {
		return nil, err
	}

	tail := models.CloneIncrements(seams)
	for i := range tail {
		tail[i].Number = 0
		if tail[i].PaymentFrequency == "" {
			tail[i].PaymentFrequency = cfg.PaymentFrequency
		}
	}
	if err := validateIncrements(tail, len(planned)); err != nil {
		return nil, err
	}
	return append(planned, tail...), nil
}

func fullyManual(cfg models.Config, existing []models.Increment) bool {
	if len(existing) == 0 || !existing[0].Manual {
		return false
	}
	start := existing[0].StartDate
	return start.IsZero() || !start.After(cfg.FirstPaymentDate)
}

func splitAtFirstManual(existing []models.Increment) (steps, seams []models.Increment) {
	for i, inc := range existing {
		if inc.Manual {
			return existing[:i], existing[i:]
		}
	}
	return existing, nil
}

// planDeferral returns the leading deferral increment, if any, and the
// periods left to plan.
func planDeferral(cfg models.Config, periods int) ([]models.Increment, int) {
	if cfg.Deferral == models.DeferralNone || cfg.DeferralDuration <= 0 {
		return nil, periods
	}
	return []models.Increment{newIncrement(cfg, cfg.DeferralDuration, cfg.Deferral)},
		periods - cfg.DeferralDuration
}

func planGraduated(cfg models.Config, steps []models.Increment) []models.Increment {
	planned, _ := planDeferral(cfg, 0)
	regenerated := len(planned) > 0
	for i, step := range steps {
		if i == 0 && regenerated && step.Deferral != models.DeferralNone {
			continue
		}
		inc := models.Increment{
			NumberOfPayments: step.NumberOfPayments,
			Rate:             step.Rate,
			PaymentFrequency: step.PaymentFrequency,
			Deferral:         step.Deferral,
		}
		if inc.PaymentFrequency == "" {
			inc.PaymentFrequency = cfg.PaymentFrequency
		}
		if step.PaymentAmount != nil {
			amount := *step.PaymentAmount
			inc.PaymentAmount = &amount
		}
		planned = append(planned, inc)
	}
	return planned
}

func newIncrement(cfg models.Config, n int, deferral models.Deferral) models.Increment {
	return models.Increment{
		NumberOfPayments: n,
		PaymentFrequency: cfg.PaymentFrequency,
		Rate:             cfg.AnnualRate(),
		Deferral:         deferral,
	}
}

// validateIncrements checks per increment invariants. offset shifts the
// reported increment position.
func validateIncrements(incs []models.Increment, offset int) error {
	for i, inc := range incs {
		pos := offset + i + 1
		if inc.NumberOfPayments <= 0 {
			return configError("number_of_payments", pos, ErrInvalidNumberOfPayments,
				fmt.Sprint(inc.NumberOfPayments))
		}
		if !inc.PaymentFrequency.Valid() {
			return configError("payment_frequency", pos, ErrUnknownFrequency, string(inc.PaymentFrequency))
		}
		if !inc.Deferral.Valid() {
			return configError("deferral", pos, ErrUnknownDeferral, string(inc.Deferral))
		}
		if inc.Manual && inc.StartDate.IsZero() {
			return configError("start_date", pos, ErrManualIncrementWithoutDate, "")
		}
	}
	return nil
}

// CheckIncrements rejects any dated increment starting before the first
// payment of the loan.
func CheckIncrements(cfg models.Config, incs []models.Increment) error {
	for i, inc := range incs {
		if !inc.StartDate.IsZero() && inc.StartDate.Before(cfg.FirstPaymentDate) {
			return configError("start_date", i+1, ErrIncrementBeforeFirstPayment,
				inc.StartDate.Format(time.DateOnly))
		}
	}
	return nil
}

// SynchronizedFirstPaymentDate returns the first payment date that falls one
// period after the funds release.
func SynchronizedFirstPaymentDate(fundsRelease time.Time, f models.Frequency) time.Time {
	if fundsRelease.IsZero() || !f.Valid() {
		return time.Time{}
	}
	return calendar.AddDuration(fundsRelease, f, 1, true)
}
