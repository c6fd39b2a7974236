// Package ratemath holds the stateless rate and annuity formulas of the
// amortization engine.
package ratemath

import (
	"errors"
	"fmt"

	"github.com/mcclellann/loanschedule/pkg/models"
	"github.com/shopspring/decimal"
)

// ErrInvalidNumberOfPayments is returned when an annuity is requested over a
// non-positive number of periods.
var ErrInvalidNumberOfPayments = errors.New("number of payments must be > 0")

var one = decimal.NewFromInt(1)

// PeriodicRate converts an annual nominal rate to the rate of one period of
// frequency f. A zero annual rate yields zero.
func PeriodicRate(annualRate decimal.Decimal, f models.Frequency) decimal.Decimal {
	perYear := f.PeriodsPerYear()
	if perYear == 0 || annualRate.IsZero() {
		return decimal.Zero
	}
	return annualRate.Div(decimal.NewFromInt(int64(perYear)))
}

// AnnuityPayment returns the constant payment of an increment, rounded at the
// currency precision:
//
//	no deferral:  P*r / (1 - (1+r)^-n), or P/n when r is zero
//	partially:    P*r (interest only)
//	fully:        0 (interest capitalizes)
func AnnuityPayment(annualRate decimal.Decimal, n int, principal decimal.Decimal,
	currency models.Currency, f models.Frequency, deferral models.Deferral) (decimal.Decimal, error) {
	if n <= 0 {
		return decimal.Zero, fmt.Errorf("%w: got %d", ErrInvalidNumberOfPayments, n)
	}
	rate := PeriodicRate(annualRate, f)

	var res decimal.Decimal
	switch deferral {
	case models.DeferralPartially:
		res = principal.Mul(rate)
	case models.DeferralFully:
		res = decimal.Zero
	default:
		if rate.IsZero() {
			res = principal.Div(decimal.NewFromInt(int64(n)))
		} else {
			// Same as P*r / (1 - (1+r)^-n), without a negative power.
			factor := one.Add(rate).Pow(decimal.NewFromInt(int64(n)))
			res = principal.Mul(rate).Mul(factor).Div(factor.Sub(one))
		}
	}
	return currency.Round(res), nil
}

// FirstPaymentEndBalance returns the balance left after the first payment of
// an increment starting at inc.BeginBalance.
func FirstPaymentEndBalance(inc models.Increment, currency models.Currency) decimal.Decimal {
	if inc.BeginBalance.IsZero() {
		return decimal.Zero
	}
	rate := PeriodicRate(inc.Rate, inc.PaymentFrequency)
	grown := inc.BeginBalance.Mul(one.Add(rate))
	switch inc.Deferral {
	case models.DeferralPartially:
		return inc.BeginBalance
	case models.DeferralFully:
		return currency.Round(grown)
	}
	payment := decimal.Zero
	if inc.PaymentAmount != nil {
		payment = *inc.PaymentAmount
	} else if amount, err := AnnuityPayment(inc.Rate, inc.NumberOfPayments, inc.BeginBalance,
		currency, inc.PaymentFrequency, inc.Deferral); err == nil {
		payment = amount
	}
	return currency.Round(grown.Sub(payment))
}

// BeginBalanceFromFirstPaymentEnd inverts FirstPaymentEndBalance: it returns
// the begin balance an increment must have for its first payment to leave
// inc.FirstPaymentEndBalance outstanding.
func BeginBalanceFromFirstPaymentEnd(inc models.Increment, currency models.Currency) (decimal.Decimal, error) {
	end := inc.FirstPaymentEndBalance
	if inc.Deferral == models.DeferralPartially {
		return end, nil
	}
	rate := PeriodicRate(inc.Rate, inc.PaymentFrequency)
	onePlus := one.Add(rate)
	if inc.Deferral == models.DeferralFully {
		return currency.Round(end.Div(onePlus)), nil
	}
	if inc.PaymentAmount != nil {
		return currency.Round(end.Add(*inc.PaymentAmount).Div(onePlus)), nil
	}
	if inc.NumberOfPayments <= 0 {
		return decimal.Zero, fmt.Errorf("%w: got %d", ErrInvalidNumberOfPayments, inc.NumberOfPayments)
	}
	n := decimal.NewFromInt(int64(inc.NumberOfPayments))
	// Share of the begin balance repaid by one annuity payment.
	var share decimal.Decimal
	if rate.IsZero() {
		share = one.Div(n)
	} else {
		factor := onePlus.Pow(n)
		share = rate.Mul(factor).Div(factor.Sub(one))
	}
	den := onePlus.Sub(share)
	if den.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: a single payment leaves nothing outstanding", ErrInvalidNumberOfPayments)
	}
	return currency.Round(end.Div(den)), nil
}
