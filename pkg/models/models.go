package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the shape of a loan.
type Kind string

const (
	KindFixedRate    Kind = "fixed_rate"
	KindInterestFree Kind = "interest_free"
	KindGraduated    Kind = "graduated"
	KindIntermediate Kind = "intermediate"
	KindBalloon      Kind = "balloon"
)

// Valid reports whether k is one of the supported loan kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindFixedRate, KindInterestFree, KindGraduated, KindIntermediate, KindBalloon:
		return true
	}
	return false
}

// RequiresRate reports whether a loan of this kind cannot be calculated without an annual rate.
func (k Kind) RequiresRate() bool {
	return k == KindFixedRate || k == KindIntermediate || k == KindBalloon
}

// Deferral is the principal repayment regime of an increment.
// The empty value means no deferral.
type Deferral string

const (
	DeferralNone      Deferral = ""
	DeferralPartially Deferral = "partially"
	DeferralFully     Deferral = "fully"
)

// Valid reports whether d is a supported deferral, none included.
func (d Deferral) Valid() bool {
	return d == DeferralNone || d == DeferralPartially || d == DeferralFully
}

// Frequency is the payment frequency of a loan or increment.
type Frequency string

const (
	FrequencyMonth    Frequency = "month"
	FrequencyQuarter  Frequency = "quarter"
	FrequencyHalfYear Frequency = "half_year"
	FrequencyYear     Frequency = "year"
)

// MonthsPerPeriod returns the number of months covered by one period, or 0
// for an unknown frequency.
func (f Frequency) MonthsPerPeriod() int {
	switch f {
	case FrequencyMonth:
		return 1
	case FrequencyQuarter:
		return 3
	case FrequencyHalfYear:
		return 6
	case FrequencyYear:
		return 12
	}
	return 0
}

// PeriodsPerYear returns how many periods of this frequency fit in a year.
func (f Frequency) PeriodsPerYear() int {
	if m := f.MonthsPerPeriod(); m > 0 {
		return 12 / m
	}
	return 0
}

// Valid reports whether f is a known payment frequency.
func (f Frequency) Valid() bool { return f.MonthsPerPeriod() > 0 }

// State is the lifecycle state of a loan.
type State string

const (
	StateDraft      State = "draft"
	StateCalculated State = "calculated"
)

// PaymentKind tells how a payment row came about.
type PaymentKind string

const (
	PaymentReleasingFunds PaymentKind = "releasing_funds"
	PaymentScheduled      PaymentKind = "scheduled"
	PaymentEarly          PaymentKind = "early"
	PaymentDeferred       PaymentKind = "deferred"
)

// DurationUnitMonth is the only unit durations are stored in.
const (
	DurationUnitMonth = "month"
	DurationUnitYear  = "year"
)

// Currency carries the rounding precision applied to every amount of a loan.
type Currency struct {
	Code   string `json:"code"`
	Digits int32  `json:"digits"`
}

// Round rounds d half-to-even at the currency precision.
func (c Currency) Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(c.Digits)
}

// Unit returns the smallest representable amount of the currency.
func (c Currency) Unit() decimal.Decimal {
	return decimal.New(1, -c.Digits)
}

// Config is the user-editable configuration of a loan. Any change to it
// invalidates a calculated schedule.
type Config struct {
	Kind             Kind             `json:"kind"`
	Currency         Currency         `json:"currency"`
	Amount           decimal.Decimal  `json:"amount"`
	Rate             *decimal.Decimal `json:"rate,omitempty"` // Annual nominal rate, nil for interest free loans
	PaymentFrequency Frequency        `json:"payment_frequency"`
	FundsReleaseDate time.Time        `json:"funds_release_date"`
	FirstPaymentDate time.Time        `json:"first_payment_date"`
	Duration         int              `json:"duration"` // Months, deferral included
	DurationUnit     string           `json:"duration_unit"`
	Deferral         Deferral         `json:"deferral,omitempty"`
	DeferralDuration int              `json:"deferral_duration,omitempty"` // Periods at PaymentFrequency
}

// AnnualRate returns the rate applied to generated increments. Interest free
// loans always get a zero rate, whatever was stored.
func (c Config) AnnualRate() decimal.Decimal {
	if c.Kind == KindInterestFree || c.Rate == nil {
		return decimal.Zero
	}
	return *c.Rate
}

// Increment is a contiguous sub-period of a loan with homogeneous terms.
type Increment struct {
	Number                 int              `json:"number"`
	StartDate              time.Time        `json:"start_date"`
	EndDate                time.Time        `json:"end_date"`
	NumberOfPayments       int              `json:"number_of_payments"`
	PaymentFrequency       Frequency        `json:"payment_frequency"`
	Rate                   decimal.Decimal  `json:"rate"`
	Deferral               Deferral         `json:"deferral,omitempty"`
	BeginBalance           decimal.Decimal  `json:"begin_balance"`
	FirstPaymentEndBalance decimal.Decimal  `json:"first_payment_end_balance"`
	PaymentAmount          *decimal.Decimal `json:"payment_amount,omitempty"`
	Manual                 bool             `json:"manual"`
	EarlyRepayment         decimal.Decimal  `json:"early_repayment"`
}

// Months returns the number of months covered by the increment.
func (i Increment) Months() int {
	return i.NumberOfPayments * i.PaymentFrequency.MonthsPerPeriod()
}

// Payment is one row of the amortization schedule.
type Payment struct {
	Number             int             `json:"number"`
	Kind               PaymentKind     `json:"kind"`
	StartDate          time.Time       `json:"start_date"`
	BeginBalance       decimal.Decimal `json:"begin_balance"`
	Amount             decimal.Decimal `json:"amount"`
	Principal          decimal.Decimal `json:"principal"`
	Interest           decimal.Decimal `json:"interest"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
}

// Schedule is the result of a calculation: the resolved increments and the
// flat payment list, releasing funds row first.
type Schedule struct {
	Increments []Increment `json:"increments"`
	Payments   []Payment   `json:"payments"`
}

// Clone returns a deep copy so callers never alias the owner's slices.
func (s Schedule) Clone() Schedule {
	return Schedule{
		Increments: CloneIncrements(s.Increments),
		Payments:   append([]Payment(nil), s.Payments...),
	}
}

// IsEmpty reports whether the schedule holds no payment.
func (s Schedule) IsEmpty() bool { return len(s.Payments) == 0 }

// CloneIncrements copies increments, including their payment amount pointers.
func CloneIncrements(in []Increment) []Increment {
	if in == nil {
		return nil
	}
	out := make([]Increment, len(in))
	for i, inc := range in {
		if inc.PaymentAmount != nil {
			amount := *inc.PaymentAmount
			inc.PaymentAmount = &amount
		}
		out[i] = inc
	}
	return out
}

// Warning is a consistency problem found on a calculated schedule. It never
// prevents the schedule from being used.
type Warning struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Increment int    `json:"increment,omitempty"`
}

const WarningPaymentAmountMismatch = "payment_amount_mismatch"
