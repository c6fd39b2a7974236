package amortization

import (
	"fmt"
	"sort"
	"time"

	"github.com/mcclellann/loanschedule/pkg/calendar"
	"github.com/mcclellann/loanschedule/pkg/models"
	"github.com/mcclellann/loanschedule/pkg/ratemath"
	"github.com/shopspring/decimal"
)

var (
	// Tolerated gap per month of duration between the last payment and the
	// nominal payment of the last increment.
	mismatchTolerance = decimal.NewFromFloat(0.01)
	// Tolerated gap, in currency units, between a supplied begin balance and a
	// supplied first payment end balance.
	balanceTolerance = decimal.NewFromInt(1)
)

// anchor is the date payments of non manual increments are counted from.
type anchor struct {
	date  time.Time
	shift int
}

func loanAnchor(cfg models.Config) anchor {
	if cfg.FirstPaymentDate.Equal(SynchronizedFirstPaymentDate(cfg.FundsReleaseDate, cfg.PaymentFrequency)) {
		return anchor{date: cfg.FundsReleaseDate, shift: 1}
	}
	return anchor{date: cfg.FirstPaymentDate}
}

// slot tracks whether an increment is still waiting to be pinned in the list.
type slot struct {
	inc   models.Increment
	fresh bool
}

// InsertManualIncrements pins every unnumbered manual increment of incs at
// its start date, in list order (manual increments are expected sorted by
// date). Increments dated before the seam are kept, the one right
// before it is shortened (or lengthened) to end the day before the seam, and
// the unnumbered increments that followed the seam in incs follow it.
// Increments dated after the seam are dropped: the seam replaces them.
func InsertManualIncrements(cfg models.Config, incs []models.Increment) []models.Increment {
	slots := make([]slot, len(incs))
	for i, inc := range incs {
		slots[i] = slot{inc: inc, fresh: inc.Number == 0}
	}
	for {
		anchorProvisional(cfg, slots)
		idx := -1
		for i, s := range slots {
			if s.fresh && s.inc.Manual && !s.inc.StartDate.IsZero() {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		slots = insertManual(slots, idx)
	}
	out := make([]models.Increment, len(slots))
	for i, s := range slots {
		out[i] = s.inc
	}
	return out
}

func insertManual(slots []slot, idx int) []slot {
	seam := slots[idx]
	var kept []slot
	for _, s := range slots {
		if !s.fresh && !s.inc.StartDate.IsZero() && s.inc.StartDate.Before(seam.inc.StartDate) {
			kept = append(kept, s)
		}
	}
	if len(kept) > 0 {
		prev := &kept[len(kept)-1].inc
		n, exact := calendar.DurationBetweenExact(prev.StartDate,
			calendar.AddDays(seam.inc.StartDate, -1), prev.PaymentFrequency)
		if !exact {
			n++
		}
		prev.NumberOfPayments = n
	}
	seam.fresh = false
	kept = append(kept, seam)
	for i := idx + 1; i < len(slots); i++ {
		if follower := slots[i]; follower.fresh {
			// Non manual followers are chained after the seam from now on.
			follower.fresh = follower.inc.Manual
			kept = append(kept, follower)
		}
	}
	return kept
}

// anchorProvisional dates the non manual increments the way the payment walk
// will, so seams can be placed among them.
func anchorProvisional(cfg models.Config, slots []slot) {
	a := loanAnchor(cfg)
	count := 0
	for i := range slots {
		inc := &slots[i].inc
		if inc.Manual && !inc.StartDate.IsZero() {
			if slots[i].fresh {
				continue
			}
			a = anchor{date: inc.StartDate}
			count = 0
		} else {
			inc.StartDate = calendar.AddDuration(a.date, inc.PaymentFrequency, count+a.shift, true)
		}
		count += inc.NumberOfPayments
	}
}

// BuildSchedule walks the increments in order and produces the schedule.
// The returned warnings never invalidate the schedule.
func BuildSchedule(cfg models.Config, incs []models.Increment) (models.Schedule, []models.Warning, error) {
	if err := ValidateConfig(cfg); err != nil {
		return models.Schedule{}, nil, err
	}
	incs = models.CloneIncrements(incs)
	if err := sizePlanned(cfg, incs); err != nil {
		return models.Schedule{}, nil, err
	}
	incs = InsertManualIncrements(cfg, incs)
	if err := validateIncrements(incs, 0); err != nil {
		return models.Schedule{}, nil, err
	}
	if err := CheckIncrements(cfg, incs); err != nil {
		return models.Schedule{}, nil, err
	}
	schedule, err := walk(cfg, incs)
	if err != nil {
		return models.Schedule{}, nil, err
	}
	setEarlyRepayments(schedule, cfg.Currency)
	return schedule, consistencyWarnings(schedule), nil
}

// sizePlanned fixes the payment amount of the numbered increments leading
// incs as if no seam had been pinned, so shortening one of them for a seam
// keeps the annuity it was planned with.
func sizePlanned(cfg models.Config, incs []models.Increment) error {
	k := 0
	for k < len(incs) && incs[k].Number != 0 {
		k++
	}
	if k == 0 || k == len(incs) {
		return nil
	}
	sized, err := walk(cfg, models.CloneIncrements(incs[:k]))
	if err != nil {
		return err
	}
	for i := 0; i < k; i++ {
		if incs[i].PaymentAmount == nil && sized.Increments[i].PaymentAmount != nil {
			amount := *sized.Increments[i].PaymentAmount
			incs[i].PaymentAmount = &amount
		}
	}
	return nil
}

// walk dates, balances and expands incs, seams already pinned.
func walk(cfg models.Config, incs []models.Increment) (models.Schedule, error) {
	currency := cfg.Currency
	payments := []models.Payment{{
		Number:             0,
		Kind:               models.PaymentReleasingFunds,
		StartDate:          cfg.FundsReleaseDate,
		BeginBalance:       cfg.Amount,
		Amount:             decimal.Zero,
		Principal:          decimal.Zero,
		Interest:           decimal.Zero,
		OutstandingBalance: cfg.Amount,
	}}

	a := loanAnchor(cfg)
	n := 0
	fromDate := cfg.FirstPaymentDate
	balance := cfg.Amount
	for i := range incs {
		inc := &incs[i]
		inc.Number = i + 1
		inc.EndDate = time.Time{}
		inc.EarlyRepayment = decimal.Zero
		if inc.Manual && !inc.StartDate.IsZero() {
			// A seam restarts the date count.
			fromDate = inc.StartDate
			a = anchor{date: inc.StartDate}
			n = 0
		} else {
			inc.StartDate = fromDate
		}

		b, err := beginBalance(*inc, balance, currency)
		if err != nil {
			return models.Schedule{}, configError("begin_balance", inc.Number, err, "")
		}
		balance = b
		inc.BeginBalance = b

		if !inc.BeginBalance.IsZero() && inc.PaymentAmount == nil {
			amount, err := ratemath.AnnuityPayment(inc.Rate, inc.NumberOfPayments, inc.BeginBalance,
				currency, inc.PaymentFrequency, inc.Deferral)
			if err != nil {
				return models.Schedule{}, configError("number_of_payments", inc.Number, err, "")
			}
			inc.PaymentAmount = &amount
		}
		if balance.IsZero() {
			// Paid off: the increment stays for the record, without cash flow.
			continue
		}
		last := i == len(incs)-1
		for j := 1; j <= inc.NumberOfPayments; j++ {
			n++
			p := newPayment(fromDate, len(payments), balance, *inc, currency,
				last && j == inc.NumberOfPayments)
			payments = append(payments, p)
			balance = p.OutstandingBalance
			if inc.Manual {
				fromDate = calendar.AddDuration(inc.StartDate, inc.PaymentFrequency, j, true)
			} else {
				fromDate = calendar.AddDuration(a.date, inc.PaymentFrequency, n+a.shift, true)
			}
			if j == inc.NumberOfPayments {
				inc.EndDate = p.StartDate
			}
		}
	}
	return models.Schedule{Increments: incs, Payments: payments}, nil
}

// beginBalance resolves the begin balance of an increment. Manual increments
// are authoritative: their own begin balance, or the one implied by their
// first payment end balance, replaces the running balance.
func beginBalance(inc models.Increment, running decimal.Decimal, currency models.Currency) (decimal.Decimal, error) {
	if !inc.Manual {
		return running, nil
	}
	hasBegin := !inc.BeginBalance.IsZero()
	hasEnd := !inc.FirstPaymentEndBalance.IsZero()
	switch {
	case hasBegin && hasEnd:
		computed := ratemath.FirstPaymentEndBalance(inc, currency)
		if computed.Sub(inc.FirstPaymentEndBalance).Abs().GreaterThan(balanceTolerance) {
			return decimal.Zero, fmt.Errorf("%w: begin %s, end %s, computed end %s", ErrIncoherentBalances,
				inc.BeginBalance, inc.FirstPaymentEndBalance, computed)
		}
		return inc.BeginBalance, nil
	case hasBegin:
		return inc.BeginBalance, nil
	case hasEnd:
		return ratemath.BeginBalanceFromFirstPaymentEnd(inc, currency)
	}
	return running, nil
}

func newPayment(at time.Time, number int, begin decimal.Decimal, inc models.Increment,
	currency models.Currency, isLast bool) models.Payment {
	rate := ratemath.PeriodicRate(inc.Rate, inc.PaymentFrequency)
	p := models.Payment{
		Number:       number,
		Kind:         models.PaymentScheduled,
		StartDate:    at,
		BeginBalance: begin,
		Amount:       decimal.Zero,
		Interest:     decimal.Zero,
	}
	if inc.PaymentAmount != nil {
		p.Amount = *inc.PaymentAmount
	}
	if !rate.IsZero() {
		p.Interest = currency.Round(begin.Mul(rate))
	}
	switch inc.Deferral {
	case models.DeferralPartially:
		p.Kind = models.PaymentDeferred
		p.Principal = decimal.Zero
		p.Interest = p.Amount
	case models.DeferralFully:
		p.Kind = models.PaymentDeferred
		p.Principal = p.Interest.Neg()
	default:
		if begin.GreaterThan(p.Amount) && !isLast {
			p.Principal = p.Amount.Sub(p.Interest)
		} else {
			// Closes the loan and absorbs the rounding residue.
			p.Principal = begin
			p.Amount = p.Principal.Add(p.Interest)
		}
	}
	p.OutstandingBalance = begin.Sub(p.Principal)
	return p
}

// setEarlyRepayments records, on every manual increment but the first, the
// gap between the balance the schedule had reached and the balance the seam
// restarts from.
func setEarlyRepayments(s models.Schedule, currency models.Currency) {
	threshold := decimal.New(1, 2-currency.Digits)
	for i := 1; i < len(s.Increments); i++ {
		inc := &s.Increments[i]
		if !inc.Manual {
			continue
		}
		prev, ok := PaymentAt(s.Payments, calendar.AddDays(inc.StartDate, -1))
		if !ok {
			continue
		}
		early := prev.OutstandingBalance.Sub(inc.BeginBalance)
		if !early.IsZero() && early.Abs().GreaterThan(threshold) {
			inc.EarlyRepayment = currency.Round(early)
		}
	}
}

func consistencyWarnings(s models.Schedule) []models.Warning {
	if len(s.Payments) < 2 || len(s.Increments) == 0 {
		return nil
	}
	lastInc := s.Increments[len(s.Increments)-1]
	nominal := decimal.Zero
	if lastInc.PaymentAmount != nil {
		nominal = *lastInc.PaymentAmount
	}
	actual := s.Payments[len(s.Payments)-1].Amount
	limit := mismatchTolerance.Mul(decimal.NewFromInt(int64(Duration(s.Increments))))
	if actual.Sub(nominal).Abs().GreaterThan(limit) {
		return []models.Warning{{
			Code:      models.WarningPaymentAmountMismatch,
			Increment: lastInc.Number,
			Message: fmt.Sprintf("last payment %s differs from the increment payment amount %s by more than %s",
				actual.StringFixed(2), nominal.StringFixed(2), limit.StringFixed(2)),
		}}
	}
	return nil
}

// Duration returns the number of months covered by incs.
func Duration(incs []models.Increment) int {
	months := 0
	for _, inc := range incs {
		months += inc.Months()
	}
	return months
}

// PaymentAt returns the latest payment dated on or before at. payments must
// be sorted by start date.
func PaymentAt(payments []models.Payment, at time.Time) (models.Payment, bool) {
	idx := sort.Search(len(payments), func(i int) bool {
		return payments[i].StartDate.After(at)
	})
	if idx == 0 {
		return models.Payment{}, false
	}
	return payments[idx-1], true
}

// IncrementAt returns the latest increment starting on or before at.
func IncrementAt(incs []models.Increment, at time.Time) (models.Increment, bool) {
	idx := sort.Search(len(incs), func(i int) bool {
		return incs[i].StartDate.After(at)
	})
	if idx == 0 {
		return models.Increment{}, false
	}
	return incs[idx-1], true
}
