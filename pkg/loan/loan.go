// Package loan holds the Loan aggregate: its configuration, the increments
// supplied by the user and the latest calculated schedule.
package loan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/mcclellann/loanschedule/pkg/amortization"
	"github.com/mcclellann/loanschedule/pkg/calendar"
	"github.com/mcclellann/loanschedule/pkg/models"
	"github.com/shopspring/decimal"
)

// ErrNotCalculated is returned by queries that need a schedule.
var ErrNotCalculated = errors.New("loan is not calculated")

// Loan is the aggregate root of the amortization engine. It is not safe for
// concurrent use.
type Loan struct {
	ID     uuid.UUID
	Number string
	Config models.Config
	// Increments supplied by the user: graduated steps and manual seams.
	// They survive Draft; the planned increments live on the schedule.
	Increments []models.Increment
	CreatedAt  time.Time
	UpdatedAt  time.Time

	lifecycle *fsm.FSM
	schedule  models.Schedule
}

// New returns a draft loan for cfg.
func New(number string, cfg models.Config) *Loan {
	now := time.Now()
	return &Loan{
		ID:        uuid.New(),
		Number:    number,
		Config:    Normalize(cfg),
		CreatedAt: now,
		UpdatedAt: now,
		lifecycle: newLifecycle(models.StateDraft),
	}
}

// Restore rebuilds a loan read back from storage.
func Restore(id uuid.UUID, number string, cfg models.Config, increments []models.Increment,
	state models.State, schedule models.Schedule, createdAt, updatedAt time.Time) *Loan {
	l := &Loan{
		ID:         id,
		Number:     number,
		Config:     cfg,
		Increments: models.CloneIncrements(increments),
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
		schedule:   schedule.Clone(),
	}
	if schedule.IsEmpty() {
		state = models.StateDraft
	}
	l.lifecycle = newLifecycle(state)
	return l
}

// Normalize fills derived configuration fields: durations in years become
// months, interest free loans get a zero rate, a missing first payment date
// is synchronised one period after the funds release and dates lose their
// time of day.
func Normalize(cfg models.Config) models.Config {
	if cfg.DurationUnit == models.DurationUnitYear {
		cfg.Duration *= 12
	}
	cfg.DurationUnit = models.DurationUnitMonth
	if cfg.Kind == models.KindInterestFree {
		zero := decimal.Zero
		cfg.Rate = &zero
	}
	cfg.FundsReleaseDate = calendar.Truncate(cfg.FundsReleaseDate)
	cfg.FirstPaymentDate = calendar.Truncate(cfg.FirstPaymentDate)
	if cfg.FirstPaymentDate.IsZero() {
		cfg.FirstPaymentDate = amortization.SynchronizedFirstPaymentDate(cfg.FundsReleaseDate, cfg.PaymentFrequency)
	}
	if cfg.Deferral == models.DeferralNone {
		cfg.DeferralDuration = 0
	}
	return cfg
}

// State returns the lifecycle state.
func (l *Loan) State() models.State { return models.State(l.lifecycle.Current()) }

// Schedule returns a copy of the latest calculated schedule.
func (l *Loan) Schedule() models.Schedule { return l.schedule.Clone() }

// Payments returns a copy of the calculated payments, releasing funds first.
func (l *Loan) Payments() []models.Payment { return l.Schedule().Payments }

// Reconfigure replaces the configuration. The schedule is dropped and the
// loan goes back to draft; nothing is recalculated until Calculate.
func (l *Loan) Reconfigure(cfg models.Config) *Loan {
	l.Config = Normalize(cfg)
	l.invalidate()
	return l
}

// SetIncrements replaces the user supplied increments and goes back to draft.
func (l *Loan) SetIncrements(incs []models.Increment) *Loan {
	l.Increments = models.CloneIncrements(incs)
	l.invalidate()
	return l
}

// AddManualIncrement pins a seam at inc.StartDate and goes back to draft.
func (l *Loan) AddManualIncrement(inc models.Increment) error {
	if inc.StartDate.IsZero() {
		return fmt.Errorf("%w: manual increment requires a start date", amortization.ErrConfiguration)
	}
	inc.Manual = true
	inc.Number = 0
	inc.StartDate = calendar.Truncate(inc.StartDate)
	if inc.PaymentFrequency == "" {
		inc.PaymentFrequency = l.Config.PaymentFrequency
	}
	l.Increments = sortManual(append(models.CloneIncrements(l.Increments), inc))
	l.invalidate()
	return nil
}

// sortManual orders the manual increments by start date, after the hand
// built steps which keep their order.
func sortManual(incs []models.Increment) []models.Increment {
	sort.SliceStable(incs, func(i, j int) bool {
		a, b := incs[i], incs[j]
		if a.Manual != b.Manual {
			return !a.Manual
		}
		return a.Manual && a.StartDate.Before(b.StartDate)
	})
	return incs
}

func (l *Loan) invalidate() {
	l.schedule = models.Schedule{}
	l.lifecycle.SetState(string(models.StateDraft))
	l.UpdatedAt = time.Now()
}

// Calculate plans the increments, builds the schedule and moves the loan to
// calculated. On error the loan is left untouched.
func (l *Loan) Calculate(ctx context.Context) (models.Schedule, []models.Warning, error) {
	if !l.CanCalculate() {
		return models.Schedule{}, nil, fmt.Errorf("%w: calculate from %s", ErrInvalidTransition, l.State())
	}
	planned, err := amortization.PlanIncrements(l.Config, l.Increments)
	if err != nil {
		return models.Schedule{}, nil, err
	}
	if err := amortization.CheckIncrements(l.Config, planned); err != nil {
		return models.Schedule{}, nil, err
	}
	schedule, warnings, err := amortization.BuildSchedule(l.Config, planned)
	if err != nil {
		return models.Schedule{}, nil, err
	}
	if err := l.fire(ctx, eventCalculate); err != nil {
		return models.Schedule{}, nil, err
	}
	l.schedule = schedule
	l.UpdatedAt = time.Now()
	return schedule.Clone(), warnings, nil
}

// Draft drops the schedule. User supplied increments, manual ones included,
// are kept for the next calculation.
func (l *Loan) Draft(ctx context.Context) error {
	if err := l.fire(ctx, eventDraft); err != nil {
		return err
	}
	l.schedule = models.Schedule{}
	l.UpdatedAt = time.Now()
	return nil
}

// PaymentAt returns the latest payment dated on or before at.
func (l *Loan) PaymentAt(at time.Time) (models.Payment, bool) {
	return amortization.PaymentAt(l.schedule.Payments, at)
}

// OutstandingBalanceAt returns the balance left after the latest payment
// dated on or before at.
func (l *Loan) OutstandingBalanceAt(at time.Time) (decimal.Decimal, error) {
	if l.schedule.IsEmpty() {
		return decimal.Zero, ErrNotCalculated
	}
	p, ok := l.PaymentAt(at)
	if !ok {
		return decimal.Zero, nil
	}
	return p.OutstandingBalance, nil
}

// PaymentAmountAt returns the nominal payment of the increment covering at,
// zero before the first increment.
func (l *Loan) PaymentAmountAt(at time.Time) (decimal.Decimal, error) {
	if l.schedule.IsEmpty() {
		return decimal.Zero, ErrNotCalculated
	}
	inc, ok := amortization.IncrementAt(l.schedule.Increments, at)
	if !ok || inc.PaymentAmount == nil {
		return decimal.Zero, nil
	}
	return *inc.PaymentAmount, nil
}

// Duration returns the duration in months: the calculated one when there is
// a schedule, the configured one otherwise.
func (l *Loan) Duration() int {
	if len(l.schedule.Increments) > 0 {
		return amortization.Duration(l.schedule.Increments)
	}
	return l.Config.Duration
}

// EndDate returns the date of the last payment of the last increment.
func (l *Loan) EndDate() time.Time {
	if n := len(l.schedule.Increments); n > 0 {
		return l.schedule.Increments[n-1].EndDate
	}
	return time.Time{}
}

// EarlyRepaymentsAmount sums the early repayments of increments starting on
// or before at.
func (l *Loan) EarlyRepaymentsAmount(at time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, inc := range l.schedule.Increments {
		if !inc.StartDate.IsZero() && !inc.StartDate.After(at) {
			total = total.Add(inc.EarlyRepayment)
		}
	}
	return total
}
