// Package ledger is the loan service: it loads loans from storage, runs the
// amortization engine on them and persists the result.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanschedule/pkg/loan"
	"github.com/mcclellann/loanschedule/pkg/models"
	"github.com/mcclellann/loanschedule/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const numberDigits = 6

// Options holds the defaults applied to new loans.
type Options struct {
	NumberPrefix    string
	DefaultCurrency models.Currency
}

// Ledger handles the business logic for loans and their schedules.
type Ledger struct {
	storage store.Storage
	logger  *logrus.Logger
	opts    Options

	// Serialises read-modify-write cycles; a Loan is not safe for concurrent use.
	mu sync.Mutex
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, logger *logrus.Logger, opts Options) *Ledger {
	if logger == nil {
		logger = logrus.New()
	}
	return &Ledger{storage: s, logger: logger, opts: opts}
}

func (l *Ledger) withDefaults(cfg models.Config) models.Config {
	if cfg.Currency.Code == "" {
		cfg.Currency = l.opts.DefaultCurrency
	}
	if cfg.DurationUnit == "" {
		cfg.DurationUnit = models.DurationUnitMonth
	}
	return cfg
}

func (l *Ledger) nextNumber() (string, error) {
	seq, err := l.storage.NextLoanSequence()
	if err != nil {
		return "", fmt.Errorf("failed to allocate loan number: %w", err)
	}
	return fmt.Sprintf("%s%0*d", l.opts.NumberPrefix, numberDigits, seq), nil
}

// CreateLoan stores a new draft loan and gives it the next loan number.
func (l *Ledger) CreateLoan(cfg models.Config) (*loan.Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	number, err := l.nextNumber()
	if err != nil {
		return nil, err
	}
	ln := loan.New(number, l.withDefaults(cfg))
	if err := l.storage.CreateLoan(ln); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}
	l.logger.WithFields(logrus.Fields{
		"loan_id": ln.ID,
		"number":  ln.Number,
		"kind":    ln.Config.Kind,
		"amount":  ln.Config.Amount.String(),
	}).Info("loan created")
	return ln, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*loan.Loan, error) {
	return l.storage.GetLoan(id)
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans() ([]*loan.Loan, error) {
	return l.storage.GetAllLoans()
}

// DeleteLoan deletes a loan with its schedule.
func (l *Ledger) DeleteLoan(id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.storage.DeleteLoan(id); err != nil {
		return err
	}
	l.logger.WithField("loan_id", id).Info("loan deleted")
	return nil
}

// update loads a loan, applies fn and stores the loan when fn succeeds.
func (l *Ledger) update(id uuid.UUID, fn func(*loan.Loan) error) (*loan.Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ln, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if err := fn(ln); err != nil {
		return nil, err
	}
	if err := l.storage.UpdateLoan(ln); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}
	return ln, nil
}

// Reconfigure replaces the configuration of a loan, sending it back to draft.
func (l *Ledger) Reconfigure(id uuid.UUID, cfg models.Config) (*loan.Loan, error) {
	return l.update(id, func(ln *loan.Loan) error {
		ln.Reconfigure(l.withDefaults(cfg))
		return nil
	})
}

// SetIncrements replaces the user supplied increments of a loan.
func (l *Ledger) SetIncrements(id uuid.UUID, incs []models.Increment) (*loan.Loan, error) {
	return l.update(id, func(ln *loan.Loan) error {
		ln.SetIncrements(incs)
		return nil
	})
}

// AddManualIncrement pins a manual increment on a loan.
func (l *Ledger) AddManualIncrement(id uuid.UUID, inc models.Increment) (*loan.Loan, error) {
	return l.update(id, func(ln *loan.Loan) error {
		return ln.AddManualIncrement(inc)
	})
}

// Calculate computes and stores the schedule of a loan. Warnings are logged
// and returned; they do not prevent the schedule from being stored.
func (l *Ledger) Calculate(ctx context.Context, id uuid.UUID) (*loan.Loan, []models.Warning, error) {
	var warnings []models.Warning
	ln, err := l.update(id, func(ln *loan.Loan) error {
		var err error
		_, warnings, err = ln.Calculate(ctx)
		return err
	})
	if err != nil {
		l.logger.WithFields(logrus.Fields{"loan_id": id, "error": err}).Warn("loan calculation failed")
		return nil, nil, err
	}
	entry := l.logger.WithFields(logrus.Fields{"loan_id": ln.ID, "number": ln.Number})
	for _, w := range warnings {
		entry.WithFields(logrus.Fields{"code": w.Code, "increment": w.Increment}).Warn(w.Message)
	}
	entry.WithField("payments", len(ln.Payments())).Info("loan calculated")
	return ln, warnings, nil
}

// Draft drops the schedule of a loan.
func (l *Ledger) Draft(ctx context.Context, id uuid.UUID) (*loan.Loan, error) {
	ln, err := l.update(id, func(ln *loan.Loan) error {
		return ln.Draft(ctx)
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithField("loan_id", id).Info("loan back to draft")
	return ln, nil
}

// OutstandingBalance returns the balance of a calculated loan at a date.
func (l *Ledger) OutstandingBalance(id uuid.UUID, at time.Time) (decimal.Decimal, error) {
	ln, err := l.storage.GetLoan(id)
	if err != nil {
		return decimal.Zero, err
	}
	return ln.OutstandingBalanceAt(at)
}

// PaymentAmount returns the nominal payment of a calculated loan at a date.
func (l *Ledger) PaymentAmount(id uuid.UUID, at time.Time) (decimal.Decimal, error) {
	ln, err := l.storage.GetLoan(id)
	if err != nil {
		return decimal.Zero, err
	}
	return ln.PaymentAmountAt(at)
}

// RecalculateAll recomputes every calculated loan and returns how many were
// stored. A loan that fails is logged and skipped.
func (l *Ledger) RecalculateAll(ctx context.Context) (int, error) {
	loans, err := l.storage.GetAllLoans()
	if err != nil {
		return 0, fmt.Errorf("failed to get loans for recalculation: %w", err)
	}

	done := 0
	for _, ln := range loans {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if ln.State() != models.StateCalculated {
			continue
		}
		if _, _, err := l.Calculate(ctx, ln.ID); err != nil {
			l.logger.WithFields(logrus.Fields{"loan_id": ln.ID, "error": err}).Error("recalculation skipped")
			continue
		}
		done++
	}
	return done, nil
}
