package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/loanschedule/pkg/loan"
)

// ErrLoanNotFound is returned when no loan matches the requested id.
var ErrLoanNotFound = errors.New("loan not found")

// Storage defines the interface for database operations related to loans and
// their calculated schedules.
type Storage interface {
	CreateLoan(l *loan.Loan) error
	GetLoan(id uuid.UUID) (*loan.Loan, error)
	// UpdateLoan replaces the configuration, state, increments and schedule
	// of an existing loan.
	UpdateLoan(l *loan.Loan) error
	DeleteLoan(id uuid.UUID) error
	GetAllLoans() ([]*loan.Loan, error)

	// NextLoanSequence returns the next value of the loan number sequence.
	NextLoanSequence() (int64, error)

	Close() error
}
