package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanschedule/pkg/loan"
	"github.com/mcclellann/loanschedule/pkg/models"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"
)

const dateLayout = "2006-01-02"

// Increment rows are either supplied by the user or part of the schedule.
const (
	sourceInput    = "input"
	sourceSchedule = "schedule"
)

const loanSequence = "loan_number"

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	// The pragmas above are per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't already exist and adds new columns if necessary.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		currency_code TEXT NOT NULL,
		currency_digits INTEGER NOT NULL,
		amount TEXT NOT NULL,
		rate TEXT,
		payment_frequency TEXT NOT NULL,
		funds_release_date TEXT,
		first_payment_date TEXT,
		duration INTEGER NOT NULL,
		deferral TEXT NOT NULL DEFAULT '',
		deferral_duration INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loan_increments (
		loan_id TEXT NOT NULL,
		source TEXT NOT NULL,
		position INTEGER NOT NULL,
		number INTEGER NOT NULL,
		start_date TEXT,
		end_date TEXT,
		number_of_payments INTEGER NOT NULL,
		payment_frequency TEXT NOT NULL,
		rate TEXT NOT NULL,
		deferral TEXT NOT NULL DEFAULT '',
		begin_balance TEXT NOT NULL,
		first_payment_end_balance TEXT NOT NULL,
		payment_amount TEXT,
		manual INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (loan_id, source, position),
		FOREIGN KEY(loan_id) REFERENCES loans(id) ON DELETE CASCADE
	);
	CREATE TABLE IF NOT EXISTS loan_payments (
		loan_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		kind TEXT NOT NULL,
		start_date TEXT NOT NULL,
		begin_balance TEXT NOT NULL,
		amount TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest TEXT NOT NULL,
		outstanding_balance TEXT NOT NULL,
		PRIMARY KEY (loan_id, number),
		FOREIGN KEY(loan_id) REFERENCES loans(id) ON DELETE CASCADE
	);
	CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release of the schema.
	columns := map[string][]string{
		"loans":           {"duration_unit TEXT NOT NULL DEFAULT 'month'"},
		"loan_increments": {"early_repayment TEXT NOT NULL DEFAULT '0'"},
	}
	for table, cols := range columns {
		for _, col := range cols {
			_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, col))
			if err != nil && !isDuplicateColumnError(err) {
				return fmt.Errorf("failed to add column %s to %s: %w", col, table, err)
			}
		}
	}
	return nil
}

// isDuplicateColumnError checks if the error indicates a duplicate column.
func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

func nullDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}

func parseDate(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, s.String, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s.String, err)
	}
	return t, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// CreateLoan inserts a new loan, its increments and its schedule.
func (s *SQLiteStore) CreateLoan(l *loan.Loan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cfg := l.Config
	_, err = tx.Exec(
		`INSERT INTO loans (id, number, kind, currency_code, currency_digits, amount, rate, payment_frequency, funds_release_date, first_payment_date, duration, duration_unit, deferral, deferral_duration, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.Number, cfg.Kind, cfg.Currency.Code, cfg.Currency.Digits, cfg.Amount, nullDecimal(cfg.Rate),
		cfg.PaymentFrequency, nullDate(cfg.FundsReleaseDate), nullDate(cfg.FirstPaymentDate), cfg.Duration,
		cfg.DurationUnit, cfg.Deferral, cfg.DeferralDuration, l.State(), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	if err := insertChildren(tx, l); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateLoan rewrites an existing loan. Increments and payments are replaced
// as a whole.
func (s *SQLiteStore) UpdateLoan(l *loan.Loan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cfg := l.Config
	result, err := tx.Exec(
		`UPDATE loans SET number = ?, kind = ?, currency_code = ?, currency_digits = ?, amount = ?, rate = ?, payment_frequency = ?, funds_release_date = ?, first_payment_date = ?, duration = ?, duration_unit = ?, deferral = ?, deferral_duration = ?, state = ?, updated_at = ? WHERE id = ?`,
		l.Number, cfg.Kind, cfg.Currency.Code, cfg.Currency.Digits, cfg.Amount, nullDecimal(cfg.Rate),
		cfg.PaymentFrequency, nullDate(cfg.FundsReleaseDate), nullDate(cfg.FirstPaymentDate), cfg.Duration,
		cfg.DurationUnit, cfg.Deferral, cfg.DeferralDuration, l.State(), l.UpdatedAt, l.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}

	if _, err := tx.Exec(`DELETE FROM loan_increments WHERE loan_id = ?`, l.ID.String()); err != nil {
		return fmt.Errorf("failed to clear increments: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM loan_payments WHERE loan_id = ?`, l.ID.String()); err != nil {
		return fmt.Errorf("failed to clear payments: %w", err)
	}
	if err := insertChildren(tx, l); err != nil {
		return err
	}
	return tx.Commit()
}

func insertChildren(tx *sql.Tx, l *loan.Loan) error {
	if err := insertIncrements(tx, l.ID, sourceInput, l.Increments); err != nil {
		return err
	}
	schedule := l.Schedule()
	if err := insertIncrements(tx, l.ID, sourceSchedule, schedule.Increments); err != nil {
		return err
	}
	for _, p := range schedule.Payments {
		_, err := tx.Exec(
			`INSERT INTO loan_payments (loan_id, number, kind, start_date, begin_balance, amount, principal, interest, outstanding_balance)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID.String(), p.Number, p.Kind, p.StartDate.Format(dateLayout), p.BeginBalance, p.Amount,
			p.Principal, p.Interest, p.OutstandingBalance,
		)
		if err != nil {
			return fmt.Errorf("failed to create payment %d: %w", p.Number, err)
		}
	}
	return nil
}

func insertIncrements(tx *sql.Tx, loanID uuid.UUID, source string, incs []models.Increment) error {
	for i, inc := range incs {
		_, err := tx.Exec(
			`INSERT INTO loan_increments (loan_id, source, position, number, start_date, end_date, number_of_payments, payment_frequency, rate, deferral, begin_balance, first_payment_end_balance, payment_amount, manual, early_repayment)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			loanID.String(), source, i, inc.Number, nullDate(inc.StartDate), nullDate(inc.EndDate),
			inc.NumberOfPayments, inc.PaymentFrequency, inc.Rate, inc.Deferral, inc.BeginBalance,
			inc.FirstPaymentEndBalance, nullDecimal(inc.PaymentAmount), inc.Manual, inc.EarlyRepayment,
		)
		if err != nil {
			return fmt.Errorf("failed to create %s increment %d: %w", source, i, err)
		}
	}
	return nil
}

// loanRow is a loans row before its increments and payments are attached.
type loanRow struct {
	id        uuid.UUID
	number    string
	cfg       models.Config
	state     models.State
	createdAt time.Time
	updatedAt time.Time
}

const loanColumns = `id, number, kind, currency_code, currency_digits, amount, rate, payment_frequency, funds_release_date, first_payment_date, duration, duration_unit, deferral, deferral_duration, state, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanLoanRow(sc scanner) (loanRow, error) {
	var r loanRow
	var idStr string
	var rate decimal.NullDecimal
	var release, firstPayment sql.NullString
	err := sc.Scan(&idStr, &r.number, &r.cfg.Kind, &r.cfg.Currency.Code, &r.cfg.Currency.Digits, &r.cfg.Amount,
		&rate, &r.cfg.PaymentFrequency, &release, &firstPayment, &r.cfg.Duration, &r.cfg.DurationUnit,
		&r.cfg.Deferral, &r.cfg.DeferralDuration, &r.state, &r.createdAt, &r.updatedAt)
	if err != nil {
		return r, err
	}
	if r.id, err = uuid.Parse(idStr); err != nil {
		return r, fmt.Errorf("invalid loan id %q: %w", idStr, err)
	}
	if rate.Valid {
		r.cfg.Rate = &rate.Decimal
	}
	if r.cfg.FundsReleaseDate, err = parseDate(release); err != nil {
		return r, err
	}
	if r.cfg.FirstPaymentDate, err = parseDate(firstPayment); err != nil {
		return r, err
	}
	return r, nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*loan.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	r, err := scanLoanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return s.restore(r)
}

func (s *SQLiteStore) restore(r loanRow) (*loan.Loan, error) {
	input, err := s.getIncrements(r.id, sourceInput)
	if err != nil {
		return nil, err
	}
	computed, err := s.getIncrements(r.id, sourceSchedule)
	if err != nil {
		return nil, err
	}
	payments, err := s.getPayments(r.id)
	if err != nil {
		return nil, err
	}
	schedule := models.Schedule{Increments: computed, Payments: payments}
	return loan.Restore(r.id, r.number, r.cfg, input, r.state, schedule, r.createdAt, r.updatedAt), nil
}

func (s *SQLiteStore) getIncrements(loanID uuid.UUID, source string) ([]models.Increment, error) {
	rows, err := s.db.Query(
		`SELECT number, start_date, end_date, number_of_payments, payment_frequency, rate, deferral, begin_balance, first_payment_end_balance, payment_amount, manual, early_repayment
		FROM loan_increments WHERE loan_id = ? AND source = ? ORDER BY position ASC`, loanID.String(), source)
	if err != nil {
		return nil, fmt.Errorf("failed to get increments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var incs []models.Increment
	for rows.Next() {
		var inc models.Increment
		var start, end sql.NullString
		var amount decimal.NullDecimal
		if err := rows.Scan(&inc.Number, &start, &end, &inc.NumberOfPayments, &inc.PaymentFrequency, &inc.Rate,
			&inc.Deferral, &inc.BeginBalance, &inc.FirstPaymentEndBalance, &amount, &inc.Manual,
			&inc.EarlyRepayment); err != nil {
			return nil, fmt.Errorf("failed to scan increment row: %w", err)
		}
		if inc.StartDate, err = parseDate(start); err != nil {
			return nil, err
		}
		if inc.EndDate, err = parseDate(end); err != nil {
			return nil, err
		}
		if amount.Valid {
			inc.PaymentAmount = &amount.Decimal
		}
		incs = append(incs, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan increments: %w", err)
	}
	return incs, nil
}

func (s *SQLiteStore) getPayments(loanID uuid.UUID) ([]models.Payment, error) {
	rows, err := s.db.Query(
		`SELECT number, kind, start_date, begin_balance, amount, principal, interest, outstanding_balance
		FROM loan_payments WHERE loan_id = ? ORDER BY number ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		var start sql.NullString
		if err := rows.Scan(&p.Number, &p.Kind, &start, &p.BeginBalance, &p.Amount, &p.Principal, &p.Interest,
			&p.OutstandingBalance); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		if p.StartDate, err = parseDate(start); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan payments: %w", err)
	}
	return payments, nil
}

// DeleteLoan removes a loan. Its increments and payments go with it.
func (s *SQLiteStore) DeleteLoan(id uuid.UUID) error {
	result, err := s.db.Exec(`DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}
	return nil
}

// GetAllLoans retrieves all loans, oldest first.
func (s *SQLiteStore) GetAllLoans() ([]*loan.Loan, error) {
	rows, err := s.db.Query(`SELECT ` + loanColumns + ` FROM loans ORDER BY created_at ASC, number ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	var loanRows []loanRow
	for rows.Next() {
		r, err := scanLoanRow(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loanRows = append(loanRows, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	rows.Close()

	loans := make([]*loan.Loan, 0, len(loanRows))
	for _, r := range loanRows {
		l, err := s.restore(r)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, nil
}

// NextLoanSequence increments and returns the loan number sequence.
func (s *SQLiteStore) NextLoanSequence() (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO sequences (name, value) VALUES (?, 0)`, loanSequence); err != nil {
		return 0, fmt.Errorf("failed to init sequence: %w", err)
	}
	if _, err := tx.Exec(`UPDATE sequences SET value = value + 1 WHERE name = ?`, loanSequence); err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}
	var value int64
	if err := tx.QueryRow(`SELECT value FROM sequences WHERE name = ?`, loanSequence).Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to read sequence: %w", err)
	}
	return value, tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
