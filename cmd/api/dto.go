package main

import (
	"fmt"
	"time"

	"github.com/mcclellann/loanschedule/pkg/loan"
	"github.com/mcclellann/loanschedule/pkg/models"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type loanRequest struct {
	Kind             string           `json:"kind" validate:"required,oneof=fixed_rate interest_free graduated intermediate balloon"`
	Currency         string           `json:"currency" validate:"omitempty,len=3,alpha"`
	CurrencyDigits   *int32           `json:"currency_digits" validate:"omitempty,min=0,max=4"`
	Amount           decimal.Decimal  `json:"amount"`
	Rate             *decimal.Decimal `json:"rate"`
	PaymentFrequency string           `json:"payment_frequency" validate:"required,oneof=month quarter half_year year"`
	FundsReleaseDate string           `json:"funds_release_date" validate:"required,datetime=2006-01-02"`
	FirstPaymentDate string           `json:"first_payment_date" validate:"omitempty,datetime=2006-01-02"`
	Duration         int              `json:"duration" validate:"min=0"`
	DurationUnit     string           `json:"duration_unit" validate:"omitempty,oneof=month year"`
	Deferral         string           `json:"deferral" validate:"omitempty,oneof=partially fully"`
	DeferralDuration int              `json:"deferral_duration" validate:"min=0"`
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

func (r loanRequest) toConfig(defaultCurrency models.Currency) (models.Config, error) {
	if !r.Amount.IsPositive() {
		return models.Config{}, fmt.Errorf("amount must be > 0")
	}
	release, err := parseDate(r.FundsReleaseDate)
	if err != nil {
		return models.Config{}, err
	}
	firstPayment, err := parseDate(r.FirstPaymentDate)
	if err != nil {
		return models.Config{}, err
	}
	currency := defaultCurrency
	if r.Currency != "" {
		currency.Code = r.Currency
	}
	if r.CurrencyDigits != nil {
		currency.Digits = *r.CurrencyDigits
	}
	return models.Config{
		Kind:             models.Kind(r.Kind),
		Currency:         currency,
		Amount:           r.Amount,
		Rate:             r.Rate,
		PaymentFrequency: models.Frequency(r.PaymentFrequency),
		FundsReleaseDate: release,
		FirstPaymentDate: firstPayment,
		Duration:         r.Duration,
		DurationUnit:     r.DurationUnit,
		Deferral:         models.Deferral(r.Deferral),
		DeferralDuration: r.DeferralDuration,
	}, nil
}

type incrementRequest struct {
	StartDate              string           `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	NumberOfPayments       int              `json:"number_of_payments"`
	PaymentFrequency       string           `json:"payment_frequency" validate:"omitempty,oneof=month quarter half_year year"`
	Rate                   decimal.Decimal  `json:"rate"`
	Deferral               string           `json:"deferral" validate:"omitempty,oneof=partially fully"`
	BeginBalance           decimal.Decimal  `json:"begin_balance"`
	FirstPaymentEndBalance decimal.Decimal  `json:"first_payment_end_balance"`
	PaymentAmount          *decimal.Decimal `json:"payment_amount"`
	Manual                 bool             `json:"manual"`
}

func (r incrementRequest) toIncrement() (models.Increment, error) {
	start, err := parseDate(r.StartDate)
	if err != nil {
		return models.Increment{}, err
	}
	return models.Increment{
		StartDate:              start,
		NumberOfPayments:       r.NumberOfPayments,
		PaymentFrequency:       models.Frequency(r.PaymentFrequency),
		Rate:                   r.Rate,
		Deferral:               models.Deferral(r.Deferral),
		BeginBalance:           r.BeginBalance,
		FirstPaymentEndBalance: r.FirstPaymentEndBalance,
		PaymentAmount:          r.PaymentAmount,
		Manual:                 r.Manual,
	}, nil
}

type incrementsRequest struct {
	Increments []incrementRequest `json:"increments" validate:"dive"`
}

type loanResponse struct {
	ID         string             `json:"id"`
	Number     string             `json:"number"`
	State      models.State       `json:"state"`
	Config     models.Config      `json:"config"`
	Increments []models.Increment `json:"increments"`
	Schedule   *models.Schedule   `json:"schedule,omitempty"`
	Duration   int                `json:"duration"`
	EndDate    *time.Time         `json:"end_date,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func newLoanResponse(l *loan.Loan) loanResponse {
	resp := loanResponse{
		ID:         l.ID.String(),
		Number:     l.Number,
		State:      l.State(),
		Config:     l.Config,
		Increments: l.Increments,
		Duration:   l.Duration(),
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
	}
	if resp.Increments == nil {
		resp.Increments = []models.Increment{}
	}
	if s := l.Schedule(); !s.IsEmpty() {
		resp.Schedule = &s
	}
	if end := l.EndDate(); !end.IsZero() {
		resp.EndDate = &end
	}
	return resp
}

// paymentRow is the flat view of a payment returned by calculations.
type paymentRow struct {
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Principal   decimal.Decimal `json:"principal"`
	Interest    decimal.Decimal `json:"interest"`
}

func paymentRows(payments []models.Payment) []paymentRow {
	rows := make([]paymentRow, len(payments))
	for i, p := range payments {
		rows[i] = paymentRow{
			Date:        p.StartDate.Format(dateLayout),
			Amount:      p.Amount,
			Outstanding: p.OutstandingBalance,
			Principal:   p.Principal,
			Interest:    p.Interest,
		}
	}
	return rows
}

type calculateResponse struct {
	Number   string           `json:"number"`
	State    models.State     `json:"state"`
	Payments []paymentRow     `json:"payments"`
	Warnings []models.Warning `json:"warnings"`
}

type amountResponse struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}
