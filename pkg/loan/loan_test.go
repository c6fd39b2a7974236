package loan

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanschedule/pkg/amortization"
	"github.com/mcclellann/loanschedule/pkg/calendar"
	"github.com/mcclellann/loanschedule/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() models.Config {
	rate := dec("0.12")
	return models.Config{
		Kind:             models.KindFixedRate,
		Currency:         models.Currency{Code: "EUR", Digits: 2},
		Amount:           dec("12000"),
		Rate:             &rate,
		PaymentFrequency: models.FrequencyMonth,
		FundsReleaseDate: calendar.Date(2024, time.January, 15),
		Duration:         1,
		DurationUnit:     models.DurationUnitYear,
	}
}

func calculatedLoan(t *testing.T) *Loan {
	t.Helper()
	l := New("LN000001", testConfig())
	_, _, err := l.Calculate(context.Background())
	require.NoError(t, err)
	return l
}

func TestNewNormalizesConfig(t *testing.T) {
	l := New("LN000001", testConfig())

	assert.NotEqual(t, uuid.Nil, l.ID)
	assert.Equal(t, models.StateDraft, l.State())
	assert.Equal(t, 12, l.Config.Duration)
	assert.Equal(t, models.DurationUnitMonth, l.Config.DurationUnit)
	assert.Equal(t, calendar.Date(2024, time.February, 15), l.Config.FirstPaymentDate)
	assert.True(t, l.Schedule().IsEmpty())
}

func TestNormalizeInterestFree(t *testing.T) {
	cfg := testConfig()
	cfg.Kind = models.KindInterestFree
	cfg.FirstPaymentDate = time.Date(2024, time.March, 1, 13, 45, 0, 0, time.UTC)
	cfg.DeferralDuration = 4

	got := Normalize(cfg)
	require.NotNil(t, got.Rate)
	assert.True(t, got.Rate.IsZero())
	assert.Equal(t, calendar.Date(2024, time.March, 1), got.FirstPaymentDate)
	assert.Zero(t, got.DeferralDuration)
}

func TestCalculate(t *testing.T) {
	l := New("LN000001", testConfig())

	schedule, warnings, err := l.Calculate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, models.StateCalculated, l.State())
	assert.Len(t, schedule.Payments, 13)
	assert.Equal(t, schedule, l.Schedule())
	assert.Len(t, l.Payments(), 13)
	assert.True(t, l.CanDraft())
}

func TestCalculateTwiceRecomputes(t *testing.T) {
	l := calculatedLoan(t)
	first := l.Schedule()

	second, _, err := l.Calculate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateCalculated, l.State())
	assert.Equal(t, first, second)
}

func TestCalculateFailureLeavesLoanUntouched(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = nil
	l := New("LN000001", cfg)

	_, _, err := l.Calculate(context.Background())
	assert.ErrorIs(t, err, amortization.ErrMissingRate)
	assert.True(t, amortization.IsConfigError(err))
	assert.Equal(t, models.StateDraft, l.State())
	assert.True(t, l.Schedule().IsEmpty())
}

func TestDraft(t *testing.T) {
	l := calculatedLoan(t)
	require.NoError(t, l.AddManualIncrement(models.Increment{
		StartDate:        calendar.Date(2024, time.August, 15),
		NumberOfPayments: 6,
		Rate:             dec("0.12"),
		BeginBalance:     dec("5000"),
	}))
	_, _, err := l.Calculate(context.Background())
	require.NoError(t, err)

	require.NoError(t, l.Draft(context.Background()))
	assert.Equal(t, models.StateDraft, l.State())
	assert.True(t, l.Schedule().IsEmpty())
	require.Len(t, l.Increments, 1, "manual increments survive a reset")
	assert.True(t, l.Increments[0].Manual)

	err = l.Draft(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMutationsInvalidateSchedule(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Loan)
	}{
		{"reconfigure", func(l *Loan) {
			cfg := l.Config
			cfg.Amount = dec("15000")
			l.Reconfigure(cfg)
		}},
		{"set increments", func(l *Loan) { l.SetIncrements(nil) }},
		{"add manual increment", func(l *Loan) {
			_ = l.AddManualIncrement(models.Increment{
				StartDate:        calendar.Date(2024, time.June, 15),
				NumberOfPayments: 8,
				Rate:             dec("0.12"),
			})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := calculatedLoan(t)
			tt.mutate(l)
			assert.Equal(t, models.StateDraft, l.State())
			assert.True(t, l.Schedule().IsEmpty())
			_, err := l.OutstandingBalanceAt(calendar.Date(2024, time.June, 1))
			assert.ErrorIs(t, err, ErrNotCalculated)
		})
	}
}

func TestAddManualIncrementRequiresDate(t *testing.T) {
	l := New("LN000001", testConfig())
	err := l.AddManualIncrement(models.Increment{NumberOfPayments: 3})
	assert.ErrorIs(t, err, amortization.ErrConfiguration)
	assert.Empty(t, l.Increments)
}

func TestAddManualIncrementKeepsDateOrder(t *testing.T) {
	l := New("LN000001", testConfig())
	require.NoError(t, l.AddManualIncrement(models.Increment{StartDate: calendar.Date(2024, time.October, 15), NumberOfPayments: 4}))
	require.NoError(t, l.AddManualIncrement(models.Increment{StartDate: calendar.Date(2024, time.June, 15), NumberOfPayments: 4}))

	require.Len(t, l.Increments, 2)
	assert.Equal(t, calendar.Date(2024, time.June, 15), l.Increments[0].StartDate)
	assert.Equal(t, models.FrequencyMonth, l.Increments[0].PaymentFrequency)
}

func TestQueries(t *testing.T) {
	l := New("LN000001", testConfig())
	_, err := l.PaymentAmountAt(calendar.Date(2024, time.March, 1))
	assert.ErrorIs(t, err, ErrNotCalculated)
	assert.Equal(t, 12, l.Duration())
	assert.True(t, l.EndDate().IsZero())

	_, _, err = l.Calculate(context.Background())
	require.NoError(t, err)

	balance, err := l.OutstandingBalanceAt(calendar.Date(2024, time.February, 20))
	require.NoError(t, err)
	assert.True(t, dec("11053.81").Equal(balance), "got %s", balance)

	balance, err = l.OutstandingBalanceAt(calendar.Date(2024, time.January, 1))
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	balance, err = l.OutstandingBalanceAt(calendar.Date(2024, time.January, 15))
	require.NoError(t, err)
	assert.True(t, dec("12000").Equal(balance))

	amount, err := l.PaymentAmountAt(calendar.Date(2024, time.March, 1))
	require.NoError(t, err)
	assert.True(t, dec("1066.19").Equal(amount))

	amount, err = l.PaymentAmountAt(calendar.Date(2024, time.January, 20))
	require.NoError(t, err)
	assert.True(t, amount.IsZero())

	p, ok := l.PaymentAt(calendar.Date(2024, time.March, 15))
	require.True(t, ok)
	assert.Equal(t, 2, p.Number)

	assert.Equal(t, 12, l.Duration())
	assert.Equal(t, calendar.Date(2025, time.January, 15), l.EndDate())
}

func TestEarlyRepaymentsAmount(t *testing.T) {
	l := New("LN000001", testConfig())
	require.NoError(t, l.AddManualIncrement(models.Increment{
		StartDate:        calendar.Date(2024, time.August, 15),
		NumberOfPayments: 6,
		Rate:             dec("0.12"),
		BeginBalance:     dec("5000"),
	}))
	_, _, err := l.Calculate(context.Background())
	require.NoError(t, err)

	assert.True(t, l.EarlyRepaymentsAmount(calendar.Date(2024, time.July, 31)).IsZero())
	got := l.EarlyRepaymentsAmount(calendar.Date(2024, time.December, 31))
	assert.True(t, dec("1179.02").Equal(got), "got %s", got)
}

func TestRestore(t *testing.T) {
	src := calculatedLoan(t)

	restored := Restore(src.ID, src.Number, src.Config, src.Increments, models.StateCalculated,
		src.Schedule(), src.CreatedAt, src.UpdatedAt)
	assert.Equal(t, models.StateCalculated, restored.State())
	assert.Equal(t, src.Schedule(), restored.Schedule())

	empty := Restore(src.ID, src.Number, src.Config, nil, models.StateCalculated,
		models.Schedule{}, src.CreatedAt, src.UpdatedAt)
	assert.Equal(t, models.StateDraft, empty.State())
	assert.True(t, empty.CanCalculate())
	assert.False(t, empty.CanDraft())
}
