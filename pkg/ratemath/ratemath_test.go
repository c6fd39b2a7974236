package ratemath

import (
	"testing"

	"github.com/mcclellann/loanschedule/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eur = models.Currency{Code: "EUR", Digits: 2}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "expected %s, got %s", want, got)
}

func TestPeriodicRate(t *testing.T) {
	assertDecimal(t, "0.01", PeriodicRate(dec("0.12"), models.FrequencyMonth))
	assertDecimal(t, "0.03", PeriodicRate(dec("0.12"), models.FrequencyQuarter))
	assertDecimal(t, "0.06", PeriodicRate(dec("0.12"), models.FrequencyHalfYear))
	assertDecimal(t, "0.12", PeriodicRate(dec("0.12"), models.FrequencyYear))
	assertDecimal(t, "0", PeriodicRate(decimal.Zero, models.FrequencyMonth))
}

func TestAnnuityPayment(t *testing.T) {
	tests := []struct {
		name      string
		rate      string
		n         int
		principal string
		frequency models.Frequency
		deferral  models.Deferral
		want      string
	}{
		{"fixed rate monthly", "0.12", 12, "12000", models.FrequencyMonth, models.DeferralNone, "1066.19"},
		{"fixed rate quarterly", "0.08", 8, "10000", models.FrequencyQuarter, models.DeferralNone, "1365.10"},
		{"interest free", "0", 12, "1200", models.FrequencyMonth, models.DeferralNone, "100"},
		{"interest free rounded", "0", 3, "100", models.FrequencyMonth, models.DeferralNone, "33.33"},
		{"partially deferred pays interest", "0.12", 11, "12000", models.FrequencyMonth, models.DeferralPartially, "120"},
		{"fully deferred pays nothing", "0.12", 3, "12000", models.FrequencyMonth, models.DeferralFully, "0"},
		{"single period pays everything", "0.12", 1, "12000", models.FrequencyMonth, models.DeferralNone, "12120"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AnnuityPayment(dec(tt.rate), tt.n, dec(tt.principal), eur, tt.frequency, tt.deferral)
			require.NoError(t, err)
			assertDecimal(t, tt.want, got)
		})
	}
}

func TestAnnuityPaymentRejectsEmptyIncrement(t *testing.T) {
	_, err := AnnuityPayment(dec("0.12"), 0, dec("12000"), eur, models.FrequencyMonth, models.DeferralNone)
	assert.ErrorIs(t, err, ErrInvalidNumberOfPayments)

	_, err = AnnuityPayment(dec("0.12"), -2, dec("12000"), eur, models.FrequencyMonth, models.DeferralNone)
	assert.ErrorIs(t, err, ErrInvalidNumberOfPayments)
}

func TestFirstPaymentEndBalance(t *testing.T) {
	inc := models.Increment{
		BeginBalance:     dec("12000"),
		Rate:             dec("0.12"),
		PaymentFrequency: models.FrequencyMonth,
		NumberOfPayments: 12,
	}
	assertDecimal(t, "11053.81", FirstPaymentEndBalance(inc, eur))

	inc.Deferral = models.DeferralPartially
	assertDecimal(t, "12000", FirstPaymentEndBalance(inc, eur))

	inc.Deferral = models.DeferralFully
	assertDecimal(t, "12120", FirstPaymentEndBalance(inc, eur))
}

func TestBeginBalanceFromFirstPaymentEnd(t *testing.T) {
	payment := dec("1066.19")
	inc := models.Increment{
		FirstPaymentEndBalance: dec("11053.81"),
		Rate:                   dec("0.12"),
		PaymentFrequency:       models.FrequencyMonth,
		NumberOfPayments:       12,
	}

	got, err := BeginBalanceFromFirstPaymentEnd(inc, eur)
	require.NoError(t, err)
	assertDecimal(t, "12000", got)

	inc.PaymentAmount = &payment
	got, err = BeginBalanceFromFirstPaymentEnd(inc, eur)
	require.NoError(t, err)
	assertDecimal(t, "12000", got)

	inc.PaymentAmount = nil
	inc.Deferral = models.DeferralFully
	inc.FirstPaymentEndBalance = dec("12120")
	got, err = BeginBalanceFromFirstPaymentEnd(inc, eur)
	require.NoError(t, err)
	assertDecimal(t, "12000", got)
}
