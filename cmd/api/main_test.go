package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/mcclellann/loanschedule/pkg/ledger"
	"github.com/mcclellann/loanschedule/pkg/models"
	"github.com/mcclellann/loanschedule/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T) *mux.Router {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger, _ := test.NewNullLogger()
	server := NewServer(s, logger, ledger.Options{
		NumberPrefix:    "LN",
		DefaultCurrency: models.Currency{Code: "EUR", Digits: 2},
	})
	return server.Router()
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func fixedRateRequest() map[string]any {
	return map[string]any{
		"kind":               "fixed_rate",
		"amount":             "12000",
		"rate":               "0.12",
		"payment_frequency":  "month",
		"funds_release_date": "2024-01-15",
		"duration":           12,
	}
}

func createLoan(t *testing.T, router http.Handler, body map[string]any) loanResponse {
	t.Helper()
	rr := do(t, router, "POST", "/loans", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created loanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	return created
}

func TestAPI_CreateAndGetLoan(t *testing.T) {
	router := setupTestServer(t)

	created := createLoan(t, router, fixedRateRequest())
	assert.Equal(t, "LN000001", created.Number)
	assert.Equal(t, models.StateDraft, created.State)
	assert.Equal(t, "EUR", created.Config.Currency.Code)
	assert.Equal(t, "2024-02-15", created.Config.FirstPaymentDate.Format(dateLayout))
	assert.Nil(t, created.Schedule)

	rr := do(t, router, "GET", "/loans/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var fetched loanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	rr = do(t, router, "GET", "/loans", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var all []loanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &all))
	assert.Len(t, all, 1)
}

func TestAPI_CreateLoanValidation(t *testing.T) {
	router := setupTestServer(t)

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing kind", func(b map[string]any) { delete(b, "kind") }},
		{"unknown frequency", func(b map[string]any) { b["payment_frequency"] = "week" }},
		{"bad date", func(b map[string]any) { b["funds_release_date"] = "15/01/2024" }},
		{"zero amount", func(b map[string]any) { b["amount"] = "0" }},
		{"negative duration", func(b map[string]any) { b["duration"] = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := fixedRateRequest()
			tt.mutate(body)
			rr := do(t, router, "POST", "/loans", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func TestAPI_Calculate(t *testing.T) {
	router := setupTestServer(t)
	created := createLoan(t, router, fixedRateRequest())

	rr := do(t, router, "POST", "/loans/"+created.ID+"/calculate", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp calculateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, models.StateCalculated, resp.State)
	assert.Empty(t, resp.Warnings)
	require.Len(t, resp.Payments, 13)
	assert.Equal(t, "2024-01-15", resp.Payments[0].Date)
	assert.True(t, decimal.NewFromInt(12000).Equal(resp.Payments[0].Outstanding))
	assert.Equal(t, "2024-02-15", resp.Payments[1].Date)
	assert.True(t, decimal.RequireFromString("1066.19").Equal(resp.Payments[1].Amount))
	assert.True(t, resp.Payments[12].Outstanding.IsZero())

	rr = do(t, router, "GET", "/loans/"+created.ID+"/payments", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rows []paymentRow
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	assert.Len(t, rows, 13)

	rr = do(t, router, "GET", "/loans/"+created.ID+"/balance?at=2024-02-20", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var balance amountResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &balance))
	assert.True(t, decimal.RequireFromString("11053.81").Equal(balance.Amount), balance.Amount.String())

	rr = do(t, router, "GET", "/loans/"+created.ID+"/payment-amount?at=2024-06-01", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var amount amountResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &amount))
	assert.True(t, decimal.RequireFromString("1066.19").Equal(amount.Amount))

	rr = do(t, router, "GET", "/loans/"+created.ID+"/balance?at=June", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_CalculateConfigurationError(t *testing.T) {
	router := setupTestServer(t)
	body := fixedRateRequest()
	delete(body, "rate")
	created := createLoan(t, router, body)

	rr := do(t, router, "POST", "/loans/"+created.ID+"/calculate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())

	rr = do(t, router, "GET", "/loans/"+created.ID+"/balance", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAPI_ManualIncrementAndDraft(t *testing.T) {
	router := setupTestServer(t)
	created := createLoan(t, router, fixedRateRequest())

	rr := do(t, router, "POST", "/loans/"+created.ID+"/increments", map[string]any{
		"start_date":         "2024-08-15",
		"number_of_payments": 6,
		"rate":               "0.12",
		"begin_balance":      "5000",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, router, "POST", "/loans/"+created.ID+"/calculate", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, router, "GET", "/loans/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var fetched loanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	require.NotNil(t, fetched.Schedule)
	require.Len(t, fetched.Schedule.Increments, 2)
	assert.True(t, decimal.RequireFromString("1179.02").Equal(fetched.Schedule.Increments[1].EarlyRepayment))
	require.NotNil(t, fetched.EndDate)
	assert.Equal(t, "2025-01-15", fetched.EndDate.Format(dateLayout))

	rr = do(t, router, "POST", "/loans/"+created.ID+"/draft", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var drafted loanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &drafted))
	assert.Equal(t, models.StateDraft, drafted.State)
	assert.Nil(t, drafted.Schedule)
	assert.Len(t, drafted.Increments, 1)

	rr = do(t, router, "POST", "/loans/"+created.ID+"/draft", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAPI_SetIncrements(t *testing.T) {
	router := setupTestServer(t)
	body := fixedRateRequest()
	body["kind"] = "graduated"
	created := createLoan(t, router, body)

	rr := do(t, router, "PUT", "/loans/"+created.ID+"/increments", map[string]any{
		"increments": []map[string]any{
			{"number_of_payments": 6, "rate": "0.12", "payment_amount": "500"},
			{"number_of_payments": 6, "rate": "0.12"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, router, "POST", "/loans/"+created.ID+"/calculate", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp calculateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Payments, 13)
	assert.True(t, decimal.NewFromInt(500).Equal(resp.Payments[1].Amount))

	rr = do(t, router, "PUT", "/loans/"+created.ID+"/increments", map[string]any{
		"increments": []map[string]any{{"number_of_payments": 0, "rate": "0.12"}},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, router, "POST", "/loans/"+created.ID+"/calculate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestAPI_UpdateAndDeleteLoan(t *testing.T) {
	router := setupTestServer(t)
	created := createLoan(t, router, fixedRateRequest())
	do(t, router, "POST", "/loans/"+created.ID+"/calculate", nil)

	body := fixedRateRequest()
	body["amount"] = "6000"
	rr := do(t, router, "PUT", "/loans/"+created.ID, body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated loanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.Equal(t, models.StateDraft, updated.State)
	assert.True(t, decimal.NewFromInt(6000).Equal(updated.Config.Amount))

	rr = do(t, router, "DELETE", "/loans/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, router, "GET", "/loans/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, router, "GET", "/loans/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_Recalculate(t *testing.T) {
	router := setupTestServer(t)
	created := createLoan(t, router, fixedRateRequest())
	createLoan(t, router, fixedRateRequest())
	do(t, router, "POST", "/loans/"+created.ID+"/calculate", nil)

	rr := do(t, router, "POST", "/loans/recalculate", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["recalculated"])
}
