package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanschedule/pkg/amortization"
	"github.com/mcclellann/loanschedule/pkg/loan"
	"github.com/mcclellann/loanschedule/pkg/models"
	"github.com/mcclellann/loanschedule/pkg/store"
	"github.com/shopspring/decimal"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeLedgerError maps ledger errors to HTTP statuses.
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrLoanNotFound):
		writeError(w, http.StatusNotFound, "Loan not found")
	case amortization.IsConfigError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, loan.ErrInvalidTransition), errors.Is(err, loan.ErrNotCalculated):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag())
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func loanID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, errors.New("invalid loan ID")
	}
	return id, nil
}

// atDate reads the ?at= query parameter, today when absent.
func atDate(r *http.Request) (time.Time, error) {
	at := r.URL.Query().Get("at")
	if at == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return parseDate(at)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := req.toConfig(s.defaultCurrency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.ledger.CreateLoan(cfg)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoanResponse(l))
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.ledger.GetLoan(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(l))
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans()
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	resp := make([]loanResponse, len(loans))
	for i, l := range loans {
		resp[i] = newLoanResponse(l)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) updateLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req loanRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := req.toConfig(s.defaultCurrency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.ledger.Reconfigure(id, cfg)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(l))
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.ledger.DeleteLoan(id); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setIncrementsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req incrementsRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	incs := make([]models.Increment, len(req.Increments))
	for i, ir := range req.Increments {
		if incs[i], err = ir.toIncrement(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	l, err := s.ledger.SetIncrements(id, incs)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(l))
}

func (s *Server) addManualIncrementHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req incrementRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inc, err := req.toIncrement()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.ledger.AddManualIncrement(id, inc)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoanResponse(l))
}

func (s *Server) calculateHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, warnings, err := s.ledger.Calculate(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if warnings == nil {
		warnings = []models.Warning{}
	}
	writeJSON(w, http.StatusOK, calculateResponse{
		Number:   l.Number,
		State:    l.State(),
		Payments: paymentRows(l.Payments()),
		Warnings: warnings,
	})
}

func (s *Server) draftHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.ledger.Draft(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(l))
}

func (s *Server) paymentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := s.ledger.GetLoan(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentRows(l.Payments()))
}

func (s *Server) balanceHandler(w http.ResponseWriter, r *http.Request) {
	s.amountHandler(w, r, s.ledger.OutstandingBalance)
}

func (s *Server) paymentAmountHandler(w http.ResponseWriter, r *http.Request) {
	s.amountHandler(w, r, s.ledger.PaymentAmount)
}

func (s *Server) amountHandler(w http.ResponseWriter, r *http.Request,
	query func(uuid.UUID, time.Time) (decimal.Decimal, error)) {
	id, err := loanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	at, err := atDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := query(id, at)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Date: at.Format(dateLayout), Amount: amount})
}

func (s *Server) recalculateHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.ledger.RecalculateAll(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recalculated": n})
}
