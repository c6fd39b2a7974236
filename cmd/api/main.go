package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanschedule/pkg/config"
	"github.com/mcclellann/loanschedule/pkg/ledger"
	"github.com/mcclellann/loanschedule/pkg/models"
	"github.com/mcclellann/loanschedule/pkg/store"
	"github.com/sirupsen/logrus"
)

// Server holds the ledger instance.
type Server struct {
	ledger          *ledger.Ledger
	storage         store.Storage // Keep a reference to the storage to close it
	logger          *logrus.Logger
	validate        *validator.Validate
	defaultCurrency models.Currency
}

func NewServer(s store.Storage, logger *logrus.Logger, opts ledger.Options) *Server {
	return &Server{
		ledger:          ledger.NewLedger(s, logger, opts),
		storage:         s,
		logger:          logger,
		validate:        validator.New(),
		defaultCurrency: opts.DefaultCurrency,
	}
}

// Close releases the storage.
func (s *Server) Close() error {
	return s.storage.Close()
}

// Router wires every endpoint behind the request logger.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(LogMiddleware(s.logger))

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/recalculate", s.recalculateHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.updateLoanHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/increments", s.setIncrementsHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}/increments", s.addManualIncrementHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/calculate", s.calculateHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/draft", s.draftHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/payments", s.paymentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/balance", s.balanceHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payment-amount", s.paymentAmountHandler).Methods("GET")
	return router
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.IsProduction() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logger.SetOutput(os.Stdout)
	logger.SetLevel(cfg.LogLevel)
	return logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := newLogger(cfg)

	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("Failed to initialize SQLite store: %v", err)
	}
	logger.WithField("path", cfg.DatabasePath).Info("Database connection established and schema initialized")

	server := NewServer(sqliteStore, logger, ledger.Options{
		NumberPrefix:    cfg.LoanNumberPrefix,
		DefaultCurrency: models.Currency{Code: cfg.DefaultCurrency, Digits: cfg.DefaultCurrencyDigits},
	})
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RecalculateOnStart {
		n, err := server.ledger.RecalculateAll(ctx)
		if err != nil {
			logger.WithError(err).Error("Recalculation on start failed")
		} else {
			logger.WithField("loans", n).Info("Recalculation on start complete")
		}
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Server starting on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
}
