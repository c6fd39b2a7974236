package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabasePath string

	// Logging
	LogLevel logrus.Level

	// Loans
	DefaultCurrency       string
	DefaultCurrencyDigits int32
	LoanNumberPrefix      string
	RecalculateOnStart    bool
}

// Load reads configuration from the environment, after loading a .env file
// when there is one.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		Environment:           getEnv("ENVIRONMENT", "development"),
		DatabasePath:          getEnv("DATABASE_PATH", "loanschedule.db"),
		LogLevel:              level,
		DefaultCurrency:       strings.ToUpper(getEnv("DEFAULT_CURRENCY", "EUR")),
		DefaultCurrencyDigits: int32(getEnvAsInt("DEFAULT_CURRENCY_DIGITS", 2)),
		LoanNumberPrefix:      getEnv("LOAN_NUMBER_PREFIX", "LN"),
		RecalculateOnStart:    getEnvAsBool("RECALCULATE_ON_START", false),
	}

	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("DATABASE_PATH is required")
	}
	if cfg.DefaultCurrencyDigits < 0 {
		return nil, fmt.Errorf("DEFAULT_CURRENCY_DIGITS must be >= 0")
	}
	return cfg, nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as integer
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}
