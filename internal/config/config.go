/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// LoadDotEnv reads path into the process environment. Variables that are
// already set win, and a missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("unable to load %s: %w", path, err)
	}
	return nil
}

func Load() (*models.Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	collect(err)
	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	collect(err)
	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	collect(err)
	maxOpenConns, err := getEnvInt("DB_MAX_OPEN_CONNS", 25)
	collect(err)
	maxIdleConns, err := getEnvInt("DB_MAX_IDLE_CONNS", 5)
	collect(err)

	monitoringInterval, err := getEnvDuration("TRANSCEIVER_MONITORING_INTERVAL", 60*time.Second)
	collect(err)
	transceiverTimeout, err := getEnvDuration("TRANSCEIVER_TIMEOUT", 30*time.Second)
	collect(err)
	autoMonitor, err := getEnvBool("TRANSCEIVER_AUTO_MONITOR", true)
	collect(err)
	historyLimit, err := getEnvInt("TRANSCEIVER_HISTORY_LIMIT", 50)
	collect(err)
	eventBuffer, err := getEnvInt("TRANSCEIVER_EVENT_BUFFER", 64)
	collect(err)
	readyTTL, err := getEnvDuration("TRANSCEIVER_READY_TTL", 24*time.Hour)
	collect(err)
	maxRetries, err := getEnvInt("ESPLORA_MAX_RETRIES", 3)
	collect(err)

	frequency, err := getEnvDuration("RECONCILIATION_SCHEDULED_FREQUENCY", time.Hour)
	collect(err)
	threshold, err := getEnvDecimal("RECONCILIATION_WARNING_THRESHOLD", decimal.RequireFromString("0.00001"))
	collect(err)
	strict, err := getEnvBool("RECONCILIATION_STRICT_MODE", false)
	collect(err)

	lookbackWindow, err := getEnvDuration("LISTENER_LOOKBACK_WINDOW", 6*time.Hour)
	collect(err)
	cleanupInterval, err := getEnvDuration("LISTENER_CLEANUP_INTERVAL", 15*time.Minute)
	collect(err)

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "fractaledger.db"),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Ledger: models.LedgerConfig{
			Backend: models.LedgerBackend(strings.ToLower(getEnvString("LEDGER_BACKEND", string(models.LedgerBackendSQLite)))),
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "fractaledger"),
		},
		Transceiver: models.TransceiverConfig{
			Method:             models.DeliveryMethod(getEnvString("TRANSCEIVER_METHOD", string(models.DeliveryCallback))),
			CallbackModule:     getEnvString("TRANSCEIVER_CALLBACK_MODULE", "esplora"),
			URL:                getEnvString("ESPLORA_URL", ""),
			MonitoringInterval: monitoringInterval,
			AutoMonitor:        autoMonitor,
			Timeout:            transceiverTimeout,
			HistoryLimit:       historyLimit,
			EventBuffer:        eventBuffer,
			ReadyTTL:           readyTTL,
			MaxRetries:         maxRetries,
		},
		Reconciliation: models.ReconciliationConfig{
			Strategy:           models.ReconciliationStrategy(getEnvString("RECONCILIATION_STRATEGY", string(models.StrategyAfterTransaction))),
			ScheduledFrequency: frequency,
			WarningThreshold:   threshold,
			StrictMode:         strict,
		},
		Listener: models.ListenerConfig{
			LookbackWindow:  lookbackWindow,
			CleanupInterval: cleanupInterval,
		},
		Events: models.EventsConfig{
			NatsURL:       getEnvString("NATS_URL", ""),
			SubjectPrefix: getEnvString("NATS_SUBJECT_PREFIX", "fractaledger"),
		},
		Metrics: models.MetricsConfig{
			Addr: getEnvString("METRICS_ADDR", ""),
		},
		WalletsFile: getEnvString("WALLETS_FILE", "wallets.yaml"),
	}

	errs = append(errs, validate(cfg)...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func validate(cfg *models.Config) []error {
	var errs []error

	switch cfg.Ledger.Backend {
	case models.LedgerBackendSQLite:
		if cfg.Database.Path == "" {
			errs = append(errs, errors.New("DATABASE_PATH is required for the sqlite backend"))
		}
	case models.LedgerBackendFormance:
		if cfg.Formance.StackURL == "" {
			errs = append(errs, errors.New("FORMANCE_STACK_URL is required for the formance backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_BACKEND must be sqlite or formance, got %q", cfg.Ledger.Backend))
	}

	if !cfg.Transceiver.Method.Valid() {
		errs = append(errs, fmt.Errorf("TRANSCEIVER_METHOD must be callback, event, api or return, got %q", cfg.Transceiver.Method))
	}
	if cfg.Transceiver.Method == models.DeliveryCallback && cfg.Transceiver.CallbackModule == "" {
		errs = append(errs, errors.New("TRANSCEIVER_CALLBACK_MODULE is required for the callback method"))
	}
	if cfg.Transceiver.Method == models.DeliveryEvent && cfg.Events.NatsURL == "" {
		errs = append(errs, errors.New("NATS_URL is required for the event method"))
	}
	if cfg.Transceiver.MonitoringInterval <= 0 || cfg.Transceiver.Timeout <= 0 {
		errs = append(errs, errors.New("TRANSCEIVER_MONITORING_INTERVAL and TRANSCEIVER_TIMEOUT must be positive"))
	}
	if cfg.Transceiver.HistoryLimit <= 0 || cfg.Transceiver.EventBuffer <= 0 {
		errs = append(errs, errors.New("TRANSCEIVER_HISTORY_LIMIT and TRANSCEIVER_EVENT_BUFFER must be positive"))
	}
	if cfg.Transceiver.MaxRetries < 0 {
		errs = append(errs, errors.New("ESPLORA_MAX_RETRIES must not be negative"))
	}

	switch cfg.Reconciliation.Strategy {
	case models.StrategyAfterTransaction:
	case models.StrategyScheduled:
		if cfg.Reconciliation.ScheduledFrequency <= 0 {
			errs = append(errs, errors.New("RECONCILIATION_SCHEDULED_FREQUENCY must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("RECONCILIATION_STRATEGY must be afterTransaction or scheduled, got %q", cfg.Reconciliation.Strategy))
	}
	if cfg.Reconciliation.WarningThreshold.IsNegative() {
		errs = append(errs, errors.New("RECONCILIATION_WARNING_THRESHOLD must not be negative"))
	}

	if cfg.Listener.LookbackWindow <= 0 || cfg.Listener.CleanupInterval <= 0 {
		errs = append(errs, errors.New("LISTENER_LOOKBACK_WINDOW and LISTENER_CLEANUP_INTERVAL must be positive"))
	}
	if cfg.WalletsFile == "" {
		errs = append(errs, errors.New("WALLETS_FILE is required"))
	}
	return errs
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration accepts Go duration syntax ("90s") or plain milliseconds ("60000").
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
	}
	return duration, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %q (%w)", key, value, err)
	}
	return intValue, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s: %q (%w)", key, value, err)
	}
	return boolValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
	}
	return d, nil
}
