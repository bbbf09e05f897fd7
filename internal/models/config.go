package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database       DatabaseConfig
	Ledger         LedgerConfig
	Formance       FormanceConfig
	Transceiver    TransceiverConfig
	Reconciliation ReconciliationConfig
	Listener       ListenerConfig
	Events         EventsConfig
	Metrics        MetricsConfig
	WalletsFile    string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// LedgerBackend selects the store.Ledger implementation.
type LedgerBackend string

const (
	LedgerBackendSQLite   LedgerBackend = "sqlite"
	LedgerBackendFormance LedgerBackend = "formance"
)

type LedgerConfig struct {
	Backend LedgerBackend
}

// FormanceConfig holds Formance Stack connection settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// DeliveryMethod is how a TransceiverManager hands signed transactions off.
type DeliveryMethod string

const (
	DeliveryCallback DeliveryMethod = "callback"
	DeliveryEvent    DeliveryMethod = "event"
	DeliveryAPI      DeliveryMethod = "api"
	DeliveryReturn   DeliveryMethod = "return"
)

// Valid reports whether m is one of the four supported methods.
func (m DeliveryMethod) Valid() bool {
	switch m {
	case DeliveryCallback, DeliveryEvent, DeliveryAPI, DeliveryReturn:
		return true
	}
	return false
}

// TransceiverConfig holds the broadcast and monitoring settings shared by all
// primary wallets unless a wallet overrides them.
type TransceiverConfig struct {
	Method             DeliveryMethod
	CallbackModule     string
	URL                string
	MonitoringInterval time.Duration
	AutoMonitor        bool
	Timeout            time.Duration
	HistoryLimit       int
	EventBuffer        int
	ReadyTTL           time.Duration
	MaxRetries         int
}

// ReconciliationStrategy controls when reconciliations run.
type ReconciliationStrategy string

const (
	StrategyAfterTransaction ReconciliationStrategy = "afterTransaction"
	StrategyScheduled        ReconciliationStrategy = "scheduled"
)

type ReconciliationConfig struct {
	Strategy           ReconciliationStrategy
	ScheduledFrequency time.Duration
	WarningThreshold   decimal.Decimal
	StrictMode         bool
}

// ListenerConfig holds wallet listener settings
type ListenerConfig struct {
	LookbackWindow  time.Duration
	CleanupInterval time.Duration
}

// EventsConfig holds NATS forwarding settings. An empty URL disables forwarding.
type EventsConfig struct {
	NatsURL       string
	SubjectPrefix string
}

type MetricsConfig struct {
	Addr string
}
