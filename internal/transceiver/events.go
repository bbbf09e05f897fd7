package transceiver

import (
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
)

// TransactionEvent is emitted for every broadcast in the event delivery method.
// The consumer relays TxHex and reports back with SubmitTransactionResult.
type TransactionEvent struct {
	Wallet    string         `json:"wallet"`
	Txid      string         `json:"txid"`
	TxHex     string         `json:"txHex"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ActivityKind labels an ActivityEvent
type ActivityKind string

const (
	ActivityBroadcast      ActivityKind = "broadcast"
	ActivityStatusChanged  ActivityKind = "status_changed"
	ActivityTransactions   ActivityKind = "transactions"
	ActivityMonitorStarted ActivityKind = "monitor_started"
	ActivityMonitorStopped ActivityKind = "monitor_stopped"
)

type ActivityEvent struct {
	Wallet    string          `json:"wallet"`
	Kind      ActivityKind    `json:"kind"`
	Txid      string          `json:"txid,omitempty"`
	Address   string          `json:"address,omitempty"`
	Status    models.TxStatus `json:"status,omitempty"`
	Count     int             `json:"count,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type ErrorEvent struct {
	Wallet    string    `json:"wallet"`
	Op        string    `json:"op"`
	Address   string    `json:"address,omitempty"`
	Txid      string    `json:"txid,omitempty"`
	Err       error     `json:"-"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
