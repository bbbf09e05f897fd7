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

package transceiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/metrics"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultMonitoringInterval = 60 * time.Second
	DefaultTimeout            = 30 * time.Second
	DefaultHistoryLimit       = 50
	DefaultEventBuffer        = 64
)

// Config fixes how a Manager delivers and monitors.
type Config struct {
	// Wallet labels events, logs and metrics.
	Wallet             string
	Method             models.DeliveryMethod
	MonitoringInterval time.Duration
	Timeout            time.Duration
	HistoryLimit       int
	EventBuffer        int
	// ReadyTTL bounds how long a ready transaction waits for its relay before
	// PruneSettled drops it. Zero keeps ready transactions until settled.
	ReadyTTL           time.Duration
}

func (c Config) withDefaults() Config {
	if c.Method == "" {
		c.Method = models.DeliveryCallback
	}
	if c.MonitoringInterval <= 0 {
		c.MonitoringInterval = DefaultMonitoringInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	return c
}

// Manager delivers signed transactions with one fixed method, tracks them,
// and monitors addresses for new activity.
type Manager struct {
	cfg         Config
	transceiver UTXOTransceiver
	logger      *zap.Logger

	pending *pendingRegistry

	monitorMu sync.Mutex
	monitors  map[string]*subscription

	transactions chan TransactionEvent
	activity     chan ActivityEvent
	errs         chan ErrorEvent

	closeOnce sync.Once
	closed    chan struct{}
}

// NewManager validates cfg. The transceiver is required for the callback
// method and optional otherwise, in which case it only serves monitoring.
func NewManager(cfg Config, t UTXOTransceiver, logger *zap.Logger) (*Manager, error) {
	cfg = cfg.withDefaults()
	if !cfg.Method.Valid() {
		return nil, fmt.Errorf("invalid delivery method %q", cfg.Method)
	}
	if cfg.Method == models.DeliveryCallback && t == nil {
		return nil, &IncompleteTransceiverError{Missing: []string{"BroadcastTransaction", "MonitorWalletAddress", "StopMonitoringWalletAddress", "GetWalletBalance", "GetTransactionHistory", "GetUTXOs"}}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		cfg:          cfg,
		transceiver:  t,
		logger:       logger.With(zap.String("wallet", cfg.Wallet), zap.String("method", string(cfg.Method))),
		pending:      newPendingRegistry(),
		monitors:     make(map[string]*subscription),
		transactions: make(chan TransactionEvent, cfg.EventBuffer),
		activity:     make(chan ActivityEvent, cfg.EventBuffer),
		errs:         make(chan ErrorEvent, cfg.EventBuffer),
		closed:       make(chan struct{}),
	}, nil
}

// Initialize runs the transceiver's setup hook if it has one.
func (m *Manager) Initialize(ctx context.Context) error {
	if initializer, ok := m.transceiver.(Initializer); ok {
		if err := initializer.Initialize(ctx); err != nil {
			return fmt.Errorf("unable to initialize transceiver: %w", err)
		}
	}
	return nil
}

func (m *Manager) Method() models.DeliveryMethod { return m.cfg.Method }

// Transactions carries TransactionEvents in the event method.
func (m *Manager) Transactions() <-chan TransactionEvent { return m.transactions }

// Activity reports broadcasts, status changes and monitoring deliveries. Events
// are dropped when nobody reads.
func (m *Manager) Activity() <-chan ActivityEvent { return m.activity }

// Errors reports non-fatal failures such as polling errors. Events are dropped
// when nobody reads.
func (m *Manager) Errors() <-chan ErrorEvent { return m.errs }

// Done is closed by Cleanup.
func (m *Manager) Done() <-chan struct{} { return m.closed }

func (m *Manager) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// BroadcastTransaction hands a signed transaction to the delivery method. An
// empty txid gets a generated id.
func (m *Manager) BroadcastTransaction(ctx context.Context, txid, txHex string, metadata map[string]any) (*models.BroadcastResult, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	if txHex == "" {
		return nil, fmt.Errorf("transaction hex is empty")
	}
	if txid == "" {
		txid = uuid.New().String()
	}

	record, started := m.pending.begin(txid, txHex, metadata)
	if !started {
		m.logger.Info("Transaction already delivered, skipping",
			zap.String("txid", txid),
			zap.String("status", string(record.Status)))
		return m.result(record), nil
	}
	metrics.PendingTransactions.WithLabelValues(m.cfg.Wallet).Set(float64(m.pending.len()))

	var (
		final models.PendingTransaction
		err   error
	)
	switch m.cfg.Method {
	case models.DeliveryCallback:
		final, err = m.broadcastCallback(ctx, txid, txHex, metadata)
	case models.DeliveryEvent:
		final, err = m.broadcastEvent(ctx, txid, txHex, metadata)
	case models.DeliveryAPI, models.DeliveryReturn:
		final, err = m.pending.transition(txid, models.TxStatusReady, "", "")
	}

	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.BroadcastsTotal.WithLabelValues(m.cfg.Wallet, string(m.cfg.Method), status).Inc()
	if err != nil {
		m.emitError("broadcast", "", txid, err)
		return nil, err
	}

	m.emitActivity(ActivityEvent{Kind: ActivityBroadcast, Txid: txid, Status: final.Status})
	m.logger.Info("Transaction delivered",
		zap.String("txid", txid),
		zap.String("status", string(final.Status)))
	return m.result(final), nil
}

func (m *Manager) result(tx models.PendingTransaction) *models.BroadcastResult {
	res := &models.BroadcastResult{
		Txid:     tx.Txid,
		Status:   tx.Status,
		Method:   m.cfg.Method,
		Metadata: tx.Metadata,
	}
	if m.cfg.Method == models.DeliveryReturn {
		res.TxHex = tx.TxHex
	}
	return res
}

func (m *Manager) broadcastCallback(ctx context.Context, txid, txHex string, metadata map[string]any) (models.PendingTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	type outcome struct {
		txid string
		err  error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("transceiver panicked: %v", r)}
			}
		}()
		id, err := m.transceiver.BroadcastTransaction(ctx, txHex, metadata)
		done <- outcome{txid: id, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = outcome{err: ctx.Err()}
	}
	metrics.BroadcastDuration.WithLabelValues(m.cfg.Wallet).Observe(time.Since(start).Seconds())

	if out.err != nil {
		// The node may still have accepted a timed out broadcast, so the
		// record stays pending until a status update settles it.
		if errors.Is(out.err, context.DeadlineExceeded) {
			m.pending.markTimedOut(txid, out.err.Error())
			m.logger.Warn("Broadcast outcome unknown",
				zap.String("txid", txid),
				zap.Error(out.err))
			return models.PendingTransaction{}, &TimeoutError{Op: "broadcast " + txid, Txid: txid, Err: out.err}
		}
		if _, terr := m.pending.transition(txid, models.TxStatusFailed, "", out.err.Error()); terr != nil {
			m.logger.Warn("Unable to mark transaction failed", zap.String("txid", txid), zap.Error(terr))
		}
		return models.PendingTransaction{}, &BroadcastError{Txid: txid, Err: out.err}
	}

	if out.txid != "" && out.txid != txid {
		m.logger.Warn("Transceiver reported a different txid",
			zap.String("txid", txid),
			zap.String("reported_txid", out.txid))
	}
	return m.pending.transition(txid, models.TxStatusBroadcasted, out.txid, "")
}

func (m *Manager) broadcastEvent(ctx context.Context, txid, txHex string, metadata map[string]any) (models.PendingTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	ev := TransactionEvent{Wallet: m.cfg.Wallet, Txid: txid, TxHex: txHex, Metadata: metadata, Timestamp: time.Now().UTC()}
	select {
	case m.transactions <- ev:
	case <-ctx.Done():
		if _, terr := m.pending.transition(txid, models.TxStatusFailed, "", "event not consumed"); terr != nil {
			m.logger.Warn("Unable to mark transaction failed", zap.String("txid", txid), zap.Error(terr))
		}
		return models.PendingTransaction{}, &BroadcastError{
			Txid: txid,
			Err:  &TimeoutError{Op: "emit transaction event " + txid, Txid: txid, Err: ctx.Err()},
		}
	case <-m.closed:
		return models.PendingTransaction{}, ErrManagerClosed
	}
	return m.pending.transition(txid, models.TxStatusReady, "", "")
}

// ReadyTransactions lists transactions waiting for an external relay, oldest first.
func (m *Manager) ReadyTransactions() []models.PendingTransaction {
	return m.pending.withStatus(models.TxStatusReady)
}

// SubmitTransactionResult records the outcome of an external relay. A
// non-empty errMsg marks the transaction failed.
func (m *Manager) SubmitTransactionResult(txid, result, errMsg string) (models.PendingTransaction, error) {
	to := models.TxStatusBroadcasted
	if errMsg != "" {
		to = models.TxStatusFailed
	}
	return m.UpdateTransactionStatus(txid, to, result, errMsg)
}

func (m *Manager) UpdateTransactionStatus(txid string, status models.TxStatus, result, errMsg string) (models.PendingTransaction, error) {
	tx, err := m.pending.transition(txid, status, result, errMsg)
	if err != nil {
		return tx, err
	}
	m.emitActivity(ActivityEvent{Kind: ActivityStatusChanged, Txid: txid, Status: status})
	m.logger.Info("Transaction status updated",
		zap.String("txid", txid),
		zap.String("status", string(status)))
	return tx, nil
}

// PendingTransaction returns the tracked record for txid. Reading a settled
// record makes it eligible for PruneSettled.
func (m *Manager) PendingTransaction(txid string) (models.PendingTransaction, bool) {
	return m.pending.get(txid)
}

// PruneSettled drops confirmed and failed records that have been read, and
// ready records older than ReadyTTL.
func (m *Manager) PruneSettled() int {
	var cutoff time.Time
	if m.cfg.ReadyTTL > 0 {
		cutoff = time.Now().UTC().Add(-m.cfg.ReadyTTL)
	}
	n := m.pending.prune(cutoff)
	if n > 0 {
		m.logger.Debug("Pruned transactions", zap.Int("count", n))
	}
	metrics.PendingTransactions.WithLabelValues(m.cfg.Wallet).Set(float64(m.pending.len()))
	return n
}

func (m *Manager) queryTransceiver() (UTXOTransceiver, error) {
	if m.cfg.Method != models.DeliveryCallback || m.transceiver == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransceiverUnavailable, m.cfg.Method)
	}
	return m.transceiver, nil
}

func (m *Manager) wrapQueryErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (m *Manager) GetWalletBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	t, err := m.queryTransceiver()
	if err != nil {
		return decimal.Zero, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	bal, err := t.GetWalletBalance(ctx, address)
	if err != nil {
		return decimal.Zero, m.wrapQueryErr("get wallet balance", err)
	}
	return bal, nil
}

func (m *Manager) GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error) {
	t, err := m.queryTransceiver()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = m.cfg.HistoryLimit
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	txs, err := t.GetTransactionHistory(ctx, address, limit)
	if err != nil {
		return nil, m.wrapQueryErr("get transaction history", err)
	}
	return txs, nil
}

func (m *Manager) GetUTXOs(ctx context.Context, address string) ([]models.UTXO, error) {
	t, err := m.queryTransceiver()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	utxos, err := t.GetUTXOs(ctx, address)
	if err != nil {
		return nil, m.wrapQueryErr("get utxos", err)
	}
	return utxos, nil
}

// EstimateFeeRate asks the transceiver for a fee rate. ErrTransceiverUnavailable
// is returned when it cannot quote one.
func (m *Manager) EstimateFeeRate(ctx context.Context, target int) (int64, error) {
	fe, ok := m.transceiver.(FeeEstimator)
	if !ok {
		return 0, fmt.Errorf("%w: no fee estimates", ErrTransceiverUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	rate, err := fe.EstimateFeeRate(ctx, target)
	if err != nil {
		return 0, m.wrapQueryErr("estimate fee rate", err)
	}
	return rate, nil
}

// Cleanup stops every monitor, drops tracked transactions and releases the
// transceiver. The manager cannot be used afterwards.
func (m *Manager) Cleanup(ctx context.Context) error {
	var cleanupErr error
	m.closeOnce.Do(func() {
		m.stopAllMonitors(ctx)
		m.pending.clear()
		metrics.PendingTransactions.WithLabelValues(m.cfg.Wallet).Set(0)
		close(m.closed)

		if c, ok := m.transceiver.(Cleaner); ok {
			if err := c.Cleanup(ctx); err != nil {
				cleanupErr = fmt.Errorf("transceiver cleanup failed: %w", err)
			}
		}
		m.logger.Info("Transceiver manager cleaned up")
	})
	return cleanupErr
}

func (m *Manager) emitActivity(ev ActivityEvent) {
	ev.Wallet = m.cfg.Wallet
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case m.activity <- ev:
	default:
		m.logger.Debug("Activity event dropped", zap.String("kind", string(ev.Kind)))
	}
}

func (m *Manager) emitError(op, address, txid string, err error) {
	ev := ErrorEvent{
		Wallet:    m.cfg.Wallet,
		Op:        op,
		Address:   address,
		Txid:      txid,
		Err:       err,
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
	}
	select {
	case m.errs <- ev:
	default:
		m.logger.Warn("Error event dropped", zap.String("op", op), zap.Error(err))
	}
}
