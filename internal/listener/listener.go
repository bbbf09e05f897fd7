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

package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/transceiver"

	"go.uber.org/zap"
)

const (
	DefaultLookbackWindow  = 6 * time.Hour
	DefaultCleanupInterval = 15 * time.Minute
)

// Monitor is the part of a connector the listener drives. An empty address
// means the wallet's own address.
type Monitor interface {
	Wallet() models.PrimaryWallet
	MonitorWalletAddress(ctx context.Context, address string, callback transceiver.TransactionCallback) (models.MonitoringSubscription, error)
	StopMonitoringWalletAddress(ctx context.Context, address string) (bool, error)
	GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error)
}

// Pruner is implemented by monitors that track delivered transactions.
type Pruner interface {
	PruneSettled() int
}

// Reconciler brings a primary wallet's base wallet in line with the chain.
type Reconciler interface {
	Reconcile(ctx context.Context, blockchain, primaryWalletName string) (*models.ReconciliationResult, error)
}

// WalletListenerConfig contains configuration for WalletListener
type WalletListenerConfig struct {
	Wallets         []Monitor
	Reconciler      Reconciler
	LookbackWindow  time.Duration
	CleanupInterval time.Duration
	HistoryLimit    int
}

// WalletListener watches primary wallet addresses and reconciles a wallet
// whenever new on-chain activity shows up.
type WalletListener struct {
	wallets    []Monitor
	reconciler Reconciler

	// State management for processed transactions
	processedTxIds  map[string]time.Time
	mutex           sync.RWMutex
	lookbackWindow  time.Duration
	cleanupInterval time.Duration
	historyLimit    int

	ctx      context.Context
	started  []Monitor
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWalletListener creates a new wallet listener
func NewWalletListener(cfg WalletListenerConfig) *WalletListener {
	if cfg.LookbackWindow <= 0 {
		cfg.LookbackWindow = DefaultLookbackWindow
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = transceiver.DefaultHistoryLimit
	}
	return &WalletListener{
		wallets:         cfg.Wallets,
		reconciler:      cfg.Reconciler,
		processedTxIds:  make(map[string]time.Time),
		lookbackWindow:  cfg.LookbackWindow,
		cleanupInterval: cfg.CleanupInterval,
		historyLimit:    cfg.HistoryLimit,
		stopChan:        make(chan struct{}),
	}
}

// Start recovers recent activity, reconciles every wallet once and subscribes
// to each primary address.
func (l *WalletListener) Start(ctx context.Context) error {
	zap.L().Info("Starting wallet listener", zap.Int("wallets", len(l.wallets)))

	if len(l.wallets) == 0 {
		zap.L().Warn("No wallets to monitor - check the wallets file and auto-monitor settings")
		return fmt.Errorf("no wallets to monitor")
	}
	l.ctx = ctx

	if err := l.performStartupRecovery(ctx); err != nil {
		zap.L().Error("Startup recovery failed", zap.Error(err))
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	for _, m := range l.wallets {
		w := m.Wallet()
		sub, err := m.MonitorWalletAddress(ctx, "", l.callback(w))
		if err != nil {
			l.stopMonitors()
			return fmt.Errorf("failed to monitor %s: %w", w.Key(), err)
		}
		l.started = append(l.started, m)
		zap.L().Info("Monitoring primary wallet",
			zap.String("wallet", w.Key()),
			zap.String("address", sub.Address),
			zap.String("method", string(sub.Method)))
	}

	l.wg.Add(1)
	go l.cleanupLoop(ctx)

	zap.L().Info("Wallet listener started successfully",
		zap.Duration("lookback_window", l.lookbackWindow),
		zap.Duration("cleanup_interval", l.cleanupInterval))
	return nil
}

// Stop cancels every subscription and waits for the cleanup loop to exit.
func (l *WalletListener) Stop() {
	l.stopOnce.Do(func() {
		zap.L().Info("Stopping wallet listener")
		close(l.stopChan)
		l.stopMonitors()
		l.wg.Wait()
		zap.L().Info("Wallet listener stopped")
	})
}

func (l *WalletListener) stopMonitors() {
	for _, m := range l.started {
		if _, err := m.StopMonitoringWalletAddress(context.Background(), ""); err != nil {
			zap.L().Warn("Failed to stop monitoring", zap.String("wallet", m.Wallet().Key()), zap.Error(err))
		}
	}
	l.started = nil
}

// performStartupRecovery marks the transactions of the lookback window as
// seen and reconciles each wallet, so activity from before the start is
// accounted for once.
func (l *WalletListener) performStartupRecovery(ctx context.Context) error {
	zap.L().Info("Starting startup recovery process")

	since := time.Now().UTC().Add(-l.lookbackWindow)
	var failed []string
	for _, m := range l.wallets {
		w := m.Wallet()
		recovered, err := l.recoverWallet(ctx, m, since)
		if err != nil {
			zap.L().Error("Failed to recover wallet",
				zap.String("wallet", w.Key()),
				zap.Error(err))
			failed = append(failed, w.Key())
			continue
		}
		zap.L().Info("Recovered wallet",
			zap.String("wallet", w.Key()),
			zap.Int("transactions", recovered))
	}

	if len(failed) > 0 {
		zap.L().Warn("Startup recovery completed with some failures",
			zap.Int("total_wallets", len(l.wallets)),
			zap.Strings("failed_wallets", failed))
		// If more than half the wallets failed, consider this a critical issue
		if len(failed) > len(l.wallets)/2 {
			return fmt.Errorf("recovery failed for majority of wallets (%d/%d): %v", len(failed), len(l.wallets), failed)
		}
	}
	return nil
}

func (l *WalletListener) recoverWallet(ctx context.Context, m Monitor, since time.Time) (int, error) {
	w := m.Wallet()
	txs, err := m.GetTransactionHistory(ctx, "", l.historyLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch transaction history: %w", err)
	}

	recovered := 0
	for _, tx := range txs {
		// Unconfirmed transactions carry no timestamp yet
		if !tx.Timestamp.IsZero() && tx.Timestamp.Before(since) {
			continue
		}
		if l.markTransactionProcessed(w.Key(), tx.Txid) {
			recovered++
		}
	}

	if _, err := l.reconciler.Reconcile(ctx, w.Blockchain, w.Name); err != nil {
		return recovered, fmt.Errorf("failed to reconcile: %w", err)
	}
	return recovered, nil
}

func (l *WalletListener) callback(w models.PrimaryWallet) transceiver.TransactionCallback {
	return func(txs []models.Transaction) {
		l.handleTransactions(l.ctx, w, txs)
	}
}

// ANSI color helpers for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// handleTransactions reconciles w when txs hold anything not seen before.
// Returns the number of new transactions.
func (l *WalletListener) handleTransactions(ctx context.Context, w models.PrimaryWallet, txs []models.Transaction) int {
	newCount := 0
	for _, tx := range txs {
		if !l.markTransactionProcessed(w.Key(), tx.Txid) {
			continue
		}
		newCount++

		color := colorGreen
		if tx.Type == models.TransactionOutgoing {
			color = colorYellow
		}
		fmt.Printf("  %s%s %s %s %s (%d conf)%s\n",
			color, w.Key(), tx.Type, tx.Amount.String(), shortTxid(tx.Txid), tx.Confirmations, colorReset)
	}

	if newCount == 0 {
		zap.L().Debug("All transactions already processed",
			zap.String("wallet", w.Key()),
			zap.Int("total", len(txs)))
		return 0
	}

	result, err := l.reconciler.Reconcile(ctx, w.Blockchain, w.Name)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return newCount
		}
		fmt.Printf("  %s✗ %s reconciliation failed: %s%s\n", colorRed, w.Key(), err, colorReset)
		zap.L().Error("Reconciliation after wallet activity failed",
			zap.String("wallet", w.Key()),
			zap.Int("new_transactions", newCount),
			zap.Error(err))
		return newCount
	}

	fmt.Printf("%s[%s] %s reconciled: on-chain %s, base %s%s\n",
		colorCyan, time.Now().Format("15:04:05"), w.Key(),
		result.OnChainBalance.String(), result.ExcessBalance.String(), colorReset)
	return newCount
}

func shortTxid(txid string) string {
	if len(txid) > 12 {
		return txid[:12] + "..."
	}
	return txid
}
