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

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/metrics"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultScheduledFrequency = time.Hour
	DefaultWarningThreshold   = "0.00001"
)

// BalanceSource reports the on-chain balance of a primary wallet. An empty
// address means the wallet's own address.
type BalanceSource interface {
	GetWalletBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

// Ledger is the part of the ledger the engine reads and writes.
type Ledger interface {
	GetInternalWalletsByPrimaryWallet(ctx context.Context, blockchain, primaryWalletName string) ([]models.InternalWallet, error)
	UpdateBaseWalletBalance(ctx context.Context, blockchain, primaryWalletName string, balance decimal.Decimal) (*models.InternalWallet, error)
	RecordBalanceDiscrepancy(ctx context.Context, d models.BalanceDiscrepancy) (*models.BalanceDiscrepancy, error)
	GetBalanceDiscrepancies(ctx context.Context, blockchain, primaryWalletName string, includeResolved bool) ([]models.BalanceDiscrepancy, error)
	ResolveBalanceDiscrepancy(ctx context.Context, id, resolution string) (*models.BalanceDiscrepancy, error)
}

// Mutation is a ledger change that must be serialized with the reconciliation
// of its primary wallet.
type Mutation struct {
	// Delta is how much the mutation changes the aggregate internal balance.
	Delta decimal.Decimal
	// OnChainDelta is the change the mutation causes on-chain, such as a
	// broadcast withdrawal and its fee.
	OnChainDelta decimal.Decimal
	// RequireBalances, when set, runs under the wallet lock with fresh
	// balances before Apply. Returning an error aborts the mutation.
	RequireBalances func(onChain, aggregate decimal.Decimal) error
	Apply           func(ctx context.Context) error
	// Revert undoes Apply when a strict-mode reconciliation fails afterwards.
	Revert func(ctx context.Context) error
}

// Engine keeps each primary wallet's base wallet equal to the on-chain balance
// minus the sum of its internal wallets.
type Engine struct {
	cfg    models.ReconciliationConfig
	ledger Ledger
	logger *zap.Logger
	locks  *keyedMutex

	mu      sync.RWMutex
	sources map[string]BalanceSource

	schedMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg models.ReconciliationConfig, ledger Ledger, logger *zap.Logger) *Engine {
	if cfg.Strategy == "" {
		cfg.Strategy = models.StrategyAfterTransaction
	}
	if cfg.ScheduledFrequency <= 0 {
		cfg.ScheduledFrequency = DefaultScheduledFrequency
	}
	if cfg.WarningThreshold.IsNegative() {
		cfg.WarningThreshold = cfg.WarningThreshold.Abs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		ledger:  ledger,
		logger:  logger,
		locks:   newKeyedMutex(),
		sources: make(map[string]BalanceSource),
	}
}

func (e *Engine) Config() models.ReconciliationConfig { return e.cfg }

// AddWallet makes a primary wallet known to the engine.
func (e *Engine) AddWallet(blockchain, primaryWalletName string, source BalanceSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[models.WalletKey(blockchain, primaryWalletName)] = source
}

// Wallets returns the managed wallet keys in sorted order.
func (e *Engine) Wallets() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.sources))
	for k := range e.sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) source(blockchain, primaryWalletName string) (BalanceSource, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	src, ok := e.sources[models.WalletKey(blockchain, primaryWalletName)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWallet, models.WalletKey(blockchain, primaryWalletName))
	}
	return src, nil
}

// Reconcile recomputes the base wallet of one primary wallet.
func (e *Engine) Reconcile(ctx context.Context, blockchain, primaryWalletName string) (*models.ReconciliationResult, error) {
	unlock, err := e.locks.Lock(ctx, models.WalletKey(blockchain, primaryWalletName))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.reconcileLocked(ctx, blockchain, primaryWalletName, decimal.Zero)
}

// ReconcileSettled reconciles after the on-chain balance moved by
// onChainChange for a spend the ledger already recorded, so the move is not
// reported as drift.
func (e *Engine) ReconcileSettled(ctx context.Context, blockchain, primaryWalletName string, onChainChange decimal.Decimal) (*models.ReconciliationResult, error) {
	unlock, err := e.locks.Lock(ctx, models.WalletKey(blockchain, primaryWalletName))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.reconcileLocked(ctx, blockchain, primaryWalletName, onChainChange)
}

// snapshot holds the balances one reconciliation works from.
type snapshot struct {
	onChain   decimal.Decimal
	aggregate decimal.Decimal
	base      decimal.Decimal
}

func (e *Engine) readBalances(ctx context.Context, blockchain, primaryWalletName string) (snapshot, error) {
	src, err := e.source(blockchain, primaryWalletName)
	if err != nil {
		return snapshot{}, err
	}

	onChain, err := src.GetWalletBalance(ctx, "")
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to fetch on-chain balance: %w", err)
	}

	wallets, err := e.ledger.GetInternalWalletsByPrimaryWallet(ctx, blockchain, primaryWalletName)
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to fetch internal wallets: %w", err)
	}

	snap := snapshot{onChain: onChain, aggregate: decimal.Zero, base: decimal.Zero}
	foundBase := false
	for _, w := range wallets {
		if w.IsBaseWallet {
			snap.base = w.Balance
			foundBase = true
			continue
		}
		snap.aggregate = snap.aggregate.Add(w.Balance)
	}
	if !foundBase {
		return snapshot{}, fmt.Errorf("%w: %s", store.ErrBaseWalletNotFound, models.WalletKey(blockchain, primaryWalletName))
	}
	return snap, nil
}

// reconcileLocked sets the base wallet to the excess balance. expectedChange is
// how much the caller's own mutation moved the base, so only the unexplained
// remainder is compared against the warning threshold.
func (e *Engine) reconcileLocked(ctx context.Context, blockchain, primaryWalletName string, expectedChange decimal.Decimal) (*models.ReconciliationResult, error) {
	key := models.WalletKey(blockchain, primaryWalletName)

	snap, err := e.readBalances(ctx, blockchain, primaryWalletName)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(key, "error").Inc()
		return nil, err
	}

	excess := snap.onChain.Sub(snap.aggregate)
	result := &models.ReconciliationResult{
		Blockchain:               blockchain,
		PrimaryWalletName:        primaryWalletName,
		OnChainBalance:           snap.onChain,
		AggregateInternalBalance: snap.aggregate,
		PreviousBaseBalance:      snap.base,
		ExcessBalance:            excess,
		Timestamp:                time.Now().UTC(),
	}

	difference := excess.Sub(snap.base.Add(expectedChange))
	switch {
	case difference.Abs().GreaterThan(e.cfg.WarningThreshold):
		result.Discrepancy, err = e.recordDiscrepancy(ctx, result, difference)
	case excess.IsNegative():
		// Still short on-chain with nothing new: keep the open record as it is
		result.Discrepancy, err = e.openDiscrepancy(ctx, result, difference)
	}
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(key, "error").Inc()
		return nil, err
	}

	if !excess.Equal(snap.base) {
		if _, err := e.ledger.UpdateBaseWalletBalance(ctx, blockchain, primaryWalletName, excess); err != nil {
			metrics.ReconciliationsTotal.WithLabelValues(key, "error").Inc()
			return nil, fmt.Errorf("failed to update base wallet: %w", err)
		}
	}

	outcome := "ok"
	if result.Discrepancy != nil {
		outcome = "discrepancy"
	}
	metrics.ReconciliationsTotal.WithLabelValues(key, outcome).Inc()
	metrics.OnChainBalance.WithLabelValues(key).Set(snap.onChain.InexactFloat64())
	metrics.ExcessBalance.WithLabelValues(key).Set(excess.InexactFloat64())

	e.logger.Info("Reconciled primary wallet",
		zap.String("wallet", key),
		zap.String("on_chain", snap.onChain.String()),
		zap.String("aggregate", snap.aggregate.String()),
		zap.String("previous_base", snap.base.String()),
		zap.String("base", excess.String()),
		zap.Bool("discrepancy", result.Discrepancy != nil))
	return result, nil
}

func (e *Engine) recordDiscrepancy(ctx context.Context, r *models.ReconciliationResult, difference decimal.Decimal) (*models.BalanceDiscrepancy, error) {
	d, err := e.ledger.RecordBalanceDiscrepancy(ctx, models.BalanceDiscrepancy{
		Blockchain:               r.Blockchain,
		PrimaryWalletName:        r.PrimaryWalletName,
		OnChainBalance:           r.OnChainBalance,
		AggregateInternalBalance: r.AggregateInternalBalance,
		Difference:               difference,
		Timestamp:                r.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record discrepancy: %w", err)
	}
	metrics.DiscrepanciesRecorded.WithLabelValues(models.WalletKey(r.Blockchain, r.PrimaryWalletName)).Inc()
	e.logger.Warn("Balance discrepancy detected",
		zap.String("wallet", models.WalletKey(r.Blockchain, r.PrimaryWalletName)),
		zap.String("id", d.Id),
		zap.String("difference", d.Difference.String()),
		zap.String("excess", r.ExcessBalance.String()))
	return d, nil
}

// openDiscrepancy returns the latest open record of the wallet, recording the
// shortfall when none is open yet.
func (e *Engine) openDiscrepancy(ctx context.Context, r *models.ReconciliationResult, difference decimal.Decimal) (*models.BalanceDiscrepancy, error) {
	open, err := e.ledger.GetBalanceDiscrepancies(ctx, r.Blockchain, r.PrimaryWalletName, false)
	if err != nil {
		return nil, fmt.Errorf("failed to query discrepancies: %w", err)
	}
	if len(open) > 0 {
		return &open[len(open)-1], nil
	}
	return e.recordDiscrepancy(ctx, r, difference)
}

// Mutate applies m to the ledger while holding the wallet's reconciliation
// lock. In strict mode a mutation that would leave the excess balance negative
// fails with a DiscrepancyError and is never applied. An Apply returning an
// OnChainPendingError keeps its ledger change and reconciles with the chain
// taken as unchanged.
func (e *Engine) Mutate(ctx context.Context, blockchain, primaryWalletName string, m Mutation) error {
	if m.Apply == nil {
		return errors.New("mutation has no apply step")
	}
	key := models.WalletKey(blockchain, primaryWalletName)

	unlock, err := e.locks.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	if e.cfg.StrictMode || m.RequireBalances != nil {
		snap, err := e.readBalances(ctx, blockchain, primaryWalletName)
		if err != nil {
			return err
		}
		if m.RequireBalances != nil {
			if err := m.RequireBalances(snap.onChain, snap.aggregate); err != nil {
				return err
			}
		}
		if e.cfg.StrictMode {
			projected := snap.aggregate.Add(m.Delta)
			if excess := snap.onChain.Add(m.OnChainDelta).Sub(projected); excess.IsNegative() {
				e.logger.Warn("Rejecting mutation in strict mode",
					zap.String("wallet", key),
					zap.String("on_chain", snap.onChain.String()),
					zap.String("projected_aggregate", projected.String()))
				return &DiscrepancyError{
					Blockchain:               blockchain,
					PrimaryWalletName:        primaryWalletName,
					OnChainBalance:           snap.onChain,
					AggregateInternalBalance: projected,
					ExcessBalance:            excess,
				}
			}
		}
	}

	onChainDelta := m.OnChainDelta
	var pendingErr error
	if err := m.Apply(ctx); err != nil {
		var pending *OnChainPendingError
		if !errors.As(err, &pending) {
			return err
		}
		onChainDelta = decimal.Zero
		pendingErr = pending.Err
	}

	if e.cfg.Strategy != models.StrategyAfterTransaction {
		return pendingErr
	}

	result, err := e.reconcileLocked(ctx, blockchain, primaryWalletName, onChainDelta.Sub(m.Delta))
	if err == nil && e.cfg.StrictMode && result.ExcessBalance.IsNegative() {
		err = &DiscrepancyError{
			Blockchain:               blockchain,
			PrimaryWalletName:        primaryWalletName,
			OnChainBalance:           result.OnChainBalance,
			AggregateInternalBalance: result.AggregateInternalBalance,
			ExcessBalance:            result.ExcessBalance,
		}
	}
	if err == nil {
		if result.ExcessBalance.IsNegative() {
			e.logger.Warn("Internal balances exceed on-chain balance",
				zap.String("wallet", key),
				zap.String("excess", result.ExcessBalance.String()))
		}
		return pendingErr
	}

	if !e.cfg.StrictMode {
		e.logger.Warn("Post-mutation reconciliation failed", zap.String("wallet", key), zap.Error(err))
		return pendingErr
	}

	if m.Revert != nil {
		if rerr := m.Revert(ctx); rerr != nil {
			e.logger.Error("Failed to revert mutation", zap.String("wallet", key), zap.Error(rerr))
			return errors.Join(err, fmt.Errorf("revert failed: %w", rerr))
		}
		// Bring the base wallet back in line with the reverted ledger
		if _, rerr := e.reconcileLocked(ctx, blockchain, primaryWalletName, decimal.Zero); rerr != nil {
			e.logger.Warn("Reconciliation after revert failed", zap.String("wallet", key), zap.Error(rerr))
		}
	}
	return err
}

// ReconcileAll reconciles every managed wallet concurrently. Results are in
// Wallets order; failed wallets are left nil and their errors joined.
func (e *Engine) ReconcileAll(ctx context.Context) ([]*models.ReconciliationResult, error) {
	keys := e.Wallets()
	results := make([]*models.ReconciliationResult, len(keys))
	errs := make([]error, len(keys))

	var g errgroup.Group
	for i, key := range keys {
		blockchain, name := splitKey(key)
		g.Go(func() error {
			results[i], errs[i] = e.Reconcile(ctx, blockchain, name)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("%s: %w", key, errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

func (e *Engine) Discrepancies(ctx context.Context, blockchain, primaryWalletName string, includeResolved bool) ([]models.BalanceDiscrepancy, error) {
	return e.ledger.GetBalanceDiscrepancies(ctx, blockchain, primaryWalletName, includeResolved)
}

// ResolveDiscrepancy closes a discrepancy record. Records are never deleted.
func (e *Engine) ResolveDiscrepancy(ctx context.Context, id, resolution string) (*models.BalanceDiscrepancy, error) {
	d, err := e.ledger.ResolveBalanceDiscrepancy(ctx, id, resolution)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Discrepancy resolved", zap.String("id", id), zap.String("resolution", resolution))
	return d, nil
}

func splitKey(key string) (string, string) {
	blockchain, name, _ := strings.Cut(key, "/")
	return blockchain, name
}
