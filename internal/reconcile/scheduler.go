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
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"go.uber.org/zap"
)

// Start runs one reconciliation ticker per wallet when the strategy is
// scheduled. It is a no-op for afterTransaction and when already started.
func (e *Engine) Start(ctx context.Context) {
	if e.cfg.Strategy != models.StrategyScheduled {
		return
	}

	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, e.cancel = context.WithCancel(ctx)
	for _, key := range e.Wallets() {
		blockchain, name := splitKey(key)
		e.wg.Add(1)
		go e.schedule(ctx, blockchain, name)
	}

	e.logger.Info("Scheduled reconciliation started",
		zap.Duration("frequency", e.cfg.ScheduledFrequency),
		zap.Int("wallets", len(e.Wallets())))
}

// Stop cancels the tickers and waits for running reconciliations to return.
func (e *Engine) Stop() {
	e.schedMu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.schedMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
	e.logger.Info("Scheduled reconciliation stopped")
}

func (e *Engine) schedule(ctx context.Context, blockchain, primaryWalletName string) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.ScheduledFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Reconcile(ctx, blockchain, primaryWalletName); err != nil && ctx.Err() == nil {
				e.logger.Warn("Scheduled reconciliation failed",
					zap.String("wallet", models.WalletKey(blockchain, primaryWalletName)),
					zap.Error(err))
			}
		}
	}
}
