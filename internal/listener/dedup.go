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
	"time"

	"go.uber.org/zap"
)

// processedKey scopes a txid to one primary wallet.
func processedKey(walletKey, txid string) string {
	return walletKey + "|" + txid
}

// isTransactionProcessed checks if we've already processed this transaction
func (l *WalletListener) isTransactionProcessed(walletKey, txid string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	_, exists := l.processedTxIds[processedKey(walletKey, txid)]
	return exists
}

// markTransactionProcessed records txid and reports whether it was new.
func (l *WalletListener) markTransactionProcessed(walletKey, txid string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	key := processedKey(walletKey, txid)
	if _, exists := l.processedTxIds[key]; exists {
		return false
	}
	l.processedTxIds[key] = time.Now().UTC()
	return true
}

// cleanupLoop periodically cleans old processed transaction IDs
func (l *WalletListener) cleanupLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupProcessedTransactions(time.Now().UTC())
			l.pruneDeliveries()
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanupProcessedTransactions removes entries older than the lookback window
func (l *WalletListener) cleanupProcessedTransactions(now time.Time) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	cutoff := now.Add(-l.lookbackWindow)
	cleaned := 0

	for key, processedTime := range l.processedTxIds {
		if processedTime.Before(cutoff) {
			delete(l.processedTxIds, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		zap.L().Debug("Cleaned up old processed transactions",
			zap.Int("cleaned", cleaned),
			zap.Int("remaining", len(l.processedTxIds)))
	}
	return cleaned
}

// pruneDeliveries drops settled and expired delivery records of every wallet
// whose monitor tracks them.
func (l *WalletListener) pruneDeliveries() int {
	total := 0
	for _, m := range l.wallets {
		p, ok := m.(Pruner)
		if !ok {
			continue
		}
		if n := p.PruneSettled(); n > 0 {
			zap.L().Debug("Pruned delivery records",
				zap.String("wallet", m.Wallet().Key()),
				zap.Int("pruned", n))
			total += n
		}
	}
	return total
}
