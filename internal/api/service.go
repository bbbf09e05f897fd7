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

package api

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aryanduntley/fractaledger-sub002/internal/connector"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/reconcile"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	"go.uber.org/zap"
)

// WalletService runs wallet operations against the ledger, keeping every
// balance change serialized with the reconciliation of its primary wallet.
type WalletService struct {
	ledger *store.Client
	engine *reconcile.Engine

	mu         sync.RWMutex
	connectors map[string]*connector.Connector
}

func NewWalletService(ledger *store.Client, engine *reconcile.Engine) *WalletService {
	return &WalletService{
		ledger:     ledger,
		engine:     engine,
		connectors: make(map[string]*connector.Connector),
	}
}

func (s *WalletService) Engine() *reconcile.Engine { return s.engine }

// AddConnector makes a primary wallet available for withdrawals and
// reconciliation without touching the ledger.
func (s *WalletService) AddConnector(c *connector.Connector) {
	w := c.Wallet()
	s.mu.Lock()
	s.connectors[w.Key()] = c
	s.mu.Unlock()
	s.engine.AddWallet(w.Blockchain, w.Name, c)
}

// Connector returns the connector of a primary wallet.
func (s *WalletService) Connector(blockchain, primaryWalletName string) (*connector.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connectors[models.WalletKey(blockchain, primaryWalletName)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", reconcile.ErrUnknownWallet, models.WalletKey(blockchain, primaryWalletName))
	}
	return c, nil
}

// Connectors returns every registered connector ordered by wallet key.
func (s *WalletService) Connectors() []*connector.Connector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*connector.Connector, 0, len(s.connectors))
	for _, c := range s.connectors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet().Key() < out[j].Wallet().Key() })
	return out
}

func (s *WalletService) HealthCheck(ctx context.Context) error {
	if _, err := s.ledger.GetBalanceDiscrepancies(ctx, "", "", false); err != nil {
		return fmt.Errorf("ledger health check failed: %w", err)
	}
	return nil
}

// Close releases every connector and the ledger client.
func (s *WalletService) Close(ctx context.Context) {
	for _, c := range s.Connectors() {
		if err := c.Cleanup(ctx); err != nil {
			zap.L().Warn("Connector cleanup failed", zap.String("wallet", c.Wallet().Key()), zap.Error(err))
		}
	}
	s.ledger.Close()
}
