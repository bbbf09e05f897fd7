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

	"github.com/aryanduntley/fractaledger-sub002/internal/connector"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	"go.uber.org/zap"
)

// RegisterPrimaryWallet opens the base wallet of c's primary wallet on the
// ledger and runs a first reconciliation. Registering twice is harmless.
func (s *WalletService) RegisterPrimaryWallet(ctx context.Context, c *connector.Connector) (*models.InternalWallet, error) {
	w := c.Wallet()
	base, err := s.ledger.RegisterPrimaryWallet(ctx, w.Blockchain, w.Name, w.Address)
	if err != nil {
		zap.L().Error("Failed to register primary wallet",
			zap.String("wallet", w.Key()),
			zap.String("address", w.Address),
			zap.Error(err))
		return nil, err
	}
	s.AddConnector(c)

	if _, err := s.engine.Reconcile(ctx, w.Blockchain, w.Name); err != nil {
		zap.L().Warn("Initial reconciliation failed", zap.String("wallet", w.Key()), zap.Error(err))
		return base, nil
	}
	return s.ledger.GetInternalWallet(ctx, base.Id)
}

func (s *WalletService) CreateInternalWallet(ctx context.Context, blockchain, primaryWalletName, id string, metadata map[string]any) (*models.InternalWallet, error) {
	if blockchain == "" || primaryWalletName == "" || id == "" {
		return nil, fmt.Errorf("%w: blockchain, primary wallet and id are required", store.ErrInvalidArgument)
	}

	wallet, err := s.ledger.CreateInternalWallet(ctx, blockchain, primaryWalletName, id, metadata)
	if err != nil {
		zap.L().Error("Failed to create internal wallet",
			zap.String("id", id),
			zap.String("primary_wallet", models.WalletKey(blockchain, primaryWalletName)),
			zap.Error(err))
		return nil, err
	}

	zap.L().Info("Internal wallet created",
		zap.String("id", wallet.Id),
		zap.String("primary_wallet", models.WalletKey(blockchain, primaryWalletName)))
	return wallet, nil
}

func (s *WalletService) GetInternalWallet(ctx context.Context, id string) (*models.InternalWallet, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: wallet id is required", store.ErrInvalidArgument)
	}
	return s.ledger.GetInternalWallet(ctx, id)
}

// ListInternalWallets returns the wallets of a primary wallet, base wallet first.
func (s *WalletService) ListInternalWallets(ctx context.Context, blockchain, primaryWalletName string) ([]models.InternalWallet, error) {
	wallets, err := s.ledger.GetInternalWalletsByPrimaryWallet(ctx, blockchain, primaryWalletName)
	if err != nil {
		zap.L().Error("Failed to list internal wallets",
			zap.String("primary_wallet", models.WalletKey(blockchain, primaryWalletName)),
			zap.Error(err))
		return nil, err
	}
	return wallets, nil
}

// mutableWallet loads a wallet that may be funded, withdrawn or transferred.
func (s *WalletService) mutableWallet(ctx context.Context, id string) (*models.InternalWallet, error) {
	w, err := s.GetInternalWallet(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.IsBaseWallet {
		return nil, fmt.Errorf("%w: %s", store.ErrBaseWalletImmutable, id)
	}
	return w, nil
}
