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
	"errors"
	"fmt"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/reconcile"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BalanceReport compares a primary wallet's on-chain balance with its ledger.
type BalanceReport struct {
	Blockchain               string                  `json:"blockchain"`
	PrimaryWalletName        string                  `json:"primaryWalletName"`
	Address                  string                  `json:"address"`
	OnChainBalance           decimal.Decimal         `json:"onChainBalance"`
	BaseBalance              decimal.Decimal         `json:"baseBalance"`
	AggregateInternalBalance decimal.Decimal         `json:"aggregateInternalBalance"`
	Wallets                  []models.InternalWallet `json:"wallets"`
	// Consistent holds when onChain == base + aggregate.
	Consistent bool `json:"consistent"`
}

// FundInternalWallet allocates amount of the primary wallet's unallocated
// balance to id.
func (s *WalletService) FundInternalWallet(ctx context.Context, id string, amount decimal.Decimal, reference string) (*models.InternalWallet, error) {
	if err := store.ValidateAmount(amount); err != nil {
		return nil, err
	}
	w, err := s.mutableWallet(ctx, id)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Funding internal wallet",
		zap.String("id", id),
		zap.String("amount", amount.String()),
		zap.String("reference", reference))

	err = s.engine.Mutate(ctx, w.Blockchain, w.PrimaryWalletName, reconcile.Mutation{
		Delta: amount,
		Apply: func(ctx context.Context) error {
			_, err := s.ledger.FundInternalWallet(ctx, id, amount, reference)
			return err
		},
		Revert: func(ctx context.Context) error {
			_, err := s.ledger.WithdrawFromInternalWallet(ctx, id, amount, revertReference(reference))
			return err
		},
	})
	if err != nil {
		s.logMutationError("Funding failed", id, amount, reference, err)
		return nil, err
	}

	return s.ledger.GetInternalWallet(ctx, id)
}

func (s *WalletService) TransferBetweenInternalWallets(ctx context.Context, fromId, toId string, amount decimal.Decimal, reference string) (*store.TransferResult, error) {
	if err := store.ValidateAmount(amount); err != nil {
		return nil, err
	}
	from, err := s.mutableWallet(ctx, fromId)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Transferring between internal wallets",
		zap.String("from", fromId),
		zap.String("to", toId),
		zap.String("amount", amount.String()),
		zap.String("reference", reference))

	var result *store.TransferResult
	err = s.engine.Mutate(ctx, from.Blockchain, from.PrimaryWalletName, reconcile.Mutation{
		Apply: func(ctx context.Context) (err error) {
			result, err = s.ledger.TransferBetweenInternalWallets(ctx, fromId, toId, amount, reference)
			return err
		},
		Revert: func(ctx context.Context) error {
			_, err := s.ledger.TransferBetweenInternalWallets(ctx, toId, fromId, amount, revertReference(reference))
			return err
		},
	})
	if err != nil {
		s.logMutationError("Transfer failed", fromId, amount, reference, err)
		return nil, err
	}
	return result, nil
}

// GetBalanceReport reads the on-chain balance and the ledger of one primary
// wallet without reconciling.
func (s *WalletService) GetBalanceReport(ctx context.Context, blockchain, primaryWalletName string) (*BalanceReport, error) {
	c, err := s.Connector(blockchain, primaryWalletName)
	if err != nil {
		return nil, err
	}

	onChain, err := c.GetWalletBalance(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch on-chain balance: %w", err)
	}
	wallets, err := s.ListInternalWallets(ctx, blockchain, primaryWalletName)
	if err != nil {
		return nil, err
	}

	report := &BalanceReport{
		Blockchain:        blockchain,
		PrimaryWalletName: primaryWalletName,
		Address:           c.Wallet().Address,
		OnChainBalance:    onChain,
		Wallets:           []models.InternalWallet{},
	}
	for _, w := range wallets {
		if w.IsBaseWallet {
			report.BaseBalance = w.Balance
			continue
		}
		report.AggregateInternalBalance = report.AggregateInternalBalance.Add(w.Balance)
		report.Wallets = append(report.Wallets, w)
	}
	report.Consistent = onChain.Equal(report.BaseBalance.Add(report.AggregateInternalBalance))
	return report, nil
}

func (s *WalletService) Reconcile(ctx context.Context, blockchain, primaryWalletName string) (*models.ReconciliationResult, error) {
	return s.engine.Reconcile(ctx, blockchain, primaryWalletName)
}

func (s *WalletService) Discrepancies(ctx context.Context, blockchain, primaryWalletName string, includeResolved bool) ([]models.BalanceDiscrepancy, error) {
	return s.engine.Discrepancies(ctx, blockchain, primaryWalletName, includeResolved)
}

func (s *WalletService) ResolveDiscrepancy(ctx context.Context, id, resolution string) (*models.BalanceDiscrepancy, error) {
	return s.engine.ResolveDiscrepancy(ctx, id, resolution)
}

func (s *WalletService) logMutationError(msg, id string, amount decimal.Decimal, reference string, err error) {
	fields := []zap.Field{
		zap.String("id", id),
		zap.String("amount", amount.String()),
		zap.String("reference", reference),
		zap.Error(err),
	}
	if errors.Is(err, store.ErrDuplicateTransaction) {
		zap.L().Info("Duplicate transaction detected", fields...)
		return
	}
	zap.L().Error(msg, fields...)
}

func revertReference(reference string) string {
	if reference == "" {
		return ""
	}
	return reference + ":revert"
}
