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

package database

import (
	"context"
	"fmt"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FundInternalWallet credits id from its primary wallet.
func (s *Service) FundInternalWallet(ctx context.Context, id string, amount decimal.Decimal, reference string) (*models.InternalWallet, error) {
	if err := store.ValidateAmount(amount); err != nil {
		return nil, err
	}
	w, err := s.GetInternalWallet(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		TransactionType:  txTypeFund,
		Reference:        reference,
		Postings:         []Posting{{WalletId: id, Amount: amount}},
		CounterpartyType: accountPrimaryWallet,
		Counterparty:     models.WalletKey(w.Blockchain, w.PrimaryWalletName),
	})
	if err != nil {
		return nil, fmt.Errorf("error processing fund transaction: %w", err)
	}

	zap.L().Info("Internal wallet funded",
		zap.String("id", id),
		zap.String("amount", amount.String()),
		zap.String("balance", result.Wallets[0].Balance.String()))
	return &result.Wallets[0], nil
}

// WithdrawFromInternalWallet debits id towards its primary wallet.
func (s *Service) WithdrawFromInternalWallet(ctx context.Context, id string, amount decimal.Decimal, reference string) (*models.InternalWallet, error) {
	if err := store.ValidateAmount(amount); err != nil {
		return nil, err
	}
	w, err := s.GetInternalWallet(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		TransactionType:  txTypeWithdraw,
		Reference:        reference,
		Postings:         []Posting{{WalletId: id, Amount: amount.Neg()}},
		CounterpartyType: accountPrimaryWallet,
		Counterparty:     models.WalletKey(w.Blockchain, w.PrimaryWalletName),
	})
	if err != nil {
		return nil, fmt.Errorf("error processing withdraw transaction: %w", err)
	}

	zap.L().Info("Internal wallet debited",
		zap.String("id", id),
		zap.String("amount", amount.String()),
		zap.String("balance", result.Wallets[0].Balance.String()))
	return &result.Wallets[0], nil
}

func (s *Service) TransferBetweenInternalWallets(ctx context.Context, fromId, toId string, amount decimal.Decimal, reference string) (*store.TransferResult, error) {
	if err := store.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if fromId == toId {
		return nil, fmt.Errorf("%w: cannot transfer from %s to itself", store.ErrInvalidArgument, fromId)
	}

	result, err := s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		TransactionType: txTypeTransfer,
		Reference:       reference,
		Postings: []Posting{
			{WalletId: fromId, Amount: amount.Neg()},
			{WalletId: toId, Amount: amount},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error processing transfer transaction: %w", err)
	}

	zap.L().Info("Internal transfer processed",
		zap.String("from", fromId),
		zap.String("to", toId),
		zap.String("amount", amount.String()))
	return &store.TransferResult{From: result.Wallets[0], To: result.Wallets[1]}, nil
}

// UpdateBaseWalletBalance sets the base wallet of a primary wallet to balance,
// which may be negative. The movement is journaled against the reconciliation account.
func (s *Service) UpdateBaseWalletBalance(ctx context.Context, blockchain, primaryWalletName string, balance decimal.Decimal) (*models.InternalWallet, error) {
	baseId := models.BaseWalletId(blockchain, primaryWalletName)
	base, err := s.GetInternalWallet(ctx, baseId)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", store.ErrBaseWalletNotFound, models.WalletKey(blockchain, primaryWalletName))
	}

	delta := balance.Sub(base.Balance)
	if delta.IsZero() {
		return base, nil
	}

	result, err := s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		TransactionType:  txTypeBaseUpdate,
		Postings:         []Posting{{WalletId: baseId, Amount: delta}},
		CounterpartyType: accountReconciliation,
		Counterparty:     models.WalletKey(blockchain, primaryWalletName),
	})
	if err != nil {
		return nil, fmt.Errorf("error processing base wallet update: %w", err)
	}

	zap.L().Info("Base wallet balance updated",
		zap.String("id", baseId),
		zap.String("previous", base.Balance.String()),
		zap.String("balance", balance.String()))
	return &result.Wallets[0], nil
}
