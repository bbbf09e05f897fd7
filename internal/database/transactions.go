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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Posting is a signed balance change of one internal wallet.
type Posting struct {
	WalletId string
	Amount   decimal.Decimal
}

type ProcessTransactionParams struct {
	TransactionType string
	Reference       string
	Postings        []Posting
	// The off-wallet account that balances the postings when they do not sum to zero.
	CounterpartyType string
	Counterparty     string
}

type TransactionResult struct {
	Id      string
	Wallets []models.InternalWallet
}

// ProcessTransaction atomically applies every posting and records the
// transaction with its journal entries. All postings must belong to the same
// primary wallet.
func (s *SubledgerService) ProcessTransaction(ctx context.Context, params ProcessTransactionParams) (*TransactionResult, error) {
	zap.L().Info("Processing ledger transaction",
		zap.String("type", params.TransactionType),
		zap.String("reference", params.Reference),
		zap.Int("postings", len(params.Postings)))

	if len(params.Postings) == 0 {
		return nil, fmt.Errorf("%w: transaction has no postings", store.ErrInvalidArgument)
	}

	// Start database transaction for atomicity
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Check for duplicate reference
	if params.Reference != "" {
		var existingTxId string
		err := tx.QueryRowContext(ctx, queryCheckDuplicateReference, params.Reference).Scan(&existingTxId)
		if err == nil {
			zap.L().Warn("Duplicate ledger reference detected, skipping",
				zap.String("reference", params.Reference),
				zap.String("existing_tx_id", existingTxId))
			return nil, fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, params.Reference)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to check for duplicate transaction: %w", err)
		}
	}

	transactionId := uuid.New().String()
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, queryInsertLedgerTransaction,
		transactionId, params.TransactionType, params.Reference, params.Counterparty, now); err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	result := &TransactionResult{Id: transactionId}
	net := decimal.Zero
	var primaryKey string

	for _, p := range params.Postings {
		wallet, version, err := scanWallet(tx.QueryRowContext(ctx, queryGetInternalWallet, p.WalletId))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrWalletNotFound, p.WalletId)
		} else if err != nil {
			return nil, fmt.Errorf("failed to get wallet %s: %w", p.WalletId, err)
		}

		key := models.WalletKey(wallet.Blockchain, wallet.PrimaryWalletName)
		if primaryKey == "" {
			primaryKey = key
		} else if key != primaryKey {
			return nil, fmt.Errorf("%w: wallets belong to different primary wallets (%s, %s)", store.ErrInvalidArgument, primaryKey, key)
		}

		isBaseUpdate := params.TransactionType == txTypeBaseUpdate
		if wallet.IsBaseWallet && !isBaseUpdate {
			return nil, fmt.Errorf("%w: %s", store.ErrBaseWalletImmutable, wallet.Id)
		}
		if !wallet.IsBaseWallet && isBaseUpdate {
			return nil, fmt.Errorf("%w: %s is not a base wallet", store.ErrInvalidArgument, wallet.Id)
		}

		balanceBefore := wallet.Balance
		newBalance := balanceBefore.Add(p.Amount)
		if newBalance.IsNegative() && !wallet.IsBaseWallet {
			return nil, fmt.Errorf("%w: wallet %s holds %s, needs %s",
				store.ErrInsufficientFunds, wallet.Id, balanceBefore.String(), p.Amount.Neg().String())
		}

		// Update balance (with optimistic locking)
		res, err := tx.ExecContext(ctx, queryUpdateWalletBalance, newBalance.String(), now, wallet.Id, version)
		if err != nil {
			return nil, fmt.Errorf("failed to update balance: %w", err)
		}
		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
		}

		if err := s.addJournalEntry(ctx, tx, transactionId, accountInternalWallet, wallet.Id, p.Amount, &balanceBefore, &newBalance, now); err != nil {
			return nil, fmt.Errorf("failed to add journal entry: %w", err)
		}

		net = net.Add(p.Amount)
		wallet.Balance = newBalance
		wallet.UpdatedAt = now
		result.Wallets = append(result.Wallets, *wallet)
	}

	// The counterparty takes the opposite side of the net movement.
	if !net.IsZero() {
		if err := s.addJournalEntry(ctx, tx, transactionId, params.CounterpartyType, params.Counterparty, net.Neg(), nil, nil, now); err != nil {
			return nil, fmt.Errorf("failed to add counterparty journal entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Ledger transaction processed successfully",
		zap.String("transaction_id", transactionId),
		zap.String("type", params.TransactionType),
		zap.String("net", net.String()))

	return result, nil
}

// addJournalEntry debits increases and credits decreases of an account.
func (s *SubledgerService) addJournalEntry(ctx context.Context, tx *sql.Tx, transactionId, accountType, accountId string, amount decimal.Decimal, before, after *decimal.Decimal, at time.Time) error {
	debit, credit := decimal.Zero, decimal.Zero
	if amount.IsPositive() {
		debit = amount
	} else {
		credit = amount.Neg()
	}

	var beforeStr, afterStr sql.NullString
	if before != nil {
		beforeStr = sql.NullString{String: before.String(), Valid: true}
	}
	if after != nil {
		afterStr = sql.NullString{String: after.String(), Valid: true}
	}

	_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
		uuid.New().String(), transactionId, accountType, accountId, debit.String(), credit.String(), beforeStr, afterStr, at)
	return err
}
