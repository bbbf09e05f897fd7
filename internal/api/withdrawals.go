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

	"github.com/aryanduntley/fractaledger-sub002/internal/connector"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/reconcile"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"
	"github.com/aryanduntley/fractaledger-sub002/internal/transceiver"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// satoshiExp converts between coin units and satoshis.
const satoshiExp = 8

// Metadata keys attached to withdrawal transactions so a failure reported
// after delivery can be credited back.
const (
	metaWalletId     = "walletId"
	metaLedgerAmount = "ledgerAmount"
	metaReference    = "reference"
)

// WithdrawalRequest sends Amount coins from an internal wallet to ToAddress.
type WithdrawalRequest struct {
	WalletId  string
	ToAddress string
	Amount    decimal.Decimal
	Reference string
	// Fee in satoshis overrides FeeRate.
	Fee       *int64
	FeeRate   int64
	UTXOs     []models.UTXO
	OpReturn  []byte
	Metadata  map[string]any
	EnableRBF bool
}

// WithdrawalResult holds the debited wallet and the delivery outcome.
type WithdrawalResult struct {
	Wallet    models.InternalWallet `json:"wallet"`
	Amount    decimal.Decimal       `json:"amount"`
	Fee       decimal.Decimal       `json:"fee"`
	Broadcast *connector.SendResult `json:"broadcast"`
}

// WithdrawFromInternalWallet debits amount plus fee from the wallet and sends
// amount on-chain. The debit is credited back when delivery fails. A broadcast
// that times out keeps the debit and returns a retryable error; its pending
// transaction is settled later through SubmitDeliveryResult.
func (s *WalletService) WithdrawFromInternalWallet(ctx context.Context, req WithdrawalRequest) (*WithdrawalResult, error) {
	if err := store.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	sats := req.Amount.Shift(satoshiExp)
	if !sats.IsInteger() {
		return nil, fmt.Errorf("%w: amount %s is below satoshi precision", store.ErrInvalidArgument, req.Amount.String())
	}
	if req.ToAddress == "" {
		return nil, fmt.Errorf("%w: destination address is required", store.ErrInvalidArgument)
	}

	w, err := s.mutableWallet(ctx, req.WalletId)
	if err != nil {
		return nil, err
	}
	c, err := s.Connector(w.Blockchain, w.PrimaryWalletName)
	if err != nil {
		return nil, err
	}

	utxos := req.UTXOs
	if len(utxos) == 0 {
		if utxos, err = c.GetUTXOs(ctx, ""); err != nil {
			return nil, fmt.Errorf("failed to fetch UTXOs: %w", err)
		}
	}

	opts := connector.SendOptions{
		Fee:       req.Fee,
		FeeRate:   req.FeeRate,
		UTXOs:     utxos,
		OpReturn:  req.OpReturn,
		EnableRBF: req.EnableRBF,
	}
	feeSats, err := c.QuoteFee(ctx, len(utxos), opts)
	if err != nil {
		return nil, err
	}
	// The quote is pinned so the ledger debit matches the signed transaction
	opts.Fee = &feeSats

	fee := decimal.New(feeSats, -satoshiExp)
	total := req.Amount.Add(fee)
	opts.Metadata = withdrawalMetadata(req, total)

	zap.L().Info("Processing withdrawal",
		zap.String("id", w.Id),
		zap.String("to", req.ToAddress),
		zap.String("amount", req.Amount.String()),
		zap.String("fee", fee.String()),
		zap.String("reference", req.Reference))

	var sent *connector.SendResult
	m := reconcile.Mutation{
		Delta:        total.Neg(),
		OnChainDelta: total.Neg(),
		Apply: func(ctx context.Context) error {
			if _, err := s.ledger.WithdrawFromInternalWallet(ctx, w.Id, total, req.Reference); err != nil {
				return err
			}
			res, err := c.SendTransaction(ctx, req.ToAddress, sats.IntPart(), opts)
			if err != nil {
				if broadcastOutcomeUnknown(err) {
					zap.L().Warn("Withdrawal broadcast outcome unknown, keeping debit",
						zap.String("id", w.Id),
						zap.String("amount", total.String()),
						zap.String("reference", req.Reference),
						zap.Error(err))
					return &reconcile.OnChainPendingError{Err: err}
				}
				if cerr := s.creditBack(ctx, w.Id, total, req.Reference); cerr != nil {
					return errors.Join(err, cerr)
				}
				return err
			}
			sent = res
			return nil
		},
	}
	// Only callback transceivers can report the on-chain balance
	if c.Manager().Method() == models.DeliveryCallback {
		m.RequireBalances = func(onChain, aggregate decimal.Decimal) error {
			if onChain.LessThan(aggregate) {
				return &InsufficientPrimaryFundsError{
					Blockchain:               w.Blockchain,
					PrimaryWalletName:        w.PrimaryWalletName,
					OnChainBalance:           onChain,
					AggregateInternalBalance: aggregate,
					Requested:                total,
				}
			}
			return nil
		}
	}

	if err := s.engine.Mutate(ctx, w.Blockchain, w.PrimaryWalletName, m); err != nil {
		s.logMutationError("Withdrawal failed", w.Id, req.Amount, req.Reference, err)
		return nil, err
	}

	after, err := s.ledger.GetInternalWallet(ctx, w.Id)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Withdrawal processed successfully",
		zap.String("id", w.Id),
		zap.String("txid", sent.Txid),
		zap.String("status", string(sent.Status)),
		zap.String("new_balance", after.Balance.String()))

	return &WithdrawalResult{Wallet: *after, Amount: req.Amount, Fee: fee, Broadcast: sent}, nil
}

// SubmitDeliveryResult reports the outcome of a transaction delivered through
// the event or api method, or of a broadcast that timed out. A failed
// withdrawal is credited back.
func (s *WalletService) SubmitDeliveryResult(ctx context.Context, blockchain, primaryWalletName, txid, result, errMsg string) (*models.PendingTransaction, error) {
	c, err := s.Connector(blockchain, primaryWalletName)
	if err != nil {
		return nil, err
	}
	tx, err := c.Manager().SubmitTransactionResult(txid, result, errMsg)
	if err != nil {
		return nil, err
	}
	id, amount, reference, ok := parseWithdrawalMetadata(tx.Metadata)
	if !ok {
		return &tx, nil
	}

	if tx.Status != models.TxStatusFailed {
		if tx.TimedOut && tx.Status == models.TxStatusBroadcasted {
			// The debit was kept with the chain unchanged; the spend lands now
			if _, err := s.engine.ReconcileSettled(ctx, blockchain, primaryWalletName, amount.Neg()); err != nil {
				return nil, fmt.Errorf("failed to settle %s: %w", txid, err)
			}
		}
		return &tx, nil
	}

	err = s.engine.Mutate(ctx, blockchain, primaryWalletName, reconcile.Mutation{
		Delta: amount,
		Apply: func(ctx context.Context) error {
			return s.creditBack(ctx, id, amount, reference)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to credit back %s: %w", txid, err)
	}
	return &tx, nil
}

func (s *WalletService) creditBack(ctx context.Context, id string, amount decimal.Decimal, reference string) error {
	ref := ""
	if reference != "" {
		ref = reference + ":credit-back"
	}
	if _, err := s.ledger.FundInternalWallet(ctx, id, amount, ref); err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Info("Withdrawal already credited back", zap.String("id", id), zap.String("reference", reference))
			return nil
		}
		zap.L().Error("Credit-back failed",
			zap.String("id", id),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return fmt.Errorf("credit-back failed: %w", err)
	}
	zap.L().Info("Failed withdrawal credited back",
		zap.String("id", id),
		zap.String("amount", amount.String()),
		zap.String("reference", reference))
	return nil
}

// broadcastOutcomeUnknown reports a send that may have reached the network.
// Definite broadcast failures and errors raised before broadcasting are known
// not to have.
func broadcastOutcomeUnknown(err error) bool {
	var berr *transceiver.BroadcastError
	if errors.As(err, &berr) {
		return false
	}
	return transceiver.IsRetryable(err)
}

func withdrawalMetadata(req WithdrawalRequest, total decimal.Decimal) map[string]any {
	md := make(map[string]any, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		md[k] = v
	}
	md[metaWalletId] = req.WalletId
	md[metaLedgerAmount] = total.String()
	if req.Reference != "" {
		md[metaReference] = req.Reference
	}
	return md
}

func parseWithdrawalMetadata(md map[string]any) (id string, amount decimal.Decimal, reference string, ok bool) {
	id, _ = md[metaWalletId].(string)
	raw, _ := md[metaLedgerAmount].(string)
	reference, _ = md[metaReference].(string)
	if id == "" || raw == "" {
		return "", decimal.Zero, "", false
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return "", decimal.Zero, "", false
	}
	return id, amount, reference, true
}
