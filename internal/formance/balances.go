package formance

import (
	"context"
	"fmt"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Numscript templates. Accounts are passed as full addresses.
// ---------------------------------------------------------------------------

const numscriptFund = `vars {
  asset $asset
  number $amount
  account $primary
  account $wallet
  string $amount_human
}

send [$asset $amount] (
  source = $primary allowing unbounded overdraft
  destination = $wallet
)

set_tx_meta("event_type", "internal_wallet_funded")
set_tx_meta("amount_human", $amount_human)
`

const numscriptWithdraw = `vars {
  asset $asset
  number $amount
  account $wallet
  account $withdrawals
  string $amount_human
}

send [$asset $amount] (
  source = $wallet
  destination = $withdrawals
)

set_tx_meta("event_type", "internal_wallet_withdrawn")
set_tx_meta("amount_human", $amount_human)
`

const numscriptTransfer = `vars {
  asset $asset
  number $amount
  account $from
  account $to
  string $amount_human
}

send [$asset $amount] (
  source = $from
  destination = $to
)

set_tx_meta("event_type", "internal_transfer")
set_tx_meta("amount_human", $amount_human)
`

// The base wallet may go negative, so both directions allow overdraft.
const numscriptBaseUpdate = `vars {
  asset $asset
  number $amount
  account $source
  account $destination
  string $balance_human
}

send [$asset $amount] (
  source = $source allowing unbounded overdraft
  destination = $destination
)

set_tx_meta("event_type", "base_wallet_updated")
set_tx_meta("balance_human", $balance_human)
`

// FundInternalWallet credits id from its primary wallet.
func (s *Service) FundInternalWallet(ctx context.Context, id string, amount decimal.Decimal, reference string) (*models.InternalWallet, error) {
	w, fAsset, err := s.mutableWallet(ctx, id, amount)
	if err != nil {
		return nil, err
	}

	if err := s.postScript(ctx, reference, numscriptFund, map[string]string{
		"asset":        fAsset,
		"amount":       toMonetary(amount, w.Blockchain),
		"primary":      primaryAccount(w.Blockchain, w.PrimaryWalletName),
		"wallet":       walletAccount(id),
		"amount_human": amount.String(),
	}); err != nil {
		return nil, fmt.Errorf("error recording fund transaction: %w", err)
	}

	zap.L().Info("Internal wallet funded in Formance",
		zap.String("id", id),
		zap.String("amount", amount.String()))
	return s.GetInternalWallet(ctx, id)
}

// WithdrawFromInternalWallet debits id towards the primary wallet's withdrawals account.
func (s *Service) WithdrawFromInternalWallet(ctx context.Context, id string, amount decimal.Decimal, reference string) (*models.InternalWallet, error) {
	w, fAsset, err := s.mutableWallet(ctx, id, amount)
	if err != nil {
		return nil, err
	}
	if w.Balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: wallet %s holds %s, needs %s", store.ErrInsufficientFunds, id, w.Balance.String(), amount.String())
	}

	if err := s.postScript(ctx, reference, numscriptWithdraw, map[string]string{
		"asset":        fAsset,
		"amount":       toMonetary(amount, w.Blockchain),
		"wallet":       walletAccount(id),
		"withdrawals":  primaryAccount(w.Blockchain, w.PrimaryWalletName) + ":withdrawals",
		"amount_human": amount.String(),
	}); err != nil {
		return nil, fmt.Errorf("error recording withdraw transaction: %w", err)
	}

	zap.L().Info("Internal wallet debited in Formance",
		zap.String("id", id),
		zap.String("amount", amount.String()))
	return s.GetInternalWallet(ctx, id)
}

func (s *Service) TransferBetweenInternalWallets(ctx context.Context, fromId, toId string, amount decimal.Decimal, reference string) (*store.TransferResult, error) {
	if fromId == toId {
		return nil, fmt.Errorf("%w: cannot transfer from %s to itself", store.ErrInvalidArgument, fromId)
	}
	from, fAsset, err := s.mutableWallet(ctx, fromId, amount)
	if err != nil {
		return nil, err
	}
	to, _, err := s.mutableWallet(ctx, toId, amount)
	if err != nil {
		return nil, err
	}
	if from.Blockchain != to.Blockchain || from.PrimaryWalletName != to.PrimaryWalletName {
		return nil, fmt.Errorf("%w: wallets belong to different primary wallets (%s, %s)", store.ErrInvalidArgument,
			models.WalletKey(from.Blockchain, from.PrimaryWalletName), models.WalletKey(to.Blockchain, to.PrimaryWalletName))
	}
	if from.Balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: wallet %s holds %s, needs %s", store.ErrInsufficientFunds, fromId, from.Balance.String(), amount.String())
	}

	if err := s.postScript(ctx, reference, numscriptTransfer, map[string]string{
		"asset":        fAsset,
		"amount":       toMonetary(amount, from.Blockchain),
		"from":         walletAccount(fromId),
		"to":           walletAccount(toId),
		"amount_human": amount.String(),
	}); err != nil {
		return nil, fmt.Errorf("error recording transfer: %w", err)
	}

	zap.L().Info("Internal transfer recorded in Formance",
		zap.String("from", fromId),
		zap.String("to", toId),
		zap.String("amount", amount.String()))

	fromAfter, err := s.GetInternalWallet(ctx, fromId)
	if err != nil {
		return nil, err
	}
	toAfter, err := s.GetInternalWallet(ctx, toId)
	if err != nil {
		return nil, err
	}
	return &store.TransferResult{From: *fromAfter, To: *toAfter}, nil
}

// UpdateBaseWalletBalance moves the difference between balance and the current
// base balance through the primary wallet's reconciliation account.
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
	fAsset, err := formanceAsset(blockchain)
	if err != nil {
		return nil, err
	}

	source, destination := primaryAccount(blockchain, primaryWalletName)+":reconciliation", walletAccount(baseId)
	if delta.IsNegative() {
		source, destination = destination, source
	}

	if err := s.postScript(ctx, "", numscriptBaseUpdate, map[string]string{
		"asset":         fAsset,
		"amount":        toMonetary(delta.Abs(), blockchain),
		"source":        source,
		"destination":   destination,
		"balance_human": balance.String(),
	}); err != nil {
		return nil, fmt.Errorf("error recording base wallet update: %w", err)
	}

	zap.L().Info("Base wallet balance updated in Formance",
		zap.String("id", baseId),
		zap.String("previous", base.Balance.String()),
		zap.String("balance", balance.String()))
	return s.GetInternalWallet(ctx, baseId)
}

// ---------- helpers ----------

// mutableWallet loads a non-base wallet that fund, withdraw and transfer may touch.
func (s *Service) mutableWallet(ctx context.Context, id string, amount decimal.Decimal) (*models.InternalWallet, string, error) {
	if err := store.ValidateAmount(amount); err != nil {
		return nil, "", err
	}
	w, err := s.GetInternalWallet(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if w.IsBaseWallet {
		return nil, "", fmt.Errorf("%w: %s", store.ErrBaseWalletImmutable, id)
	}
	fAsset, err := formanceAsset(w.Blockchain)
	if err != nil {
		return nil, "", err
	}
	return w, fAsset, nil
}

func (s *Service) postScript(ctx context.Context, reference, script string, vars map[string]string) error {
	postTx := shared.V2PostTransaction{
		Script: &shared.V2PostTransactionScript{
			Plain: script,
			Vars:  vars,
		},
	}
	if reference != "" {
		postTx.Reference = strPtr(reference)
	}

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	return mapLedgerError(err, reference)
}
