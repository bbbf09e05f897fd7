package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrBaseWalletImmutable    = errors.New("base wallet balance is system computed")
	ErrMetadataTooLarge       = errors.New("metadata too large")
	ErrWalletExists           = errors.New("wallet already exists")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrBaseWalletNotFound     = errors.New("primary wallet not registered")
	ErrDiscrepancyNotFound    = errors.New("balance discrepancy not found")
	ErrUnknownFunction        = errors.New("unknown ledger function")
	ErrInvalidArgument        = errors.New("invalid ledger argument")
)

// MaxMetadataSize bounds the JSON encoding of internal wallet metadata.
const MaxMetadataSize = 2048

// Ledger functions, invoked by name with string arguments.
const (
	FnRegisterPrimaryWallet             = "registerPrimaryWallet"
	FnCreateInternalWallet              = "createInternalWallet"
	FnGetInternalWallet                 = "getInternalWallet"
	FnGetInternalWalletsByPrimaryWallet = "getInternalWalletsByPrimaryWallet"
	FnFundInternalWallet                = "fundInternalWallet"
	FnWithdrawFromInternalWallet        = "withdrawFromInternalWallet"
	FnTransferBetweenInternalWallets    = "transferBetweenInternalWallets"
	FnUpdateBaseWalletBalance           = "updateBaseWalletBalance"
	FnRecordBalanceDiscrepancy          = "recordBalanceDiscrepancy"
	FnGetBalanceDiscrepancies           = "getBalanceDiscrepancies"
	FnResolveBalanceDiscrepancy         = "resolveBalanceDiscrepancy"
)

// Ledger is the external ledger contract. Submit commits a function, Evaluate
// runs a read-only one; both return the JSON encoded result.
type Ledger interface {
	Submit(ctx context.Context, fn string, args ...string) ([]byte, error)
	Evaluate(ctx context.Context, fn string, args ...string) ([]byte, error)
	Close()
}

// TransferResult holds both sides of a transfer after it committed.
type TransferResult struct {
	From models.InternalWallet `json:"from"`
	To   models.InternalWallet `json:"to"`
}

// Backend defines the contract that every ledger backend (SQLite, Formance, ...)
// must satisfy. NewLedger exposes it through the Ledger contract.
type Backend interface {
	// --- Wallets ---
	RegisterPrimaryWallet(ctx context.Context, blockchain, name, address string) (*models.InternalWallet, error)
	CreateInternalWallet(ctx context.Context, blockchain, primaryWalletName, id string, metadata map[string]any) (*models.InternalWallet, error)
	GetInternalWallet(ctx context.Context, id string) (*models.InternalWallet, error)
	GetInternalWalletsByPrimaryWallet(ctx context.Context, blockchain, primaryWalletName string) ([]models.InternalWallet, error)

	// --- Balances ---
	FundInternalWallet(ctx context.Context, id string, amount decimal.Decimal, reference string) (*models.InternalWallet, error)
	WithdrawFromInternalWallet(ctx context.Context, id string, amount decimal.Decimal, reference string) (*models.InternalWallet, error)
	TransferBetweenInternalWallets(ctx context.Context, fromId, toId string, amount decimal.Decimal, reference string) (*TransferResult, error)
	UpdateBaseWalletBalance(ctx context.Context, blockchain, primaryWalletName string, balance decimal.Decimal) (*models.InternalWallet, error)

	// --- Discrepancies ---
	RecordBalanceDiscrepancy(ctx context.Context, d models.BalanceDiscrepancy) (*models.BalanceDiscrepancy, error)
	GetBalanceDiscrepancies(ctx context.Context, blockchain, primaryWalletName string, includeResolved bool) ([]models.BalanceDiscrepancy, error)
	ResolveBalanceDiscrepancy(ctx context.Context, id, resolution string) (*models.BalanceDiscrepancy, error)

	// --- Lifecycle ---
	Close()
}

// ValidateMetadata encodes metadata and enforces MaxMetadataSize.
func ValidateMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidArgument, err)
	}
	if len(b) > MaxMetadataSize {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrMetadataTooLarge, len(b), MaxMetadataSize)
	}
	return b, nil
}

// ValidateAmount requires a strictly positive amount.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidArgument, amount)
	}
	return nil
}
