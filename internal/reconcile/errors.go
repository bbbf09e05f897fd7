package reconcile

import (
	"errors"
	"fmt"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"github.com/shopspring/decimal"
)

var ErrUnknownWallet = errors.New("primary wallet not managed by the reconciliation engine")

// DiscrepancyError rejects a mutation that would leave the internal ledger
// claiming more than the primary wallet holds on-chain.
type DiscrepancyError struct {
	Blockchain               string
	PrimaryWalletName        string
	OnChainBalance           decimal.Decimal
	AggregateInternalBalance decimal.Decimal
	ExcessBalance            decimal.Decimal
}

func (e *DiscrepancyError) Error() string {
	return fmt.Sprintf("balance discrepancy on %s: on-chain %s, internal %s, excess %s",
		models.WalletKey(e.Blockchain, e.PrimaryWalletName),
		e.OnChainBalance.String(), e.AggregateInternalBalance.String(), e.ExcessBalance.String())
}

// OnChainPendingError is returned by Mutation.Apply when its ledger change
// stands but the on-chain side has not happened yet. Mutate reconciles as if
// the chain had not moved, then returns Err.
type OnChainPendingError struct {
	Err error
}

func (e *OnChainPendingError) Error() string {
	return fmt.Sprintf("on-chain effect pending: %v", e.Err)
}

func (e *OnChainPendingError) Unwrap() error { return e.Err }
