package api

import (
	"fmt"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"github.com/shopspring/decimal"
)

// InsufficientPrimaryFundsError refuses a withdrawal while the primary wallet
// holds less on-chain than its internal wallets claim.
type InsufficientPrimaryFundsError struct {
	Blockchain               string
	PrimaryWalletName        string
	OnChainBalance           decimal.Decimal
	AggregateInternalBalance decimal.Decimal
	Requested                decimal.Decimal
}

func (e *InsufficientPrimaryFundsError) Error() string {
	return fmt.Sprintf("primary wallet %s holds %s on-chain but internal wallets claim %s, refusing withdrawal of %s",
		models.WalletKey(e.Blockchain, e.PrimaryWalletName),
		e.OnChainBalance.String(), e.AggregateInternalBalance.String(), e.Requested.String())
}
