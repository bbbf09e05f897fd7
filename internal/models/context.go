package models

import "context"

type operationContextKey struct{}

// OperationContext carries supplementary data about a wallet operation through
// context so ledger backends can store it with the ledger entry without
// changing the Ledger interface.
type OperationContext struct {
	Operation string // fund, withdraw, transfer, reconcile
	Txid      string // on-chain txid for withdrawals, once known
	ToAddress string // external destination for withdrawals
	Fee       string // network fee in coin units
	Initiator string // caller supplied, e.g. CLI name
}

// WithOperationContext attaches operation data to a context.
func WithOperationContext(ctx context.Context, oc *OperationContext) context.Context {
	return context.WithValue(ctx, operationContextKey{}, oc)
}

// GetOperationContext retrieves operation data from context, or nil if absent.
func GetOperationContext(ctx context.Context) *OperationContext {
	oc, _ := ctx.Value(operationContextKey{}).(*OperationContext)
	return oc
}

// Metadata flattens the non-empty fields for ledger storage.
func (oc *OperationContext) Metadata() map[string]string {
	m := map[string]string{}
	if oc == nil {
		return m
	}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("operation", oc.Operation)
	set("txid", oc.Txid)
	set("to_address", oc.ToAddress)
	set("fee", oc.Fee)
	set("initiator", oc.Initiator)
	return m
}
