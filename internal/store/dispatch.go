package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"github.com/shopspring/decimal"
)

type function struct {
	args  int
	query bool
	call  func(ctx context.Context, b Backend, args []string) (any, error)
}

var functions = map[string]function{
	FnRegisterPrimaryWallet: {args: 3, call: func(ctx context.Context, b Backend, a []string) (any, error) {
		return b.RegisterPrimaryWallet(ctx, a[0], a[1], a[2])
	}},
	FnCreateInternalWallet: {args: 4, call: func(ctx context.Context, b Backend, a []string) (any, error) {
		var md map[string]any
		if a[3] != "" {
			if err := json.Unmarshal([]byte(a[3]), &md); err != nil {
				return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidArgument, err)
			}
		}
		return b.CreateInternalWallet(ctx, a[0], a[1], a[2], md)
	}},
	FnGetInternalWallet: {args: 1, query: true, call: func(ctx context.Context, b Backend, a []string) (any, error) {
		return b.GetInternalWallet(ctx, a[0])
	}},
	FnGetInternalWalletsByPrimaryWallet: {args: 2, query: true, call: func(ctx context.Context, b Backend, a []string) (any, error) {
		return b.GetInternalWalletsByPrimaryWallet(ctx, a[0], a[1])
	}},
	FnFundInternalWallet: {args: 3, call: func(ctx context.Context, b Backend, a []string) (any, error) {
		amount, err := parseAmount(a[1])
		if err != nil {
			return nil, err
		}
		return b.FundInternalWallet(ctx, a[0], amount, a[2])
	}},
	FnWithdrawFromInternalWallet: {args: 3, call: func(ctx context.Context, b Backend, a []string) (any, error) {
		amount, err := parseAmount(a[1])
		if err != nil {
			return nil, err
		}
		return b.WithdrawFromInternalWallet(ctx, a[0], amount, a[2])
	}},
	FnTransferBetweenInternalWallets: {args: 4, call: func(ctx context.Context, b Backend, a []string) (any, error) {
		amount, err := parseAmount(a[2])
		if err != nil {
			return nil, err
		}
		return b.TransferBetweenInternalWallets(ctx, a[0], a[1], amount, a[3])
	}},
	FnUpdateBaseWalletBalance: {args: 3, call: func(ctx context.Context, b Backend, a []string) (any, error) {
		balance, err := parseAmount(a[2])
		if err != nil {
			return nil, err
		}
		return b.UpdateBaseWalletBalance(ctx, a[0], a[1], balance)
	}},
	FnRecordBalanceDiscrepancy: {args: 1, call: func(ctx context.Context, b Backend, a []string) (any, error) {
		var d models.BalanceDiscrepancy
		if err := json.Unmarshal([]byte(a[0]), &d); err != nil {
			return nil, fmt.Errorf("%w: discrepancy: %v", ErrInvalidArgument, err)
		}
		return b.RecordBalanceDiscrepancy(ctx, d)
	}},
	FnGetBalanceDiscrepancies: {args: 3, query: true, call: func(ctx context.Context, b Backend, a []string) (any, error) {
		includeResolved, err := strconv.ParseBool(a[2])
		if err != nil {
			return nil, fmt.Errorf("%w: includeResolved: %v", ErrInvalidArgument, err)
		}
		return b.GetBalanceDiscrepancies(ctx, a[0], a[1], includeResolved)
	}},
	FnResolveBalanceDiscrepancy: {args: 2, call: func(ctx context.Context, b Backend, a []string) (any, error) {
		return b.ResolveBalanceDiscrepancy(ctx, a[0], a[1])
	}},
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q: %v", ErrInvalidArgument, s, err)
	}
	return d, nil
}

type backendLedger struct {
	backend Backend
}

// NewLedger exposes a Backend through the Ledger contract.
func NewLedger(b Backend) Ledger {
	return &backendLedger{backend: b}
}

func (l *backendLedger) Submit(ctx context.Context, fn string, args ...string) ([]byte, error) {
	return l.invoke(ctx, fn, false, args)
}

func (l *backendLedger) Evaluate(ctx context.Context, fn string, args ...string) ([]byte, error) {
	return l.invoke(ctx, fn, true, args)
}

func (l *backendLedger) Close() {
	l.backend.Close()
}

func (l *backendLedger) invoke(ctx context.Context, fn string, evaluate bool, args []string) ([]byte, error) {
	f, ok := functions[fn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, fn)
	}
	if evaluate && !f.query {
		return nil, fmt.Errorf("%w: %s commits and cannot be evaluated", ErrInvalidArgument, fn)
	}
	if len(args) != f.args {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrInvalidArgument, fn, f.args, len(args))
	}

	result, err := f.call(ctx, l.backend, args)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("unable to encode %s result: %w", fn, err)
	}
	return b, nil
}
