package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"github.com/shopspring/decimal"
)

// Client is a typed view of a Ledger.
type Client struct {
	ledger Ledger
}

func NewClient(l Ledger) *Client {
	return &Client{ledger: l}
}

func (c *Client) Ledger() Ledger { return c.ledger }

func (c *Client) Close() { c.ledger.Close() }

func submit[T any](ctx context.Context, c *Client, fn string, args ...string) (T, error) {
	var out T
	b, err := c.ledger.Submit(ctx, fn, args...)
	if err != nil {
		return out, fmt.Errorf("%s: %w", fn, err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("%s: unable to decode result: %w", fn, err)
	}
	return out, nil
}

func evaluate[T any](ctx context.Context, c *Client, fn string, args ...string) (T, error) {
	var out T
	b, err := c.ledger.Evaluate(ctx, fn, args...)
	if err != nil {
		return out, fmt.Errorf("%s: %w", fn, err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("%s: unable to decode result: %w", fn, err)
	}
	return out, nil
}

// RegisterPrimaryWallet creates the base wallet of a primary wallet and returns it.
func (c *Client) RegisterPrimaryWallet(ctx context.Context, blockchain, name, address string) (*models.InternalWallet, error) {
	return submit[*models.InternalWallet](ctx, c, FnRegisterPrimaryWallet, blockchain, name, address)
}

func (c *Client) CreateInternalWallet(ctx context.Context, blockchain, primaryWalletName, id string, metadata map[string]any) (*models.InternalWallet, error) {
	md, err := ValidateMetadata(metadata)
	if err != nil {
		return nil, err
	}
	return submit[*models.InternalWallet](ctx, c, FnCreateInternalWallet, blockchain, primaryWalletName, id, string(md))
}

func (c *Client) GetInternalWallet(ctx context.Context, id string) (*models.InternalWallet, error) {
	return evaluate[*models.InternalWallet](ctx, c, FnGetInternalWallet, id)
}

// GetInternalWalletsByPrimaryWallet returns every wallet of a primary wallet,
// the base wallet included.
func (c *Client) GetInternalWalletsByPrimaryWallet(ctx context.Context, blockchain, primaryWalletName string) ([]models.InternalWallet, error) {
	return evaluate[[]models.InternalWallet](ctx, c, FnGetInternalWalletsByPrimaryWallet, blockchain, primaryWalletName)
}

func (c *Client) FundInternalWallet(ctx context.Context, id string, amount decimal.Decimal, reference string) (*models.InternalWallet, error) {
	return submit[*models.InternalWallet](ctx, c, FnFundInternalWallet, id, amount.String(), reference)
}

func (c *Client) WithdrawFromInternalWallet(ctx context.Context, id string, amount decimal.Decimal, reference string) (*models.InternalWallet, error) {
	return submit[*models.InternalWallet](ctx, c, FnWithdrawFromInternalWallet, id, amount.String(), reference)
}

func (c *Client) TransferBetweenInternalWallets(ctx context.Context, fromId, toId string, amount decimal.Decimal, reference string) (*TransferResult, error) {
	return submit[*TransferResult](ctx, c, FnTransferBetweenInternalWallets, fromId, toId, amount.String(), reference)
}

func (c *Client) UpdateBaseWalletBalance(ctx context.Context, blockchain, primaryWalletName string, balance decimal.Decimal) (*models.InternalWallet, error) {
	return submit[*models.InternalWallet](ctx, c, FnUpdateBaseWalletBalance, blockchain, primaryWalletName, balance.String())
}

// RecordBalanceDiscrepancy stores d. An unresolved discrepancy already open for
// the same primary wallet is updated in place.
func (c *Client) RecordBalanceDiscrepancy(ctx context.Context, d models.BalanceDiscrepancy) (*models.BalanceDiscrepancy, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("unable to encode discrepancy: %w", err)
	}
	return submit[*models.BalanceDiscrepancy](ctx, c, FnRecordBalanceDiscrepancy, string(b))
}

func (c *Client) GetBalanceDiscrepancies(ctx context.Context, blockchain, primaryWalletName string, includeResolved bool) ([]models.BalanceDiscrepancy, error) {
	return evaluate[[]models.BalanceDiscrepancy](ctx, c, FnGetBalanceDiscrepancies, blockchain, primaryWalletName, strconv.FormatBool(includeResolved))
}

func (c *Client) ResolveBalanceDiscrepancy(ctx context.Context, id, resolution string) (*models.BalanceDiscrepancy, error) {
	return submit[*models.BalanceDiscrepancy](ctx, c, FnResolveBalanceDiscrepancy, id, resolution)
}
