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

package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/aryanduntley/fractaledger-sub002/internal/chain"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/transceiver"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// DefaultFeeRate in sat/byte is used when no rate is given and the
	// transceiver cannot quote one.
	DefaultFeeRate int64 = 10

	// DefaultFeeTarget is the confirmation target, in blocks, for quoted rates.
	DefaultFeeTarget = 6

	// sendOutputCount is the output count assumed by fee estimation: payment and change.
	sendOutputCount = 2
)

// SendOptions tune SendTransaction. UTXOs are required; coin selection is
// left to the caller.
type SendOptions struct {
	Fee       *int64
	FeeRate   int64
	UTXOs     []models.UTXO
	OpReturn  []byte
	Metadata  map[string]any
	EnableRBF bool
}

// SendResult is the delivery result plus the amounts the transaction committed to.
type SendResult struct {
	models.BroadcastResult
	Fee    int64 `json:"fee"`
	Change int64 `json:"change"`
}

// Connector binds one primary wallet to its transaction builder and
// transceiver manager.
type Connector struct {
	wallet  models.PrimaryWallet
	builder *chain.TransactionBuilder
	manager *transceiver.Manager
	logger  *zap.Logger

	wif       string
	inputType chain.ScriptType
}

func New(wallet models.PrimaryWallet, builder *chain.TransactionBuilder, manager *transceiver.Manager, logger *zap.Logger) (*Connector, error) {
	if builder == nil || manager == nil {
		return nil, fmt.Errorf("builder and manager are required")
	}
	if !strings.EqualFold(builder.Blockchain(), wallet.Blockchain) || !strings.EqualFold(builder.Network(), wallet.Network) {
		return nil, fmt.Errorf("builder for %s/%s cannot serve wallet on %s/%s",
			builder.Blockchain(), builder.Network(), wallet.Blockchain, wallet.Network)
	}

	inputType, err := builder.AddressScriptType(wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", wallet.Key(), err)
	}

	wif, err := ResolveSecret(wallet.SecretRef)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", wallet.Key(), err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Connector{
		wallet:    wallet,
		builder:   builder,
		manager:   manager,
		logger:    logger.With(zap.String("wallet", wallet.Key())),
		wif:       wif,
		inputType: inputType,
	}, nil
}

func (c *Connector) Wallet() models.PrimaryWallet { return c.wallet }

func (c *Connector) Builder() *chain.TransactionBuilder { return c.builder }

func (c *Connector) Manager() *transceiver.Manager { return c.manager }

// PruneSettled drops delivery records the manager no longer needs to track.
func (c *Connector) PruneSettled() int { return c.manager.PruneSettled() }

// CreateTransaction signs inputs and outputs with the wallet key.
func (c *Connector) CreateTransaction(inputs []models.UTXO, outputs []models.TxOutput, opts chain.BuildOptions) (*models.SignedTransaction, error) {
	if c.wif == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoSigningKey, c.wallet.Key())
	}
	if opts.InputType == "" {
		opts.InputType = c.inputType
	}
	return c.builder.CreateAndSignTransaction(c.wif, inputs, outputs, opts)
}

// QuoteFee returns the fee SendTransaction would pay for inputCount inputs.
func (c *Connector) QuoteFee(ctx context.Context, inputCount int, opts SendOptions) (int64, error) {
	if opts.Fee != nil {
		if *opts.Fee < 0 {
			return 0, &chain.InvalidInputError{Field: "fee", Reason: "must not be negative"}
		}
		return *opts.Fee, nil
	}
	if opts.FeeRate < 0 {
		return 0, &chain.InvalidInputError{Field: "feeRate", Reason: "must not be negative"}
	}

	rate := opts.FeeRate
	if rate == 0 {
		quoted, err := c.manager.EstimateFeeRate(ctx, DefaultFeeTarget)
		if err != nil || quoted <= 0 {
			c.logger.Debug("Using default fee rate", zap.Int64("fee_rate", DefaultFeeRate), zap.Error(err))
			quoted = DefaultFeeRate
		}
		rate = quoted
	}
	return chain.EstimateFee(inputCount, sendOutputCount, rate), nil
}

// SendTransaction pays amount satoshis to toAddress from the supplied UTXOs,
// returning change to the wallet address, and hands the signed transaction
// to the manager. Everything is validated before any network call.
func (c *Connector) SendTransaction(ctx context.Context, toAddress string, amount int64, opts SendOptions) (*SendResult, error) {
	if !c.builder.VerifyAddress(toAddress) {
		return nil, &chain.InvalidInputError{Field: "toAddress", Reason: fmt.Sprintf("%q is not a valid %s %s address", toAddress, c.wallet.Blockchain, c.wallet.Network)}
	}
	if len(opts.OpReturn) > chain.MaxOpReturnSize {
		return nil, &chain.PayloadTooLargeError{Size: len(opts.OpReturn), Limit: chain.MaxOpReturnSize}
	}
	if amount <= 0 {
		return nil, &chain.InvalidInputError{Field: "amount", Reason: "must be positive"}
	}
	if len(opts.UTXOs) == 0 {
		return nil, &chain.InvalidInputError{Field: "utxos", Reason: "at least one UTXO is required"}
	}
	if c.wif == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoSigningKey, c.wallet.Key())
	}

	fee, err := c.QuoteFee(ctx, len(opts.UTXOs), opts)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, u := range opts.UTXOs {
		total += u.Value
	}
	change := total - amount - fee
	if change < 0 {
		return nil, &chain.InvalidInputError{
			Field:  "utxos",
			Reason: fmt.Sprintf("inputs of %d sats cannot cover %d sats plus %d sats fee", total, amount, fee),
		}
	}

	outputs := []models.TxOutput{{Address: toAddress, Value: amount}}
	if change > 0 {
		outputs = append(outputs, models.TxOutput{Address: c.wallet.Address, Value: change})
	}
	if len(opts.OpReturn) > 0 {
		outputs = append(outputs, models.TxOutput{Data: opts.OpReturn})
	}

	signed, err := c.CreateTransaction(opts.UTXOs, outputs, chain.BuildOptions{EnableRBF: opts.EnableRBF})
	if err != nil {
		return nil, err
	}

	metadata := c.metadata(ctx, opts.Metadata, toAddress, amount, signed.Fee)
	res, err := c.manager.BroadcastTransaction(ctx, signed.Txid, signed.TxHex, metadata)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Transaction sent",
		zap.String("txid", signed.Txid),
		zap.String("to", toAddress),
		zap.Int64("amount_sats", amount),
		zap.Int64("fee_sats", signed.Fee),
		zap.String("status", string(res.Status)))

	return &SendResult{BroadcastResult: *res, Fee: signed.Fee, Change: change}, nil
}

func (c *Connector) metadata(ctx context.Context, extra map[string]any, toAddress string, amount, fee int64) map[string]any {
	md := map[string]any{
		"wallet":     c.wallet.Key(),
		"toAddress":  toAddress,
		"amountSats": amount,
		"feeSats":    fee,
	}
	if oc := models.GetOperationContext(ctx); oc != nil {
		for k, v := range oc.Metadata() {
			md[k] = v
		}
	}
	for k, v := range extra {
		md[k] = v
	}
	return md
}

func (c *Connector) MonitorWalletAddress(ctx context.Context, address string, callback transceiver.TransactionCallback) (models.MonitoringSubscription, error) {
	return c.manager.MonitorWalletAddress(ctx, c.addressOrOwn(address), callback)
}

func (c *Connector) StopMonitoringWalletAddress(ctx context.Context, address string) (bool, error) {
	return c.manager.StopMonitoringWalletAddress(ctx, c.addressOrOwn(address))
}

// GetWalletBalance returns the on-chain balance of address, or of the wallet
// address when address is empty.
func (c *Connector) GetWalletBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return c.manager.GetWalletBalance(ctx, c.addressOrOwn(address))
}

func (c *Connector) GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error) {
	return c.manager.GetTransactionHistory(ctx, c.addressOrOwn(address), limit)
}

func (c *Connector) GetUTXOs(ctx context.Context, address string) ([]models.UTXO, error) {
	return c.manager.GetUTXOs(ctx, c.addressOrOwn(address))
}

func (c *Connector) Cleanup(ctx context.Context) error {
	return c.manager.Cleanup(ctx)
}

func (c *Connector) addressOrOwn(address string) string {
	if address == "" {
		return c.wallet.Address
	}
	return address
}
