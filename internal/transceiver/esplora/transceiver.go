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

package esplora

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/chain"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/transceiver"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ModuleName is the transceiver module name used in wallet configuration.
const ModuleName = "esplora"

func init() {
	transceiver.Register(ModuleName, func(cfg transceiver.ModuleConfig) (any, error) {
		return New(cfg)
	})
}

// Transceiver relays transactions and answers address queries through an
// Esplora API. It has no push channel, so the manager polls it.
type Transceiver struct {
	client *Client
	params *chaincfg.Params
	logger *zap.Logger
}

func New(cfg transceiver.ModuleConfig) (*Transceiver, error) {
	params, err := chain.NetworkParams(cfg.Blockchain, cfg.Network)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(ClientConfig{
		URL:            cfg.URL,
		RequestTimeout: cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Transceiver{
		client: client,
		params: params,
		logger: logger.With(zap.String("module", ModuleName), zap.String("url", cfg.URL)),
	}, nil
}

// Initialize checks the API is reachable.
func (t *Transceiver) Initialize(ctx context.Context) error {
	height, err := t.client.GetTipHeight(ctx)
	if err != nil {
		return fmt.Errorf("esplora API not reachable: %w", err)
	}
	t.logger.Info("Connected to esplora", zap.Int64("tip_height", height))
	return nil
}

func (t *Transceiver) BroadcastTransaction(ctx context.Context, txHex string, _ map[string]any) (string, error) {
	txid, err := t.client.BroadcastTransaction(ctx, txHex)
	if err != nil {
		return "", err
	}
	t.logger.Debug("Transaction relayed", zap.String("txid", txid))
	return txid, nil
}

func (t *Transceiver) MonitorWalletAddress(context.Context, string, transceiver.TransactionCallback) (*models.SubscriptionInfo, error) {
	return nil, transceiver.ErrMonitoringUnsupported
}

func (t *Transceiver) StopMonitoringWalletAddress(context.Context, string) (bool, error) {
	return false, nil
}

func (t *Transceiver) GetWalletBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	info, err := t.client.GetAddress(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return models.SatsToCoins(info.Balance()), nil
}

// GetTransactionHistory returns up to limit transactions of address, newest
// first. Unconfirmed transactions have a zero timestamp.
func (t *Transceiver) GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error) {
	txs, err := t.client.GetAddressTxs(ctx, address)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}

	var tip int64
	if hasConfirmed(txs) {
		if tip, err = t.client.GetTipHeight(ctx); err != nil {
			return nil, err
		}
	}

	history := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		net := netAmount(tx, address)
		kind := models.TransactionIncoming
		if net < 0 {
			kind = models.TransactionOutgoing
			net = -net
		}

		entry := models.Transaction{
			Txid:   tx.TxID,
			Amount: models.SatsToCoins(net),
			Type:   kind,
		}
		if tx.Status.Confirmed {
			entry.Timestamp = time.Unix(tx.Status.BlockTime, 0).UTC()
			entry.Confirmations = confirmations(tip, tx.Status.BlockHeight)
		}
		history = append(history, entry)
	}
	return history, nil
}

// GetUTXOs returns the unspent outputs of address with their locking script,
// so they can be signed without another lookup.
func (t *Transceiver) GetUTXOs(ctx context.Context, address string) ([]models.UTXO, error) {
	addr, err := btcutil.DecodeAddress(address, t.params)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", address, err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("unable to build script for %s: %w", address, err)
	}

	utxos, err := t.client.GetAddressUTXOs(ctx, address)
	if err != nil {
		return nil, err
	}

	var tip int64
	for _, u := range utxos {
		if u.Status.Confirmed {
			if tip, err = t.client.GetTipHeight(ctx); err != nil {
				return nil, err
			}
			break
		}
	}

	out := make([]models.UTXO, 0, len(utxos))
	scriptHex := hex.EncodeToString(script)
	for _, u := range utxos {
		utxo := models.UTXO{
			Txid:         u.TxID,
			Vout:         u.Vout,
			Value:        u.Value,
			ScriptPubKey: scriptHex,
		}
		if u.Status.Confirmed {
			utxo.Confirmations = confirmations(tip, u.Status.BlockHeight)
		}
		out = append(out, utxo)
	}
	return out, nil
}

// EstimateFeeRate returns the fee rate in sat/vB for confirmation within
// target blocks, rounded up. The closest target at or above the requested one
// is used when the exact one is missing.
func (t *Transceiver) EstimateFeeRate(ctx context.Context, target int) (int64, error) {
	estimates, err := t.client.GetFeeEstimates(ctx)
	if err != nil {
		return 0, err
	}

	best, bestTarget := 0.0, math.MaxInt
	for key, rate := range estimates {
		n, err := strconv.Atoi(key)
		if err != nil || n < target {
			continue
		}
		if n < bestTarget {
			best, bestTarget = rate, n
		}
	}
	if bestTarget == math.MaxInt {
		return 0, fmt.Errorf("no fee estimate for target %d", target)
	}
	return int64(math.Ceil(best)), nil
}

func (t *Transceiver) Cleanup(context.Context) error {
	t.client.Close()
	return nil
}

func hasConfirmed(txs []TxInfo) bool {
	for _, tx := range txs {
		if tx.Status.Confirmed {
			return true
		}
	}
	return false
}

func netAmount(tx TxInfo, address string) int64 {
	var net int64
	for _, out := range tx.Vout {
		if out.ScriptPubKeyAddr == address {
			net += out.Value
		}
	}
	for _, in := range tx.Vin {
		if in.PrevOut != nil && in.PrevOut.ScriptPubKeyAddr == address {
			net -= in.PrevOut.Value
		}
	}
	return net
}

func confirmations(tip, height int64) int64 {
	if tip < height {
		return 1
	}
	return tip - height + 1
}
