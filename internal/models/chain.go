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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UTXO is an unspent output. Value is in satoshis.
type UTXO struct {
	Txid          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Value         int64  `json:"value"`
	Confirmations int64  `json:"confirmations"`
	ScriptPubKey  string `json:"scriptPubKey,omitempty"` // hex
}

// TxOutput is a transaction output. Exactly one of Address or Data is set;
// Data outputs are OP_RETURN outputs and carry no value.
type TxOutput struct {
	Address string `json:"address,omitempty"`
	Value   int64  `json:"value"`
	Data    []byte `json:"data,omitempty"`
}

// TransactionType is the direction of a transaction relative to an address
type TransactionType string

const (
	TransactionIncoming TransactionType = "incoming"
	TransactionOutgoing TransactionType = "outgoing"
)

// Transaction is an on-chain transaction as seen from one address.
// Amount is the absolute net movement in coin units.
type Transaction struct {
	Txid          string          `json:"txid"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
	Confirmations int64           `json:"confirmations"`
	Type          TransactionType `json:"type"`
}

// SignedTransaction is the output of the transaction builder.
type SignedTransaction struct {
	Txid    string     `json:"txid"`
	TxHex   string     `json:"txHex"`
	Inputs  []UTXO     `json:"inputs"`
	Outputs []TxOutput `json:"outputs"`
	Fee     int64      `json:"fee"`
}

// SatoshisPerCoin is the unit conversion for every supported chain.
const SatoshisPerCoin = 100_000_000

// SatsToCoins converts satoshis to coin units.
func SatsToCoins(sats int64) decimal.Decimal {
	return decimal.NewFromInt(sats).Shift(-8)
}

// CoinsToSats converts coin units to satoshis, truncating sub-satoshi precision.
func CoinsToSats(coins decimal.Decimal) int64 {
	return coins.Shift(8).Truncate(0).IntPart()
}
