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
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PrimaryWallet is a real on-chain wallet. Its balance is never stored; it is
// always read from the chain through its connector.
type PrimaryWallet struct {
	Blockchain  string               `json:"blockchain" yaml:"blockchain"`
	Name        string               `json:"name" yaml:"name"`
	Network     string               `json:"network" yaml:"network"`
	Address     string               `json:"address" yaml:"address"`
	SecretRef   string               `json:"-" yaml:"secret"`
	Transceiver *TransceiverOverride `json:"transceiver,omitempty" yaml:"transceiver,omitempty"`
}

// TransceiverOverride replaces individual TransceiverConfig fields for one wallet.
type TransceiverOverride struct {
	Method             DeliveryMethod `json:"method,omitempty" yaml:"method,omitempty"`
	CallbackModule     string         `json:"module,omitempty" yaml:"module,omitempty"`
	URL                string         `json:"url,omitempty" yaml:"url,omitempty"`
	MonitoringInterval time.Duration  `json:"monitoringInterval,omitempty" yaml:"monitoringInterval,omitempty"`
	AutoMonitor        *bool          `json:"autoMonitor,omitempty" yaml:"autoMonitor,omitempty"`
}

// Key identifies a primary wallet across the system.
func (w PrimaryWallet) Key() string {
	return WalletKey(w.Blockchain, w.Name)
}

// WalletKey builds the "{blockchain}/{name}" key used by per-wallet maps and locks.
func WalletKey(blockchain, name string) string {
	return blockchain + "/" + name
}

// BaseWalletId returns the id of the synthetic base wallet for a primary wallet.
func BaseWalletId(blockchain, primaryWalletName string) string {
	return fmt.Sprintf("base_wallet_%s_%s", blockchain, primaryWalletName)
}

// InternalWallet is an off-chain sub-account of a primary wallet, owned by the ledger.
type InternalWallet struct {
	Id                string          `json:"id"`
	Blockchain        string          `json:"blockchain"`
	PrimaryWalletName string          `json:"primaryWalletName"`
	Balance           decimal.Decimal `json:"balance"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	IsBaseWallet      bool            `json:"isBaseWallet"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// BalanceDiscrepancy records a reconciliation that found the ledger out of line with the chain.
type BalanceDiscrepancy struct {
	Id                       string          `json:"id"`
	Blockchain               string          `json:"blockchain"`
	PrimaryWalletName        string          `json:"primaryWalletName"`
	OnChainBalance           decimal.Decimal `json:"onChainBalance"`
	AggregateInternalBalance decimal.Decimal `json:"aggregateInternalBalance"`
	Difference               decimal.Decimal `json:"difference"`
	Timestamp                time.Time       `json:"timestamp"`
	Resolved                 bool            `json:"resolved"`
	Resolution               string          `json:"resolution,omitempty"`
}

// ReconciliationResult is the outcome of one reconciliation of a primary wallet.
type ReconciliationResult struct {
	Blockchain               string              `json:"blockchain"`
	PrimaryWalletName        string              `json:"primaryWalletName"`
	OnChainBalance           decimal.Decimal     `json:"onChainBalance"`
	AggregateInternalBalance decimal.Decimal     `json:"aggregateInternalBalance"`
	PreviousBaseBalance      decimal.Decimal     `json:"previousBaseBalance"`
	ExcessBalance            decimal.Decimal     `json:"excessBalance"`
	Discrepancy              *BalanceDiscrepancy `json:"discrepancy,omitempty"`
	Timestamp                time.Time           `json:"timestamp"`
}
