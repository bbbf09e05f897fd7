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

package transceiver

import (
	"context"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"github.com/shopspring/decimal"
)

// TransactionCallback receives newly seen transactions for a monitored address,
// oldest first.
type TransactionCallback func(txs []models.Transaction)

// UTXOTransceiver relays transactions to a network and answers queries about
// addresses. Balances are in coin units, UTXO values in satoshis.
type UTXOTransceiver interface {
	BroadcastTransaction(ctx context.Context, txHex string, metadata map[string]any) (string, error)
	// MonitorWalletAddress returns ErrMonitoringUnsupported when the manager
	// should poll GetTransactionHistory instead.
	MonitorWalletAddress(ctx context.Context, address string, callback TransactionCallback) (*models.SubscriptionInfo, error)
	StopMonitoringWalletAddress(ctx context.Context, address string) (bool, error)
	GetWalletBalance(ctx context.Context, address string) (decimal.Decimal, error)
	GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error)
	GetUTXOs(ctx context.Context, address string) ([]models.UTXO, error)
}

// Initializer is implemented by transceivers that need setup before use.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Cleaner is implemented by transceivers holding resources.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// FeeEstimator is implemented by transceivers that can quote a fee rate in
// sat/vB for confirmation within target blocks.
type FeeEstimator interface {
	EstimateFeeRate(ctx context.Context, target int) (int64, error)
}

type broadcaster interface {
	BroadcastTransaction(ctx context.Context, txHex string, metadata map[string]any) (string, error)
}

type monitor interface {
	MonitorWalletAddress(ctx context.Context, address string, callback TransactionCallback) (*models.SubscriptionInfo, error)
}

type monitorStopper interface {
	StopMonitoringWalletAddress(ctx context.Context, address string) (bool, error)
}

type balanceQuerier interface {
	GetWalletBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

type historyQuerier interface {
	GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error)
}

type utxoQuerier interface {
	GetUTXOs(ctx context.Context, address string) ([]models.UTXO, error)
}

// AsTransceiver checks that v implements every UTXOTransceiver method and
// names the ones it lacks.
func AsTransceiver(module string, v any) (UTXOTransceiver, error) {
	var missing []string
	if _, ok := v.(broadcaster); !ok {
		missing = append(missing, "BroadcastTransaction")
	}
	if _, ok := v.(monitor); !ok {
		missing = append(missing, "MonitorWalletAddress")
	}
	if _, ok := v.(monitorStopper); !ok {
		missing = append(missing, "StopMonitoringWalletAddress")
	}
	if _, ok := v.(balanceQuerier); !ok {
		missing = append(missing, "GetWalletBalance")
	}
	if _, ok := v.(historyQuerier); !ok {
		missing = append(missing, "GetTransactionHistory")
	}
	if _, ok := v.(utxoQuerier); !ok {
		missing = append(missing, "GetUTXOs")
	}
	if len(missing) > 0 {
		return nil, &IncompleteTransceiverError{Module: module, Missing: missing}
	}
	return v.(UTXOTransceiver), nil
}
