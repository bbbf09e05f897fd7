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

package common

import (
	"context"
	"fmt"

	"github.com/aryanduntley/fractaledger-sub002/internal/api"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"go.uber.org/zap"
)

// SelectInternalWallets retrieves internal wallets for command-line utilities.
// A non-empty id returns just that wallet; otherwise every wallet of the given
// primary wallet is returned, or of all primary wallets when blockchain and
// primaryWalletName are empty.
func SelectInternalWallets(ctx context.Context, svc *api.WalletService, id, blockchain, primaryWalletName string) ([]models.InternalWallet, error) {
	if id != "" {
		zap.L().Info("Looking up internal wallet", zap.String("id", id))
		w, err := svc.GetInternalWallet(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("wallet not found: %w", err)
		}
		return []models.InternalWallet{*w}, nil
	}

	var keys [][2]string
	if blockchain != "" || primaryWalletName != "" {
		keys = append(keys, [2]string{blockchain, primaryWalletName})
	} else {
		for _, c := range svc.Connectors() {
			keys = append(keys, [2]string{c.Wallet().Blockchain, c.Wallet().Name})
		}
	}

	var wallets []models.InternalWallet
	for _, k := range keys {
		ws, err := svc.ListInternalWallets(ctx, k[0], k[1])
		if err != nil {
			return nil, fmt.Errorf("failed to list wallets of %s: %w", models.WalletKey(k[0], k[1]), err)
		}
		wallets = append(wallets, ws...)
	}

	zap.L().Info("Retrieved internal wallets", zap.Int("count", len(wallets)))
	return wallets, nil
}
