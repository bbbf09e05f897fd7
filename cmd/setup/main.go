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

package main

import (
	"context"
	"fmt"

	"github.com/aryanduntley/fractaledger-sub002/internal/common"
	"github.com/aryanduntley/fractaledger-sub002/internal/config"

	"go.uber.org/zap"
)

type setupStats struct {
	wallets       int
	consistent    int
	discrepancies int
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	logger.Info("Starting setup")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Registering every configured wallet creates its base wallet and runs
	// the first reconciliation.
	services, err := common.InitializeServices(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close(ctx)

	common.PrintHeader("PRIMARY WALLET SETUP", common.DefaultWidth)

	stats := setupStats{}
	for _, c := range services.Wallets.Connectors() {
		w := c.Wallet()
		stats.wallets++

		report, err := services.Wallets.GetBalanceReport(ctx, w.Blockchain, w.Name)
		if err != nil {
			logger.Error("Failed to read balances", zap.String("wallet", w.Key()), zap.Error(err))
			continue
		}
		if report.Consistent {
			stats.consistent++
		}

		open, err := services.Wallets.Discrepancies(ctx, w.Blockchain, w.Name, false)
		if err != nil {
			logger.Error("Failed to list discrepancies", zap.String("wallet", w.Key()), zap.Error(err))
		}
		stats.discrepancies += len(open)

		fmt.Printf("\n┌─ %s (%s)\n", w.Key(), w.Network)
		fmt.Printf("│  Address:        %s\n", w.Address)
		fmt.Printf("│  Method:         %s\n", c.Manager().Method())
		fmt.Printf("│  On-chain:       %s\n", report.OnChainBalance.String())
		fmt.Printf("│  Base wallet:    %s\n", report.BaseBalance.String())
		fmt.Printf("%s Internal wallets: %d (open discrepancies: %d)\n", common.BoxPrefix(true), len(report.Wallets), len(open))
	}

	summary := fmt.Sprintf("SUMMARY: %d primary wallets registered (%d consistent, %d open discrepancies)",
		stats.wallets, stats.consistent, stats.discrepancies)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Setup completed",
		zap.Int("wallets", stats.wallets),
		zap.Int("consistent", stats.consistent),
		zap.Int("open_discrepancies", stats.discrepancies))
}
