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
	"flag"
	"fmt"

	"github.com/aryanduntley/fractaledger-sub002/internal/api"
	"github.com/aryanduntley/fractaledger-sub002/internal/common"
	"github.com/aryanduntley/fractaledger-sub002/internal/config"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	primaryWallets int
	totalWallets   int
	inconsistent   int
}

func formatOwner(metadata map[string]any) string {
	owner, ok := metadata["owner"].(string)
	if !ok || owner == "" {
		return "none"
	}
	if len(owner) > 16 {
		return owner[:16] + "..."
	}
	return owner
}

func printWallet(w models.InternalWallet, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	fmt.Printf("%s %-30s: %20s (owner: %s, updated: %s)\n",
		symbol,
		w.Id,
		w.Balance.String(),
		formatOwner(w.Metadata),
		w.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func printReportHeader(report *api.BalanceReport) {
	status := "consistent"
	if !report.Consistent {
		status = "INCONSISTENT"
	}
	fmt.Printf("\n┌─ Primary wallet: %s (%s)\n", models.WalletKey(report.Blockchain, report.PrimaryWalletName), report.Address)
	fmt.Printf("│  On-chain:  %s\n", report.OnChainBalance.String())
	fmt.Printf("│  Base:      %s\n", report.BaseBalance.String())
	fmt.Printf("│  Allocated: %s (%d wallets, %s)\n", report.AggregateInternalBalance.String(), len(report.Wallets), status)
	common.PrintBoxSeparator(78)
}

func processPrimaryWallet(ctx context.Context, svc *api.WalletService, blockchain, name string) (*api.BalanceReport, error) {
	report, err := svc.GetBalanceReport(ctx, blockchain, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance report: %w", err)
	}

	printReportHeader(report)
	for i, w := range report.Wallets {
		printWallet(w, i == len(report.Wallets)-1)
	}
	return report, nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	blockchainFlag := flag.String("blockchain", "", "Filter by blockchain (optional)")
	walletFlag := flag.String("wallet", "", "Filter by primary wallet name (optional)")
	idFlag := flag.String("id", "", "Show a single internal wallet (optional)")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close(ctx)

	if *idFlag != "" {
		wallets, err := common.SelectInternalWallets(ctx, services.Wallets, *idFlag, "", "")
		if err != nil {
			logger.Fatal("Failed to find wallet", zap.Error(err))
		}
		common.PrintHeader("INTERNAL WALLET", common.DefaultWidth)
		printWallet(wallets[0], true)
		common.PrintSeparator("=", common.DefaultWidth)
		return
	}

	common.PrintHeader("BALANCE REPORT", common.DefaultWidth)

	stats := balanceStats{}
	for _, c := range services.Wallets.Connectors() {
		w := c.Wallet()
		if *blockchainFlag != "" && w.Blockchain != *blockchainFlag {
			continue
		}
		if *walletFlag != "" && w.Name != *walletFlag {
			continue
		}
		stats.primaryWallets++

		report, err := processPrimaryWallet(ctx, services.Wallets, w.Blockchain, w.Name)
		if err != nil {
			logger.Error("Failed to process primary wallet", zap.String("wallet", w.Key()), zap.Error(err))
			continue
		}
		stats.totalWallets += len(report.Wallets)
		if !report.Consistent {
			stats.inconsistent++
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d internal wallets across %d primary wallets (%d inconsistent)",
		stats.totalWallets, stats.primaryWallets, stats.inconsistent)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("primary_wallets", stats.primaryWallets),
		zap.Int("internal_wallets", stats.totalWallets),
		zap.Int("inconsistent", stats.inconsistent))
}
