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

	"github.com/aryanduntley/fractaledger-sub002/internal/common"
	"github.com/aryanduntley/fractaledger-sub002/internal/config"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"go.uber.org/zap"
)

func printDiscrepancy(d models.BalanceDiscrepancy, isLast bool) {
	status := "open"
	if d.Resolved {
		status = "resolved: " + d.Resolution
	}
	fmt.Printf("%s %-36s %s/%s difference %s (on-chain %s, allocated %s) %s [%s]\n",
		common.BoxPrefix(isLast),
		d.Id,
		d.Blockchain,
		d.PrimaryWalletName,
		d.Difference.String(),
		d.OnChainBalance.String(),
		d.AggregateInternalBalance.String(),
		d.Timestamp.Format("2006-01-02 15:04:05"),
		status)
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	blockchainFlag := flag.String("blockchain", "", "Filter by blockchain (optional)")
	walletFlag := flag.String("wallet", "", "Filter by primary wallet name (optional)")
	allFlag := flag.Bool("all", false, "Include resolved discrepancies")
	resolveFlag := flag.String("resolve", "", "Id of a discrepancy to resolve")
	resolutionFlag := flag.String("resolution", "", "Resolution note, required with --resolve")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Discrepancies live in the ledger alone, so no connector is needed.
	ledger, err := common.InitializeLedger(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger", zap.Error(err))
	}
	defer ledger.Close()

	if *resolveFlag != "" {
		if *resolutionFlag == "" {
			logger.Fatal("Invalid flags", zap.Error(fmt.Errorf("--resolution is required with --resolve")))
		}
		d, err := ledger.ResolveBalanceDiscrepancy(ctx, *resolveFlag, *resolutionFlag)
		if err != nil {
			logger.Fatal("Failed to resolve discrepancy", zap.String("id", *resolveFlag), zap.Error(err))
		}
		common.PrintHeader("DISCREPANCY RESOLVED", common.WideWidth)
		printDiscrepancy(*d, true)
		common.PrintSeparator("=", common.WideWidth)
		return
	}

	list, err := ledger.GetBalanceDiscrepancies(ctx, *blockchainFlag, *walletFlag, *allFlag)
	if err != nil {
		logger.Fatal("Failed to list discrepancies", zap.Error(err))
	}

	common.PrintHeader("BALANCE DISCREPANCIES", common.WideWidth)
	for i, d := range list {
		printDiscrepancy(d, i == len(list)-1)
	}
	open := 0
	for _, d := range list {
		if !d.Resolved {
			open++
		}
	}
	common.PrintFooter(fmt.Sprintf("SUMMARY: %d discrepancies (%d open)", len(list), open), common.WideWidth)

	logger.Info("Discrepancy query completed", zap.Int("total", len(list)), zap.Int("open", open))
}
