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
	"errors"
	"flag"
	"fmt"

	"github.com/aryanduntley/fractaledger-sub002/internal/common"
	"github.com/aryanduntley/fractaledger-sub002/internal/config"
	"github.com/aryanduntley/fractaledger-sub002/internal/reconcile"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	idFlag := flag.String("id", "", "Internal wallet id (required)")
	amountFlag := flag.String("amount", "", "Amount to allocate (required)")
	referenceFlag := flag.String("reference", "", "Idempotency reference (default: generated)")
	flag.Parse()

	if *idFlag == "" || *amountFlag == "" {
		logger.Fatal("Invalid flags", zap.Error(fmt.Errorf("--id and --amount are required")))
	}
	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		logger.Fatal("Invalid amount format", zap.Error(err))
	}
	reference := *referenceFlag
	if reference == "" {
		reference = "fund:" + uuid.New().String()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close(ctx)

	w, err := services.Wallets.FundInternalWallet(ctx, *idFlag, amount, reference)
	if err != nil {
		common.PrintHeader("FUNDING FAILED", common.DefaultWidth)
		var discrepancy *reconcile.DiscrepancyError
		switch {
		case errors.As(err, &discrepancy):
			fmt.Printf("Allocation would exceed the on-chain balance by %s\n", discrepancy.ExcessBalance.Neg().String())
		case errors.Is(err, store.ErrDuplicateTransaction):
			fmt.Printf("Reference %s was already applied\n", reference)
		default:
			fmt.Printf("Error: %v\n", err)
		}
		common.PrintSeparator("=", common.DefaultWidth)
		logger.Fatal("Funding failed", zap.String("id", *idFlag), zap.Error(err))
	}

	common.PrintHeader("WALLET FUNDED", common.DefaultWidth)
	fmt.Printf("Wallet:      %s\n", w.Id)
	fmt.Printf("Amount:      %s\n", amount.String())
	fmt.Printf("New balance: %s\n", w.Balance.String())
	fmt.Printf("Reference:   %s\n", reference)
	common.PrintSeparator("=", common.DefaultWidth)
}
