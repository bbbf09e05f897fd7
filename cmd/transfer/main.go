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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	fromFlag := flag.String("from", "", "Source internal wallet id (required)")
	toFlag := flag.String("to", "", "Destination internal wallet id (required)")
	amountFlag := flag.String("amount", "", "Amount to move (required)")
	referenceFlag := flag.String("reference", "", "Idempotency reference (default: generated)")
	flag.Parse()

	if *fromFlag == "" || *toFlag == "" || *amountFlag == "" {
		logger.Fatal("Invalid flags", zap.Error(fmt.Errorf("--from, --to and --amount are required")))
	}
	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		logger.Fatal("Invalid amount format", zap.Error(err))
	}
	reference := *referenceFlag
	if reference == "" {
		reference = "transfer:" + uuid.New().String()
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

	result, err := services.Wallets.TransferBetweenInternalWallets(ctx, *fromFlag, *toFlag, amount, reference)
	if err != nil {
		common.PrintHeader("TRANSFER FAILED", common.DefaultWidth)
		fmt.Printf("Error: %v\n", err)
		common.PrintSeparator("=", common.DefaultWidth)
		logger.Fatal("Transfer failed", zap.String("from", *fromFlag), zap.String("to", *toFlag), zap.Error(err))
	}

	common.PrintHeader("TRANSFER COMPLETED", common.DefaultWidth)
	fmt.Printf("From:      %s (balance %s)\n", result.From.Id, result.From.Balance.String())
	fmt.Printf("To:        %s (balance %s)\n", result.To.Id, result.To.Balance.String())
	fmt.Printf("Amount:    %s\n", amount.String())
	fmt.Printf("Reference: %s\n", reference)
	common.PrintSeparator("=", common.DefaultWidth)
}
