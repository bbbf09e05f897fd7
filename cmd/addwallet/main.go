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
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/aryanduntley/fractaledger-sub002/internal/common"
	"github.com/aryanduntley/fractaledger-sub002/internal/config"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type addWalletRequest struct {
	blockchain string
	wallet     string
	id         string
	metadata   map[string]any
	fund       decimal.Decimal
}

func validateId(id string) error {
	if strings.ContainsAny(id, "/: ") {
		return fmt.Errorf("wallet id %q may not contain '/', ':' or spaces", id)
	}
	if strings.HasPrefix(id, "base_wallet_") {
		return fmt.Errorf("wallet id %q uses the reserved base_wallet_ prefix", id)
	}
	return nil
}

func parseAndValidateFlags() (*addWalletRequest, error) {
	blockchainFlag := flag.String("blockchain", "", "Blockchain of the primary wallet (required)")
	walletFlag := flag.String("wallet", "", "Primary wallet name (required)")
	idFlag := flag.String("id", "", "Internal wallet id (default: generated)")
	ownerFlag := flag.String("owner", "", "Owner recorded in the wallet metadata (optional)")
	metadataFlag := flag.String("metadata", "", "Extra metadata as a JSON object (optional)")
	fundFlag := flag.String("fund", "", "Amount to allocate right away (optional)")
	flag.Parse()

	if *blockchainFlag == "" || *walletFlag == "" {
		return nil, fmt.Errorf("--blockchain and --wallet are required")
	}

	req := &addWalletRequest{
		blockchain: *blockchainFlag,
		wallet:     *walletFlag,
		id:         *idFlag,
		metadata:   map[string]any{},
	}
	if req.id == "" {
		req.id = uuid.New().String()
	}
	if err := validateId(req.id); err != nil {
		return nil, err
	}

	if *metadataFlag != "" {
		if err := json.Unmarshal([]byte(*metadataFlag), &req.metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata JSON: %w", err)
		}
	}
	if *ownerFlag != "" {
		req.metadata["owner"] = *ownerFlag
	}

	if *fundFlag != "" {
		amount, err := decimal.NewFromString(*fundFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid fund amount: %w", err)
		}
		if amount.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("fund amount must be greater than zero")
		}
		req.fund = amount
	}
	return req, nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		logger.Fatal("Invalid flags", zap.Error(err))
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

	w, err := services.Wallets.CreateInternalWallet(ctx, req.blockchain, req.wallet, req.id, req.metadata)
	if err != nil {
		if errors.Is(err, store.ErrWalletExists) {
			fmt.Printf("Wallet %s already exists\n", req.id)
		}
		logger.Fatal("Failed to create internal wallet", zap.Error(err))
	}

	common.PrintHeader("INTERNAL WALLET CREATED", common.DefaultWidth)
	fmt.Printf("ID:             %s\n", w.Id)
	fmt.Printf("Primary wallet: %s/%s\n", w.Blockchain, w.PrimaryWalletName)
	if len(w.Metadata) > 0 {
		fmt.Printf("Metadata:       %v\n", w.Metadata)
	}

	if !req.fund.IsZero() {
		funded, err := services.Wallets.FundInternalWallet(ctx, w.Id, req.fund, "initial:"+w.Id)
		if err != nil {
			common.PrintSeparator("=", common.DefaultWidth)
			logger.Fatal("Wallet created but initial funding failed", zap.String("id", w.Id), zap.Error(err))
		}
		fmt.Printf("Balance:        %s\n", funded.Balance.String())
	}
	common.PrintSeparator("=", common.DefaultWidth)

	logger.Info("Internal wallet created",
		zap.String("id", w.Id),
		zap.String("primary_wallet", w.Blockchain+"/"+w.PrimaryWalletName),
		zap.String("funded", req.fund.String()))
}
