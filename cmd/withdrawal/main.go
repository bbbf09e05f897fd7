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
	"encoding/hex"
	"errors"
	"flag"
	"fmt"

	"github.com/aryanduntley/fractaledger-sub002/internal/api"
	"github.com/aryanduntley/fractaledger-sub002/internal/common"
	"github.com/aryanduntley/fractaledger-sub002/internal/config"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"
	"github.com/aryanduntley/fractaledger-sub002/internal/transceiver"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func parseAndValidateFlags() (*api.WithdrawalRequest, error) {
	idFlag := flag.String("id", "", "Internal wallet id (required)")
	amountFlag := flag.String("amount", "", "Amount to withdraw (required)")
	destinationFlag := flag.String("destination", "", "Destination address (required)")
	referenceFlag := flag.String("reference", "", "Idempotency reference (default: generated)")
	feeRateFlag := flag.Int64("fee-rate", 0, "Fee rate in sat/vbyte (default: estimated)")
	feeFlag := flag.Int64("fee", 0, "Absolute fee in satoshis, overrides --fee-rate (optional)")
	opReturnFlag := flag.String("op-return", "", "Hex data for an OP_RETURN output (optional)")
	rbfFlag := flag.Bool("rbf", false, "Signal replace-by-fee")
	flag.Parse()

	if *idFlag == "" || *amountFlag == "" || *destinationFlag == "" {
		return nil, fmt.Errorf("all flags are required: --id, --amount, --destination")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	req := &api.WithdrawalRequest{
		WalletId:  *idFlag,
		ToAddress: *destinationFlag,
		Amount:    amount,
		Reference: *referenceFlag,
		FeeRate:   *feeRateFlag,
		EnableRBF: *rbfFlag,
	}
	if req.Reference == "" {
		req.Reference = "withdrawal:" + uuid.New().String()
	}
	if *feeFlag > 0 {
		fee := *feeFlag
		req.Fee = &fee
	}
	if *opReturnFlag != "" {
		data, err := hex.DecodeString(*opReturnFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid OP_RETURN hex: %w", err)
		}
		req.OpReturn = data
	}
	return req, nil
}

func printWithdrawalSummary(w *models.InternalWallet, req *api.WithdrawalRequest) {
	common.PrintHeader("WITHDRAWAL REQUEST", common.DefaultWidth)
	fmt.Printf("Wallet:            %s (%s/%s)\n", w.Id, w.Blockchain, w.PrimaryWalletName)
	fmt.Printf("Current Balance:   %s\n", w.Balance.String())
	fmt.Printf("Withdrawal Amount: %s (plus network fee)\n", req.Amount.String())
	fmt.Printf("Destination:       %s\n", req.ToAddress)
	fmt.Printf("Reference:         %s\n", req.Reference)
	common.PrintSeparator("=", common.DefaultWidth)
}

func printFailure(err error) {
	common.PrintHeader("WITHDRAWAL FAILED", common.DefaultWidth)
	var (
		insufficient *api.InsufficientPrimaryFundsError
		timeout      *transceiver.TimeoutError
		broadcast    *transceiver.BroadcastError
	)
	switch {
	case !errors.As(err, &broadcast) && errors.As(err, &timeout) && timeout.Txid != "":
		fmt.Printf("Txid:              %s\n", timeout.Txid)
		fmt.Println("\n⚠️  Broadcast timed out; the debit is kept until the outcome is reported")
	case errors.As(err, &insufficient):
		fmt.Printf("On-chain balance:  %s\n", insufficient.OnChainBalance.String())
		fmt.Printf("Allocated:         %s\n", insufficient.AggregateInternalBalance.String())
		fmt.Println("\n❌ Primary wallet holds less than its internal wallets claim")
	case errors.Is(err, store.ErrInsufficientFunds):
		fmt.Println("❌ Insufficient balance in the internal wallet (amount plus fee)")
	case errors.Is(err, store.ErrDuplicateTransaction):
		fmt.Println("❌ A withdrawal with this reference was already processed")
	default:
		fmt.Printf("Error: %v\n", err)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	zap.L().Info("Starting withdrawal process",
		zap.String("wallet_id", req.WalletId),
		zap.String("amount", req.Amount.String()),
		zap.String("destination", req.ToAddress))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	zap.L().Info("Initializing services")
	services, err := common.InitializeServices(ctx, cfg, zap.L())
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close(ctx)

	w, err := services.Wallets.GetInternalWallet(ctx, req.WalletId)
	if err != nil {
		printFailure(err)
		zap.L().Fatal("Wallet not found", zap.String("id", req.WalletId), zap.Error(err))
	}
	printWithdrawalSummary(w, req)

	fmt.Println("🔄 Debiting wallet and sending transaction...")
	result, err := services.Wallets.WithdrawFromInternalWallet(ctx, *req)
	if err != nil {
		printFailure(err)
		zap.L().Fatal("Withdrawal failed", zap.Error(err))
	}

	fmt.Printf("✅ Withdrawal delivered!\n")
	fmt.Printf("   Txid:        %s\n", result.Broadcast.Txid)
	fmt.Printf("   Status:      %s (%s)\n", result.Broadcast.Status, result.Broadcast.Method)
	fmt.Printf("   Amount:      %s\n", result.Amount.String())
	fmt.Printf("   Fee:         %s\n", result.Fee.String())
	fmt.Printf("   New balance: %s\n\n", result.Wallet.Balance.String())
	if result.Broadcast.TxHex != "" && result.Broadcast.Method == models.DeliveryReturn {
		fmt.Printf("   Signed tx:   %s\n\n", result.Broadcast.TxHex)
	}

	zap.L().Info("Withdrawal completed successfully",
		zap.String("wallet_id", req.WalletId),
		zap.String("txid", result.Broadcast.Txid),
		zap.String("amount", req.Amount.String()))
}
