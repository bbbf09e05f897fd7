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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanWallet reads one internal_wallets row and returns it with its version.
func scanWallet(row rowScanner) (*models.InternalWallet, int64, error) {
	var (
		w          models.InternalWallet
		balanceStr string
		metadata   string
		version    int64
	)
	if err := row.Scan(&w.Id, &w.Blockchain, &w.PrimaryWalletName, &balanceStr, &metadata,
		&w.IsBaseWallet, &version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, 0, err
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}
	w.Balance = balance

	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &w.Metadata); err != nil {
			return nil, 0, fmt.Errorf("failed to parse metadata of %s: %w", w.Id, err)
		}
	}
	return &w, version, nil
}

// RegisterPrimaryWallet records a primary wallet and creates its base wallet.
// Registering the same wallet again returns the existing base wallet.
func (s *Service) RegisterPrimaryWallet(ctx context.Context, blockchain, name, address string) (*models.InternalWallet, error) {
	if blockchain == "" || name == "" || address == "" {
		return nil, fmt.Errorf("%w: blockchain, name and address are required", store.ErrInvalidArgument)
	}
	zap.L().Info("Registering primary wallet",
		zap.String("blockchain", blockchain),
		zap.String("name", name),
		zap.String("address", address))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	baseId := models.BaseWalletId(blockchain, name)

	var existing string
	err = tx.QueryRowContext(ctx, queryGetPrimaryWallet, blockchain, name).Scan(&existing)
	switch {
	case err == nil:
		if existing != address {
			return nil, fmt.Errorf("%w: %s is registered with address %s", store.ErrWalletExists, models.WalletKey(blockchain, name), existing)
		}
		base, _, err := scanWallet(tx.QueryRowContext(ctx, queryGetInternalWallet, baseId))
		if err != nil {
			return nil, fmt.Errorf("unable to load base wallet %s: %w", baseId, err)
		}
		zap.L().Info("Primary wallet already registered", zap.String("base_wallet_id", baseId))
		return base, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("unable to query primary wallet: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, queryInsertPrimaryWallet, blockchain, name, address, now); err != nil {
		return nil, fmt.Errorf("unable to insert primary wallet: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryInsertInternalWallet, baseId, blockchain, name, "{}", true, now, now); err != nil {
		return nil, fmt.Errorf("unable to insert base wallet: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Primary wallet registered successfully", zap.String("base_wallet_id", baseId))
	return &models.InternalWallet{
		Id:                baseId,
		Blockchain:        blockchain,
		PrimaryWalletName: name,
		Balance:           decimal.Zero,
		IsBaseWallet:      true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (s *Service) CreateInternalWallet(ctx context.Context, blockchain, primaryWalletName, id string, metadata map[string]any) (*models.InternalWallet, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: wallet id is required", store.ErrInvalidArgument)
	}
	if strings.HasPrefix(id, "base_wallet_") {
		return nil, fmt.Errorf("%w: %s is reserved for base wallets", store.ErrInvalidArgument, id)
	}
	md, err := store.ValidateMetadata(metadata)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Creating internal wallet",
		zap.String("id", id),
		zap.String("blockchain", blockchain),
		zap.String("primary_wallet", primaryWalletName))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var address string
	if err := tx.QueryRowContext(ctx, queryGetPrimaryWallet, blockchain, primaryWalletName).Scan(&address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrBaseWalletNotFound, models.WalletKey(blockchain, primaryWalletName))
		}
		return nil, fmt.Errorf("unable to query primary wallet: %w", err)
	}

	if _, _, err := scanWallet(tx.QueryRowContext(ctx, queryGetInternalWallet, id)); err == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrWalletExists, id)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("unable to query wallet: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, queryInsertInternalWallet, id, blockchain, primaryWalletName, string(md), false, now, now); err != nil {
		return nil, fmt.Errorf("unable to insert internal wallet: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Internal wallet created successfully", zap.String("id", id))
	w := &models.InternalWallet{
		Id:                id,
		Blockchain:        blockchain,
		PrimaryWalletName: primaryWalletName,
		Balance:           decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if len(metadata) > 0 {
		w.Metadata = metadata
	}
	return w, nil
}

func (s *Service) GetInternalWallet(ctx context.Context, id string) (*models.InternalWallet, error) {
	zap.L().Debug("Querying internal wallet", zap.String("id", id))

	w, _, err := scanWallet(s.db.QueryRowContext(ctx, queryGetInternalWallet, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrWalletNotFound, id)
		}
		zap.L().Error("Failed to query internal wallet", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("unable to query internal wallet: %w", err)
	}
	return w, nil
}

// GetInternalWalletsByPrimaryWallet returns the base wallet first, then the
// internal wallets in creation order.
func (s *Service) GetInternalWalletsByPrimaryWallet(ctx context.Context, blockchain, primaryWalletName string) ([]models.InternalWallet, error) {
	zap.L().Debug("Querying internal wallets",
		zap.String("blockchain", blockchain),
		zap.String("primary_wallet", primaryWalletName))

	rows, err := s.db.QueryContext(ctx, queryGetInternalWalletsByPrimary, blockchain, primaryWalletName)
	if err != nil {
		zap.L().Error("Failed to query internal wallets", zap.Error(err))
		return nil, fmt.Errorf("unable to query internal wallets: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var wallets []models.InternalWallet
	for rows.Next() {
		w, _, err := scanWallet(rows)
		if err != nil {
			zap.L().Error("Failed to scan wallet row", zap.Error(err))
			return nil, fmt.Errorf("unable to scan wallet row: %w", err)
		}
		wallets = append(wallets, *w)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during wallet row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating wallet rows: %w", err)
	}

	return wallets, nil
}
