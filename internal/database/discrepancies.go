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
	"errors"
	"fmt"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func scanDiscrepancy(row rowScanner) (*models.BalanceDiscrepancy, error) {
	var (
		d                        models.BalanceDiscrepancy
		onChain, aggregate, diff string
	)
	if err := row.Scan(&d.Id, &d.Blockchain, &d.PrimaryWalletName, &onChain, &aggregate, &diff,
		&d.Timestamp, &d.Resolved, &d.Resolution); err != nil {
		return nil, err
	}

	var err error
	if d.OnChainBalance, err = decimal.NewFromString(onChain); err != nil {
		return nil, fmt.Errorf("failed to parse on-chain balance '%s': %w", onChain, err)
	}
	if d.AggregateInternalBalance, err = decimal.NewFromString(aggregate); err != nil {
		return nil, fmt.Errorf("failed to parse aggregate balance '%s': %w", aggregate, err)
	}
	if d.Difference, err = decimal.NewFromString(diff); err != nil {
		return nil, fmt.Errorf("failed to parse difference '%s': %w", diff, err)
	}
	return &d, nil
}

// RecordBalanceDiscrepancy inserts d as a new open record. Existing records
// are never rewritten; only ResolveBalanceDiscrepancy changes them.
func (s *Service) RecordBalanceDiscrepancy(ctx context.Context, d models.BalanceDiscrepancy) (*models.BalanceDiscrepancy, error) {
	if d.Blockchain == "" || d.PrimaryWalletName == "" {
		return nil, fmt.Errorf("%w: discrepancy needs blockchain and primary wallet", store.ErrInvalidArgument)
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	if d.Id == "" {
		d.Id = uuid.New().String()
	}

	if _, err := s.db.ExecContext(ctx, queryInsertDiscrepancy, d.Id, d.Blockchain, d.PrimaryWalletName,
		d.OnChainBalance.String(), d.AggregateInternalBalance.String(), d.Difference.String(), d.Timestamp); err != nil {
		return nil, fmt.Errorf("unable to insert discrepancy: %w", err)
	}

	zap.L().Warn("Balance discrepancy recorded",
		zap.String("id", d.Id),
		zap.String("wallet", models.WalletKey(d.Blockchain, d.PrimaryWalletName)),
		zap.String("difference", d.Difference.String()))

	d.Resolved = false
	d.Resolution = ""
	return &d, nil
}

// GetBalanceDiscrepancies lists discrepancies oldest first. Empty blockchain or
// primaryWalletName match every wallet.
func (s *Service) GetBalanceDiscrepancies(ctx context.Context, blockchain, primaryWalletName string, includeResolved bool) ([]models.BalanceDiscrepancy, error) {
	rows, err := s.db.QueryContext(ctx, queryGetDiscrepancies,
		blockchain, blockchain, primaryWalletName, primaryWalletName, includeResolved)
	if err != nil {
		return nil, fmt.Errorf("unable to query discrepancies: %w", err)
	}
	defer rows.Close()

	var out []models.BalanceDiscrepancy
	for rows.Next() {
		d, err := scanDiscrepancy(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan discrepancy row: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating discrepancy rows: %w", err)
	}
	return out, nil
}

func (s *Service) ResolveBalanceDiscrepancy(ctx context.Context, id, resolution string) (*models.BalanceDiscrepancy, error) {
	if resolution == "" {
		return nil, fmt.Errorf("%w: resolution is required", store.ErrInvalidArgument)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	d, err := scanDiscrepancy(tx.QueryRowContext(ctx, queryGetDiscrepancy, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrDiscrepancyNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("unable to query discrepancy: %w", err)
	}
	if d.Resolved {
		return nil, fmt.Errorf("%w: discrepancy %s already resolved", store.ErrInvalidArgument, id)
	}

	if _, err := tx.ExecContext(ctx, queryResolveDiscrepancy, resolution, time.Now().UTC(), id); err != nil {
		return nil, fmt.Errorf("unable to resolve discrepancy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Balance discrepancy resolved", zap.String("id", id), zap.String("resolution", resolution))
	d.Resolved = true
	d.Resolution = resolution
	return d, nil
}
