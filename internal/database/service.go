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
	"fmt"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Backend.
var _ store.Backend = (*Service)(nil)

// Service is the embedded SQLite ledger. Amounts are stored as decimal text so
// no precision is lost to floating point.
type Service struct {
	db        *sql.DB
	subledger *SubledgerService
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite ledger", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := newService(db)
	if err := service.initSchema(); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("SQLite ledger initialized successfully")
	return service, nil
}

func newService(db *sql.DB) *Service {
	return &Service{db: db, subledger: NewSubledgerService(db)}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema() error {
	schema := `
	-- Primary wallets known to the ledger
	CREATE TABLE IF NOT EXISTS primary_wallets (
		blockchain TEXT NOT NULL,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (blockchain, name)
	);

	-- Internal wallets, base wallets included (current state)
	CREATE TABLE IF NOT EXISTS internal_wallets (
		id TEXT PRIMARY KEY,
		blockchain TEXT NOT NULL,
		primary_wallet_name TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		metadata TEXT NOT NULL DEFAULT '{}',
		is_base_wallet BOOLEAN NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (blockchain, primary_wallet_name) REFERENCES primary_wallets(blockchain, name)
	);

	CREATE INDEX IF NOT EXISTS idx_internal_wallets_primary ON internal_wallets(blockchain, primary_wallet_name);

	-- Discrepancies found by reconciliation, never deleted
	CREATE TABLE IF NOT EXISTS balance_discrepancies (
		id TEXT PRIMARY KEY,
		blockchain TEXT NOT NULL,
		primary_wallet_name TEXT NOT NULL,
		on_chain_balance TEXT NOT NULL,
		aggregate_internal_balance TEXT NOT NULL,
		difference TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT 0,
		resolution TEXT NOT NULL DEFAULT '',
		resolved_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_discrepancies_wallet ON balance_discrepancies(blockchain, primary_wallet_name, resolved);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.subledger.InitSchema()
}
