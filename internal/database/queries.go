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

const (
	// Primary wallet queries
	queryGetPrimaryWallet = `
		SELECT address
		FROM primary_wallets
		WHERE blockchain = ? AND name = ?`

	queryInsertPrimaryWallet = `
		INSERT INTO primary_wallets (blockchain, name, address, created_at)
		VALUES (?, ?, ?, ?)`

	// Internal wallet queries
	queryInsertInternalWallet = `
		INSERT INTO internal_wallets (
			id, blockchain, primary_wallet_name, balance, metadata, is_base_wallet, version, created_at, updated_at
		) VALUES (?, ?, ?, '0', ?, ?, 1, ?, ?)`

	queryGetInternalWallet = `
		SELECT id, blockchain, primary_wallet_name, balance, metadata, is_base_wallet, version, created_at, updated_at
		FROM internal_wallets
		WHERE id = ?`

	queryGetInternalWalletsByPrimary = `
		SELECT id, blockchain, primary_wallet_name, balance, metadata, is_base_wallet, version, created_at, updated_at
		FROM internal_wallets
		WHERE blockchain = ? AND primary_wallet_name = ?
		ORDER BY is_base_wallet DESC, created_at, id`

	queryUpdateWalletBalance = `
		UPDATE internal_wallets
		SET balance = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	// Ledger transaction queries
	queryCheckDuplicateReference = `
		SELECT id FROM ledger_transactions WHERE reference = ? LIMIT 1`

	queryInsertLedgerTransaction = `
		INSERT INTO ledger_transactions (id, transaction_type, reference, counterparty, created_at)
		VALUES (?, ?, ?, ?, ?)`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (
			id, transaction_id, account_type, account_id, debit_amount, credit_amount, balance_before, balance_after, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// Discrepancy queries
	queryInsertDiscrepancy = `
		INSERT INTO balance_discrepancies (
			id, blockchain, primary_wallet_name, on_chain_balance, aggregate_internal_balance, difference, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryGetDiscrepancy = `
		SELECT id, blockchain, primary_wallet_name, on_chain_balance, aggregate_internal_balance, difference, timestamp, resolved, resolution
		FROM balance_discrepancies
		WHERE id = ?`

	queryGetDiscrepancies = `
		SELECT id, blockchain, primary_wallet_name, on_chain_balance, aggregate_internal_balance, difference, timestamp, resolved, resolution
		FROM balance_discrepancies
		WHERE (? = '' OR blockchain = ?)
		  AND (? = '' OR primary_wallet_name = ?)
		  AND (? OR resolved = 0)
		ORDER BY timestamp, id`

	queryResolveDiscrepancy = `
		UPDATE balance_discrepancies
		SET resolved = 1, resolution = ?, resolved_at = ?
		WHERE id = ? AND resolved = 0`
)
