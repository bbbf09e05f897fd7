package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	service := newService(db)
	if err := service.initSchema(); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}
	t.Cleanup(service.Close)
	return service
}

// setupFundedWallet registers bitcoin/hot with one internal wallet "alice"
// holding amount.
func setupFundedWallet(t *testing.T, service *Service, amount string) {
	t.Helper()
	ctx := context.Background()
	if _, err := service.RegisterPrimaryWallet(ctx, "bitcoin", "hot", "tb1qhot"); err != nil {
		t.Fatalf("RegisterPrimaryWallet failed: %v", err)
	}
	if _, err := service.CreateInternalWallet(ctx, "bitcoin", "hot", "alice", nil); err != nil {
		t.Fatalf("CreateInternalWallet failed: %v", err)
	}
	if amount != "" {
		if _, err := service.FundInternalWallet(ctx, "alice", decimal.RequireFromString(amount), ""); err != nil {
			t.Fatalf("FundInternalWallet failed: %v", err)
		}
	}
}

func countRows(t *testing.T, service *Service, query string, args ...any) int {
	t.Helper()
	var n int
	if err := service.db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("Count query failed: %v", err)
	}
	return n
}

func TestProcessTransaction_Fund(t *testing.T) {
	service := setupTestService(t)
	setupFundedWallet(t, service, "")

	ctx := context.Background()
	amount := decimal.RequireFromString("1.5")

	result, err := service.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		TransactionType:  txTypeFund,
		Reference:        "ref1",
		Postings:         []Posting{{WalletId: "alice", Amount: amount}},
		CounterpartyType: accountPrimaryWallet,
		Counterparty:     "bitcoin/hot",
	})
	if err != nil {
		t.Fatalf("ProcessTransaction failed: %v", err)
	}

	if result.Id == "" {
		t.Error("Expected a transaction id")
	}
	if len(result.Wallets) != 1 {
		t.Fatalf("Expected 1 wallet, got %d", len(result.Wallets))
	}
	if !result.Wallets[0].Balance.Equal(amount) {
		t.Errorf("Expected balance %s, got %s", amount.String(), result.Wallets[0].Balance.String())
	}

	// One entry for the wallet, one for the counterparty
	if n := countRows(t, service, "SELECT COUNT(*) FROM journal_entries WHERE transaction_id = ?", result.Id); n != 2 {
		t.Errorf("Expected 2 journal entries, got %d", n)
	}

	var debit, credit string
	if err := service.db.QueryRow(
		"SELECT debit_amount, credit_amount FROM journal_entries WHERE transaction_id = ? AND account_type = ?",
		result.Id, accountPrimaryWallet).Scan(&debit, &credit); err != nil {
		t.Fatalf("Failed to read counterparty entry: %v", err)
	}
	if debit != "0" || credit != "1.5" {
		t.Errorf("Expected counterparty credit 1.5, got debit %s credit %s", debit, credit)
	}
}

func TestProcessTransaction_DuplicateReference(t *testing.T) {
	service := setupTestService(t)
	setupFundedWallet(t, service, "")

	ctx := context.Background()
	params := ProcessTransactionParams{
		TransactionType:  txTypeFund,
		Reference:        "dup",
		Postings:         []Posting{{WalletId: "alice", Amount: decimal.NewFromInt(1)}},
		CounterpartyType: accountPrimaryWallet,
		Counterparty:     "bitcoin/hot",
	}

	if _, err := service.subledger.ProcessTransaction(ctx, params); err != nil {
		t.Fatalf("First ProcessTransaction failed: %v", err)
	}

	_, err := service.subledger.ProcessTransaction(ctx, params)
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Fatalf("Expected ErrDuplicateTransaction, got %v", err)
	}

	w, err := service.GetInternalWallet(ctx, "alice")
	if err != nil {
		t.Fatalf("GetInternalWallet failed: %v", err)
	}
	if !w.Balance.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected balance 1 after duplicate, got %s", w.Balance.String())
	}
}

func TestProcessTransaction_EmptyReferencesAreNotDuplicates(t *testing.T) {
	service := setupTestService(t)
	setupFundedWallet(t, service, "")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := service.FundInternalWallet(ctx, "alice", decimal.NewFromInt(1), ""); err != nil {
			t.Fatalf("FundInternalWallet %d failed: %v", i, err)
		}
	}
	if n := countRows(t, service, "SELECT COUNT(*) FROM ledger_transactions"); n != 2 {
		t.Errorf("Expected 2 ledger transactions, got %d", n)
	}
}

func TestProcessTransaction_InsufficientFundsRollsBack(t *testing.T) {
	service := setupTestService(t)
	setupFundedWallet(t, service, "0.5")

	ctx := context.Background()
	_, err := service.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		TransactionType:  txTypeWithdraw,
		Reference:        "overdraw",
		Postings:         []Posting{{WalletId: "alice", Amount: decimal.NewFromInt(-1)}},
		CounterpartyType: accountPrimaryWallet,
		Counterparty:     "bitcoin/hot",
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	if n := countRows(t, service, "SELECT COUNT(*) FROM ledger_transactions WHERE reference = ?", "overdraw"); n != 0 {
		t.Errorf("Expected failed transaction to be rolled back, found %d rows", n)
	}
}

func TestProcessTransaction_BaseWalletImmutable(t *testing.T) {
	service := setupTestService(t)
	setupFundedWallet(t, service, "")

	ctx := context.Background()
	_, err := service.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		TransactionType:  txTypeFund,
		Postings:         []Posting{{WalletId: models.BaseWalletId("bitcoin", "hot"), Amount: decimal.NewFromInt(1)}},
		CounterpartyType: accountPrimaryWallet,
		Counterparty:     "bitcoin/hot",
	})
	if !errors.Is(err, store.ErrBaseWalletImmutable) {
		t.Fatalf("Expected ErrBaseWalletImmutable, got %v", err)
	}

	_, err = service.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		TransactionType:  txTypeBaseUpdate,
		Postings:         []Posting{{WalletId: "alice", Amount: decimal.NewFromInt(1)}},
		CounterpartyType: accountReconciliation,
		Counterparty:     "bitcoin/hot",
	})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("Expected ErrInvalidArgument for base update of a regular wallet, got %v", err)
	}
}

func TestProcessTransaction_MixedPrimaryWallets(t *testing.T) {
	service := setupTestService(t)
	setupFundedWallet(t, service, "1")

	ctx := context.Background()
	if _, err := service.RegisterPrimaryWallet(ctx, "bitcoin", "cold", "tb1qcold"); err != nil {
		t.Fatalf("RegisterPrimaryWallet failed: %v", err)
	}
	if _, err := service.CreateInternalWallet(ctx, "bitcoin", "cold", "bob", nil); err != nil {
		t.Fatalf("CreateInternalWallet failed: %v", err)
	}

	_, err := service.TransferBetweenInternalWallets(ctx, "alice", "bob", decimal.RequireFromString("0.1"), "")
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestProcessTransaction_ConcurrentModification(t *testing.T) {
	service := setupTestService(t)
	setupFundedWallet(t, service, "1")

	// A stale version never matches the update
	res, err := service.db.Exec(queryUpdateWalletBalance, "2", "2025-01-01 00:00:00", "alice", 999)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		t.Fatalf("RowsAffected failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected stale version to update 0 rows, got %d", n)
	}
}
