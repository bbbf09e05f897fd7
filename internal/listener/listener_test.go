package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/transceiver"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeMonitor struct {
	wallet  models.PrimaryWallet
	history []models.Transaction
	histErr error

	mu       sync.Mutex
	callback transceiver.TransactionCallback
	stopped  bool
}

func (f *fakeMonitor) Wallet() models.PrimaryWallet { return f.wallet }

func (f *fakeMonitor) MonitorWalletAddress(_ context.Context, address string, cb transceiver.TransactionCallback) (models.MonitoringSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = cb
	if address == "" {
		address = f.wallet.Address
	}
	return models.MonitoringSubscription{Address: address, Method: models.MonitoringPolling, CreatedAt: time.Now()}, nil
}

func (f *fakeMonitor) StopMonitoringWalletAddress(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return true, nil
}

func (f *fakeMonitor) GetTransactionHistory(context.Context, string, int) ([]models.Transaction, error) {
	return f.history, f.histErr
}

func (f *fakeMonitor) deliver(txs ...models.Transaction) {
	f.mu.Lock()
	cb := f.callback
	f.mu.Unlock()
	cb(txs)
}

// pruningMonitor also tracks delivered transactions.
type pruningMonitor struct {
	*fakeMonitor
	pruned int
}

func (p *pruningMonitor) PruneSettled() int {
	p.pruned++
	return 2
}

type countingReconciler struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (c *countingReconciler) Reconcile(_ context.Context, blockchain, name string) (*models.ReconciliationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[models.WalletKey(blockchain, name)]++
	if c.err != nil {
		return nil, c.err
	}
	return &models.ReconciliationResult{Blockchain: blockchain, PrimaryWalletName: name}, nil
}

func (c *countingReconciler) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[key]
}

func hotWallet() models.PrimaryWallet {
	return models.PrimaryWallet{Blockchain: "bitcoin", Name: "hot", Network: "testnet", Address: "tb1qhot"}
}

func incoming(txid string, at time.Time) models.Transaction {
	return models.Transaction{Txid: txid, Amount: decimal.RequireFromString("0.1"), Timestamp: at, Type: models.TransactionIncoming}
}

func TestStart_RecoversAndReconciles(t *testing.T) {
	now := time.Now().UTC()
	m := &fakeMonitor{
		wallet: hotWallet(),
		history: []models.Transaction{
			incoming("recent", now.Add(-time.Hour)),
			incoming("old", now.Add(-48*time.Hour)),
			incoming("unconfirmed", time.Time{}),
		},
	}
	rec := &countingReconciler{}
	l := NewWalletListener(WalletListenerConfig{Wallets: []Monitor{m}, Reconciler: rec})

	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.Equal(t, 1, rec.count("bitcoin/hot"))
	require.True(t, l.isTransactionProcessed("bitcoin/hot", "recent"))
	require.True(t, l.isTransactionProcessed("bitcoin/hot", "unconfirmed"))
	require.False(t, l.isTransactionProcessed("bitcoin/hot", "old"))
}

func TestActivity_ReconcilesOnlyOnNewTransactions(t *testing.T) {
	m := &fakeMonitor{wallet: hotWallet()}
	rec := &countingReconciler{}
	l := NewWalletListener(WalletListenerConfig{Wallets: []Monitor{m}, Reconciler: rec})

	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()
	require.Equal(t, 1, rec.count("bitcoin/hot"))

	tx := incoming("tx-1", time.Now())
	m.deliver(tx)
	require.Equal(t, 2, rec.count("bitcoin/hot"))

	// Redelivery of the same transaction is ignored
	m.deliver(tx)
	require.Equal(t, 2, rec.count("bitcoin/hot"))

	m.deliver(tx, incoming("tx-2", time.Now()))
	require.Equal(t, 3, rec.count("bitcoin/hot"))
}

func TestHandleTransactions_ReconcileErrorIsNotFatal(t *testing.T) {
	rec := &countingReconciler{err: errors.New("node down")}
	l := NewWalletListener(WalletListenerConfig{Reconciler: rec})

	n := l.handleTransactions(context.Background(), hotWallet(), []models.Transaction{incoming("tx-1", time.Now())})
	require.Equal(t, 1, n)
	require.Equal(t, 1, rec.count("bitcoin/hot"))
	require.True(t, l.isTransactionProcessed("bitcoin/hot", "tx-1"))
}

func TestProcessedTransactionsAreScopedPerWallet(t *testing.T) {
	l := NewWalletListener(WalletListenerConfig{})

	require.True(t, l.markTransactionProcessed("bitcoin/hot", "tx"))
	require.False(t, l.markTransactionProcessed("bitcoin/hot", "tx"))
	require.True(t, l.markTransactionProcessed("bitcoin/cold", "tx"))
}

func TestCleanupProcessedTransactions(t *testing.T) {
	l := NewWalletListener(WalletListenerConfig{LookbackWindow: time.Hour})
	l.markTransactionProcessed("bitcoin/hot", "tx-1")

	require.Zero(t, l.cleanupProcessedTransactions(time.Now().UTC()))
	require.Equal(t, 1, l.cleanupProcessedTransactions(time.Now().UTC().Add(2*time.Hour)))
	require.False(t, l.isTransactionProcessed("bitcoin/hot", "tx-1"))
}

func TestPruneDeliveries(t *testing.T) {
	plain := &fakeMonitor{wallet: hotWallet()}
	tracked := &pruningMonitor{fakeMonitor: &fakeMonitor{wallet: models.PrimaryWallet{Blockchain: "bitcoin", Name: "cold", Address: "tb1qcold"}}}
	l := NewWalletListener(WalletListenerConfig{Wallets: []Monitor{plain, tracked}})

	require.Equal(t, 2, l.pruneDeliveries())
	require.Equal(t, 1, tracked.pruned)
}

func TestStart_NoWallets(t *testing.T) {
	l := NewWalletListener(WalletListenerConfig{Reconciler: &countingReconciler{}})
	require.Error(t, l.Start(context.Background()))
}

func TestStart_MajorityRecoveryFailure(t *testing.T) {
	m := &fakeMonitor{wallet: hotWallet(), histErr: errors.New("unavailable")}
	l := NewWalletListener(WalletListenerConfig{Wallets: []Monitor{m}, Reconciler: &countingReconciler{}})

	require.Error(t, l.Start(context.Background()))
	require.Nil(t, m.callback)
}

func TestStop_CancelsSubscriptions(t *testing.T) {
	m := &fakeMonitor{wallet: hotWallet()}
	l := NewWalletListener(WalletListenerConfig{Wallets: []Monitor{m}, Reconciler: &countingReconciler{}, CleanupInterval: time.Millisecond})

	require.NoError(t, l.Start(context.Background()))
	l.Stop()
	l.Stop()
	require.True(t, m.stopped)
}
