package transceiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTransceiver struct {
	mu sync.Mutex

	broadcastErr   error
	broadcastDelay time.Duration
	broadcasts     []string

	history      []models.Transaction
	historyErr   error
	historyCalls int

	native        bool
	nativeStopped []string

	balance decimal.Decimal
	utxos   []models.UTXO

	initialized bool
	cleaned     bool
}

func (f *fakeTransceiver) BroadcastTransaction(ctx context.Context, txHex string, _ map[string]any) (string, error) {
	f.mu.Lock()
	delay, err := f.broadcastDelay, f.broadcastErr
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, txHex)
	return "node-" + txHex, nil
}

func (f *fakeTransceiver) MonitorWalletAddress(_ context.Context, address string, _ TransactionCallback) (*models.SubscriptionInfo, error) {
	if !f.native {
		return nil, ErrMonitoringUnsupported
	}
	return &models.SubscriptionInfo{Address: address}, nil
}

func (f *fakeTransceiver) StopMonitoringWalletAddress(_ context.Context, address string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nativeStopped = append(f.nativeStopped, address)
	return true, nil
}

func (f *fakeTransceiver) GetWalletBalance(context.Context, string) (decimal.Decimal, error) {
	return f.balance, nil
}

func (f *fakeTransceiver) GetTransactionHistory(_ context.Context, _ string, _ int) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return append([]models.Transaction(nil), f.history...), nil
}

func (f *fakeTransceiver) GetUTXOs(context.Context, string) ([]models.UTXO, error) {
	return f.utxos, nil
}

func (f *fakeTransceiver) Initialize(context.Context) error {
	f.initialized = true
	return nil
}

func (f *fakeTransceiver) Cleanup(context.Context) error {
	f.cleaned = true
	return nil
}

func (f *fakeTransceiver) setHistory(txs ...models.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = txs
}

func (f *fakeTransceiver) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls
}

func newTestManager(t *testing.T, method models.DeliveryMethod, tr UTXOTransceiver) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Wallet:             "bitcoin/test",
		Method:             method,
		MonitoringInterval: 10 * time.Millisecond,
		Timeout:            time.Second,
	}, tr, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Cleanup(context.Background()) })
	return m
}

func TestNewManager_CallbackRequiresTransceiver(t *testing.T) {
	_, err := NewManager(Config{Method: models.DeliveryCallback}, nil, nil)
	var incomplete *IncompleteTransceiverError
	require.ErrorAs(t, err, &incomplete)
	require.Contains(t, incomplete.Missing, "BroadcastTransaction")

	_, err = NewManager(Config{Method: "carrier-pigeon"}, nil, nil)
	require.Error(t, err)

	m, err := NewManager(Config{Method: models.DeliveryAPI}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.DeliveryAPI, m.Method())
}

func TestBroadcast_Callback(t *testing.T) {
	ctx := context.Background()
	fake := &fakeTransceiver{}
	m := newTestManager(t, models.DeliveryCallback, fake)
	require.NoError(t, m.Initialize(ctx))
	require.True(t, fake.initialized)

	res, err := m.BroadcastTransaction(ctx, "tx1", "aabb", map[string]any{"memo": "x"})
	require.NoError(t, err)
	require.Equal(t, models.TxStatusBroadcasted, res.Status)
	require.Empty(t, res.TxHex)

	rec, ok := m.PendingTransaction("tx1")
	require.True(t, ok)
	require.Equal(t, models.TxStatusBroadcasted, rec.Status)
	require.Equal(t, "node-aabb", rec.Result)

	// Already broadcasted: no second relay.
	_, err = m.BroadcastTransaction(ctx, "tx1", "aabb", nil)
	require.NoError(t, err)
	require.Len(t, fake.broadcasts, 1)
}

func TestBroadcast_CallbackFailure(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("mempool rejected")
	fake := &fakeTransceiver{broadcastErr: cause}
	m := newTestManager(t, models.DeliveryCallback, fake)

	_, err := m.BroadcastTransaction(ctx, "tx1", "aabb", nil)
	var bErr *BroadcastError
	require.ErrorAs(t, err, &bErr)
	require.ErrorIs(t, err, cause)
	require.False(t, IsRetryable(err))

	rec, ok := m.PendingTransaction("tx1")
	require.True(t, ok)
	require.Equal(t, models.TxStatusFailed, rec.Status)
	require.Contains(t, rec.Error, "mempool rejected")

	// A failed transaction can be retried.
	fake.mu.Lock()
	fake.broadcastErr = nil
	fake.mu.Unlock()
	res, err := m.BroadcastTransaction(ctx, "tx1", "aabb", nil)
	require.NoError(t, err)
	require.Equal(t, models.TxStatusBroadcasted, res.Status)
}

func TestBroadcast_CallbackTimeout(t *testing.T) {
	fake := &fakeTransceiver{broadcastDelay: 500 * time.Millisecond}
	m, err := NewManager(Config{Method: models.DeliveryCallback, Timeout: 20 * time.Millisecond}, fake, zap.NewNop())
	require.NoError(t, err)

	_, err = m.BroadcastTransaction(context.Background(), "slow", "aabb", map[string]any{"walletId": "A"})
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, "slow", timeout.Txid)
	require.True(t, IsRetryable(err))
	var bErr *BroadcastError
	require.False(t, errors.As(err, &bErr))

	// The node may have the transaction, so the record stays open.
	rec, ok := m.PendingTransaction("slow")
	require.True(t, ok)
	require.Equal(t, models.TxStatusPending, rec.Status)
	require.True(t, rec.TimedOut)
	require.Equal(t, "A", rec.Metadata["walletId"])
	require.NotEmpty(t, rec.Error)
	require.Zero(t, m.PruneSettled())

	// A retry broadcasts again
	fake.mu.Lock()
	fake.broadcastDelay = 0
	fake.mu.Unlock()
	res, err := m.BroadcastTransaction(context.Background(), "slow", "aabb", nil)
	require.NoError(t, err)
	require.Equal(t, models.TxStatusBroadcasted, res.Status)
	require.Len(t, fake.broadcasts, 1)
}

func TestBroadcast_CallbackTimeoutSettledByStatusUpdate(t *testing.T) {
	fake := &fakeTransceiver{broadcastDelay: 500 * time.Millisecond}
	m, err := NewManager(Config{Method: models.DeliveryCallback, Timeout: 20 * time.Millisecond}, fake, zap.NewNop())
	require.NoError(t, err)

	_, err = m.BroadcastTransaction(context.Background(), "slow", "aabb", nil)
	require.True(t, IsRetryable(err))

	rec, err := m.UpdateTransactionStatus("slow", models.TxStatusFailed, "", "never reached a node")
	require.NoError(t, err)
	require.Equal(t, models.TxStatusFailed, rec.Status)
	require.True(t, rec.TimedOut)

	_, err = m.SubmitTransactionResult("slow", "", "again")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBroadcast_EventTimeoutFails(t *testing.T) {
	m, err := NewManager(Config{Method: models.DeliveryEvent, Timeout: 20 * time.Millisecond, EventBuffer: 1}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Cleanup(context.Background()) })

	_, err = m.BroadcastTransaction(context.Background(), "first", "01", nil)
	require.NoError(t, err)

	// Nobody drains the channel
	_, err = m.BroadcastTransaction(context.Background(), "second", "02", nil)
	var bErr *BroadcastError
	require.ErrorAs(t, err, &bErr)
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)

	rec, ok := m.PendingTransaction("second")
	require.True(t, ok)
	require.Equal(t, models.TxStatusFailed, rec.Status)
}

func TestBroadcast_Event(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, models.DeliveryEvent, nil)

	res, err := m.BroadcastTransaction(ctx, "tx-ev", "ccdd", map[string]any{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, models.TxStatusReady, res.Status)

	select {
	case ev := <-m.Transactions():
		require.Equal(t, "tx-ev", ev.Txid)
		require.Equal(t, "ccdd", ev.TxHex)
		require.Equal(t, "bitcoin/test", ev.Wallet)
	case <-time.After(time.Second):
		t.Fatal("no transaction event")
	}

	rec, err := m.SubmitTransactionResult("tx-ev", "relayed", "")
	require.NoError(t, err)
	require.Equal(t, models.TxStatusBroadcasted, rec.Status)

	rec, err = m.UpdateTransactionStatus("tx-ev", models.TxStatusConfirmed, "", "")
	require.NoError(t, err)
	require.Equal(t, models.TxStatusConfirmed, rec.Status)

	_, err = m.UpdateTransactionStatus("tx-ev", models.TxStatusReady, "", "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBroadcast_API(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, models.DeliveryAPI, nil)

	_, err := m.BroadcastTransaction(ctx, "a", "01", nil)
	require.NoError(t, err)
	_, err = m.BroadcastTransaction(ctx, "b", "02", nil)
	require.NoError(t, err)

	ready := m.ReadyTransactions()
	require.Len(t, ready, 2)
	require.Equal(t, "a", ready[0].Txid)

	rec, err := m.SubmitTransactionResult("b", "", "peer refused")
	require.NoError(t, err)
	require.Equal(t, models.TxStatusFailed, rec.Status)
	require.Len(t, m.ReadyTransactions(), 1)

	_, err = m.SubmitTransactionResult("missing", "", "")
	require.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestBroadcast_Return(t *testing.T) {
	m := newTestManager(t, models.DeliveryReturn, nil)

	res, err := m.BroadcastTransaction(context.Background(), "", "beef", map[string]any{"purpose": "cold"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Txid)
	require.Equal(t, "beef", res.TxHex)
	require.Equal(t, "cold", res.Metadata["purpose"])
	require.Equal(t, models.TxStatusReady, res.Status)

	rec, ok := m.PendingTransaction(res.Txid)
	require.True(t, ok)
	require.NotEqual(t, models.TxStatusBroadcasted, rec.Status)
}

func TestQueries_UnavailableOutsideCallback(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, models.DeliveryEvent, &fakeTransceiver{})

	_, err := m.GetWalletBalance(ctx, "addr")
	require.ErrorIs(t, err, ErrTransceiverUnavailable)
	_, err = m.GetUTXOs(ctx, "addr")
	require.ErrorIs(t, err, ErrTransceiverUnavailable)
	_, err = m.GetTransactionHistory(ctx, "addr", 10)
	require.ErrorIs(t, err, ErrTransceiverUnavailable)

	cb := newTestManager(t, models.DeliveryCallback, &fakeTransceiver{balance: decimal.RequireFromString("1.5")})
	bal, err := cb.GetWalletBalance(ctx, "addr")
	require.NoError(t, err)
	require.True(t, bal.Equal(decimal.RequireFromString("1.5")))
}

func TestPruneSettled(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, models.DeliveryCallback, &fakeTransceiver{broadcastErr: errors.New("boom")})

	_, err := m.BroadcastTransaction(ctx, "f", "00", nil)
	require.Error(t, err)

	// Not read yet.
	require.Equal(t, 0, m.PruneSettled())
	_, ok := m.PendingTransaction("f")
	require.True(t, ok)
	require.Equal(t, 1, m.PruneSettled())
	_, ok = m.PendingTransaction("f")
	require.False(t, ok)
}

func TestPruneSettled_ExpiresReadyTransactions(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(Config{Method: models.DeliveryReturn, ReadyTTL: 50 * time.Millisecond}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Cleanup(context.Background()) })

	_, err = m.BroadcastTransaction(ctx, "old", "01", nil)
	require.NoError(t, err)
	require.Zero(t, m.PruneSettled())

	time.Sleep(100 * time.Millisecond)
	_, err = m.BroadcastTransaction(ctx, "fresh", "02", nil)
	require.NoError(t, err)

	require.Equal(t, 1, m.PruneSettled())
	_, ok := m.PendingTransaction("old")
	require.False(t, ok)
	ready := m.ReadyTransactions()
	require.Len(t, ready, 1)
	require.Equal(t, "fresh", ready[0].Txid)
}

func TestPruneSettled_KeepsReadyWithoutTTL(t *testing.T) {
	m := newTestManager(t, models.DeliveryAPI, nil)

	_, err := m.BroadcastTransaction(context.Background(), "a", "01", nil)
	require.NoError(t, err)
	require.Zero(t, m.PruneSettled())
	require.Len(t, m.ReadyTransactions(), 1)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	fake := &fakeTransceiver{}
	m, err := NewManager(Config{Method: models.DeliveryCallback, MonitoringInterval: 10 * time.Millisecond}, fake, zap.NewNop())
	require.NoError(t, err)

	_, err = m.MonitorWalletAddress(ctx, "addr", func([]models.Transaction) {})
	require.NoError(t, err)
	_, err = m.BroadcastTransaction(ctx, "tx", "00", nil)
	require.NoError(t, err)

	require.NoError(t, m.Cleanup(ctx))
	require.True(t, fake.cleaned)
	require.Empty(t, m.MonitoredAddresses())
	_, ok := m.PendingTransaction("tx")
	require.False(t, ok)

	_, err = m.BroadcastTransaction(ctx, "tx2", "00", nil)
	require.ErrorIs(t, err, ErrManagerClosed)
	require.NoError(t, m.Cleanup(ctx))
}

type partialTransceiver struct{}

func (partialTransceiver) BroadcastTransaction(context.Context, string, map[string]any) (string, error) {
	return "", nil
}

func (partialTransceiver) GetUTXOs(context.Context, string) ([]models.UTXO, error) {
	return nil, nil
}

func TestAsTransceiver(t *testing.T) {
	_, err := AsTransceiver("partial", partialTransceiver{})
	var incomplete *IncompleteTransceiverError
	require.ErrorAs(t, err, &incomplete)
	require.Equal(t, "partial", incomplete.Module)
	require.ElementsMatch(t, []string{
		"MonitorWalletAddress", "StopMonitoringWalletAddress", "GetWalletBalance", "GetTransactionHistory",
	}, incomplete.Missing)

	_, err = AsTransceiver("nil", nil)
	require.ErrorAs(t, err, &incomplete)
	require.Len(t, incomplete.Missing, 6)

	tr, err := AsTransceiver("fake", &fakeTransceiver{})
	require.NoError(t, err)
	require.NotNil(t, tr)
}

func TestRegistry(t *testing.T) {
	Register("test-fake", func(ModuleConfig) (any, error) { return &fakeTransceiver{}, nil })
	Register("test-partial", func(ModuleConfig) (any, error) { return partialTransceiver{}, nil })

	require.Contains(t, Modules(), "test-fake")

	tr, err := Load("test-fake", ModuleConfig{})
	require.NoError(t, err)
	require.NotNil(t, tr)

	_, err = Load("test-partial", ModuleConfig{})
	var incomplete *IncompleteTransceiverError
	require.ErrorAs(t, err, &incomplete)

	_, err = Load("does-not-exist", ModuleConfig{})
	require.ErrorIs(t, err, ErrUnknownModule)

	require.Panics(t, func() {
		Register("test-fake", func(ModuleConfig) (any, error) { return nil, nil })
	})
}
