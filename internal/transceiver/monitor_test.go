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
)

type collector struct {
	mu  sync.Mutex
	txs []models.Transaction
}

func (c *collector) callback(txs []models.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs = append(c.txs, txs...)
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.txs))
	for _, tx := range c.txs {
		ids = append(ids, tx.Txid)
	}
	return ids
}

func historyTx(txid string, at time.Time) models.Transaction {
	return models.Transaction{
		Txid:      txid,
		Amount:    decimal.RequireFromString("0.001"),
		Timestamp: at,
		Type:      models.TransactionIncoming,
	}
}

func TestMonitor_PollingDeliversOnceInOrder(t *testing.T) {
	ctx := context.Background()
	fake := &fakeTransceiver{}
	m := newTestManager(t, models.DeliveryCallback, fake)

	base := time.Now().Add(time.Hour)
	fake.setHistory(
		historyTx("old", time.Now().Add(-time.Hour)),
		historyTx("b", base.Add(2*time.Second)),
		historyTx("a", base.Add(time.Second)),
	)

	c := &collector{}
	sub, err := m.MonitorWalletAddress(ctx, "addr", c.callback)
	require.NoError(t, err)
	require.Equal(t, models.MonitoringPolling, sub.Method)

	require.Eventually(t, func() bool { return len(c.ids()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"a", "b"}, c.ids())

	// Further ticks see the same history and deliver nothing new.
	calls := fake.calls()
	require.Eventually(t, func() bool { return fake.calls() >= calls+3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"a", "b"}, c.ids())

	fake.setHistory(
		historyTx("c", base.Add(3*time.Second)),
		historyTx("b", base.Add(2*time.Second)),
		historyTx("a", base.Add(time.Second)),
	)
	require.Eventually(t, func() bool { return len(c.ids()) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"a", "b", "c"}, c.ids())

	subs := m.MonitoredAddresses()
	require.Len(t, subs, 1)
	require.True(t, subs[0].LastChecked.Equal(base.Add(3*time.Second)))
}

func TestMonitor_PollErrorsAreNotFatal(t *testing.T) {
	ctx := context.Background()
	fake := &fakeTransceiver{historyErr: errors.New("node unreachable")}
	m := newTestManager(t, models.DeliveryCallback, fake)

	c := &collector{}
	_, err := m.MonitorWalletAddress(ctx, "addr", c.callback)
	require.NoError(t, err)

	select {
	case ev := <-m.Errors():
		require.Equal(t, "poll", ev.Op)
		require.Equal(t, "addr", ev.Address)
		require.Contains(t, ev.Message, "node unreachable")
	case <-time.After(time.Second):
		t.Fatal("no error event")
	}

	fake.mu.Lock()
	fake.historyErr = nil
	fake.history = []models.Transaction{historyTx("late", time.Now().Add(time.Hour))}
	fake.mu.Unlock()

	require.Eventually(t, func() bool { return len(c.ids()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestMonitor_CallbackPanicIsRecovered(t *testing.T) {
	ctx := context.Background()
	fake := &fakeTransceiver{}
	m := newTestManager(t, models.DeliveryCallback, fake)
	fake.setHistory(historyTx("x", time.Now().Add(time.Hour)))

	_, err := m.MonitorWalletAddress(ctx, "addr", func([]models.Transaction) { panic("bad callback") })
	require.NoError(t, err)

	select {
	case ev := <-m.Errors():
		require.Equal(t, "callback", ev.Op)
	case <-time.After(time.Second):
		t.Fatal("no error event")
	}
	require.Len(t, m.MonitoredAddresses(), 1)
}

func TestMonitor_SubscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, models.DeliveryCallback, &fakeTransceiver{})

	first, err := m.MonitorWalletAddress(ctx, "addr", func([]models.Transaction) {})
	require.NoError(t, err)
	second, err := m.MonitorWalletAddress(ctx, "addr", func([]models.Transaction) {})
	require.NoError(t, err)

	require.True(t, first.CreatedAt.Equal(second.CreatedAt))
	require.Len(t, m.MonitoredAddresses(), 1)

	_, err = m.MonitorWalletAddress(ctx, "", func([]models.Transaction) {})
	require.Error(t, err)
	_, err = m.MonitorWalletAddress(ctx, "addr2", nil)
	require.Error(t, err)
}

func TestMonitor_StopEndsPolling(t *testing.T) {
	ctx := context.Background()
	fake := &fakeTransceiver{}
	m := newTestManager(t, models.DeliveryCallback, fake)

	_, err := m.MonitorWalletAddress(ctx, "addr", func([]models.Transaction) {})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fake.calls() > 0 }, time.Second, 5*time.Millisecond)

	stopped, err := m.StopMonitoringWalletAddress(ctx, "addr")
	require.NoError(t, err)
	require.True(t, stopped)

	calls := fake.calls()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, calls, fake.calls())
	require.Empty(t, m.MonitoredAddresses())

	stopped, err = m.StopMonitoringWalletAddress(ctx, "addr")
	require.NoError(t, err)
	require.False(t, stopped)
}

func TestMonitor_NativeSubscription(t *testing.T) {
	ctx := context.Background()
	fake := &fakeTransceiver{native: true}
	m := newTestManager(t, models.DeliveryCallback, fake)

	sub, err := m.MonitorWalletAddress(ctx, "addr", func([]models.Transaction) {})
	require.NoError(t, err)
	require.Equal(t, models.MonitoringTransceiver, sub.Method)

	time.Sleep(30 * time.Millisecond)
	require.Zero(t, fake.calls())

	stopped, err := m.StopMonitoringWalletAddress(ctx, "addr")
	require.NoError(t, err)
	require.True(t, stopped)
	require.Equal(t, []string{"addr"}, fake.nativeStopped)
}

func TestMonitor_RequiresTransceiver(t *testing.T) {
	m := newTestManager(t, models.DeliveryAPI, nil)
	_, err := m.MonitorWalletAddress(context.Background(), "addr", func([]models.Transaction) {})
	require.ErrorIs(t, err, ErrTransceiverUnavailable)
}

func TestNewerThan(t *testing.T) {
	now := time.Now()
	txs := []models.Transaction{
		historyTx("c", now.Add(3*time.Second)),
		historyTx("same", now),
		historyTx("a", now.Add(time.Second)),
		historyTx("unconfirmed", time.Time{}),
	}
	fresh := newerThan(txs, now)
	require.Len(t, fresh, 2)
	require.Equal(t, "a", fresh[0].Txid)
	require.Equal(t, "c", fresh[1].Txid)

	require.Empty(t, newerThan(nil, now))
}
