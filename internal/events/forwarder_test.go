package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/transceiver"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func (p *fakePublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func newEventManager(t *testing.T) *transceiver.Manager {
	t.Helper()
	m, err := transceiver.NewManager(transceiver.Config{
		Wallet:  models.WalletKey("bitcoin", "hot"),
		Method:  models.DeliveryEvent,
		Timeout: time.Second,
	}, nil, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestForwarder_Subjects(t *testing.T) {
	f := NewForwarder(&fakePublisher{}, "")
	require.Equal(t, "fractaledger.transactions.bitcoin.hot", f.Subject("transactions", "bitcoin/hot"))
	require.Equal(t, "fractaledger.results.>", f.ResultsSubject())

	f = NewForwarder(&fakePublisher{}, "ledger")
	require.Equal(t, "ledger.activity.litecoin.cold", f.Subject("activity", "litecoin/cold"))
}

func TestForwarder_PublishesTransactionEvents(t *testing.T) {
	pub := &fakePublisher{}
	f := NewForwarder(pub, "test")
	m := newEventManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Forward(ctx, m)

	res, err := m.BroadcastTransaction(ctx, "tx1", "0100", map[string]any{"walletId": "alice"})
	require.NoError(t, err)
	require.Equal(t, models.TxStatusReady, res.Status)

	require.Eventually(t, func() bool {
		for _, msg := range pub.snapshot() {
			if msg.subject == "test.transactions.bitcoin.hot" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	var ev transceiver.TransactionEvent
	for _, msg := range pub.snapshot() {
		if msg.subject == "test.transactions.bitcoin.hot" {
			require.NoError(t, json.Unmarshal(msg.data, &ev))
		}
	}
	require.Equal(t, "tx1", ev.Txid)
	require.Equal(t, "0100", ev.TxHex)
	require.Equal(t, "alice", ev.Metadata["walletId"])
}

func TestForwarder_StopsWhenManagerCloses(t *testing.T) {
	f := NewForwarder(&fakePublisher{}, "test")
	m := newEventManager(t)
	f.Forward(context.Background(), m)

	require.NoError(t, m.Cleanup(context.Background()))

	done := make(chan struct{})
	go func() {
		f.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop after manager cleanup")
	}
}

func TestForwarder_PublishErrorIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats down")}
	f := NewForwarder(pub, "test")
	m := newEventManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	f.Forward(ctx, m)

	_, err := m.BroadcastTransaction(ctx, "tx1", "0100", nil)
	require.NoError(t, err)
	_, err = m.BroadcastTransaction(ctx, "tx2", "0200", nil)
	require.NoError(t, err)

	cancel()
	f.Wait()
	require.Empty(t, pub.snapshot())
}

func TestHandleResult(t *testing.T) {
	f := NewForwarder(&fakePublisher{}, "")

	var got []string
	h := func(_ context.Context, blockchain, name, txid, result, errMsg string) error {
		got = []string{blockchain, name, txid, result, errMsg}
		return nil
	}

	err := f.HandleResult(context.Background(), []byte(`{"wallet":"bitcoin/hot","txid":"tx1","error":"rejected"}`), h)
	require.NoError(t, err)
	require.Equal(t, []string{"bitcoin", "hot", "tx1", "", "rejected"}, got)

	err = f.HandleResult(context.Background(), []byte(`{"wallet":"litecoin/cold","txid":"tx2","result":"ok"}`), h)
	require.NoError(t, err)
	require.Equal(t, []string{"litecoin", "cold", "tx2", "ok", ""}, got)
}

func TestHandleResult_Invalid(t *testing.T) {
	f := NewForwarder(&fakePublisher{}, "")
	calls := 0
	h := func(context.Context, string, string, string, string, string) error {
		calls++
		return nil
	}

	require.Error(t, f.HandleResult(context.Background(), []byte(`not json`), h))
	require.Error(t, f.HandleResult(context.Background(), []byte(`{"wallet":"bitcoin","txid":"tx1"}`), h))
	require.Error(t, f.HandleResult(context.Background(), []byte(`{"wallet":"bitcoin/hot"}`), h))
	require.Zero(t, calls)

	boom := errors.New("unknown transaction")
	err := f.HandleResult(context.Background(), []byte(`{"wallet":"bitcoin/hot","txid":"tx1"}`), func(context.Context, string, string, string, string, string) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}
