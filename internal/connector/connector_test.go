package connector

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aryanduntley/fractaledger-sub002/internal/chain"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/transceiver"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testTxid = "5b1e2a4b9a1b3c8e0d9f6a7e2c4b1a0f9e8d7c6b5a4f3e2d1c0b9a8f7e6d5c4b"

type recordingTransceiver struct {
	mu         sync.Mutex
	broadcasts []string
	metadata   []map[string]any
	queried    []string
	feeRate    int64
}

func (r *recordingTransceiver) BroadcastTransaction(_ context.Context, txHex string, md map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, txHex)
	r.metadata = append(r.metadata, md)
	return "relayed", nil
}

func (r *recordingTransceiver) MonitorWalletAddress(context.Context, string, transceiver.TransactionCallback) (*models.SubscriptionInfo, error) {
	return nil, transceiver.ErrMonitoringUnsupported
}

func (r *recordingTransceiver) StopMonitoringWalletAddress(context.Context, string) (bool, error) {
	return false, nil
}

func (r *recordingTransceiver) GetWalletBalance(_ context.Context, address string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queried = append(r.queried, address)
	return decimal.RequireFromString("0.5"), nil
}

func (r *recordingTransceiver) GetTransactionHistory(context.Context, string, int) ([]models.Transaction, error) {
	return nil, nil
}

func (r *recordingTransceiver) GetUTXOs(_ context.Context, address string) ([]models.UTXO, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queried = append(r.queried, address)
	return nil, nil
}

type estimatingTransceiver struct {
	*recordingTransceiver
}

func (e estimatingTransceiver) EstimateFeeRate(context.Context, int) (int64, error) {
	return e.feeRate, nil
}

type testWallet struct {
	wallet models.PrimaryWallet
	other  string
}

func newTestWallet(t *testing.T) testWallet {
	t.Helper()
	params := &chaincfg.TestNet3Params

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	wif, err := btcutil.NewWIF(priv, params, true)
	require.NoError(t, err)
	own, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(priv.PubKey().SerializeCompressed()), params)
	require.NoError(t, err)

	otherKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(otherKey.PubKey().SerializeCompressed()), params)
	require.NoError(t, err)

	return testWallet{
		wallet: models.PrimaryWallet{
			Blockchain: chain.Bitcoin,
			Name:       "hot",
			Network:    "testnet",
			Address:    own.EncodeAddress(),
			SecretRef:  wif.String(),
		},
		other: other.EncodeAddress(),
	}
}

func newTestConnector(t *testing.T, w models.PrimaryWallet, method models.DeliveryMethod, tr transceiver.UTXOTransceiver) *Connector {
	t.Helper()
	builder, err := chain.NewTransactionBuilder(w.Blockchain, w.Network)
	require.NoError(t, err)
	manager, err := transceiver.NewManager(transceiver.Config{Wallet: w.Key(), Method: method}, tr, zap.NewNop())
	require.NoError(t, err)
	c, err := New(w, builder, manager, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Cleanup(context.Background()) })
	return c
}

func decodeTx(t *testing.T, txHex string) *wire.MsgTx {
	t.Helper()
	raw, err := hex.DecodeString(txHex)
	require.NoError(t, err)
	tx := wire.NewMsgTx(wire.TxVersion)
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	return tx
}

func TestSendTransaction_WithChange(t *testing.T) {
	w := newTestWallet(t)
	rec := &recordingTransceiver{}
	c := newTestConnector(t, w.wallet, models.DeliveryCallback, rec)

	ctx := models.WithOperationContext(context.Background(), &models.OperationContext{Operation: "withdrawal", Initiator: "ops"})
	res, err := c.SendTransaction(ctx, w.other, 50_000, SendOptions{
		FeeRate:  10,
		UTXOs:    []models.UTXO{{Txid: testTxid, Vout: 0, Value: 100_000}},
		Metadata: map[string]any{"ticket": "T-1"},
	})
	require.NoError(t, err)
	require.Equal(t, models.TxStatusBroadcasted, res.Status)
	require.Equal(t, chain.EstimateFee(1, 2, 10), res.Fee)
	require.Equal(t, int64(100_000-50_000)-res.Fee, res.Change)

	require.Len(t, rec.broadcasts, 1)
	tx := decodeTx(t, rec.broadcasts[0])
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(50_000), tx.TxOut[0].Value)
	require.Equal(t, res.Change, tx.TxOut[1].Value)
	require.Len(t, tx.TxIn[0].Witness, 2)

	md := rec.metadata[0]
	require.Equal(t, "withdrawal", md["operation"])
	require.Equal(t, "ops", md["initiator"])
	require.Equal(t, "T-1", md["ticket"])
	require.Equal(t, w.other, md["toAddress"])
}

func TestSendTransaction_ExactAmountHasNoChange(t *testing.T) {
	w := newTestWallet(t)
	rec := &recordingTransceiver{}
	c := newTestConnector(t, w.wallet, models.DeliveryCallback, rec)

	fee := int64(1_000)
	res, err := c.SendTransaction(context.Background(), w.other, 9_000, SendOptions{
		Fee:   &fee,
		UTXOs: []models.UTXO{{Txid: testTxid, Vout: 1, Value: 10_000}},
	})
	require.NoError(t, err)
	require.Zero(t, res.Change)
	require.Len(t, decodeTx(t, rec.broadcasts[0]).TxOut, 1)
}

func TestSendTransaction_OpReturn(t *testing.T) {
	w := newTestWallet(t)
	rec := &recordingTransceiver{}
	c := newTestConnector(t, w.wallet, models.DeliveryCallback, rec)
	utxos := []models.UTXO{{Txid: testTxid, Vout: 0, Value: 100_000}}

	_, err := c.SendTransaction(context.Background(), w.other, 10_000, SendOptions{
		FeeRate:  1,
		UTXOs:    utxos,
		OpReturn: []byte(strings.Repeat("x", 81)),
	})
	var tooLarge *chain.PayloadTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, 81, tooLarge.Size)
	require.Empty(t, rec.broadcasts)
	require.Empty(t, c.Manager().ReadyTransactions())

	res, err := c.SendTransaction(context.Background(), w.other, 10_000, SendOptions{
		FeeRate:  1,
		UTXOs:    utxos,
		OpReturn: []byte(strings.Repeat("x", 80)),
	})
	require.NoError(t, err)
	tx := decodeTx(t, rec.broadcasts[0])
	require.Len(t, tx.TxOut, 3)
	require.Zero(t, tx.TxOut[2].Value)
	require.NotZero(t, res.Change)
}

func TestSendTransaction_Validation(t *testing.T) {
	w := newTestWallet(t)
	rec := &recordingTransceiver{}
	c := newTestConnector(t, w.wallet, models.DeliveryCallback, rec)
	utxos := []models.UTXO{{Txid: testTxid, Vout: 0, Value: 10_000}}

	tests := []struct {
		name   string
		to     string
		amount int64
		opts   SendOptions
	}{
		{name: "invalid address", to: "bogus", amount: 1_000, opts: SendOptions{FeeRate: 1, UTXOs: utxos}},
		{name: "mainnet address", to: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", amount: 1_000, opts: SendOptions{FeeRate: 1, UTXOs: utxos}},
		{name: "no utxos", to: w.other, amount: 1_000, opts: SendOptions{FeeRate: 1}},
		{name: "zero amount", to: w.other, amount: 0, opts: SendOptions{FeeRate: 1, UTXOs: utxos}},
		{name: "insufficient inputs", to: w.other, amount: 9_900, opts: SendOptions{FeeRate: 10, UTXOs: utxos}},
		{name: "negative fee rate", to: w.other, amount: 1_000, opts: SendOptions{FeeRate: -1, UTXOs: utxos}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SendTransaction(context.Background(), tt.to, tt.amount, tt.opts)
			var invalid *chain.InvalidInputError
			require.ErrorAs(t, err, &invalid)
		})
	}
	require.Empty(t, rec.broadcasts)
}

func TestSendTransaction_ReturnMethod(t *testing.T) {
	w := newTestWallet(t)
	c := newTestConnector(t, w.wallet, models.DeliveryReturn, nil)

	res, err := c.SendTransaction(context.Background(), w.other, 5_000, SendOptions{
		FeeRate:  2,
		UTXOs:    []models.UTXO{{Txid: testTxid, Vout: 0, Value: 20_000}},
		Metadata: map[string]any{"purpose": "offline relay"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.TxHex)
	require.Equal(t, "offline relay", res.Metadata["purpose"])
	require.Equal(t, models.TxStatusReady, res.Status)

	rec, ok := c.Manager().PendingTransaction(res.Txid)
	require.True(t, ok)
	require.NotEqual(t, models.TxStatusBroadcasted, rec.Status)

	_, err = c.GetWalletBalance(context.Background(), "")
	require.ErrorIs(t, err, transceiver.ErrTransceiverUnavailable)
}

func TestQuoteFee(t *testing.T) {
	w := newTestWallet(t)
	ctx := context.Background()

	plain := newTestConnector(t, w.wallet, models.DeliveryCallback, &recordingTransceiver{})
	fee, err := plain.QuoteFee(ctx, 2, SendOptions{})
	require.NoError(t, err)
	require.Equal(t, chain.EstimateFee(2, 2, DefaultFeeRate), fee)

	quoting := newTestConnector(t, w.wallet, models.DeliveryCallback, estimatingTransceiver{&recordingTransceiver{feeRate: 3}})
	fee, err = quoting.QuoteFee(ctx, 1, SendOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(678), fee)

	fee, err = quoting.QuoteFee(ctx, 1, SendOptions{FeeRate: 5})
	require.NoError(t, err)
	require.Equal(t, chain.EstimateFee(1, 2, 5), fee)

	explicit := int64(777)
	fee, err = quoting.QuoteFee(ctx, 4, SendOptions{Fee: &explicit})
	require.NoError(t, err)
	require.Equal(t, explicit, fee)
}

func TestQueriesDefaultToOwnAddress(t *testing.T) {
	w := newTestWallet(t)
	rec := &recordingTransceiver{}
	c := newTestConnector(t, w.wallet, models.DeliveryCallback, rec)

	bal, err := c.GetWalletBalance(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "0.5", bal.String())

	_, err = c.GetUTXOs(context.Background(), w.other)
	require.NoError(t, err)
	require.Equal(t, []string{w.wallet.Address, w.other}, rec.queried)
}

func TestNew_Validation(t *testing.T) {
	w := newTestWallet(t)
	builder, err := chain.NewTransactionBuilder(chain.Bitcoin, "mainnet")
	require.NoError(t, err)
	manager, err := transceiver.NewManager(transceiver.Config{Method: models.DeliveryAPI}, nil, nil)
	require.NoError(t, err)

	_, err = New(w.wallet, builder, manager, nil)
	require.Error(t, err)

	watchOnly := w.wallet
	watchOnly.SecretRef = ""
	c := newTestConnector(t, watchOnly, models.DeliveryAPI, nil)
	_, err = c.SendTransaction(context.Background(), w.other, 1_000, SendOptions{
		FeeRate: 1,
		UTXOs:   []models.UTXO{{Txid: testTxid, Value: 10_000}},
	})
	require.ErrorIs(t, err, ErrNoSigningKey)

	missing := w.wallet
	missing.SecretRef = "env:FRACTALEDGER_TEST_UNSET_SECRET"
	testnet, err := chain.NewTransactionBuilder(chain.Bitcoin, "testnet")
	require.NoError(t, err)
	_, err = New(missing, testnet, manager, nil)
	require.Error(t, err)
}

func TestResolveSecret(t *testing.T) {
	t.Setenv("FRACTALEDGER_TEST_WIF", "  cVt4o7BGAig1UXywgGSmARhxMdzP5qvQsxKkSsc1XEkw3tDTQFpy\n")
	v, err := ResolveSecret("env:FRACTALEDGER_TEST_WIF")
	require.NoError(t, err)
	require.Equal(t, "cVt4o7BGAig1UXywgGSmARhxMdzP5qvQsxKkSsc1XEkw3tDTQFpy", v)

	path := filepath.Join(t.TempDir(), "wif")
	require.NoError(t, os.WriteFile(path, []byte("filewif\n"), 0o600))
	v, err = ResolveSecret("file:" + path)
	require.NoError(t, err)
	require.Equal(t, "filewif", v)

	_, err = ResolveSecret("file:" + filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	v, err = ResolveSecret("literal")
	require.NoError(t, err)
	require.Equal(t, "literal", v)

	v, err = ResolveSecret("")
	require.NoError(t, err)
	require.Empty(t, v)
}
