package chain

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

const testTxid = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

type testKey struct {
	wif     string
	p2pkh   string
	p2wpkh  string
	hash160 []byte
}

func newTestKey(t *testing.T, params *chaincfg.Params) testKey {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	wif, err := btcutil.NewWIF(priv, params, true)
	require.NoError(t, err)

	hash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	pkh, err := btcutil.NewAddressPubKeyHash(hash, params)
	require.NoError(t, err)
	wpkh, err := btcutil.NewAddressWitnessPubKeyHash(hash, params)
	require.NoError(t, err)

	return testKey{wif: wif.String(), p2pkh: pkh.EncodeAddress(), p2wpkh: wpkh.EncodeAddress(), hash160: hash}
}

func newTestBuilder(t *testing.T) *TransactionBuilder {
	t.Helper()
	b, err := NewTransactionBuilder(Bitcoin, "testnet")
	require.NoError(t, err)
	return b
}

// verifyInputs runs every input of txHex through the script engine.
func verifyInputs(t *testing.T, b *TransactionBuilder, txHex string, inputs []models.UTXO, inputType ScriptType, key testKey) {
	t.Helper()

	raw, err := hex.DecodeString(txHex)
	require.NoError(t, err)
	tx := wire.NewMsgTx(wire.TxVersion)
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))

	addr := key.p2pkh
	if inputType == ScriptP2WPKH {
		addr = key.p2wpkh
	}
	decoded, err := btcutil.DecodeAddress(addr, b.Params())
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(decoded)
	require.NoError(t, err)

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.Txid)
		require.NoError(t, err)
		fetcher.AddPrevOut(*wire.NewOutPoint(hash, inputs[i].Vout), wire.NewTxOut(in.Value, pkScript))
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, in := range inputs {
		vm, err := txscript.NewEngine(pkScript, tx, i, txscript.StandardVerifyFlags, nil, sigHashes, in.Value, fetcher)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}
}

func TestCreateAndSignTransaction_P2PKH(t *testing.T) {
	b := newTestBuilder(t)
	key := newTestKey(t, b.Params())
	dest := newTestKey(t, b.Params())

	inputs := []models.UTXO{
		{Txid: testTxid, Vout: 0, Value: 60_000},
		{Txid: testTxid, Vout: 1, Value: 50_000},
	}
	outputs := []models.TxOutput{
		{Address: dest.p2pkh, Value: 80_000},
		{Address: key.p2pkh, Value: 27_000},
	}

	signed, err := b.CreateAndSignTransaction(key.wif, inputs, outputs, BuildOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(3_000), signed.Fee)
	require.Len(t, signed.Txid, 64)
	require.NotEmpty(t, signed.TxHex)
	require.Equal(t, inputs, signed.Inputs)

	verifyInputs(t, b, signed.TxHex, inputs, ScriptP2PKH, key)
}

func TestCreateAndSignTransaction_P2WPKH(t *testing.T) {
	b := newTestBuilder(t)
	key := newTestKey(t, b.Params())
	dest := newTestKey(t, b.Params())

	inputs := []models.UTXO{{Txid: testTxid, Vout: 2, Value: 100_000}}
	outputs := []models.TxOutput{{Address: dest.p2wpkh, Value: 99_000}}

	signed, err := b.CreateAndSignTransaction(key.wif, inputs, outputs, BuildOptions{InputType: ScriptP2WPKH, EnableRBF: true})
	require.NoError(t, err)
	require.Equal(t, int64(1_000), signed.Fee)

	verifyInputs(t, b, signed.TxHex, inputs, ScriptP2WPKH, key)
}

func TestCreateAndSignTransaction_ScriptPubKeySelectsType(t *testing.T) {
	b := newTestBuilder(t)
	key := newTestKey(t, b.Params())

	addr, err := btcutil.DecodeAddress(key.p2wpkh, b.Params())
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	inputs := []models.UTXO{{Txid: testTxid, Value: 20_000, ScriptPubKey: hex.EncodeToString(script)}}
	outputs := []models.TxOutput{{Address: key.p2pkh, Value: 19_000}}

	// InputType is P2PKH but the script says P2WPKH.
	signed, err := b.CreateAndSignTransaction(key.wif, inputs, outputs, BuildOptions{InputType: ScriptP2PKH})
	require.NoError(t, err)
	verifyInputs(t, b, signed.TxHex, inputs, ScriptP2WPKH, key)
}

func TestCreateAndSignTransaction_OpReturn(t *testing.T) {
	b := newTestBuilder(t)
	key := newTestKey(t, b.Params())

	inputs := []models.UTXO{{Txid: testTxid, Value: 10_000}}
	outputs := []models.TxOutput{
		{Address: key.p2pkh, Value: 9_000},
		{Data: []byte("fractaledger")},
	}
	signed, err := b.CreateAndSignTransaction(key.wif, inputs, outputs, BuildOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(1_000), signed.Fee)

	outputs[1].Data = bytes.Repeat([]byte{0x01}, MaxOpReturnSize+1)
	_, err = b.CreateAndSignTransaction(key.wif, inputs, outputs, BuildOptions{})
	var tooLarge *PayloadTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, 81, tooLarge.Size)
}

func TestCreateAndSignTransaction_InvalidInput(t *testing.T) {
	b := newTestBuilder(t)
	key := newTestKey(t, b.Params())
	out := []models.TxOutput{{Address: key.p2pkh, Value: 1_000}}

	tests := []struct {
		name    string
		inputs  []models.UTXO
		outputs []models.TxOutput
	}{
		{"no inputs", nil, out},
		{"no outputs", []models.UTXO{{Txid: testTxid, Value: 5_000}}, nil},
		{"missing txid", []models.UTXO{{Value: 5_000}}, out},
		{"bad txid", []models.UTXO{{Txid: "zz", Value: 5_000}}, out},
		{"zero value", []models.UTXO{{Txid: testTxid, Value: 0}}, out},
		{"outputs exceed inputs", []models.UTXO{{Txid: testTxid, Value: 500}}, out},
		{"bad output address", []models.UTXO{{Txid: testTxid, Value: 5_000}}, []models.TxOutput{{Address: "nope", Value: 1_000}}},
		{"mainnet output address", []models.UTXO{{Txid: testTxid, Value: 5_000}}, []models.TxOutput{{Address: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", Value: 1_000}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.CreateAndSignTransaction(key.wif, tt.inputs, tt.outputs, BuildOptions{})
			var invalid *InvalidInputError
			require.ErrorAs(t, err, &invalid)
		})
	}
}

func TestCreateAndSignTransaction_SigningErrors(t *testing.T) {
	b := newTestBuilder(t)
	key := newTestKey(t, b.Params())
	other := newTestKey(t, b.Params())
	mainnetKey := newTestKey(t, &chaincfg.MainNetParams)
	out := []models.TxOutput{{Address: key.p2pkh, Value: 1_000}}
	in := []models.UTXO{{Txid: testTxid, Value: 5_000}}

	var signErr *SigningError

	_, err := b.CreateAndSignTransaction("not-a-wif", in, out, BuildOptions{})
	require.ErrorAs(t, err, &signErr)

	_, err = b.CreateAndSignTransaction(mainnetKey.wif, in, out, BuildOptions{})
	require.ErrorAs(t, err, &signErr)
	require.ErrorIs(t, err, ErrWrongNetworkKey)

	addr, err := btcutil.DecodeAddress(other.p2pkh, b.Params())
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	foreign := []models.UTXO{{Txid: testTxid, Value: 5_000, ScriptPubKey: hex.EncodeToString(script)}}
	_, err = b.CreateAndSignTransaction(key.wif, foreign, out, BuildOptions{})
	require.ErrorIs(t, err, ErrKeyMismatch)
}

func TestCreateAndSignTransaction_UnsupportedScript(t *testing.T) {
	b := newTestBuilder(t)
	key := newTestKey(t, b.Params())

	script, err := txscript.NullDataScript([]byte("x"))
	require.NoError(t, err)
	in := []models.UTXO{{Txid: testTxid, Value: 5_000, ScriptPubKey: hex.EncodeToString(script)}}
	_, err = b.CreateAndSignTransaction(key.wif, in, []models.TxOutput{{Address: key.p2pkh, Value: 1_000}}, BuildOptions{})
	var serErr *SerializationError
	require.ErrorAs(t, err, &serErr)
}

func TestEstimateFeeDeterministic(t *testing.T) {
	require.Equal(t, int64(10+148+34), EstimateTransactionSize(1, 1))
	require.Equal(t, int64(374), EstimateTransactionSize(2, 2))
	for i := 0; i < 3; i++ {
		require.Equal(t, int64(3_740), EstimateFee(2, 2, 10))
	}
	b := newTestBuilder(t)
	require.Equal(t, EstimateFee(3, 2, 7), b.EstimateFee(3, 2, 7))
}

func TestVerifyAddress(t *testing.T) {
	b := newTestBuilder(t)
	key := newTestKey(t, b.Params())

	require.True(t, b.VerifyAddress(key.p2pkh))
	require.True(t, b.VerifyAddress(key.p2wpkh))

	for _, addr := range []string{"", "   ", "garbage", strings.Repeat("1", 200), "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"} {
		require.False(t, b.VerifyAddress(addr), addr)
	}
}

func TestLitecoinAddresses(t *testing.T) {
	ltc, err := NewTransactionBuilder(Litecoin, "mainnet")
	require.NoError(t, err)
	key := newTestKey(t, ltc.Params())

	require.True(t, strings.HasPrefix(key.p2wpkh, "ltc1"))
	require.True(t, strings.HasPrefix(key.p2pkh, "L"))
	require.True(t, ltc.VerifyAddress(key.p2wpkh))
	require.True(t, ltc.VerifyAddress(key.p2pkh))

	btc, err := NewTransactionBuilder(Bitcoin, "mainnet")
	require.NoError(t, err)
	require.False(t, btc.VerifyAddress(key.p2wpkh))
	require.False(t, btc.VerifyAddress(key.p2pkh))

	scriptType, err := ltc.AddressScriptType(key.p2wpkh)
	require.NoError(t, err)
	require.Equal(t, ScriptP2WPKH, scriptType)
}

func TestNetworkParamsUnsupported(t *testing.T) {
	_, err := NewTransactionBuilder("dogecoin", "mainnet")
	require.ErrorIs(t, err, ErrUnsupportedChain)
	_, err = NewTransactionBuilder(Litecoin, "signet")
	require.ErrorIs(t, err, ErrUnsupportedNetwork)
}
