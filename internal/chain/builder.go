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

package chain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ScriptType is the locking script of the inputs a key spends.
type ScriptType string

const (
	ScriptP2PKH  ScriptType = "p2pkh"
	ScriptP2WPKH ScriptType = "p2wpkh"
)

// MaxOpReturnSize is the largest OP_RETURN payload relayed by standard nodes.
const MaxOpReturnSize = txscript.MaxDataCarrierSize

// Legacy size model used for fee estimation.
const (
	txOverheadSize = 10
	txInputSize    = 148
	txOutputSize   = 34
)

// BuildOptions tune transaction construction.
type BuildOptions struct {
	// InputType applies to inputs without a ScriptPubKey. Defaults to P2PKH.
	InputType ScriptType
	LockTime  uint32
	EnableRBF bool
}

// TransactionBuilder builds and signs transactions for one blockchain network.
// It holds no mutable state and is safe for concurrent use.
type TransactionBuilder struct {
	blockchain string
	network    string
	params     *chaincfg.Params
}

func NewTransactionBuilder(blockchain, network string) (*TransactionBuilder, error) {
	params, err := NetworkParams(blockchain, network)
	if err != nil {
		return nil, err
	}
	return &TransactionBuilder{
		blockchain: strings.ToLower(blockchain),
		network:    strings.ToLower(network),
		params:     params,
	}, nil
}

func (b *TransactionBuilder) Blockchain() string { return b.blockchain }

func (b *TransactionBuilder) Network() string { return b.network }

func (b *TransactionBuilder) Params() *chaincfg.Params { return b.params }

// VerifyAddress reports whether address decodes for this network.
func (b *TransactionBuilder) VerifyAddress(address string) (valid bool) {
	defer func() {
		if recover() != nil {
			valid = false
		}
	}()

	if strings.TrimSpace(address) == "" {
		return false
	}
	addr, err := btcutil.DecodeAddress(address, b.params)
	if err != nil {
		return false
	}
	return addr.IsForNet(b.params)
}

// AddressScriptType reports the input script type an address of this network locks to.
func (b *TransactionBuilder) AddressScriptType(address string) (ScriptType, error) {
	addr, err := btcutil.DecodeAddress(address, b.params)
	if err != nil || !addr.IsForNet(b.params) {
		return "", &InvalidInputError{Field: "address", Reason: fmt.Sprintf("%q is not a %s %s address", address, b.blockchain, b.network)}
	}
	switch addr.(type) {
	case *btcutil.AddressWitnessPubKeyHash:
		return ScriptP2WPKH, nil
	case *btcutil.AddressPubKeyHash:
		return ScriptP2PKH, nil
	default:
		return "", &InvalidInputError{Field: "address", Reason: fmt.Sprintf("%q is not a single-key address", address)}
	}
}

// EstimateTransactionSize returns the legacy size estimate in bytes.
func EstimateTransactionSize(inputCount, outputCount int) int64 {
	return int64(txOverheadSize + txInputSize*inputCount + txOutputSize*outputCount)
}

// EstimateFee returns size times feeRate (satoshis per byte).
func EstimateFee(inputCount, outputCount int, feeRate int64) int64 {
	return EstimateTransactionSize(inputCount, outputCount) * feeRate
}

func (b *TransactionBuilder) EstimateTransactionSize(inputCount, outputCount int) int64 {
	return EstimateTransactionSize(inputCount, outputCount)
}

func (b *TransactionBuilder) EstimateFee(inputCount, outputCount int, feeRate int64) int64 {
	return EstimateFee(inputCount, outputCount, feeRate)
}

// CreateAndSignTransaction spends every input with privateKeyWIF. No change
// output is added: the fee is whatever inputs leave over outputs.
func (b *TransactionBuilder) CreateAndSignTransaction(privateKeyWIF string, inputs []models.UTXO, outputs []models.TxOutput, opts BuildOptions) (*models.SignedTransaction, error) {
	if len(inputs) == 0 {
		return nil, &InvalidInputError{Field: "inputs", Reason: "at least one input is required"}
	}
	if len(outputs) == 0 {
		return nil, &InvalidInputError{Field: "outputs", Reason: "at least one output is required"}
	}

	wif, err := btcutil.DecodeWIF(strings.TrimSpace(privateKeyWIF))
	if err != nil {
		return nil, &SigningError{Input: -1, Err: fmt.Errorf("decode WIF: %w", err)}
	}
	if !wif.IsForNet(b.params) {
		return nil, &SigningError{Input: -1, Err: ErrWrongNetworkKey}
	}
	pubKeyHash := btcutil.Hash160(wif.SerializePubKey())

	sequence := wire.MaxTxInSequenceNum
	if opts.EnableRBF {
		sequence = wire.MaxTxInSequenceNum - 2
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.LockTime = opts.LockTime
	fetcher := txscript.NewMultiPrevOutFetcher(nil)

	var totalIn int64
	for i, in := range inputs {
		if in.Txid == "" {
			return nil, &InvalidInputError{Field: fmt.Sprintf("inputs[%d].txid", i), Reason: "missing"}
		}
		if in.Value <= 0 {
			return nil, &InvalidInputError{Field: fmt.Sprintf("inputs[%d].value", i), Reason: "must be positive"}
		}
		hash, err := chainhash.NewHashFromStr(in.Txid)
		if err != nil {
			return nil, &InvalidInputError{Field: fmt.Sprintf("inputs[%d].txid", i), Reason: err.Error()}
		}
		pkScript, err := b.inputScript(i, in, pubKeyHash, opts.InputType)
		if err != nil {
			return nil, err
		}

		outPoint := wire.NewOutPoint(hash, in.Vout)
		txIn := wire.NewTxIn(outPoint, nil, nil)
		txIn.Sequence = sequence
		tx.AddTxIn(txIn)
		fetcher.AddPrevOut(*outPoint, wire.NewTxOut(in.Value, pkScript))
		totalIn += in.Value
	}

	var totalOut int64
	for i, out := range outputs {
		txOut, err := b.output(i, out)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(txOut)
		totalOut += txOut.Value
	}

	fee := totalIn - totalOut
	if fee < 0 {
		return nil, &InvalidInputError{Field: "outputs", Reason: fmt.Sprintf("outputs total %d exceeds inputs total %d", totalOut, totalIn)}
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, txIn := range tx.TxIn {
		prev := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		switch txscript.GetScriptClass(prev.PkScript) {
		case txscript.WitnessV0PubKeyHashTy:
			if !wif.CompressPubKey {
				return nil, &SigningError{Input: i, Err: fmt.Errorf("segwit inputs require a compressed key")}
			}
			witness, err := txscript.WitnessSignature(tx, sigHashes, i, prev.Value, prev.PkScript, txscript.SigHashAll, wif.PrivKey, true)
			if err != nil {
				return nil, &SigningError{Input: i, Err: err}
			}
			txIn.Witness = witness
		default:
			sigScript, err := txscript.SignatureScript(tx, i, prev.PkScript, txscript.SigHashAll, wif.PrivKey, wif.CompressPubKey)
			if err != nil {
				return nil, &SigningError{Input: i, Err: err}
			}
			txIn.SignatureScript = sigScript
		}
	}

	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, &SerializationError{Err: err}
	}

	return &models.SignedTransaction{
		Txid:    tx.TxHash().String(),
		TxHex:   hex.EncodeToString(buf.Bytes()),
		Inputs:  append([]models.UTXO(nil), inputs...),
		Outputs: append([]models.TxOutput(nil), outputs...),
		Fee:     fee,
	}, nil
}

// inputScript returns the previous output script for an input and checks the
// signing key controls it.
func (b *TransactionBuilder) inputScript(idx int, in models.UTXO, pubKeyHash []byte, inputType ScriptType) ([]byte, error) {
	if in.ScriptPubKey == "" {
		var (
			addr btcutil.Address
			err  error
		)
		switch inputType {
		case ScriptP2WPKH:
			addr, err = btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, b.params)
		case ScriptP2PKH, "":
			addr, err = btcutil.NewAddressPubKeyHash(pubKeyHash, b.params)
		default:
			return nil, &InvalidInputError{Field: "inputType", Reason: fmt.Sprintf("unsupported script type %q", inputType)}
		}
		if err != nil {
			return nil, &SerializationError{Err: err}
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, &SerializationError{Err: err}
		}
		return script, nil
	}

	script, err := hex.DecodeString(in.ScriptPubKey)
	if err != nil {
		return nil, &InvalidInputError{Field: fmt.Sprintf("inputs[%d].scriptPubKey", idx), Reason: err.Error()}
	}

	var scriptHash []byte
	switch class := txscript.GetScriptClass(script); class {
	case txscript.PubKeyHashTy:
		// OP_DUP OP_HASH160 <20> OP_EQUALVERIFY OP_CHECKSIG
		scriptHash = script[3:23]
	case txscript.WitnessV0PubKeyHashTy:
		// OP_0 <20>
		scriptHash = script[2:22]
	default:
		return nil, &SerializationError{Err: fmt.Errorf("input %d: unsupported script class %s", idx, class)}
	}
	if !bytes.Equal(scriptHash, pubKeyHash) {
		return nil, &SigningError{Input: idx, Err: ErrKeyMismatch}
	}
	return script, nil
}

func (b *TransactionBuilder) output(idx int, out models.TxOutput) (*wire.TxOut, error) {
	if len(out.Data) > 0 {
		if out.Address != "" || out.Value != 0 {
			return nil, &InvalidInputError{Field: fmt.Sprintf("outputs[%d]", idx), Reason: "data outputs carry neither address nor value"}
		}
		if len(out.Data) > MaxOpReturnSize {
			return nil, &PayloadTooLargeError{Size: len(out.Data), Limit: MaxOpReturnSize}
		}
		script, err := txscript.NullDataScript(out.Data)
		if err != nil {
			return nil, &SerializationError{Err: err}
		}
		return wire.NewTxOut(0, script), nil
	}

	if out.Value <= 0 {
		return nil, &InvalidInputError{Field: fmt.Sprintf("outputs[%d].value", idx), Reason: "must be positive"}
	}
	if !b.VerifyAddress(out.Address) {
		return nil, &InvalidInputError{Field: fmt.Sprintf("outputs[%d].address", idx), Reason: fmt.Sprintf("%q is not a %s %s address", out.Address, b.blockchain, b.network)}
	}
	addr, err := btcutil.DecodeAddress(out.Address, b.params)
	if err != nil {
		return nil, &InvalidInputError{Field: fmt.Sprintf("outputs[%d].address", idx), Reason: err.Error()}
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return wire.NewTxOut(out.Value, script), nil
}
