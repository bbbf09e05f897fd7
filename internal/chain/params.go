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
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	litecoinCfg "github.com/ltcsuite/ltcd/chaincfg"
)

const (
	Bitcoin  = "bitcoin"
	Litecoin = "litecoin"
)

var (
	litecoinMainNetParams = litecoinParams(&litecoinCfg.MainNetParams)
	litecoinTestNetParams = litecoinParams(&litecoinCfg.TestNet4Params)
)

var networkParams = map[string]map[string]*chaincfg.Params{
	Bitcoin: {
		"mainnet": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"regtest": &chaincfg.RegressionNetParams,
		"signet":  &chaincfg.SigNetParams,
		"simnet":  &chaincfg.SimNetParams,
	},
	Litecoin: {
		"mainnet": litecoinMainNetParams,
		"testnet": litecoinTestNetParams,
	},
}

func init() {
	// Bech32 decoding only recognizes registered HRPs.
	for _, p := range []*chaincfg.Params{litecoinMainNetParams, litecoinTestNetParams} {
		if err := chaincfg.Register(p); err != nil && !errors.Is(err, chaincfg.ErrDuplicateNet) {
			panic(fmt.Sprintf("register %s params: %v", p.Name, err))
		}
	}
}

// NetworkParams returns the chain parameters for a blockchain and network name.
func NetworkParams(blockchain, network string) (*chaincfg.Params, error) {
	networks, ok := networkParams[strings.ToLower(blockchain)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, blockchain)
	}
	params, ok := networks[strings.ToLower(network)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedNetwork, blockchain, network)
	}
	return params, nil
}

// SupportedNetworks lists the network names accepted for a blockchain.
func SupportedNetworks(blockchain string) []string {
	var names []string
	for name := range networkParams[strings.ToLower(blockchain)] {
		names = append(names, name)
	}
	return names
}

// litecoinParams copies the bitcoin mainnet parameters and overrides the
// fields used for address and key encoding.
func litecoinParams(ltc *litecoinCfg.Params) *chaincfg.Params {
	params := chaincfg.MainNetParams

	params.Name = "litecoin-" + ltc.Name
	params.Net = wire.BitcoinNet(ltc.Net)
	params.DefaultPort = ltc.DefaultPort
	params.CoinbaseMaturity = ltc.CoinbaseMaturity

	var genesis chainhash.Hash
	copy(genesis[:], ltc.GenesisHash[:])
	params.GenesisHash = &genesis

	params.PubKeyHashAddrID = ltc.PubKeyHashAddrID
	params.ScriptHashAddrID = ltc.ScriptHashAddrID
	params.PrivateKeyID = ltc.PrivateKeyID
	params.WitnessPubKeyHashAddrID = ltc.WitnessPubKeyHashAddrID
	params.WitnessScriptHashAddrID = ltc.WitnessScriptHashAddrID
	params.Bech32HRPSegwit = ltc.Bech32HRPSegwit

	copy(params.HDPrivateKeyID[:], ltc.HDPrivateKeyID[:])
	copy(params.HDPublicKeyID[:], ltc.HDPublicKeyID[:])
	params.HDCoinType = ltc.HDCoinType

	params.Checkpoints = nil
	params.DNSSeeds = nil

	return &params
}
