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

package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aryanduntley/fractaledger-sub002/internal/chain"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"gopkg.in/yaml.v2"
)

type WalletsConfig struct {
	Wallets []models.PrimaryWallet `yaml:"wallets"`
}

// LoadWalletConfig reads and validates the primary wallets file. Relative
// paths resolve against the working directory.
func LoadWalletConfig(walletsFile string) ([]models.PrimaryWallet, error) {
	var walletsPath string
	if filepath.IsAbs(walletsFile) {
		walletsPath = walletsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		walletsPath = filepath.Join(wd, walletsFile)
	}

	data, err := os.ReadFile(walletsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", walletsFile, err)
	}

	wallets, err := ParseWalletConfig(data)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", walletsFile, err)
	}
	return wallets, nil
}

func ParseWalletConfig(data []byte) ([]models.PrimaryWallet, error) {
	var config WalletsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse wallets: %w", err)
	}
	if len(config.Wallets) == 0 {
		return nil, fmt.Errorf("no wallets configured")
	}

	seen := make(map[string]bool, len(config.Wallets))
	for i := range config.Wallets {
		w := &config.Wallets[i]
		w.Blockchain = strings.ToLower(strings.TrimSpace(w.Blockchain))
		w.Network = strings.ToLower(strings.TrimSpace(w.Network))
		w.Name = strings.TrimSpace(w.Name)
		w.Address = strings.TrimSpace(w.Address)

		switch {
		case w.Blockchain == "":
			return nil, fmt.Errorf("wallet at index %d missing blockchain", i)
		case w.Name == "":
			return nil, fmt.Errorf("wallet at index %d missing name", i)
		case w.Network == "":
			return nil, fmt.Errorf("wallet %s missing network", w.Key())
		case w.Address == "":
			return nil, fmt.Errorf("wallet %s missing address", w.Key())
		}
		if strings.ContainsAny(w.Name, "/: ") {
			return nil, fmt.Errorf("wallet name %q may not contain '/', ':' or spaces", w.Name)
		}
		if _, err := chain.NetworkParams(w.Blockchain, w.Network); err != nil {
			return nil, fmt.Errorf("wallet %s: %w", w.Key(), err)
		}
		if seen[w.Key()] {
			return nil, fmt.Errorf("duplicate wallet %s", w.Key())
		}
		seen[w.Key()] = true

		if o := w.Transceiver; o != nil {
			if o.Method != "" && !o.Method.Valid() {
				return nil, fmt.Errorf("wallet %s: invalid transceiver method %q", w.Key(), o.Method)
			}
			if o.MonitoringInterval < 0 {
				return nil, fmt.Errorf("wallet %s: monitoring interval must be positive", w.Key())
			}
		}
	}

	return config.Wallets, nil
}

// TransceiverFor applies a wallet's overrides on top of the shared settings.
func TransceiverFor(base models.TransceiverConfig, w models.PrimaryWallet) models.TransceiverConfig {
	o := w.Transceiver
	if o == nil {
		return base
	}
	if o.Method != "" {
		base.Method = o.Method
	}
	if o.CallbackModule != "" {
		base.CallbackModule = o.CallbackModule
	}
	if o.URL != "" {
		base.URL = o.URL
	}
	if o.MonitoringInterval > 0 {
		base.MonitoringInterval = o.MonitoringInterval
	}
	if o.AutoMonitor != nil {
		base.AutoMonitor = *o.AutoMonitor
	}
	return base
}
