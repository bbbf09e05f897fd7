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

package models

import "time"

// TxStatus is the lifecycle state of a PendingTransaction
type TxStatus string

const (
	TxStatusPending     TxStatus = "pending"
	TxStatusReady       TxStatus = "ready"
	TxStatusBroadcasted TxStatus = "broadcasted"
	TxStatusConfirmed   TxStatus = "confirmed"
	TxStatusFailed      TxStatus = "failed"
)

// Settled reports whether no further transition is expected.
func (s TxStatus) Settled() bool {
	return s == TxStatusConfirmed || s == TxStatusFailed
}

// PendingTransaction tracks a signed transaction through delivery.
type PendingTransaction struct {
	Txid      string         `json:"txid"`
	TxHex     string         `json:"txHex"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Status    TxStatus       `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	// TimedOut marks a record whose last broadcast ran past its deadline
	// with the outcome unknown.
	TimedOut  bool           `json:"timedOut,omitempty"`
	Reported  bool           `json:"-"`
}

// MonitoringMethod describes who drives an address subscription
type MonitoringMethod string

const (
	MonitoringPolling     MonitoringMethod = "polling"
	MonitoringTransceiver MonitoringMethod = "transceiver"
)

// MonitoringSubscription is a snapshot of one monitored address.
type MonitoringSubscription struct {
	Address     string           `json:"address"`
	Method      MonitoringMethod `json:"method"`
	LastChecked time.Time        `json:"lastChecked"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// SubscriptionInfo is what a transceiver returns when it accepts a native subscription.
type SubscriptionInfo struct {
	Address string         `json:"address"`
	Details map[string]any `json:"details,omitempty"`
}

// BroadcastResult is returned by every delivery method. TxHex is only set for
// the return method.
type BroadcastResult struct {
	Txid     string         `json:"txid"`
	Status   TxStatus       `json:"status"`
	Method   DeliveryMethod `json:"method"`
	TxHex    string         `json:"txHex,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
