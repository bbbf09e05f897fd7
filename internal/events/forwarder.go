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

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/aryanduntley/fractaledger-sub002/internal/metrics"
	"github.com/aryanduntley/fractaledger-sub002/internal/transceiver"

	"go.uber.org/zap"
)

const DefaultSubjectPrefix = "fractaledger"

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// EventSource is satisfied by *transceiver.Manager.
type EventSource interface {
	Transactions() <-chan transceiver.TransactionEvent
	Activity() <-chan transceiver.ActivityEvent
	Errors() <-chan transceiver.ErrorEvent
	Done() <-chan struct{}
}

// DeliveryResult is what an external relay publishes on the results subject
// once it has tried to broadcast a transaction.
type DeliveryResult struct {
	Wallet string `json:"wallet"`
	Txid   string `json:"txid"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ResultHandler applies a relay outcome to the wallet that sent the transaction.
type ResultHandler func(ctx context.Context, blockchain, primaryWalletName, txid, result, errMsg string) error

// Forwarder publishes manager events to NATS subjects of the form
// {prefix}.{kind}.{blockchain}.{wallet}.
type Forwarder struct {
	pub    Publisher
	prefix string
	wg     sync.WaitGroup
}

func NewForwarder(pub Publisher, prefix string) *Forwarder {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Forwarder{pub: pub, prefix: prefix}
}

// Subject builds the subject of kind for a wallet key.
func (f *Forwarder) Subject(kind, walletKey string) string {
	return f.prefix + "." + kind + "." + strings.ReplaceAll(walletKey, "/", ".")
}

// ResultsSubject matches the results of every wallet.
func (f *Forwarder) ResultsSubject() string {
	return f.prefix + ".results.>"
}

// Forward publishes everything src emits until ctx is done or src closes.
func (f *Forwarder) Forward(ctx context.Context, src EventSource) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case ev := <-src.Transactions():
				f.publish("transactions", f.Subject("transactions", ev.Wallet), ev)
			case ev := <-src.Activity():
				f.publish("activity", f.Subject("activity", ev.Wallet), ev)
			case ev := <-src.Errors():
				f.publish("errors", f.Subject("errors", ev.Wallet), ev)
			case <-src.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until every Forward loop has returned.
func (f *Forwarder) Wait() {
	f.wg.Wait()
}

func (f *Forwarder) publish(kind, subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(kind, "error").Inc()
		zap.L().Error("Failed to encode event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := f.pub.Publish(subject, data); err != nil {
		metrics.EventsPublished.WithLabelValues(kind, "error").Inc()
		zap.L().Warn("Failed to publish event", zap.String("subject", subject), zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues(kind, "ok").Inc()
	zap.L().Debug("Event published", zap.String("subject", subject), zap.Int("bytes", len(data)))
}

// HandleResult decodes a DeliveryResult and passes it to h.
func (f *Forwarder) HandleResult(ctx context.Context, data []byte, h ResultHandler) error {
	var res DeliveryResult
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("invalid delivery result: %w", err)
	}
	blockchain, name, ok := strings.Cut(res.Wallet, "/")
	if !ok || blockchain == "" || name == "" || res.Txid == "" {
		return fmt.Errorf("delivery result needs wallet as blockchain/name and txid, got %q %q", res.Wallet, res.Txid)
	}

	if err := h(ctx, blockchain, name, res.Txid, res.Result, res.Error); err != nil {
		return fmt.Errorf("failed to apply delivery result for %s: %w", res.Txid, err)
	}
	zap.L().Info("Delivery result applied",
		zap.String("wallet", res.Wallet),
		zap.String("txid", res.Txid),
		zap.Bool("failed", res.Error != ""))
	return nil
}
