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
	"fmt"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/metrics"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const defaultConnectTimeout = 10 * time.Second

// Connect dials NATS and keeps reconnecting for the life of the process.
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("fractaledger"),
		nats.Timeout(defaultConnectTimeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			zap.L().Warn("NATS disconnected", zap.Error(err))
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)
	zap.L().Info("Connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return conn, nil
}

// SubscribeResults applies every delivery result published on the results
// subject until the subscription is drained.
func (f *Forwarder) SubscribeResults(ctx context.Context, conn *nats.Conn, h ResultHandler) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(f.ResultsSubject(), func(msg *nats.Msg) {
		if err := f.HandleResult(ctx, msg.Data, h); err != nil {
			zap.L().Warn("Dropping delivery result", zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", f.ResultsSubject(), err)
	}
	return sub, nil
}
