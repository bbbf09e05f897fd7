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

package transceiver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/metrics"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"go.uber.org/zap"
)

// subscription is one entry of the monitor table. Polling entries own a
// goroutine; cancel stops it and done is closed once it has returned.
type subscription struct {
	address   string
	method    models.MonitoringMethod
	createdAt time.Time

	mu          sync.Mutex
	lastChecked time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) snapshot() models.MonitoringSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.MonitoringSubscription{
		Address:     s.address,
		Method:      s.method,
		LastChecked: s.lastChecked,
		CreatedAt:   s.createdAt,
	}
}

// MonitorWalletAddress subscribes callback to new transactions of address.
// The transceiver's native monitoring is used when it offers one, otherwise
// the manager polls. Subscribing an address twice returns the existing
// subscription.
func (m *Manager) MonitorWalletAddress(ctx context.Context, address string, callback TransactionCallback) (models.MonitoringSubscription, error) {
	if address == "" {
		return models.MonitoringSubscription{}, fmt.Errorf("address is required")
	}
	if callback == nil {
		return models.MonitoringSubscription{}, fmt.Errorf("callback is required")
	}
	if m.isClosed() {
		return models.MonitoringSubscription{}, ErrManagerClosed
	}

	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if existing, ok := m.monitors[address]; ok {
		return existing.snapshot(), nil
	}
	if m.transceiver == nil {
		return models.MonitoringSubscription{}, fmt.Errorf("%w: monitoring needs a transceiver", ErrTransceiverUnavailable)
	}

	now := time.Now().UTC()
	sub := &subscription{address: address, createdAt: now, lastChecked: now}

	_, err := m.transceiver.MonitorWalletAddress(ctx, address, callback)
	switch {
	case err == nil:
		sub.method = models.MonitoringTransceiver
	case errors.Is(err, ErrMonitoringUnsupported):
		sub.method = models.MonitoringPolling
		pollCtx, cancel := context.WithCancel(context.Background())
		sub.cancel = cancel
		sub.done = make(chan struct{})
		go m.poll(pollCtx, sub, callback)
	default:
		return models.MonitoringSubscription{}, fmt.Errorf("unable to monitor %s: %w", address, err)
	}

	m.monitors[address] = sub
	metrics.MonitoredAddresses.WithLabelValues(m.cfg.Wallet, string(sub.method)).Inc()
	m.emitActivity(ActivityEvent{Kind: ActivityMonitorStarted, Address: address})
	m.logger.Info("Monitoring wallet address",
		zap.String("address", address),
		zap.String("monitoring", string(sub.method)),
		zap.Duration("interval", m.cfg.MonitoringInterval))

	return sub.snapshot(), nil
}

// StopMonitoringWalletAddress ends the subscription of address and reports
// whether one existed. A polling goroutine has exited when this returns.
func (m *Manager) StopMonitoringWalletAddress(ctx context.Context, address string) (bool, error) {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	sub, ok := m.monitors[address]
	if !ok {
		return false, nil
	}
	if err := m.stopSubscription(ctx, sub); err != nil {
		return false, err
	}
	delete(m.monitors, address)
	return true, nil
}

// MonitoredAddresses returns a snapshot of every subscription.
func (m *Manager) MonitoredAddresses() []models.MonitoringSubscription {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	out := make([]models.MonitoringSubscription, 0, len(m.monitors))
	for _, sub := range m.monitors {
		out = append(out, sub.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (m *Manager) stopSubscription(ctx context.Context, sub *subscription) error {
	switch sub.method {
	case models.MonitoringPolling:
		sub.cancel()
		<-sub.done
	case models.MonitoringTransceiver:
		if _, err := m.transceiver.StopMonitoringWalletAddress(ctx, sub.address); err != nil {
			return fmt.Errorf("unable to stop monitoring %s: %w", sub.address, err)
		}
	}
	metrics.MonitoredAddresses.WithLabelValues(m.cfg.Wallet, string(sub.method)).Dec()
	m.emitActivity(ActivityEvent{Kind: ActivityMonitorStopped, Address: sub.address})
	m.logger.Info("Stopped monitoring wallet address", zap.String("address", sub.address))
	return nil
}

func (m *Manager) stopAllMonitors(ctx context.Context) {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	for address, sub := range m.monitors {
		if err := m.stopSubscription(ctx, sub); err != nil {
			m.logger.Warn("Failed to stop monitor", zap.String("address", address), zap.Error(err))
		}
		delete(m.monitors, address)
	}
}

func (m *Manager) poll(ctx context.Context, sub *subscription, callback TransactionCallback) {
	defer close(sub.done)

	ticker := time.NewTicker(m.cfg.MonitoringInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx, sub, callback)
		}
	}
}

// pollOnce delivers history entries newer than the cursor, oldest first, and
// moves the cursor to the newest one delivered. Failures are reported and the
// next tick tries again.
func (m *Manager) pollOnce(ctx context.Context, sub *subscription, callback TransactionCallback) {
	queryCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	txs, err := m.transceiver.GetTransactionHistory(queryCtx, sub.address, m.cfg.HistoryLimit)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.MonitorPollErrors.WithLabelValues(m.cfg.Wallet).Inc()
		m.emitError("poll", sub.address, "", err)
		m.logger.Warn("Polling wallet address failed",
			zap.String("address", sub.address),
			zap.Error(err))
		return
	}

	sub.mu.Lock()
	since := sub.lastChecked
	sub.mu.Unlock()

	fresh := newerThan(txs, since)
	if len(fresh) == 0 {
		return
	}

	sub.mu.Lock()
	sub.lastChecked = fresh[len(fresh)-1].Timestamp
	sub.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	m.deliver(sub.address, fresh, callback)
}

func (m *Manager) deliver(address string, txs []models.Transaction, callback TransactionCallback) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("monitor callback panicked: %v", r)
			m.emitError("callback", address, "", err)
			m.logger.Error("Monitor callback panicked", zap.String("address", address), zap.Any("panic", r))
		}
	}()

	metrics.TransactionsDelivered.WithLabelValues(m.cfg.Wallet).Add(float64(len(txs)))
	m.emitActivity(ActivityEvent{Kind: ActivityTransactions, Address: address, Count: len(txs)})
	callback(txs)
}

// newerThan returns the transactions strictly after since in ascending time order.
func newerThan(txs []models.Transaction, since time.Time) []models.Transaction {
	var fresh []models.Transaction
	for _, tx := range txs {
		if tx.Timestamp.After(since) {
			fresh = append(fresh, tx)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Timestamp.Before(fresh[j].Timestamp) })
	return fresh
}
