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

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// Transceiver
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractaledger_broadcasts_total",
			Help: "Signed transactions handed to a delivery method, by outcome",
		},
		[]string{"wallet", "method", "status"},
	)

	BroadcastDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fractaledger_broadcast_duration_seconds",
			Help:    "Time spent in transceiver broadcast calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"wallet"},
	)

	PendingTransactions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fractaledger_pending_transactions",
			Help: "Tracked transactions not yet pruned",
		},
		[]string{"wallet"},
	)

	MonitoredAddresses = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fractaledger_monitored_addresses",
			Help: "Addresses with an active subscription",
		},
		[]string{"wallet", "method"},
	)

	MonitorPollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractaledger_monitor_poll_errors_total",
			Help: "Failed polling ticks",
		},
		[]string{"wallet"},
	)

	TransactionsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractaledger_monitor_transactions_delivered_total",
			Help: "Transactions delivered to monitoring callbacks",
		},
		[]string{"wallet"},
	)

	// Reconciliation
	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractaledger_reconciliations_total",
			Help: "Reconciliation runs, by outcome",
		},
		[]string{"wallet", "result"},
	)

	DiscrepanciesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractaledger_discrepancies_recorded_total",
			Help: "Balance discrepancies created or updated",
		},
		[]string{"wallet"},
	)

	ExcessBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fractaledger_excess_balance",
			Help: "Last reconciled excess (base wallet) balance in coin units",
		},
		[]string{"wallet"},
	)

	OnChainBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fractaledger_onchain_balance",
			Help: "Last observed on-chain balance in coin units",
		},
		[]string{"wallet"},
	)

	// Events
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fractaledger_events_published_total",
			Help: "Events forwarded to NATS",
		},
		[]string{"kind", "status"},
	)

	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fractaledger_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}()

	zap.L().Info("Serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
