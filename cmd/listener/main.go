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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/common"
	"github.com/aryanduntley/fractaledger-sub002/internal/config"
	"github.com/aryanduntley/fractaledger-sub002/internal/events"
	"github.com/aryanduntley/fractaledger-sub002/internal/listener"
	"github.com/aryanduntley/fractaledger-sub002/internal/metrics"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting FractaLedger wallet listener",
		zap.String("ledger", string(cfg.Ledger.Backend)),
		zap.String("strategy", string(cfg.Reconciliation.Strategy)),
		zap.Bool("strict", cfg.Reconciliation.StrictMode))

	services, err := common.InitializeServices(ctx, cfg, logger)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				zap.L().Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	var forwarder *events.Forwarder
	if cfg.Events.NatsURL != "" {
		conn, err := events.Connect(cfg.Events.NatsURL)
		if err != nil {
			services.Close(ctx)
			zap.L().Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer conn.Close()

		forwarder = events.NewForwarder(conn, cfg.Events.SubjectPrefix)
		for _, c := range services.Wallets.Connectors() {
			forwarder.Forward(ctx, c.Manager())
		}

		sub, err := forwarder.SubscribeResults(ctx, conn, func(ctx context.Context, blockchain, name, txid, result, errMsg string) error {
			_, err := services.Wallets.SubmitDeliveryResult(ctx, blockchain, name, txid, result, errMsg)
			return err
		})
		if err != nil {
			services.Close(ctx)
			zap.L().Fatal("Failed to subscribe to delivery results", zap.Error(err))
		}
		defer func() { _ = sub.Unsubscribe() }()
	} else {
		for _, c := range services.Wallets.Connectors() {
			if c.Manager().Method() == models.DeliveryEvent {
				zap.L().Warn("Wallet uses the event method but NATS_URL is not set; events will not be consumed",
					zap.String("wallet", c.Wallet().Key()))
			}
		}
	}

	services.Engine.Start(ctx)

	monitors := make([]listener.Monitor, 0)
	for _, c := range services.MonitoredConnectors() {
		monitors = append(monitors, c)
	}

	l := listener.NewWalletListener(listener.WalletListenerConfig{
		Wallets:         monitors,
		Reconciler:      services.Wallets,
		LookbackWindow:  cfg.Listener.LookbackWindow,
		CleanupInterval: cfg.Listener.CleanupInterval,
		HistoryLimit:    cfg.Transceiver.HistoryLimit,
	})
	if err := l.Start(ctx); err != nil {
		services.Close(ctx)
		zap.L().Fatal("Failed to start wallet listener", zap.Error(err))
	}

	zap.L().Info("Wallet listener running",
		zap.Int("monitored", len(monitors)),
		zap.Int("wallets", len(services.Wallets.Connectors())))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		l.Stop()
		services.Close(shutdownCtx)
		cancel()
		if forwarder != nil {
			forwarder.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
