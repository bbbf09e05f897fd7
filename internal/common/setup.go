package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/aryanduntley/fractaledger-sub002/internal/api"
	"github.com/aryanduntley/fractaledger-sub002/internal/chain"
	"github.com/aryanduntley/fractaledger-sub002/internal/config"
	"github.com/aryanduntley/fractaledger-sub002/internal/connector"
	"github.com/aryanduntley/fractaledger-sub002/internal/database"
	"github.com/aryanduntley/fractaledger-sub002/internal/formance"
	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/reconcile"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"
	"github.com/aryanduntley/fractaledger-sub002/internal/transceiver"
	_ "github.com/aryanduntley/fractaledger-sub002/internal/transceiver/esplora"

	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("Note: unable to load .env file: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	}
}

type Services struct {
	Config  *models.Config
	Ledger  *store.Client
	Engine  *reconcile.Engine
	Wallets *api.WalletService

	// autoMonitor holds the wallet keys the listener should watch.
	autoMonitor map[string]bool
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeLedger opens the configured ledger backend. Useful on its own for
// read-only commands that never touch the chain.
func InitializeLedger(ctx context.Context, cfg *models.Config) (*store.Client, error) {
	var backend store.Backend
	switch cfg.Ledger.Backend {
	case models.LedgerBackendFormance:
		zap.L().Info("Using Formance ledger", zap.String("stack", cfg.Formance.StackURL), zap.String("ledger", cfg.Formance.LedgerName))
		svc, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			return nil, err
		}
		backend = svc
	case models.LedgerBackendSQLite, "":
		zap.L().Info("Using SQLite ledger", zap.String("path", cfg.Database.Path))
		svc, err := database.NewService(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		backend = svc
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
	return store.NewClient(store.NewLedger(backend)), nil
}

// InitializeServices opens the ledger, builds a connector for every configured
// primary wallet and registers it, which reconciles the wallet once.
func InitializeServices(ctx context.Context, cfg *models.Config, logger *zap.Logger) (*Services, error) {
	wallets, err := LoadWalletConfig(cfg.WalletsFile)
	if err != nil {
		return nil, err
	}

	ledger, err := InitializeLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine := reconcile.New(cfg.Reconciliation, ledger, logger)
	services := &Services{
		Config:      cfg,
		Ledger:      ledger,
		Engine:      engine,
		Wallets:     api.NewWalletService(ledger, engine),
		autoMonitor: make(map[string]bool, len(wallets)),
	}

	for _, w := range wallets {
		tc := TransceiverFor(cfg.Transceiver, w)
		c, err := NewConnector(ctx, w, tc, logger)
		if err != nil {
			services.Close(ctx)
			return nil, err
		}
		if _, err := services.Wallets.RegisterPrimaryWallet(ctx, c); err != nil {
			_ = c.Cleanup(ctx)
			services.Close(ctx)
			return nil, fmt.Errorf("failed to register %s: %w", w.Key(), err)
		}
		services.autoMonitor[w.Key()] = tc.AutoMonitor
		zap.L().Info("Primary wallet ready",
			zap.String("wallet", w.Key()),
			zap.String("network", w.Network),
			zap.String("method", string(tc.Method)))
	}

	return services, nil
}

// NewConnector builds the transaction builder, transceiver module and manager
// for one primary wallet.
func NewConnector(ctx context.Context, w models.PrimaryWallet, tc models.TransceiverConfig, logger *zap.Logger) (*connector.Connector, error) {
	builder, err := chain.NewTransactionBuilder(w.Blockchain, w.Network)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", w.Key(), err)
	}

	var module transceiver.UTXOTransceiver
	if tc.CallbackModule != "" {
		module, err = transceiver.Load(tc.CallbackModule, transceiver.ModuleConfig{
			Blockchain: w.Blockchain,
			Network:    w.Network,
			URL:        tc.URL,
			Timeout:    tc.Timeout,
			MaxRetries: tc.MaxRetries,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", w.Key(), err)
		}
	}

	manager, err := transceiver.NewManager(transceiver.Config{
		Wallet:             w.Key(),
		Method:             tc.Method,
		MonitoringInterval: tc.MonitoringInterval,
		Timeout:            tc.Timeout,
		HistoryLimit:       tc.HistoryLimit,
		EventBuffer:        tc.EventBuffer,
		ReadyTTL:           tc.ReadyTTL,
	}, module, logger)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", w.Key(), err)
	}
	if err := manager.Initialize(ctx); err != nil {
		_ = manager.Cleanup(ctx)
		return nil, fmt.Errorf("wallet %s: %w", w.Key(), err)
	}

	c, err := connector.New(w, builder, manager, logger)
	if err != nil {
		_ = manager.Cleanup(ctx)
		return nil, err
	}
	return c, nil
}

// MonitoredConnectors returns the connectors whose wallets have auto-monitoring on.
func (cs *Services) MonitoredConnectors() []*connector.Connector {
	var out []*connector.Connector
	for _, c := range cs.Wallets.Connectors() {
		if cs.autoMonitor[c.Wallet().Key()] {
			out = append(out, c)
		}
	}
	return out
}

func (cs *Services) Close(ctx context.Context) {
	if cs.Engine != nil {
		cs.Engine.Stop()
	}
	if cs.Wallets != nil {
		cs.Wallets.Close(ctx)
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stderr: invalid argument")
}
