package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mmynk/pointsledger/internal/config"
	"github.com/mmynk/pointsledger/internal/metrics"
	"github.com/mmynk/pointsledger/internal/reconcile"
	"github.com/mmynk/pointsledger/internal/service"
	"github.com/mmynk/pointsledger/internal/storage"
	"github.com/mmynk/pointsledger/internal/storage/postgres"
	"github.com/mmynk/pointsledger/internal/storage/sqlite"
	"github.com/mmynk/pointsledger/pkg/logging"
)

// app is the wired engine shared by every command.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      storage.Store
	registry   *prometheus.Registry
	engine     *reconcile.Engine
	settlement *service.SettlementService
	ledger     *service.LedgerService
}

// openApp loads configuration, sets up logging and opens the store.
func openApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	level := logging.ParseLevel(cfg.Log.Level)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.SetupWithLevel(level)

	store, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Debug("Storage initialized", "driver", cfg.Database.Driver)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.New(registry)

	// The balance cache row is the only derived state and every recompute
	// rewrites it. Forced refreshes are counted and logged.
	forced := reconcile.InvalidatorFunc(func(_ context.Context, accountID string) error {
		rec.ForcedRefresh()
		logger.Info("Forced balance refresh", "account_id", accountID)
		return nil
	})

	engine := reconcile.New(store,
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(rec),
		reconcile.WithZeroProbing(cfg.Reconcile.ZeroProbing),
		reconcile.WithInvalidators(forced),
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		registry:   registry,
		engine:     engine,
		settlement: service.NewSettlementService(store, engine, service.WithLogger(logger), service.WithMetrics(rec)),
		ledger:     service.NewLedgerService(store, engine, service.WithLogger(logger), service.WithMetrics(rec)),
	}, nil
}

func openStore(cfg config.DatabaseConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := postgres.New(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
		}
		return store, nil
	}
}

func (a *app) Close() error {
	return a.store.Close()
}
