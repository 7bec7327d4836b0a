package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"sejoli-sync/internal/cache"
	"sejoli-sync/internal/commission"
	"sejoli-sync/internal/config"
	"sejoli-sync/internal/ledger"
	"sejoli-sync/internal/logging"
	"sejoli-sync/internal/metrics"
	"sejoli-sync/internal/reconcile"
	"sejoli-sync/internal/sejoli"
	"sejoli-sync/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("starting sejoli reconciliation", "env", cfg.AppEnv, "driver", cfg.LedgerDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := metrics.Registry(cfg.MetricsNamespace)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	var redis *cache.Redis
	if cfg.RedisAddr != "" {
		redis = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		if err := redis.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, continuing without product cache", "error", err)
			redis = nil
		} else {
			defer redis.Close()
		}
	}

	client := sejoli.New(sejoli.Config{
		BaseURL:    cfg.SejoliBaseURL,
		Username:   cfg.SejoliUsername,
		Password:   cfg.SejoliPassword,
		Timeout:    cfg.SejoliTimeout,
		PageSize:   cfg.SejoliPageSize,
		PageDelay:  cfg.SejoliPageDelay,
		MaxPages:   cfg.SejoliMaxPages,
		ProductTTL: cfg.ProductCacheTTL,
	}, logger, registry, redis)

	resolver := commission.NewResolver()
	products, err := client.Products(ctx, false)
	if err != nil {
		logger.Warn("product catalog unavailable, static policy table only", "error", err)
	} else {
		resolver.EnrichFromProducts(products)
	}

	orders, truncated := client.AllSales(ctx)
	logger.Info("source orders fetched", "orders", len(orders), "truncated", truncated)

	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("ledger snapshot: %w", err)
	}

	report := reconcile.Build(orders, truncated, resolver, snapshot)
	if err := report.Write(os.Stdout); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if !report.Clean() {
		return fmt.Errorf("reconciliation found %d missing orders and %d missing conversions",
			len(report.MissingOrders), len(report.MissingConversions))
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ledger.Store, error) {
	switch cfg.LedgerDriver {
	case config.DriverSQLite:
		return ledger.NewSQLite(ctx, cfg.SQLitePath, logger)
	default:
		return ledger.NewPostgres(ctx, cfg.DatabaseURL, logger)
	}
}
