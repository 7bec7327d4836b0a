package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sejoli-sync/internal/cache"
	"sejoli-sync/internal/commission"
	"sejoli-sync/internal/config"
	"sejoli-sync/internal/httpserver"
	"sejoli-sync/internal/importer"
	"sejoli-sync/internal/ledger"
	"sejoli-sync/internal/logging"
	"sejoli-sync/internal/metrics"
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
	logger.Info("starting sejoli import", "env", cfg.AppEnv, "driver", cfg.LedgerDriver)

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

	if cfg.OpsListenAddr != "" {
		ops := httpserver.New(cfg.OpsListenAddr, logger)
		go func() {
			if err := ops.Start(); err != nil {
				logger.Error("ops server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ops.Shutdown(shutdownCtx)
		}()
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
		logger.Info("product catalog loaded", "products", len(products))
	}

	orders, truncated := client.AllSales(ctx)
	if len(orders) == 0 {
		return fmt.Errorf("no orders fetched from %s", cfg.SejoliBaseURL)
	}
	if truncated {
		logger.Warn("order fetch truncated, importing partial data", "orders", len(orders))
	}

	summary, err := importer.New(store, resolver, logger, registry).Run(ctx, orders)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	for productID, count := range summary.UnmappedProducts {
		logger.Warn("product has no commission policy", "product_id", productID, "orders", count)
	}
	for status, count := range summary.UnmappedStatuses {
		logger.Warn("status mapping fell through to FAILED", "status", status, "orders", count)
	}

	logger.Info("import complete",
		"orders", len(orders),
		"truncated", truncated,
		"users_created", summary.UsersCreated,
		"users_updated", summary.UsersUpdated,
		"tx_created", summary.TxCreated,
		"tx_updated", summary.TxUpdated,
		"tx_skipped_no_user", summary.TxSkippedNoUser,
		"memberships_assigned", summary.MembershipsAssigned,
		"conversions_created", summary.ConversionsCreated,
	)
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
