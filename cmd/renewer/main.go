// Command renewer renews subscriptions whose billing period has ended. It
// seeds the plan catalog from a YAML file when one is configured, then sweeps
// the store on a fixed interval until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrymomot/subkit/pkg/config"
	"github.com/dmitrymomot/subkit/pkg/logger"
	"github.com/dmitrymomot/subkit/pkg/payment"
	"github.com/dmitrymomot/subkit/pkg/pg"
	"github.com/dmitrymomot/subkit/pkg/redis"
	"github.com/dmitrymomot/subkit/pkg/subscription"
)

type appConfig struct {
	CatalogPath string        `env:"RENEWER_CATALOG_PATH"`
	LockTTL     time.Duration `env:"RENEWER_LOCK_TTL" envDefault:"30s"`
	CacheSize   int           `env:"RENEWER_PLAN_CACHE_SIZE" envDefault:"256"`
	CacheTTL    time.Duration `env:"RENEWER_PLAN_CACHE_TTL" envDefault:"5m"`
}

func main() {
	var (
		appCfg     appConfig
		logCfg     logger.Config
		pgCfg      pg.Config
		redisCfg   redis.Config
		subCfg     subscription.Config
		renewerCfg subscription.RenewerConfig
	)
	config.MustLoad(&appCfg)
	config.MustLoad(&logCfg)
	config.MustLoad(&pgCfg)
	config.MustLoad(&redisCfg)
	config.MustLoad(&subCfg)
	config.MustLoad(&renewerCfg)

	log := logger.New(
		logger.WithConfig(logCfg),
		logger.WithContextExtractors(logger.LifecycleExtractors()...),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, appCfg, pgCfg, redisCfg, subCfg, renewerCfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("renewer stopped", logger.Error(err))
		stop()
		os.Exit(1)
	}
	log.Info("renewer stopped")
}

func run(
	ctx context.Context,
	log *slog.Logger,
	appCfg appConfig,
	pgCfg pg.Config,
	redisCfg redis.Config,
	subCfg subscription.Config,
	renewerCfg subscription.RenewerConfig,
) error {
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return err
	}

	store := pg.NewStore(pool, pg.WithStoreLogger(log))

	if appCfg.CatalogPath != "" {
		entries, err := subscription.LoadCatalogFile(appCfg.CatalogPath)
		if err != nil {
			return err
		}
		created, err := subscription.SeedCatalog(ctx, store, entries)
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "plan catalog seeded",
			slog.String("path", appCfg.CatalogPath),
			slog.Int("plans", len(entries)),
			slog.Int("created", created),
		)
	}

	client, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer client.Close()

	locker := redis.NewLocker(client,
		redis.WithLockPrefix(redisCfg.LockPrefix),
		redis.WithPollInterval(redisCfg.LockPollInterval),
	)

	// Gateway chargers are registered here. Renewals on an unregistered
	// method fail and are retried on the next sweep.
	payments := payment.NewRegistry()

	svc := subscription.NewService(store,
		subscription.NewCachedResolver(store, appCfg.CacheSize, appCfg.CacheTTL),
		subscription.WithConfig(subCfg),
		subscription.WithLogger(log),
		subscription.WithPayments(payments),
		subscription.WithLocker(locker, appCfg.LockTTL),
	)

	log.InfoContext(ctx, "renewer started",
		slog.Duration("interval", renewerCfg.Interval),
		slog.Int("concurrency", renewerCfg.Concurrency),
		slog.Any("payment_methods", payments.Methods()),
		slog.Bool("redis", redis.Healthcheck(client)(ctx) == nil),
		slog.Bool("postgres", pg.Healthcheck(pool)(ctx) == nil),
	)

	return subscription.NewRenewer(svc, renewerCfg).Run(ctx)
}
