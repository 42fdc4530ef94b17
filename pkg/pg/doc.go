// Package pg stores subscription plans and subscriptions in PostgreSQL
// through the pgx/v5 driver.
//
// Connect opens a pool with retries, Migrate applies the embedded goose
// migrations and Healthcheck returns a ping probe. Store implements
// subscription.Store, subscription.PlanResolver and
// subscription.CatalogWriter, so one value can back a subscription.Service
// and seed its catalog:
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
//		return err
//	}
//
//	store := pg.NewStore(pool, pg.WithStoreLogger(log))
//	svc := subscription.NewService(store, subscription.NewCachedResolver(store, 128, time.Minute))
//
// # Transactions
//
// Store.Tx puts the transaction in the context; every Store method called
// with that context joins it. Subscriptions loaded inside a transaction are
// locked with SELECT ... FOR UPDATE until it ends, which is what keeps two
// concurrent renewals or usage updates of the same subscription apart.
//
// # Money
//
// Prices are numeric columns. They travel as text in both directions so
// decimal.Decimal values are stored and read back exactly.
//
// # Errors
//
// Unique violations are reported as the matching subscription duplicate
// error and missing rows as the matching not-found error. IsDuplicateKeyError
// and IsForeignKeyViolationError classify raw driver errors.
package pg
