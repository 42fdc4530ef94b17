// Package subscription manages the lifecycle of plan subscriptions: trials,
// billing periods, grace periods, cancellation, plan changes and metered
// feature usage.
//
// The package is split into a pure computation layer and a persistence layer.
// Engine computes every transition on a copy of a subscription and returns a
// Result with the new record and the effects the caller must act on (charges,
// usage resets, depletion signals). Service wraps an Engine with a Store, an
// optional cross-process Locker and a payment registry, and commits each
// operation in a single transaction.
//
// # Status
//
// A subscription's status is never stored. It is derived from its timestamps
// at a given instant by Subscription.StatusAt:
//
//   - new: created but never renewed, no trial
//   - on_trial: the trial end is in the future
//   - canceled: a cancellation stamp is set
//   - in_grace: the period ended but the grace period has not
//   - ended: the period (and grace period, if any) is over
//   - active: everything else
//
// Operations are checked against a transition table before they run. A call
// that the table does not allow fails with a *NoTransitionError; one that is
// allowed but vetoed by a guard fails with a *TransitionRejectedError. Both
// match ErrInvalidState with errors.Is.
//
// # Plans
//
// Plans and their country or currency specific combinations are read through
// a PlanResolver. Catalog is an in-memory implementation, CachedResolver adds
// an LRU cache in front of any resolver, and ParseCatalog reads a YAML catalog
// that SeedCatalog writes into any CatalogWriter.
//
// # Usage
//
//	catalog := subscription.NewCatalog()
//	entries, err := subscription.LoadCatalogFile("plans.yaml")
//	if err != nil {
//		return err
//	}
//	if _, err := subscription.SeedCatalog(ctx, catalog, entries); err != nil {
//		return err
//	}
//
//	svc := subscription.NewService(subscription.NewMemoryStore(), catalog,
//		subscription.WithLogger(log),
//		subscription.WithPayments(payments),
//	)
//
//	pro, err := svc.ResolveTarget(ctx, "pro")
//	if err != nil {
//		return err
//	}
//	user := subscription.Subscriber("user", 42)
//	if _, err := svc.Subscribe(ctx, user, "", pro, subscription.WithPaymentMethod("card")); err != nil {
//		return err
//	}
//
//	if _, err := svc.ConsumeFeature(ctx, user, "main", "api_calls", 1); err != nil {
//		var denied *subscription.UsageDeniedError
//		if errors.As(err, &denied) {
//			// over the allowance
//		}
//		return err
//	}
//
// # Metered features
//
// A granted feature whose value is numeric is metered: Consume and Reduce
// track usage against the value as a limit. A feature with a reset term keeps
// its usage inside a window that restarts once it expires; the restart
// happens lazily on the next access. Non-numeric values are flags: "true"
// enables a feature and anything else that is not a positive number disables it.
//
// # Background renewal
//
// Renewer renews uncanceled subscriptions whose period has ended, a bounded
// number at a time. Run repeats the sweep on an interval until its context
// is canceled; cmd/renewer runs it against PostgreSQL and Redis.
//
// # Errors
//
// Errors are grouped into classes that callers can test with errors.Is:
// ErrNotFound, ErrDuplicate, ErrInvalidState, ErrConfiguration and
// ErrUsageDenied. Validation failures wrap ErrInvalidPlan, ErrInvalidCombination
// or ErrInvalidSubscription.
package subscription
