// Package logger builds *slog.Logger values for the subscription services
// and defines the attribute names they log with.
//
// New takes functional options. Presets pick level and format per
// environment (text at debug level in development, JSON at info level
// elsewhere), and Config reads the same choices from the environment:
//
//	var cfg logger.Config
//	config.MustLoad(&cfg)
//
//	log := logger.New(
//		logger.WithConfig(cfg),
//		logger.WithContextExtractors(logger.LifecycleExtractors()...),
//	)
//
// Context extractors copy values stored in a context.Context into every
// record logged with that context. The lifecycle extractors add the
// operation and subscription tag set by WithOperation and WithSubscriptionTag:
//
//	ctx = logger.WithOperation(ctx, "renew")
//	log.InfoContext(ctx, "subscription updated",
//		logger.SubscriptionID(sub.ID),
//		logger.Transition(res.From, res.To),
//	)
//
// Error and Errors return an empty attribute for nil errors, so they can be
// passed without a nil check.
package logger
