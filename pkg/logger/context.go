package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{ name string }

var (
	operationKey    = ctxKey{"operation"}
	subscriptionKey = ctxKey{"subscription_tag"}
)

// WithOperation stores the running lifecycle operation in ctx.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey, op)
}

// WithSubscriptionTag stores the subscription tag being processed in ctx.
func WithSubscriptionTag(ctx context.Context, tag string) context.Context {
	return context.WithValue(ctx, subscriptionKey, tag)
}

// LifecycleExtractors returns extractors that copy the operation and
// subscription tag stored by WithOperation and WithSubscriptionTag into
// every record logged with that context.
func LifecycleExtractors() []ContextExtractor {
	return []ContextExtractor{
		stringExtractor(operationKey),
		stringExtractor(subscriptionKey),
	}
}

func stringExtractor(key ctxKey) ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			return slog.String(key.name, v), true
		}
		return slog.Attr{}, false
	}
}
