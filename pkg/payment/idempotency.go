package payment

import "context"

type idempotencyKey struct{}

// WithIdempotencyKey returns a copy of ctx carrying key. Chargers that talk to
// a gateway should forward it so a retried charge is not billed twice.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key stored by WithIdempotencyKey.
func IdempotencyKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKey{}).(string)
	return key, ok && key != ""
}
