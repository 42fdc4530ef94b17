package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists subscriptions together with their granted features and usage.
//
// Reads made inside Tx lock the rows they return until the transaction ends,
// so a read-modify-write of one subscription cannot interleave with another.
type Store interface {
	// Tx runs fn atomically. Nested calls join the outer transaction.
	Tx(ctx context.Context, fn func(ctx context.Context) error) error

	// CreateSubscription inserts s and its features.
	// Returns ErrDuplicateSubscription if the subscriber already has s.Tag.
	CreateSubscription(ctx context.Context, s *Subscription) error

	// SaveSubscription updates s and reconciles its features and usage:
	// features missing from s are deleted.
	SaveSubscription(ctx context.Context, s *Subscription) error

	// Subscription loads by ID. Returns ErrSubscriptionNotFound if absent.
	Subscription(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// SubscriptionByTag loads by subscriber and tag. Returns ErrSubscriptionNotFound if absent.
	SubscriptionByTag(ctx context.Context, subscriber SubscriberRef, tag string) (*Subscription, error)

	// FindSubscriptions returns the subscriptions matching q, oldest first.
	FindSubscriptions(ctx context.Context, q Query) ([]*Subscription, error)
}

// Locker provides a mutual-exclusion lock shared between processes.
type Locker interface {
	// Lock blocks until key is held or ctx is done. The lock expires after
	// ttl if it is never released.
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// LockKey is the lock name used for a subscription.
func LockKey(subscriber SubscriberRef, tag string) string {
	return "subscription:" + subscriber.String() + ":" + tag
}
