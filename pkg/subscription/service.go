package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dmitrymomot/subkit/pkg/logger"
	"github.com/dmitrymomot/subkit/pkg/payment"
)

// Service runs lifecycle operations against a Store. Each operation loads the
// subscription, computes the change with the Engine and saves the result in
// one transaction; any failure leaves the stored subscription untouched.
type Service struct {
	store    Store
	resolver PlanResolver
	engine   *Engine
	payments *payment.Registry
	locker   Locker
	opts     options
	log      *slog.Logger
}

// NewService creates a Service.
// Panics if store or resolver is nil to fail fast during initialization.
func NewService(store Store, resolver PlanResolver, opts ...Option) *Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if resolver == nil {
		panic("subscription: PlanResolver is required")
	}

	o := applyOptions(opts)
	return &Service{
		store:    store,
		resolver: resolver,
		engine:   NewEngine(resolver, opts...),
		payments: o.payments,
		locker:   o.locker,
		opts:     o,
		log:      o.log,
	}
}

// Engine exposes the underlying engine for read-only computations.
func (s *Service) Engine() *Engine {
	return s.engine
}

// SubscribeOption customizes a new subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	name          string
	description   string
	paymentMethod string
}

// WithPaymentMethod sets the payment method charged on renewal.
func WithPaymentMethod(method string) SubscribeOption {
	return func(o *subscribeOptions) { o.paymentMethod = method }
}

// WithName overrides the name and description copied from the plan.
func WithName(name, description string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.name = name
		o.description = description
	}
}

// Subscribe creates a subscription of target for subscriber under tag
// (the main tag when empty). The plan must be active and the payment
// method known. Fails with ErrDuplicateSubscription if the tag is taken.
func (s *Service) Subscribe(ctx context.Context, subscriber SubscriberRef, tag string, target Target, opts ...SubscribeOption) (*Subscription, error) {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !target.BasePlan().Active {
		return nil, fmt.Errorf("%w: %q", ErrPlanInactive, target.BasePlan().Tag)
	}
	method := o.paymentMethod
	if method == "" {
		method = s.opts.cfg.DefaultPaymentMethod
	}
	if _, err := s.payments.Get(method); err != nil {
		return nil, err
	}

	sub, err := s.engine.NewSubscription(subscriber, tag, target, method)
	if err != nil {
		return nil, err
	}
	if o.name != "" {
		sub.Name, sub.Description = o.name, o.description
	}

	ctx = logger.WithOperation(ctx, OpSubscribe.String())
	if err := s.store.Tx(ctx, func(ctx context.Context) error {
		return s.store.CreateSubscription(ctx, sub)
	}); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription created",
		logger.SubscriptionID(sub.ID),
		logger.Subscriber(sub.Subscriber.String()),
		logger.SubscriptionTag(sub.Tag),
		logger.PlanID(sub.PlanID),
		logger.Status(sub.StatusAt(s.engine.Now())),
	)
	return sub, nil
}

// Subscription loads the subscriber's subscription with the given tag.
func (s *Service) Subscription(ctx context.Context, subscriber SubscriberRef, tag string) (*Subscription, error) {
	return s.store.SubscriptionByTag(ctx, subscriber, tag)
}

// MainSubscription loads the subscriber's primary subscription.
func (s *Service) MainSubscription(ctx context.Context, subscriber SubscriberRef) (*Subscription, error) {
	return s.store.SubscriptionByTag(ctx, subscriber, s.opts.cfg.MainTag)
}

// Subscriptions returns the subscriptions matching q.
func (s *Service) Subscriptions(ctx context.Context, q Query) ([]*Subscription, error) {
	return s.store.FindSubscriptions(ctx, q)
}

// SubscriberOf resolves the owner of sub with the lookup registered by WithSubscriberLookup.
func (s *Service) SubscriberOf(sub *Subscription) (any, error) {
	if s.opts.lookup == nil {
		return nil, fmt.Errorf("%w: no subscriber lookup registered", ErrConfiguration)
	}
	return s.opts.lookup(sub.Subscriber)
}

// ResolveTarget finds a plan or combination by tag.
func (s *Service) ResolveTarget(ctx context.Context, tag string) (Target, error) {
	return ResolveTarget(ctx, s.resolver, tag)
}

// Renew extends the subscription and charges price × periods through its
// payment method before committing. A declined charge aborts the renewal.
// The charge carries a payment idempotency key that stays the same until the
// renewal commits; see RenewalKey.
func (s *Service) Renew(ctx context.Context, subscriber SubscriberRef, tag string, periods int) (Result, error) {
	return s.mutate(ctx, subscriber, tag, OpRenew, func(ctx context.Context, sub *Subscription) (Result, error) {
		res, err := s.engine.Renew(ctx, sub, periods)
		if err != nil {
			return Result{}, err
		}
		if charge, ok := res.Effect(EffectCharge); ok {
			chargeCtx := payment.WithIdempotencyKey(ctx, RenewalKey(sub, periods))
			if err := s.payments.Charge(chargeCtx, sub.PaymentMethod, charge.Amount, charge.Currency); err != nil {
				s.log.WarnContext(ctx, "renewal charge failed",
					logger.SubscriptionID(sub.ID),
					slog.String("payment_method", sub.PaymentMethod),
					slog.String("amount", charge.Amount.String()),
					slog.String("currency", charge.Currency),
					logger.Error(err),
				)
				return Result{}, errors.Join(ErrChargeFailed, err)
			}
		}
		return res, nil
	})
}

// RenewalKey identifies one renewal attempt of sub: its id, the end of the
// period being extended and the number of periods. Retrying the same renewal
// yields the same key; once it commits the period end moves and so does the key.
func RenewalKey(sub *Subscription, periods int) string {
	anchor := "new"
	if sub.EndsAt != nil {
		anchor = strconv.FormatInt(sub.EndsAt.Unix(), 10)
	}
	return fmt.Sprintf("renew:%s:%s:%d", sub.ID, anchor, periods)
}

// Cancel cancels the subscription, or switches it to the fallback plan when one is configured.
func (s *Service) Cancel(ctx context.Context, subscriber SubscriberRef, tag string, immediately, ignoreFallback bool) (Result, error) {
	return s.mutate(ctx, subscriber, tag, OpCancel, func(ctx context.Context, sub *Subscription) (Result, error) {
		return s.engine.Cancel(ctx, sub, immediately, ignoreFallback)
	})
}

// Uncancel clears a pending cancellation.
func (s *Service) Uncancel(ctx context.Context, subscriber SubscriberRef, tag string) (Result, error) {
	return s.mutate(ctx, subscriber, tag, OpUncancel, func(_ context.Context, sub *Subscription) (Result, error) {
		return s.engine.Uncancel(sub)
	})
}

// ChangePlan moves the subscription to target.
func (s *Service) ChangePlan(ctx context.Context, subscriber SubscriberRef, tag string, target Target, opts ...ChangeOption) (Result, error) {
	return s.mutate(ctx, subscriber, tag, OpChangePlan, func(ctx context.Context, sub *Subscription) (Result, error) {
		return s.engine.ChangePlan(ctx, sub, target, opts...)
	})
}

// SyncPlan re-applies the terms of target, or of the current plan when target is nil.
func (s *Service) SyncPlan(ctx context.Context, subscriber SubscriberRef, tag string, target Target, syncInvoicing, syncFeatures bool) (Result, error) {
	return s.mutate(ctx, subscriber, tag, OpSyncPlan, func(ctx context.Context, sub *Subscription) (Result, error) {
		return s.engine.SyncPlan(ctx, sub, target, syncInvoicing, syncFeatures)
	})
}

// ConsumeFeature records amount of usage. Concurrent calls on the same
// subscription are serialized by the store transaction, so two consumers can
// never both pass the allowance check and overshoot it.
func (s *Service) ConsumeFeature(ctx context.Context, subscriber SubscriberRef, tag, feature string, amount int64) (SubscriptionFeature, error) {
	return s.meter(ctx, subscriber, tag, feature, OpConsume, func(f SubscriptionFeature) (SubscriptionFeature, []Effect, error) {
		return s.engine.Consume(f, amount)
	})
}

// ReduceFeatureUsage gives back amount of usage.
func (s *Service) ReduceFeatureUsage(ctx context.Context, subscriber SubscriberRef, tag, feature string, amount int64) (SubscriptionFeature, error) {
	return s.meter(ctx, subscriber, tag, feature, OpReduce, func(f SubscriptionFeature) (SubscriptionFeature, []Effect, error) {
		return s.engine.Reduce(f, amount)
	})
}

// FeatureRemaining returns the allowance left, or Unlimited.
func (s *Service) FeatureRemaining(ctx context.Context, subscriber SubscriberRef, tag, feature string) (int64, error) {
	f, err := s.feature(ctx, subscriber, tag, feature)
	if err != nil {
		return 0, err
	}
	return s.engine.Remaining(f), nil
}

// CanUseFeature reports whether amount could be consumed now.
func (s *Service) CanUseFeature(ctx context.Context, subscriber SubscriberRef, tag, feature string, amount int64) (bool, error) {
	f, err := s.feature(ctx, subscriber, tag, feature)
	if err != nil {
		return false, err
	}
	return s.engine.CanUse(f, amount), nil
}

// Features returns the features granted to the subscription.
func (s *Service) Features(ctx context.Context, subscriber SubscriberRef, tag string) ([]SubscriptionFeature, error) {
	sub, err := s.store.SubscriptionByTag(ctx, subscriber, tag)
	if err != nil {
		return nil, err
	}
	return sub.Features, nil
}

func (s *Service) feature(ctx context.Context, subscriber SubscriberRef, tag, feature string) (SubscriptionFeature, error) {
	sub, err := s.store.SubscriptionByTag(ctx, subscriber, tag)
	if err != nil {
		return SubscriptionFeature{}, err
	}
	f, ok := sub.Feature(feature)
	if !ok {
		return SubscriptionFeature{}, fmt.Errorf("%w: %q", ErrFeatureNotFound, feature)
	}
	return f, nil
}

func (s *Service) meter(
	ctx context.Context,
	subscriber SubscriberRef,
	tag, feature string,
	op Operation,
	fn func(SubscriptionFeature) (SubscriptionFeature, []Effect, error),
) (SubscriptionFeature, error) {
	var out SubscriptionFeature
	_, err := s.mutate(ctx, subscriber, tag, op, func(_ context.Context, sub *Subscription) (Result, error) {
		f, ok := sub.Feature(feature)
		if !ok {
			return Result{}, fmt.Errorf("%w: %q", ErrFeatureNotFound, feature)
		}

		updated, effects, err := fn(f)
		if err != nil {
			var denied *UsageDeniedError
			if errors.As(err, &denied) {
				s.log.WarnContext(ctx, "feature usage denied",
					logger.SubscriptionID(sub.ID),
					logger.FeatureTag(feature),
					slog.Int64("used", denied.Used),
					slog.Int64("requested", denied.Requested),
					slog.Int64("limit", denied.Limit),
				)
			}
			return Result{}, err
		}

		c := sub.Clone()
		if err := c.SetFeature(updated); err != nil {
			return Result{}, err
		}
		c.UpdatedAt = s.engine.Now()
		out = updated

		status := c.StatusAt(c.UpdatedAt)
		return Result{Subscription: c, From: status, To: status, Effects: effects}, nil
	})
	return out, err
}

// mutate runs fn on the locked subscription and saves its result in one transaction.
func (s *Service) mutate(
	ctx context.Context,
	subscriber SubscriberRef,
	tag string,
	op Operation,
	fn func(ctx context.Context, sub *Subscription) (Result, error),
) (Result, error) {
	ctx = logger.WithOperation(ctx, op.String())
	ctx = logger.WithSubscriptionTag(ctx, tag)

	unlock, err := s.locker.Lock(ctx, LockKey(subscriber, tag), s.opts.lockTTL)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.log.WarnContext(ctx, "failed to release subscription lock", logger.Error(err))
		}
	}()

	var res Result
	err = s.store.Tx(ctx, func(ctx context.Context) error {
		sub, err := s.store.SubscriptionByTag(ctx, subscriber, tag)
		if err != nil {
			return err
		}
		if res, err = fn(ctx, sub); err != nil {
			return err
		}
		return s.store.SaveSubscription(ctx, res.Subscription)
	})
	if err != nil {
		return Result{}, err
	}

	if op != OpConsume && op != OpReduce {
		s.log.InfoContext(ctx, "subscription updated",
			logger.SubscriptionID(res.Subscription.ID),
			logger.PlanID(res.Subscription.PlanID),
			logger.Transition(res.From, res.To),
		)
	}
	return res, nil
}
