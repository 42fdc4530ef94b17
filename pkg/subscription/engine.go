package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subkit/pkg/clock"
	"github.com/dmitrymomot/subkit/pkg/logger"
	"github.com/dmitrymomot/subkit/pkg/period"
)

// Engine computes lifecycle transitions. It never persists anything: every
// operation takes a subscription, works on a copy and returns the copy with
// the effects the caller must act on. A failed operation returns no copy,
// so the caller's record is left exactly as it was.
type Engine struct {
	resolver PlanResolver
	clock    clock.Clock
	cfg      Config
	log      *slog.Logger
}

// NewEngine creates an Engine that reads plans through resolver.
// Panics if resolver is nil.
func NewEngine(resolver PlanResolver, opts ...Option) *Engine {
	if resolver == nil {
		panic("subscription: PlanResolver is required")
	}
	o := applyOptions(opts)
	return &Engine{
		resolver: resolver,
		clock:    o.clock,
		cfg:      o.cfg,
		log:      o.log,
	}
}

// Now returns the engine's current instant.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Config returns the engine settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// NewSubscription builds a subscription of target for subscriber. The
// subscription is not started: a plan with a trial puts it on trial now,
// otherwise it stays new until the first renewal. All plan features are granted.
func (e *Engine) NewSubscription(subscriber SubscriberRef, tag string, target Target, paymentMethod string) (*Subscription, error) {
	plan := target.BasePlan()
	if plan.ID == uuid.Nil {
		return nil, ErrInvalidTarget
	}
	if tag == "" {
		tag = e.cfg.MainTag
	}
	if paymentMethod == "" {
		paymentMethod = e.cfg.DefaultPaymentMethod
	}

	now := e.clock.Now()
	pricing := target.Pricing()
	s := &Subscription{
		ID:            uuid.New(),
		Tag:           tag,
		Subscriber:    subscriber,
		PlanID:        plan.ID,
		Name:          plan.Name,
		Description:   plan.Description,
		PaymentMethod: paymentMethod,
		Price:         pricing.Price,
		Currency:      pricing.Currency,
		Tier:          clonePtr(plan.Tier),
		Trial:         plan.Trial,
		Grace:         plan.Grace,
		Invoice:       target.Invoicing(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	trialEndsAt, err := trialEnd(plan.Trial, now)
	if err != nil {
		return nil, err
	}
	s.TrialEndsAt = trialEndsAt

	for _, f := range plan.Features {
		if err := grantInto(s, f); err != nil {
			return nil, err
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) begin(op Operation, s *Subscription) (*Subscription, Status, time.Time, error) {
	now := e.clock.Now()
	from, err := checkTransition(op, s, now)
	if err != nil {
		e.log.Debug("transition refused",
			logger.Operation(op.String()),
			logger.SubscriptionID(s.ID),
			logger.Status(from),
			logger.Error(err),
		)
		return nil, from, now, err
	}
	return s.Clone(), from, now, nil
}

func (e *Engine) finish(op Operation, c *Subscription, from Status, now time.Time, effects []Effect) (Result, error) {
	c.UpdatedAt = now
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	res := Result{Subscription: c, From: from, To: c.StatusAt(now), Effects: effects}
	e.log.Debug("transition computed",
		logger.Operation(op.String()),
		logger.SubscriptionID(c.ID),
		logger.Transition(res.From, res.To),
		slog.Int("effects", len(effects)),
	)
	return res, nil
}

// resolvePlan loads the plan a subscription currently points at.
func (e *Engine) resolvePlan(ctx context.Context, s *Subscription) (Plan, error) {
	return e.resolver.PlanByID(ctx, s.PlanID)
}

func addDays(t time.Time, days int) time.Time {
	out, _ := period.Add(t, period.Day, days)
	return out
}
