package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/subkit/pkg/logger"
	"github.com/dmitrymomot/subkit/pkg/period"
)

// Renew extends the subscription by periods invoice periods and ends any
// running trial. It fails with ErrInvalidState while the subscription is
// canceled, whatever its dates say.
//
// A new subscription starts now. On that first activation the plan's trial
// mode adjusts the end date by whole days: inside subtracts the trial days
// already used, outside adds the trial days left unused.
//
// A subscription whose period already ended restarts from now, so the gap
// is never reported as covered. Otherwise the period is extended from the
// current end date.
//
// The result carries an EffectCharge of price × periods for the caller to collect.
func (e *Engine) Renew(ctx context.Context, s *Subscription, periods int) (Result, error) {
	if periods < 1 {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidPeriods, periods)
	}

	c, from, now, err := e.begin(OpRenew, s)
	if err != nil {
		return Result{}, err
	}

	var effects []Effect

	// Trial usage must be measured before the trial is cut short.
	trialUsed := c.TrialDaysUsedAt(now)
	trialRemaining := c.TrialDaysRemainingAt(now)

	if c.OnTrialAt(now) {
		c.TrialEndsAt = &now
		effects = append(effects, Effect{Kind: EffectTrialEnded, At: now})
	}

	term := c.Invoice.Times(periods)

	switch {
	case c.IsNew():
		plan, err := e.resolvePlan(ctx, c)
		if err != nil {
			return Result{}, err
		}

		p, err := term.From(now)
		if err != nil {
			return Result{}, err
		}
		start, end := p.Start, p.End

		if c.TrialEndsAt != nil {
			switch plan.TrialMode {
			case TrialInside:
				end = addDays(end, -trialUsed)
			case TrialOutside:
				end = addDays(end, trialRemaining)
			}
		}
		if end.Before(start) {
			end = start
		}

		c.StartsAt, c.EndsAt = &start, &end
		effects = append(effects, Effect{Kind: EffectActivated, PlanID: c.PlanID, At: now})

	case c.EndsAt == nil || c.HasEndedAt(now):
		p, err := term.From(now)
		if err != nil {
			return Result{}, err
		}
		c.StartsAt, c.EndsAt = &p.Start, &p.End
		effects = append(effects, Effect{Kind: EffectReactivated, PlanID: c.PlanID, At: now})

	default:
		end, err := term.After(*c.EndsAt)
		if err != nil {
			return Result{}, err
		}
		c.EndsAt = &end
		effects = append(effects, Effect{Kind: EffectExtended, PlanID: c.PlanID, At: now})
	}

	if c.Invoice.IsZero() {
		e.log.Warn("renewed subscription with an empty invoice period",
			logger.SubscriptionID(c.ID),
			logger.PlanID(c.PlanID),
		)
	}

	effects = append(effects, Effect{
		Kind:     EffectCharge,
		Amount:   c.Price.Mul(decimal.NewFromInt(int64(periods))),
		Currency: c.Currency,
		PlanID:   c.PlanID,
		At:       now,
	})

	return e.finish(OpRenew, c, from, now, effects)
}

// Cancel stops the subscription.
//
// When a fallback plan is configured and ignoreFallback is false the
// subscription is switched to that plan instead and its cancellation fields
// are left untouched; a fallback tag that does not resolve fails with
// ErrConfiguration.
//
// Otherwise canceled_at is stamped now. An immediate cancel also ends the
// trial and the period now. A deferred cancel takes effect at the end of
// the trial, or of the period already paid for, without shortening it.
func (e *Engine) Cancel(ctx context.Context, s *Subscription, immediately, ignoreFallback bool) (Result, error) {
	if !ignoreFallback && e.cfg.FallbackPlanTag != "" {
		return e.switchToFallback(ctx, s)
	}

	c, from, now, err := e.begin(OpCancel, s)
	if err != nil {
		return Result{}, err
	}

	onTrial := c.OnTrialAt(now)
	c.CanceledAt = &now

	if immediately {
		if onTrial {
			c.TrialEndsAt = &now
		}
		c.CancelsAt = &now
		c.EndsAt = &now
	} else if onTrial {
		c.CancelsAt = clonePtr(c.TrialEndsAt)
	} else {
		c.CancelsAt = clonePtr(c.EndsAt)
	}

	effect := Effect{Kind: EffectCanceled, PlanID: c.PlanID, At: now}
	if c.CancelsAt != nil {
		effect.At = *c.CancelsAt
	}
	return e.finish(OpCancel, c, from, now, []Effect{effect})
}

func (e *Engine) switchToFallback(ctx context.Context, s *Subscription) (Result, error) {
	tag := e.cfg.FallbackPlanTag
	plan, err := e.resolver.Plan(ctx, tag)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{}, fmt.Errorf("%w %q: %w", ErrFallbackPlanMissing, tag, err)
		}
		return Result{}, err
	}

	e.log.Debug("cancel replaced by fallback plan",
		logger.SubscriptionID(s.ID),
		logger.PlanID(plan.ID),
	)
	return e.ChangePlan(ctx, s, plan)
}

// Uncancel clears the cancellation stamps. Dates moved by an immediate
// cancel are not restored; such a subscription needs a fresh Renew.
func (e *Engine) Uncancel(s *Subscription) (Result, error) {
	c, from, now, err := e.begin(OpUncancel, s)
	if err != nil {
		return Result{}, err
	}

	c.CanceledAt = nil
	c.CancelsAt = nil

	return e.finish(OpUncancel, c, from, now, []Effect{{Kind: EffectUncanceled, PlanID: c.PlanID, At: now}})
}

// ChangeOption adjusts ChangePlan.
type ChangeOption func(*changeOptions)

type changeOptions struct {
	clearUsage    bool
	syncInvoicing bool
	syncFeatures  bool
}

// KeepUsage preserves feature usage across the plan change.
func KeepUsage() ChangeOption {
	return func(o *changeOptions) { o.clearUsage = false }
}

// KeepInvoicing keeps the subscription's billing cadence instead of adopting the target's.
func KeepInvoicing() ChangeOption {
	return func(o *changeOptions) { o.syncInvoicing = false }
}

// SkipFeatureSync leaves granted features as they are.
func SkipFeatureSync() ChangeOption {
	return func(o *changeOptions) { o.syncFeatures = false }
}

// ChangePlan moves the subscription to target, a Plan or a Combination.
// By default usage is cleared, invoicing follows the target and features are
// regranted from the target plan.
func (e *Engine) ChangePlan(ctx context.Context, s *Subscription, target Target, opts ...ChangeOption) (Result, error) {
	o := changeOptions{clearUsage: true, syncInvoicing: true, syncFeatures: true}
	for _, opt := range opts {
		opt(&o)
	}

	c, from, now, err := e.begin(OpChangePlan, s)
	if err != nil {
		return Result{}, err
	}

	previous := c.PlanID
	effects, err := e.applySync(ctx, c, target, o.syncInvoicing, o.syncFeatures, now)
	if err != nil {
		return Result{}, err
	}

	if o.clearUsage {
		resetAllUsage(c)
		effects = append(effects, Effect{Kind: EffectUsageReset, At: now})
	}

	if previous != c.PlanID {
		e.log.Info("subscription plan changed",
			logger.SubscriptionID(c.ID),
			logger.PlanID(c.PlanID),
			logger.Status(from),
		)
	}

	return e.finish(OpChangePlan, c, from, now, effects)
}

// trialEnd returns the end of a trial of term starting at now, or nil for no trial.
func trialEnd(term period.Term, now time.Time) (*time.Time, error) {
	if term.IsZero() {
		return nil, nil
	}
	end, err := term.After(now)
	if err != nil {
		return nil, err
	}
	return &end, nil
}
