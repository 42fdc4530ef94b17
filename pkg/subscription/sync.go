package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SyncPlan copies the terms of target onto the subscription. A nil target
// re-reads the subscription's current plan, e.g. after the plan itself was edited.
//
// Plan reference, price, currency, tier and grace terms are always
// overwritten. Invoicing is overwritten only when syncInvoicing is true, so a
// subscription can keep its billing cadence across a plan change. With
// syncFeatures the granted features are reconciled with the plan's.
// For a Combination the parent plan supplies tier and grace while the
// combination supplies price, currency and invoicing.
func (e *Engine) SyncPlan(ctx context.Context, s *Subscription, target Target, syncInvoicing, syncFeatures bool) (Result, error) {
	c, from, now, err := e.begin(OpSyncPlan, s)
	if err != nil {
		return Result{}, err
	}

	effects, err := e.applySync(ctx, c, target, syncInvoicing, syncFeatures, now)
	if err != nil {
		return Result{}, err
	}
	return e.finish(OpSyncPlan, c, from, now, effects)
}

// applySync writes every synchronized field onto c, which must be a private copy.
func (e *Engine) applySync(ctx context.Context, c *Subscription, target Target, syncInvoicing, syncFeatures bool, now time.Time) ([]Effect, error) {
	if target == nil {
		plan, err := e.resolvePlan(ctx, c)
		if err != nil {
			return nil, err
		}
		target = plan
	}

	plan := target.BasePlan()
	if plan.ID == uuid.Nil {
		return nil, ErrInvalidTarget
	}
	pricing := target.Pricing()

	var effects []Effect
	if c.PlanID != plan.ID {
		effects = append(effects, Effect{Kind: EffectPlanChanged, PlanID: plan.ID, At: now})
	}

	c.PlanID = plan.ID
	c.Price = pricing.Price
	c.Currency = pricing.Currency
	c.Tier = clonePtr(plan.Tier)
	c.Grace = plan.Grace

	if syncInvoicing {
		c.Invoice = target.Invoicing()
	}

	if syncFeatures {
		syncFeaturesInto(c, plan)
		effects = append(effects, Effect{Kind: EffectFeaturesSynced, PlanID: plan.ID, At: now})
	}

	return effects, nil
}
