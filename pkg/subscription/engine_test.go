package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/period"
	"github.com/dmitrymomot/subkit/pkg/subscription"
)

func TestNewEngine(t *testing.T) {
	t.Parallel()

	assert.PanicsWithValue(t, "subscription: PlanResolver is required", func() {
		subscription.NewEngine(nil)
	})
}

func TestEngine_NewSubscription(t *testing.T) {
	t.Parallel()

	t.Run("plan with trial starts on trial", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		s := f.subscribe(t, f.pro)

		assert.Equal(t, "main", s.Tag)
		assert.Equal(t, "free", s.PaymentMethod)
		assert.Equal(t, f.pro.ID, s.PlanID)
		require.NotNil(t, s.TrialEndsAt)
		assert.Equal(t, start.Add(day(14)), *s.TrialEndsAt)
		assert.Nil(t, s.StartsAt)
		assert.Nil(t, s.EndsAt)
		assert.Equal(t, subscription.StatusOnTrial, s.StatusAt(f.clock.Now()))

		require.Len(t, s.Features, 2)
		for _, sf := range s.Features {
			assert.Equal(t, s.ID, sf.SubscriptionID)
			assert.Nil(t, sf.Usage)
		}
	})

	t.Run("plan without trial stays new", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		s := f.subscribe(t, f.basic)

		assert.Nil(t, s.TrialEndsAt)
		assert.Equal(t, subscription.StatusNew, s.StatusAt(f.clock.Now()))
		assert.True(t, s.IsNew())
	})

	t.Run("combination supplies pricing and invoicing", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		s := f.subscribe(t, f.annual)

		assert.Equal(t, f.pro.ID, s.PlanID)
		assert.Equal(t, "EUR", s.Currency)
		assert.True(t, s.Price.Equal(decimal.RequireFromString("100")))
		assert.Equal(t, period.Months(12), s.Invoice)
	})

	t.Run("target without plan is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.NewSubscription(subscription.Subscriber("user", 1), "", subscription.Plan{}, "")
		assert.ErrorIs(t, err, subscription.ErrInvalidTarget)
	})

	t.Run("subscriber is required", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.NewSubscription(subscription.SubscriberRef{}, "", f.basic, "")
		assert.ErrorIs(t, err, subscription.ErrInvalidSubscription)
	})
}

func TestEngine_Renew(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("trial outside adds unused trial days", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := f.subscribe(t, f.pro)

		f.clock.Advance(day(4))
		now := f.clock.Now()
		res, err := f.engine.Renew(ctx, s, 1)
		require.NoError(t, err)

		got := res.Subscription
		assert.Equal(t, now, *got.StartsAt)
		assert.Equal(t, time.Date(2024, time.February, 24, 12, 0, 0, 0, time.UTC), *got.EndsAt)
		assert.Equal(t, now, *got.TrialEndsAt)
		assert.Equal(t, subscription.StatusOnTrial, res.From)
		assert.Equal(t, subscription.StatusActive, res.To)
		assert.True(t, res.Has(subscription.EffectTrialEnded))
		assert.True(t, res.Has(subscription.EffectActivated))

		charge, ok := res.Effect(subscription.EffectCharge)
		require.True(t, ok)
		assert.True(t, charge.Amount.Equal(decimal.RequireFromString("10")))
		assert.Equal(t, "USD", charge.Currency)
	})

	t.Run("trial inside subtracts used trial days", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		p := proPlan()
		p.Tag = "pro-inside"
		p.TrialMode = subscription.TrialInside
		plan, err := f.catalog.CreatePlan(ctx, p)
		require.NoError(t, err)
		s := f.subscribe(t, plan)

		f.clock.Advance(day(4))
		res, err := f.engine.Renew(ctx, s, 1)
		require.NoError(t, err)

		assert.Equal(t, time.Date(2024, time.February, 10, 12, 0, 0, 0, time.UTC), *res.Subscription.EndsAt)
	})

	t.Run("trial inside never ends before it starts", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		p := proPlan()
		p.Tag = "long-trial"
		p.Trial = period.Days(60)
		p.TrialMode = subscription.TrialInside
		plan, err := f.catalog.CreatePlan(ctx, p)
		require.NoError(t, err)
		s := f.subscribe(t, plan)

		f.clock.Advance(day(50))
		res, err := f.engine.Renew(ctx, s, 1)
		require.NoError(t, err)

		assert.Equal(t, *res.Subscription.StartsAt, *res.Subscription.EndsAt)
	})

	t.Run("trial inside after an immediate cancel counts only the days used", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		p := proPlan()
		p.Tag = "pro-inside"
		p.TrialMode = subscription.TrialInside
		plan, err := f.catalog.CreatePlan(ctx, p)
		require.NoError(t, err)

		s := f.subscribe(t, plan)

		f.clock.Advance(day(3))
		canceled, err := f.engine.Cancel(ctx, s, true, true)
		require.NoError(t, err)
		f.clock.Advance(day(2))
		uncanceled, err := f.engine.Uncancel(canceled.Subscription)
		require.NoError(t, err)
		assert.Equal(t, 3, uncanceled.Subscription.TrialDaysUsedAt(f.clock.Now()))

		res, err := f.engine.Renew(ctx, uncanceled.Subscription, 1)
		require.NoError(t, err)

		assert.Equal(t, time.Date(2024, time.February, 12, 12, 0, 0, 0, time.UTC), *res.Subscription.EndsAt)
	})

	t.Run("new subscription starts now", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		res, err := f.engine.Renew(ctx, f.subscribe(t, f.basic), 1)
		require.NoError(t, err)

		assert.Equal(t, start, *res.Subscription.StartsAt)
		assert.Equal(t, time.Date(2024, time.February, 10, 12, 0, 0, 0, time.UTC), *res.Subscription.EndsAt)
		assert.Equal(t, subscription.StatusNew, res.From)
		assert.False(t, res.Has(subscription.EffectTrialEnded))
	})

	t.Run("active subscription extends from its end", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := f.active(t)

		f.clock.Advance(day(10))
		res, err := f.engine.Renew(ctx, s, 2)
		require.NoError(t, err)

		assert.Equal(t, start, *res.Subscription.StartsAt)
		assert.Equal(t, time.Date(2024, time.April, 10, 12, 0, 0, 0, time.UTC), *res.Subscription.EndsAt)
		assert.True(t, res.Has(subscription.EffectExtended))

		charge, _ := res.Effect(subscription.EffectCharge)
		assert.True(t, charge.Amount.Equal(decimal.RequireFromString("10")))
	})

	t.Run("ended subscription restarts from now", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := f.active(t)

		f.clock.Advance(day(40))
		now := f.clock.Now()
		require.Equal(t, subscription.StatusEnded, s.StatusAt(now))

		res, err := f.engine.Renew(ctx, s, 1)
		require.NoError(t, err)

		assert.Equal(t, now, *res.Subscription.StartsAt)
		end, _ := period.Months(1).After(now)
		assert.Equal(t, end, *res.Subscription.EndsAt)
		assert.True(t, res.Has(subscription.EffectReactivated))
		assert.Equal(t, subscription.StatusActive, res.To)
	})

	t.Run("subscription in grace can renew", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := f.active(t)

		f.clock.Advance(day(32))
		require.Equal(t, subscription.StatusInGrace, s.StatusAt(f.clock.Now()))

		res, err := f.engine.Renew(ctx, s, 1)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusInGrace, res.From)
		assert.Equal(t, subscription.StatusActive, res.To)
	})

	t.Run("canceled subscription is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		canceled, err := f.engine.Cancel(ctx, f.active(t), false, true)
		require.NoError(t, err)

		_, err = f.engine.Renew(ctx, canceled.Subscription, 1)
		assert.ErrorIs(t, err, subscription.ErrInvalidState)
		assert.ErrorIs(t, err, subscription.ErrSubscriptionCanceled)

		var rejected *subscription.TransitionRejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, subscription.StatusCanceled, rejected.From)
	})

	t.Run("canceled trial is rejected although status is on trial", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		canceled, err := f.engine.Cancel(ctx, f.subscribe(t, f.pro), false, true)
		require.NoError(t, err)
		require.Equal(t, subscription.StatusOnTrial, canceled.To)

		_, err = f.engine.Renew(ctx, canceled.Subscription, 1)
		var rejected *subscription.TransitionRejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, subscription.StatusOnTrial, rejected.From)
	})

	t.Run("periods must be positive", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.Renew(ctx, f.active(t), 0)
		assert.ErrorIs(t, err, subscription.ErrInvalidPeriods)
	})

	t.Run("input is never modified", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := f.subscribe(t, f.pro)
		before := s.Clone()

		f.clock.Advance(day(2))
		_, err := f.engine.Renew(ctx, s, 1)
		require.NoError(t, err)

		assert.Equal(t, before, s)
	})
}

func TestEngine_Cancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("deferred cancel keeps the paid period", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := f.active(t)

		f.clock.Advance(day(5))
		now := f.clock.Now()
		res, err := f.engine.Cancel(ctx, s, false, true)
		require.NoError(t, err)

		got := res.Subscription
		assert.Equal(t, now, *got.CanceledAt)
		assert.Equal(t, *s.EndsAt, *got.CancelsAt)
		assert.Equal(t, *s.EndsAt, *got.EndsAt)
		assert.Equal(t, subscription.StatusCanceled, res.To)
		assert.True(t, got.IsCancelPendingAt(now))
		assert.True(t, got.IsActiveAt(now))
		assert.False(t, got.IsActiveAt(*got.EndsAt))

		effect, ok := res.Effect(subscription.EffectCanceled)
		require.True(t, ok)
		assert.Equal(t, *got.CancelsAt, effect.At)
	})

	t.Run("deferred cancel on trial takes effect at trial end", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := f.subscribe(t, f.pro)

		res, err := f.engine.Cancel(ctx, s, false, true)
		require.NoError(t, err)
		assert.Equal(t, *s.TrialEndsAt, *res.Subscription.CancelsAt)
	})

	t.Run("immediate cancel ends everything now", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := f.active(t)

		f.clock.Advance(day(5))
		now := f.clock.Now()
		res, err := f.engine.Cancel(ctx, s, true, true)
		require.NoError(t, err)

		got := res.Subscription
		assert.Equal(t, now, *got.CanceledAt)
		assert.Equal(t, now, *got.CancelsAt)
		assert.Equal(t, now, *got.EndsAt)
		assert.False(t, got.IsActiveAt(now))
	})

	t.Run("immediate cancel ends trial", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		res, err := f.engine.Cancel(ctx, f.subscribe(t, f.pro), true, true)
		require.NoError(t, err)

		assert.Equal(t, start, *res.Subscription.TrialEndsAt)
		assert.Equal(t, subscription.StatusCanceled, res.To)
	})

	t.Run("ended subscription cannot be canceled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := f.active(t)

		f.clock.Advance(day(40))
		_, err := f.engine.Cancel(ctx, s, false, true)

		var noTransition *subscription.NoTransitionError
		require.ErrorAs(t, err, &noTransition)
		assert.Equal(t, subscription.StatusEnded, noTransition.From)
		assert.Equal(t, subscription.OpCancel, noTransition.Operation)
		assert.True(t, subscription.IsInvalidState(err))
	})

	t.Run("fallback plan replaces cancellation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, subscription.WithConfig(subscription.Config{FallbackPlanTag: "free"}))
		s := f.active(t)

		res, err := f.engine.Cancel(ctx, s, false, false)
		require.NoError(t, err)

		got := res.Subscription
		assert.Equal(t, f.free.ID, got.PlanID)
		assert.Nil(t, got.CanceledAt)
		assert.True(t, got.Price.IsZero())
		assert.True(t, res.Has(subscription.EffectPlanChanged))
		assert.False(t, res.Has(subscription.EffectCanceled))
	})

	t.Run("ignoring fallback cancels", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, subscription.WithConfig(subscription.Config{FallbackPlanTag: "free"}))

		res, err := f.engine.Cancel(ctx, f.active(t), false, true)
		require.NoError(t, err)
		assert.NotNil(t, res.Subscription.CanceledAt)
	})

	t.Run("missing fallback plan is a configuration error", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, subscription.WithConfig(subscription.Config{FallbackPlanTag: "gone"}))

		_, err := f.engine.Cancel(ctx, f.active(t), false, false)
		assert.ErrorIs(t, err, subscription.ErrFallbackPlanMissing)
		assert.ErrorIs(t, err, subscription.ErrConfiguration)
	})
}

func TestEngine_Uncancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	canceled, err := f.engine.Cancel(ctx, f.active(t), false, true)
	require.NoError(t, err)

	res, err := f.engine.Uncancel(canceled.Subscription)
	require.NoError(t, err)

	assert.Nil(t, res.Subscription.CanceledAt)
	assert.Nil(t, res.Subscription.CancelsAt)
	assert.Equal(t, subscription.StatusCanceled, res.From)
	assert.Equal(t, subscription.StatusActive, res.To)
	assert.True(t, res.Has(subscription.EffectUncanceled))
}

func TestEngine_ChangePlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	consumed := func(t *testing.T, f *fixture) *subscription.Subscription {
		t.Helper()
		s := f.active(t)
		sf, _ := s.Feature("api_calls")
		sf, _, err := f.engine.Consume(sf, 7)
		require.NoError(t, err)
		require.NoError(t, s.SetFeature(sf))
		return s
	}

	t.Run("combination target", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := consumed(t, f)

		res, err := f.engine.ChangePlan(ctx, s, f.annual)
		require.NoError(t, err)

		got := res.Subscription
		assert.Equal(t, f.pro.ID, got.PlanID)
		assert.Equal(t, "EUR", got.Currency)
		assert.True(t, got.Price.Equal(decimal.RequireFromString("100")))
		assert.Equal(t, period.Months(12), got.Invoice)
		assert.True(t, got.Grace.IsZero())

		require.Len(t, got.Features, 2)
		calls, ok := got.Feature("api_calls")
		require.True(t, ok)
		assert.Equal(t, "100", calls.Value)
		assert.Zero(t, calls.Used())
		_, ok = got.Feature("projects")
		assert.False(t, ok)
		_, ok = got.Feature("sso")
		assert.True(t, ok)

		assert.True(t, res.Has(subscription.EffectPlanChanged))
		assert.True(t, res.Has(subscription.EffectFeaturesSynced))
		assert.True(t, res.Has(subscription.EffectUsageReset))

		assert.Equal(t, f.basic.ID, s.PlanID)
	})

	t.Run("keep invoicing and usage", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := consumed(t, f)

		res, err := f.engine.ChangePlan(ctx, s, f.annual, subscription.KeepInvoicing(), subscription.KeepUsage())
		require.NoError(t, err)

		assert.Equal(t, period.Months(1), res.Subscription.Invoice)
		calls, _ := res.Subscription.Feature("api_calls")
		assert.Equal(t, int64(7), calls.Used())
		assert.False(t, res.Has(subscription.EffectUsageReset))
	})

	t.Run("skip feature sync", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := consumed(t, f)

		res, err := f.engine.ChangePlan(ctx, s, f.pro, subscription.SkipFeatureSync())
		require.NoError(t, err)

		_, ok := res.Subscription.Feature("projects")
		assert.True(t, ok)
		assert.False(t, res.Has(subscription.EffectFeaturesSynced))
	})

	t.Run("target without plan", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.ChangePlan(ctx, f.active(t), subscription.Combination{Tag: "orphan"})
		assert.ErrorIs(t, err, subscription.ErrInvalidTarget)
	})
}

func TestEngine_SyncPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nil target re-reads current plan", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := f.active(t)
		s.Price = decimal.RequireFromString("99")
		s.Grace = period.Term{}

		res, err := f.engine.SyncPlan(ctx, s, nil, false, false)
		require.NoError(t, err)

		assert.True(t, res.Subscription.Price.Equal(decimal.RequireFromString("5")))
		assert.Equal(t, period.Days(3), res.Subscription.Grace)
		assert.False(t, res.Has(subscription.EffectPlanChanged))
	})

	t.Run("invoicing only when asked", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := f.active(t)

		res, err := f.engine.SyncPlan(ctx, s, f.annual, false, false)
		require.NoError(t, err)
		assert.Equal(t, period.Months(1), res.Subscription.Invoice)

		res, err = f.engine.SyncPlan(ctx, s, f.annual, true, false)
		require.NoError(t, err)
		assert.Equal(t, period.Months(12), res.Subscription.Invoice)
	})

	t.Run("unknown current plan", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		s := f.active(t)
		s.PlanID = f.annual.ID

		_, err := f.engine.SyncPlan(ctx, s, nil, true, true)
		assert.ErrorIs(t, err, subscription.ErrPlanNotFound)
	})
}

func TestCanPerform(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	now := f.clock.Now()

	active := f.active(t)
	assert.True(t, subscription.CanPerform(subscription.OpRenew, active, now))
	assert.True(t, subscription.CanPerform(subscription.OpCancel, active, now))

	ended := active.Clone()
	ended.Grace = period.Term{}
	ended.EndsAt = &now
	assert.False(t, subscription.CanPerform(subscription.OpCancel, ended, now))
	assert.True(t, subscription.CanPerform(subscription.OpRenew, ended, now))

	canceled := active.Clone()
	canceled.CanceledAt = &now
	assert.False(t, subscription.CanPerform(subscription.OpRenew, canceled, now))
	assert.True(t, subscription.CanPerform(subscription.OpUncancel, canceled, now))
}
