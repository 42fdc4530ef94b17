package subscription_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/clock"
	"github.com/dmitrymomot/subkit/pkg/period"
	"github.com/dmitrymomot/subkit/pkg/subscription"
)

var start = time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC)

func day(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func proPlan() subscription.Plan {
	return subscription.Plan{
		Tag:       "pro",
		Name:      "Pro",
		Active:    true,
		Price:     decimal.RequireFromString("10.00"),
		Currency:  "USD",
		Trial:     period.Days(14),
		TrialMode: subscription.TrialOutside,
		Invoice:   period.Months(1),
		SortOrder: 2,
		Features: []subscription.Feature{
			{Tag: "api_calls", Value: "100", Reset: period.Months(1), SortOrder: 1},
			{Tag: "sso", Value: "true", SortOrder: 2},
		},
	}
}

func basicPlan() subscription.Plan {
	return subscription.Plan{
		Tag:       "basic",
		Name:      "Basic",
		Active:    true,
		Price:     decimal.RequireFromString("5.00"),
		Currency:  "USD",
		Grace:     period.Days(3),
		Invoice:   period.Months(1),
		SortOrder: 1,
		Features: []subscription.Feature{
			{Tag: "api_calls", Value: "10", SortOrder: 1},
			{Tag: "projects", Value: "3", SortOrder: 2},
		},
	}
}

func freePlan() subscription.Plan {
	return subscription.Plan{
		Tag:      "free",
		Name:     "Free",
		Active:   true,
		Currency: "USD",
		Invoice:  period.Months(1),
		Features: []subscription.Feature{
			{Tag: "api_calls", Value: "5"},
		},
	}
}

type fixture struct {
	catalog *subscription.Catalog
	clock   *clock.Fake
	engine  *subscription.Engine
	pro     subscription.Plan
	basic   subscription.Plan
	free    subscription.Plan
	annual  subscription.Combination
}

func newFixture(t *testing.T, opts ...subscription.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		catalog: subscription.NewCatalog(),
		clock:   clock.NewFake(start),
	}

	var err error
	f.pro, err = f.catalog.CreatePlan(ctx, proPlan())
	require.NoError(t, err)
	f.basic, err = f.catalog.CreatePlan(ctx, basicPlan())
	require.NoError(t, err)
	f.free, err = f.catalog.CreatePlan(ctx, freePlan())
	require.NoError(t, err)
	f.annual, err = f.catalog.AddCombination(ctx, subscription.Combination{
		Tag:      "pro-de-annual",
		PlanID:   f.pro.ID,
		Country:  "DE",
		Currency: "EUR",
		Price:    decimal.RequireFromString("100.00"),
		Invoice:  period.Months(12),
	})
	require.NoError(t, err)

	opts = append([]subscription.Option{
		subscription.WithClock(f.clock),
		subscription.WithLogger(discardLogger()),
	}, opts...)
	f.engine = subscription.NewEngine(f.catalog, opts...)
	return f
}

func (f *fixture) subscribe(t *testing.T, target subscription.Target) *subscription.Subscription {
	t.Helper()
	s, err := f.engine.NewSubscription(subscription.Subscriber("user", 1), "", target, "")
	require.NoError(t, err)
	return s
}

// active returns a subscription to basic renewed once at the fixture's start.
func (f *fixture) active(t *testing.T) *subscription.Subscription {
	t.Helper()
	res, err := f.engine.Renew(context.Background(), f.subscribe(t, f.basic), 1)
	require.NoError(t, err)
	return res.Subscription
}
