package subscription_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/period"
	"github.com/dmitrymomot/subkit/pkg/subscription"
)

func feature(t *testing.T, s *subscription.Subscription, tag string) subscription.SubscriptionFeature {
	t.Helper()
	sf, ok := s.Feature(tag)
	require.True(t, ok, "feature %q not granted", tag)
	return sf
}

func TestEngine_Consume(t *testing.T) {
	t.Parallel()

	t.Run("first consumption opens a window", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sf := feature(t, f.subscribe(t, f.pro), "api_calls")

		got, effects, err := f.engine.Consume(sf, 30)
		require.NoError(t, err)

		assert.Empty(t, effects)
		assert.Equal(t, int64(30), got.Used())
		require.NotNil(t, got.Usage.ValidUntil)
		assert.Equal(t, time.Date(2024, time.February, 10, 12, 0, 0, 0, time.UTC), *got.Usage.ValidUntil)
		assert.Nil(t, sf.Usage)
	})

	t.Run("reaching the limit reports depletion", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sf := feature(t, f.subscribe(t, f.pro), "api_calls")

		sf, _, err := f.engine.Consume(sf, 30)
		require.NoError(t, err)
		sf, effects, err := f.engine.Consume(sf, 70)
		require.NoError(t, err)

		assert.Equal(t, int64(100), sf.Used())
		require.Len(t, effects, 1)
		assert.Equal(t, subscription.EffectFeatureDepleted, effects[0].Kind)
		assert.Equal(t, "api_calls", effects[0].FeatureTag)
	})

	t.Run("exceeding the limit is denied", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sf := feature(t, f.subscribe(t, f.pro), "api_calls")
		sf, _, err := f.engine.Consume(sf, 100)
		require.NoError(t, err)

		got, effects, err := f.engine.Consume(sf, 1)

		assert.ErrorIs(t, err, subscription.ErrUsageDenied)
		var denied *subscription.UsageDeniedError
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, int64(100), denied.Used)
		assert.Equal(t, int64(1), denied.Requested)
		assert.Equal(t, int64(100), denied.Limit)
		assert.Equal(t, sf, got)
		assert.Empty(t, effects)
	})

	t.Run("amount beyond the int64 range is denied", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sf := feature(t, f.subscribe(t, f.pro), "api_calls")
		sf, _, err := f.engine.Consume(sf, 5)
		require.NoError(t, err)

		got, _, err := f.engine.Consume(sf, math.MaxInt64)

		var denied *subscription.UsageDeniedError
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, int64(math.MaxInt64), denied.Requested)
		assert.Equal(t, int64(5), got.Used())
		assert.Equal(t, int64(95), f.engine.Remaining(got))
		assert.False(t, f.engine.CanUse(got, math.MaxInt64))
	})

	t.Run("expired window starts over", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sf := feature(t, f.subscribe(t, f.pro), "api_calls")
		sf, _, err := f.engine.Consume(sf, 100)
		require.NoError(t, err)

		// Feb 20: ten days after the window closed on Feb 10.
		f.clock.Set(sf.Usage.ValidUntil.Add(day(10)))
		got, effects, err := f.engine.Consume(sf, 1)
		require.NoError(t, err)

		assert.Equal(t, int64(1), got.Used())
		assert.Equal(t, time.Date(2024, time.March, 20, 12, 0, 0, 0, time.UTC), *got.Usage.ValidUntil)
		require.Len(t, effects, 1)
		assert.Equal(t, subscription.EffectUsageWindowReset, effects[0].Kind)
	})

	t.Run("feature without reset never expires", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sf := feature(t, f.subscribe(t, f.basic), "api_calls")
		sf, _, err := f.engine.Consume(sf, 4)
		require.NoError(t, err)
		assert.Nil(t, sf.Usage.ValidUntil)

		f.clock.Advance(day(400))
		sf, _, err = f.engine.Consume(sf, 4)
		require.NoError(t, err)
		assert.Equal(t, int64(8), sf.Used())
	})

	t.Run("fractional values are floored", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sf := subscription.SubscriptionFeature{Tag: "seats", Value: "2.9"}

		_, _, err := f.engine.Consume(sf, 3)
		assert.ErrorIs(t, err, subscription.ErrUsageDenied)
		got, _, err := f.engine.Consume(sf, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Used())
	})

	t.Run("flag feature is not metered", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sf := feature(t, f.subscribe(t, f.pro), "sso")

		got, _, err := f.engine.Consume(sf, 1000)
		require.NoError(t, err)
		assert.False(t, got.IsMetered())
		assert.Equal(t, subscription.Unlimited, f.engine.Remaining(got))
	})

	t.Run("negative amount", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sf := feature(t, f.subscribe(t, f.pro), "api_calls")

		_, _, err := f.engine.Consume(sf, -1)
		assert.ErrorIs(t, err, subscription.ErrInvalidAmount)
	})
}

func TestEngine_Reduce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sf := feature(t, f.subscribe(t, f.pro), "api_calls")
	sf, _, err := f.engine.Consume(sf, 30)
	require.NoError(t, err)

	sf, _, err = f.engine.Reduce(sf, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(20), sf.Used())

	sf, _, err = f.engine.Reduce(sf, 50)
	require.NoError(t, err)
	assert.Zero(t, sf.Used())

	_, _, err = f.engine.Reduce(sf, -1)
	assert.ErrorIs(t, err, subscription.ErrInvalidAmount)
}

func TestEngine_RemainingAndCanUse(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sf := feature(t, f.subscribe(t, f.pro), "api_calls")

	assert.Equal(t, int64(100), f.engine.Remaining(sf))
	assert.True(t, f.engine.CanUse(sf, 100))
	assert.False(t, f.engine.CanUse(sf, 101))
	assert.False(t, f.engine.CanUse(sf, -1))

	sf, _, err := f.engine.Consume(sf, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), f.engine.Remaining(sf))
	assert.Equal(t, int64(60), f.engine.UsedAt(sf))
	assert.False(t, f.engine.CanUse(sf, 41))

	f.clock.Advance(day(40))
	assert.Equal(t, int64(100), f.engine.Remaining(sf))
	assert.Zero(t, f.engine.UsedAt(sf))
	assert.Equal(t, int64(60), sf.Used())
}

func TestSubscriptionFeature_Limit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value   string
		want    int64
		numeric bool
	}{
		{value: "100", want: 100, numeric: true},
		{value: "2.9", want: 2, numeric: true},
		{value: "9223372036854775807", want: math.MaxInt64, numeric: true},
		{value: "1e30", want: math.MaxInt64, numeric: true},
		{value: "-1e30", want: 0, numeric: true},
		{value: "-5", want: 0, numeric: true},
		{value: "sso", want: 0, numeric: false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Parallel()
			got, numeric := subscription.SubscriptionFeature{Value: tt.value}.Limit()
			assert.Equal(t, tt.numeric, numeric)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_Consume_HugeAllowance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sf := subscription.SubscriptionFeature{Tag: "events", Value: "1e30"}

	sf, _, err := f.engine.Consume(sf, math.MaxInt64-1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-1), sf.Used())

	_, _, err = f.engine.Consume(sf, 2)
	assert.ErrorIs(t, err, subscription.ErrUsageDenied)
}

func TestEnabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		want  bool
	}{
		{value: "true", want: true},
		{value: "sso", want: true},
		{value: "10", want: true},
		{value: "0", want: false},
		{value: "-1", want: false},
		{value: "false", want: false},
		{value: "FALSE", want: false},
		{value: "", want: false},
		{value: "  ", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, subscription.Enabled(subscription.SubscriptionFeature{Value: tt.value}))
		})
	}
}

func TestEngine_Grant(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.subscribe(t, f.basic)

	got, err := f.engine.Grant(s, subscription.Feature{Tag: "exports", Value: "true"})
	require.NoError(t, err)
	assert.Len(t, got.Features, 3)
	assert.Len(t, s.Features, 2)

	_, err = f.engine.Grant(got, subscription.Feature{Tag: "exports", Value: "false"})
	assert.ErrorIs(t, err, subscription.ErrDuplicateGrant)
	assert.ErrorIs(t, err, subscription.ErrDuplicate)

	_, err = f.engine.Grant(s, subscription.Feature{Tag: ""})
	assert.Error(t, err)
}

func TestEngine_ResetAll(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.subscribe(t, f.pro)
	sf, _, err := f.engine.Consume(feature(t, s, "api_calls"), 50)
	require.NoError(t, err)
	require.NoError(t, s.SetFeature(sf))

	reset := f.engine.ResetAll(s)
	got := feature(t, reset, "api_calls")
	assert.Zero(t, got.Used())
	assert.Nil(t, got.Usage.ValidUntil)
	assert.Nil(t, feature(t, reset, "sso").Usage)

	f.clock.Advance(day(1))
	got, effects, err := f.engine.Consume(got, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Used())
	require.NotNil(t, got.Usage.ValidUntil)
	assert.Len(t, effects, 1)
}

func TestEngine_SyncFeatures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.subscribe(t, f.basic)
	sf, _, err := f.engine.Consume(feature(t, s, "api_calls"), 4)
	require.NoError(t, err)
	require.NoError(t, s.SetFeature(sf))

	plan := f.pro
	plan.Features = append(plan.Features, subscription.Feature{Tag: "audit_log", Value: "true", SortOrder: 0})

	got := f.engine.SyncFeatures(s, plan)

	tags := make([]string, 0, len(got.Features))
	for _, gf := range got.Features {
		tags = append(tags, gf.Tag)
	}
	assert.Equal(t, []string{"audit_log", "api_calls", "sso"}, tags)

	calls := feature(t, got, "api_calls")
	assert.Equal(t, "100", calls.Value)
	assert.Equal(t, period.Months(1), calls.Reset)
	assert.Equal(t, int64(4), calls.Used())
	assert.Equal(t, sf.ID, calls.ID)
}

func TestSubscription_StatusAt(t *testing.T) {
	t.Parallel()

	now := start
	past := now.Add(-day(1))
	future := now.Add(day(1))
	longAgo := now.Add(-day(10))

	tests := []struct {
		name string
		sub  subscription.Subscription
		want subscription.Status
	}{
		{name: "new", sub: subscription.Subscription{}, want: subscription.StatusNew},
		{name: "trial", sub: subscription.Subscription{TrialEndsAt: &future}, want: subscription.StatusOnTrial},
		{
			name: "trial wins over cancellation",
			sub:  subscription.Subscription{TrialEndsAt: &future, CanceledAt: &past},
			want: subscription.StatusOnTrial,
		},
		{
			name: "canceled",
			sub:  subscription.Subscription{StartsAt: &longAgo, EndsAt: &future, CanceledAt: &past},
			want: subscription.StatusCanceled,
		},
		{
			name: "canceled before activation",
			sub:  subscription.Subscription{CanceledAt: &past},
			want: subscription.StatusCanceled,
		},
		{name: "active", sub: subscription.Subscription{StartsAt: &longAgo, EndsAt: &future}, want: subscription.StatusActive},
		{
			name: "in grace",
			sub:  subscription.Subscription{StartsAt: &longAgo, EndsAt: &past, Grace: period.Days(3)},
			want: subscription.StatusInGrace,
		},
		{
			name: "grace over",
			sub:  subscription.Subscription{StartsAt: &longAgo, EndsAt: &longAgo, Grace: period.Days(3)},
			want: subscription.StatusEnded,
		},
		{name: "ended", sub: subscription.Subscription{StartsAt: &longAgo, EndsAt: &now}, want: subscription.StatusEnded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.sub.StatusAt(now))
		})
	}
}

func TestSubscription_TrialDays(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.subscribe(t, f.pro)

	now := start.Add(day(4) + 6*time.Hour)
	assert.Equal(t, 4, s.TrialDaysUsedAt(now))
	assert.Equal(t, 9, s.TrialDaysRemainingAt(now))
	assert.Equal(t, 14, s.TrialDaysUsedAt(start.Add(day(30))))
	assert.Zero(t, s.TrialDaysRemainingAt(start.Add(day(30))))

	cut := s.Clone()
	cutAt := start.Add(day(2))
	cut.TrialEndsAt = &cutAt
	began, ok := cut.TrialStartedAt()
	require.True(t, ok)
	assert.Equal(t, start, began)
	assert.Equal(t, 2, cut.TrialDaysUsedAt(start.Add(day(10))))

	res, err := f.engine.Renew(context.Background(), s, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Subscription.PeriodDaysUsedAt(start))
	assert.Equal(t, 45, res.Subscription.PeriodDaysRemainingAt(start))
}
