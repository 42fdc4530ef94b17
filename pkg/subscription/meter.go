package subscription

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Grant attaches a copy of feature f to the subscription. It fails with
// ErrDuplicateGrant if a feature with the same tag is already granted.
func (e *Engine) Grant(s *Subscription, f Feature) (*Subscription, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	c := s.Clone()
	if err := grantInto(c, f); err != nil {
		return nil, err
	}
	c.UpdatedAt = e.clock.Now()
	return c, nil
}

// Consume adds amount to the feature's usage.
//
// An expired or missing usage window is reset first: the accumulator is
// zeroed and a new window of the feature's reset term starts now. For a
// numeric feature, usage that would exceed the allowance fails with a
// *UsageDeniedError and the feature is returned unchanged. A non-numeric
// feature is a pure entitlement: only the window reset applies.
func (e *Engine) Consume(f SubscriptionFeature, amount int64) (SubscriptionFeature, []Effect, error) {
	if amount < 0 {
		return f, nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}

	now := e.clock.Now()
	c := f.Clone()
	effects := refreshWindow(&c, now)

	limit, numeric := c.Limit()
	if !numeric {
		return c, effects, nil
	}

	if amount > limit-c.Usage.Used {
		return f, nil, &UsageDeniedError{
			FeatureTag: f.Tag,
			Used:       c.Usage.Used,
			Requested:  amount,
			Limit:      limit,
		}
	}

	c.Usage.Used += amount
	if c.Usage.Used >= limit {
		effects = append(effects, Effect{Kind: EffectFeatureDepleted, FeatureTag: c.Tag, At: now})
	}
	return c, effects, nil
}

// Reduce gives back amount of previously consumed usage, never going below zero.
func (e *Engine) Reduce(f SubscriptionFeature, amount int64) (SubscriptionFeature, []Effect, error) {
	if amount < 0 {
		return f, nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}

	c := f.Clone()
	effects := refreshWindow(&c, e.clock.Now())
	c.Usage.Used = max(0, c.Usage.Used-amount)
	return c, effects, nil
}

// Remaining returns how much of the allowance is left, or Unlimited for a
// non-numeric feature. An expired window counts as fully available.
func (e *Engine) Remaining(f SubscriptionFeature) int64 {
	limit, numeric := f.Limit()
	if !numeric {
		return Unlimited
	}
	return max(0, limit-e.effectiveUsed(f))
}

// CanUse reports whether amount could be consumed now without changing anything.
// Non-numeric features are usable when Enabled.
func (e *Engine) CanUse(f SubscriptionFeature, amount int64) bool {
	if amount < 0 {
		return false
	}
	limit, numeric := f.Limit()
	if !numeric {
		return Enabled(f)
	}
	return amount <= limit-e.effectiveUsed(f)
}

// UsedAt returns current usage, treating an expired window as empty.
func (e *Engine) UsedAt(f SubscriptionFeature) int64 {
	return e.effectiveUsed(f)
}

func (e *Engine) effectiveUsed(f SubscriptionFeature) int64 {
	if f.Usage == nil || windowExpired(f, e.clock.Now()) {
		return 0
	}
	return f.Usage.Used
}

// Enabled reports whether a feature grants access: a positive number, or any
// flag value other than empty or "false".
func Enabled(f SubscriptionFeature) bool {
	if limit, numeric := f.Limit(); numeric {
		return limit > 0
	}
	v := strings.TrimSpace(f.Value)
	return v != "" && !strings.EqualFold(v, "false")
}

// ResetAll zeroes usage and clears the reset window of every granted feature.
func (e *Engine) ResetAll(s *Subscription) *Subscription {
	c := s.Clone()
	resetAllUsage(c)
	c.UpdatedAt = e.clock.Now()
	return c
}

// SyncFeatures reconciles granted features with plan: missing ones are
// granted, kept ones get the plan's current terms with their usage intact,
// and ones the plan no longer offers are revoked.
func (e *Engine) SyncFeatures(s *Subscription, plan Plan) *Subscription {
	c := s.Clone()
	syncFeaturesInto(c, plan)
	c.UpdatedAt = e.clock.Now()
	return c
}

// refreshWindow makes sure f has a live usage window at now, starting a new
// one when needed.
func refreshWindow(f *SubscriptionFeature, now time.Time) []Effect {
	if f.Usage != nil && !windowExpired(*f, now) {
		return nil
	}

	var effects []Effect
	if f.Usage != nil {
		effects = append(effects, Effect{Kind: EffectUsageWindowReset, FeatureTag: f.Tag, At: now})
	}

	f.Usage = &Usage{ValidUntil: nextWindowEnd(*f, now)}
	return effects
}

// windowExpired reports whether the stored usage belongs to a past window.
// A resettable feature without a window end is treated as expired so that
// its first window starts on the next consumption.
func windowExpired(f SubscriptionFeature, now time.Time) bool {
	if f.Usage == nil {
		return true
	}
	if f.Usage.ValidUntil == nil {
		return !f.Reset.IsZero()
	}
	return !now.Before(*f.Usage.ValidUntil)
}

func nextWindowEnd(f SubscriptionFeature, now time.Time) *time.Time {
	if f.Reset.IsZero() {
		return nil
	}
	end, err := f.Reset.After(now)
	if err != nil {
		return nil
	}
	return &end
}

func grantInto(s *Subscription, f Feature) error {
	if s.featureIndex(f.Tag) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateGrant, f.Tag)
	}
	s.Features = append(s.Features, grantOf(s.ID, f))
	return nil
}

func grantOf(subscriptionID uuid.UUID, f Feature) SubscriptionFeature {
	sf := SubscriptionFeature{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		Tag:            f.Tag,
		Name:           f.Name,
		Description:    f.Description,
		Value:          f.Value,
		Reset:          f.Reset,
		SortOrder:      f.SortOrder,
	}
	if f.ID != uuid.Nil {
		sf.FeatureID = lo.ToPtr(f.ID)
	}
	return sf
}

func resetAllUsage(s *Subscription) {
	for i := range s.Features {
		if s.Features[i].Usage != nil {
			s.Features[i].Usage = &Usage{}
		}
	}
}

func syncFeaturesInto(s *Subscription, plan Plan) {
	offered := lo.SliceToMap(plan.Features, func(f Feature) (string, Feature) { return f.Tag, f })

	kept := lo.Filter(s.Features, func(sf SubscriptionFeature, _ int) bool {
		_, ok := offered[sf.Tag]
		return ok
	})

	for i := range kept {
		f := offered[kept[i].Tag]
		kept[i].FeatureID = nil
		if f.ID != uuid.Nil {
			kept[i].FeatureID = lo.ToPtr(f.ID)
		}
		kept[i].Name = f.Name
		kept[i].Description = f.Description
		kept[i].Value = f.Value
		kept[i].Reset = f.Reset
		kept[i].SortOrder = f.SortOrder
	}

	for _, f := range plan.Features {
		if !slices.ContainsFunc(kept, func(sf SubscriptionFeature) bool { return sf.Tag == f.Tag }) {
			kept = append(kept, grantOf(s.ID, f))
		}
	}

	slices.SortStableFunc(kept, func(a, b SubscriptionFeature) int { return a.SortOrder - b.SortOrder })
	s.Features = kept
}
