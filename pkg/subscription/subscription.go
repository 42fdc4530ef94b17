package subscription

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/subkit/pkg/period"
)

// Subscription is a subscriber's membership in a plan. Its terms are copied
// from the plan when subscribing or changing plans, so later edits to the
// plan do not affect it until it is synchronized.
type Subscription struct {
	ID            uuid.UUID
	Tag           string
	Subscriber    SubscriberRef
	PlanID        uuid.UUID
	Name          string
	Description   string
	PaymentMethod string
	Price         decimal.Decimal
	Currency      string
	Tier          *int
	Trial         period.Term
	Grace         period.Term
	Invoice       period.Term

	TrialEndsAt *time.Time
	StartsAt    *time.Time
	EndsAt      *time.Time
	CancelsAt   *time.Time
	CanceledAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Features []SubscriptionFeature
}

// StatusAt derives the lifecycle status at now.
//
// Precedence: a running trial wins over everything, then cancellation, then
// a subscription that never started, then the grace window and the end of
// the period.
func (s *Subscription) StatusAt(now time.Time) Status {
	switch {
	case s.OnTrialAt(now):
		return StatusOnTrial
	case s.IsCanceled():
		return StatusCanceled
	case s.IsNew():
		return StatusNew
	case s.InGraceAt(now):
		return StatusInGrace
	case s.HasEndedAt(now):
		return StatusEnded
	default:
		return StatusActive
	}
}

// IsNew reports whether the subscription has never been activated.
func (s *Subscription) IsNew() bool {
	return s.StartsAt == nil
}

func (s *Subscription) OnTrialAt(now time.Time) bool {
	return s.TrialEndsAt != nil && now.Before(*s.TrialEndsAt)
}

func (s *Subscription) IsCanceled() bool {
	return s.CanceledAt != nil
}

// IsCancelPendingAt reports a cancellation that has not taken effect yet.
func (s *Subscription) IsCancelPendingAt(now time.Time) bool {
	return s.CanceledAt != nil && s.CancelsAt != nil && now.Before(*s.CancelsAt)
}

// HasEndedAt reports whether the paid period is over, ignoring grace.
func (s *Subscription) HasEndedAt(now time.Time) bool {
	return s.EndsAt != nil && !now.Before(*s.EndsAt)
}

// GraceEndsAt returns the end of the grace window that follows EndsAt.
func (s *Subscription) GraceEndsAt() (time.Time, bool) {
	if s.EndsAt == nil || s.Grace.IsZero() {
		return time.Time{}, false
	}
	end, err := s.Grace.After(*s.EndsAt)
	if err != nil {
		return time.Time{}, false
	}
	return end, true
}

// InGraceAt reports whether the period ended but the grace window is still open.
func (s *Subscription) InGraceAt(now time.Time) bool {
	if !s.HasEndedAt(now) {
		return false
	}
	end, ok := s.GraceEndsAt()
	return ok && now.Before(end)
}

// IsActiveAt reports whether the subscriber is entitled to the plan at now:
// on trial, active or within grace.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	switch s.StatusAt(now) {
	case StatusOnTrial, StatusActive, StatusInGrace:
		return true
	case StatusCanceled:
		return s.IsCancelPendingAt(now)
	}
	return false
}

// IsFree reports whether renewing costs nothing.
func (s *Subscription) IsFree() bool {
	return !s.Price.IsPositive()
}

// TrialStartedAt returns the instant the trial began. Trials are granted on
// creation, so the start is derived from the trial end and length but never
// precedes CreatedAt; a trial cut short by an immediate cancel keeps its
// real start.
func (s *Subscription) TrialStartedAt() (time.Time, bool) {
	if s.TrialEndsAt == nil {
		return time.Time{}, false
	}
	start, err := s.Trial.Before(*s.TrialEndsAt)
	if err != nil {
		return time.Time{}, false
	}
	if s.CreatedAt.After(start) && !s.CreatedAt.After(*s.TrialEndsAt) {
		start = s.CreatedAt
	}
	return start, true
}

// TrialDaysUsedAt returns the whole days of trial consumed by now.
func (s *Subscription) TrialDaysUsedAt(now time.Time) int {
	start, ok := s.TrialStartedAt()
	if !ok {
		return 0
	}
	end := *s.TrialEndsAt
	if now.Before(end) {
		end = now
	}
	return max(0, period.WholeDays(start, end))
}

// TrialDaysRemainingAt returns the whole days of trial left at now.
func (s *Subscription) TrialDaysRemainingAt(now time.Time) int {
	if !s.OnTrialAt(now) {
		return 0
	}
	return period.WholeDays(now, *s.TrialEndsAt)
}

// PeriodDaysUsedAt returns the whole days elapsed in the current paid period.
func (s *Subscription) PeriodDaysUsedAt(now time.Time) int {
	if s.StartsAt == nil {
		return 0
	}
	end := now
	if s.EndsAt != nil && s.EndsAt.Before(now) {
		end = *s.EndsAt
	}
	return max(0, period.WholeDays(*s.StartsAt, end))
}

// PeriodDaysRemainingAt returns the whole days left in the current paid period.
func (s *Subscription) PeriodDaysRemainingAt(now time.Time) int {
	if s.EndsAt == nil || !now.Before(*s.EndsAt) {
		return 0
	}
	return period.WholeDays(now, *s.EndsAt)
}

// Feature returns the granted feature with the given tag.
func (s *Subscription) Feature(tag string) (SubscriptionFeature, bool) {
	i := s.featureIndex(tag)
	if i < 0 {
		return SubscriptionFeature{}, false
	}
	return s.Features[i], true
}

// SetFeature replaces the granted feature with the same tag.
func (s *Subscription) SetFeature(f SubscriptionFeature) error {
	i := s.featureIndex(f.Tag)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrFeatureNotFound, f.Tag)
	}
	s.Features[i] = f
	return nil
}

func (s *Subscription) featureIndex(tag string) int {
	return slices.IndexFunc(s.Features, func(f SubscriptionFeature) bool { return f.Tag == tag })
}

// Validate checks the date invariants. Errors wrap ErrInvalidSubscription.
func (s *Subscription) Validate() error {
	var errs []error
	if s.Tag == "" {
		errs = append(errs, errors.New("tag is required"))
	}
	if s.Subscriber.IsZero() {
		errs = append(errs, errors.New("subscriber is required"))
	}
	if s.StartsAt != nil && s.EndsAt != nil && s.EndsAt.Before(*s.StartsAt) {
		errs = append(errs, errors.New("ends_at precedes starts_at"))
	}
	if s.CancelsAt != nil && s.EndsAt != nil && s.CancelsAt.After(*s.EndsAt) {
		errs = append(errs, errors.New("cancels_at is after ends_at"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidSubscription, s.Tag, errors.Join(errs...))
	}
	return nil
}

// Clone returns a deep copy, including granted features and their usage.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.Tier = clonePtr(s.Tier)
	c.TrialEndsAt = clonePtr(s.TrialEndsAt)
	c.StartsAt = clonePtr(s.StartsAt)
	c.EndsAt = clonePtr(s.EndsAt)
	c.CancelsAt = clonePtr(s.CancelsAt)
	c.CanceledAt = clonePtr(s.CanceledAt)
	c.Features = lo.Map(s.Features, func(f SubscriptionFeature, _ int) SubscriptionFeature {
		return f.Clone()
	})
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return lo.ToPtr(*p)
}
