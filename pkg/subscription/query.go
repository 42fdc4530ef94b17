package subscription

import (
	"time"

	"github.com/samber/lo"
)

// DefaultDayRange is the look-ahead of EndingTrial and EndingPeriod.
const DefaultDayRange = 3

// TimeRange is an inclusive range; a nil bound is open.
type TimeRange struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether t is set and falls inside the range.
func (r TimeRange) Contains(t *time.Time) bool {
	if t == nil {
		return false
	}
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

// Query selects subscriptions. Zero fields do not filter. It is evaluated
// in memory by Matches and translated to SQL by database stores.
type Query struct {
	Subscriber *SubscriberRef
	Tag        string
	TrialEnds  *TimeRange
	Ends       *TimeRange
	// NotCanceled keeps only subscriptions without a cancellation stamp.
	NotCanceled bool
	// PendingPaymentAt keeps subscriptions whose period ended before the
	// instant and that were not canceled by then.
	PendingPaymentAt *time.Time
	Limit            int
}

// OfSubscriber selects all subscriptions of ref.
func OfSubscriber(ref SubscriberRef) Query {
	return Query{Subscriber: &ref}
}

// EndingTrial selects trials ending within dayRange days from now.
func EndingTrial(now time.Time, dayRange int) Query {
	return Query{TrialEnds: &TimeRange{From: lo.ToPtr(now), To: lo.ToPtr(addDays(now, dayRange))}}
}

// EndedTrial selects trials that ended at or before now.
func EndedTrial(now time.Time) Query {
	return Query{TrialEnds: &TimeRange{To: lo.ToPtr(now)}}
}

// EndingPeriod selects periods ending within dayRange days from now.
func EndingPeriod(now time.Time, dayRange int) Query {
	return Query{Ends: &TimeRange{From: lo.ToPtr(now), To: lo.ToPtr(addDays(now, dayRange))}}
}

// EndedPeriod selects periods that ended at or before now.
func EndedPeriod(now time.Time) Query {
	return Query{Ends: &TimeRange{To: lo.ToPtr(now)}}
}

// PendingPayment selects subscriptions awaiting payment at the given instant.
func PendingPayment(at time.Time) Query {
	return Query{PendingPaymentAt: lo.ToPtr(at)}
}

// WithSubscriber narrows q to one subscriber.
func (q Query) WithSubscriber(ref SubscriberRef) Query {
	q.Subscriber = &ref
	return q
}

// WithTag narrows q to one subscription tag.
func (q Query) WithTag(tag string) Query {
	q.Tag = tag
	return q
}

// ExcludeCanceled drops canceled subscriptions from q.
func (q Query) ExcludeCanceled() Query {
	q.NotCanceled = true
	return q
}

// WithLimit caps the number of results. Zero means no cap.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Matches evaluates q against s.
func (q Query) Matches(s *Subscription) bool {
	if q.Subscriber != nil && s.Subscriber != *q.Subscriber {
		return false
	}
	if q.Tag != "" && s.Tag != q.Tag {
		return false
	}
	if q.TrialEnds != nil && !q.TrialEnds.Contains(s.TrialEndsAt) {
		return false
	}
	if q.Ends != nil && !q.Ends.Contains(s.EndsAt) {
		return false
	}
	if q.NotCanceled && s.CanceledAt != nil {
		return false
	}
	if at := q.PendingPaymentAt; at != nil {
		if s.CanceledAt != nil && !s.CanceledAt.After(*at) {
			return false
		}
		if s.EndsAt != nil && !s.EndsAt.Before(*at) {
			return false
		}
	}
	return true
}
