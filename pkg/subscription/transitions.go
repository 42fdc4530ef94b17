package subscription

import "time"

// guard vetoes a transition. It returns nil to allow it or the reason it was refused.
type guard func(s *Subscription, now time.Time) error

type transition struct {
	guards []guard
}

// lifecycle lists which operations are defined for each status, in the shape
// map[from][operation][]transition. The first transition whose guards all
// pass is taken. Target statuses are not listed: they follow from the
// timestamps the operation writes.
var lifecycle = map[Status]map[Operation][]transition{
	StatusNew: {
		OpRenew:      {{guards: []guard{notCanceled}}},
		OpCancel:     {{}},
		OpUncancel:   {{}},
		OpChangePlan: {{}},
		OpSyncPlan:   {{}},
	},
	StatusOnTrial: {
		// A trial shadows cancellation in the derived status, so renew must
		// still check the cancellation stamp itself.
		OpRenew:      {{guards: []guard{notCanceled}}},
		OpCancel:     {{}},
		OpUncancel:   {{}},
		OpChangePlan: {{}},
		OpSyncPlan:   {{}},
	},
	StatusActive: {
		OpRenew:      {{guards: []guard{notCanceled}}},
		OpCancel:     {{}},
		OpUncancel:   {{}},
		OpChangePlan: {{}},
		OpSyncPlan:   {{}},
	},
	StatusInGrace: {
		OpRenew:      {{guards: []guard{notCanceled}}},
		OpCancel:     {{}},
		OpUncancel:   {{}},
		OpChangePlan: {{}},
		OpSyncPlan:   {{}},
	},
	StatusCanceled: {
		OpCancel:     {{}},
		OpUncancel:   {{}},
		OpChangePlan: {{}},
		OpSyncPlan:   {{}},
	},
	StatusEnded: {
		OpRenew:      {{guards: []guard{notCanceled}}},
		OpUncancel:   {{}},
		OpChangePlan: {{}},
		OpSyncPlan:   {{}},
	},
}

func notCanceled(s *Subscription, _ time.Time) error {
	if s.IsCanceled() {
		return ErrSubscriptionCanceled
	}
	return nil
}

// checkTransition returns the status op starts from, or a
// *NoTransitionError / *TransitionRejectedError when op is not allowed.
func checkTransition(op Operation, s *Subscription, now time.Time) (Status, error) {
	from := s.StatusAt(now)

	candidates := lifecycle[from][op]
	if len(candidates) == 0 {
		return from, &NoTransitionError{From: from, Operation: op}
	}

	var reason error
	for _, t := range candidates {
		if reason = firstVeto(t.guards, s, now); reason == nil {
			return from, nil
		}
	}
	return from, &TransitionRejectedError{From: from, Operation: op, Reason: reason}
}

func firstVeto(guards []guard, s *Subscription, now time.Time) error {
	for _, g := range guards {
		if err := g(s, now); err != nil {
			return err
		}
	}
	return nil
}

// CanPerform reports whether op is allowed for s at now.
func CanPerform(op Operation, s *Subscription, now time.Time) bool {
	_, err := checkTransition(op, s, now)
	return err == nil
}
