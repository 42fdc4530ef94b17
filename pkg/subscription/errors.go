package subscription

import (
	"errors"
	"fmt"
)

// Error classes. Specific errors below wrap one of them, so callers can match
// either the class or the exact cause with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("already exists")
	ErrInvalidState  = errors.New("invalid subscription state")
	ErrConfiguration = errors.New("subscription configuration error")
	ErrUsageDenied   = errors.New("feature usage denied")
)

var (
	ErrPlanNotFound         = fmt.Errorf("subscription plan %w", ErrNotFound)
	ErrCombinationNotFound  = fmt.Errorf("plan combination %w", ErrNotFound)
	ErrSubscriptionNotFound = fmt.Errorf("subscription %w", ErrNotFound)
	ErrFeatureNotFound      = fmt.Errorf("subscription feature %w", ErrNotFound)

	ErrDuplicatePlan         = fmt.Errorf("subscription plan %w", ErrDuplicate)
	ErrDuplicateCombination  = fmt.Errorf("plan combination %w", ErrDuplicate)
	ErrDuplicateSubscription = fmt.Errorf("subscription %w", ErrDuplicate)
	ErrDuplicateGrant        = fmt.Errorf("subscription feature %w", ErrDuplicate)

	ErrSubscriptionCanceled = fmt.Errorf("%w: subscription is canceled", ErrInvalidState)
	ErrPlanInactive         = fmt.Errorf("%w: plan is not active", ErrInvalidState)
	ErrFallbackPlanMissing  = fmt.Errorf("%w: fallback plan does not exist", ErrConfiguration)
)

var (
	ErrInvalidPlan         = errors.New("invalid subscription plan")
	ErrInvalidCombination  = errors.New("invalid plan combination")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidPeriods      = errors.New("renewal periods must be at least 1")
	ErrInvalidAmount       = errors.New("usage amount must not be negative")
	ErrInvalidTarget       = errors.New("plan change target has no plan")
	ErrChargeFailed        = errors.New("subscription charge failed")
)

// NoTransitionError is returned when an operation is not defined for the
// subscription's current status.
type NoTransitionError struct {
	From      Status
	Operation Operation
}

func (e *NoTransitionError) Error() string {
	return fmt.Sprintf("no %s transition available from status '%s'", e.Operation, e.From)
}

func (e *NoTransitionError) Is(target error) bool {
	return target == ErrInvalidState
}

// TransitionRejectedError is returned when an operation is defined for the
// current status but every candidate transition was vetoed by a guard.
type TransitionRejectedError struct {
	From      Status
	Operation Operation
	Reason    error
}

func (e *TransitionRejectedError) Error() string {
	msg := fmt.Sprintf("%s from status '%s' was rejected", e.Operation, e.From)
	if e.Reason != nil {
		msg += ": " + e.Reason.Error()
	}
	return msg
}

func (e *TransitionRejectedError) Is(target error) bool {
	return target == ErrInvalidState
}

func (e *TransitionRejectedError) Unwrap() error {
	return e.Reason
}

// UsageDeniedError reports a consumption that would exceed a feature allowance.
type UsageDeniedError struct {
	FeatureTag string
	Used       int64
	Requested  int64
	Limit      int64
}

func (e *UsageDeniedError) Error() string {
	return fmt.Sprintf("feature %q usage denied: used %d + requested %d exceeds limit %d",
		e.FeatureTag, e.Used, e.Requested, e.Limit)
}

func (e *UsageDeniedError) Is(target error) bool {
	return target == ErrUsageDenied
}

// IsInvalidState reports whether err belongs to the invalid-state class.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
