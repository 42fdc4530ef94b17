package subscription

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/subkit/pkg/period"
)

// Feature is a plan entitlement. Value is either a number (an allowance that
// can be consumed) or a flag such as "true" or "sso".
type Feature struct {
	ID          uuid.UUID
	PlanID      uuid.UUID
	Tag         string
	Name        string
	Description string
	Value       string
	// Reset is how often the usage accumulator resets. Zero never resets.
	Reset     period.Term
	SortOrder int
}

func (f Feature) Validate() error {
	if strings.TrimSpace(f.Tag) == "" {
		return errors.New("feature tag is required")
	}
	if err := f.Reset.Validate(); err != nil {
		return fmt.Errorf("feature %q reset: %w", f.Tag, err)
	}
	return nil
}

// SubscriptionFeature is a feature granted to a subscription. It owns a copy
// of the feature terms taken at grant time, so the grant survives the
// removal of the plan feature it came from.
type SubscriptionFeature struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	// FeatureID is an advisory back-reference, nil once the plan feature is gone.
	FeatureID   *uuid.UUID
	Tag         string
	Name        string
	Description string
	Value       string
	Reset       period.Term
	SortOrder   int
	// Usage is nil until the feature is consumed for the first time.
	Usage *Usage
}

// Usage is the consumption accumulator of a granted feature.
type Usage struct {
	Used int64
	// ValidUntil ends the current reset window; nil when the feature never resets.
	ValidUntil *time.Time
}

// Limit returns the numeric allowance of the feature, truncated to a whole
// number, and whether the value is numeric at all. Allowances beyond the
// int64 range are capped at math.MaxInt64; negative ones grant nothing.
func (f SubscriptionFeature) Limit() (int64, bool) {
	return numericValue(f.Value)
}

// IsMetered reports whether consumption is counted against a numeric allowance.
func (f SubscriptionFeature) IsMetered() bool {
	_, ok := f.Limit()
	return ok
}

// Used returns the stored accumulator without applying any reset.
func (f SubscriptionFeature) Used() int64 {
	if f.Usage == nil {
		return 0
	}
	return f.Usage.Used
}

// Clone returns a deep copy.
func (f SubscriptionFeature) Clone() SubscriptionFeature {
	c := f
	if f.FeatureID != nil {
		id := *f.FeatureID
		c.FeatureID = &id
	}
	if f.Usage != nil {
		u := *f.Usage
		if f.Usage.ValidUntil != nil {
			vu := *f.Usage.ValidUntil
			u.ValidUntil = &vu
		}
		c.Usage = &u
	}
	return c
}

var maxAllowance = decimal.NewFromInt(math.MaxInt64)

func numericValue(v string) (int64, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	switch d = d.Floor(); {
	case d.GreaterThan(maxAllowance):
		return math.MaxInt64, true
	case d.IsNegative():
		return 0, true
	}
	return d.IntPart(), true
}
