package subscription

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/dmitrymomot/subkit/pkg/period"
)

// Plan is read-only reference data describing what a subscription costs,
// how it is invoiced and which features it grants.
type Plan struct {
	ID          uuid.UUID
	Tag         string
	Name        string
	Description string
	Active      bool
	Price       decimal.Decimal
	SignupFee   decimal.Decimal
	Currency    string // ISO 4217
	Tier        *int
	Trial       period.Term
	TrialMode   TrialMode
	Grace       period.Term
	Invoice     period.Term
	SortOrder   int
	Features    []Feature
}

// IsFree reports whether the plan charges nothing per period.
func (p Plan) IsFree() bool {
	return !p.Price.IsPositive()
}

func (p Plan) HasTrial() bool {
	return !p.Trial.IsZero()
}

func (p Plan) HasGrace() bool {
	return !p.Grace.IsZero()
}

// Feature returns the plan feature with the given tag.
func (p Plan) Feature(tag string) (Feature, bool) {
	i := slices.IndexFunc(p.Features, func(f Feature) bool { return f.Tag == tag })
	if i < 0 {
		return Feature{}, false
	}
	return p.Features[i], true
}

// Validate checks the plan definition. Errors wrap ErrInvalidPlan.
func (p Plan) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Tag) == "" {
		errs = append(errs, errors.New("tag is required"))
	}
	if p.Price.IsNegative() {
		errs = append(errs, errors.New("price must not be negative"))
	}
	if p.SignupFee.IsNegative() {
		errs = append(errs, errors.New("signup fee must not be negative"))
	}
	if err := validateCurrency(p.Currency); err != nil {
		errs = append(errs, err)
	}
	if err := p.Trial.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("trial: %w", err))
	}
	if p.HasTrial() && !p.TrialMode.Valid() {
		errs = append(errs, fmt.Errorf("trial mode %q must be %q or %q", p.TrialMode, TrialInside, TrialOutside))
	}
	if err := p.Grace.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("grace: %w", err))
	}
	if p.Invoice.Length < 1 {
		errs = append(errs, errors.New("invoice period must be at least 1"))
	} else if err := p.Invoice.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invoice: %w", err))
	}

	seen := make(map[string]struct{}, len(p.Features))
	for _, f := range p.Features {
		if err := f.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[f.Tag]; dup {
			errs = append(errs, fmt.Errorf("feature %q: %w", f.Tag, ErrDuplicate))
		}
		seen[f.Tag] = struct{}{}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidPlan, p.Tag, errors.Join(errs...))
	}
	return nil
}

func (p Plan) clone() Plan {
	c := p
	if p.Tier != nil {
		tier := *p.Tier
		c.Tier = &tier
	}
	c.Features = slices.Clone(p.Features)
	return c
}

// Combination overrides a plan's pricing and invoicing for a market,
// e.g. the same plan billed yearly in EUR for Germany.
type Combination struct {
	ID        uuid.UUID
	Tag       string
	PlanID    uuid.UUID
	Country   string
	Currency  string
	Price     decimal.Decimal
	SignupFee decimal.Decimal
	Invoice   period.Term

	// Plan is the parent plan, filled in by resolvers.
	Plan Plan
}

// Validate checks the combination definition. Errors wrap ErrInvalidCombination.
func (c Combination) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Tag) == "" {
		errs = append(errs, errors.New("tag is required"))
	}
	if c.PlanID == uuid.Nil && c.Plan.ID == uuid.Nil {
		errs = append(errs, errors.New("parent plan is required"))
	}
	if c.Price.IsNegative() || c.SignupFee.IsNegative() {
		errs = append(errs, errors.New("price and signup fee must not be negative"))
	}
	if err := validateCurrency(c.Currency); err != nil {
		errs = append(errs, err)
	}
	if c.Invoice.Length < 1 {
		errs = append(errs, errors.New("invoice period must be at least 1"))
	} else if err := c.Invoice.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invoice: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidCombination, c.Tag, errors.Join(errs...))
	}
	return nil
}

// Pricing is the price part of a plan change target.
type Pricing struct {
	Price     decimal.Decimal
	SignupFee decimal.Decimal
	Currency  string
}

// Target is a plan or a plan combination: anything a subscription can be
// synchronized to. Plan and Combination are the only implementations.
type Target interface {
	// BasePlan supplies plan reference, tier and grace terms.
	BasePlan() Plan
	// Pricing supplies price and currency.
	Pricing() Pricing
	// Invoicing supplies the billing cadence.
	Invoicing() period.Term

	isTarget()
}

func (p Plan) BasePlan() Plan { return p }

func (p Plan) Pricing() Pricing {
	return Pricing{Price: p.Price, SignupFee: p.SignupFee, Currency: p.Currency}
}

func (p Plan) Invoicing() period.Term { return p.Invoice }

func (Plan) isTarget() {}

func (c Combination) BasePlan() Plan { return c.Plan }

func (c Combination) Pricing() Pricing {
	return Pricing{Price: c.Price, SignupFee: c.SignupFee, Currency: c.Currency}
}

func (c Combination) Invoicing() period.Term { return c.Invoice }

func (Combination) isTarget() {}

func validateCurrency(code string) error {
	if code == "" {
		return errors.New("currency is required")
	}
	if _, err := currency.ParseISO(code); err != nil {
		return fmt.Errorf("currency %q: %w", code, err)
	}
	return nil
}
