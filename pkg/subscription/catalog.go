package subscription

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// CatalogWriter creates plan reference data. It is implemented by the
// in-memory Catalog and by database stores, and is used to seed catalogs.
type CatalogWriter interface {
	CreatePlan(ctx context.Context, p Plan) (Plan, error)
	AddCombination(ctx context.Context, c Combination) (Combination, error)
}

// Catalog is an in-memory plan catalog. It resolves plans and combinations
// and supports the administrative operations of a real store.
type Catalog struct {
	mu     sync.RWMutex
	plans  map[uuid.UUID]Plan
	tags   map[string]uuid.UUID
	combos map[string]Combination
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		plans:  make(map[uuid.UUID]Plan),
		tags:   make(map[string]uuid.UUID),
		combos: make(map[string]Combination),
	}
}

// CreatePlan validates and stores p. Missing IDs are generated.
// Fails with ErrDuplicatePlan when the tag is taken.
func (c *Catalog) CreatePlan(_ context.Context, p Plan) (Plan, error) {
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tags[p.Tag]; exists {
		return Plan{}, fmt.Errorf("%w: %q", ErrDuplicatePlan, p.Tag)
	}

	p = p.clone()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, exists := c.plans[p.ID]; exists {
		return Plan{}, fmt.Errorf("%w: id %s", ErrDuplicatePlan, p.ID)
	}
	for i := range p.Features {
		if p.Features[i].ID == uuid.Nil {
			p.Features[i].ID = uuid.New()
		}
		p.Features[i].PlanID = p.ID
	}

	c.plans[p.ID] = p
	c.tags[p.Tag] = p.ID
	return p.clone(), nil
}

// AddCombination stores a combination of an existing plan.
func (c *Catalog) AddCombination(_ context.Context, combo Combination) (Combination, error) {
	if err := combo.Validate(); err != nil {
		return Combination{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	planID := lo.Ternary(combo.PlanID != uuid.Nil, combo.PlanID, combo.Plan.ID)
	plan, ok := c.plans[planID]
	if !ok {
		return Combination{}, fmt.Errorf("%w: id %s", ErrPlanNotFound, planID)
	}
	if _, exists := c.combos[combo.Tag]; exists {
		return Combination{}, fmt.Errorf("%w: %q", ErrDuplicateCombination, combo.Tag)
	}

	if combo.ID == uuid.Nil {
		combo.ID = uuid.New()
	}
	combo.PlanID = planID
	combo.Plan = Plan{}
	c.combos[combo.Tag] = combo

	combo.Plan = plan.clone()
	return combo, nil
}

// ActivatePlan marks the plan as open for new subscriptions.
func (c *Catalog) ActivatePlan(_ context.Context, tag string) error {
	return c.setActive(tag, true)
}

// DeactivatePlan closes the plan to new subscriptions. Existing ones keep working.
func (c *Catalog) DeactivatePlan(_ context.Context, tag string) error {
	return c.setActive(tag, false)
}

func (c *Catalog) setActive(tag string, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.tags[tag]
	if !ok {
		return fmt.Errorf("%w: %q", ErrPlanNotFound, tag)
	}
	p := c.plans[id]
	p.Active = active
	c.plans[id] = p
	return nil
}

// Plans lists all plans ordered by sort order, then tag.
func (c *Catalog) Plans(_ context.Context) ([]Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p.clone())
	}
	slices.SortFunc(out, func(a, b Plan) int {
		return cmp.Or(cmp.Compare(a.SortOrder, b.SortOrder), cmp.Compare(a.Tag, b.Tag))
	})
	return out, nil
}

func (c *Catalog) Plan(_ context.Context, tag string) (Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.tags[tag]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, tag)
	}
	return c.plans[id].clone(), nil
}

func (c *Catalog) PlanByID(_ context.Context, id uuid.UUID) (Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: id %s", ErrPlanNotFound, id)
	}
	return p.clone(), nil
}

func (c *Catalog) Combination(_ context.Context, tag string) (Combination, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	combo, ok := c.combos[tag]
	if !ok {
		return Combination{}, fmt.Errorf("%w: %q", ErrCombinationNotFound, tag)
	}
	combo.Plan = c.plans[combo.PlanID].clone()
	return combo, nil
}
