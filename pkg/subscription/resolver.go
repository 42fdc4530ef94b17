package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subkit/pkg/cache"
)

// PlanResolver looks up read-only plan reference data.
// Missing entries are reported with ErrPlanNotFound or ErrCombinationNotFound.
type PlanResolver interface {
	Plan(ctx context.Context, tag string) (Plan, error)
	PlanByID(ctx context.Context, id uuid.UUID) (Plan, error)
	// Combination returns the combination with its parent Plan filled in.
	Combination(ctx context.Context, tag string) (Combination, error)
}

// ResolveTarget finds a plan by tag, falling back to a combination with that tag.
func ResolveTarget(ctx context.Context, r PlanResolver, tag string) (Target, error) {
	plan, err := r.Plan(ctx, tag)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	combo, err := r.Combination(ctx, tag)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errors.Join(ErrPlanNotFound, err)
		}
		return nil, err
	}
	return combo, nil
}

// CachedResolver keeps recently resolved plans and combinations in an LRU
// cache. Every lookup returns a private copy, so an operation works on one
// fixed snapshot even if the cache is refreshed meanwhile.
type CachedResolver struct {
	next   PlanResolver
	plans  *cache.LRUCache[string, Plan]
	combos *cache.LRUCache[string, Combination]
}

// NewCachedResolver wraps next with a cache of the given capacity whose
// entries expire after ttl (zero keeps them until evicted).
// Panics if next is nil.
func NewCachedResolver(next PlanResolver, capacity int, ttl time.Duration) *CachedResolver {
	if next == nil {
		panic("subscription: PlanResolver is required")
	}
	return &CachedResolver{
		next:   next,
		plans:  cache.NewLRUCache[string, Plan](capacity, cache.WithTTL(ttl)),
		combos: cache.NewLRUCache[string, Combination](capacity, cache.WithTTL(ttl)),
	}
}

func (r *CachedResolver) Plan(ctx context.Context, tag string) (Plan, error) {
	return r.plan("tag:"+tag, func() (Plan, error) { return r.next.Plan(ctx, tag) })
}

func (r *CachedResolver) PlanByID(ctx context.Context, id uuid.UUID) (Plan, error) {
	return r.plan("id:"+id.String(), func() (Plan, error) { return r.next.PlanByID(ctx, id) })
}

func (r *CachedResolver) Combination(ctx context.Context, tag string) (Combination, error) {
	c, err := r.combos.GetOrLoad(tag, func() (Combination, error) {
		return r.next.Combination(ctx, tag)
	})
	if err != nil {
		return Combination{}, err
	}
	c.Plan = c.Plan.clone()
	return c, nil
}

// Purge drops every cached entry, e.g. after the catalog was edited.
func (r *CachedResolver) Purge() {
	r.plans.Clear()
	r.combos.Clear()
}

func (r *CachedResolver) plan(key string, load func() (Plan, error)) (Plan, error) {
	if p, ok := r.plans.Get(key); ok {
		return p.clone(), nil
	}
	p, err := load()
	if err != nil {
		return Plan{}, err
	}
	r.plans.Put(key, p)
	r.plans.Put("id:"+p.ID.String(), p)
	r.plans.Put("tag:"+p.Tag, p)
	return p.clone(), nil
}
