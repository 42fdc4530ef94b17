package payment

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
)

// Free is the name of the built-in method that never charges.
const Free = "free"

// Charger collects an amount in the given ISO 4217 currency.
// A nil error means the charge succeeded.
type Charger interface {
	Charge(ctx context.Context, amount decimal.Decimal, currency string) error
}

// ChargerFunc adapts a function to the Charger interface.
type ChargerFunc func(ctx context.Context, amount decimal.Decimal, currency string) error

func (f ChargerFunc) Charge(ctx context.Context, amount decimal.Decimal, currency string) error {
	return f(ctx, amount, currency)
}

type freeCharger struct{}

// Charge accepts any amount without collecting anything.
func (freeCharger) Charge(context.Context, decimal.Decimal, string) error {
	return nil
}

// Registry maps payment method names stored on subscriptions to chargers.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Charger
}

// NewRegistry returns a registry with the free method pre-registered.
func NewRegistry() *Registry {
	return &Registry{
		methods: map[string]Charger{Free: freeCharger{}},
	}
}

// Register adds a charger under name.
// Panics on an empty name, a nil charger or a duplicate name so wiring mistakes
// surface at startup.
func (r *Registry) Register(name string, c Charger) {
	if name == "" {
		panic("payment: method name is required")
	}
	if c == nil {
		panic("payment: charger for method " + name + " is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.methods[name]; exists {
		panic("payment: method " + name + " already registered")
	}
	r.methods[name] = c
}

// Get returns the charger registered under name.
func (r *Registry) Get(name string) (Charger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
	return c, nil
}

// Methods lists registered method names in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.methods))
}

// Charge looks up the method and charges through it. Zero and negative amounts
// are skipped without calling the charger.
func (r *Registry) Charge(ctx context.Context, method string, amount decimal.Decimal, currency string) error {
	c, err := r.Get(method)
	if err != nil {
		return err
	}
	if !amount.IsPositive() {
		return nil
	}
	if err := c.Charge(ctx, amount, currency); err != nil {
		return fmt.Errorf("%w: %s %s via %s: %w", ErrChargeFailed, amount.StringFixed(2), currency, method, err)
	}
	return nil
}
